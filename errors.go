/*
Copyright © 2025 the SEBAL authors.
This file is part of SEBAL.

SEBAL is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SEBAL is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SEBAL.  If not, see <http://www.gnu.org/licenses/>.
*/

package sebal

import (
	"errors"
	"fmt"
)

// ErrUnsupportedSensor is returned during ingestion when a scene
// reports a spacecraft identifier outside the supported Landsat
// generations. The scene is rejected before any computation.
var ErrUnsupportedSensor = errors.New("sebal: unsupported sensor")

// ErrNoValidScenes is returned by a Collection when every scene was
// rejected, so the aggregate result would be empty.
var ErrNoValidScenes = errors.New("sebal: no scene produced a valid result")

// A SceneError wraps an error that caused one scene to be rejected.
// Scene rejection is not fatal to a Collection run; the runner logs
// the error and continues with the remaining scenes.
type SceneError struct {
	SceneID string
	Err     error
}

func (e *SceneError) Error() string {
	return fmt.Sprintf("sebal: scene %s: %v", e.SceneID, e.Err)
}

func (e *SceneError) Unwrap() error { return e.Err }

// A SelectionError means anchor pixel selection failed: either the
// candidate set for the given role was empty (for example in a fully
// cloud-masked scene) or the selected anchors were physically
// inconsistent.
type SelectionError struct {
	// Role is "cold" or "hot".
	Role string
	// Reason describes what went wrong.
	Reason string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("sebal: selecting %s anchor pixel: %s", e.Role, e.Reason)
}

// A NumericalError means an intermediate quantity became degenerate
// during the energy-balance calculation: a singular calibration
// system, a vanishing aerodynamic resistance, or a non-finite field.
type NumericalError struct {
	// Op is the calculation that failed.
	Op string
	// Reason describes the degeneracy.
	Reason string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("sebal: %s: %s", e.Op, e.Reason)
}
