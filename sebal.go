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

// Package sebal estimates daily evapotranspiration from Landsat imagery
// with the Surface Energy Balance Algorithm for Land (SEBAL;
// Bastiaanssen et al. 1998), as automated by Laipelt et al. (2021).
// For every scene it closes the energy balance Rn = G + H + LE per
// pixel, calibrating the sensible heat flux with automatically selected
// hot and cold anchor pixels and a Monin-Obukhov-corrected iterative
// solution, and scales the instantaneous latent heat flux to a daily ET
// depth by the constant evaporative fraction assumption.
package sebal

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/sebal/raster"
)

// Version gives the version number.
const Version = "1.0.0"

// discardLog swallows status messages for scenes without a logger.
var discardLog = func() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}()

// Names of the raster fields registered during ingestion. Reflectance
// bands hold surface reflectance [-], Thermal holds brightness
// temperature [K], CloudMask is 1 where the pixel is clear, and
// Elevation holds terrain height [m].
const (
	UltraBlue = "ultrablue"
	Blue      = "blue"
	Green     = "green"
	Red       = "red"
	NIR       = "nir"
	SWIR1     = "swir1"
	SWIR2     = "swir2"
	Thermal   = "thermal"
	CloudMask = "cloudmask"
	Elevation = "elevation"
)

// Names of the raster fields appended by the calculation steps.
const (
	NDVI         = "NDVI"    // normalized difference vegetation index [-]
	SAVI         = "SAVI"    // soil-adjusted vegetation index [-]
	LAI          = "LAI"     // leaf area index [m² m⁻²]
	EmissivityNB = "e_NB"    // narrow-band surface emissivity [-]
	Emissivity   = "e_0"     // broadband surface emissivity [-]
	Albedo       = "albedo"  // broadband surface albedo [-]
	LST          = "LST"     // land surface temperature [K]
	LSTDEM       = "LST_DEM" // LST corrected to a common elevation [K]
	ShortIn      = "Rs_down" // incoming short-wave radiation [W m⁻²]
	LongOut      = "Rl_up"   // outgoing long-wave radiation [W m⁻²]
	LongIn       = "Rl_down" // incoming long-wave radiation [W m⁻²]
	NetRadiation = "Rn"      // net radiation [W m⁻²]
	SoilHeat     = "G"       // soil heat flux [W m⁻²]
	Roughness    = "zom"     // momentum roughness length [m]
	SensibleHeat = "H"       // sensible heat flux [W m⁻²]
	LatentHeat   = "LE"      // latent heat flux [W m⁻²]
	EvapFraction = "EF"      // evaporative fraction [-]
	ET24         = "ET_24h"  // daily evapotranspiration [mm day⁻¹]
)

// SceneManipulator is a class of functions that operate on an entire
// scene, appending raster fields or anchors to it.
type SceneManipulator func(s *Scene) error

// Scene is the processing state for one satellite overpass: the
// ingestion metadata, the per-scene meteorology, an append-only arena
// of named lazy raster fields, and the ordered calculation steps that
// fill the arena. Ingestion metadata is immutable once the scene is
// created, and a raster field is immutable once appended; calculation
// steps derive new fields from existing ones, so a scene can be
// re-processed from its inputs at any time with identical results.
type Scene struct {
	// ID identifies the scene, typically the Landsat product
	// identifier.
	ID string

	// Sensor is the Landsat generation that acquired the scene.
	Sensor Sensor

	// Time is the acquisition time.
	Time time.Time

	// SunElevation is the solar elevation angle at acquisition
	// [degrees].
	SunElevation float64

	// CloudCover is the scene cloud-cover fraction reported by the
	// provider [percent].
	CloudCover float64

	// Region is the region of interest the scene was ingested for.
	Region geom.Polygonal

	// Proj is the spatial reference definition of the scene grid
	// kept verbatim for output sidecar files. It may be empty.
	Proj string

	// Met holds the per-scene meteorological aggregates.
	Met Meteorology

	// InitFuncs are run once, in order, before the calculation starts.
	// They are responsible for registering the ingested bands.
	InitFuncs []SceneManipulator

	// RunFuncs are the successive steps of the energy-balance
	// calculation, run once each, in order.
	RunFuncs []SceneManipulator

	// Log is the logger for status messages. If it is nil, messages
	// are discarded.
	Log logrus.FieldLogger

	engine raster.Engine
	ctx    context.Context

	mx      sync.RWMutex
	fields  map[string]*raster.Image
	order   []string
	anchors map[AnchorRole]*Anchor
}

// Init runs the scene's InitFuncs.
func (s *Scene) Init() error {
	for _, f := range s.InitFuncs {
		if err := f(s); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the scene's RunFuncs in order. Unlike a time-stepping
// model there is no outer loop here: each step runs exactly once, and
// any iteration (such as the sensible heat flux solution) happens
// inside the step that needs it.
func (s *Scene) Run() error {
	for _, f := range s.RunFuncs {
		if err := f(s); err != nil {
			return err
		}
	}
	return nil
}

// Engine returns the raster engine the scene's expressions are
// evaluated by.
func (s *Scene) Engine() raster.Engine { return s.engine }

// Context returns the context the scene is being processed under.
func (s *Scene) Context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Set appends the named raster field to the scene. Appending a name
// that already exists is an error: fields are immutable once created.
func (s *Scene) Set(name string, im *raster.Image) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, ok := s.fields[name]; ok {
		return fmt.Errorf("sebal: field %s already exists in scene %s", name, s.ID)
	}
	if s.fields == nil {
		s.fields = make(map[string]*raster.Image)
	}
	s.fields[name] = im
	s.order = append(s.order, name)
	return nil
}

// Field returns the named raster field.
func (s *Scene) Field(name string) (*raster.Image, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	im, ok := s.fields[name]
	if !ok {
		return nil, fmt.Errorf("sebal: scene %s has no field %s", s.ID, name)
	}
	return im, nil
}

// Has reports whether the scene has the named raster field.
func (s *Scene) Has(name string) bool {
	s.mx.RLock()
	defer s.mx.RUnlock()
	_, ok := s.fields[name]
	return ok
}

// Fields returns the names of the scene's raster fields in the order
// they were appended.
func (s *Scene) Fields() []string {
	s.mx.RLock()
	defer s.mx.RUnlock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// SetAnchor records an anchor pixel. Each role can be set only once
// per scene.
func (s *Scene) SetAnchor(a *Anchor) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, ok := s.anchors[a.Role]; ok {
		return fmt.Errorf("sebal: %s anchor already set in scene %s", a.Role, s.ID)
	}
	if s.anchors == nil {
		s.anchors = make(map[AnchorRole]*Anchor)
	}
	s.anchors[a.Role] = a
	return nil
}

// Anchor returns the anchor pixel with the given role.
func (s *Scene) Anchor(role AnchorRole) (*Anchor, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	a, ok := s.anchors[role]
	if !ok {
		return nil, fmt.Errorf("sebal: scene %s has no %s anchor", s.ID, role)
	}
	return a, nil
}

// logger returns the scene's logger with the scene ID attached.
func (s *Scene) logger() logrus.FieldLogger {
	if s.Log == nil {
		return discardLog
	}
	return s.Log.WithField("scene", s.ID)
}
