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

// Package raster provides lazy raster expressions and the engines that
// evaluate them. An expression (Image) carries no pixel data of its own;
// it is a description of per-pixel arithmetic over leaf bands. Engines
// force expressions to concrete values on demand, either over the whole
// grid (Materialize) or collapsed to scalars (Reduce, Percentile,
// Extremum, Sample). Invalid pixels are represented as NaN and propagate
// through all operations without triggering errors.
package raster

import (
	"context"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
)

// Grid describes the pixel layout of a scene: its dimensions, the affine
// transform placing pixel (0,0) in projected coordinates, and the spatial
// reference the coordinates are in.
type Grid struct {
	// NY and NX are the number of rows and columns.
	NY, NX int

	// X0 and Y0 are the projected coordinates of the north-west corner
	// of pixel (row 0, column 0).
	X0, Y0 float64

	// DX and DY are the pixel sizes in the units of SR. DY is negative
	// for north-up rasters.
	DX, DY float64

	// SR is the spatial reference of the grid coordinates.
	SR *proj.SR
}

// Size returns the number of pixels in the grid.
func (g *Grid) Size() int { return g.NY * g.NX }

// CellCenter returns the projected coordinates of the center of the
// pixel at the given row and column.
func (g *Grid) CellCenter(row, col int) geom.Point {
	return geom.Point{
		X: g.X0 + (float64(col)+0.5)*g.DX,
		Y: g.Y0 + (float64(row)+0.5)*g.DY,
	}
}

// CellPolygon returns the outline of the pixel at the given row and
// column.
func (g *Grid) CellPolygon(row, col int) geom.Polygon {
	x1 := g.X0 + float64(col)*g.DX
	x2 := x1 + g.DX
	y1 := g.Y0 + float64(row)*g.DY
	y2 := y1 + g.DY
	return geom.Polygon{{
		{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2},
	}}
}

// Bounds returns the outer bounds of the grid.
func (g *Grid) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	b.Extend(g.CellPolygon(0, 0).Bounds())
	b.Extend(g.CellPolygon(g.NY-1, g.NX-1).Bounds())
	return b
}

// Stat specifies how Reduce collapses the valid pixels of an expression
// to a single number.
type Stat int

const (
	// Min is the smallest valid pixel value.
	Min Stat = iota
	// Max is the largest valid pixel value.
	Max
	// Mean is the arithmetic mean of the valid pixel values.
	Mean
	// Count is the number of valid pixels.
	Count
)

func (s Stat) String() string {
	switch s {
	case Min:
		return "min"
	case Max:
		return "max"
	case Mean:
		return "mean"
	case Count:
		return "count"
	default:
		return "unknown"
	}
}

// A Sample is the value of an expression at one pixel together with the
// pixel's location.
type Sample struct {
	Value    float64
	Row, Col int
}

// Engine evaluates lazy raster expressions over a grid. Implementations
// may be backed by in-memory arrays, tiled files, or a remote compute
// service; callers are expected to program against this interface rather
// than a concrete backend. Reductions treat non-finite pixels as invalid
// and skip them; Materialize passes them through unchanged.
type Engine interface {
	// Grid returns the pixel layout the engine evaluates over.
	Grid() *Grid

	// Materialize forces im to a concrete array with the grid's shape
	// (rows, columns).
	Materialize(ctx context.Context, im *Image) (*sparse.DenseArray, error)

	// Reduce collapses im to a scalar over all valid pixels. If no pixel
	// is valid the result is NaN (except Count, which is 0).
	Reduce(ctx context.Context, im *Image, s Stat) (float64, error)

	// ReduceRegion is Reduce restricted to pixels whose centers lie
	// within p.
	ReduceRegion(ctx context.Context, im *Image, s Stat, p geom.Polygonal) (float64, error)

	// Percentile returns the pth percentile (0–100) of the valid pixels
	// of im, or NaN if no pixel is valid.
	Percentile(ctx context.Context, im *Image, p float64) (float64, error)

	// Extremum returns the location and value of the minimum (s == Min)
	// or maximum (s == Max) valid pixel of im. If no pixel is valid,
	// the returned sample value is NaN and the location is (-1, -1).
	Extremum(ctx context.Context, im *Image, s Stat) (Sample, error)

	// Sample evaluates im at a single pixel.
	Sample(ctx context.Context, im *Image, row, col int) (float64, error)
}

// BandAdder is implemented by engines that accept band registration at
// ingestion time. Engines backed by pre-existing datasets need not
// implement it.
type BandAdder interface {
	AddBand(name string, data *sparse.DenseArray) error
}
