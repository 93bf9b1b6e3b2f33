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

package raster

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/stat"
)

// Memory is an Engine that holds all ingested bands in RAM and
// evaluates expressions with one float64 array per expression node.
// It is suitable for scene-sized grids on a workstation; backends for
// larger-than-memory rasters can implement Engine over tiles instead.
type Memory struct {
	g *Grid

	mx    sync.RWMutex
	bands map[string][]float64
}

// NewMemory creates a new in-memory engine for grid g.
func NewMemory(g *Grid) *Memory {
	return &Memory{g: g, bands: make(map[string][]float64)}
}

// Grid returns the pixel layout the engine evaluates over.
func (m *Memory) Grid() *Grid { return m.g }

// AddBand registers the pixel values for the named band. The band
// cannot be changed after registration; re-registering a name is an
// error, as is a shape that doesn't match the grid.
func (m *Memory) AddBand(name string, data *sparse.DenseArray) error {
	if len(data.Elements) != m.g.Size() {
		return fmt.Errorf("raster: band %s has %d elements for a %d×%d grid",
			name, len(data.Elements), m.g.NY, m.g.NX)
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	if _, ok := m.bands[name]; ok {
		return fmt.Errorf("raster: band %s is already registered", name)
	}
	m.bands[name] = data.Elements
	return nil
}

// Bands returns the names of the registered bands.
func (m *Memory) Bands() []string {
	m.mx.RLock()
	defer m.mx.RUnlock()
	names := make([]string, 0, len(m.bands))
	for name := range m.bands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Materialize forces im to a concrete array with the grid's shape.
func (m *Memory) Materialize(ctx context.Context, im *Image) (*sparse.DenseArray, error) {
	v, err := m.eval(ctx, im, make(map[*Image][]float64))
	if err != nil {
		return nil, err
	}
	out := sparse.ZerosDense(m.g.NY, m.g.NX)
	copy(out.Elements, v)
	return out, nil
}

// eval computes the value of every pixel of im, memoizing shared
// subexpressions by node identity.
func (m *Memory) eval(ctx context.Context, im *Image, memo map[*Image][]float64) ([]float64, error) {
	if v, ok := memo[im]; ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := m.g.Size()
	var v []float64
	switch im.op {
	case opBand:
		m.mx.RLock()
		b, ok := m.bands[im.name]
		m.mx.RUnlock()
		if !ok {
			return nil, fmt.Errorf("raster: band %s is not registered", im.name)
		}
		v = b
	case opConst:
		v = make([]float64, n)
		for i := range v {
			v[i] = im.val
		}
	default:
		args := make([][]float64, len(im.args))
		for i, a := range im.args {
			av, err := m.eval(ctx, a, memo)
			if err != nil {
				return nil, err
			}
			args[i] = av
		}
		v = make([]float64, n)
		f := pixelFunc(im.op)
		switch len(args) {
		case 1:
			for i := range v {
				v[i] = f(args[0][i], 0, 0)
			}
		case 2:
			for i := range v {
				v[i] = f(args[0][i], args[1][i], 0)
			}
		case 3:
			for i := range v {
				v[i] = f(args[0][i], args[1][i], args[2][i])
			}
		}
	}
	memo[im] = v
	return v, nil
}

// pixelFunc returns the scalar kernel for o. Unused operands are
// ignored.
func pixelFunc(o op) func(a, b, c float64) float64 {
	switch o {
	case opAdd:
		return func(a, b, _ float64) float64 { return a + b }
	case opSub:
		return func(a, b, _ float64) float64 { return a - b }
	case opMul:
		return func(a, b, _ float64) float64 { return a * b }
	case opDiv:
		return func(a, b, _ float64) float64 { return a / b }
	case opPow:
		return func(a, b, _ float64) float64 { return math.Pow(a, b) }
	case opMin:
		return func(a, b, _ float64) float64 { return math.Min(a, b) }
	case opMax:
		return func(a, b, _ float64) float64 { return math.Max(a, b) }
	case opNeg:
		return func(a, _, _ float64) float64 { return -a }
	case opLog:
		return func(a, _, _ float64) float64 { return math.Log(a) }
	case opExp:
		return func(a, _, _ float64) float64 { return math.Exp(a) }
	case opSqrt:
		return func(a, _, _ float64) float64 { return math.Sqrt(a) }
	case opAtan:
		return func(a, _, _ float64) float64 { return math.Atan(a) }
	case opAbs:
		return func(a, _, _ float64) float64 { return math.Abs(a) }
	case opLT:
		return maskFunc(func(a, b float64) bool { return a < b })
	case opLTE:
		return maskFunc(func(a, b float64) bool { return a <= b })
	case opGT:
		return maskFunc(func(a, b float64) bool { return a > b })
	case opGTE:
		return maskFunc(func(a, b float64) bool { return a >= b })
	case opAnd:
		return maskFunc(func(a, b float64) bool { return a != 0 && b != 0 })
	case opOr:
		return maskFunc(func(a, b float64) bool { return a != 0 || b != 0 })
	case opWhere:
		return func(a, test, v float64) float64 {
			if math.IsNaN(test) {
				return math.NaN()
			}
			if test != 0 {
				return v
			}
			return a
		}
	case opUpdateMask:
		return func(a, mask, _ float64) float64 {
			if mask == 0 || math.IsNaN(mask) {
				return math.NaN()
			}
			return a
		}
	default:
		panic(fmt.Sprintf("raster: no kernel for op %v", o))
	}
}

func maskFunc(f func(a, b float64) bool) func(a, b, c float64) float64 {
	return func(a, b, _ float64) float64 {
		if math.IsNaN(a) || math.IsNaN(b) {
			return math.NaN()
		}
		if f(a, b) {
			return 1
		}
		return 0
	}
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Reduce collapses im to a scalar over all valid pixels.
func (m *Memory) Reduce(ctx context.Context, im *Image, s Stat) (float64, error) {
	v, err := m.eval(ctx, im, make(map[*Image][]float64))
	if err != nil {
		return math.NaN(), err
	}
	return reduce(v, s, nil), nil
}

// ReduceRegion is Reduce restricted to pixels whose centers lie
// within p.
func (m *Memory) ReduceRegion(ctx context.Context, im *Image, s Stat, p geom.Polygonal) (float64, error) {
	v, err := m.eval(ctx, im, make(map[*Image][]float64))
	if err != nil {
		return math.NaN(), err
	}
	include := m.regionMask(p)
	return reduce(v, s, include), nil
}

// regionMask returns a per-pixel inclusion test for p, limited to the
// rows and columns overlapping p's bounding box.
func (m *Memory) regionMask(p geom.Polygonal) func(i int) bool {
	g := m.g
	b := p.Bounds()
	c1 := clampIndex(int(math.Floor((b.Min.X-g.X0)/g.DX)), g.NX)
	c2 := clampIndex(int(math.Ceil((b.Max.X-g.X0)/g.DX)), g.NX)
	// DY is negative, so the maximum Y maps to the smallest row.
	r1 := clampIndex(int(math.Floor((b.Max.Y-g.Y0)/g.DY)), g.NY)
	r2 := clampIndex(int(math.Ceil((b.Min.Y-g.Y0)/g.DY)), g.NY)
	return func(i int) bool {
		row, col := i/g.NX, i%g.NX
		if row < r1 || row > r2 || col < c1 || col > c2 {
			return false
		}
		return g.CellCenter(row, col).Within(p) != geom.Outside
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func reduce(v []float64, s Stat, include func(i int) bool) float64 {
	var sum float64
	var count int
	min, max := math.Inf(1), math.Inf(-1)
	for i, x := range v {
		if !valid(x) || (include != nil && !include(i)) {
			continue
		}
		count++
		sum += x
		min = math.Min(min, x)
		max = math.Max(max, x)
	}
	switch s {
	case Count:
		return float64(count)
	case Min:
		if count == 0 {
			return math.NaN()
		}
		return min
	case Max:
		if count == 0 {
			return math.NaN()
		}
		return max
	case Mean:
		if count == 0 {
			return math.NaN()
		}
		return sum / float64(count)
	default:
		return math.NaN()
	}
}

// Percentile returns the pth percentile (0–100) of the valid pixels
// of im.
func (m *Memory) Percentile(ctx context.Context, im *Image, p float64) (float64, error) {
	v, err := m.eval(ctx, im, make(map[*Image][]float64))
	if err != nil {
		return math.NaN(), err
	}
	vals := make([]float64, 0, len(v))
	for _, x := range v {
		if valid(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return math.NaN(), nil
	}
	sort.Float64s(vals)
	return stat.Quantile(p/100, stat.Empirical, vals, nil), nil
}

// Extremum returns the location and value of the minimum or maximum
// valid pixel of im.
func (m *Memory) Extremum(ctx context.Context, im *Image, s Stat) (Sample, error) {
	if s != Min && s != Max {
		return Sample{}, fmt.Errorf("raster: extremum statistic must be min or max, not %v", s)
	}
	v, err := m.eval(ctx, im, make(map[*Image][]float64))
	if err != nil {
		return Sample{}, err
	}
	best := Sample{Value: math.NaN(), Row: -1, Col: -1}
	for i, x := range v {
		if !valid(x) {
			continue
		}
		if math.IsNaN(best.Value) || (s == Min && x < best.Value) || (s == Max && x > best.Value) {
			best = Sample{Value: x, Row: i / m.g.NX, Col: i % m.g.NX}
		}
	}
	return best, nil
}

// Sample evaluates im at a single pixel.
func (m *Memory) Sample(ctx context.Context, im *Image, row, col int) (float64, error) {
	if row < 0 || row >= m.g.NY || col < 0 || col >= m.g.NX {
		return math.NaN(), fmt.Errorf("raster: pixel (%d, %d) is outside the %d×%d grid",
			row, col, m.g.NY, m.g.NX)
	}
	v, err := m.evalAt(ctx, im, row*m.g.NX+col, make(map[*Image]float64))
	if err != nil {
		return math.NaN(), err
	}
	return v, nil
}

// evalAt evaluates im at a single pixel index without materializing
// whole arrays.
func (m *Memory) evalAt(ctx context.Context, im *Image, i int, memo map[*Image]float64) (float64, error) {
	if v, ok := memo[im]; ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return math.NaN(), err
	}
	var v float64
	switch im.op {
	case opBand:
		m.mx.RLock()
		b, ok := m.bands[im.name]
		m.mx.RUnlock()
		if !ok {
			return math.NaN(), fmt.Errorf("raster: band %s is not registered", im.name)
		}
		v = b[i]
	case opConst:
		v = im.val
	default:
		var args [3]float64
		for j, a := range im.args {
			av, err := m.evalAt(ctx, a, i, memo)
			if err != nil {
				return math.NaN(), err
			}
			args[j] = av
		}
		v = pixelFunc(im.op)(args[0], args[1], args[2])
	}
	memo[im] = v
	return v, nil
}
