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
	"math"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

const testTolerance = 1.e-8

// testGrid returns a 2×3 grid with 30 m pixels.
func testGrid() *Grid {
	return &Grid{NY: 2, NX: 3, X0: 500000, Y0: 4000000, DX: 30, DY: -30}
}

func testEngine(t *testing.T, bands map[string][]float64) *Memory {
	t.Helper()
	g := testGrid()
	e := NewMemory(g)
	for name, v := range bands {
		d := sparse.ZerosDense(g.NY, g.NX)
		copy(d.Elements, v)
		if err := e.AddBand(name, d); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func TestGridGeometry(t *testing.T) {
	g := testGrid()
	if g.Size() != 6 {
		t.Errorf("size: %d", g.Size())
	}
	p := g.CellCenter(0, 0)
	if absDifferent(p.X, 500015, testTolerance) || absDifferent(p.Y, 3999985, testTolerance) {
		t.Errorf("cell center: %+v", p)
	}
	b := g.Bounds()
	if absDifferent(b.Min.X, 500000, testTolerance) || absDifferent(b.Max.X, 500090, testTolerance) ||
		absDifferent(b.Min.Y, 3999940, testTolerance) || absDifferent(b.Max.Y, 4000000, testTolerance) {
		t.Errorf("bounds: %+v", b)
	}
}

func TestMaterialize(t *testing.T) {
	e := testEngine(t, map[string][]float64{
		"red": {0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
		"nir": {0.5, 0.4, 0.3, 0.2, 0.1, 0.6},
	})
	red, nir := Band("red"), Band("nir")
	ndvi := nir.Sub(red).Div(nir.Add(red))
	v, err := e.Materialize(context.Background(), ndvi)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{4. / 6, 2. / 6, 0, -2. / 6, -4. / 6, 0}
	for i, w := range want {
		if absDifferent(v.Elements[i], w, testTolerance) {
			t.Errorf("pixel %d: got %g, want %g", i, v.Elements[i], w)
		}
	}
}

func TestMaterializeMissingBand(t *testing.T) {
	e := testEngine(t, nil)
	_, err := e.Materialize(context.Background(), Band("nope"))
	if err == nil {
		t.Fatal("expected an error for an unregistered band")
	}
}

func TestAddBandTwice(t *testing.T) {
	e := testEngine(t, map[string][]float64{"b": {1, 2, 3, 4, 5, 6}})
	if err := e.AddBand("b", sparse.ZerosDense(2, 3)); err == nil {
		t.Fatal("expected an error when re-registering a band")
	}
}

func TestMaskPropagation(t *testing.T) {
	nan := math.NaN()
	e := testEngine(t, map[string][]float64{
		"v":    {1, 2, nan, 4, 5, 6},
		"mask": {1, 0, 1, 1, nan, 1},
	})
	masked := Band("v").UpdateMask(Band("mask"))
	v, err := e.Materialize(context.Background(), masked.Add(Const(1)))
	if err != nil {
		t.Fatal(err)
	}
	wantValid := []bool{true, false, false, true, false, true}
	for i, w := range wantValid {
		if got := !math.IsNaN(v.Elements[i]); got != w {
			t.Errorf("pixel %d: valid=%v, want %v", i, got, w)
		}
	}
	count, err := e.Reduce(context.Background(), masked, Count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count: got %g, want 3", count)
	}
}

func TestWhere(t *testing.T) {
	e := testEngine(t, map[string][]float64{
		"ndvi": {-0.2, 0.1, 0.5, 0.8, -0.1, 0.3},
	})
	ndvi := Band("ndvi")
	// Force a fixed value over water (negative NDVI).
	em := Const(0.95).Where(ndvi.Lt(Const(0)), Const(0.985))
	v, err := e.Materialize(context.Background(), em)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.985, 0.95, 0.95, 0.95, 0.985, 0.95}
	for i, w := range want {
		if absDifferent(v.Elements[i], w, testTolerance) {
			t.Errorf("pixel %d: got %g, want %g", i, v.Elements[i], w)
		}
	}
}

func TestReduce(t *testing.T) {
	nan := math.NaN()
	e := testEngine(t, map[string][]float64{
		"v": {3, 1, 4, 1, 5, nan},
	})
	ctx := context.Background()
	im := Band("v")
	cases := []struct {
		s    Stat
		want float64
	}{
		{Min, 1}, {Max, 5}, {Mean, 14. / 5}, {Count, 5},
	}
	for _, c := range cases {
		got, err := e.Reduce(ctx, im, c.s)
		if err != nil {
			t.Fatal(err)
		}
		if absDifferent(got, c.want, testTolerance) {
			t.Errorf("%v: got %g, want %g", c.s, got, c.want)
		}
	}
	pct, err := e.Percentile(ctx, im, 50)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(pct, 3, testTolerance) {
		t.Errorf("median: got %g, want 3", pct)
	}
}

func TestReduceEmpty(t *testing.T) {
	nan := math.NaN()
	e := testEngine(t, map[string][]float64{
		"v": {nan, nan, nan, nan, nan, nan},
	})
	ctx := context.Background()
	for _, s := range []Stat{Min, Max, Mean} {
		got, err := e.Reduce(ctx, Band("v"), s)
		if err != nil {
			t.Fatal(err)
		}
		if !math.IsNaN(got) {
			t.Errorf("%v of all-invalid image: got %g, want NaN", s, got)
		}
	}
	count, err := e.Reduce(ctx, Band("v"), Count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count: got %g, want 0", count)
	}
	p, err := e.Percentile(ctx, Band("v"), 20)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(p) {
		t.Errorf("percentile of all-invalid image: got %g, want NaN", p)
	}
}

func TestExtremum(t *testing.T) {
	nan := math.NaN()
	e := testEngine(t, map[string][]float64{
		"v": {3, 1, 4, nan, 5, 2},
	})
	ctx := context.Background()
	lo, err := e.Extremum(ctx, Band("v"), Min)
	if err != nil {
		t.Fatal(err)
	}
	if lo.Value != 1 || lo.Row != 0 || lo.Col != 1 {
		t.Errorf("min: %+v", lo)
	}
	hi, err := e.Extremum(ctx, Band("v"), Max)
	if err != nil {
		t.Fatal(err)
	}
	if hi.Value != 5 || hi.Row != 1 || hi.Col != 1 {
		t.Errorf("max: %+v", hi)
	}
}

func TestExtremumEmpty(t *testing.T) {
	nan := math.NaN()
	e := testEngine(t, map[string][]float64{
		"v": {nan, nan, nan, nan, nan, nan},
	})
	s, err := e.Extremum(context.Background(), Band("v"), Max)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(s.Value) || s.Row != -1 || s.Col != -1 {
		t.Errorf("extremum of all-invalid image: %+v", s)
	}
}

func TestReduceRegion(t *testing.T) {
	e := testEngine(t, map[string][]float64{
		"v": {1, 2, 3, 4, 5, 6},
	})
	// Cover only the left two columns.
	g := testGrid()
	region := geom.Polygon{{
		{X: g.X0, Y: g.Y0},
		{X: g.X0 + 2*g.DX, Y: g.Y0},
		{X: g.X0 + 2*g.DX, Y: g.Y0 + 2*g.DY},
		{X: g.X0, Y: g.Y0 + 2*g.DY},
	}}
	mean, err := e.ReduceRegion(context.Background(), Band("v"), Mean, region)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(mean, 3, testTolerance) { // (1+2+4+5)/4
		t.Errorf("region mean: got %g, want 3", mean)
	}
}

func TestSampleMatchesMaterialize(t *testing.T) {
	e := testEngine(t, map[string][]float64{
		"a": {1, 2, 3, 4, 5, 6},
		"b": {6, 5, 4, 3, 2, 1},
	})
	im := Band("a").Mul(Band("b")).Add(Band("a").Pow(Const(2))).Log()
	ctx := context.Background()
	full, err := e.Materialize(ctx, im)
	if err != nil {
		t.Fatal(err)
	}
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			v, err := e.Sample(ctx, im, row, col)
			if err != nil {
				t.Fatal(err)
			}
			if absDifferent(v, full.Get(row, col), testTolerance) {
				t.Errorf("(%d, %d): sample %g != materialized %g", row, col, v, full.Get(row, col))
			}
		}
	}
	if _, err := e.Sample(ctx, im, 5, 0); err == nil {
		t.Error("expected an error sampling outside the grid")
	}
}

func TestSignatureSharing(t *testing.T) {
	a := Band("a")
	shared := a.Add(Const(1))
	im := shared.Mul(shared)
	sig := im.Signature()
	if n := strings.Count(sig, "add"); n != 1 {
		t.Errorf("shared node should appear once in %q", sig)
	}
	if !strings.Contains(sig, "#") {
		t.Errorf("signature should back-reference the shared node: %q", sig)
	}
	if im.Signature() != sig {
		t.Error("signature is not stable")
	}
	other := a.Add(Const(2)).Mul(a.Add(Const(2)))
	if other.Signature() == sig {
		t.Error("different expressions should have different signatures")
	}
}

// countingEngine counts how often expressions are actually evaluated.
type countingEngine struct {
	*Memory
	materializations int
}

func (c *countingEngine) Materialize(ctx context.Context, im *Image) (*sparse.DenseArray, error) {
	c.materializations++
	return c.Memory.Materialize(ctx, im)
}

func TestCachedEngine(t *testing.T) {
	inner := &countingEngine{Memory: testEngine(t, map[string][]float64{
		"v": {1, 2, 3, 4, 5, 6},
	})}
	c, err := NewCached(inner, 1, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	im := Band("v").Mul(Const(2))
	first, err := c.Materialize(ctx, im)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Materialize(ctx, im)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first.Elements {
		if absDifferent(first.Elements[i], second.Elements[i], testTolerance) {
			t.Errorf("pixel %d: %g != %g", i, first.Elements[i], second.Elements[i])
		}
	}
	if inner.materializations != 1 {
		t.Errorf("inner engine evaluated %d times, want 1", inner.materializations)
	}
	// The caller owns the result; mutations must not leak into the cache.
	first.Elements[0] = -999
	third, err := c.Materialize(ctx, im)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(third.Elements[0], 2, testTolerance) {
		t.Errorf("cache was poisoned: got %g, want 2", third.Elements[0])
	}
	mean, err := c.Reduce(ctx, im, Mean)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(mean, 7, testTolerance) {
		t.Errorf("cached mean: got %g, want 7", mean)
	}
}

func TestCachedEngineDisk(t *testing.T) {
	e := testEngine(t, map[string][]float64{
		"v": {1, 2, 3, 4, 5, 6},
	})
	c, err := NewCached(e, 1, 10, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	im := Band("v").Add(Const(1))
	v, err := c.Materialize(ctx, im)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(v.Get(1, 2), 7, testTolerance) {
		t.Errorf("disk-cached materialization: got %g, want 7", v.Get(1, 2))
	}
	s, err := c.Extremum(ctx, im, Max)
	if err != nil {
		t.Fatal(err)
	}
	if s.Value != 7 || s.Row != 1 || s.Col != 2 {
		t.Errorf("disk-cached extremum: %+v", s)
	}
}

func absDifferent(a, b, tolerance float64) bool {
	if math.Abs(a-b) > tolerance {
		return true
	}
	return false
}
