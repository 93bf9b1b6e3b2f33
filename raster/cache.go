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
	"encoding/gob"
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/requestcache"
	"github.com/ctessum/sparse"

	"github.com/spatialmodel/sebal/internal/hash"
)

func init() {
	gob.Register(&cacheResult{})
	gob.Register(geom.Polygon{})
	gob.Register(geom.MultiPolygon{})
}

// Cached is an Engine that memoizes the results of another Engine in a
// requestcache.Cache, deduplicating concurrent identical requests and
// optionally persisting results to a local directory. Cache keys are
// derived from expression signatures, so two scenes that build
// structurally identical expressions over identically named bands must
// not share one Cached instance.
type Cached struct {
	engine Engine
	cache  *requestcache.Cache
}

type cacheKind int

const (
	cacheMaterialize cacheKind = iota
	cacheReduce
	cacheReduceRegion
	cachePercentile
	cacheExtremum
	cacheSample
)

type cacheRequest struct {
	kind     cacheKind
	im       *Image
	stat     Stat
	pct      float64
	row, col int
	region   geom.Polygonal
}

type cacheResult struct {
	Array  *sparse.DenseArray
	Scalar float64
	Sample Sample
}

// NewCached wraps engine in a cache with the given number of worker
// goroutines and in-memory result slots. cacheLoc selects the
// persistent layer: empty for memory-only caching, or a local
// directory for a gob-encoded disk layer.
func NewCached(engine Engine, workers, memCacheSize int, cacheLoc string) (*Cached, error) {
	c := &Cached{engine: engine}
	process := func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(*cacheRequest)
		r := new(cacheResult)
		var err error
		switch req.kind {
		case cacheMaterialize:
			r.Array, err = engine.Materialize(ctx, req.im)
		case cacheReduce:
			r.Scalar, err = engine.Reduce(ctx, req.im, req.stat)
		case cacheReduceRegion:
			r.Scalar, err = engine.ReduceRegion(ctx, req.im, req.stat, req.region)
		case cachePercentile:
			r.Scalar, err = engine.Percentile(ctx, req.im, req.pct)
		case cacheExtremum:
			r.Sample, err = engine.Extremum(ctx, req.im, req.stat)
		case cacheSample:
			r.Scalar, err = engine.Sample(ctx, req.im, req.row, req.col)
		}
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	cache, err := newCache(process, workers, memCacheSize, cacheLoc)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// newCache assembles the cache layers for the given location.
func newCache(process requestcache.ProcessFunc, workers, memCacheSize int, cacheLoc string) (*requestcache.Cache, error) {
	if cacheLoc == "" {
		return requestcache.NewCache(process, workers, requestcache.Deduplicate(),
			requestcache.Memory(memCacheSize)), nil
	}
	return requestcache.NewCache(process, workers, requestcache.Deduplicate(),
		requestcache.Memory(memCacheSize),
		requestcache.Disk(cacheLoc, requestcache.MarshalGob, requestcache.UnmarshalGob)), nil
}

func (c *Cached) result(ctx context.Context, req *cacheRequest, key string) (*cacheResult, error) {
	r := c.cache.NewRequest(ctx, req, key)
	result, err := r.Result()
	if err != nil {
		return nil, err
	}
	res := result.(*cacheResult)
	if res.Array != nil {
		// Restore unexported fields after a gob round trip.
		res.Array.Fix()
	}
	return res, nil
}

// Grid returns the pixel layout of the wrapped engine.
func (c *Cached) Grid() *Grid { return c.engine.Grid() }

// Materialize forces im to a concrete array. The returned array is a
// copy owned by the caller; mutating it does not poison the cache.
func (c *Cached) Materialize(ctx context.Context, im *Image) (*sparse.DenseArray, error) {
	key := "materialize_" + hash.Hash(im.Signature())
	r, err := c.result(ctx, &cacheRequest{kind: cacheMaterialize, im: im}, key)
	if err != nil {
		return nil, err
	}
	out := sparse.ZerosDense(r.Array.Shape...)
	copy(out.Elements, r.Array.Elements)
	return out, nil
}

// Reduce collapses im to a scalar over all valid pixels.
func (c *Cached) Reduce(ctx context.Context, im *Image, s Stat) (float64, error) {
	key := fmt.Sprintf("reduce_%v_%s", s, hash.Hash(im.Signature()))
	r, err := c.result(ctx, &cacheRequest{kind: cacheReduce, im: im, stat: s}, key)
	if err != nil {
		return 0, err
	}
	return r.Scalar, nil
}

// ReduceRegion is Reduce restricted to pixels whose centers lie
// within p.
func (c *Cached) ReduceRegion(ctx context.Context, im *Image, s Stat, p geom.Polygonal) (float64, error) {
	key := fmt.Sprintf("reduceregion_%v_%s_%s", s, hash.Hash(im.Signature()), hash.Hash(p))
	r, err := c.result(ctx, &cacheRequest{kind: cacheReduceRegion, im: im, stat: s, region: p}, key)
	if err != nil {
		return 0, err
	}
	return r.Scalar, nil
}

// Percentile returns the pth percentile (0–100) of the valid pixels
// of im.
func (c *Cached) Percentile(ctx context.Context, im *Image, p float64) (float64, error) {
	key := fmt.Sprintf("percentile_%g_%s", p, hash.Hash(im.Signature()))
	r, err := c.result(ctx, &cacheRequest{kind: cachePercentile, im: im, pct: p}, key)
	if err != nil {
		return 0, err
	}
	return r.Scalar, nil
}

// Extremum returns the location and value of the minimum or maximum
// valid pixel of im.
func (c *Cached) Extremum(ctx context.Context, im *Image, s Stat) (Sample, error) {
	key := fmt.Sprintf("extremum_%v_%s", s, hash.Hash(im.Signature()))
	r, err := c.result(ctx, &cacheRequest{kind: cacheExtremum, im: im, stat: s}, key)
	if err != nil {
		return Sample{}, err
	}
	return r.Sample, nil
}

// Sample evaluates im at a single pixel.
func (c *Cached) Sample(ctx context.Context, im *Image, row, col int) (float64, error) {
	key := fmt.Sprintf("sample_%d_%d_%s", row, col, hash.Hash(im.Signature()))
	r, err := c.result(ctx, &cacheRequest{kind: cacheSample, im: im, row: row, col: col}, key)
	if err != nil {
		return 0, err
	}
	return r.Scalar, nil
}
