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
	"fmt"
	"strconv"
	"strings"
)

type op int

const (
	opBand op = iota
	opConst
	opAdd
	opSub
	opMul
	opDiv
	opPow
	opMin
	opMax
	opNeg
	opLog
	opExp
	opSqrt
	opAtan
	opAbs
	opLT
	opLTE
	opGT
	opGTE
	opAnd
	opOr
	opWhere
	opUpdateMask
)

var opNames = map[op]string{
	opBand: "band", opConst: "const", opAdd: "add", opSub: "sub",
	opMul: "mul", opDiv: "div", opPow: "pow", opMin: "min", opMax: "max",
	opNeg: "neg", opLog: "log", opExp: "exp", opSqrt: "sqrt",
	opAtan: "atan", opAbs: "abs", opLT: "lt", opLTE: "lte", opGT: "gt",
	opGTE: "gte", opAnd: "and", opOr: "or", opWhere: "where",
	opUpdateMask: "updateMask",
}

// An Image is an immutable lazy raster expression. Images are built by
// combining band references and constants with per-pixel operations; no
// pixel values are computed until an Engine forces the expression.
// Because every operation returns a new Image, expressions form a shared
// directed acyclic graph and common subexpressions are evaluated once
// per materialization.
type Image struct {
	op   op
	args []*Image
	name string  // band name; opBand only
	val  float64 // constant value; opConst only
}

// Band returns an expression referring to the named ingested band.
// The name is resolved by the Engine at evaluation time.
func Band(name string) *Image {
	return &Image{op: opBand, name: name}
}

// Const returns an expression with the same value at every pixel.
func Const(v float64) *Image {
	return &Image{op: opConst, val: v}
}

func unary(o op, a *Image) *Image {
	return &Image{op: o, args: []*Image{a}}
}

func binary(o op, a, b *Image) *Image {
	return &Image{op: o, args: []*Image{a, b}}
}

// Add returns im + o at each pixel.
func (im *Image) Add(o *Image) *Image { return binary(opAdd, im, o) }

// Sub returns im − o at each pixel.
func (im *Image) Sub(o *Image) *Image { return binary(opSub, im, o) }

// Mul returns im × o at each pixel.
func (im *Image) Mul(o *Image) *Image { return binary(opMul, im, o) }

// Div returns im ÷ o at each pixel. Division by zero yields a
// non-finite value, which downstream reductions treat as invalid.
func (im *Image) Div(o *Image) *Image { return binary(opDiv, im, o) }

// Pow returns im raised to the power o at each pixel.
func (im *Image) Pow(o *Image) *Image { return binary(opPow, im, o) }

// Min returns the smaller of im and o at each pixel.
func (im *Image) Min(o *Image) *Image { return binary(opMin, im, o) }

// Max returns the larger of im and o at each pixel.
func (im *Image) Max(o *Image) *Image { return binary(opMax, im, o) }

// Neg returns −im at each pixel.
func (im *Image) Neg() *Image { return unary(opNeg, im) }

// Log returns the natural logarithm of im at each pixel.
func (im *Image) Log() *Image { return unary(opLog, im) }

// Exp returns e**im at each pixel.
func (im *Image) Exp() *Image { return unary(opExp, im) }

// Sqrt returns the square root of im at each pixel.
func (im *Image) Sqrt() *Image { return unary(opSqrt, im) }

// Atan returns the arctangent of im, in radians, at each pixel.
func (im *Image) Atan() *Image { return unary(opAtan, im) }

// Abs returns the absolute value of im at each pixel.
func (im *Image) Abs() *Image { return unary(opAbs, im) }

// Lt returns a mask that is 1 where im < o and 0 elsewhere.
func (im *Image) Lt(o *Image) *Image { return binary(opLT, im, o) }

// Lte returns a mask that is 1 where im ≤ o and 0 elsewhere.
func (im *Image) Lte(o *Image) *Image { return binary(opLTE, im, o) }

// Gt returns a mask that is 1 where im > o and 0 elsewhere.
func (im *Image) Gt(o *Image) *Image { return binary(opGT, im, o) }

// Gte returns a mask that is 1 where im ≥ o and 0 elsewhere.
func (im *Image) Gte(o *Image) *Image { return binary(opGTE, im, o) }

// And returns a mask that is 1 where both im and o are nonzero.
func (im *Image) And(o *Image) *Image { return binary(opAnd, im, o) }

// Or returns a mask that is 1 where either im or o is nonzero.
func (im *Image) Or(o *Image) *Image { return binary(opOr, im, o) }

// Where returns an expression equal to v at pixels where test is
// nonzero and equal to im elsewhere. Pixels where test is invalid
// become invalid.
func (im *Image) Where(test, v *Image) *Image {
	return &Image{op: opWhere, args: []*Image{im, test, v}}
}

// UpdateMask invalidates the pixels of im where mask is zero or
// invalid. It never restores pixels that are already invalid.
func (im *Image) UpdateMask(mask *Image) *Image {
	return binary(opUpdateMask, im, mask)
}

// Signature returns a stable fingerprint of the expression structure,
// suitable for use in cache keys. Shared subexpressions are emitted
// once and referenced by index, so the signature stays compact for
// heavily shared graphs.
func (im *Image) Signature() string {
	var b strings.Builder
	seen := make(map[*Image]int)
	im.signature(&b, seen)
	return b.String()
}

func (im *Image) signature(b *strings.Builder, seen map[*Image]int) {
	if i, ok := seen[im]; ok {
		fmt.Fprintf(b, "#%d", i)
		return
	}
	seen[im] = len(seen)
	b.WriteString("(")
	b.WriteString(opNames[im.op])
	switch im.op {
	case opBand:
		b.WriteString(" ")
		b.WriteString(im.name)
	case opConst:
		b.WriteString(" ")
		b.WriteString(strconv.FormatFloat(im.val, 'g', -1, 64))
	default:
		for _, a := range im.args {
			b.WriteString(" ")
			a.signature(b, seen)
		}
	}
	b.WriteString(")")
}
