// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package perfmap implements the multi-axis (inputPower, COP) performance
// map: a regular-grid interpolator over 1-3 axes (a subset of
// evaporator-air T, condenser-leaving T, heat-source/condenser-entering T),
// each axis independently linear or cubic, with linear or clamp
// extrapolation. Grounded on Condenser.hh's btwxt RegularGridInterpolator
// axis-grid contract (axes + flattened values, converted here to a
// dependency-free tensor-product interpolator since btwxt itself has no Go
// binding anywhere in the pack) and its PerformancePoly legacy polynomial
// alternative, kept as a value source with an identical (EnvT, SourceT) ->
// Point contract.
package perfmap

import (
	"fmt"
	"sort"

	"hpwhsim/internal/waterheater/hpwherr"
)

// AxisInterp selects the per-axis interpolation method.
type AxisInterp int

const (
	Linear AxisInterp = iota
	Cubic
)

// Extrapolation selects the per-axis behavior outside the declared range.
type Extrapolation int

const (
	ExtrapolateLinear Extrapolation = iota
	ExtrapolateClamp
)

// Axis is one breakpoint set of a Grid.
type Axis struct {
	Breakpoints []float64
	Interp      AxisInterp
	Extrap      Extrapolation
}

// Point is a single (inputPower, COP) grid value; capacity is derived as
// inputPower*COP, never stored directly.
type Point struct {
	InputPowerKW float64
	COP          float64
}

// Grid is a regular grid of 1 to 3 axes with Point values flattened in
// row-major order, axis 0 varying slowest.
type Grid struct {
	Axes   []Axis
	Values []Point
}

// NewGrid validates and constructs a Grid. Axes must be strictly
// monotone ascending with no duplicate breakpoints (spec's PerformanceMap
// invariant); len(Values) must equal the product of axis sizes.
func NewGrid(axes []Axis, values []Point) (*Grid, error) {
	if len(axes) < 1 || len(axes) > 3 {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "performance map supports 1 to 3 axes")
	}
	size := 1
	for ai, a := range axes {
		if len(a.Breakpoints) == 0 {
			return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "axis %d has no breakpoints", ai)
		}
		if !sort.SliceIsSorted(a.Breakpoints, func(i, j int) bool { return a.Breakpoints[i] < a.Breakpoints[j] }) {
			return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "axis %d breakpoints not strictly ascending", ai)
		}
		for i := 1; i < len(a.Breakpoints); i++ {
			if a.Breakpoints[i] == a.Breakpoints[i-1] {
				return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "axis %d has duplicate breakpoint", ai)
			}
		}
		size *= len(a.Breakpoints)
	}
	if len(values) != size {
		return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "grid has %d values, want %d", len(values), size)
	}
	return &Grid{Axes: axes, Values: values}, nil
}

// Evaluate interpolates (inputPower, COP) at the given axis coordinates,
// one per axis, in the order axes were declared.
func (g *Grid) Evaluate(coords ...float64) (Point, error) {
	if len(coords) != len(g.Axes) {
		return Point{}, hpwherr.Newf(hpwherr.InvalidInput, "expected %d coordinates, got %d", len(g.Axes), len(coords))
	}
	sizes := make([]int, len(g.Axes))
	for i, a := range g.Axes {
		sizes[i] = len(a.Breakpoints)
	}

	power := g.reduce(coords, sizes, func(p Point) float64 { return p.InputPowerKW })
	cop := g.reduce(coords, sizes, func(p Point) float64 { return p.COP })
	return Point{InputPowerKW: power, COP: cop}, nil
}

// reduce collapses the tensor one axis at a time, innermost (last
// declared) axis first, until a scalar remains.
func (g *Grid) reduce(coords []float64, sizes []int, field func(Point) float64) float64 {
	values := make([]float64, len(g.Values))
	for i, p := range g.Values {
		values[i] = field(p)
	}

	dims := append([]int(nil), sizes...)
	axes := g.Axes
	for d := len(dims) - 1; d >= 0; d-- {
		stride := 1
		for k := d + 1; k < len(dims); k++ {
			stride *= dims[k]
		}
		outerCount := 1
		for k := 0; k < d; k++ {
			outerCount *= dims[k]
		}
		next := make([]float64, outerCount*stride)
		for o := 0; o < outerCount; o++ {
			base := o * dims[d] * stride
			for s := 0; s < stride; s++ {
				row := make([]float64, dims[d])
				for i := 0; i < dims[d]; i++ {
					row[i] = values[base+i*stride+s]
				}
				next[o*stride+s] = interpScalar(axes[d].Breakpoints, row, coords[d], axes[d].Interp, axes[d].Extrap)
			}
		}
		values = next
		dims = dims[:d]
	}
	return values[0]
}

func locateSegment(bp []float64, x float64) int {
	n := len(bp)
	if n == 1 {
		return 0
	}
	if x <= bp[0] {
		return 0
	}
	if x >= bp[n-1] {
		return n - 2
	}
	for i := 0; i < n-1; i++ {
		if x >= bp[i] && x <= bp[i+1] {
			return i
		}
	}
	return n - 2
}

func interpScalar(bp, vals []float64, x float64, interp AxisInterp, extrap Extrapolation) float64 {
	n := len(bp)
	if n == 1 {
		return vals[0]
	}
	if extrap == ExtrapolateClamp {
		if x < bp[0] {
			x = bp[0]
		}
		if x > bp[n-1] {
			x = bp[n-1]
		}
	}
	i := locateSegment(bp, x)
	t := (x - bp[i]) / (bp[i+1] - bp[i])

	if interp == Cubic && n >= 4 && i > 0 && i < n-2 {
		return catmullRom(vals[i-1], vals[i], vals[i+1], vals[i+2], t)
	}
	return vals[i] + t*(vals[i+1]-vals[i])
}

func catmullRom(p0, p1, p2, p3, t float64) float64 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * ((2 * p1) +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

// PolynomialPoint is one breakpoint of a legacy polynomial performance
// source: quadratic coefficients (in the order returned by Evaluate's
// Horner expansion, lowest order first) for inputPower and COP as a
// function of heat-source/condenser T, fit at a single environment
// temperature.
type PolynomialPoint struct {
	EnvT              float64
	InputPowerCoeffsKW []float64
	COPCoeffs          []float64
}

// PolynomialSource is the legacy alternative value source: per-environment-
// temperature quadratic fits in one or two variables, linearly interpolated
// across the EnvT breakpoints. It satisfies the same (inputPower, COP)
// contract as Grid and can be converted to one lazily.
type PolynomialSource struct {
	Points []PolynomialPoint
	grid   *Grid // memoized ConvertToGrid result
}

// NewPolynomialSource validates and sorts points by increasing EnvT
// (Condenser.hh's sortPerformancePolySet).
func NewPolynomialSource(points []PolynomialPoint) (*PolynomialSource, error) {
	if len(points) == 0 {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "polynomial performance source has no points")
	}
	sorted := append([]PolynomialPoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EnvT < sorted[j].EnvT })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].EnvT == sorted[i-1].EnvT {
			return nil, hpwherr.New(hpwherr.InvalidConfiguration, "duplicate EnvT breakpoint in polynomial source")
		}
	}
	return &PolynomialSource{Points: sorted}, nil
}

func evalPoly(coeffs []float64, x float64) float64 {
	result := 0.0
	power := 1.0
	for _, c := range coeffs {
		result += c * power
		power *= x
	}
	return result
}

// Evaluate linearly interpolates, across EnvT, the quadratic-in-sourceT
// polynomial value at each neighboring breakpoint. coords must be
// (envT, sourceT), matching Grid.Evaluate's variadic contract so both
// value sources are interchangeable behind the same interface.
func (p *PolynomialSource) Evaluate(coords ...float64) (Point, error) {
	if len(coords) != 2 {
		return Point{}, hpwherr.Newf(hpwherr.InvalidInput, "polynomial source expects 2 coordinates, got %d", len(coords))
	}
	envT, sourceT := coords[0], coords[1]
	n := len(p.Points)
	bp := make([]float64, n)
	for i, pt := range p.Points {
		bp[i] = pt.EnvT
	}
	i := locateSegment(bp, envT)
	if n == 1 {
		return Point{
			InputPowerKW: evalPoly(p.Points[0].InputPowerCoeffsKW, sourceT),
			COP:          evalPoly(p.Points[0].COPCoeffs, sourceT),
		}, nil
	}
	t := (envT - bp[i]) / (bp[i+1] - bp[i])
	lowPower := evalPoly(p.Points[i].InputPowerCoeffsKW, sourceT)
	highPower := evalPoly(p.Points[i+1].InputPowerCoeffsKW, sourceT)
	lowCOP := evalPoly(p.Points[i].COPCoeffs, sourceT)
	highCOP := evalPoly(p.Points[i+1].COPCoeffs, sourceT)
	return Point{
		InputPowerKW: lowPower + t*(highPower-lowPower),
		COP:          lowCOP + t*(highCOP-lowCOP),
	}, nil
}

// ConvertToGrid samples the polynomial source onto a 2-axis (envT,
// sourceT) Grid at its own EnvT breakpoints crossed with the supplied
// sourceT breakpoints, memoizing the result. Grounded on
// Condenser::convertPolySetToGrid; no other package in this module calls it.
func (p *PolynomialSource) ConvertToGrid(sourceTBreakpoints []float64) (*Grid, error) {
	if p.grid != nil {
		return p.grid, nil
	}
	envBP := make([]float64, len(p.Points))
	for i, pt := range p.Points {
		envBP[i] = pt.EnvT
	}
	axes := []Axis{
		{Breakpoints: envBP, Interp: Linear, Extrap: ExtrapolateLinear},
		{Breakpoints: sourceTBreakpoints, Interp: Linear, Extrap: ExtrapolateLinear},
	}
	values := make([]Point, 0, len(envBP)*len(sourceTBreakpoints))
	for _, e := range envBP {
		for _, s := range sourceTBreakpoints {
			pt, err := p.Evaluate(e, s)
			if err != nil {
				return nil, err
			}
			values = append(values, pt)
		}
	}
	grid, err := NewGrid(axes, values)
	if err != nil {
		return nil, err
	}
	p.grid = grid
	return grid, nil
}

// String supports %v logging of a Point (e.g. via logger.Courier.Debug).
func (p Point) String() string {
	return fmt.Sprintf("{inputPowerKW=%.4f cop=%.4f}", p.InputPowerKW, p.COP)
}
