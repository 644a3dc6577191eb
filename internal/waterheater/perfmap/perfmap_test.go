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

package perfmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGridRejectsNonMonotoneAxis(t *testing.T) {
	_, err := NewGrid([]Axis{{Breakpoints: []float64{1, 3, 2}}}, []Point{{}, {}, {}})
	require.Error(t, err)
}

func TestGridRejectsSizeMismatch(t *testing.T) {
	_, err := NewGrid([]Axis{{Breakpoints: []float64{0, 10}}}, []Point{{}})
	require.Error(t, err)
}

func Test1DLinearInterpolation(t *testing.T) {
	g, err := NewGrid(
		[]Axis{{Breakpoints: []float64{0, 20}, Interp: Linear, Extrap: ExtrapolateLinear}},
		[]Point{{InputPowerKW: 0.4, COP: 3.0}, {InputPowerKW: 0.6, COP: 5.0}},
	)
	require.NoError(t, err)

	p, err := g.Evaluate(10)
	require.NoError(t, err)
	require.InDelta(t, 0.5, p.InputPowerKW, 1e-9)
	require.InDelta(t, 4.0, p.COP, 1e-9)
}

func Test1DClampExtrapolation(t *testing.T) {
	g, err := NewGrid(
		[]Axis{{Breakpoints: []float64{0, 20}, Interp: Linear, Extrap: ExtrapolateClamp}},
		[]Point{{InputPowerKW: 0.4, COP: 3.0}, {InputPowerKW: 0.6, COP: 5.0}},
	)
	require.NoError(t, err)

	p, err := g.Evaluate(100)
	require.NoError(t, err)
	require.InDelta(t, 0.6, p.InputPowerKW, 1e-9)
	require.InDelta(t, 5.0, p.COP, 1e-9)
}

func Test2DBilinearAtKnownCorner(t *testing.T) {
	// envT axis {0,20}, sourceT axis {20,50}; value = envT+sourceT for both fields.
	axes := []Axis{
		{Breakpoints: []float64{0, 20}, Interp: Linear, Extrap: ExtrapolateLinear},
		{Breakpoints: []float64{20, 50}, Interp: Linear, Extrap: ExtrapolateLinear},
	}
	values := []Point{
		{InputPowerKW: 20, COP: 20}, // env=0, source=20
		{InputPowerKW: 50, COP: 50}, // env=0, source=50
		{InputPowerKW: 40, COP: 40}, // env=20, source=20
		{InputPowerKW: 70, COP: 70}, // env=20, source=50
	}
	g, err := NewGrid(axes, values)
	require.NoError(t, err)

	p, err := g.Evaluate(10, 35)
	require.NoError(t, err)
	require.InDelta(t, 45, p.InputPowerKW, 1e-9)
	require.InDelta(t, 45, p.COP, 1e-9)
}

func TestEvaluateRejectsWrongCoordinateCount(t *testing.T) {
	g, err := NewGrid([]Axis{{Breakpoints: []float64{0, 20}}}, []Point{{}, {}})
	require.NoError(t, err)
	_, err = g.Evaluate(1, 2)
	require.Error(t, err)
}

func TestPolynomialSourceLinearAcrossEnvT(t *testing.T) {
	src, err := NewPolynomialSource([]PolynomialPoint{
		{EnvT: 20, InputPowerCoeffsKW: []float64{0.4}, COPCoeffs: []float64{3}},
		{EnvT: 40, InputPowerCoeffsKW: []float64{0.8}, COPCoeffs: []float64{5}},
	})
	require.NoError(t, err)

	p, err := src.Evaluate(30, 0)
	require.NoError(t, err)
	require.InDelta(t, 0.6, p.InputPowerKW, 1e-9)
	require.InDelta(t, 4.0, p.COP, 1e-9)
}

func TestPolynomialSourceSortsInputPoints(t *testing.T) {
	src, err := NewPolynomialSource([]PolynomialPoint{
		{EnvT: 40, InputPowerCoeffsKW: []float64{1}, COPCoeffs: []float64{1}},
		{EnvT: 20, InputPowerCoeffsKW: []float64{0}, COPCoeffs: []float64{0}},
	})
	require.NoError(t, err)
	require.Equal(t, 20.0, src.Points[0].EnvT)
	require.Equal(t, 40.0, src.Points[1].EnvT)
}

func TestConvertToGridMemoizesAndMatchesSource(t *testing.T) {
	src, err := NewPolynomialSource([]PolynomialPoint{
		{EnvT: 0, InputPowerCoeffsKW: []float64{0.5, 0.01}, COPCoeffs: []float64{3, 0}},
		{EnvT: 30, InputPowerCoeffsKW: []float64{0.6, 0.01}, COPCoeffs: []float64{4, 0}},
	})
	require.NoError(t, err)

	grid, err := src.ConvertToGrid([]float64{20, 40, 60})
	require.NoError(t, err)
	grid2, err := src.ConvertToGrid([]float64{20, 40, 60})
	require.NoError(t, err)
	require.Same(t, grid, grid2)

	gridPt, err := grid.Evaluate(0, 20)
	require.NoError(t, err)
	srcPt, err := src.Evaluate(0, 20)
	require.NoError(t, err)
	require.InDelta(t, srcPt.InputPowerKW, gridPt.InputPowerKW, 1e-9)
	require.InDelta(t, srcPt.COP, gridPt.COP, 1e-9)
}
