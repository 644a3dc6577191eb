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

package heatsource

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hpwhsim/internal/waterheater/perfmap"
	"hpwhsim/internal/waterheater/tank"
)

func constantPerformanceGrid(t *testing.T, inputPowerKW, cop float64) *perfmap.Grid {
	t.Helper()
	g, err := perfmap.NewGrid(
		[]perfmap.Axis{
			{Breakpoints: []float64{-10, 40}, Interp: perfmap.Linear, Extrap: perfmap.ExtrapolateClamp},
			{Breakpoints: []float64{0, 70}, Interp: perfmap.Linear, Extrap: perfmap.ExtrapolateClamp},
		},
		[]perfmap.Point{
			{InputPowerKW: inputPowerKW, COP: cop}, {InputPowerKW: inputPowerKW, COP: cop},
			{InputPowerKW: inputPowerKW, COP: cop}, {InputPowerKW: inputPowerKW, COP: cop},
		},
	)
	require.NoError(t, err)
	return g
}

// scenario 2: wrapped compressor heat-up.
func TestWrappedCondenserOneHourHeatUp(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	tk.UA = 0

	grid := constantPerformanceGrid(t, 0.5, 3)
	condensity := make([]float64, CondensitySize)
	for i := range condensity {
		condensity[i] = 1
	}
	cond, err := NewCondenser("wrapped", Wrapped, grid, condensity, -40, 100, 2, 60, nil)
	require.NoError(t, err)

	before := tk.HeatContent()
	_, err = cond.AddHeat(tk, 20, 51.7, 60)
	require.NoError(t, err)
	after := tk.HeatContent()

	expected := 0.5 * 3 * 3600 // kJ
	require.InEpsilon(t, expected, after-before, 0.01)
}

func TestCondenserEvaluatePerformanceAppliesScalesAndDefrost(t *testing.T) {
	grid := constantPerformanceGrid(t, 1.0, 3.0)
	condensity := []float64{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	cond, err := NewCondenser("cond", Submerged, grid, condensity, -40, 100, 2, 60, nil)
	require.NoError(t, err)
	cond.InputPowerScale = 2
	cond.COPScale = 0.5
	cond.DoDefrost = true
	cond.DefrostMap = []DefrostPoint{{EnvT: -10, Derate: 0.5}, {EnvT: 40, Derate: 1}}

	pt, err := cond.evaluatePerformance(5, 20)
	require.NoError(t, err)
	// base: power 1*2=2, cop 3*0.5=1.5; defrost derate at envT=5 interpolated
	// between (-10,0.5) and (40,1): t=(5-(-10))/50=0.3 -> derate=0.65
	require.InDelta(t, 2.0, pt.InputPowerKW, 1e-9)
	require.InDelta(t, 1.5*0.65, pt.COP, 1e-9)
}

func TestCondenserLowAirflowDerateReducesCOP(t *testing.T) {
	grid := constantPerformanceGrid(t, 1.0, 3.0)
	cond, err := NewCondenser("cond", Submerged, grid, []float64{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, -40, 100, 2, 60, nil)
	require.NoError(t, err)
	cond.AirflowFreedom = 0.5

	pt, err := cond.evaluatePerformance(20, 20)
	require.NoError(t, err)
	want := 3.0 * (0.00056*(375*0.5) + 0.79)
	require.InDelta(t, want, pt.COP, 1e-9)
}

func TestCalcHeatDistributionZeroBelowLowestNode(t *testing.T) {
	tk, err := tank.New(12, 189, 40, nil)
	require.NoError(t, err)
	grid := constantPerformanceGrid(t, 0.5, 3)
	condensity := make([]float64, CondensitySize)
	for i := 6; i < CondensitySize; i++ {
		condensity[i] = 1
	}
	cond, err := NewCondenser("wrapped", Wrapped, grid, condensity, -40, 100, 2, 60, nil)
	require.NoError(t, err)

	dist := cond.CalcHeatDistribution(tk, 51.7)
	sum := 0.0
	for i, v := range dist {
		require.GreaterOrEqual(t, v, 0.0)
		if i < 6 {
			require.Equal(t, 0.0, v)
		}
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}
