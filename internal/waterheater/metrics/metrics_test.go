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

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hpwhsim/internal/waterheater/engine"
	"hpwhsim/internal/waterheater/heatsource"
	"hpwhsim/internal/waterheater/perfmap"
	"hpwhsim/internal/waterheater/tank"
)

func constantGrid(t *testing.T, inputPowerKW, cop float64) *perfmap.Grid {
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

func integratedEngine(t *testing.T) *engine.Engine {
	t.Helper()
	tk, err := tank.New(12, 189, 51.7, nil)
	require.NoError(t, err)
	tk.UA = 0.002

	condensity := make([]float64, heatsource.CondensitySize)
	for i := range condensity {
		condensity[i] = 1
	}
	grid := constantGrid(t, 0.5, 3)
	cond, err := heatsource.NewCondenser("compressor", heatsource.Wrapped, grid, condensity, -10, 100, 2, 60, nil)
	require.NoError(t, err)
	cond.TurnOnLogic = []heatsource.HeatingLogic{heatsource.BottomHalf("lowT", tk.N, 10, heatsource.Greater)}
	cond.ShutOffLogic = []heatsource.HeatingLogic{heatsource.TopThird("topT", tk.N, -1)}

	resDensity := make([]float64, heatsource.CondensitySize)
	resDensity[0] = 1
	res, err := heatsource.NewResistance("lower", 4.5, 0, -10, 100, 2, nil)
	require.NoError(t, err)
	res.TurnOnLogic = []heatsource.HeatingLogic{heatsource.BottomTwelfth("veryLowT", tk.N, 20, heatsource.Greater)}
	res.ShutOffLogic = []heatsource.HeatingLogic{heatsource.BottomTwelfthMaxTemp("capped", tk.N, 60)}

	eng, err := engine.New(tk, []heatsource.HeatSource{cond, res}, engine.Config{SetpointT: 51.7, EnergyBalanceTolerance: 1e-3}, nil)
	require.NoError(t, err)
	return eng
}

func TestFirstHourRatingClassifiesAndAccumulatesVolume(t *testing.T) {
	eng := integratedEngine(t)
	rating, err := FirstHourRating(eng, FirstHourRatingInput{
		DrawFlowLPerMin: 11.4,
		InletT:          15,
		AmbientT:        20,
		ExternalT:       20,
		MainsT:          15,
		DropThresholdC:  8.3,
	})
	require.NoError(t, err)
	require.Greater(t, rating.DrawnVolumeL, 0.0)
	require.LessOrEqual(t, rating.DrawnVolumeL, 11.4*60+1e-9)
	require.Equal(t, Medium, rating.Class)
}

func TestRatingClassBands(t *testing.T) {
	require.Equal(t, VerySmall, classify(30))
	require.Equal(t, Low, classify(100))
	require.Equal(t, Medium, classify(250))
	require.Equal(t, High, classify(400))
}

func TestRun24hrTestProducesFiniteUEF(t *testing.T) {
	eng := integratedEngine(t)
	sched := StandardSchedule(Medium, 20, 15, 15)
	result, err := Run24hrTest(eng, sched, 0)
	require.NoError(t, err)
	require.Greater(t, result.DailyElectricalKWh, 0.0)
	require.GreaterOrEqual(t, result.UEF, 0.0)
	require.InDelta(t, result.DailyElectricalKWh*365, result.AnnualEnergyKWh, 1e-6)
}
