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

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

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

// scenario 3: external single-pass with a setpoint limit.
func TestExternalSinglePassRespectsSetpointAndLimit(t *testing.T) {
	tk, err := tank.New(96, 315, 20, nil)
	require.NoError(t, err)
	tk.UA = 0

	condensity := make([]float64, heatsource.CondensitySize)
	for i := range condensity {
		condensity[i] = 1
	}
	grid := constantGrid(t, 1, 3)
	cond, err := heatsource.NewCondenser("external", heatsource.External, grid, condensity, -40, 100, 2, 66, nil)
	require.NoError(t, err)
	cond.ExternalOutletHeight = 0
	cond.ExternalInletHeight = tk.N - 1
	cond.SetVIP(true)

	eng, err := New(tk, []heatsource.HeatSource{cond}, Config{SetpointT: 65, EnergyBalanceTolerance: 1e-4}, nil)
	require.NoError(t, err)

	out, err := eng.RunOneStep(StepInput{DtMin: 60, AmbientT: 20, ExternalT: 20, MainsT: 20})
	require.NoError(t, err)

	require.InDelta(t, 65, tk.T[cond.ExternalInletHeight], 0.5)
	for _, v := range tk.T {
		require.LessOrEqual(t, v, 66.0001)
	}
	require.Len(t, out.Sources, 1)
	require.GreaterOrEqual(t, out.Sources[0].RuntimeMin, 0.0)
	require.LessOrEqual(t, out.Sources[0].RuntimeMin, 60.0001)
}

// scenario 4: DR lockout.
func TestDRLockCompressorBlocksOnlyCompressorEnergy(t *testing.T) {
	tk, err := tank.New(12, 189, 15, nil)
	require.NoError(t, err)
	tk.UA = 0

	grid := constantGrid(t, 1, 3)
	condDensity := make([]float64, heatsource.CondensitySize)
	for i := range condDensity {
		condDensity[i] = 1
	}
	cond, err := heatsource.NewCondenser("compressor", heatsource.Wrapped, grid, condDensity, -40, 100, 2, 60, nil)
	require.NoError(t, err)

	resDensity := make([]float64, heatsource.CondensitySize)
	resDensity[0] = 1
	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)

	eng, err := New(tk, []heatsource.HeatSource{cond, res}, Config{SetpointT: 51.7, EnergyBalanceTolerance: 1e-4}, nil)
	require.NoError(t, err)

	out, err := eng.RunOneStep(StepInput{DtMin: 1, AmbientT: 15, ExternalT: 20, MainsT: 15, DRMode: DRLockCompressor})
	require.NoError(t, err)

	require.Equal(t, 0.0, out.Sources[0].EnergyOutKJ)
	require.Greater(t, out.Sources[1].EnergyOutKJ, 0.0)
}

func TestDRLockBothWithColdTankAddsNoEnergyAndTankDoesNotWarm(t *testing.T) {
	tk, err := tank.New(12, 189, 15, nil)
	require.NoError(t, err)
	tk.UA = 0.01
	tk.FittingsUA = 0

	grid := constantGrid(t, 1, 3)
	condDensity := make([]float64, heatsource.CondensitySize)
	for i := range condDensity {
		condDensity[i] = 1
	}
	cond, err := heatsource.NewCondenser("compressor", heatsource.Wrapped, grid, condDensity, -40, 100, 2, 60, nil)
	require.NoError(t, err)

	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)

	eng, err := New(tk, []heatsource.HeatSource{cond, res}, Config{SetpointT: 51.7, EnergyBalanceTolerance: 1e-4}, nil)
	require.NoError(t, err)

	before := tk.MeanT()
	out, err := eng.RunOneStep(StepInput{DtMin: 1, AmbientT: 5, ExternalT: 20, MainsT: 15, DRMode: DRLockCompressor | DRLockResistance})
	require.NoError(t, err)
	after := tk.MeanT()

	require.Equal(t, 0.0, out.Sources[0].EnergyOutKJ)
	require.Equal(t, 0.0, out.Sources[1].EnergyOutKJ)
	require.LessOrEqual(t, after, before+1e-9)
}

func TestRunOneStepEnforcesRuntimeBounds(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	tk.UA = 0

	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)

	eng, err := New(tk, []heatsource.HeatSource{res}, Config{SetpointT: 51.7, EnergyBalanceTolerance: 1e-4}, nil)
	require.NoError(t, err)

	out, err := eng.RunOneStep(StepInput{DtMin: 1, AmbientT: 20, ExternalT: 20, MainsT: 20})
	require.NoError(t, err)

	for _, s := range out.Sources {
		require.GreaterOrEqual(t, s.RuntimeMin, 0.0)
		require.LessOrEqual(t, s.RuntimeMin, 1.0001)
		require.GreaterOrEqual(t, s.EnergyInKJ, 0.0)
		require.GreaterOrEqual(t, s.EnergyOutKJ, 0.0)
	}
}

func TestNewRejectsEmptySourceList(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	_, err = New(tk, nil, Config{SetpointT: 51.7}, nil)
	require.Error(t, err)
}

func TestRunOneStepRejectsNonPositiveDt(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)
	eng, err := New(tk, []heatsource.HeatSource{res}, Config{SetpointT: 51.7}, nil)
	require.NoError(t, err)

	_, err = eng.RunOneStep(StepInput{DtMin: 0})
	require.Error(t, err)
}

func TestScaleToVolumeRejectsWhenNotPermitted(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)
	eng, err := New(tk, []heatsource.HeatSource{res}, Config{SetpointT: 51.7}, nil)
	require.NoError(t, err)

	require.Error(t, eng.ScaleToVolume(300))
}

func TestScaleToVolumeRescalesTankAndSourceCapacity(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	tk.UA = 0.01
	origCn := tk.Cn

	grid := constantGrid(t, 2, 3)
	condDensity := make([]float64, heatsource.CondensitySize)
	for i := range condDensity {
		condDensity[i] = 1
	}
	cond, err := heatsource.NewCondenser("compressor", heatsource.Wrapped, grid, condDensity, -40, 100, 2, 60, nil)
	require.NoError(t, err)

	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)

	eng, err := New(tk, []heatsource.HeatSource{cond, res}, Config{SetpointT: 51.7, CanScale: true}, nil)
	require.NoError(t, err)

	require.NoError(t, eng.ScaleToVolume(378))

	require.InDelta(t, 378.0, tk.VolumeL, 1e-9)
	require.InDelta(t, origCn*2, tk.Cn, 1e-9)
	require.InDelta(t, 0.02, tk.UA, 1e-9)
	require.InDelta(t, 2.0, cond.InputPowerScale, 1e-9)
	require.InDelta(t, 9.0, res.PowerKW, 1e-9)
}

func TestScaleToVolumeRejectsWhenTankSizeFixed(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)
	eng, err := New(tk, []heatsource.HeatSource{res}, Config{SetpointT: 51.7, CanScale: true, TankSizeFixed: true}, nil)
	require.NoError(t, err)

	require.Error(t, eng.ScaleToVolume(300))
}

func TestNewRejectsSetpointAboveSourceFamilyMax(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)

	grid := constantGrid(t, 1, 3)
	condDensity := make([]float64, heatsource.CondensitySize)
	for i := range condDensity {
		condDensity[i] = 1
	}
	cond, err := heatsource.NewCondenser("compressor", heatsource.Wrapped, grid, condDensity, -40, 100, 2, 60, nil)
	require.NoError(t, err)

	_, err = New(tk, []heatsource.HeatSource{cond}, Config{SetpointT: 60.1}, nil)
	require.Error(t, err)
}

func TestNewAcceptsSetpointExactlyAtSourceFamilyMax(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)

	grid := constantGrid(t, 1, 3)
	condDensity := make([]float64, heatsource.CondensitySize)
	for i := range condDensity {
		condDensity[i] = 1
	}
	cond, err := heatsource.NewCondenser("compressor", heatsource.Wrapped, grid, condDensity, -40, 100, 2, 60, nil)
	require.NoError(t, err)

	_, err = New(tk, []heatsource.HeatSource{cond}, Config{SetpointT: 60}, nil)
	require.NoError(t, err)
}

// scenario 1: a lower resistance element recovers a cold tank to
// setpoint and holds there through 120 one-minute steps, gated by a
// shut-off logic instead of an unguarded AddHeat loop.
func TestResistanceRecoversTankToSetpointWithin120Steps(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	tk.UA = 0

	resDensity := make([]float64, heatsource.CondensitySize)
	resDensity[0] = 1
	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)

	setpoint := 51.7
	res.ShutOffLogic = []heatsource.HeatingLogic{heatsource.TopNodeMaxTemp("capped", tk.N, setpoint)}
	res.TurnOnLogic = []heatsource.HeatingLogic{heatsource.Standby("standby", tk.N, 1)}

	eng, err := New(tk, []heatsource.HeatSource{res}, Config{SetpointT: setpoint, EnergyBalanceTolerance: 1e-3}, nil)
	require.NoError(t, err)

	for step := 0; step < 120; step++ {
		_, err := eng.RunOneStep(StepInput{DtMin: 1, AmbientT: 20, ExternalT: 20, MainsT: 20})
		require.NoError(t, err)
	}
	require.InDelta(t, setpoint, tk.MeanT(), 0.2)
}
