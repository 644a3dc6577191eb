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

package tank

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMixInversionsRestoresMonotoneAndPreservesEnergy(t *testing.T) {
	tk, err := New(12, 189, 20, nil)
	require.NoError(t, err)

	// top -> bottom as given in the scenario; Tank stores bottom -> top.
	topToBottom := []float64{60, 50, 40, 30, 20, 10, 5, 4, 3, 2, 1, 0}
	for i, v := range topToBottom {
		tk.T[tk.N-1-i] = v
	}

	before := tk.HeatContent()
	tk.MixInversions()
	after := tk.HeatContent()

	for i := 0; i < tk.N-1; i++ {
		require.LessOrEqualf(t, tk.T[i], tk.T[i+1]+1e-9, "node %d not <= node %d", i, i+1)
	}
	require.InDelta(t, before, after, 1e-6)
}

func TestMixInversionsNoOpOnMonotoneProfile(t *testing.T) {
	tk, err := New(6, 100, 20, nil)
	require.NoError(t, err)
	for i := range tk.T {
		tk.T[i] = float64(i) * 5
	}
	want := append([]float64(nil), tk.T...)
	tk.MixInversions()
	require.Equal(t, want, tk.T)
}

func TestDrawConservationAdiabaticNoHeatSources(t *testing.T) {
	tk, err := New(12, 189, 50, nil)
	require.NoError(t, err)
	tk.UA = 0
	tk.FittingsUA = 0
	tk.DoInversionMixing = true

	before := tk.HeatContent()
	res, err := tk.AdvectDrawAndLose(40, 15, 50, nil, 1)
	require.NoError(t, err)
	after := tk.HeatContent()

	require.InDelta(t, before-after, res.DrawEnergyKJ, 1e-6)
	require.InDelta(t, 0, res.StandbyLossKJ, 1e-9)
}

func TestAdvectDrawAndLoseRejectsNegativeDraw(t *testing.T) {
	tk, err := New(12, 189, 20, nil)
	require.NoError(t, err)
	_, err = tk.AdvectDrawAndLose(-1, 15, 20, nil, 1)
	require.Error(t, err)
}

func TestAdvectDrawExceedingVolumeFillsInletT(t *testing.T) {
	tk, err := New(12, 120, 55, nil)
	require.NoError(t, err)
	_, err = tk.AdvectDrawAndLose(10_000, 10, 20, nil, 1)
	require.NoError(t, err)
	for i, v := range tk.T {
		require.InDeltaf(t, 10, v, 1e-6, "node %d", i)
	}
}

func TestAddHeatAtNodeCapsAtMaxTAndReturnsLeftover(t *testing.T) {
	tk, err := New(4, 40, 20, nil)
	require.NoError(t, err)
	leftover := tk.AddHeatAtNode(0, tk.Cn*4*100, 25)
	require.Greater(t, leftover, 0.0)
	for _, v := range tk.T {
		require.LessOrEqual(t, v, 25.0+1e-9)
	}
}

func TestAddHeatDistributedSumsToDeltaQWhenUnconstrained(t *testing.T) {
	tk, err := New(6, 60, 20, nil)
	require.NoError(t, err)
	dist := []float64{0, 0, 0.25, 0.25, 0.25, 0.25}
	before := tk.HeatContent()
	leftover := tk.AddHeatDistributed(dist, 100, 90)
	require.InDelta(t, 0, leftover, 1e-6)
	require.InDelta(t, before+100, tk.HeatContent(), 1e-6)
}

func TestHeatContentMatchesUniformTemperature(t *testing.T) {
	tk, err := New(12, 189, 20, nil)
	require.NoError(t, err)
	want := tk.Cn * 20 * 12
	require.InDelta(t, want, tk.HeatContent(), 1e-6)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	_, err := New(0, 100, 20, nil)
	require.Error(t, err)
	_, err = New(12, -1, 20, nil)
	require.Error(t, err)
	_, err = New(12, 100, math.NaN(), nil)
	require.Error(t, err)
}
