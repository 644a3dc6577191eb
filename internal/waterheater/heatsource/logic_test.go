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
)

func TestTemperatureLogicRelativeGreaterTurnsOnWhenColdEnough(t *testing.T) {
	// bottom third average (setpoint - T) greater than 5 degrees => turn on.
	logic := BottomThird("bottom-third-low", 12, 5, Greater)
	nodeT := make([]float64, 12)
	for i := range nodeT {
		nodeT[i] = 47 // setpoint-T = 3, not > 5
	}
	require.False(t, logic.Evaluate(nodeT, 50, 10, 10))

	for i := 0; i < 4; i++ {
		nodeT[i] = 40 // setpoint-T = 10, > 5
	}
	require.True(t, logic.Evaluate(nodeT, 50, 10, 10))
}

func TestTopNodeMaxTempIsAbsoluteAndHTShutOff(t *testing.T) {
	logic := TopNodeMaxTemp("entering-water-cap", 12, 60)
	require.True(t, logic.IsHTShutOff)
	nodeT := make([]float64, 12)
	nodeT[11] = 65
	require.True(t, logic.Evaluate(nodeT, 50, 10, 10))
	nodeT[11] = 55
	require.False(t, logic.Evaluate(nodeT, 50, 10, 10))
}

func TestStateOfChargeLogicBelowTarget(t *testing.T) {
	logic := HeatingLogic{
		Kind:               StateOfChargeBased,
		TargetFraction:     0.5,
		HysteresisFraction: 0.05,
		MinUsefulT:         45,
		Comparator:         Less,
	}
	nodeT := make([]float64, 12)
	for i := range nodeT {
		nodeT[i] = 20 // all below minUseful -> soc fraction 0
	}
	require.True(t, logic.Evaluate(nodeT, 50, 0, 10))
}

func TestStateOfChargeLogicAboveTarget(t *testing.T) {
	logic := HeatingLogic{
		Kind:               StateOfChargeBased,
		TargetFraction:     0.3,
		HysteresisFraction: 0.05,
		MinUsefulT:         30,
		Comparator:         Greater,
	}
	nodeT := make([]float64, 12)
	for i := range nodeT {
		nodeT[i] = 60 // well above minUseful, high SoC
	}
	require.True(t, logic.Evaluate(nodeT, 65, 0, 10))
}

func TestValidateRejectsOutOfRangeNode(t *testing.T) {
	logic := HeatingLogic{
		Kind:  TemperatureBased,
		Terms: []NodeWeight{{Node: 20, Weight: 1}},
	}
	require.Error(t, logic.Validate(12))
}

func TestValidateAcceptsPseudoNodes(t *testing.T) {
	logic := HeatingLogic{
		Kind:  TemperatureBased,
		Terms: []NodeWeight{{IsInletT: true, Weight: 1}, {IsSetpoint: true, Weight: 1}},
	}
	require.NoError(t, logic.Validate(12))
}
