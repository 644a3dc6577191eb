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

package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hpwhsim/internal/waterheater/engine"
	"hpwhsim/internal/waterheater/heatsource"
	"hpwhsim/internal/waterheater/tank"
)

func TestRunnerTicksEngineUntilCanceled(t *testing.T) {
	tk, err := tank.New(12, 189, 20, nil)
	require.NoError(t, err)
	res, err := heatsource.NewResistance("lower", 4.5, 0, -40, 100, 2, nil)
	require.NoError(t, err)
	eng, err := engine.New(tk, []heatsource.HeatSource{res}, engine.Config{SetpointT: 51.7}, nil)
	require.NoError(t, err)

	var ticks int32
	r := NewWithPeriod(eng, engine.StepInput{AmbientT: 20, ExternalT: 20, MainsT: 10, InletT: 10}, func(out engine.StepOutput, err error) {
		require.NoError(t, err)
		atomic.AddInt32(&ticks, 1)
	}, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	r.Run(ctx)

	require.Greater(t, atomic.LoadInt32(&ticks), int32(0))
}
