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

// Package runner drives an Engine once per real-time minute with a
// standby (zero-draw) input, so a dashboard and telemetry stream stay
// live even without a livefeed attached (SPEC_FULL.md §B.1). Grounded on
// the teacher's controller service loop shape, generalized from a fixed
// poll-and-act cycle to a single RunOneStep call per tick.
package runner

import (
	"context"
	"time"

	"hpwhsim/internal/waterheater/engine"
	"hpwhsim/pkg/logger"
)

// StepObserver is notified after every tick, successful or not. err is
// nil on success; out is the zero value when err is non-nil.
type StepObserver func(out engine.StepOutput, err error)

// Runner implements pkg/service.Runnable, ticking an Engine forward by
// one minute of standby conditions every real-time minute.
type Runner struct {
	engine   *engine.Engine
	input    engine.StepInput
	observer StepObserver
	period   time.Duration
	log      *logger.Logger
}

// New builds a Runner ticking once per real-time minute. input is reused
// unmodified on every tick (its DtMin is forced to 1 regardless of the
// value passed); a deployment that wants real draw/ambient data should
// use internal/livefeed instead and not start a Runner alongside it.
func New(eng *engine.Engine, input engine.StepInput, observer StepObserver) *Runner {
	return NewWithPeriod(eng, input, observer, time.Minute)
}

// NewWithPeriod is New with an explicit tick period, primarily so tests
// don't have to wait a real minute between steps.
func NewWithPeriod(eng *engine.Engine, input engine.StepInput, observer StepObserver, period time.Duration) *Runner {
	input.DtMin = 1
	return &Runner{engine: eng, input: input, observer: observer, period: period, log: logger.New("Runner")}
}

// Run ticks the engine once per period until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, err := r.engine.RunOneStep(r.input)
			if err != nil {
				r.log.Error("RunOneStep: %v", err)
			}
			if r.observer != nil {
				r.observer(out, err)
			}
		}
	}
}
