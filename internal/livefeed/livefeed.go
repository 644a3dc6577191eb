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

// Package livefeed polls a real heat pump's Modbus registers and drives
// the simulation core in shadow mode: every poll becomes one
// engine.StepInput, so the live simulation can be compared, minute by
// minute, against the physical unit it shadows (SPEC_FULL.md §B.2).
// Grounded on internal/dx2w/modbus.poll.service.go's poll-loop shape (no
// longer in this tree) and directly on pkg/modbus's register client,
// reused unmodified.
package livefeed

import (
	"context"
	"time"

	"hpwhsim/internal/waterheater/engine"
	"hpwhsim/pkg/logger"
	"hpwhsim/pkg/modbus"
)

// Registers names the five named registers a livefeed config must
// declare; each is looked up by this exact key in the underlying
// modbus.Config's Registers map.
const (
	RegAmbientT  = "ambient_t"
	RegInletT    = "inlet_t"
	RegMainsT    = "mains_t"
	RegExternalT = "external_t"
	RegDrawFlow  = "draw_flow_lpm"
)

// Feed polls a live unit at a fixed cadence and feeds the readings into
// an Engine, shadowing it against the physical device (SPEC_FULL.md
// §B.2's "shadow-mode calibration harness").
type Feed struct {
	client *modbus.Client
	engine *engine.Engine
	period time.Duration
	log    *logger.Logger

	onStep func(in engine.StepInput, out engine.StepOutput, err error)
}

// New builds a Feed from an already-connected modbus.Client and the
// Engine it will drive. period is the poll interval, typically one
// minute to match the engine's native per-minute step.
func New(client *modbus.Client, eng *engine.Engine, period time.Duration, onStep func(engine.StepInput, engine.StepOutput, error)) *Feed {
	return &Feed{
		client: client,
		engine: eng,
		period: period,
		log:    logger.New("LiveFeed"),
		onStep: onStep,
	}
}

// pollOnce reads one register snapshot and advances the engine by one
// step built from it. DtMin is derived from the actual elapsed period in
// minutes, so a missed tick still closes the energy balance correctly.
func (f *Feed) pollOnce(dtMin float64) {
	ambientT, err := modbus.ReadTyped[float32](f.client, RegAmbientT)
	if err != nil {
		f.log.Error("read %s: %v", RegAmbientT, err)
		return
	}
	inletT, err := modbus.ReadTyped[float32](f.client, RegInletT)
	if err != nil {
		f.log.Error("read %s: %v", RegInletT, err)
		return
	}
	mainsT, err := modbus.ReadTyped[float32](f.client, RegMainsT)
	if err != nil {
		f.log.Error("read %s: %v", RegMainsT, err)
		return
	}
	externalT, err := modbus.ReadTyped[float32](f.client, RegExternalT)
	if err != nil {
		f.log.Error("read %s: %v", RegExternalT, err)
		return
	}
	drawFlow, err := modbus.ReadTyped[float32](f.client, RegDrawFlow)
	if err != nil {
		f.log.Error("read %s: %v", RegDrawFlow, err)
		return
	}

	in := engine.StepInput{
		DtMin:       dtMin,
		DrawVolumeL: float64(drawFlow) * dtMin,
		InletT:      float64(inletT),
		AmbientT:    float64(ambientT),
		ExternalT:   float64(externalT),
		MainsT:      float64(mainsT),
		DRMode:      engine.DRAllow,
	}

	out, stepErr := f.engine.RunOneStep(in)
	if stepErr != nil {
		f.log.Error("RunOneStep: %v", stepErr)
	}
	if f.onStep != nil {
		f.onStep(in, out, stepErr)
	}
}

// Run implements pkg/service.Runnable: polls at f.period until ctx is
// canceled, closing the modbus client on exit.
func (f *Feed) Run(ctx context.Context) {
	defer f.client.Close()

	ticker := time.NewTicker(f.period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			f.log.Info("stopping")
			return
		case now := <-ticker.C:
			dtMin := now.Sub(last).Minutes()
			last = now
			f.pollOnce(dtMin)
		}
	}
}
