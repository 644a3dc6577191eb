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

// Package engine implements the Dispatcher: the single entry point
// (RunOneStep) that advances the Tank and its heat sources by one time
// step, in the fixed order demanded by spec §4.7/§5 (advect/lose, lockout,
// engagement selection, heat addition, extra deposit, SoC, accounting).
// Grounded on internal/controller/controller.go's single synchronous
// step-loop shape, generalized from a fixed two-stage (compressor,
// resistance) heat pump to an arbitrary ordered heat-source list.
package engine

import (
	"math"

	"hpwhsim/internal/waterheater/heatsource"
	"hpwhsim/internal/waterheater/hpwherr"
	"hpwhsim/internal/waterheater/tank"
	"hpwhsim/pkg/logger"
)

// DRMode is the demand-response bitmask accepted by RunOneStep (spec §4.7).
type DRMode int

const (
	DRAllow           DRMode = 0
	DRLockCompressor  DRMode = 1 << 0 // LOC: locks every Condenser source
	DRLockResistance  DRMode = 1 << 1 // LOR: locks every Resistance source
	DRTopOffOnce      DRMode = 1 << 2 // TOO: force-engage compressor+bottom element for one step
	DRTopOffTimer     DRMode = 1 << 3 // TOT: same, at intervals <= TopOffTimerLimitMin
)

func (m DRMode) has(bit DRMode) bool { return m&bit != 0 }

// Config is the engine-level (non-tank, non-heat-source) configuration:
// spec §6's "(c) engine-level parameters".
type Config struct {
	SetpointT float64

	// EnergyBalanceTolerance is epsilon in epsilon*max(|deltaHeatContent|, 1)
	// of spec §8's energy-balance invariant; a nonpositive value defaults to
	// 1e-6, a relative tolerance scaled by the step's change in tank heat
	// content.
	EnergyBalanceTolerance float64

	// SoCLogic, when set, is recomputed and reported every step (spec
	// §4.7 step 6); it is also the logic instance turn-on/shut-off
	// predicates elsewhere in Sources should share for a consistent
	// reading.
	SoCLogic *heatsource.HeatingLogic

	// TopOffTimerLimitMin bounds how often DRTopOffTimer may force an
	// engagement (spec: "at intervals <= timerLimit").
	TopOffTimerLimitMin float64

	// CanScale gates ScaleToVolume: a model built from a manufacturer's
	// rated performance map at a single size cannot be rescaled unless
	// the configuration says the map is volume-generic. TankSizeFixed is
	// an additional per-build lock (e.g. a custom/measured tank) that
	// overrides CanScale even when the heat sources would otherwise
	// tolerate it.
	CanScale      bool
	TankSizeFixed bool
}

// StepInput is everything RunOneStep needs beyond persistent engine state
// (spec §6 "step input per call").
type StepInput struct {
	DtMin float64

	DrawVolumeL          float64
	InletT               float64
	SecondaryDrawVolumeL float64
	SecondaryInletT      float64

	AmbientT  float64
	ExternalT float64
	MainsT    float64

	DRMode DRMode

	// ExtraNodePowerKW, if non-nil, must have one entry per tank node
	// (spec §4.7 step 5, "extra node-power (e.g., solar)").
	ExtraNodePowerKW []float64
}

// SourceStepOutput is one heat source's contribution to a StepOutput.
type SourceStepOutput struct {
	Name             string
	IsRunning        bool
	IsLockedOut      bool
	RuntimeMin       float64
	EnergyInKJ       float64
	EnergyOutKJ      float64
	CondenserInletT  float64
	CondenserOutletT float64
	ExternalVolumeHeatedL float64
}

// StepOutput is the full per-step report (spec §6 "step output").
type StepOutput struct {
	OutletT       float64
	TankT         []float64
	MeanT         float64
	DrawEnergyKJ  float64
	StandbyLossKJ float64

	HasSoC bool
	SoC    float64

	Sources []SourceStepOutput
}

// Engine wraps a Tank and its ordered heat sources and runs the per-step
// procedure described in spec §4.7. It is single-threaded and synchronous
// (spec §5): a call to RunOneStep is the indivisible unit of progress.
type Engine struct {
	Tank    *tank.Tank
	Sources []heatsource.HeatSource // configured priority order; VIP may appear anywhere
	Config  Config
	Courier logger.Courier

	topOffTimerElapsedMin float64
}

// New constructs an Engine. Sources must be nonempty and already linked
// (backup/companion/follower) and validated by their own constructors;
// New itself only checks the tank and source-list invariants that are the
// dispatcher's own responsibility.
func New(tk *tank.Tank, sources []heatsource.HeatSource, cfg Config, courier logger.Courier) (*Engine, error) {
	if tk == nil {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "engine: tank is nil")
	}
	if len(sources) == 0 {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "engine: heat-source list is empty")
	}
	for _, s := range sources {
		if s == nil {
			return nil, hpwherr.New(hpwherr.InvalidConfiguration, "engine: nil heat source in list")
		}
		if max, ok := sourceFamilyMaxSetpoint(s); ok && cfg.SetpointT > max {
			return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "engine: setpoint %.2f exceeds %q max allowable %.2f", cfg.SetpointT, s.Name(), max)
		}
	}
	tol := cfg.EnergyBalanceTolerance
	if tol <= 0 {
		tol = 1e-6
	}
	cfg.EnergyBalanceTolerance = tol
	return &Engine{Tank: tk, Sources: sources, Config: cfg, Courier: courier}, nil
}

// ScaleToVolume rescales the engine's tank and every heat source's rated
// capacity linearly with the ratio of newVolumeL to the tank's current
// volume, leaving node temperatures and the performance map's shape
// untouched. Grounded on original_source/test/testScaleHPWH.cc, which
// resizes a built HPWH by the same volume ratio rather than rebuilding it
// from scratch. Returns an hpwherr.InvalidConfiguration error if the
// engine was not built with Config.CanScale set, or if Config.TankSizeFixed
// locks the tank at its configured size.
func (e *Engine) ScaleToVolume(newVolumeL float64) error {
	if !e.Config.CanScale || e.Config.TankSizeFixed {
		return hpwherr.New(hpwherr.InvalidConfiguration, "engine: this configuration does not permit tank rescaling")
	}
	if newVolumeL <= 0 {
		return hpwherr.New(hpwherr.InvalidConfiguration, "engine: scaled volume must be positive")
	}
	ratio := newVolumeL / e.Tank.VolumeL
	if err := e.Tank.ScaleVolume(newVolumeL); err != nil {
		return err
	}
	for _, s := range e.Sources {
		switch src := s.(type) {
		case *heatsource.Condenser:
			if err := src.ScaleInputPower(ratio); err != nil {
				return err
			}
		case *heatsource.Resistance:
			if err := src.SetResistanceCapacity(src.PowerKW * ratio); err != nil {
				return err
			}
		}
	}
	return nil
}

// sourceFamilyMaxSetpoint returns the maximum setpoint s's family can
// deliver to, per spec §7's "setpoint above max allowable for the
// source family". ok is false for source types with no such ceiling.
func sourceFamilyMaxSetpoint(s heatsource.HeatSource) (max float64, ok bool) {
	switch src := s.(type) {
	case *heatsource.Condenser:
		return src.MaxSetpoint, true
	case *heatsource.Resistance:
		return src.MaxT, true
	default:
		return 0, false
	}
}

func isCondenser(s heatsource.HeatSource) bool {
	_, ok := s.(*heatsource.Condenser)
	return ok
}

func isResistance(s heatsource.HeatSource) bool {
	_, ok := s.(*heatsource.Resistance)
	return ok
}

// RunOneStep advances the simulation by dtMin minutes, implementing the
// eight-step procedure of spec §4.7.
func (e *Engine) RunOneStep(in StepInput) (StepOutput, error) {
	if in.DtMin <= 0 {
		return StepOutput{}, hpwherr.New(hpwherr.InvalidInput, "runOneStep: dt must be positive")
	}
	if in.ExtraNodePowerKW != nil && len(in.ExtraNodePowerKW) != e.Tank.N {
		return StepOutput{}, hpwherr.New(hpwherr.InvalidConfiguration, "runOneStep: extra node-power vector length mismatch")
	}

	heatContentBefore := e.Tank.HeatContent()

	// step 1: advect/draw/lose.
	var secondary *tank.SecondaryInlet
	if in.SecondaryDrawVolumeL > 0 {
		secondary = &tank.SecondaryInlet{VolumeL: in.SecondaryDrawVolumeL, InletT: in.SecondaryInletT}
	}
	drawResult, err := e.Tank.AdvectDrawAndLose(in.DrawVolumeL, in.InletT, in.AmbientT, secondary, in.DtMin)
	if err != nil {
		return StepOutput{}, err
	}

	for _, s := range e.Sources {
		s.ResetStepAccumulators()
	}

	// step 2: lockout + DR eligibility. DR forcing is tracked separately
	// from s.IsLockedOut(), which reflects only the environment/hysteresis
	// lockout the source itself is responsible for.
	ineligible := make(map[heatsource.HeatSource]bool, len(e.Sources))
	for _, s := range e.Sources {
		locked := s.ToLockOrUnlock(in.ExternalT)
		if locked {
			ineligible[s] = true
			continue
		}
		if in.DRMode.has(DRLockCompressor) && isCondenser(s) {
			ineligible[s] = true
		}
		if in.DRMode.has(DRLockResistance) && isResistance(s) {
			ineligible[s] = true
		}
	}

	// step 3: engagement selection.
	topOff := in.DRMode.has(DRTopOffOnce)
	if in.DRMode.has(DRTopOffTimer) {
		e.topOffTimerElapsedMin += in.DtMin
		limit := e.Config.TopOffTimerLimitMin
		if limit <= 0 || e.topOffTimerElapsedMin >= limit {
			topOff = true
			e.topOffTimerElapsedMin = 0
		}
	} else {
		e.topOffTimerElapsedMin = 0
	}

	forced := make(map[heatsource.HeatSource]bool)
	if topOff {
		for _, s := range e.Sources {
			if ineligible[s] {
				continue
			}
			if isCondenser(s) && !anyForced(forced, isCondenser) {
				forced[s] = true
			}
		}
		var bottom *heatsource.Resistance
		for _, s := range e.Sources {
			r, ok := s.(*heatsource.Resistance)
			if !ok || ineligible[s] {
				continue
			}
			if bottom == nil || r.ElementNode < bottom.ElementNode {
				bottom = r
			}
		}
		if bottom != nil {
			forced[bottom] = true
		}
	}

	var vip heatsource.HeatSource
	for _, s := range e.Sources {
		if s.IsVIP() {
			vip = s
			break
		}
	}
	if vip != nil {
		decideEngagement(vip, ineligible[vip], forced[vip], e.Tank.T, e.Config.SetpointT, in.InletT, in.MainsT)
	}
	vipActive := vip != nil && vip.IsEngaged()

	for _, s := range e.Sources {
		if s == vip {
			continue
		}
		if vipActive && !s.IsEngaged() && !forced[s] {
			// VIP suppresses new non-VIP starts this step (spec §4.7
			// step 3), but a source already running continues to be
			// evaluated normally below.
			s.Disengage()
			continue
		}
		decideEngagement(s, ineligible[s], forced[s], e.Tank.T, e.Config.SetpointT, in.InletT, in.MainsT)
	}

	// step 4: addHeat in priority order. Every engaged source, and its
	// engaged companion, is given the full step; there is no remaining-time
	// pool decremented between sources. A follower takes over for the time
	// its leader left unused when the leader shuts off mid-step.
	sourceOut := make(map[heatsource.HeatSource]*SourceStepOutput, len(e.Sources))
	processed := make(map[heatsource.HeatSource]bool, len(e.Sources))
	var totalEnergyToTankKJ float64

	for _, s := range e.Sources {
		if processed[s] || !s.IsEngaged() {
			continue
		}
		processed[s] = true

		consumed, addErr := s.AddHeat(e.Tank, in.ExternalT, e.Config.SetpointT, in.DtMin)
		if addErr != nil {
			return StepOutput{}, addErr
		}
		sourceOut[s] = recordSource(s)
		totalEnergyToTankKJ += s.EnergyOutKJ()

		if companion := s.Companion(); companion != nil && companion.IsEngaged() && !processed[companion] {
			processed[companion] = true
			if _, cErr := companion.AddHeat(e.Tank, in.ExternalT, e.Config.SetpointT, in.DtMin); cErr != nil {
				return StepOutput{}, cErr
			}
			sourceOut[companion] = recordSource(companion)
			totalEnergyToTankKJ += companion.EnergyOutKJ()
		}

		if leftover := in.DtMin - consumed; leftover > 1e-9 && s.ShutsOff(e.Tank.T, e.Config.SetpointT, in.InletT, in.MainsT) {
			if follower := s.Follower(); follower != nil && !processed[follower] {
				processed[follower] = true
				follower.Engage()
				if _, fErr := follower.AddHeat(e.Tank, in.ExternalT, e.Config.SetpointT, leftover); fErr != nil {
					return StepOutput{}, fErr
				}
				sourceOut[follower] = recordSource(follower)
				totalEnergyToTankKJ += follower.EnergyOutKJ()
			}
		}
	}

	// step 5: extra node-power direct deposit, then mixInversions.
	if in.ExtraNodePowerKW != nil {
		for i, p := range in.ExtraNodePowerKW {
			if p == 0 {
				continue
			}
			depositKJ := p * in.DtMin * 60
			e.Tank.T[i] += depositKJ / e.Tank.Cn
			totalEnergyToTankKJ += depositKJ
		}
		e.Tank.MixInversions()
	}

	// step 6: SoC recompute.
	out := StepOutput{
		OutletT:       drawResult.OutletT,
		TankT:         append([]float64(nil), e.Tank.T...),
		MeanT:         e.Tank.MeanT(),
		DrawEnergyKJ:  drawResult.DrawEnergyKJ,
		StandbyLossKJ: drawResult.StandbyLossKJ,
	}
	if e.Config.SoCLogic != nil {
		out.HasSoC = true
		out.SoC = e.Config.SoCLogic.ComputeSoC(e.Tank.T, e.Config.SetpointT, in.MainsT)
	}

	// step 7: per-step output recording, in configured order.
	out.Sources = make([]SourceStepOutput, 0, len(e.Sources))
	for _, s := range e.Sources {
		if rec, ok := sourceOut[s]; ok {
			rec.IsLockedOut = s.IsLockedOut()
			out.Sources = append(out.Sources, *rec)
			continue
		}
		out.Sources = append(out.Sources, SourceStepOutput{
			Name:        s.Name(),
			IsRunning:   s.IsEngaged(),
			IsLockedOut: s.IsLockedOut(),
		})
	}

	// step 8: energy-balance closure.
	heatContentAfter := e.Tank.HeatContent()
	deltaHeatContent := heatContentAfter - heatContentBefore
	predicted := totalEnergyToTankKJ - drawResult.DrawEnergyKJ - drawResult.StandbyLossKJ
	tol := e.Config.EnergyBalanceTolerance * math.Max(math.Abs(deltaHeatContent), 1)
	if math.Abs(deltaHeatContent-predicted) > tol {
		return out, hpwherr.Newf(hpwherr.EnergyImbalance, "runOneStep: energy balance off by %.6g kJ (tolerance %.6g)", deltaHeatContent-predicted, tol)
	}

	return out, nil
}

func anyForced(forced map[heatsource.HeatSource]bool, kind func(heatsource.HeatSource) bool) bool {
	for s, v := range forced {
		if v && kind(s) {
			return true
		}
	}
	return false
}

// decideEngagement applies spec §4.7 step 3's per-source state machine:
// locked sources turn off; forced (top-off) sources turn on regardless of
// shouldHeat; already-engaged sources stay on until shutsOff; disengaged
// sources turn on when shouldHeat holds (standby cycle-guard is folded
// into Base.ShouldHeat when the source is currently off).
func decideEngagement(s heatsource.HeatSource, locked, forced bool, nodeT []float64, setpointT, inletT, mainsT float64) {
	switch {
	case locked:
		s.Disengage()
	case forced:
		s.Engage()
	case s.IsEngaged():
		if s.ShutsOff(nodeT, setpointT, inletT, mainsT) {
			s.Disengage()
		}
	default:
		if s.ShouldHeat(nodeT, setpointT, inletT, mainsT) {
			s.Engage()
		}
	}
}

func recordSource(s heatsource.HeatSource) *SourceStepOutput {
	rec := &SourceStepOutput{
		Name:       s.Name(),
		IsRunning:  s.IsEngaged(),
		RuntimeMin: s.Runtime(),
		EnergyInKJ: s.EnergyInKJ(),
		EnergyOutKJ: s.EnergyOutKJ(),
	}
	if c, ok := s.(*heatsource.Condenser); ok {
		rec.CondenserInletT, rec.CondenserOutletT = c.CondenserInletOutlet()
		rec.ExternalVolumeHeatedL = c.ExternalVolumeHeated()
	}
	return rec
}
