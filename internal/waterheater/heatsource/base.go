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

// Package heatsource implements the HeatSource hierarchy (common state,
// Resistance, Condenser) and the HeatingLogic predicates that gate them
// (spec §§3, 4.3-4.6). Grounded on original_source/src/HPWHHeatSource.hh
// (common state/backup/companion/follower, lockout hysteresis) and
// Condenser.hh/.cc (three addHeat paths, defrost, thermal distribution).
package heatsource

import (
	"math"

	"hpwhsim/internal/waterheater/hpwherr"
	"hpwhsim/internal/waterheater/simutil"
	"hpwhsim/internal/waterheater/tank"
	"hpwhsim/pkg/logger"
)

// CondensitySize is the canonical condensity vector length (spec §3).
const CondensitySize = 12

// HeatSource is the dispatcher-facing contract every concrete heat source
// (Resistance, Condenser) satisfies.
type HeatSource interface {
	Name() string
	IsEngaged() bool
	IsVIP() bool
	Engage()
	Disengage()
	ShouldLockOut(envT float64) bool
	ToLockOrUnlock(envT float64) bool
	IsLockedOut() bool
	ShouldHeat(nodeT []float64, setpointT, inletT, mainsT float64) bool
	ShutsOff(nodeT []float64, setpointT, inletT, mainsT float64) bool
	MaxedOut() bool
	// AddHeat advances up to remainingTimeMin of simulated time, mutating
	// tk, and returns the time (minutes) actually consumed.
	AddHeat(tk *tank.Tank, envT, setpointT, remainingTimeMin float64) (float64, error)
	CalcHeatDistribution(tk *tank.Tank, setpointT float64) []float64
	Runtime() float64
	EnergyInKJ() float64
	EnergyOutKJ() float64
	ResetStepAccumulators()
	Backup() HeatSource
	Companion() HeatSource
	Follower() HeatSource
	BackupChain() []string
}

// Base is the common HeatSource state embedded by Resistance and
// Condenser (spec §3 "HeatSource (common state)").
type Base struct {
	name string

	isOn        bool
	isLockedOut bool
	isVIP       bool

	runtime     float64
	energyInKJ  float64
	energyOutKJ float64

	MinT, MaxT           float64
	Hysteresis           float64
	DepressesTemperature bool
	AirflowFreedom       float64

	Condensity []float64

	TurnOnLogic  []HeatingLogic
	ShutOffLogic []HeatingLogic
	StandbyLogic *HeatingLogic

	backup    HeatSource
	companion HeatSource
	follower  HeatSource

	Courier logger.Courier
}

// NewBase validates and constructs the common state. numNodes is the
// owning tank's node count, used to validate logic node references and
// resample condensity if it was supplied at a different granularity.
func NewBase(name string, condensity []float64, minT, maxT, hysteresis float64, numNodes int, courier logger.Courier) (*Base, error) {
	if len(condensity) == 0 {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "heat source condensity is empty")
	}
	sum := 0.0
	for _, c := range condensity {
		if c < 0 {
			return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "heat source %q condensity has a negative entry", name)
		}
		sum += c
	}
	if sum <= 0 {
		return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "heat source %q condensity sums to zero", name)
	}
	cd := append([]float64(nil), condensity...)
	simutil.Normalize(cd)
	if len(cd) != CondensitySize {
		cd = simutil.ResampleToSize(cd, CondensitySize)
		simutil.Normalize(cd)
	}
	return &Base{
		name:           name,
		MinT:           minT,
		MaxT:           maxT,
		Hysteresis:     hysteresis,
		AirflowFreedom: 1,
		Condensity:     cd,
		Courier:        courier,
	}, nil
}

// ValidateLogic checks every configured turn-on/shut-off/standby logic
// against the owning tank's node count (spec §4.3 "logic that names an
// out-of-range node raises InvalidConfiguration at construction").
func (b *Base) ValidateLogic(numNodes int) error {
	all := append(append([]HeatingLogic{}, b.TurnOnLogic...), b.ShutOffLogic...)
	if b.StandbyLogic != nil {
		all = append(all, *b.StandbyLogic)
	}
	for i := range all {
		if err := all[i].Validate(numNodes); err != nil {
			return err
		}
	}
	return nil
}

func (b *Base) Name() string   { return b.name }
func (b *Base) IsEngaged() bool { return b.isOn }
func (b *Base) IsVIP() bool     { return b.isVIP }
func (b *Base) SetVIP(v bool)   { b.isVIP = v }

// Engage turns the source on, resetting per-step accumulators on the
// off->on transition (spec §4.3).
func (b *Base) Engage() {
	if !b.isOn {
		b.ResetStepAccumulators()
	}
	b.isOn = true
}

func (b *Base) Disengage() { b.isOn = false }

// ResetStepAccumulators zeroes the per-step runtime/energy counters.
func (b *Base) ResetStepAccumulators() {
	b.runtime = 0
	b.energyInKJ = 0
	b.energyOutKJ = 0
}

func (b *Base) Runtime() float64     { return b.runtime }
func (b *Base) EnergyInKJ() float64  { return b.energyInKJ }
func (b *Base) EnergyOutKJ() float64 { return b.energyOutKJ }

// AccumulateRuntime is called by concrete AddHeat implementations; it
// raises on a negative runtime, which spec §4.3 treats as a programming
// error.
func (b *Base) AccumulateRuntime(runtimeMin, energyInKJ, energyOutKJ float64) error {
	if runtimeMin < 0 {
		return hpwherr.Newf(hpwherr.InvalidInput, "heat source %q: negative runtime", b.name)
	}
	b.runtime += runtimeMin
	b.energyInKJ += energyInKJ
	b.energyOutKJ += energyOutKJ
	return nil
}

// ShouldLockOut implements spec §4.3: while engaged compare against the
// hysteresis-widened band; while disengaged compare against the bare
// band. maxedOut() is left to the concrete type, which passes its reading
// in as the maxedOut argument.
func (b *Base) ShouldLockOut(envT float64, maxedOut bool) bool {
	var lowT, highT float64
	if b.isOn {
		lowT, highT = b.MinT-b.Hysteresis, b.MaxT+b.Hysteresis
	} else {
		lowT, highT = b.MinT, b.MaxT
	}
	return envT < lowT || envT > highT || maxedOut
}

// ToLockOrUnlock updates and returns the lockout flag.
func (b *Base) ToLockOrUnlock(envT float64, maxedOut bool) bool {
	b.isLockedOut = b.ShouldLockOut(envT, maxedOut)
	return b.isLockedOut
}

func (b *Base) IsLockedOut() bool { return b.isLockedOut }

// ShouldHeat reports whether every turn-on logic passes, short-circuiting
// on the first failure (spec §4.3).
func (b *Base) ShouldHeat(nodeT []float64, setpointT, inletT, mainsT float64) bool {
	for i := range b.TurnOnLogic {
		if !b.TurnOnLogic[i].Evaluate(nodeT, setpointT, inletT, mainsT) {
			return false
		}
	}
	if b.StandbyLogic != nil && !b.isOn {
		return b.StandbyLogic.Evaluate(nodeT, setpointT, inletT, mainsT)
	}
	return true
}

// ShutsOff reports whether any shut-off logic holds.
func (b *Base) ShutsOff(nodeT []float64, setpointT, inletT, mainsT float64) bool {
	for i := range b.ShutOffLogic {
		if b.ShutOffLogic[i].Evaluate(nodeT, setpointT, inletT, mainsT) {
			return true
		}
	}
	return false
}

// Tshrinkage derives the wrapped-condenser distribution width from the
// condensity's conditional entropy (spec §3).
func (b *Base) Tshrinkage() float64 { return simutil.FindShrinkageT(b.Condensity) }

// LowestNode is the first tank node (rescaled to numTankNodes) with
// nonzero condensity.
func (b *Base) LowestNode(numTankNodes int) int { return simutil.FindLowestNode(b.Condensity, numTankNodes) }

// CondenserTAt returns the condensity-weighted average tank temperature
// (spec §4.5 step 1, "condenserT := weighted average of tank T over
// condensity").
func (b *Base) CondenserTAt(tk *tank.Tank) float64 {
	cd := simutil.ResampleToSize(b.Condensity, tk.N)
	simutil.Normalize(cd)
	sum := 0.0
	for i, w := range cd {
		sum += w * tk.T[i]
	}
	return sum
}

// --- linking (backup/companion/follower) ---

func (b *Base) SetBackup(h HeatSource)    { b.backup = h }
func (b *Base) SetCompanion(h HeatSource) { b.companion = h }
func (b *Base) SetFollower(h HeatSource)  { b.follower = h }

func (b *Base) Backup() HeatSource    { return b.backup }
func (b *Base) Companion() HeatSource { return b.companion }
func (b *Base) Follower() HeatSource  { return b.follower }

// BackupChain walks the backup relation, grounded on
// HPWHHeatSource::findParent, returning names from this source to the
// root. It is used only for dashboard diagnostics (SPEC_FULL.md §C.4);
// the dispatcher never calls it.
func (b *Base) BackupChain() []string {
	chain := []string{b.name}
	seen := map[string]bool{b.name: true}
	cur := b.backup
	for cur != nil {
		n := cur.Name()
		if seen[n] {
			break // acyclic within a step per spec §3; a repeat means misconfiguration
		}
		chain = append(chain, n)
		seen[n] = true
		cur = cur.Backup()
	}
	return chain
}

// maxedOutByTemp is a small shared helper: true once current (a non-NaN
// temperature) has reached maxT, used by Condenser.MaxedOut.
func maxedOutByTemp(current, maxT float64) bool {
	return !math.IsNaN(current) && current >= maxT
}
