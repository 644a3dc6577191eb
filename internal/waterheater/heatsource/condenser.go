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
	"hpwhsim/internal/waterheater/hpwherr"
	"hpwhsim/internal/waterheater/perfmap"
	"hpwhsim/internal/waterheater/simutil"
	"hpwhsim/internal/waterheater/tank"
	"hpwhsim/pkg/logger"
)

// CoilConfig selects a Condenser's heat-exchange geometry (spec §3).
type CoilConfig int

const (
	Submerged CoilConfig = iota
	Wrapped
	External
)

// PerformanceSource is satisfied by both perfmap.Grid and
// perfmap.PolynomialSource: "an alternative value source with identical
// contract" (spec §4.2).
type PerformanceSource interface {
	Evaluate(coords ...float64) (perfmap.Point, error)
}

// DefrostPoint is one breakpoint of a piecewise-linear defrost derate
// curve against evaporator-air temperature.
type DefrostPoint struct {
	EnvT   float64
	Derate float64
}

// ResistanceDefrost is the auxiliary resistance-defrost model: engages
// below onBelowT, lifting the effective envT seen by the performance
// source and adding its own input power to the reported total.
type ResistanceDefrost struct {
	InputPowerKW  float64
	ConstantLiftC float64
	OnBelowT      float64
}

// Condenser is the heat-pump concrete heat source (spec §3, §4.5).
type Condenser struct {
	*Base

	Configuration CoilConfig
	IsMultipass   bool
	MPFlowRateLPS float64

	MaxSetpoint float64

	HasSecondaryHX  bool
	ColdSideOffset  float64
	HotSideOffset   float64
	ExtraPumpPowerKW float64

	DoDefrost  bool
	DefrostMap []DefrostPoint

	ResistanceDefrost *ResistanceDefrost

	// ExternalOutletHeight is the tank node water is drawn from to send to
	// the external coil (conventionally the bottom node); ExternalInletHeight
	// is where the heated return enters (conventionally the top node).
	ExternalInletHeight  int
	ExternalOutletHeight int

	InputPowerScale float64
	COPScale        float64

	Perf PerformanceSource

	lastCondenserInletT  float64
	lastCondenserOutletT float64
	externalVolumeHeated float64
}

// NewCondenser constructs a Condenser. perf is the performance source
// (a *perfmap.Grid or *perfmap.PolynomialSource); its axis count must
// match configuration (2 for Submerged/Wrapped, 2 or 3 for External).
func NewCondenser(name string, cfg CoilConfig, perf PerformanceSource, condensity []float64, minT, maxT, hysteresis, maxSetpoint float64, courier logger.Courier) (*Condenser, error) {
	if maxSetpoint <= 0 {
		return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "condenser %q: maxSetpoint must be positive", name)
	}
	base, err := NewBase(name, condensity, minT, maxT, hysteresis, CondensitySize, courier)
	if err != nil {
		return nil, err
	}
	return &Condenser{
		Base:            base,
		Configuration:   cfg,
		MaxSetpoint:     maxSetpoint,
		Perf:            perf,
		InputPowerScale: 1,
		COPScale:        1,
	}, nil
}

func (c *Condenser) isExternal() bool { return c.Configuration == External }

// ScaleInputPower multiplies InputPowerScale by ratio, permanently
// rescaling every future performance-map lookup's rated input power
// without touching the underlying map itself. Used by
// engine.Engine.ScaleToVolume to rescale a condenser's capacity in
// proportion to a resized tank.
func (c *Condenser) ScaleInputPower(ratio float64) error {
	if ratio <= 0 {
		return hpwherr.Newf(hpwherr.InvalidConfiguration, "condenser %q: scale ratio must be positive", c.Name())
	}
	c.InputPowerScale *= ratio
	return nil
}

// ResetStepAccumulators clears the common runtime/energy accumulators
// plus the condenser-specific per-step inlet/outlet/volume trackers. The
// dispatcher calls this for every source at the start of each step (spec
// §4.7), not only on an off->on transition, since runtime/energy are
// explicitly per-step quantities.
func (c *Condenser) ResetStepAccumulators() {
	c.Base.ResetStepAccumulators()
	c.lastCondenserInletT = 0
	c.lastCondenserOutletT = 0
	c.externalVolumeHeated = 0
}

// MaxedOut reports whether the condenser has already pushed its coupled
// tank region to its ceiling this step (spec §4.3: "condenser leaving
// water would exceed maxSetpoint").
func (c *Condenser) MaxedOut() bool {
	return maxedOutByTemp(c.lastCondenserOutletT, c.MaxSetpoint)
}

// ShouldLockOut and ToLockOrUnlock shadow Base's two-argument helpers,
// feeding in this condenser's own MaxedOut reading.
func (c *Condenser) ShouldLockOut(envT float64) bool {
	return c.Base.ShouldLockOut(envT, c.MaxedOut())
}
func (c *Condenser) ToLockOrUnlock(envT float64) bool {
	return c.Base.ToLockOrUnlock(envT, c.MaxedOut())
}

// CalcHeatDistribution implements spec §4.3's Wrapped-condenser shape for
// Submerged and Wrapped configurations; External sources distribute
// nothing via this path (they use the per-pass mixing procedure in
// addHeatExternal instead).
func (c *Condenser) CalcHeatDistribution(tk *tank.Tank, setpointT float64) []float64 {
	if c.isExternal() {
		return nil
	}
	lowestNode := c.LowestNode(tk.N)
	shrinkage := c.Tshrinkage()
	return simutil.CalcThermalDist(shrinkage, lowestNode, tk.T, setpointT)
}

// defrostDerate returns the piecewise-linear COP multiplier for envT,
// 1 (no derate) outside the declared range or when defrost is disabled.
// Grounded on Condenser::defrostDerate.
func (c *Condenser) defrostDerate(envT float64) float64 {
	if !c.DoDefrost || len(c.DefrostMap) == 0 {
		return 1
	}
	pts := c.DefrostMap
	if envT < pts[0].EnvT || envT > pts[len(pts)-1].EnvT {
		return 1
	}
	for i := 0; i < len(pts)-1; i++ {
		if envT >= pts[i].EnvT && envT <= pts[i+1].EnvT {
			t := (envT - pts[i].EnvT) / (pts[i+1].EnvT - pts[i].EnvT)
			return pts[i].Derate + t*(pts[i+1].Derate-pts[i].Derate)
		}
	}
	return 1
}

// evaluatePerformance wraps the raw performance-source lookup with every
// Condenser-level adjustment (spec §4.2): scale factors, defrost derate,
// low-airflow derate, resistance-defrost envT lift and added input power.
func (c *Condenser) evaluatePerformance(envT, sourceT float64, extraAxis ...float64) (perfmap.Point, error) {
	effectiveEnvT := envT
	var auxInputPowerKW float64
	if c.ResistanceDefrost != nil && envT < c.ResistanceDefrost.OnBelowT {
		effectiveEnvT += c.ResistanceDefrost.ConstantLiftC
		auxInputPowerKW = c.ResistanceDefrost.InputPowerKW
	}

	coords := append([]float64{effectiveEnvT, sourceT}, extraAxis...)
	pt, err := c.Perf.Evaluate(coords...)
	if err != nil {
		return perfmap.Point{}, err
	}

	pt.InputPowerKW *= c.InputPowerScale
	pt.COP *= c.COPScale

	if derate := c.defrostDerate(envT); derate != 1 {
		pt.COP *= derate
	}
	if c.AirflowFreedom < 1 {
		pt.COP *= 0.00056*(375*c.AirflowFreedom) + 0.79
	}

	if pt.COP < 1 && c.Courier != nil {
		c.Courier.Warn("condenser %q: COP %.3f below 1 at envT=%.2f", c.Name(), pt.COP, envT)
	}
	if pt.COP < 0 && c.Courier != nil {
		c.Courier.Warn("condenser %q: negative COP %.3f at envT=%.2f", c.Name(), pt.COP, envT)
	}

	pt.InputPowerKW += auxInputPowerKW
	return pt, nil
}

// AddHeat dispatches to the Submerged/Wrapped integrated path or one of
// the two external paths per spec §4.5.
func (c *Condenser) AddHeat(tk *tank.Tank, envT, setpointT, remainingTimeMin float64) (float64, error) {
	switch {
	case c.isExternal() && c.IsMultipass:
		return c.addHeatExternalMultipass(tk, envT, setpointT, remainingTimeMin)
	case c.isExternal():
		return c.addHeatExternal(tk, envT, setpointT, remainingTimeMin)
	default:
		return c.addHeatIntegrated(tk, envT, setpointT, remainingTimeMin)
	}
}

// addHeatIntegrated is the Submerged/Wrapped path (spec §4.5 first path).
func (c *Condenser) addHeatIntegrated(tk *tank.Tank, envT, setpointT, remainingTimeMin float64) (float64, error) {
	condenserT := c.CondenserTAt(tk)
	perf, err := c.evaluatePerformance(envT, condenserT)
	if err != nil {
		return 0, err
	}
	c.lastCondenserInletT = condenserT

	deltaQ := perf.InputPowerKW * perf.COP * remainingTimeMin * 60
	if deltaQ <= 0 {
		return 0, nil
	}
	maxT := setpointT
	if c.MaxSetpoint < maxT {
		maxT = c.MaxSetpoint
	}
	dist := c.CalcHeatDistribution(tk, setpointT)
	leftover := tk.AddHeatDistributed(dist, deltaQ, maxT)
	c.lastCondenserOutletT = c.CondenserTAt(tk)

	runtime := (1 - leftover/deltaQ) * remainingTimeMin
	if runtime < 0 {
		runtime = 0
	}
	if runtime > remainingTimeMin {
		runtime = remainingTimeMin
	}
	inputKJ := perf.InputPowerKW * runtime * 60
	if c.HasSecondaryHX {
		inputKJ += c.ExtraPumpPowerKW * runtime * 60
	}
	outputKJ := deltaQ - leftover
	if err := c.AccumulateRuntime(runtime, inputKJ, outputKJ); err != nil {
		return 0, err
	}
	return runtime, nil
}

// addHeatExternal is the single-pass external path (spec §4.5 second
// path): iterate passes until time is exhausted or a shut-off predicate
// would trip, mixing the tank column by the pass fraction each time.
func (c *Condenser) addHeatExternal(tk *tank.Tank, envT, setpointT, remainingTimeMin float64) (float64, error) {
	targetT := setpointT
	if c.MaxSetpoint < targetT {
		targetT = c.MaxSetpoint
	}

	consumedTotal := 0.0
	var totalInputKJ, totalOutputKJ float64
	var weightedInletT, weightedOutletT, weightSum float64

	for remainingTimeMin > 1e-9 {
		outletNodeT := tk.T[c.ExternalOutletHeight]
		if targetT <= outletNodeT {
			break
		}
		perf, err := c.evaluatePerformance(envT, outletNodeT)
		if err != nil {
			return consumedTotal, err
		}
		if perf.InputPowerKW <= 0 || perf.COP <= 0 {
			break
		}

		nodeQ := tk.Cn * (targetT - outletNodeT)
		available := perf.InputPowerKW * perf.COP * remainingTimeMin * 60
		nodeFrac := available / nodeQ
		if nodeFrac > 1 {
			nodeFrac = 1
		}
		for i := range c.ShutOffLogic {
			if frac, ok := c.fractToMeetComparisonExternal(&c.ShutOffLogic[i], tk, targetT, setpointT, 0, 0); ok && frac < nodeFrac {
				nodeFrac = frac
			}
		}

		consumedTime := (nodeFrac * nodeQ) / (perf.InputPowerKW * perf.COP * 60)
		if consumedTime > remainingTimeMin {
			consumedTime = remainingTimeMin
		}

		c.mixExternalPass(tk, nodeFrac, targetT)
		tk.MixInversions()

		totalInputKJ += perf.InputPowerKW * consumedTime * 60
		totalOutputKJ += nodeQ * nodeFrac
		c.externalVolumeHeated += nodeFrac * (tk.VolumeL / float64(tk.N))
		weightedInletT += tk.T[c.ExternalInletHeight] * consumedTime
		weightedOutletT += outletNodeT * consumedTime
		weightSum += consumedTime

		consumedTotal += consumedTime
		remainingTimeMin -= consumedTime

		if c.ShutsOff(tk.T, setpointT, 0, 0) {
			break
		}
		if consumedTime <= 1e-9 {
			break
		}
	}

	if weightSum > 0 {
		c.lastCondenserInletT = weightedInletT / weightSum
		c.lastCondenserOutletT = weightedOutletT / weightSum
	}
	if c.HasSecondaryHX {
		totalInputKJ += c.ExtraPumpPowerKW * consumedTotal * 60
	}
	if err := c.AccumulateRuntime(consumedTotal, totalInputKJ, totalOutputKJ); err != nil {
		return 0, err
	}
	return consumedTotal, nil
}

// mixExternalPass mixes each node, walking from the external outlet toward
// the inlet, with its neighbor on the inlet side by nodeFrac; the inlet
// node mixes with inlet water assumed at targetT (spec §4.5 step 8).
func (c *Condenser) mixExternalPass(tk *tank.Tank, nodeFrac, targetT float64) {
	hi, lo := c.ExternalOutletHeight, c.ExternalInletHeight
	step := 1
	if hi < lo {
		step = -1
	}
	for i := hi; ; i -= step {
		var source float64
		if i == lo {
			source = targetT
		} else {
			source = tk.T[i-step]
		}
		tk.T[i] += nodeFrac * (source - tk.T[i])
		if i == lo {
			break
		}
	}
}

// fractToMeetComparisonExternal returns the fraction of the next pass
// that would bring l's weighted temperature to its threshold, so a pass
// can be clamped to stop exactly at a shut-off boundary instead of
// overshooting it (spec §4.3). targetT is the pass's mixing target, the
// same value mixExternalPass would be called with; extraOutletPerFrac
// accounts for addHeatExternalMultipass's additional per-fraction raise
// of the outlet node after mixing. A predicate already past its threshold
// yields frac 0 with ok true, so the pass stops before mixing. ok is
// false when l cannot trip within this pass: state-of-charge logics
// aren't linear in nodeFrac, and a predicate that stays short of its
// threshold through a full pass needs no clamp.
func (c *Condenser) fractToMeetComparisonExternal(l *HeatingLogic, tk *tank.Tank, targetT, setpointT, inletT, extraOutletPerFrac float64) (frac float64, ok bool) {
	if l.Kind != TemperatureBased {
		return 0, false
	}

	hi, lo := c.ExternalOutletHeight, c.ExternalInletHeight
	step := 1
	if hi < lo {
		step = -1
	}
	source := make(map[int]float64)
	for i := hi; ; i -= step {
		if i == lo {
			source[i] = targetT
		} else {
			source[i] = tk.T[i-step]
		}
		if i == lo {
			break
		}
	}

	valueAt := func(f float64) float64 {
		var sumW, sumV float64
		for _, term := range l.Terms {
			var v float64
			switch {
			case term.IsInletT:
				v = inletT
			case term.IsSetpoint:
				v = setpointT
			default:
				v = tk.T[term.Node]
				if src, inPass := source[term.Node]; inPass {
					v += f * (src - v)
				}
				if term.Node == hi {
					v += f * extraOutletPerFrac
				}
			}
			if !l.IsAbsolute {
				v = setpointT - v
			}
			sumV += term.Weight * v
			sumW += term.Weight
		}
		if sumW == 0 {
			return 0
		}
		return sumV / sumW
	}

	v0, v1 := valueAt(0), valueAt(1)
	if l.tripped(v0) {
		return 0, true
	}
	if !l.tripped(v1) || v1 == v0 {
		return 0, false
	}
	f := (l.DecisionPoint - v0) / (v1 - v0)
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return f, true
}

// addHeatExternalMultipass is the multi-pass external path (spec §4.5
// third path): per-pass deltaT fixed by flow rate and power; mix the
// whole tank uniformly toward the outlet before raising it.
func (c *Condenser) addHeatExternalMultipass(tk *tank.Tank, envT, setpointT, remainingTimeMin float64) (float64, error) {
	targetT := setpointT
	if c.MaxSetpoint < targetT {
		targetT = c.MaxSetpoint
	}
	nodeVolumeL := tk.VolumeL / float64(tk.N)

	consumedTotal := 0.0
	var totalInputKJ, totalOutputKJ float64

	for remainingTimeMin > 1e-9 {
		outletNodeT := tk.T[c.ExternalOutletHeight]
		if targetT <= outletNodeT {
			break
		}
		perf, err := c.evaluatePerformance(envT, outletNodeT)
		if err != nil {
			return consumedTotal, err
		}
		if perf.InputPowerKW <= 0 || perf.COP <= 0 || c.MPFlowRateLPS <= 0 {
			break
		}

		deltaT := perf.InputPowerKW * perf.COP / (c.MPFlowRateLPS * tank.WaterRhoCKJPerLK)
		if deltaT <= 0 {
			break
		}

		nodeFrac := (c.MPFlowRateLPS * remainingTimeMin * 60) / nodeVolumeL
		if nodeFrac > 1 {
			nodeFrac = 1
		}
		for i := range c.ShutOffLogic {
			if frac, ok := c.fractToMeetComparisonExternal(&c.ShutOffLogic[i], tk, tk.T[c.ExternalInletHeight], setpointT, 0, deltaT); ok && frac < nodeFrac {
				nodeFrac = frac
			}
		}
		consumedTime := (nodeFrac * nodeVolumeL) / (c.MPFlowRateLPS * 60)
		if consumedTime > remainingTimeMin {
			consumedTime = remainingTimeMin
		}

		c.mixExternalPass(tk, nodeFrac, tk.T[c.ExternalInletHeight])
		tk.T[c.ExternalOutletHeight] += deltaT * nodeFrac
		tk.MixInversions()

		energyKJ := tk.Cn * deltaT * nodeFrac
		totalInputKJ += perf.InputPowerKW * consumedTime * 60
		totalOutputKJ += energyKJ
		c.externalVolumeHeated += c.MPFlowRateLPS * consumedTime * 60
		consumedTotal += consumedTime
		remainingTimeMin -= consumedTime

		if c.ShutsOff(tk.T, setpointT, 0, 0) {
			break
		}
		if consumedTime <= 1e-9 {
			break
		}
	}

	c.lastCondenserOutletT = tk.T[c.ExternalOutletHeight]
	c.lastCondenserInletT = tk.T[c.ExternalInletHeight]
	if c.HasSecondaryHX {
		totalInputKJ += c.ExtraPumpPowerKW * consumedTotal * 60
	}
	if err := c.AccumulateRuntime(consumedTotal, totalInputKJ, totalOutputKJ); err != nil {
		return 0, err
	}
	return consumedTotal, nil
}

// CondenserInletOutlet returns the step's condenser inlet/outlet
// temperatures for step-output reporting (spec §6). The external
// single-pass path reports pass values weighted by pass time; the
// integrated path reports the condensity-weighted tank temperature before
// and after heating, and the multi-pass path the inlet and outlet node
// temperatures at the end of the step.
func (c *Condenser) CondenserInletOutlet() (inletT, outletT float64) {
	return c.lastCondenserInletT, c.lastCondenserOutletT
}

// ExternalVolumeHeated returns the externally-metered volume heated this
// step (nonzero only for external configurations that meter flow
// directly; spec §6's externalVolumeHeated output).
func (c *Condenser) ExternalVolumeHeated() float64 { return c.externalVolumeHeated }
