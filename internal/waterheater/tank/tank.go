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

// Package tank implements the stratified-node water tank: draw advection,
// inversion mixing, standby loss, inter-node conduction and heat-content
// accounting. Node 0 is the bottom, node N-1 the top. Grounded on the
// resample/getResampledValue shift-and-blend approach in
// original_source/src/HPWHUtils.cc, generalized in
// internal/waterheater/simutil to an arbitrary fill value so the same
// routine handles both an inlet below the tank and, in principle, an
// overflow above it.
package tank

import (
	"math"

	"hpwhsim/internal/waterheater/hpwherr"
	"hpwhsim/internal/waterheater/simutil"
	"hpwhsim/pkg/logger"
)

// WaterRhoCKJPerLK is rho*c for water: ~1 kg/L * 4.186 kJ/(kg.K).
const WaterRhoCKJPerLK = 4.186

// Tank is a stratified N-node water store.
type Tank struct {
	N int
	T []float64 // degC, index 0 = bottom, N-1 = top

	VolumeL float64
	Cn      float64 // kJ/degC per node

	UA         float64 // kW/degC, ambient conductance
	FittingsUA float64 // kW/degC, fittings conductance (added to UA)

	PrimaryInletHeight   int
	SecondaryInletHeight int

	MixesOnDraw       bool
	DoInversionMixing bool

	DoConduction        bool
	ConductivityKWPerMK float64 // effective inter-node conductivity
	NodeHeightM         float64

	HasHeatExchanger bool
	HXEffectiveness  float64 // epsilon, (0,1]

	courier logger.Courier
}

// New constructs a tank of n equal-volume nodes at a uniform initial
// temperature. n need not be validated as a multiple of 12 here; the
// engine config loader enforces that constraint (spec's node-count rule
// applies to the configured source condensity granularity, not to the
// tank type itself).
func New(n int, volumeL, initialT float64, courier logger.Courier) (*Tank, error) {
	if n <= 0 {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "tank node count must be positive")
	}
	if volumeL <= 0 {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "tank volume must be positive")
	}
	if math.IsNaN(initialT) {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "tank initial temperature is NaN")
	}
	t := &Tank{
		N:                   n,
		T:                   make([]float64, n),
		VolumeL:             volumeL,
		Cn:                  WaterRhoCKJPerLK * volumeL / float64(n),
		PrimaryInletHeight:  0,
		DoInversionMixing:   true,
		ConductivityKWPerMK: 0,
		NodeHeightM:         0,
		courier:             courier,
	}
	for i := range t.T {
		t.T[i] = initialT
	}
	return t, nil
}

// ScaleVolume rescales the tank to newVolumeL, holding node count and
// temperature profile fixed and scaling Cn and the ambient/fittings
// conductances linearly with volume. Grounded on
// original_source/test/testScaleHPWH.cc's resizeTank, which scales the
// same quantities by the same volume ratio rather than re-deriving UA
// from a new surface area.
func (t *Tank) ScaleVolume(newVolumeL float64) error {
	if newVolumeL <= 0 {
		return hpwherr.New(hpwherr.InvalidConfiguration, "tank: scaled volume must be positive")
	}
	ratio := newVolumeL / t.VolumeL
	t.VolumeL = newVolumeL
	t.Cn *= ratio
	t.UA *= ratio
	t.FittingsUA *= ratio
	return nil
}

// MeanT returns the volume-weighted (here: plain, since nodes are equal
// volume) mean tank temperature.
func (t *Tank) MeanT() float64 {
	sum := 0.0
	for _, v := range t.T {
		sum += v
	}
	return sum / float64(t.N)
}

// HeatContent returns the tank's total heat content, Sum Cn*T[i], relative
// to the 0-degree reference (spec's fixed reference).
func (t *Tank) HeatContent() float64 {
	sum := 0.0
	for _, v := range t.T {
		sum += v
	}
	return t.Cn * sum
}

// DrawResult carries the per-call outputs advectDrawAndLose needs to hand
// the dispatcher for its energy-balance close.
type DrawResult struct {
	OutletT       float64 // top-node T at the moment of the draw; 0 if no draw
	DrawEnergyKJ  float64 // net energy carried away by the draw, draw*rhoC*(outletT-inletT)
	StandbyLossKJ float64
}

// SecondaryInlet describes an optional second draw inlet active this step.
type SecondaryInlet struct {
	VolumeL float64
	InletT  float64
}

// AdvectDrawAndLose applies the primary (and optional secondary) inlet
// draw, standby loss and inter-node conduction for one step, in that
// order, then restores monotonicity via MixInversions.
func (t *Tank) AdvectDrawAndLose(drawVolumeL, inletT, ambientT float64, secondary *SecondaryInlet, dtMin float64) (DrawResult, error) {
	if drawVolumeL < 0 {
		return DrawResult{}, hpwherr.New(hpwherr.InvalidInput, "negative draw volume")
	}
	if secondary != nil && secondary.VolumeL < 0 {
		return DrawResult{}, hpwherr.New(hpwherr.InvalidInput, "negative secondary draw volume")
	}
	if math.IsNaN(inletT) || math.IsNaN(ambientT) {
		return DrawResult{}, hpwherr.New(hpwherr.InvalidInput, "NaN schedule value")
	}

	var outletT float64
	if drawVolumeL > 0 || (secondary != nil && secondary.VolumeL > 0) {
		outletT = t.T[t.N-1]
	}

	totalDrawL := drawVolumeL
	if secondary != nil {
		totalDrawL += secondary.VolumeL
	}
	drawEnergy := totalDrawL * WaterRhoCKJPerLK * (outletT - inletT)
	if secondary != nil && secondary.VolumeL > 0 {
		// the secondary stream carries its own inlet temperature.
		drawEnergy = drawVolumeL*WaterRhoCKJPerLK*(outletT-inletT) +
			secondary.VolumeL*WaterRhoCKJPerLK*(outletT-secondary.InletT)
	}

	// apply whichever inlet is lower in the tank first.
	if secondary != nil && secondary.VolumeL > 0 {
		if t.SecondaryInletHeight < t.PrimaryInletHeight {
			t.advectOneInlet(secondary.VolumeL, secondary.InletT, t.SecondaryInletHeight)
			t.advectOneInlet(drawVolumeL, inletT, t.PrimaryInletHeight)
		} else {
			t.advectOneInlet(drawVolumeL, inletT, t.PrimaryInletHeight)
			t.advectOneInlet(secondary.VolumeL, secondary.InletT, t.SecondaryInletHeight)
		}
	} else {
		t.advectOneInlet(drawVolumeL, inletT, t.PrimaryInletHeight)
	}

	if t.MixesOnDraw && totalDrawL > 0 {
		t.mixBottomThird()
	}

	standbyLoss := t.applyStandbyLoss(ambientT, dtMin)

	if t.DoConduction {
		t.applyConduction(dtMin)
	}

	if t.DoInversionMixing {
		t.MixInversions()
	}

	return DrawResult{OutletT: outletT, DrawEnergyKJ: drawEnergy, StandbyLossKJ: standbyLoss}, nil
}

// advectOneInlet shifts the column so water drawn from the top is replaced
// by inletT entering at inletHeight; nodes below inletHeight are left
// undisturbed (the common case is inletHeight 0, where every node takes
// part). drawL exceeding the tank's own volume is permitted: every node at
// or above inletHeight becomes inletT.
func (t *Tank) advectOneInlet(drawL, inletT float64, inletHeight int) {
	if drawL <= 0 {
		return
	}
	nodeVolumeL := t.VolumeL / float64(t.N)
	n := drawL / nodeVolumeL

	old := make([]float64, t.N)
	copy(old, t.T)

	for i := inletHeight; i < t.N; i++ {
		begin := float64(i) - n
		end := float64(i+1) - n
		t.T[i] = simutil.WeightedRangeAverage(old[inletHeight:], begin-float64(inletHeight), end-float64(inletHeight), inletT)
	}
}

// mixBottomThird pulls each bottom-third node one third of the way toward
// the bottom third's average, the "mixes on draw" behavior.
func (t *Tank) mixBottomThird() {
	third := t.N / 3
	if third == 0 {
		return
	}
	avg := 0.0
	for i := 0; i < third; i++ {
		avg += t.T[i]
	}
	avg /= float64(third)
	for i := 0; i < third; i++ {
		t.T[i] += (avg - t.T[i]) / 3
	}
}

// applyStandbyLoss removes ambient/fittings loss energy uniformly across
// nodes and returns the total loss in kJ.
func (t *Tank) applyStandbyLoss(ambientT, dtMin float64) float64 {
	uaEff := t.UA + t.FittingsUA
	if uaEff <= 0 {
		return 0
	}
	lossKJ := (t.MeanT() - ambientT) * uaEff * dtMin * 60
	perNode := lossKJ / float64(t.N)
	for i := range t.T {
		t.T[i] -= perNode / t.Cn
	}
	return lossKJ
}

// applyConduction runs an explicit inter-node diffusion step, subdividing
// dtMin internally as needed to keep the Fourier number at or below 1/2.
func (t *Tank) applyConduction(dtMin float64) {
	if t.ConductivityKWPerMK <= 0 || t.NodeHeightM <= 0 || t.N < 2 {
		return
	}
	// alpha has units of (kW/m.K) * m / (kJ/K) = 1/s per unit length^2;
	// Fo = alpha*dt/h^2 must stay <= 0.5 for explicit-scheme stability.
	alpha := t.ConductivityKWPerMK * t.NodeHeightM / t.Cn
	h := t.NodeHeightM
	fo := alpha * (dtMin * 60) / (h * h)
	steps := 1
	if fo > 0.5 {
		steps = int(math.Ceil(fo / 0.5))
	}
	subDtSec := (dtMin * 60) / float64(steps)
	subFo := alpha * subDtSec / (h * h)

	for s := 0; s < steps; s++ {
		next := make([]float64, t.N)
		copy(next, t.T)
		for i := 0; i < t.N; i++ {
			var left, right float64
			left = t.T[i]
			right = t.T[i]
			if i > 0 {
				left = t.T[i-1]
			}
			if i < t.N-1 {
				right = t.T[i+1]
			}
			next[i] = t.T[i] + subFo*(left-2*t.T[i]+right)
		}
		t.T = next
	}
}

// MixInversions enforces non-decreasing temperatures bottom-to-top by
// repeatedly pooling adjacent inverted layers into their mass-weighted
// (here: volume-weighted, nodes being equal volume) average. Implemented
// as the pool-adjacent-violators algorithm: scanning bottom to top and
// merging a new layer into the block below it whenever it is colder,
// which is exactly the "merge adjacent inverted layers, iterate until
// monotone" process run in a single left-to-right pass.
func (t *Tank) MixInversions() {
	type block struct {
		avg    float64
		weight float64
	}
	stack := make([]block, 0, t.N)
	for i := 0; i < t.N; i++ {
		stack = append(stack, block{avg: t.T[i], weight: 1})
		for len(stack) >= 2 && stack[len(stack)-2].avg > stack[len(stack)-1].avg {
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			merged := block{
				avg:    (a.avg*a.weight + b.avg*b.weight) / (a.weight + b.weight),
				weight: a.weight + b.weight,
			}
			stack = stack[:len(stack)-2]
			stack = append(stack, merged)
		}
	}
	idx := 0
	for _, b := range stack {
		n := int(b.weight)
		for k := 0; k < n; k++ {
			t.T[idx] = b.avg
			idx++
		}
	}
}

// AddHeatAtNode raises temperatures from node upward (inclusive), never
// exceeding maxT, and returns unabsorbed energy (kJ).
func (t *Tank) AddHeatAtNode(node int, deltaQKJ, maxT float64) float64 {
	return t.addHeatSequential(node, deltaQKJ, maxT)
}

// AddHeatAboveNode raises temperatures from node upward, exclusive of node
// itself.
func (t *Tank) AddHeatAboveNode(node int, deltaQKJ, maxT float64) float64 {
	return t.addHeatSequential(node+1, deltaQKJ, maxT)
}

func (t *Tank) addHeatSequential(fromNode int, deltaQKJ, maxT float64) float64 {
	remaining := deltaQKJ
	for i := fromNode; i < t.N && remaining > 0; i++ {
		if i < 0 {
			continue
		}
		capacity := t.Cn * (maxT - t.T[i])
		if capacity <= 0 {
			continue
		}
		add := remaining
		if add > capacity {
			add = capacity
		}
		t.T[i] += add / t.Cn
		remaining -= add
	}
	if t.DoInversionMixing {
		t.MixInversions()
	}
	return remaining
}

// AddHeatDistributed deposits deltaQ across nodes proportional to dist
// (as produced by a HeatSource's calcHeatDistribution), capping any node
// at maxT and redistributing the spillover among the remaining nodes
// proportionally until none is left or no node can absorb more. Returns
// unabsorbed energy (kJ). This is the "heat(deltaQ, maxT)" primitive
// HeatSource implementations call.
func (t *Tank) AddHeatDistributed(dist []float64, deltaQKJ, maxT float64) float64 {
	if len(dist) != t.N {
		return deltaQKJ
	}
	active := make([]float64, t.N)
	copy(active, dist)
	remaining := deltaQKJ

	for pass := 0; pass < t.N+1 && remaining > 1e-12; pass++ {
		totalWeight := 0.0
		for _, w := range active {
			totalWeight += w
		}
		if totalWeight <= 0 {
			break
		}
		spillover := 0.0
		capped := false
		for i, w := range active {
			if w <= 0 {
				continue
			}
			alloc := remaining * w / totalWeight
			capacity := t.Cn * (maxT - t.T[i])
			if capacity <= 0 {
				active[i] = 0
				spillover += alloc
				capped = true
				continue
			}
			if alloc > capacity {
				t.T[i] = maxT
				spillover += alloc - capacity
				active[i] = 0
				capped = true
			} else {
				t.T[i] += alloc / t.Cn
			}
		}
		remaining = spillover
		if !capped {
			remaining = 0
			break
		}
	}
	if t.DoInversionMixing {
		t.MixInversions()
	}
	return remaining
}

// HeatExchangerResult is the output of the heat-exchanger deposit path.
type HeatExchangerResult struct {
	OutletT      float64
	DepositedKJ  float64
	UnabsorbedKJ float64
}

// HeatExchangerPath applies epsilon-NTU heat transfer between an inlet
// stream and the tank mean, bypassing node-by-node mixing, when
// HasHeatExchanger is set. flowL is the stream volume passed this step.
func (t *Tank) HeatExchangerPath(flowL, inletT, maxT float64) HeatExchangerResult {
	if !t.HasHeatExchanger || flowL <= 0 {
		return HeatExchangerResult{OutletT: inletT}
	}
	meanT := t.MeanT()
	outletT := inletT + t.HXEffectiveness*(meanT-inletT)
	energyKJ := flowL * WaterRhoCKJPerLK * (outletT - inletT)
	if energyKJ <= 0 {
		return HeatExchangerResult{OutletT: outletT}
	}
	uniform := make([]float64, t.N)
	for i := range uniform {
		uniform[i] = 1 / float64(t.N)
	}
	leftover := t.AddHeatDistributed(uniform, energyKJ, maxT)
	return HeatExchangerResult{OutletT: outletT, DepositedKJ: energyKJ - leftover, UnabsorbedKJ: leftover}
}
