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

import "hpwhsim/internal/waterheater/hpwherr"

// Comparator is the direction a HeatingLogic predicate checks.
type Comparator int

const (
	Less Comparator = iota
	Greater
)

// NodeWeight is one term of a weighted-average HeatingLogic: either a
// concrete tank node, or one of the two reserved pseudo-nodes (inletT,
// setpoint).
type NodeWeight struct {
	Node       int
	Weight     float64
	IsInletT   bool
	IsSetpoint bool
}

// Kind distinguishes the two HeatingLogic variants (spec §3).
type Kind int

const (
	TemperatureBased Kind = iota
	StateOfChargeBased
)

// HeatingLogic is the tagged-variant predicate turn-on/shut-off logics are
// built from (spec §4.6).
type HeatingLogic struct {
	Kind Kind
	Name string

	// TemperatureBased fields.
	Terms         []NodeWeight
	DecisionPoint float64
	IsAbsolute    bool
	Comparator    Comparator
	IsHTShutOff   bool

	// StateOfChargeBased fields.
	TargetFraction         float64
	HysteresisFraction     float64
	MinUsefulT             float64
	UseConstantMains       bool
	ConstantMainsT         float64
	UseSetpointAsReference bool
}

// Validate checks that every referenced node index is within range,
// raising InvalidConfiguration at construction time per spec §4.3.
func (l *HeatingLogic) Validate(numNodes int) error {
	if l.Kind != TemperatureBased {
		if l.MinUsefulT <= l.ConstantMainsT && l.UseConstantMains {
			return hpwherr.New(hpwherr.InvalidInput, "state-of-charge logic: minUsefulT <= mainsT")
		}
		return nil
	}
	for _, term := range l.Terms {
		if term.IsInletT || term.IsSetpoint {
			continue
		}
		if term.Node < 0 || term.Node >= numNodes {
			return hpwherr.Newf(hpwherr.InvalidConfiguration, "heating logic %q references out-of-range node %d", l.Name, term.Node)
		}
	}
	return nil
}

func weightedAverage(terms []NodeWeight, nodeT []float64, setpointT, inletT float64, isAbsolute bool) float64 {
	var sumW, sumV float64
	for _, term := range terms {
		var v float64
		switch {
		case term.IsInletT:
			v = inletT
		case term.IsSetpoint:
			v = setpointT
		default:
			v = nodeT[term.Node]
		}
		if !isAbsolute {
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

// chargePerNode is HPWH's normalized "charge per node": the fraction of
// the way from cold to useful/setpoint a node's temperature has reached,
// clamped to 0 below the useful floor.
func chargePerNode(cold, upperRef, hot, minUseful float64) float64 {
	if hot < minUseful {
		return 0
	}
	denom := upperRef - cold
	if denom == 0 {
		return 0
	}
	return (hot - cold) / denom
}

func (l *HeatingLogic) computeSoC(nodeT []float64, setpointT float64, mainsT float64) float64 {
	cold := mainsT
	if l.UseConstantMains {
		cold = l.ConstantMainsT
	}
	upperRef := l.MinUsefulT
	if l.UseSetpointAsReference {
		upperRef = setpointT
	}
	sum := 0.0
	for _, t := range nodeT {
		sum += chargePerNode(cold, upperRef, t, l.MinUsefulT)
	}
	return sum / float64(len(nodeT))
}

// ComputeSoC exposes the state-of-charge fraction computation directly,
// for callers (the dispatcher's per-step SoC output, spec §6) that need
// the raw reading rather than Evaluate's hysteresis-banded bool.
func (l *HeatingLogic) ComputeSoC(nodeT []float64, setpointT, mainsT float64) float64 {
	return l.computeSoC(nodeT, setpointT, mainsT)
}

// Evaluate reports whether the logic's predicate holds.
func (l *HeatingLogic) Evaluate(nodeT []float64, setpointT, inletT, mainsT float64) bool {
	if l.Kind == StateOfChargeBased {
		value := l.computeSoC(nodeT, setpointT, mainsT)
		low := l.TargetFraction - l.HysteresisFraction
		high := l.TargetFraction + l.HysteresisFraction
		if l.Comparator == Less {
			return value < low
		}
		return value > high
	}
	value := weightedAverage(l.Terms, nodeT, setpointT, inletT, l.IsAbsolute)
	return l.tripped(value)
}

// tripped reports whether value has crossed DecisionPoint in the
// direction Comparator checks for. Shared by Evaluate and
// Condenser.fractToMeetComparisonExternal.
func (l *HeatingLogic) tripped(value float64) bool {
	if l.Comparator == Less {
		return value < l.DecisionPoint
	}
	return value > l.DecisionPoint
}

// --- convenience constructors (spec §4.6: "sugar"; engine must not branch
// on their identity, so these just build a TemperatureBased HeatingLogic
// from an equal-weight node region) ---

func equalWeightRegion(lo, hi int) []NodeWeight {
	terms := make([]NodeWeight, 0, hi-lo)
	for n := lo; n < hi; n++ {
		terms = append(terms, NodeWeight{Node: n, Weight: 1})
	}
	return terms
}

// TopThird builds a logic averaging the top third of nodes, relative
// decision point (setpoint - decisionDeltaC), comparator Less.
func TopThird(name string, numNodes int, decisionDeltaC float64) HeatingLogic {
	lo := numNodes - numNodes/3
	return HeatingLogic{Kind: TemperatureBased, Name: name, Terms: equalWeightRegion(lo, numNodes), DecisionPoint: decisionDeltaC, Comparator: Less}
}

// BottomThird builds a logic averaging the bottom third of nodes.
func BottomThird(name string, numNodes int, decisionDeltaC float64, cmp Comparator) HeatingLogic {
	hi := numNodes / 3
	return HeatingLogic{Kind: TemperatureBased, Name: name, Terms: equalWeightRegion(0, hi), DecisionPoint: decisionDeltaC, Comparator: cmp}
}

// BottomHalf builds a logic averaging the bottom half of nodes.
func BottomHalf(name string, numNodes int, decisionDeltaC float64, cmp Comparator) HeatingLogic {
	hi := numNodes / 2
	return HeatingLogic{Kind: TemperatureBased, Name: name, Terms: equalWeightRegion(0, hi), DecisionPoint: decisionDeltaC, Comparator: cmp}
}

// BottomTwelfth builds a logic averaging the bottom 1/12 of nodes.
func BottomTwelfth(name string, numNodes int, decisionDeltaC float64, cmp Comparator) HeatingLogic {
	hi := numNodes / 12
	if hi == 0 {
		hi = 1
	}
	return HeatingLogic{Kind: TemperatureBased, Name: name, Terms: equalWeightRegion(0, hi), DecisionPoint: decisionDeltaC, Comparator: cmp}
}

// BottomSixth builds a logic averaging the bottom 1/6 of nodes.
func BottomSixth(name string, numNodes int, decisionDeltaC float64, cmp Comparator) HeatingLogic {
	hi := numNodes / 6
	if hi == 0 {
		hi = 1
	}
	return HeatingLogic{Kind: TemperatureBased, Name: name, Terms: equalWeightRegion(0, hi), DecisionPoint: decisionDeltaC, Comparator: cmp}
}

// Standby builds the short-cycle guard: top node below setpoint by at
// least deltaC engages heating again.
func Standby(name string, numNodes int, deltaC float64) HeatingLogic {
	return HeatingLogic{
		Kind:       TemperatureBased,
		Name:       name,
		Terms:      []NodeWeight{{Node: numNodes - 1, Weight: 1}},
		DecisionPoint: deltaC,
		Comparator: Greater,
	}
}

// LargeDraw builds a logic comparing the bottom node against a large,
// fixed temperature drop to detect a big draw event.
func LargeDraw(name string, decisionDeltaC float64) HeatingLogic {
	return HeatingLogic{Kind: TemperatureBased, Name: name, Terms: []NodeWeight{{Node: 0, Weight: 1}}, DecisionPoint: decisionDeltaC, Comparator: Greater}
}

// TopNodeMaxTemp builds an absolute-value "isHTShutOff" logic on the top
// node: entering-water high-temperature cap.
func TopNodeMaxTemp(name string, numNodes int, maxT float64) HeatingLogic {
	return HeatingLogic{
		Kind:        TemperatureBased,
		Name:        name,
		Terms:       []NodeWeight{{Node: numNodes - 1, Weight: 1}},
		DecisionPoint: maxT,
		IsAbsolute:  true,
		Comparator:  Greater,
		IsHTShutOff: true,
	}
}

// BottomTwelfthMaxTemp builds an absolute-value shut-off on the bottom
// 1/12 of nodes.
func BottomTwelfthMaxTemp(name string, numNodes int, maxT float64) HeatingLogic {
	hi := numNodes / 12
	if hi == 0 {
		hi = 1
	}
	return HeatingLogic{
		Kind:        TemperatureBased,
		Name:        name,
		Terms:       equalWeightRegion(0, hi),
		DecisionPoint: maxT,
		IsAbsolute:  true,
		Comparator:  Greater,
	}
}
