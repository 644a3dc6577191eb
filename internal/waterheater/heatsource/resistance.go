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
	"hpwhsim/internal/waterheater/tank"
	"hpwhsim/pkg/logger"
)

// Resistance is a single electrical element at a fixed tank node (spec
// §4.4). Its condensity has a single nonzero entry, the element node.
type Resistance struct {
	*Base

	PowerKW    float64
	ElementNode int // node index, canonical (12-length) condensity scale
	MaxT        float64
}

// NewResistance constructs a Resistance whose condensity is the
// Kronecker delta at elementNode (on the canonical 12-node scale).
func NewResistance(name string, powerKW float64, elementNode int, minT, maxT, hysteresis float64, courier logger.Courier) (*Resistance, error) {
	if powerKW <= 0 {
		return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "resistance %q: power must be positive", name)
	}
	if elementNode < 0 || elementNode >= CondensitySize {
		return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "resistance %q: element node %d out of range", name, elementNode)
	}
	condensity := make([]float64, CondensitySize)
	condensity[elementNode] = 1
	base, err := NewBase(name, condensity, minT, maxT, hysteresis, CondensitySize, courier)
	if err != nil {
		return nil, err
	}
	return &Resistance{Base: base, PowerKW: powerKW, ElementNode: elementNode, MaxT: maxT}, nil
}

// SetResistanceCapacity rescales the element's power, grounded on
// original_source/test/testResistanceFcts.cc (SPEC_FULL.md §C.2).
func (r *Resistance) SetResistanceCapacity(newPowerKW float64) error {
	if newPowerKW <= 0 {
		return hpwherr.Newf(hpwherr.InvalidConfiguration, "resistance %q: capacity must be positive", r.Name())
	}
	r.PowerKW = newPowerKW
	return nil
}

// MaxedOut is always false for a resistance element; it has no
// environment-driven capacity ceiling beyond the tank's own maxT cap
// applied inside heat().
func (r *Resistance) MaxedOut() bool { return false }

// ShouldLockOut and ToLockOrUnlock shadow Base's two-argument helpers
// with the single-argument HeatSource contract, since a resistance
// element's maxedOut is always false.
func (r *Resistance) ShouldLockOut(envT float64) bool  { return r.Base.ShouldLockOut(envT, false) }
func (r *Resistance) ToLockOrUnlock(envT float64) bool { return r.Base.ToLockOrUnlock(envT, false) }

// CalcHeatDistribution is the Kronecker delta at the element node,
// resampled onto the tank's own node count.
func (r *Resistance) CalcHeatDistribution(tk *tank.Tank, setpointT float64) []float64 {
	dist := make([]float64, CondensitySize)
	dist[r.ElementNode] = 1
	if tk.N == CondensitySize {
		return dist
	}
	return resampleDelta(dist, tk.N)
}

func resampleDelta(dist []float64, n int) []float64 {
	out := make([]float64, n)
	// a Kronecker delta resamples to a single node at the scaled index,
	// since it carries no fractional spread information to preserve.
	nodeRatio := float64(n) / float64(len(dist))
	for i, v := range dist {
		if v > 0 {
			idx := int(nodeRatio * float64(i))
			if idx >= n {
				idx = n - 1
			}
			out[idx] = 1
		}
	}
	return out
}

// AddHeat implements spec §4.4: raise the element node (and, once it
// reaches maxT, the nodes above it) until dt is exhausted or the tank
// reaches maxT at that node, then track runtime/energy.
func (r *Resistance) AddHeat(tk *tank.Tank, envT, setpointT, remainingTimeMin float64) (float64, error) {
	deltaQ := r.PowerKW * remainingTimeMin * 60
	if deltaQ <= 0 {
		return 0, nil
	}
	dist := r.CalcHeatDistribution(tk, setpointT)
	leftover := tk.AddHeatDistributed(dist, deltaQ, r.MaxT)
	runtime := (1 - leftover/deltaQ) * remainingTimeMin
	if runtime < 0 {
		runtime = 0
	}
	if runtime > remainingTimeMin {
		runtime = remainingTimeMin
	}
	energy := r.PowerKW * runtime * 60
	if err := r.AccumulateRuntime(runtime, energy, energy); err != nil {
		return 0, err
	}
	return runtime, nil
}
