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

// Package simutil holds the small set of vector/shape utilities shared by
// the tank and heat-source packages: resampling,
// normalization and the condensity-derived thermal distribution shape.
// Grounded on original_source/src/HPWHUtils.cc (getResampledValue, resample,
// normalize, findShrinkageT_C, calcThermalDist, expitFunc).
package simutil

import "math"

// TolMinValue is the floor below which a distribution entry is zeroed
// before renormalizing (mirrors HPWH::TOL_MINVALUE).
const TolMinValue = 1e-6

// GetResampledValue extracts the value spanning the fractional coordinate
// range [beginFraction, endFraction] (each in [0,1]) from sampleValues,
// treating sampleValues as N equal-width bins over the unit interval.
func GetResampledValue(sampleValues []float64, beginFraction, endFraction float64) float64 {
	if beginFraction > endFraction {
		beginFraction, endFraction = endFraction, beginFraction
	}
	if beginFraction < 0 {
		beginFraction = 0
	}
	if endFraction > 1 {
		endFraction = 1
	}

	n := float64(len(sampleValues))
	if n == 0 {
		return 0
	}
	beginIndex := int(beginFraction * n)

	previousFraction := beginFraction
	nextFraction := previousFraction

	var totValueWeight, totWeight float64
	for index := beginIndex; nextFraction < endFraction && index < len(sampleValues); index++ {
		nextFraction = float64(index+1) / n
		if nextFraction > endFraction {
			nextFraction = endFraction
		}
		weight := nextFraction - previousFraction
		totValueWeight += weight * sampleValues[index]
		totWeight += weight
		previousFraction = nextFraction
	}
	if totWeight > 0 {
		return totValueWeight / totWeight
	}
	return 0
}

// Resample replaces values (already sized) by resampling sampleValues,
// an intensive property (e.g. a temperature or a normalized distribution)
// onto a grid of len(values) equal-width bins.
func Resample(values, sampleValues []float64) bool {
	if len(sampleValues) == 0 {
		return false
	}
	n := len(values)
	for i := 0; i < n; i++ {
		begin := float64(i) / float64(n)
		end := float64(i+1) / float64(n)
		values[i] = GetResampledValue(sampleValues, begin, end)
	}
	return true
}

// ResampleToSize resamples sampleValues onto a new slice of size n.
func ResampleToSize(sampleValues []float64, n int) []float64 {
	out := make([]float64, n)
	Resample(out, sampleValues)
	return out
}

// ResampleExtensive resamples an extensive property (e.g. heat content)
// onto a grid of len(values) bins, scaling for the change in bin count.
func ResampleExtensive(values, sampleValues []float64) bool {
	if !Resample(values, sampleValues) {
		return false
	}
	scale := float64(len(sampleValues)) / float64(len(values))
	for i := range values {
		values[i] *= scale
	}
	return true
}

// Normalize rescales distribution to sum to 1, zeroing (and iteratively
// renormalizing away) entries below TolMinValue.
func Normalize(distribution []float64) {
	for {
		sum := 0.0
		for _, v := range distribution {
			sum += v
		}
		if sum <= 0 {
			for i := range distribution {
				distribution[i] = 0
			}
			return
		}
		needsAnotherPass := false
		for i, v := range distribution {
			distribution[i] = v / sum
			if distribution[i] < TolMinValue {
				if distribution[i] > 0 {
					needsAnotherPass = true
				}
				distribution[i] = 0
			}
		}
		if !needsAnotherPass {
			return
		}
	}
}

// FindLowestNode returns the index of the first nonzero entry in a length-N
// condensity, rescaled onto numTankNodes.
func FindLowestNode(condensity []float64, numTankNodes int) int {
	nodeRatio := float64(numTankNodes) / float64(len(condensity))
	for j, v := range condensity {
		if v > 0 {
			return int(nodeRatio * float64(j))
		}
	}
	return 0
}

// condensitySize is the canonical condensity vector length (spec §3).
const condensitySize = 12

// FindShrinkageT returns the Tshrinkage_C width parameter derived from the
// condensity's conditional entropy ("condentropy").
func FindShrinkageT(condensity []float64) float64 {
	const alphaTC, betaTC = 1.0, 2.0
	condentropy := 0.0
	for _, dist := range condensity {
		if dist > 0 {
			condentropy -= dist * math.Log(dist)
		}
	}
	sizeFactor := float64(len(condensity)) / float64(condensitySize)
	standardCondentropy := condentropy - math.Log(sizeFactor)
	return alphaTC + standardCondentropy*betaTC
}

// ExpitFunc is the logistic function 1/(1+e^(x-offset)).
func ExpitFunc(x, offset float64) float64 {
	return 1 / (1 + math.Exp(x-offset))
}

// CalcThermalDist computes the wrapped-condenser heat distribution shape:
// a logistic function of (T[i]-T[lowestNode])/shrinkageT modulated by
// (setpointT - T[i]), zeroed below lowestNode, then normalized.
func CalcThermalDist(shrinkageT float64, lowestNode int, nodeT []float64, setpointT float64) []float64 {
	thermalDist := make([]float64, len(nodeT))
	totDist := 0.0
	const toffsetC = 5.0 / 1.8 // 5 degF expressed in degC
	for i := range nodeT {
		dist := 0.0
		if i >= lowestNode {
			dist = ExpitFunc((nodeT[i]-nodeT[lowestNode])/shrinkageT, toffsetC)
			dist *= setpointT - nodeT[i]
			if dist < 0 {
				dist = 0
			}
		}
		thermalDist[i] = dist
		totDist += dist
	}
	if totDist > 0 {
		Normalize(thermalDist)
	} else {
		for i := range thermalDist {
			thermalDist[i] = 1 / float64(len(thermalDist))
		}
	}
	return thermalDist
}

// WeightedRangeAverage averages T over the (possibly fractional, possibly
// out-of-bounds) node-coordinate range [begin,end); coordinates outside
// [0,len(T)) are treated as fillValue. Used by Tank draw advection: it is
// the continuous form of HPWH's getResampledValue, generalized to allow
// an arbitrary fill value below/above the tank instead of clamping.
func WeightedRangeAverage(T []float64, begin, end, fillValue float64) float64 {
	if begin > end {
		begin, end = end, begin
	}
	lo := int(math.Floor(begin))
	hi := int(math.Ceil(end))
	var total, weight float64
	for idx := lo; idx < hi; idx++ {
		cellLo := float64(idx)
		cellHi := float64(idx + 1)
		overlapLo := math.Max(begin, cellLo)
		overlapHi := math.Min(end, cellHi)
		w := overlapHi - overlapLo
		if w <= 0 {
			continue
		}
		var val float64
		if idx < 0 || idx >= len(T) {
			val = fillValue
		} else {
			val = T[idx]
		}
		total += w * val
		weight += w
	}
	if weight <= 0 {
		return fillValue
	}
	return total / weight
}
