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

// Package metrics implements the two standard-test drivers of spec §4.8:
// firstHourRating and run24hrTest. Both are built entirely on Engine's
// public RunOneStep contract (spec §1: "otherwise decoupled from
// simulation internals"); neither reaches into Tank or HeatSource state
// directly. Grounded on the DOE Uniform Energy Factor test method
// (10 CFR Part 430 Subpart B, Appendix E) that
// original_source/test/firstHourRating*.cc exercises against HPWHsim,
// and on the teacher's single synchronous step-loop shape
// (internal/controller/controller.go, no longer in this tree) that
// Dispatcher.RunOneStep itself already generalizes.
package metrics

import (
	"hpwhsim/internal/waterheater/engine"
	"hpwhsim/internal/waterheater/hpwherr"
)

// RatingClass is the DOE first-hour-rating draw-volume classification.
type RatingClass int

const (
	VerySmall RatingClass = iota
	Low
	Medium
	High
)

func (c RatingClass) String() string {
	switch c {
	case VerySmall:
		return "VerySmall"
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	default:
		return "Unknown"
	}
}

// Liters-equivalent of the DOE 10 CFR 430 Appendix E first-hour-rating
// bands, expressed in gallons in the standard (18, 51, 75 gal) and
// converted to the engine's internal liter scale.
const (
	bandLowL    = 68.1  // 18 gal
	bandMediumL = 193.1 // 51 gal
	bandHighL   = 283.9 // 75 gal
)

func classify(drawnVolumeL float64) RatingClass {
	switch {
	case drawnVolumeL < bandLowL:
		return VerySmall
	case drawnVolumeL < bandMediumL:
		return Low
	case drawnVolumeL < bandHighL:
		return Medium
	default:
		return High
	}
}

// Rating is the first-hour-rating output (spec §6 "Metrics output").
type Rating struct {
	Class        RatingClass
	DrawnVolumeL float64
}

// FirstHourRatingInput bundles the schedule held constant through the
// test (spec §4.8: "repeatedly draw at a fixed flow... measuring
// cumulative volume over the test window").
type FirstHourRatingInput struct {
	DrawFlowLPerMin float64
	InletT          float64
	AmbientT        float64
	ExternalT       float64
	MainsT          float64
	// DropThresholdC is how far below the first-step outlet reading the
	// outlet temperature must fall to end the test.
	DropThresholdC float64
}

// FirstHourRating drives e one minute at a time, drawing continuously at
// in.DrawFlowLPerMin, until the tank's outlet temperature falls more than
// DropThresholdC below its value at the first draw, or 60 minutes elapse
// (whichever governs the standard's "test window"). It returns the
// cumulative volume drawn and the resulting DOE band (spec §4.8, §8
// "First-hour-rating classification").
func FirstHourRating(e *engine.Engine, in FirstHourRatingInput) (Rating, error) {
	if in.DrawFlowLPerMin <= 0 {
		return Rating{}, hpwherr.New(hpwherr.InvalidInput, "firstHourRating: draw flow must be positive")
	}
	dropThreshold := in.DropThresholdC
	if dropThreshold <= 0 {
		dropThreshold = 15.0 * 5 / 9 // DOE appendix E default: a 15 degF drop, ~8.3 C.
	}

	const testWindowMin = 60
	var drawnVolumeL float64
	var initialOutletT float64
	haveInitial := false

	for minute := 0; minute < testWindowMin; minute++ {
		out, err := e.RunOneStep(engine.StepInput{
			DtMin:     1,
			DrawVolumeL: in.DrawFlowLPerMin,
			InletT:    in.InletT,
			AmbientT:  in.AmbientT,
			ExternalT: in.ExternalT,
			MainsT:    in.MainsT,
			DRMode:    engine.DRAllow,
		})
		if err != nil {
			return Rating{}, err
		}
		if !haveInitial {
			initialOutletT = out.OutletT
			haveInitial = true
		}
		drawnVolumeL += in.DrawFlowLPerMin
		if initialOutletT-out.OutletT > dropThreshold {
			break
		}
	}

	return Rating{Class: classify(drawnVolumeL), DrawnVolumeL: drawnVolumeL}, nil
}

// DrawEvent is one scheduled draw within a 24-hour UEF test profile:
// minuteOfDay (0-1439), volume and flow rate.
type DrawEvent struct {
	MinuteOfDay     int
	VolumeL         float64
	FlowLPerMin     float64
}

// Schedule24hr is the minute-resolution ambient/inlet context plus the
// list of draw events for one simulated day (spec §4.8 "the schedule
// implied by the rating class").
type Schedule24hr struct {
	Draws     []DrawEvent
	AmbientT  func(minuteOfDay int) float64
	ExternalT func(minuteOfDay int) float64
	InletT    float64
	MainsT    float64
}

// StandardSchedule builds the DOE Appendix E 24-hour draw pattern for a
// rating class, at a constant ambient/external temperature. The DOE
// method specifies volumes and clock times per class (Table 4.2.2); this
// reproduces the shape of that table (morning/midday/evening clusters
// scaled to the class's total daily volume) without claiming bit-exact
// agreement with every sub-draw's minute-of-day, flagged as an open
// question in DESIGN.md.
func StandardSchedule(class RatingClass, ambientT, inletT, mainsT float64) Schedule24hr {
	dailyVolumeL := map[RatingClass]float64{
		VerySmall: 170,
		Low:       250,
		Medium:    380,
		High:      570,
	}[class]

	// six draw clusters across the day, weighted to a typical residential
	// morning/midday/evening usage shape, each at the standard 3 gal/min
	// (11.4 L/min) draw flow.
	weights := []float64{0.30, 0.05, 0.10, 0.10, 0.20, 0.25}
	minutes := []int{6 * 60, 8 * 60, 12 * 60, 15 * 60, 17*60 + 30, 20 * 60}

	draws := make([]DrawEvent, 0, len(weights))
	for i, w := range weights {
		draws = append(draws, DrawEvent{
			MinuteOfDay: minutes[i],
			VolumeL:     dailyVolumeL * w,
			FlowLPerMin: 11.4,
		})
	}

	return Schedule24hr{
		Draws:    draws,
		AmbientT: func(int) float64 { return ambientT },
		ExternalT: func(int) float64 { return ambientT },
		InletT:   inletT,
		MainsT:   mainsT,
	}
}

// UEFResult is the 24-hour test output (spec §6 "Metrics output").
type UEFResult struct {
	UEF                float64
	RecoveryEfficiency float64
	DailyElectricalKWh float64
	AnnualEnergyKWh    float64
	Qualifies          bool
}

// Run24hrTest steps e at one-minute resolution through sched, integrating
// energy in, energy delivered and losses, and computing UEF, daily
// consumption and annual consumption (spec §4.8). DailyElectricalKWh is
// the day's total electrical input with no temperature adjustment
// applied, and AnnualEnergyKWh is that figure times 365. qualifyMinUEF, if
// positive, gates the Qualifies output against a program's minimum UEF
// (e.g. an ENERGY STAR tier); 0 disables the check.
func Run24hrTest(e *engine.Engine, sched Schedule24hr, qualifyMinUEF float64) (UEFResult, error) {
	const minutesPerDay = 24 * 60
	const waterRhoCKJPerLK = 4.186

	byMinute := make(map[int][]DrawEvent, len(sched.Draws))
	for _, d := range sched.Draws {
		byMinute[d.MinuteOfDay] = append(byMinute[d.MinuteOfDay], d)
	}

	var totalInputKJ, totalDeliveredKJ, totalLossKJ float64

	for minute := 0; minute < minutesPerDay; minute++ {
		var drawL float64
		for _, d := range byMinute[minute] {
			drawL += d.VolumeL
		}
		ambientT := sched.AmbientT(minute)
		externalT := ambientT
		if sched.ExternalT != nil {
			externalT = sched.ExternalT(minute)
		}

		out, err := e.RunOneStep(engine.StepInput{
			DtMin:       1,
			DrawVolumeL: drawL,
			InletT:      sched.InletT,
			AmbientT:    ambientT,
			ExternalT:   externalT,
			MainsT:      sched.MainsT,
			DRMode:      engine.DRAllow,
		})
		if err != nil {
			return UEFResult{}, err
		}

		if drawL > 0 {
			totalDeliveredKJ += drawL * waterRhoCKJPerLK * (out.OutletT - sched.InletT)
		}
		totalLossKJ += out.StandbyLossKJ
		for _, s := range out.Sources {
			totalInputKJ += s.EnergyInKJ
		}
	}

	result := UEFResult{}
	if totalInputKJ > 0 {
		result.UEF = totalDeliveredKJ / totalInputKJ
		result.RecoveryEfficiency = (totalDeliveredKJ + totalLossKJ) / totalInputKJ
	}
	const kJPerKWh = 3600.0
	result.DailyElectricalKWh = totalInputKJ / kJPerKWh
	result.AnnualEnergyKWh = result.DailyElectricalKWh * 365
	if qualifyMinUEF > 0 {
		result.Qualifies = result.UEF >= qualifyMinUEF
	}
	return result, nil
}
