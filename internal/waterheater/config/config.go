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

// Package config loads the populated configuration object spec §6 names
// as an external collaborator: tank geometry/flags, an ordered
// heat-source list (kind, condensity, logic sets, performance data) and
// engine-level parameters, from YAML. Grounded on
// pkg/modbus/modbus.config.go's gopkg.in/yaml.v3 struct-tag loading
// style. internal/waterheater/engine never imports this package -- it
// only consumes the engine.Config/tank.Tank/[]heatsource.HeatSource
// values this package builds, preserving the core's collaborator-free
// boundary (SPEC_FULL.md §A.2).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hpwhsim/internal/waterheater/engine"
	"hpwhsim/internal/waterheater/heatsource"
	"hpwhsim/internal/waterheater/hpwherr"
	"hpwhsim/internal/waterheater/perfmap"
	"hpwhsim/internal/waterheater/tank"
	"hpwhsim/pkg/logger"
	"hpwhsim/pkg/units"
)

// UnitsSpec lets a config file author its geometry and power figures in
// whatever unit is natural for the source data sheet; Build converts to
// the engine's internal scale (Celsius, liters, kW) at this one boundary,
// per spec §6 and the teacher's scale/offset register conversion in
// pkg/modbus/client.io.go. Only these fields are converted: tank volume
// and initial temperature, each source's min_t/max_t/max_setpoint and
// resistance power_kw, and the engine setpoint. Every other field
// (hysteresis, logic decision points and SoC temperatures, defrost maps,
// performance data, pump and defrost powers) is read as already in the
// internal scale. Empty fields default to the internal scale
// (Celsius/liters/kilowatts), so Units may be omitted entirely for a file
// already written in those units.
type UnitsSpec struct {
	Temperature string `yaml:"temperature"` // "C" (default) or "F"
	Volume      string `yaml:"volume"`      // "L" (default) or "gal"
	Power       string `yaml:"power"`       // "kW" (default), "W", or "BTU/h"
}

func (u UnitsSpec) temperature(v float64) float64 {
	if u.Temperature == "F" {
		return units.CFromF(v)
	}
	return v
}

func (u UnitsSpec) volume(v float64) float64 {
	if u.Volume == "gal" {
		return units.LFromGal(v)
	}
	return v
}

func (u UnitsSpec) power(v float64) float64 {
	switch u.Power {
	case "W":
		return units.NewPower(v, units.Watts).KW()
	case "BTU/h":
		return units.NewPower(v, units.BTUPerHour).KW()
	default:
		return v
	}
}

// File is the root YAML document shape.
type File struct {
	Units   UnitsSpec    `yaml:"units"`
	Tank    TankSpec     `yaml:"tank"`
	Sources []SourceSpec `yaml:"sources"`
	Engine  EngineSpec   `yaml:"engine"`
}

// TankSpec mirrors spec §3's Tank fields.
type TankSpec struct {
	Nodes                int     `yaml:"nodes"`
	VolumeL              float64 `yaml:"volume_l"`
	InitialTempC         float64 `yaml:"initial_temp_c"`
	UA                   float64 `yaml:"ua"`
	FittingsUA           float64 `yaml:"fittings_ua"`
	PrimaryInletHeight   int     `yaml:"primary_inlet_height"`
	SecondaryInletHeight int     `yaml:"secondary_inlet_height"`
	MixesOnDraw          bool    `yaml:"mixes_on_draw"`
	DoInversionMixing    *bool   `yaml:"do_inversion_mixing"` // defaults true if nil
	DoConduction         bool    `yaml:"do_conduction"`
	ConductivityKWPerMK  float64 `yaml:"conductivity_kw_per_mk"`
	NodeHeightM          float64 `yaml:"node_height_m"`
	HasHeatExchanger     bool    `yaml:"has_heat_exchanger"`
	HXEffectiveness      float64 `yaml:"hx_effectiveness"`
}

// LogicSpec is one HeatingLogic entry; Builtin selects a named
// convenience constructor (spec §4.6's "sugar"), otherwise the raw
// temperature/SoC fields below are used directly.
type LogicSpec struct {
	Builtin       string       `yaml:"builtin"` // e.g. "TopThird", "BottomHalf", "Standby", ...
	DecisionDelta float64      `yaml:"decision_delta_c"`
	Comparator    string       `yaml:"comparator"` // "less" or "greater"

	Name          string       `yaml:"name"`
	SoC           bool         `yaml:"soc"`
	Terms         []TermSpec   `yaml:"terms"`
	DecisionPoint float64      `yaml:"decision_point"`
	IsAbsolute    bool         `yaml:"is_absolute"`
	IsHTShutOff   bool         `yaml:"is_ht_shutoff"`

	TargetFraction         float64 `yaml:"target_fraction"`
	HysteresisFraction     float64 `yaml:"hysteresis_fraction"`
	MinUsefulT             float64 `yaml:"min_useful_t"`
	UseConstantMains       bool    `yaml:"use_constant_mains"`
	ConstantMainsT         float64 `yaml:"constant_mains_t"`
	UseSetpointAsReference bool    `yaml:"use_setpoint_as_reference"`
}

// TermSpec is one weighted-average term of a raw (non-builtin) logic.
type TermSpec struct {
	Node       int     `yaml:"node"`
	Weight     float64 `yaml:"weight"`
	IsInletT   bool    `yaml:"is_inlet_t"`
	IsSetpoint bool    `yaml:"is_setpoint"`
}

// PerformanceSpec holds either a grid or a legacy polynomial source
// (spec §4.2 "alternative value source with identical contract").
type PerformanceSpec struct {
	Grid       *GridSpec        `yaml:"grid"`
	Polynomial []PolynomialSpec `yaml:"polynomial"`
}

type AxisSpec struct {
	Breakpoints []float64 `yaml:"breakpoints"`
	Interp      string    `yaml:"interp"` // "linear" or "cubic"
	Extrap      string    `yaml:"extrap"` // "linear" or "clamp"
}

type GridPointSpec struct {
	InputPowerKW float64 `yaml:"input_power_kw"`
	COP          float64 `yaml:"cop"`
}

type GridSpec struct {
	Axes   []AxisSpec      `yaml:"axes"`
	Values []GridPointSpec `yaml:"values"`
}

type PolynomialSpec struct {
	EnvT               float64   `yaml:"env_t"`
	InputPowerCoeffsKW []float64 `yaml:"input_power_coeffs_kw"`
	COPCoeffs          []float64 `yaml:"cop_coeffs"`
}

// DefrostPointSpec is one breakpoint of a Condenser's defrost derate map.
type DefrostPointSpec struct {
	EnvT   float64 `yaml:"env_t"`
	Derate float64 `yaml:"derate"`
}

type ResistanceDefrostSpec struct {
	InputPowerKW  float64 `yaml:"input_power_kw"`
	ConstantLiftC float64 `yaml:"constant_lift_c"`
	OnBelowT      float64 `yaml:"on_below_t"`
}

// SourceSpec is one heat source: kind selects Resistance or Condenser.
type SourceSpec struct {
	Name       string    `yaml:"name"`
	Kind       string    `yaml:"kind"` // "resistance" or "condenser"
	Condensity []float64 `yaml:"condensity"`
	MinT       float64   `yaml:"min_t"`
	MaxT       float64   `yaml:"max_t"`
	Hysteresis float64   `yaml:"hysteresis"`
	IsVIP      bool      `yaml:"is_vip"`

	TurnOnLogic  []LogicSpec `yaml:"turn_on_logic"`
	ShutOffLogic []LogicSpec `yaml:"shut_off_logic"`
	StandbyLogic *LogicSpec  `yaml:"standby_logic"`

	// resistance fields
	PowerKW     float64 `yaml:"power_kw"`
	ElementNode int     `yaml:"element_node"`

	// condenser fields
	Configuration        string                 `yaml:"configuration"` // "submerged", "wrapped", "external"
	IsMultipass          bool                   `yaml:"is_multipass"`
	MPFlowRateLPS        float64                `yaml:"mp_flow_rate_lps"`
	MaxSetpoint          float64                `yaml:"max_setpoint"`
	HasSecondaryHX       bool                   `yaml:"has_secondary_hx"`
	ColdSideOffset       float64                `yaml:"cold_side_offset"`
	HotSideOffset        float64                `yaml:"hot_side_offset"`
	ExtraPumpPowerKW     float64                `yaml:"extra_pump_power_kw"`
	DoDefrost            bool                   `yaml:"do_defrost"`
	DefrostMap           []DefrostPointSpec     `yaml:"defrost_map"`
	ResistanceDefrost    *ResistanceDefrostSpec `yaml:"resistance_defrost"`
	ExternalInletHeight  int                    `yaml:"external_inlet_height"`
	ExternalOutletHeight int                    `yaml:"external_outlet_height"`
	InputPowerScale      float64                `yaml:"input_power_scale"`
	COPScale             float64                `yaml:"cop_scale"`
	AirflowFreedom       float64                `yaml:"airflow_freedom"`
	Performance          PerformanceSpec        `yaml:"performance"`

	// links by name, resolved after every source is constructed
	Backup    string `yaml:"backup"`
	Companion string `yaml:"companion"`
	Follower  string `yaml:"follower"`
}

// SoCLogicSpec configures the engine-level SoC reporting logic (spec
// §4.7 step 6), independent from any one source's own logic set.
type SoCLogicSpec struct {
	TargetFraction     float64 `yaml:"target_fraction"`
	HysteresisFraction float64 `yaml:"hysteresis_fraction"`
	MinUsefulT         float64 `yaml:"min_useful_t"`
	UseConstantMains   bool    `yaml:"use_constant_mains"`
	ConstantMainsT     float64 `yaml:"constant_mains_t"`
}

// EngineSpec mirrors engine.Config (spec §3 "Engine (owner)").
type EngineSpec struct {
	SetpointT              float64       `yaml:"setpoint_t"`
	EnergyBalanceTolerance float64       `yaml:"energy_balance_tolerance"`
	TopOffTimerLimitMin    float64       `yaml:"top_off_timer_limit_min"`
	SoCLogic               *SoCLogicSpec `yaml:"soc_logic"`
	CanScale               bool          `yaml:"can_scale"`
	TankSizeFixed          bool          `yaml:"tank_size_fixed"`
}

// Load reads and parses a YAML file into the raw File shape. Build then
// turns it into the engine's concrete types.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, hpwherr.Wrap(hpwherr.InvalidConfiguration, "config: read failed", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, hpwherr.Wrap(hpwherr.InvalidConfiguration, "config: yaml parse failed", err)
	}
	return &f, nil
}

// Built is the fully constructed, engine-ready set of collaborator
// objects (spec §6's "structured object").
type Built struct {
	Tank    *tank.Tank
	Sources []heatsource.HeatSource
	ByName  map[string]heatsource.HeatSource
	Config  engine.Config
}

// Build turns a parsed File into live Tank/HeatSource/engine.Config
// values, resolving backup/companion/follower links by name last (spec
// §9: "represent with stable indices... to avoid reference cycles").
func Build(f *File, courier logger.Courier) (*Built, error) {
	tankSpec := f.Tank
	tankSpec.VolumeL = f.Units.volume(tankSpec.VolumeL)
	tankSpec.InitialTempC = f.Units.temperature(tankSpec.InitialTempC)

	tk, err := buildTank(tankSpec, courier)
	if err != nil {
		return nil, err
	}

	sources := make([]heatsource.HeatSource, 0, len(f.Sources))
	byName := make(map[string]heatsource.HeatSource, len(f.Sources))
	for _, raw := range f.Sources {
		spec := raw
		spec.MinT = f.Units.temperature(spec.MinT)
		spec.MaxT = f.Units.temperature(spec.MaxT)
		spec.MaxSetpoint = f.Units.temperature(spec.MaxSetpoint)
		spec.PowerKW = f.Units.power(spec.PowerKW)
		src, err := buildSource(spec, tk.N, courier)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
		byName[spec.Name] = src
	}

	for _, spec := range f.Sources {
		src := byName[spec.Name]
		if spec.Backup != "" {
			dst, ok := byName[spec.Backup]
			if !ok {
				return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "source %q: unknown backup %q", spec.Name, spec.Backup)
			}
			src.(interface{ SetBackup(heatsource.HeatSource) }).SetBackup(dst)
		}
		if spec.Companion != "" {
			dst, ok := byName[spec.Companion]
			if !ok {
				return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "source %q: unknown companion %q", spec.Name, spec.Companion)
			}
			src.(interface{ SetCompanion(heatsource.HeatSource) }).SetCompanion(dst)
		}
		if spec.Follower != "" {
			dst, ok := byName[spec.Follower]
			if !ok {
				return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "source %q: unknown follower %q", spec.Name, spec.Follower)
			}
			src.(interface{ SetFollower(heatsource.HeatSource) }).SetFollower(dst)
		}
	}

	engineSpec := f.Engine
	engineSpec.SetpointT = f.Units.temperature(engineSpec.SetpointT)
	cfg, err := buildEngineConfig(engineSpec)
	if err != nil {
		return nil, err
	}

	return &Built{Tank: tk, Sources: sources, ByName: byName, Config: cfg}, nil
}

func buildTank(spec TankSpec, courier logger.Courier) (*tank.Tank, error) {
	if spec.Nodes <= 0 || spec.Nodes%12 != 0 {
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "config: tank.nodes must be a positive multiple of 12")
	}
	tk, err := tank.New(spec.Nodes, spec.VolumeL, spec.InitialTempC, courier)
	if err != nil {
		return nil, err
	}
	tk.UA = spec.UA
	tk.FittingsUA = spec.FittingsUA
	tk.PrimaryInletHeight = spec.PrimaryInletHeight
	tk.SecondaryInletHeight = spec.SecondaryInletHeight
	tk.MixesOnDraw = spec.MixesOnDraw
	if spec.DoInversionMixing == nil {
		tk.DoInversionMixing = true
	} else {
		tk.DoInversionMixing = *spec.DoInversionMixing
	}
	tk.DoConduction = spec.DoConduction
	tk.ConductivityKWPerMK = spec.ConductivityKWPerMK
	tk.NodeHeightM = spec.NodeHeightM
	tk.HasHeatExchanger = spec.HasHeatExchanger
	tk.HXEffectiveness = spec.HXEffectiveness
	return tk, nil
}

func buildLogic(spec LogicSpec, numNodes int) (heatsource.HeatingLogic, error) {
	cmp := heatsource.Greater
	if spec.Comparator == "less" {
		cmp = heatsource.Less
	}
	if spec.Builtin != "" {
		switch spec.Builtin {
		case "TopThird":
			return heatsource.TopThird(spec.Name, numNodes, spec.DecisionDelta), nil
		case "BottomThird":
			return heatsource.BottomThird(spec.Name, numNodes, spec.DecisionDelta, cmp), nil
		case "BottomHalf":
			return heatsource.BottomHalf(spec.Name, numNodes, spec.DecisionDelta, cmp), nil
		case "BottomTwelfth":
			return heatsource.BottomTwelfth(spec.Name, numNodes, spec.DecisionDelta, cmp), nil
		case "BottomSixth":
			return heatsource.BottomSixth(spec.Name, numNodes, spec.DecisionDelta, cmp), nil
		case "Standby":
			return heatsource.Standby(spec.Name, numNodes, spec.DecisionDelta), nil
		case "LargeDraw":
			return heatsource.LargeDraw(spec.Name, spec.DecisionDelta), nil
		case "TopNodeMaxTemp":
			return heatsource.TopNodeMaxTemp(spec.Name, numNodes, spec.DecisionPoint), nil
		case "BottomTwelfthMaxTemp":
			return heatsource.BottomTwelfthMaxTemp(spec.Name, numNodes, spec.DecisionPoint), nil
		default:
			return heatsource.HeatingLogic{}, hpwherr.Newf(hpwherr.InvalidConfiguration, "unknown builtin logic %q", spec.Builtin)
		}
	}
	if spec.SoC {
		return heatsource.HeatingLogic{
			Kind:                   heatsource.StateOfChargeBased,
			Name:                   spec.Name,
			Comparator:             cmp,
			TargetFraction:         spec.TargetFraction,
			HysteresisFraction:     spec.HysteresisFraction,
			MinUsefulT:             spec.MinUsefulT,
			UseConstantMains:       spec.UseConstantMains,
			ConstantMainsT:         spec.ConstantMainsT,
			UseSetpointAsReference: spec.UseSetpointAsReference,
		}, nil
	}
	terms := make([]heatsource.NodeWeight, len(spec.Terms))
	for i, term := range spec.Terms {
		terms[i] = heatsource.NodeWeight{Node: term.Node, Weight: term.Weight, IsInletT: term.IsInletT, IsSetpoint: term.IsSetpoint}
	}
	return heatsource.HeatingLogic{
		Kind:          heatsource.TemperatureBased,
		Name:          spec.Name,
		Terms:         terms,
		DecisionPoint: spec.DecisionPoint,
		IsAbsolute:    spec.IsAbsolute,
		Comparator:    cmp,
		IsHTShutOff:   spec.IsHTShutOff,
	}, nil
}

func buildLogicSet(specs []LogicSpec, numNodes int) ([]heatsource.HeatingLogic, error) {
	out := make([]heatsource.HeatingLogic, 0, len(specs))
	for _, s := range specs {
		l, err := buildLogic(s, numNodes)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func buildPerformance(spec PerformanceSpec) (heatsource.PerformanceSource, error) {
	switch {
	case spec.Grid != nil:
		axes := make([]perfmap.Axis, len(spec.Grid.Axes))
		for i, a := range spec.Grid.Axes {
			interp := perfmap.Linear
			if a.Interp == "cubic" {
				interp = perfmap.Cubic
			}
			extrap := perfmap.ExtrapolateLinear
			if a.Extrap == "clamp" {
				extrap = perfmap.ExtrapolateClamp
			}
			axes[i] = perfmap.Axis{Breakpoints: a.Breakpoints, Interp: interp, Extrap: extrap}
		}
		values := make([]perfmap.Point, len(spec.Grid.Values))
		for i, v := range spec.Grid.Values {
			values[i] = perfmap.Point{InputPowerKW: v.InputPowerKW, COP: v.COP}
		}
		return perfmap.NewGrid(axes, values)
	case len(spec.Polynomial) > 0:
		pts := make([]perfmap.PolynomialPoint, len(spec.Polynomial))
		for i, p := range spec.Polynomial {
			pts[i] = perfmap.PolynomialPoint{EnvT: p.EnvT, InputPowerCoeffsKW: p.InputPowerCoeffsKW, COPCoeffs: p.COPCoeffs}
		}
		return perfmap.NewPolynomialSource(pts)
	default:
		return nil, hpwherr.New(hpwherr.InvalidConfiguration, "condenser source needs either a grid or polynomial performance spec")
	}
}

func buildSource(spec SourceSpec, numTankNodes int, courier logger.Courier) (heatsource.HeatSource, error) {
	switch spec.Kind {
	case "resistance":
		r, err := heatsource.NewResistance(spec.Name, spec.PowerKW, spec.ElementNode, spec.MinT, spec.MaxT, spec.Hysteresis, courier)
		if err != nil {
			return nil, err
		}
		if err := finishBase(r.Base, spec, numTankNodes); err != nil {
			return nil, err
		}
		return r, nil
	case "condenser":
		perf, err := buildPerformance(spec.Performance)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", spec.Name, err)
		}
		var cfg heatsource.CoilConfig
		switch spec.Configuration {
		case "submerged":
			cfg = heatsource.Submerged
		case "wrapped":
			cfg = heatsource.Wrapped
		case "external":
			cfg = heatsource.External
		default:
			return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "source %q: unknown configuration %q", spec.Name, spec.Configuration)
		}
		c, err := heatsource.NewCondenser(spec.Name, cfg, perf, spec.Condensity, spec.MinT, spec.MaxT, spec.Hysteresis, spec.MaxSetpoint, courier)
		if err != nil {
			return nil, err
		}
		c.IsMultipass = spec.IsMultipass
		c.MPFlowRateLPS = spec.MPFlowRateLPS
		c.HasSecondaryHX = spec.HasSecondaryHX
		c.ColdSideOffset = spec.ColdSideOffset
		c.HotSideOffset = spec.HotSideOffset
		c.ExtraPumpPowerKW = spec.ExtraPumpPowerKW
		c.DoDefrost = spec.DoDefrost
		for _, d := range spec.DefrostMap {
			c.DefrostMap = append(c.DefrostMap, heatsource.DefrostPoint{EnvT: d.EnvT, Derate: d.Derate})
		}
		if spec.ResistanceDefrost != nil {
			c.ResistanceDefrost = &heatsource.ResistanceDefrost{
				InputPowerKW:  spec.ResistanceDefrost.InputPowerKW,
				ConstantLiftC: spec.ResistanceDefrost.ConstantLiftC,
				OnBelowT:      spec.ResistanceDefrost.OnBelowT,
			}
		}
		c.ExternalInletHeight = spec.ExternalInletHeight
		c.ExternalOutletHeight = spec.ExternalOutletHeight
		if spec.InputPowerScale != 0 {
			c.InputPowerScale = spec.InputPowerScale
		}
		if spec.COPScale != 0 {
			c.COPScale = spec.COPScale
		}
		if spec.AirflowFreedom != 0 {
			c.AirflowFreedom = spec.AirflowFreedom
		}
		if err := finishBase(c.Base, spec, numTankNodes); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, hpwherr.Newf(hpwherr.InvalidConfiguration, "source %q: unknown kind %q", spec.Name, spec.Kind)
	}
}

func finishBase(b *heatsource.Base, spec SourceSpec, numTankNodes int) error {
	b.SetVIP(spec.IsVIP)
	turnOn, err := buildLogicSet(spec.TurnOnLogic, numTankNodes)
	if err != nil {
		return err
	}
	shutOff, err := buildLogicSet(spec.ShutOffLogic, numTankNodes)
	if err != nil {
		return err
	}
	b.TurnOnLogic = turnOn
	b.ShutOffLogic = shutOff
	if spec.StandbyLogic != nil {
		sl, err := buildLogic(*spec.StandbyLogic, numTankNodes)
		if err != nil {
			return err
		}
		b.StandbyLogic = &sl
	}
	return b.ValidateLogic(numTankNodes)
}

func buildEngineConfig(spec EngineSpec) (engine.Config, error) {
	cfg := engine.Config{
		SetpointT:              spec.SetpointT,
		EnergyBalanceTolerance: spec.EnergyBalanceTolerance,
		TopOffTimerLimitMin:    spec.TopOffTimerLimitMin,
		CanScale:               spec.CanScale,
		TankSizeFixed:          spec.TankSizeFixed,
	}
	if spec.SoCLogic != nil {
		l := heatsource.HeatingLogic{
			Kind:               heatsource.StateOfChargeBased,
			Name:               "engine-soc",
			TargetFraction:     spec.SoCLogic.TargetFraction,
			HysteresisFraction: spec.SoCLogic.HysteresisFraction,
			MinUsefulT:         spec.SoCLogic.MinUsefulT,
			UseConstantMains:   spec.SoCLogic.UseConstantMains,
			ConstantMainsT:     spec.SoCLogic.ConstantMainsT,
		}
		if err := l.Validate(0); err != nil {
			return engine.Config{}, err
		}
		cfg.SoCLogic = &l
	}
	return cfg, nil
}
