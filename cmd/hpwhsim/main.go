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

// cmd/hpwhsim wires the simulation core into a runnable service: load
// the tank/heat-source/engine configuration, drive RunOneStep on a
// real-time minute tick, and expose the result through the same
// dashboard shape the teacher's cmd/burlo/main.go wires its own
// services through (pkg/rootserv + pkg/service + pkg/appctx).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hpwhsim/internal/livefeed"
	"hpwhsim/internal/telemetry"
	"hpwhsim/internal/waterheater/config"
	"hpwhsim/internal/waterheater/engine"
	"hpwhsim/internal/waterheater/metrics"
	"hpwhsim/internal/waterheater/runner"
	"hpwhsim/pkg/appctx"
	"hpwhsim/pkg/eventbus"
	"hpwhsim/pkg/logger"
	"hpwhsim/pkg/modbus"
	"hpwhsim/pkg/rootserv"
	"hpwhsim/pkg/service"
	"hpwhsim/pkg/sysmon"
)

var (
	stepsRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hpwhsim_steps_total",
		Help: "Total RunOneStep calls completed by the real-time runner.",
	})
	energyInKJ = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hpwhsim_energy_in_kj_total",
		Help: "Cumulative electrical energy into every heat source.",
	})
	tankMeanT = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hpwhsim_tank_mean_temp_c",
		Help: "Tank mean temperature after the most recent step.",
	})
)

func init() {
	prometheus.MustRegister(stepsRun, energyInKJ, tankMeanT)
}

func main() {
	rootdir := os.Getenv("PROJECT_ROOT")
	if rootdir == "" {
		rootdir = "."
	}

	configPath := flag.String("config", filepath.Join(rootdir, "var/config/hpwhsim.yml"), "path to the tank/heat-source/engine YAML configuration")
	livefeedPath := flag.String("livefeed-config", "", "optional path to a Modbus register config to shadow a live unit")
	addr := flag.String("addr", ":8080", "dashboard listen address")
	flag.Parse()

	logger.Init(filepath.Join(rootdir, "var/logs/hpwhsim.log"))

	f, err := config.Load(*configPath)
	if err != nil {
		logger.New("main").Fatal("load config: %v", err)
	}
	courier := logger.New("Engine")
	built, err := config.Build(f, courier)
	if err != nil {
		logger.New("main").Fatal("build config: %v", err)
	}

	eng, err := engine.New(built.Tank, built.Sources, built.Config, courier)
	if err != nil {
		logger.New("main").Fatal("new engine: %v", err)
	}

	ctx, ctxCancel := appctx.New()

	bus := eventbus.New()
	telemetryServer := telemetry.New(bus)

	dashboard := newDashboard(eng, bus)
	standbyInput := engine.StepInput{InletT: 10, AmbientT: 20, ExternalT: 20, MainsT: 10, DRMode: engine.DRAllow}
	minuteLoop := runner.New(eng, standbyInput, func(out engine.StepOutput, err error) {
		if err != nil {
			return
		}
		telemetryServer.Publish(out)
		recordStepMetrics(out)
	})

	server := rootserv.New(*addr)
	server.Attach("/logger", "Logger", logger.WebService())
	server.Attach("/monitor", "System Monitor", sysmon.New())
	server.Attach("/engine", "Engine State", dashboard)
	server.Attach("/telemetry", "Live Step Telemetry (websocket)", telemetryServer)
	server.Attach("/prometheus", "Prometheus Metrics", promhttp.Handler())

	runnables := []service.Runnable{server}

	if *livefeedPath != "" {
		modbusConf := modbus.LoadConfig(*livefeedPath)
		client := modbus.NewClient(ctx, modbusConf)
		feed := livefeed.New(client, eng, time.Minute, func(in engine.StepInput, out engine.StepOutput, err error) {
			if err != nil {
				return
			}
			telemetryServer.Publish(out)
			recordStepMetrics(out)
		})
		runnables = append(runnables, feed)
	} else {
		runnables = append(runnables, minuteLoop)
	}

	exitCh := service.Start(ctx, ctxCancel, runnables)
	os.Exit(<-exitCh)
}

func recordStepMetrics(out engine.StepOutput) {
	stepsRun.Inc()
	tankMeanT.Set(out.MeanT)
	for _, s := range out.Sources {
		energyInKJ.Add(s.EnergyInKJ)
	}
}

// dashboard implements http.Handler for /engine: a JSON snapshot of the
// latest step output, plus a /engine/uef-test endpoint that runs a
// Run24hrTest against the live engine instance on demand (SPEC_FULL.md
// §B.1). Running the test mutates the live engine's tank state; the
// response body holds only the test result (or an error).
type dashboard struct {
	eng *engine.Engine
	bus *eventbus.Bus
}

func newDashboard(eng *engine.Engine, bus *eventbus.Bus) *dashboard {
	return &dashboard{eng: eng, bus: bus}
}

func (d *dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/uef-test":
		d.runUEFTest(w, r)
	default:
		d.snapshot(w, r)
	}
}

func (d *dashboard) snapshot(w http.ResponseWriter, _ *http.Request) {
	ev, ok := d.bus.GetLast(telemetry.Topic)
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		fmt.Fprint(w, "{}")
		return
	}
	json.NewEncoder(w).Encode(ev)
}

func (d *dashboard) runUEFTest(w http.ResponseWriter, _ *http.Request) {
	sched := metrics.StandardSchedule(metrics.Medium, 20, 10, 10)
	result, err := metrics.Run24hrTest(d.eng, sched, 0)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(result)
}
