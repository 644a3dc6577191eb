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

// Package telemetry broadcasts per-minute engine.StepOutput frames to
// connected websocket clients. Grounded on pkg/zwavejsws/zwave.go's
// gorilla/websocket connection/reconnect idiom, with the role reversed:
// the teacher's client dialed out to a push API, this accepts inbound
// dashboard connections and fans a single internal stream out to each of
// them, subscribing through the same eventbus.Bus the rest of the
// dashboard already uses (SPEC_FULL.md §B.3).
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hpwhsim/internal/waterheater/engine"
	"hpwhsim/pkg/eventbus"
	"hpwhsim/pkg/logger"
)

// Topic is the eventbus topic engine.StepOutput values are published to
// after every RunOneStep call.
const Topic eventbus.Topic = "waterheater.step"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is a Runnable (pkg/service) HTTP handler broadcasting the
// latest step output to every connected client as JSON text frames.
type Server struct {
	bus *eventbus.Bus
	log *logger.Logger
}

// New returns a telemetry server reading from bus's Topic.
func New(bus *eventbus.Bus) *Server {
	return &Server{bus: bus, log: logger.New("Telemetry")}
}

// Publish pushes a step output onto the bus; called by the minute-loop
// runner after each engine.RunOneStep (SPEC_FULL.md §B.3).
func (s *Server) Publish(out engine.StepOutput) {
	s.bus.Publish(Topic, out)
}

// ServeHTTP upgrades the request to a websocket and streams step outputs
// until the client disconnects or the request context is canceled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe(r.Context(), Topic, true)
	defer unsub()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	go s.drainReads(conn)

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			out, ok := ev.(engine.StepOutput)
			if !ok {
				continue
			}
			payload, err := json.Marshal(out)
			if err != nil {
				s.log.Error("marshal step output: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// drainReads discards inbound control/close frames; clients never send
// application messages on this stream, but gorilla/websocket requires a
// reader running to process pings/closes.
func (s *Server) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run implements pkg/service.Runnable, letting the telemetry server be
// supervised the same way as every other sub-server (SPEC_FULL.md §B.1).
// The actual HTTP listener lives on the shared rootserv mux; Run here
// only blocks until ctx is done, since Subscribe goroutines are already
// tied to each request's own context.
func (s *Server) Run(ctx context.Context) {
	<-ctx.Done()
}
