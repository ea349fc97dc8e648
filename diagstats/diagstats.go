// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package diagstats exposes an optional, separate HTTP surface for
// inspecting reactor health: per-loop connection counts and aggregate
// totals. It is a debug/ops endpoint, not part of the TCP wire protocol;
// a Server can run without ever touching this package.
package diagstats

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/govoltron/reactor/logging"
)

// LoopStats is a point-in-time snapshot for one worker loop.
type LoopStats struct {
	ID          int `json:"id"`
	Connections int `json:"connections"`
}

// Source is queried on every request, so the handler always reflects the
// server's current state rather than a stale snapshot taken at startup.
type Source interface {
	// Snapshot returns one LoopStats entry per event loop, in a stable
	// order (tcp.Server reports its base loop first, then each worker loop
	// in pool order).
	Snapshot() []LoopStats
}

// Server is a small chi-routed HTTP server exposing /stats and
// /stats/loops/{id}. It is an http.Handler served by whatever net/http
// listener the caller hands it to, independent of any EventLoop; it opens
// no listener itself.
type Server struct {
	log    logging.Logger
	source Source
	router chi.Router
}

// New builds a diagnostics Server reading from source.
func New(log logging.Logger, source Source) *Server {
	s := &Server{log: logging.OrNoop(log), source: source}
	r := chi.NewRouter()
	r.Get("/stats", s.handleStats)
	r.Get("/stats/loops/{id}", s.handleLoopStats)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler, so callers can mount Server under an
// existing mux or hand it straight to http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	loops := s.source.Snapshot()
	total := 0
	for _, l := range loops {
		total += l.Connections
	}
	writeJSON(w, struct {
		TotalConnections int         `json:"total_connections"`
		Loops            []LoopStats `json:"loops"`
	}{TotalConnections: total, Loops: loops})
}

func (s *Server) handleLoopStats(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idParam)
	if err != nil {
		http.Error(w, "invalid loop id", http.StatusBadRequest)
		return
	}
	for _, l := range s.source.Snapshot() {
		if l.ID == id {
			writeJSON(w, l)
			return
		}
	}
	http.Error(w, "no such loop", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
