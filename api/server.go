// Package api exposes the latest gateway state over thin HTTP JSON
// endpoints. Route handling stays trivially dumb: every response is a copy
// already made by the stores, so no handler ever blocks a reader.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smartserow/gateway"
	"github.com/smartserow/gateway/codec"
	"github.com/smartserow/gateway/store"
)

type Server struct {
	gw *gateway.Gateway
}

func NewServer(gw *gateway.Gateway) *Server {
	return &Server{gw: gw}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/telemetry", s.latest(s.gw.MCU))
	mux.HandleFunc("/telemetry/history", s.history(s.gw.MCU))
	mux.HandleFunc("/gps", s.latest(s.gw.GPS))
	mux.HandleFunc("/gps/history", s.history(s.gw.GPS))
	mux.HandleFunc("/command", s.command)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":        "ok",
		"mcu_connected": s.gw.MCU.Connected(),
		"gps_connected": s.gw.GPS.Connected(),
		"theme_dark":    s.gw.Theme.State(),
	})
}

func (s *Server) latest(src gateway.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := src.Latest()
		if !ok {
			writeJSON(w, map[string]string{"error": "no data"})
			return
		}
		writeSnapshot(w, snap)
	}
}

func (s *Server) history(src gateway.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history := src.History()
		out := make([]snapshotJSON, 0, len(history))
		for _, snap := range history {
			out = append(out, snapshotJSON{Time: snap.Time, Fields: snap.Fields})
		}
		writeJSON(w, out)
	}
}

type commandRequest struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid command", http.StatusBadRequest)
		return
	}
	sent := s.gw.MCU.SendCommand(req.Name, req.Params)
	writeJSON(w, map[string]bool{"sent": sent})
}

type snapshotJSON struct {
	Time   time.Time    `json:"time"`
	Fields codec.Fields `json:"fields"`
}

func writeSnapshot(w http.ResponseWriter, snap store.Snapshot) {
	writeJSON(w, snapshotJSON{Time: snap.Time, Fields: snap.Fields})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Error("api: unable to encode response")
	}
}
