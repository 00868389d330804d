// Package server is the HTTP boundary: upload validation, the read surface
// the frontend polls, and the fire-and-forget hand-off to the pipeline.
package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"meeting-ata-go/internal/config"
	"meeting-ata-go/internal/logger"
	"meeting-ata-go/internal/pipeline"
	"meeting-ata-go/internal/store"
)

type Server struct {
	cfg   config.Config
	store store.Store
	orch  *pipeline.Orchestrator
}

func New(cfg config.Config, st store.Store, orch *pipeline.Orchestrator) *Server {
	return &Server{cfg: cfg, store: st, orch: orch}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Debug("health check")
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("POST /api/audio/upload", s.handleUpload)
	mux.HandleFunc("GET /api/audio", s.handleListRecords)
	mux.HandleFunc("GET /api/audio/report", s.handleReport)
	mux.HandleFunc("GET /api/audio/{id}", s.handleGetRecord)
	mux.HandleFunc("DELETE /api/audio/{id}", s.handleDeleteRecord)
	mux.HandleFunc("POST /api/audio/{id}/ata", s.handleGenerateAta)
	mux.HandleFunc("POST /api/audio/{id}/signatures", s.handleCreateSignature)
	mux.HandleFunc("GET /api/audio/{id}/signatures", s.handleListSignatures)

	mux.HandleFunc("GET /api/users", s.handleListUsers)
	mux.HandleFunc("POST /api/users/login", s.handleLogin)

	return mux
}

// envelope is the JSON shape every API response uses.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.New().Component("server").WithError(err).Error("failed to write response")
	}
}

func respondData(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func respondList(w http.ResponseWriter, data any, count int) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Count: &count, Data: data})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// clientIP prefers the forwarded address set by a reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
