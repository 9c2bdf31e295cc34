// Package api serves calculation sessions over HTTP for headless clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/lox/gaspvt/internal/pvterr"
	"github.com/lox/gaspvt/internal/session"
	"github.com/lox/gaspvt/internal/store"
)

type Server struct {
	sessions *session.Manager
	store    *store.Store
	port     string
	upgrader websocket.Upgrader
}

// NewServer returns a server for sessions. st may be nil, in which case
// the run endpoints report 404 and health skips the ledger.
func NewServer(sessions *session.Manager, st *store.Store, port string) *Server {
	return &Server{
		sessions: sessions,
		store:    st,
		port:     port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/variants", s.handleVariants)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/well", s.withSession(s.handleGetWell))
	mux.HandleFunc("POST /api/sessions/{id}/well", s.withSession(s.handleLoadWell))
	mux.HandleFunc("PUT /api/sessions/{id}/well", s.withSession(s.handleSetWell))
	mux.HandleFunc("PUT /api/sessions/{id}/inputs", s.withSession(s.handleSetInputs))
	mux.HandleFunc("POST /api/sessions/{id}/calculate", s.withSession(s.handleCalculate))
	mux.HandleFunc("GET /api/sessions/{id}/grid", s.withSession(s.handleGrid))
	mux.HandleFunc("GET /api/sessions/{id}/events", s.withSession(s.handleEvents))
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infof("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type HealthStatus struct {
	Status   string      `json:"status"`
	Sessions int         `json:"sessions"`
	Runs     []RunHealth `json:"runs,omitempty"`
	Errors   []string    `json:"errors,omitempty"`
}

type RunHealth struct {
	Variant       string `json:"variant"`
	Path          string `json:"path"`
	Total         int    `json:"total"`
	Failed        int    `json:"failed"`
	StageFailures int64  `json:"stage_failures"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:   "ok",
		Sessions: s.sessions.Len(),
	}

	if s.store != nil {
		summary, err := s.store.GetRunHealth(1)
		if err != nil {
			health.Errors = append(health.Errors, "runs: "+err.Error())
		}
		for _, h := range summary {
			health.Runs = append(health.Runs, RunHealth{
				Variant:       h.Variant,
				Path:          h.Path,
				Total:         h.TotalRuns,
				Failed:        h.FailedRuns,
				StageFailures: h.StageFailures,
			})
		}
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Warnf("health: write response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("api: write response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch pvterr.KindOf(err) {
	case pvterr.KindInput, pvterr.KindValidation:
		return http.StatusBadRequest
	case pvterr.KindBusy, pvterr.KindStale:
		return http.StatusConflict
	case pvterr.KindTransport:
		if pvterr.IsTimeout(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case pvterr.KindContract:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Kind: pvterr.KindOf(err).String()})
}
