package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/gaspvt/internal/grid"
	"github.com/lox/gaspvt/internal/pvterr"
	"github.com/lox/gaspvt/internal/session"
	"github.com/lox/gaspvt/internal/variant"
	"github.com/lox/gaspvt/internal/well"
)

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h(w, r, sess)
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return pvterr.Input("decode request", err)
	}
	return nil
}

func (s *Server) handleVariants(w http.ResponseWriter, r *http.Request) {
	type variantInfo struct {
		Name    string   `json:"name"`
		Headers []string `json:"headers"`
	}
	var out []variantInfo
	for _, name := range variant.Names() {
		v, _ := variant.Lookup(name)
		out = append(out, variantInfo{Name: v.Name, Headers: v.Headers[:]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, map[string]string{"id": sess.ID})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(r.PathValue("id")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetWell(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	wc, ok := sess.Well()
	if !ok {
		writeError(w, pvterr.ErrNotInitialized)
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

func (s *Server) handleLoadWell(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		WellNo string `json:"well_no"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	wc, err := sess.LoadWell(r.Context(), req.WellNo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

func (s *Server) handleSetWell(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var wc well.Context
	if err := decodeBody(r, &wc); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.SetWell(wc); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetInputs(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Values []any `json:"values"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess.SetInputs(req.Values)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Variant string `json:"variant"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Variant == "" {
		req.Variant = variant.NamePVT
	}

	out, err := sess.Calculate(r.Context(), req.Variant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type gridResponse struct {
	Variant string     `json:"variant"`
	Headers []string   `json:"headers"`
	Rows    []grid.Row `json:"rows"`
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	name := r.URL.Query().Get("variant")
	if name == "" {
		name = variant.NamePVT
	}
	v, err := variant.Lookup(name)
	if err != nil {
		writeError(w, pvterr.Input("grid", err))
		return
	}
	writeJSON(w, http.StatusOK, gridResponse{Variant: v.Name, Headers: v.Headers[:], Rows: sess.Rows()})
}

type runResponse struct {
	ID            int64      `json:"id"`
	SessionID     string     `json:"session_id"`
	WellNo        string     `json:"well_no"`
	Variant       string     `json:"variant"`
	Path          string     `json:"path,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	RowsRequested int64      `json:"rows_requested"`
	RowsComplete  int64      `json:"rows_complete"`
	StageFailures int64      `json:"stage_failures"`
	Success       bool       `json:"success"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "run ledger disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, pvterr.Input("runs", fmt.Errorf("invalid limit %q", v)))
			return
		}
		limit = n
	}

	runs, err := s.store.RecentRuns(r.URL.Query().Get("well"), limit)
	if err != nil {
		writeError(w, fmt.Errorf("list runs: %w", err))
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		rr := runResponse{
			ID:            run.ID,
			SessionID:     run.SessionID,
			WellNo:        run.WellNo,
			Variant:       run.Variant,
			Path:          run.Path.String,
			StartedAt:     run.StartedAt.Time,
			RowsRequested: run.RowsRequested.Int64,
			RowsComplete:  run.RowsComplete.Int64,
			StageFailures: run.StageFailures.Int64,
			Success:       run.Success,
			ErrorKind:     run.ErrorKind.String,
			Error:         run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			t := run.FinishedAt.Time
			rr.FinishedAt = &t
		}
		out = append(out, rr)
	}
	writeJSON(w, http.StatusOK, out)
}
