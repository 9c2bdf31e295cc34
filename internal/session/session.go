// Package session ties one well context and one grid to the calculation
// service. A session replaces the page-level globals a browser client would
// keep, so several sessions (and tests) can run side by side.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/lox/gaspvt/internal/grid"
	"github.com/lox/gaspvt/internal/metrics"
	"github.com/lox/gaspvt/internal/models"
	"github.com/lox/gaspvt/internal/pipeline"
	"github.com/lox/gaspvt/internal/pvtclient"
	"github.com/lox/gaspvt/internal/pvterr"
	"github.com/lox/gaspvt/internal/sparse"
	"github.com/lox/gaspvt/internal/store"
	"github.com/lox/gaspvt/internal/variant"
	"github.com/lox/gaspvt/internal/well"
)

// Mode selects between the batch endpoint and the per-row stages.
type Mode string

const (
	// ModeAuto tries the batch endpoint and falls back to per-row stages
	// when the service does not expose it.
	ModeAuto       Mode = "auto"
	ModeBatch      Mode = "batch"
	ModeSequential Mode = "sequential"
)

const (
	PathBatch      = "batch"
	PathSequential = "sequential"

	DefaultRows = 20
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeBatch, ModeSequential:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want auto, batch or sequential)", s)
	}
}

// Config holds per-session settings.
type Config struct {
	Rows              int
	Mode              Mode
	MaxConcurrentRows int
}

func (c Config) withDefaults() Config {
	if c.Rows <= 0 {
		c.Rows = DefaultRows
	}
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	return c
}

// Service is the part of the calculation service a session uses.
type Service interface {
	variant.Calculator
	GetWellData(ctx context.Context, wellNo string) ([]models.WellRecord, error)
}

// Grid is the grid model the session reads inputs from and writes results to.
type Grid interface {
	ReadColumn(col int) []any
	BulkWrite(rows []grid.Row)
	WriteCell(row, col int, v *float64)
}

// Ledger records calculation runs. *store.Store satisfies it.
type Ledger interface {
	StartRun(sessionID, wellNo, variant string) (*store.CalcRun, error)
	CompleteRun(run *store.CalcRun) error
}

// Outcome summarises a finished calculation.
type Outcome struct {
	Variant   string               `json:"variant"`
	Path      string               `json:"path"`
	Rows      int                  `json:"rows"`
	Requested int                  `json:"requested"`
	Complete  int                  `json:"complete"`
	Failures  []StageFailure       `json:"failures,omitempty"`
	Reports   []pipeline.RowReport `json:"-"`
}

// StageFailure is one failed stage on the sequential path.
type StageFailure struct {
	Row     int    `json:"row"`
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Session is one engineer's working state: a well context, a grid, and
// at most one pending calculation.
type Session struct {
	ID string

	svc    Service
	grid   Grid
	ledger Ledger
	cfg    Config
	events *hub

	mu      sync.Mutex
	version uint64
	well    *well.Context
	runSeq  uint64
	running uint64
	cancel  context.CancelFunc
}

// New creates a session with an empty grid of cfg.Rows rows. ledger may be nil.
func New(svc Service, g Grid, ledger Ledger, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		ID:     uuid.NewString(),
		svc:    svc,
		grid:   g,
		ledger: ledger,
		cfg:    cfg,
		events: newHub(),
	}
	g.BulkWrite(make([]grid.Row, cfg.Rows))
	return s
}

// Well returns the current well context, if one is loaded.
func (s *Session) Well() (well.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.well == nil {
		return well.Context{}, false
	}
	return *s.well, true
}

// Version increases every time the well context is switched and whenever
// the inputs or parameters change under a pending calculation.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// LoadWell fetches wellNo's parameters and resets the grid. Starting a load
// supersedes any pending calculation: it is canceled and whatever it
// returns afterwards is discarded.
func (s *Session) LoadWell(ctx context.Context, wellNo string) (well.Context, error) {
	wellNo = strings.TrimSpace(wellNo)
	if wellNo == "" {
		s.report(pvterr.ErrEmptyWellNo, -1, "")
		return well.Context{}, pvterr.ErrEmptyWellNo
	}

	s.mu.Lock()
	s.version++
	version := s.version
	s.abortLocked()
	s.mu.Unlock()

	records, err := s.svc.GetWellData(ctx, wellNo)
	if err != nil {
		err = fmt.Errorf("load well %s: %w", wellNo, err)
		s.report(err, -1, "")
		return well.Context{}, err
	}
	wc := well.FromRecord(records[0])
	if len(records) > 1 {
		log.Warnf("session %s: %d records for well %s, using the first", s.ID, len(records), wellNo)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		metrics.StaleResultsDiscarded.Inc()
		return well.Context{}, pvterr.ErrStale
	}
	s.well = &wc
	s.grid.BulkWrite(make([]grid.Row, s.cfg.Rows))
	log.Infof("session %s: loaded well %s", s.ID, wc.WellNo)
	return wc, nil
}

// SetWell replaces the well context snapshot, as an edit of the parameter
// table would. A pending calculation was started with the old parameters,
// so it is canceled and its results are discarded.
func (s *Session) SetWell(wc well.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.well == nil {
		return pvterr.ErrNotInitialized
	}
	s.supersedeLocked("parameters changed")
	s.well = &wc
	return nil
}

// SetInputs loads values into column 0 and clears the derived columns. The
// grid keeps at least the configured number of rows. A pending calculation
// is superseded so its results never overwrite the new inputs.
func (s *Session) SetInputs(values []any) {
	n := max(len(values), s.cfg.Rows)
	rows := make([]grid.Row, n)
	for i, v := range values {
		rows[i].Input = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked("inputs changed")
	s.grid.BulkWrite(rows)
}

// supersedeLocked invalidates the pending calculation, if any. Caller holds
// s.mu.
func (s *Session) supersedeLocked(reason string) {
	if s.running == 0 {
		return
	}
	log.Infof("session %s: %s, discarding pending calculation", s.ID, reason)
	s.version++
	s.abortLocked()
}

// Rows reads the grid back as rows.
func (s *Session) Rows() []grid.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols := make([][]any, grid.Columns)
	for c := range cols {
		cols[c] = s.grid.ReadColumn(c)
	}
	rows := make([]grid.Row, len(cols[0]))
	for i := range rows {
		rows[i].Input = cols[0][i]
		for c := 1; c < grid.Columns; c++ {
			if i >= len(cols[c]) {
				continue
			}
			if f, ok := cols[c][i].(float64); ok {
				rows[i].Derived[c-1] = grid.Float(f)
			}
		}
	}
	return rows
}

// Calculate runs variantName over column 0 of the grid. Only one
// calculation may be pending per session.
func (s *Session) Calculate(ctx context.Context, variantName string) (*Outcome, error) {
	v, err := variant.Lookup(variantName)
	if err != nil {
		err = pvterr.Input("calculate", err)
		s.report(err, -1, "")
		return nil, err
	}

	s.mu.Lock()
	if s.well == nil {
		s.mu.Unlock()
		s.report(pvterr.ErrNotInitialized, -1, "")
		return nil, pvterr.ErrNotInitialized
	}
	if s.running != 0 {
		s.mu.Unlock()
		s.report(pvterr.ErrBusy, -1, "")
		return nil, pvterr.ErrBusy
	}
	wc := *s.well
	version := s.version
	s.runSeq++
	runID := s.runSeq
	s.running = runID
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	raw := s.grid.ReadColumn(0)
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.running == runID {
			s.running = 0
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	run := s.startRun(wc.WellNo, v.Name)
	out, err := s.calculate(runCtx, v, wc, version, raw)
	if err != nil && !errors.Is(err, pvterr.ErrStale) && s.Version() != version {
		// Canceled by a well switch; whatever the service said no longer applies.
		metrics.StaleResultsDiscarded.Inc()
		err = pvterr.ErrStale
	}
	s.completeRun(run, out, err)

	path := ""
	if out != nil {
		path = out.Path
	}
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues(v.Name, path, pvterr.KindOf(err).String()).Inc()
		s.report(err, -1, "")
		return out, err
	}
	metrics.CalculationsTotal.WithLabelValues(v.Name, path, "ok").Inc()
	metrics.RowsCalculated.WithLabelValues(v.Name).Add(float64(out.Complete))
	return out, nil
}

func (s *Session) calculate(ctx context.Context, v variant.Variant, wc well.Context, version uint64, raw []any) (*Outcome, error) {
	if err := well.Validate(wc); err != nil {
		return nil, err
	}
	c := sparse.Compact(raw)
	if c.Empty() {
		return nil, pvterr.ErrNoValidInputs
	}

	if s.cfg.Mode == ModeSequential {
		return s.runSequential(ctx, v, wc, version, raw, c)
	}

	rows, err := v.Batch(ctx, s.svc, raw, wc)
	if errors.Is(err, pvtclient.ErrEndpointUnavailable) && s.cfg.Mode == ModeAuto {
		log.Infof("session %s: %s batch endpoint unavailable, calculating row by row", s.ID, v.Name)
		metrics.BatchFallbacks.WithLabelValues(v.Name).Inc()
		return s.runSequential(ctx, v, wc, version, raw, c)
	}
	out := &Outcome{Variant: v.Name, Path: PathBatch, Rows: len(raw), Requested: len(c.Dense)}
	if err != nil {
		return out, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		metrics.StaleResultsDiscarded.Inc()
		return out, pvterr.ErrStale
	}
	s.grid.BulkWrite(rows)
	out.Complete = len(c.Dense)
	return out, nil
}

func (s *Session) runSequential(ctx context.Context, v variant.Variant, wc well.Context, version uint64, raw []any, c sparse.Compacted) (*Outcome, error) {
	out := &Outcome{Variant: v.Name, Path: PathSequential, Rows: len(raw), Requested: len(c.Dense)}

	var mu sync.Mutex
	o := &pipeline.Orchestrator{
		Name:              v.Name,
		Stages:            v.Stages(s.svc),
		MaxConcurrentRows: s.cfg.MaxConcurrentRows,
		OnEvent: func(e pipeline.Event) {
			mu.Lock()
			out.Failures = append(out.Failures, StageFailure{Row: e.Row, Stage: e.Stage, Kind: e.Kind.String(), Message: e.Err.Error()})
			mu.Unlock()
			s.report(e.Err, e.Row, e.Stage)
		},
	}

	// Results arrive cell by cell, so clear what a previous calculation left
	// in the derived columns first; a failed stage must leave its cell null.
	s.mu.Lock()
	if s.version != version {
		s.mu.Unlock()
		metrics.StaleResultsDiscarded.Inc()
		return out, pvterr.ErrStale
	}
	rows := make([]grid.Row, len(raw))
	for i, in := range raw {
		rows[i] = grid.Sentinel(in)
	}
	s.grid.BulkWrite(rows)
	s.mu.Unlock()

	w := &versionedWriter{s: s, version: version}
	reports, err := o.Run(ctx, wc, pipeline.InputsFrom(c), w)
	if err != nil {
		return out, err
	}
	out.Reports = reports
	for _, r := range reports {
		if r.Status == pipeline.StatusComplete {
			out.Complete++
		}
	}

	if w.dropped() > 0 || s.Version() != version {
		return out, pvterr.ErrStale
	}
	return out, nil
}

// abortLocked cancels the pending calculation, if any. Caller holds s.mu.
func (s *Session) abortLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = 0
}

// versionedWriter drops cell writes that arrive after the session switched
// to another well context.
type versionedWriter struct {
	s       *Session
	version uint64

	mu    sync.Mutex
	stale int
}

func (w *versionedWriter) WriteCell(row, col int, v *float64) {
	w.s.mu.Lock()
	current := w.s.version
	if current == w.version {
		w.s.grid.WriteCell(row, col, v)
	}
	w.s.mu.Unlock()

	if current != w.version {
		metrics.StaleResultsDiscarded.Inc()
		w.mu.Lock()
		w.stale++
		w.mu.Unlock()
	}
}

func (w *versionedWriter) dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stale
}

func (s *Session) startRun(wellNo, variantName string) *store.CalcRun {
	if s.ledger == nil {
		return nil
	}
	run, err := s.ledger.StartRun(s.ID, wellNo, variantName)
	if err != nil {
		log.Warnf("session %s: start run: %v", s.ID, err)
		return nil
	}
	return run
}

func (s *Session) completeRun(run *store.CalcRun, out *Outcome, err error) {
	if run == nil {
		return
	}
	if out != nil {
		run.Path = sql.NullString{String: out.Path, Valid: out.Path != ""}
		run.RowsTotal = sql.NullInt64{Int64: int64(out.Rows), Valid: true}
		run.RowsRequested = sql.NullInt64{Int64: int64(out.Requested), Valid: true}
		run.RowsComplete = sql.NullInt64{Int64: int64(out.Complete), Valid: true}
		run.StageFailures = sql.NullInt64{Int64: int64(len(out.Failures)), Valid: true}
	}
	run.Success = err == nil
	if err != nil {
		run.ErrorKind = sql.NullString{String: pvterr.KindOf(err).String(), Valid: true}
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}
	if err := s.ledger.CompleteRun(run); err != nil {
		log.Warnf("session %s: complete run: %v", s.ID, err)
	}
}
