// Package pipeline computes rows one at a time through a chain of dependent
// remote calls. Rows run concurrently and a failing stage only costs the
// columns that depend on it.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lox/gaspvt/internal/grid"
	"github.com/lox/gaspvt/internal/metrics"
	"github.com/lox/gaspvt/internal/pvterr"
	"github.com/lox/gaspvt/internal/sparse"
	"github.com/lox/gaspvt/internal/well"
)

// ErrNoValue is returned by a stage that succeeded but has nothing to
// write, e.g. 1/Bg when Bg is zero. The column stays null and the stage
// still counts as done for its dependents.
var ErrNoValue = errors.New("no value")

// Stage is one remote or local calculation for a row.
type Stage struct {
	Name string
	// Column is the grid column written on success; 0 keeps the value
	// internal to the row.
	Column int
	// After names the stage whose success this one needs. Empty means the
	// row input is enough.
	After string
	// Skip short-circuits the stage. If the row already holds a value under
	// Name it is written to Column as if the stage had run.
	Skip func(st *State) bool
	Run  func(ctx context.Context, wc well.Context, st *State) (float64, error)
}

// State carries the values computed so far for one row. It is owned by the
// goroutine running the row.
type State struct {
	Row    int
	Input  float64
	values map[string]float64
}

func newState(in Input) *State {
	return &State{Row: in.Row, Input: in.Value, values: make(map[string]float64)}
}

// Value returns the value recorded under name.
func (s *State) Value(name string) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Set records a value, typically one embedded in another stage's response.
func (s *State) Set(name string, v float64) {
	s.values[name] = v
}

// Status is where a row is in its stage chain.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusComplete
	StatusFailed
	// StatusCanceled marks a row cut short by context cancellation. Stages
	// it never finished are listed as Blocked, not Failed.
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Input is a row that has a valid value.
type Input struct {
	Row   int
	Value float64
}

// InputsFrom lists the populated rows of a compacted column.
func InputsFrom(c sparse.Compacted) []Input {
	out := make([]Input, len(c.Dense))
	for k, v := range c.Dense {
		out[k] = Input{Row: c.Index[k], Value: v}
	}
	return out
}

// RowReport is the outcome of one row. Once a stage fails the row stays
// StatusFailed with FailedStage naming the first failure, even though
// independent stages keep running.
type RowReport struct {
	Row         int
	Status      Status
	FailedStage string
	Done        []string
	Skipped     []string
	Failed      []string
	Blocked     []string
}

// Event is a stage failure reported while rows are running.
type Event struct {
	Row   int
	Stage string
	Kind  pvterr.Kind
	Err   error
}

// CellWriter receives per-cell results as they arrive.
type CellWriter interface {
	WriteCell(row, col int, v *float64)
}

// Orchestrator runs Stages for every input row.
type Orchestrator struct {
	// Name labels metrics and logs, normally the variant name.
	Name   string
	Stages []Stage
	// MaxConcurrentRows bounds how many rows run at once; 0 means no limit.
	MaxConcurrentRows int
	// OnEvent is called for each stage failure. It may be called from
	// several goroutines at once.
	OnEvent func(Event)
}

// Validate checks that every stage depends on an earlier stage.
func (o *Orchestrator) Validate() error {
	seen := map[string]bool{"": true}
	for _, st := range o.Stages {
		if st.Name == "" {
			return errors.New("pipeline: stage with empty name")
		}
		if seen[st.Name] {
			return fmt.Errorf("pipeline: duplicate stage %q", st.Name)
		}
		if !seen[st.After] {
			return fmt.Errorf("pipeline: stage %q runs after unknown or later stage %q", st.Name, st.After)
		}
		if st.Column < 0 || st.Column > grid.DerivedColumns {
			return fmt.Errorf("pipeline: stage %q writes column %d", st.Name, st.Column)
		}
		if st.Run == nil {
			return fmt.Errorf("pipeline: stage %q has no Run", st.Name)
		}
		seen[st.Name] = true
	}
	return nil
}

// Run validates wc, then runs every input row concurrently and writes each
// stage result to w as soon as it is available. It returns an error only
// when nothing was attempted; per-row failures are in the reports and were
// sent to OnEvent.
func (o *Orchestrator) Run(ctx context.Context, wc well.Context, inputs []Input, w CellWriter) ([]RowReport, error) {
	if err := well.Validate(wc); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, pvterr.ErrNoValidInputs
	}

	reports := make([]RowReport, len(inputs))
	g := new(errgroup.Group)
	if o.MaxConcurrentRows > 0 {
		g.SetLimit(o.MaxConcurrentRows)
	}
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			reports[i] = o.runRow(ctx, wc, in, w)
			return nil
		})
	}
	g.Wait()

	return reports, nil
}

func (o *Orchestrator) runRow(ctx context.Context, wc well.Context, in Input, w CellWriter) RowReport {
	st := newState(in)
	report := RowReport{Row: in.Row, Status: StatusRunning}
	ok := map[string]bool{"": true}

	fail := func(stage string, err error) {
		report.Failed = append(report.Failed, stage)
		if report.Status != StatusFailed {
			report.Status = StatusFailed
			report.FailedStage = stage
		}
		metrics.StageFailures.WithLabelValues(o.Name, stage).Inc()
		log.Debugf("pipeline: %s row %d stage %s: %v", o.Name, in.Row, stage, err)
		if o.OnEvent != nil {
			o.OnEvent(Event{Row: in.Row, Stage: stage, Kind: pvterr.KindOf(err), Err: err})
		}
	}

	canceled := false
	for _, stage := range o.Stages {
		if ctx.Err() != nil {
			canceled = true
			report.Blocked = append(report.Blocked, stage.Name)
			continue
		}
		if !ok[stage.After] {
			report.Blocked = append(report.Blocked, stage.Name)
			continue
		}

		if stage.Skip != nil && stage.Skip(st) {
			v, have := st.Value(stage.Name)
			if !have {
				report.Blocked = append(report.Blocked, stage.Name)
				continue
			}
			if stage.Column > 0 {
				w.WriteCell(in.Row, stage.Column, grid.Float(v))
			}
			ok[stage.Name] = true
			report.Skipped = append(report.Skipped, stage.Name)
			continue
		}

		v, err := runStage(ctx, stage, wc, st)
		switch {
		case errors.Is(err, ErrNoValue):
			ok[stage.Name] = true
			report.Done = append(report.Done, stage.Name)
		case err != nil && ctx.Err() != nil:
			canceled = true
			report.Blocked = append(report.Blocked, stage.Name)
		case err != nil:
			fail(stage.Name, err)
		default:
			st.Set(stage.Name, v)
			if stage.Column > 0 {
				w.WriteCell(in.Row, stage.Column, grid.Float(v))
			}
			ok[stage.Name] = true
			report.Done = append(report.Done, stage.Name)
		}
	}

	switch {
	case report.Status == StatusFailed:
	case canceled:
		report.Status = StatusCanceled
	default:
		report.Status = StatusComplete
	}
	return report
}

// runStage calls stage.Run and turns a panic into an error so one bad stage
// cannot take down the other rows.
func runStage(ctx context.Context, stage Stage, wc well.Context, st *State) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name, r)
		}
	}()
	return stage.Run(ctx, wc, st)
}
