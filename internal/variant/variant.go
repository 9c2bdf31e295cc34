// Package variant defines the property sets a grid can be calculated for.
// Each variant pairs a batch endpoint and row mapper with the equivalent
// chain of single-value stages used when the batch endpoint is missing.
package variant

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lox/gaspvt/internal/batch"
	"github.com/lox/gaspvt/internal/grid"
	"github.com/lox/gaspvt/internal/models"
	"github.com/lox/gaspvt/internal/pipeline"
	"github.com/lox/gaspvt/internal/pvtclient"
	"github.com/lox/gaspvt/internal/well"
)

// Calculator is the part of the remote service the variants use.
type Calculator interface {
	BatchPVT(ctx context.Context, req pvtclient.PVTBatchRequest) ([]models.PVTResult, error)
	BatchPb(ctx context.Context, req pvtclient.PbBatchRequest) ([]models.PbResult, error)
	Pwbs(ctx context.Context, req pvtclient.PwbsRequest) (pvtclient.PwbsResult, error)
	Z(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error)
	Bg(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error)
	Niandu(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error)
	Cg(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error)
	Density(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error)
}

// Variant is one calculation layout.
type Variant struct {
	Name    string
	Headers [grid.Columns]string
	// Batch runs the whole column through the batch endpoint.
	Batch func(ctx context.Context, calc Calculator, raw []any, wc well.Context) ([]grid.Row, error)
	// Stages builds the per-row fallback chain.
	Stages func(calc Calculator) []pipeline.Stage
}

const (
	NamePVT = "pvt"
	NamePb  = "pb"
)

var registry = map[string]Variant{
	NamePVT: PVT,
	NamePb:  Pb,
}

// Lookup returns the variant registered under name.
func Lookup(name string) (Variant, error) {
	v, ok := registry[name]
	if !ok {
		return Variant{}, fmt.Errorf("unknown variant %q (have %v)", name, Names())
	}
	return v, nil
}

// Names lists the registered variants.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func row(orig any, vals ...*float64) grid.Row {
	r := grid.Row{Input: orig}
	copy(r.Derived[:], vals)
	return r
}

func pOverZ(p, z float64) float64 {
	if z == 0 {
		return 0
	}
	return p / z
}

// pressureFn picks the pressure a stage works on.
type pressureFn func(st *pipeline.State) (float64, error)

func inputPressure(st *pipeline.State) (float64, error) {
	return st.Input, nil
}

func stagePressure(name string) pressureFn {
	return func(st *pipeline.State) (float64, error) {
		v, ok := st.Value(name)
		if !ok {
			return 0, fmt.Errorf("no %s value for row %d", name, st.Row)
		}
		return v, nil
	}
}

type singleCall func(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error)

// singleStage calls a single-property endpoint with a one-element pressure list.
func singleStage(name string, col int, after string, call singleCall, pressure pressureFn) pipeline.Stage {
	return pipeline.Stage{
		Name:   name,
		Column: col,
		After:  after,
		Run: func(ctx context.Context, wc well.Context, st *pipeline.State) (float64, error) {
			p, err := pressure(st)
			if err != nil {
				return 0, err
			}
			vals, err := call(ctx, batch.SingleRequest([]float64{p}, wc))
			if err != nil {
				return 0, err
			}
			return vals[0], nil
		},
	}
}

// pOverZStage derives P/Z locally from the pressure and the z stage.
func pOverZStage(col int, pressure pressureFn) pipeline.Stage {
	return pipeline.Stage{
		Name:   "p_over_z",
		Column: col,
		After:  "z",
		Run: func(ctx context.Context, wc well.Context, st *pipeline.State) (float64, error) {
			p, err := pressure(st)
			if err != nil {
				return 0, err
			}
			z, ok := st.Value("z")
			if !ok {
				return 0, errors.New("no z value")
			}
			return pOverZ(p, z), nil
		},
	}
}
