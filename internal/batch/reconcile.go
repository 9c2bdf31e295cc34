package batch

import (
	"context"

	"github.com/lox/gaspvt/internal/grid"
	"github.com/lox/gaspvt/internal/pvterr"
	"github.com/lox/gaspvt/internal/sparse"
	"github.com/lox/gaspvt/internal/well"
)

// RowMapper turns an original cell and its result into a grid row. It must
// not do I/O.
type RowMapper[T any] func(orig any, r T) grid.Row

// Reconcile returns one row per original cell. Rows listed in idx are built
// by mapRow from the matching result; every other row is a sentinel that
// echoes the original cell. A result count that differs from len(idx) is a
// contract error and no rows are returned.
func Reconcile[T any](original []any, idx sparse.IndexMap, results []T, mapRow RowMapper[T]) ([]grid.Row, error) {
	if len(results) != len(idx) {
		return nil, &pvterr.ContractError{Want: len(idx), Got: len(results)}
	}
	if err := idx.Validate(len(original)); err != nil {
		return nil, err
	}

	rows := make([]grid.Row, len(original))
	for i, orig := range original {
		rows[i] = grid.Sentinel(orig)
	}
	for k, i := range idx {
		rows[i] = mapRow(original[i], results[k])
	}
	return rows, nil
}

// Runner runs one batch submission for a request/result pair.
type Runner[Req, T any] struct {
	Build  func(dense []float64, wc well.Context) Req
	Call   func(ctx context.Context, req Req) ([]T, error)
	MapRow RowMapper[T]
}

// Run compacts raw, sends one request and reconciles the response. It is
// all-or-nothing: on any error no rows are returned.
func (r Runner[Req, T]) Run(ctx context.Context, raw []any, wc well.Context) ([]grid.Row, error) {
	c := sparse.Compact(raw)
	if c.Empty() {
		return nil, pvterr.ErrNoValidInputs
	}

	results, err := r.Call(ctx, r.Build(c.Dense, wc))
	if err != nil {
		return nil, err
	}
	return Reconcile(raw, c.Index, results, r.MapRow)
}
