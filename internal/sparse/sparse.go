// Package sparse converts a fixed-length column that may contain empty or
// invalid cells into a dense value list plus the positions it came from.
package sparse

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lox/gaspvt/internal/pvterr"
)

// PositionalValue is a coerced cell and its row in the original column.
// Value is nil when the cell was empty, non-numeric or non-finite.
type PositionalValue struct {
	Value *float64
	Index int
}

// IndexMap maps a position in the dense list to a row in the original column.
type IndexMap []int

// Compacted is the dense form of a column.
type Compacted struct {
	Dense []float64
	Index IndexMap
}

// Empty reports whether no cell held a valid value.
func (c Compacted) Empty() bool {
	return len(c.Dense) == 0
}

// ParseCell coerces a grid cell to a finite float.
func ParseCell(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Positions coerces every cell of raw, keeping its index.
func Positions(raw []any) []PositionalValue {
	out := make([]PositionalValue, len(raw))
	for i, cell := range raw {
		out[i].Index = i
		if f, ok := ParseCell(cell); ok {
			out[i].Value = &f
		}
	}
	return out
}

// Compact keeps the cells with a value, in original order.
func Compact(raw []any) Compacted {
	var c Compacted
	for _, pv := range Positions(raw) {
		if pv.Value == nil {
			continue
		}
		c.Dense = append(c.Dense, *pv.Value)
		c.Index = append(c.Index, pv.Index)
	}
	return c
}

// Validate checks that every index falls inside a column of n rows and that
// indexes are strictly increasing.
func (m IndexMap) Validate(n int) error {
	prev := -1
	for k, idx := range m {
		if idx < 0 || idx >= n {
			return &pvterr.Error{Kind: pvterr.KindContract, Op: "index map", Err: fmt.Errorf("position %d maps to row %d outside %d rows", k, idx, n)}
		}
		if idx <= prev {
			return &pvterr.Error{Kind: pvterr.KindContract, Op: "index map", Err: fmt.Errorf("position %d maps to row %d after row %d", k, idx, prev)}
		}
		prev = idx
	}
	return nil
}

// Scatter is the inverse of Compact: it places dense[k] at row m[k] of a
// column of n rows and leaves every other row nil.
func Scatter(n int, m IndexMap, dense []float64) []*float64 {
	out := make([]*float64, n)
	for k, idx := range m {
		if k >= len(dense) || idx < 0 || idx >= n {
			continue
		}
		v := dense[k]
		out[idx] = &v
	}
	return out
}
