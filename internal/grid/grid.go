// Package grid holds the result row type shared by the orchestrators and an
// in-memory grid model that stands in for the spreadsheet widget.
package grid

import (
	"encoding/json"
	"sync"
)

const (
	// Columns is the width of a result row: the input column plus DerivedColumns.
	Columns        = 7
	DerivedColumns = Columns - 1
)

// Row is one result row. Input echoes the original cell verbatim; Derived
// holds columns 1..6, nil where no value was computed.
type Row struct {
	Input   any
	Derived [DerivedColumns]*float64
}

// Sentinel returns the row used for positions without a valid input.
func Sentinel(input any) Row {
	return Row{Input: input}
}

// Cell returns the value at col (0..6) as it would appear in the grid.
func (r Row) Cell(col int) any {
	if col == 0 {
		return r.Input
	}
	if col < 1 || col > DerivedColumns {
		return nil
	}
	if v := r.Derived[col-1]; v != nil {
		return *v
	}
	return nil
}

// IsSentinel reports whether no derived column is set.
func (r Row) IsSentinel() bool {
	for _, v := range r.Derived {
		if v != nil {
			return false
		}
	}
	return true
}

func (r Row) MarshalJSON() ([]byte, error) {
	cells := make([]any, Columns)
	for i := range cells {
		cells[i] = r.Cell(i)
	}
	return json.Marshal(cells)
}

// Float returns a pointer to v, for populating Derived.
func Float(v float64) *float64 {
	return &v
}

// Memory is a mutex-guarded grid. Per-row writes may arrive in any order.
type Memory struct {
	mu     sync.RWMutex
	rows   []Row
	writes int
}

// NewMemory returns a grid with n empty rows.
func NewMemory(n int) *Memory {
	return &Memory{rows: make([]Row, n)}
}

// Reset replaces the grid with n empty rows.
func (m *Memory) Reset(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make([]Row, n)
}

// SetInputs loads values into column 0 and clears every derived column,
// growing the grid when needed.
func (m *Memory) SetInputs(values []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows)
	if len(values) > n {
		n = len(values)
	}
	rows := make([]Row, n)
	for i, v := range values {
		rows[i].Input = v
	}
	m.rows = rows
}

func (m *Memory) ReadColumn(col int) []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]any, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.Cell(col)
	}
	return out
}

// BulkWrite replaces the backing store in one step.
func (m *Memory) BulkWrite(rows []Row) {
	cp := make([]Row, len(rows))
	copy(cp, rows)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = cp
	m.writes++
}

// WriteCell sets a derived column. Writes outside the grid are ignored.
func (m *Memory) WriteCell(row, col int, v *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row < 0 || row >= len(m.rows) || col < 1 || col > DerivedColumns {
		return
	}
	m.rows[row].Derived[col-1] = v
}

// Rows returns a copy of the current rows.
func (m *Memory) Rows() []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Row, len(m.rows))
	copy(out, m.rows)
	return out
}

// BulkWrites returns how many bulk loads the grid has received.
func (m *Memory) BulkWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
