// Package well holds the well/reservoir parameter snapshot used by every
// calculation and the gate that checks it before any remote call.
package well

import (
	"fmt"
	"math"
	"strings"

	"github.com/lox/gaspvt/internal/models"
	"github.com/lox/gaspvt/internal/pvterr"
)

// Context is an immutable snapshot of the parameters of one well. It is a
// value type: copies never share state.
type Context struct {
	WellNo string  `json:"well_no"`
	MD     float64 `json:"md"`
	TH     float64 `json:"th"`
	TB     float64 `json:"tb"`
	RG     float64 `json:"rg"`
	PC     float64 `json:"pc"`
	TC     float64 `json:"tc"`
	N2     float64 `json:"n2"`
	CO2    float64 `json:"co2"`
	H2S    float64 `json:"h2s"`
}

// FromRecord builds a context from a fetched well record.
func FromRecord(r models.WellRecord) Context {
	return Context{
		WellNo: r.WellName,
		MD:     r.MD,
		TH:     r.TH,
		TB:     r.TB,
		RG:     r.RG,
		PC:     r.PC,
		TC:     r.TC,
		N2:     r.N2,
		CO2:    r.CO2,
		H2S:    r.H2S,
	}
}

const (
	FlagNotFinite     = "not_finite"
	FlagNotPositive   = "not_positive"
	FlagPercentBounds = "percent_out_of_range"
)

// Problem is one failed check on a context field.
type Problem struct {
	Field string
	Flag  string
	Value float64
}

func (p Problem) String() string {
	return fmt.Sprintf("%s=%v (%s)", p.Field, p.Value, p.Flag)
}

// ValidationError lists every field that failed Validate.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "invalid well context: " + strings.Join(parts, ", ")
}

// Check returns the problems with c without wrapping them in an error.
// pc, tc, tb and rg must be strictly positive; n2, co2 and h2s must lie in
// [0, 100]. Every numeric field must be finite.
func Check(c Context) []Problem {
	var problems []Problem

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"md", c.MD},
		{"th", c.TH},
	} {
		if !finite(f.v) {
			problems = append(problems, Problem{Field: f.name, Flag: FlagNotFinite, Value: f.v})
		}
	}

	positive := []struct {
		name string
		v    float64
	}{
		{"pc", c.PC},
		{"tc", c.TC},
		{"tb", c.TB},
		{"rg", c.RG},
	}
	for _, f := range positive {
		switch {
		case !finite(f.v):
			problems = append(problems, Problem{Field: f.name, Flag: FlagNotFinite, Value: f.v})
		case f.v <= 0:
			problems = append(problems, Problem{Field: f.name, Flag: FlagNotPositive, Value: f.v})
		}
	}

	percents := []struct {
		name string
		v    float64
	}{
		{"n2", c.N2},
		{"co2", c.CO2},
		{"h2s", c.H2S},
	}
	for _, f := range percents {
		switch {
		case !finite(f.v):
			problems = append(problems, Problem{Field: f.name, Flag: FlagNotFinite, Value: f.v})
		case f.v < 0 || f.v > 100:
			problems = append(problems, Problem{Field: f.name, Flag: FlagPercentBounds, Value: f.v})
		}
	}

	return problems
}

// Validate returns a validation error when Check finds any problem.
func Validate(c Context) error {
	problems := Check(c)
	if len(problems) == 0 {
		return nil
	}
	return pvterr.Validation("validate well context", &ValidationError{Problems: problems})
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
