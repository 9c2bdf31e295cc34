package variant

import (
	"context"

	"github.com/lox/gaspvt/internal/batch"
	"github.com/lox/gaspvt/internal/grid"
	"github.com/lox/gaspvt/internal/models"
	"github.com/lox/gaspvt/internal/pipeline"
	"github.com/lox/gaspvt/internal/pvtclient"
	"github.com/lox/gaspvt/internal/well"
)

// Pb computes bottom-hole pressure from wellhead pressure, then the gas
// properties at that bottom-hole pressure.
var Pb = Variant{
	Name:    NamePb,
	Headers: [grid.Columns]string{"Wellhead P (MPa)", "Bottom-hole P (MPa)", "Z", "P/Z", "1/Bg", "Viscosity", "Cg"},
	Batch: func(ctx context.Context, calc Calculator, raw []any, wc well.Context) ([]grid.Row, error) {
		r := batch.Runner[pvtclient.PbBatchRequest, models.PbResult]{
			Build:  batch.BuildPb,
			Call:   calc.BatchPb,
			MapRow: MapPbRow,
		}
		return r.Run(ctx, raw, wc)
	},
	Stages: pbStages,
}

// MapPbRow lays out a calculateBatchPb result as
// [pt, pwbs, z, p/z, 1/bg, viscosity, cg]. 1/bg is null when bg is zero.
func MapPbRow(orig any, r models.PbResult) grid.Row {
	var invBg *float64
	if r.Bg != 0 {
		invBg = grid.Float(1 / r.Bg)
	}
	return row(orig,
		grid.Float(r.Pwbs),
		grid.Float(r.Z),
		grid.Float(r.POverZ),
		invBg,
		grid.Float(r.Niandu),
		grid.Float(r.Cg),
	)
}

func pbStages(calc Calculator) []pipeline.Stage {
	bottomHole := stagePressure("pwbs")

	invBg := singleStage("inv_bg", 4, "pwbs", calc.Bg, bottomHole)
	bgRun := invBg.Run
	invBg.Run = func(ctx context.Context, wc well.Context, st *pipeline.State) (float64, error) {
		bg, err := bgRun(ctx, wc, st)
		if err != nil {
			return 0, err
		}
		if bg == 0 {
			return 0, pipeline.ErrNoValue
		}
		return 1 / bg, nil
	}

	z := singleStage("z", 2, "pwbs", calc.Z, bottomHole)
	z.Skip = func(st *pipeline.State) bool {
		_, ok := st.Value("z")
		return ok
	}

	return []pipeline.Stage{
		{
			Name:   "pwbs",
			Column: 1,
			Run: func(ctx context.Context, wc well.Context, st *pipeline.State) (float64, error) {
				res, err := calc.Pwbs(ctx, batch.PwbsRequest(st.Input, wc))
				if err != nil {
					return 0, err
				}
				if res.Z != nil {
					st.Set("z", *res.Z)
				}
				return res.Pwbs, nil
			},
		},
		z,
		pOverZStage(3, bottomHole),
		invBg,
		singleStage("niandu", 5, "pwbs", calc.Niandu, bottomHole),
		singleStage("cg", 6, "pwbs", calc.Cg, bottomHole),
	}
}
