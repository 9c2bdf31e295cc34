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

// PVT computes gas properties at the entered pressures.
var PVT = Variant{
	Name:    NamePVT,
	Headers: [grid.Columns]string{"Pressure (MPa)", "Z", "P/Z", "Bg", "Viscosity", "Cg", "Density"},
	Batch: func(ctx context.Context, calc Calculator, raw []any, wc well.Context) ([]grid.Row, error) {
		r := batch.Runner[pvtclient.PVTBatchRequest, models.PVTResult]{
			Build:  batch.BuildPVT,
			Call:   calc.BatchPVT,
			MapRow: MapPVTRow,
		}
		return r.Run(ctx, raw, wc)
	},
	Stages: pvtStages,
}

// MapPVTRow lays out a calculateBatchPVT result as
// [p, z, p/z, bg, viscosity, cg, density].
func MapPVTRow(orig any, r models.PVTResult) grid.Row {
	return row(orig,
		grid.Float(r.Z),
		grid.Float(r.POverZ),
		grid.Float(r.Bg),
		grid.Float(r.Niandu),
		grid.Float(r.Cg),
		grid.Float(r.Density),
	)
}

func pvtStages(calc Calculator) []pipeline.Stage {
	return []pipeline.Stage{
		singleStage("z", 1, "", calc.Z, inputPressure),
		pOverZStage(2, inputPressure),
		singleStage("bg", 3, "", calc.Bg, inputPressure),
		singleStage("niandu", 4, "", calc.Niandu, inputPressure),
		singleStage("cg", 5, "", calc.Cg, inputPressure),
		singleStage("density", 6, "", calc.Density, inputPressure),
	}
}
