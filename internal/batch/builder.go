// Package batch turns a sparse input column into one dense request, sends
// it, and maps the dense response back onto the original row positions.
package batch

import (
	"slices"

	"github.com/lox/gaspvt/internal/pvtclient"
	"github.com/lox/gaspvt/internal/well"
)

// BuildPVT assembles a calculateBatchPVT request. Values are passed through
// in service units; validation happens before this call.
func BuildPVT(dense []float64, wc well.Context) pvtclient.PVTBatchRequest {
	return pvtclient.PVTBatchRequest{
		Pressures: slices.Clone(dense),
		PC:        wc.PC,
		TC:        wc.TC,
		T:         wc.TB,
		RG:        wc.RG,
		N2:        wc.N2,
		CO2:       wc.CO2,
		H2S:       wc.H2S,
	}
}

// BuildPb assembles a calculateBatchPb request from wellhead pressures.
func BuildPb(dense []float64, wc well.Context) pvtclient.PbBatchRequest {
	return pvtclient.PbBatchRequest{
		Pts:    slices.Clone(dense),
		WellNo: wc.WellNo,
		RG:     wc.RG,
		PC:     wc.PC,
		TC:     wc.TC,
		H:      wc.MD,
		TTS:    wc.TH,
		TWS:    wc.TB,
		N2:     wc.N2,
		CO2:    wc.CO2,
		H2S:    wc.H2S,
	}
}

// SingleRequest builds the body for the single-property endpoints.
func SingleRequest(pressures []float64, wc well.Context) pvtclient.SingleRequest {
	return pvtclient.SingleRequest{
		Pressures: slices.Clone(pressures),
		PC:        wc.PC,
		TC:        wc.TC,
		T:         wc.TB,
		RG:        wc.RG,
		N2:        wc.N2,
		CO2:       wc.CO2,
		H2S:       wc.H2S,
	}
}

// PwbsRequest builds the body for calculatePwbs for one wellhead pressure.
func PwbsRequest(pt float64, wc well.Context) pvtclient.PwbsRequest {
	return pvtclient.PwbsRequest{
		WellNo: wc.WellNo,
		RG:     wc.RG,
		PC:     wc.PC,
		TC:     wc.TC,
		H:      wc.MD,
		TTS:    wc.TH,
		TWS:    wc.TB,
		Pts:    pt,
		N2:     wc.N2,
		CO2:    wc.CO2,
		H2S:    wc.H2S,
	}
}
