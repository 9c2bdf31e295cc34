package pvtclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lox/gaspvt/internal/models"
	"github.com/lox/gaspvt/internal/pvterr"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type WellDataRequest struct {
	WellNo string `json:"well_no"`
}

// PVTBatchRequest is the body of calculateBatchPVT.
type PVTBatchRequest struct {
	Pressures []float64 `json:"pressures"`
	PC        float64   `json:"pc"`
	TC        float64   `json:"tc"`
	T         float64   `json:"t"`
	RG        float64   `json:"rg"`
	N2        float64   `json:"n2"`
	CO2       float64   `json:"co2"`
	H2S       float64   `json:"h2s"`
}

// PbBatchRequest is the body of calculateBatchPb.
type PbBatchRequest struct {
	Pts    []float64 `json:"pts"`
	WellNo string    `json:"well_no"`
	RG     float64   `json:"rg"`
	PC     float64   `json:"pc"`
	TC     float64   `json:"tc"`
	H      float64   `json:"h"`
	TTS    float64   `json:"tts"`
	TWS    float64   `json:"tws"`
	N2     float64   `json:"n2"`
	CO2    float64   `json:"co2"`
	H2S    float64   `json:"h2s"`
}

// SingleRequest is the body shared by the single-property endpoints. The
// service reads the fields it needs and ignores the rest.
type SingleRequest struct {
	Pressures []float64 `json:"pressures"`
	PC        float64   `json:"pc"`
	TC        float64   `json:"tc"`
	T         float64   `json:"t"`
	RG        float64   `json:"rg"`
	N2        float64   `json:"n2"`
	CO2       float64   `json:"co2"`
	H2S       float64   `json:"h2s"`
}

// PwbsRequest is the body of calculatePwbs; pts is a single wellhead pressure.
type PwbsRequest struct {
	WellNo string  `json:"well_no"`
	RG     float64 `json:"rg"`
	PC     float64 `json:"pc"`
	TC     float64 `json:"tc"`
	H      float64 `json:"h"`
	TTS    float64 `json:"tts"`
	TWS    float64 `json:"tws"`
	Pts    float64 `json:"pts"`
	N2     float64 `json:"n2"`
	CO2    float64 `json:"co2"`
	H2S    float64 `json:"h2s"`
}

// PwbsResult is a bottom-hole pressure and, when the service embeds it, the
// Z factor at that pressure.
type PwbsResult struct {
	Pwbs float64
	Z    *float64
}

// GetWellData fetches the records for a well. A 404 or an empty list is
// reported as ErrWellNotFound.
func (c *Client) GetWellData(ctx context.Context, wellNo string) ([]models.WellRecord, error) {
	var records []models.WellRecord
	err := c.call(ctx, EndpointWellData, WellDataRequest{WellNo: wellNo}, &records)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == 404 {
		return nil, pvterr.Input("load well", fmt.Errorf("%w: %s", ErrWellNotFound, wellNo))
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, pvterr.Input("load well", fmt.Errorf("%w: %s", ErrWellNotFound, wellNo))
	}
	return records, nil
}

// BatchPVT calls calculateBatchPVT. The result length is not checked here;
// reconciliation owns that contract.
func (c *Client) BatchPVT(ctx context.Context, req PVTBatchRequest) ([]models.PVTResult, error) {
	var out []models.PVTResult
	if err := c.call(ctx, EndpointBatchPVT, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchPb calls calculateBatchPb.
func (c *Client) BatchPb(ctx context.Context, req PbBatchRequest) ([]models.PbResult, error) {
	var out []models.PbResult
	if err := c.call(ctx, EndpointBatchPb, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Z(ctx context.Context, req SingleRequest) ([]float64, error) {
	return c.single(ctx, EndpointZ, req)
}

func (c *Client) Bg(ctx context.Context, req SingleRequest) ([]float64, error) {
	return c.single(ctx, EndpointBg, req)
}

func (c *Client) Niandu(ctx context.Context, req SingleRequest) ([]float64, error) {
	return c.single(ctx, EndpointNiandu, req)
}

func (c *Client) Cg(ctx context.Context, req SingleRequest) ([]float64, error) {
	return c.single(ctx, EndpointCg, req)
}

func (c *Client) Density(ctx context.Context, req SingleRequest) ([]float64, error) {
	return c.single(ctx, EndpointDensity, req)
}

func (c *Client) single(ctx context.Context, endpoint string, req SingleRequest) ([]float64, error) {
	var out []float64
	if err := c.call(ctx, endpoint, req, &out); err != nil {
		return nil, err
	}
	if len(out) != len(req.Pressures) {
		return nil, &pvterr.ContractError{Want: len(req.Pressures), Got: len(out)}
	}
	return out, nil
}

// Pwbs calls calculatePwbs. The service has answered with a bare number, a
// one-element array, or a one-element array of {pwbs, z} objects.
func (c *Client) Pwbs(ctx context.Context, req PwbsRequest) (PwbsResult, error) {
	raw, err := c.post(ctx, EndpointPwbs, req)
	if err != nil {
		return PwbsResult{}, err
	}
	res, err := decodePwbs(raw)
	if err != nil {
		return PwbsResult{}, &pvterr.Error{Kind: pvterr.KindContract, Op: EndpointPwbs, Err: err}
	}
	return res, nil
}

var errNullPwbs = errors.New("calculatePwbs returned null")

func decodePwbs(raw []byte) (PwbsResult, error) {
	// null unmarshals into a float64 without error and would read as 0 MPa.
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return PwbsResult{}, errNullPwbs
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return PwbsResult{Pwbs: n}, nil
	}

	var nums []*float64
	if err := json.Unmarshal(raw, &nums); err == nil {
		if len(nums) != 1 {
			return PwbsResult{}, &pvterr.ContractError{Want: 1, Got: len(nums)}
		}
		if nums[0] == nil {
			return PwbsResult{}, errNullPwbs
		}
		return PwbsResult{Pwbs: *nums[0]}, nil
	}

	type pwbsObject struct {
		Pwbs *float64 `json:"pwbs"`
		Z    *float64 `json:"z"`
	}
	var objs []pwbsObject
	if err := json.Unmarshal(raw, &objs); err != nil {
		var obj pwbsObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return PwbsResult{}, fmt.Errorf("unrecognised calculatePwbs response: %s", truncate(raw, 80))
		}
		objs = []pwbsObject{obj}
	}
	if len(objs) != 1 {
		return PwbsResult{}, &pvterr.ContractError{Want: 1, Got: len(objs)}
	}
	if objs[0].Pwbs == nil {
		return PwbsResult{}, errors.New("calculatePwbs response has no pwbs field")
	}
	return PwbsResult{Pwbs: *objs[0].Pwbs, Z: objs[0].Z}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
