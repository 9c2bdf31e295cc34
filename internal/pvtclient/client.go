// Package pvtclient talks to the remote gas property calculation service.
package pvtclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/lox/gaspvt/internal/httputil"
	"github.com/lox/gaspvt/internal/metrics"
	"github.com/lox/gaspvt/internal/pvterr"
)

const (
	EndpointLogin    = "login"
	EndpointWellData = "getWellData"
	EndpointBatchPVT = "calculateBatchPVT"
	EndpointBatchPb  = "calculateBatchPb"
	EndpointPwbs     = "calculatePwbs"
	EndpointZ        = "calculateZ"
	EndpointBg       = "calculateBg"
	EndpointNiandu   = "calculateNiandu"
	EndpointCg       = "calculateCg"
	EndpointDensity  = "calculateDensity"

	DefaultRetryMaxElapsed = 10 * time.Second
)

var (
	// ErrEndpointUnavailable matches status errors for endpoints the
	// service does not expose (404, 405, 501).
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrWellNotFound        = errors.New("well not found")
)

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	if target != ErrEndpointUnavailable {
		return false
	}
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}

// PayloadRecorder receives every successful response body.
type PayloadRecorder interface {
	RecordPayload(endpoint string, payload []byte)
}

// Config configures a Client.
type Config struct {
	BaseURL         string
	CallTimeout     time.Duration
	RetryMaxElapsed time.Duration
	HTTPClient      *http.Client
	Recorder        PayloadRecorder
}

// Client calls the calculation service over JSON/HTTP POST.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	callTimeout time.Duration
	retryMax    time.Duration
	recorder    PayloadRecorder
}

// New creates a client for the service rooted at cfg.BaseURL.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  cfg.HTTPClient,
		callTimeout: cfg.CallTimeout,
		retryMax:    cfg.RetryMaxElapsed,
		recorder:    cfg.Recorder,
	}
	if c.httpClient == nil {
		c.httpClient = httputil.NewClient()
	}
	if c.callTimeout <= 0 {
		c.callTimeout = httputil.DefaultTimeout
	}
	if c.retryMax <= 0 {
		c.retryMax = DefaultRetryMaxElapsed
	}
	return c
}

// SetRecorder replaces the payload recorder.
func (c *Client) SetRecorder(r PayloadRecorder) {
	c.recorder = r
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// post sends body to /api/<endpoint> and returns the raw response body.
// Each call is bounded by the configured call timeout, retries included.
func (c *Client) post(ctx context.Context, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	url := c.baseURL + "/api/" + endpoint
	start := time.Now()
	status := "error"
	defer func() {
		metrics.CalcAPICallsTotal.WithLabelValues(endpoint, status).Inc()
		metrics.CalcAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var respBody []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "gaspvt/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("post: %w", err))
		}
		defer resp.Body.Close()
		status = strconv.Itoa(resp.StatusCode)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			se := &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			if retryable(resp.StatusCode) {
				return se
			}
			return backoff.Permanent(se)
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = c.retryMax
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		log.Debugf("pvtclient: %s failed: %v", endpoint, err)
		return nil, pvterr.Transport(endpoint, err)
	}

	if c.recorder != nil {
		c.recorder.RecordPayload(endpoint, respBody)
	}
	return respBody, nil
}

// call posts body and decodes the JSON response into out.
func (c *Client) call(ctx context.Context, endpoint string, body, out any) error {
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &pvterr.Error{Kind: pvterr.KindContract, Op: endpoint, Err: fmt.Errorf("unmarshal: %w", err)}
	}
	return nil
}

// Login checks credentials. Any non-success status means invalid credentials.
func (c *Client) Login(ctx context.Context, username, password string) error {
	_, err := c.post(ctx, EndpointLogin, LoginRequest{Username: username, Password: password})
	var se *StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: status %d", ErrInvalidCredentials, se.StatusCode)
	}
	return err
}
