package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lox/gaspvt/internal/grid"
	"github.com/lox/gaspvt/internal/models"
	"github.com/lox/gaspvt/internal/pvtclient"
	"github.com/lox/gaspvt/internal/pvterr"
	"github.com/lox/gaspvt/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var wells = map[string]models.WellRecord{
	"SN-01": {WellName: "SN-01", MD: 3200, TH: 300, TB: 370, RG: 0.6, PC: 4.6, TC: 190, N2: 1, CO2: 2},
	"SN-02": {WellName: "SN-02", MD: 2800, TH: 295, TB: 360, RG: 0.65, PC: 4.5, TC: 200},
	"BAD":   {WellName: "BAD", MD: 1000, TH: 290, TB: 330, RG: 0.6, PC: 0, TC: 190},
}

// fakeService answers from the wells table. batchStatus makes the batch
// endpoints fail with that HTTP status; gate blocks batch calls until closed.
// failNiandu makes every viscosity call fail.
type fakeService struct {
	mu          sync.Mutex
	batchStatus int
	failNiandu  bool
	gate        chan struct{}
	entered     chan struct{}
	calls       map[string]int
}

func (f *fakeService) hit(endpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[endpoint]++
}

func (f *fakeService) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeService) GetWellData(ctx context.Context, wellNo string) ([]models.WellRecord, error) {
	f.hit(pvtclient.EndpointWellData)
	rec, ok := wells[wellNo]
	if !ok {
		return nil, pvterr.Input("load well", pvtclient.ErrWellNotFound)
	}
	return []models.WellRecord{rec}, nil
}

func (f *fakeService) batch(endpoint string) error {
	f.hit(endpoint)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.batchStatus != 0 {
		return pvterr.Transport(endpoint, &pvtclient.StatusError{Endpoint: endpoint, StatusCode: f.batchStatus})
	}
	return nil
}

func (f *fakeService) BatchPVT(ctx context.Context, req pvtclient.PVTBatchRequest) ([]models.PVTResult, error) {
	if err := f.batch(pvtclient.EndpointBatchPVT); err != nil {
		return nil, err
	}
	out := make([]models.PVTResult, len(req.Pressures))
	for i, p := range req.Pressures {
		out[i] = models.PVTResult{Z: 0.9, POverZ: p / 0.9, Bg: 0.01, Niandu: 0.02, Cg: 0.03, Density: req.T}
	}
	return out, nil
}

func (f *fakeService) BatchPb(ctx context.Context, req pvtclient.PbBatchRequest) ([]models.PbResult, error) {
	if err := f.batch(pvtclient.EndpointBatchPb); err != nil {
		return nil, err
	}
	out := make([]models.PbResult, len(req.Pts))
	for i, p := range req.Pts {
		out[i] = models.PbResult{Pwbs: p + 1, Z: 0.9, Bg: 0.004}
	}
	return out, nil
}

func (f *fakeService) Pwbs(ctx context.Context, req pvtclient.PwbsRequest) (pvtclient.PwbsResult, error) {
	f.hit(pvtclient.EndpointPwbs)
	return pvtclient.PwbsResult{Pwbs: req.Pts + 1}, nil
}

func (f *fakeService) single(endpoint string, v float64, req pvtclient.SingleRequest) ([]float64, error) {
	f.hit(endpoint)
	out := make([]float64, len(req.Pressures))
	for i := range out {
		out[i] = v
	}
	return out, nil
}

func (f *fakeService) Z(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error) {
	return f.single(pvtclient.EndpointZ, 0.5, req)
}

func (f *fakeService) Bg(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error) {
	return f.single(pvtclient.EndpointBg, 0.01, req)
}

func (f *fakeService) Niandu(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error) {
	if f.failNiandu {
		f.hit(pvtclient.EndpointNiandu)
		return nil, pvterr.Transport(pvtclient.EndpointNiandu, errors.New("connection reset"))
	}
	return f.single(pvtclient.EndpointNiandu, 0.02, req)
}

func (f *fakeService) Cg(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error) {
	return f.single(pvtclient.EndpointCg, 0.03, req)
}

func (f *fakeService) Density(ctx context.Context, req pvtclient.SingleRequest) ([]float64, error) {
	return f.single(pvtclient.EndpointDensity, 0.04, req)
}

func newTestSession(t *testing.T, svc *fakeService, cfg Config) (*Session, *grid.Memory) {
	t.Helper()
	g := grid.NewMemory(0)
	return New(svc, g, nil, cfg), g
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"Batch", ModeBatch, false},
		{" sequential ", ModeSequential, false},
		{"parallel", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_DefaultRows(t *testing.T) {
	_, g := newTestSession(t, &fakeService{}, Config{})
	if n := len(g.Rows()); n != DefaultRows {
		t.Errorf("rows = %d, want %d", n, DefaultRows)
	}
}

func TestLoadWell_EmptyWellNo(t *testing.T) {
	svc := &fakeService{}
	s, _ := newTestSession(t, svc, Config{})

	_, err := s.LoadWell(context.Background(), "   ")
	if !errors.Is(err, pvterr.ErrEmptyWellNo) {
		t.Fatalf("err = %v, want ErrEmptyWellNo", err)
	}
	if svc.count(pvtclient.EndpointWellData) != 0 {
		t.Error("no request should be sent for an empty well number")
	}
	notes := s.Notifications()
	if len(notes) != 1 || notes[0].Kind != "input" {
		t.Errorf("notifications = %+v, want one input notification", notes)
	}
}

func TestLoadWell_ResetsGrid(t *testing.T) {
	s, g := newTestSession(t, &fakeService{}, Config{Rows: 3})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0, 12.0})
	if _, err := s.Calculate(ctx, "pvt"); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	v := s.Version()
	wc, err := s.LoadWell(ctx, "SN-02")
	if err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	if wc.WellNo != "SN-02" || wc.PC != 4.5 {
		t.Errorf("well = %+v", wc)
	}
	if s.Version() <= v {
		t.Error("version should increase on well switch")
	}
	for i, r := range g.Rows() {
		if r.Input != nil || !r.IsSentinel() {
			t.Errorf("row %d = %+v, want empty", i, r)
		}
	}
}

func TestCalculate_NotInitialized(t *testing.T) {
	s, _ := newTestSession(t, &fakeService{}, Config{})
	s.SetInputs([]any{10.0})

	_, err := s.Calculate(context.Background(), "pvt")
	if !errors.Is(err, pvterr.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestCalculate_UnknownVariant(t *testing.T) {
	s, _ := newTestSession(t, &fakeService{}, Config{})
	_, err := s.Calculate(context.Background(), "ph")
	if pvterr.KindOf(err) != pvterr.KindInput {
		t.Fatalf("kind = %v, want input", pvterr.KindOf(err))
	}
}

func TestCalculate_ValidationBlocksRequests(t *testing.T) {
	svc := &fakeService{}
	s, _ := newTestSession(t, svc, Config{})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "BAD"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0})

	_, err := s.Calculate(ctx, "pvt")
	if pvterr.KindOf(err) != pvterr.KindValidation {
		t.Fatalf("kind = %v, want validation (err %v)", pvterr.KindOf(err), err)
	}
	if svc.count(pvtclient.EndpointBatchPVT) != 0 {
		t.Error("no calculation request should be sent")
	}
}

func TestCalculate_NoValidInputs(t *testing.T) {
	svc := &fakeService{}
	s, _ := newTestSession(t, svc, Config{})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{nil, "", "abc"})

	_, err := s.Calculate(ctx, "pvt")
	if !errors.Is(err, pvterr.ErrNoValidInputs) {
		t.Fatalf("err = %v, want ErrNoValidInputs", err)
	}
	if svc.count(pvtclient.EndpointBatchPVT) != 0 {
		t.Error("no calculation request should be sent")
	}
}

func TestCalculate_Batch(t *testing.T) {
	svc := &fakeService{}
	s, g := newTestSession(t, svc, Config{Rows: 4})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0, nil, "", 15.2})

	out, err := s.Calculate(ctx, "pvt")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if out.Path != PathBatch || out.Requested != 2 || out.Complete != 2 || out.Rows != 4 {
		t.Errorf("outcome = %+v", out)
	}

	rows := g.Rows()
	if rows[0].Cell(1) != 0.9 || rows[3].Cell(1) != 0.9 {
		t.Errorf("Z cells = %v, %v", rows[0].Cell(1), rows[3].Cell(1))
	}
	// Batch requests carry the bottom-hole temperature as t.
	if rows[0].Cell(6) != 370.0 {
		t.Errorf("density echo = %v, want 370", rows[0].Cell(6))
	}
	if !rows[1].IsSentinel() || !rows[2].IsSentinel() {
		t.Error("empty rows should be sentinels")
	}
	if rows[2].Input != "" {
		t.Errorf("row 2 input = %q, want verbatim empty string", rows[2].Input)
	}
}

func TestCalculate_FallsBackWhenBatchMissing(t *testing.T) {
	svc := &fakeService{batchStatus: 404}
	s, g := newTestSession(t, svc, Config{Rows: 2})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0, 20.0})

	out, err := s.Calculate(ctx, "pvt")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if out.Path != PathSequential {
		t.Errorf("path = %q, want sequential", out.Path)
	}
	if out.Complete != 2 {
		t.Errorf("complete = %d, want 2", out.Complete)
	}
	if got := svc.count(pvtclient.EndpointZ); got != 2 {
		t.Errorf("calculateZ calls = %d, want 2", got)
	}
	r := g.Rows()[1]
	if r.Cell(1) != 0.5 || r.Cell(2) != 40.0 {
		t.Errorf("row 1 = %v", r)
	}
}

func TestCalculate_FallbackClearsPreviousResults(t *testing.T) {
	svc := &fakeService{}
	s, g := newTestSession(t, svc, Config{Rows: 2})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0, 20.0})

	if _, err := s.Calculate(ctx, "pvt"); err != nil {
		t.Fatalf("batch Calculate: %v", err)
	}
	if got := g.Rows()[0].Cell(4); got != 0.02 {
		t.Fatalf("viscosity after batch = %v, want 0.02", got)
	}

	svc.batchStatus = 404
	svc.failNiandu = true
	out, err := s.Calculate(ctx, "pvt")
	if err != nil {
		t.Fatalf("fallback Calculate: %v", err)
	}
	if out.Path != PathSequential || len(out.Failures) != 2 {
		t.Errorf("outcome = %+v", out)
	}

	for i, r := range g.Rows() {
		if got := r.Cell(4); got != nil {
			t.Errorf("row %d viscosity = %v, want nil after the stage failed", i, got)
		}
		if got := r.Cell(1); got != 0.5 {
			t.Errorf("row %d Z = %v, want 0.5 from the per-row path", i, got)
		}
	}
	if got := g.Rows()[1].Input; got != 20.0 {
		t.Errorf("row 1 input = %v, want 20", got)
	}
}

func TestCalculate_BatchModeDoesNotFallBack(t *testing.T) {
	svc := &fakeService{batchStatus: 404}
	s, _ := newTestSession(t, svc, Config{Mode: ModeBatch})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0})

	_, err := s.Calculate(ctx, "pvt")
	if !errors.Is(err, pvtclient.ErrEndpointUnavailable) {
		t.Fatalf("err = %v, want ErrEndpointUnavailable", err)
	}
	if svc.count(pvtclient.EndpointZ) != 0 {
		t.Error("batch mode must not run the per-row stages")
	}
}

func TestCalculate_ServerErrorDoesNotFallBack(t *testing.T) {
	svc := &fakeService{batchStatus: 500}
	s, _ := newTestSession(t, svc, Config{})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0})

	_, err := s.Calculate(ctx, "pvt")
	if pvterr.KindOf(err) != pvterr.KindTransport {
		t.Fatalf("kind = %v, want transport", pvterr.KindOf(err))
	}
	if svc.count(pvtclient.EndpointZ) != 0 {
		t.Error("a failing batch endpoint is not a missing one")
	}
}

func TestCalculate_SequentialMode(t *testing.T) {
	svc := &fakeService{}
	s, g := newTestSession(t, svc, Config{Mode: ModeSequential, Rows: 1})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0})

	out, err := s.Calculate(ctx, "pb")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if out.Path != PathSequential {
		t.Errorf("path = %q", out.Path)
	}
	if svc.count(pvtclient.EndpointBatchPb) != 0 {
		t.Error("sequential mode must not call the batch endpoint")
	}
	if got := g.Rows()[0].Cell(1); got != 11.0 {
		t.Errorf("pwbs = %v, want 11", got)
	}
}

func TestCalculate_StaleAfterWellSwitch(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s, g := newTestSession(t, svc, Config{Rows: 2})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0, 20.0})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Calculate(ctx, "pvt")
		errc <- err
	}()

	<-svc.entered
	svc.entered = nil
	if _, err := s.LoadWell(ctx, "SN-02"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	close(svc.gate)

	select {
	case err := <-errc:
		if !errors.Is(err, pvterr.ErrStale) {
			t.Fatalf("err = %v, want ErrStale", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("calculation did not finish")
	}

	for i, r := range g.Rows() {
		if !r.IsSentinel() {
			t.Errorf("row %d has results from the superseded well: %v", i, r)
		}
	}
	if wc, _ := s.Well(); wc.WellNo != "SN-02" {
		t.Errorf("well = %q, want SN-02", wc.WellNo)
	}
}

func TestSetInputs_SupersedesPendingCalculation(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s, g := newTestSession(t, svc, Config{Rows: 2})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0, 20.0})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Calculate(ctx, "pvt")
		errc <- err
	}()

	<-svc.entered
	svc.entered = nil
	before := s.Version()
	s.SetInputs([]any{99.0, 98.0})
	if s.Version() == before {
		t.Error("version unchanged after inputs changed under a pending calculation")
	}
	close(svc.gate)

	select {
	case err := <-errc:
		if !errors.Is(err, pvterr.ErrStale) {
			t.Fatalf("err = %v, want ErrStale", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("calculation did not finish")
	}

	rows := g.Rows()
	if rows[0].Input != 99.0 || rows[1].Input != 98.0 {
		t.Errorf("inputs = %v, %v, want 99, 98", rows[0].Input, rows[1].Input)
	}
	for i, r := range rows {
		if !r.IsSentinel() {
			t.Errorf("row %d has results for the old inputs: %v", i, r)
		}
	}
}

func TestSetWell_SupersedesPendingCalculation(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s, g := newTestSession(t, svc, Config{Rows: 1})
	ctx := context.Background()

	wc, err := s.LoadWell(ctx, "SN-01")
	if err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0})

	// Nothing pending: an edit keeps the version.
	before := s.Version()
	if err := s.SetWell(wc); err != nil {
		t.Fatalf("SetWell: %v", err)
	}
	if s.Version() != before {
		t.Error("idle SetWell bumped the version")
	}

	errc := make(chan error, 1)
	go func() {
		_, err := s.Calculate(ctx, "pvt")
		errc <- err
	}()

	<-svc.entered
	svc.entered = nil
	wc.TB = 380
	if err := s.SetWell(wc); err != nil {
		t.Fatalf("SetWell: %v", err)
	}
	close(svc.gate)

	if err := <-errc; !errors.Is(err, pvterr.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if !g.Rows()[0].IsSentinel() {
		t.Error("results computed with the old parameters were written")
	}

	out, err := s.Calculate(ctx, "pvt")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if out.Complete != 1 || g.Rows()[0].Cell(6) != 380.0 {
		t.Errorf("density echo = %v, want 380", g.Rows()[0].Cell(6))
	}
}

func TestCalculate_Busy(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s, _ := newTestSession(t, svc, Config{})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Calculate(ctx, "pvt")
		errc <- err
	}()
	<-svc.entered

	if _, err := s.Calculate(ctx, "pvt"); !errors.Is(err, pvterr.ErrBusy) {
		t.Errorf("second Calculate err = %v, want ErrBusy", err)
	}

	close(svc.gate)
	if err := <-errc; err != nil {
		t.Fatalf("first Calculate: %v", err)
	}

	// The gate is closed, so this one runs straight through.
	svc.entered = nil
	if _, err := s.Calculate(ctx, "pvt"); err != nil {
		t.Errorf("Calculate after completion: %v", err)
	}
}

func TestCalculate_RecordsRuns(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := &fakeService{batchStatus: 404}
	s := New(svc, grid.NewMemory(0), st, Config{Rows: 3})
	ctx := context.Background()

	if _, err := s.LoadWell(ctx, "SN-01"); err != nil {
		t.Fatalf("LoadWell: %v", err)
	}
	s.SetInputs([]any{10.0, nil, 12.0})
	if _, err := s.Calculate(ctx, "pvt"); err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	s.SetInputs(nil)
	if _, err := s.Calculate(ctx, "pvt"); err == nil {
		t.Fatal("expected error for empty inputs")
	}

	runs, err := st.RecentRuns("SN-01", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	failed, ok := runs[0], runs[1]
	if failed.Success || failed.ErrorKind.String != "input" {
		t.Errorf("failed run = %+v", failed)
	}
	if !ok.Success || ok.Path.String != PathSequential || ok.RowsRequested.Int64 != 2 || ok.RowsComplete.Int64 != 2 {
		t.Errorf("ok run = %+v", ok)
	}
	if ok.SessionID != s.ID {
		t.Errorf("session id = %q, want %q", ok.SessionID, s.ID)
	}
}

func TestSubscribe(t *testing.T) {
	s, _ := newTestSession(t, &fakeService{}, Config{})
	ch, cancel := s.Subscribe()
	defer cancel()

	if _, err := s.Calculate(context.Background(), "pvt"); err == nil {
		t.Fatal("expected ErrNotInitialized")
	}
	select {
	case n := <-ch:
		if n.Kind != "input" || n.Row != -1 {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestManager(t *testing.T) {
	m := NewManager(&fakeService{}, nil, Config{Rows: 5})
	s := m.Create()

	got, ok := m.Get(s.ID)
	if !ok || got != s {
		t.Fatal("Get did not return the created session")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
	if len(s.Rows()) != 5 {
		t.Errorf("rows = %d, want 5", len(s.Rows()))
	}
	if !m.Delete(s.ID) || m.Delete(s.ID) {
		t.Error("Delete should succeed once")
	}
	if _, ok := m.Get(s.ID); ok {
		t.Error("session still present after Delete")
	}
}
