package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/anchor"
	anchormock "github.com/TheShiveshNetwork/sayonara/internal/anchor/mock"
	"github.com/TheShiveshNetwork/sayonara/internal/certificate"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/repository/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubJobs is a JobService whose behaviour is set per test.
type stubJobs struct {
	devices []domain.Device
	jobs    map[uuid.UUID]*domain.Job
	certs   map[uuid.UUID]*domain.Certificate

	StartFn  func(req domain.StartJobRequest) (*domain.Job, error)
	CancelFn func(id uuid.UUID) error
	updates  chan domain.JobStatus
}

func newStubJobs() *stubJobs {
	return &stubJobs{
		devices: []domain.Device{{ID: "sdb", Path: "/dev/sdb", CapacityBytes: 1 << 30, Class: domain.ClassHDD}},
		jobs:    make(map[uuid.UUID]*domain.Job),
		certs:   make(map[uuid.UUID]*domain.Certificate),
	}
}

func (s *stubJobs) ListDevices(context.Context) ([]domain.Device, error) { return s.devices, nil }

func (s *stubJobs) RefreshHealth(_ context.Context, id string) (*domain.Device, error) {
	for _, d := range s.devices {
		if d.ID == id {
			d.Health.Status = domain.HealthPass
			return &d, nil
		}
	}
	return nil, domain.ErrDeviceNotFound
}

func (s *stubJobs) ListMethods(_ context.Context, id string) ([]domain.Method, error) {
	if id != "sdb" {
		return nil, domain.ErrDeviceNotFound
	}
	return []domain.Method{{ID: "quick", Passes: []domain.PassSpec{{Kind: domain.PatternZero}}}}, nil
}

func (s *stubJobs) StartJob(_ context.Context, req domain.StartJobRequest) (*domain.Job, error) {
	if s.StartFn != nil {
		return s.StartFn(req)
	}
	j := &domain.Job{ID: uuid.New(), DeviceID: req.DeviceID, MethodID: req.MethodID, State: domain.StatePending, Seed: "00ff"}
	s.jobs[j.ID] = j
	return j, nil
}

func (s *stubJobs) GetJob(id uuid.UUID) (*domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *stubJobs) GetJobStatus(id uuid.UUID) (domain.JobStatus, error) {
	j, ok := s.jobs[id]
	if !ok {
		return domain.JobStatus{}, domain.ErrJobNotFound
	}
	return j.Status(), nil
}

func (s *stubJobs) CancelJob(id uuid.UUID) error {
	if s.CancelFn != nil {
		return s.CancelFn(id)
	}
	if _, ok := s.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *stubJobs) GetCertificate(_ context.Context, id uuid.UUID) (*domain.Certificate, error) {
	if c, ok := s.certs[id]; ok {
		return c, nil
	}
	if _, ok := s.jobs[id]; ok {
		return nil, domain.ErrCertificateNotReady
	}
	return nil, domain.ErrJobNotFound
}

func (s *stubJobs) ReissueCertificate(_ context.Context, id uuid.UUID) (*domain.Certificate, error) {
	old, ok := s.certs[id]
	if !ok {
		return nil, domain.ErrJobNotCertifiable
	}
	prev := old.ID
	c := &domain.Certificate{ID: uuid.New(), JobID: id, ContentHash: "def", Supersedes: &prev}
	s.certs[id] = c
	return c, nil
}

func (s *stubJobs) Subscribe(id uuid.UUID) (<-chan domain.JobStatus, func(), error) {
	if _, ok := s.jobs[id]; !ok {
		return nil, nil, domain.ErrJobNotFound
	}
	return s.updates, func() {}, nil
}

type testServer struct {
	router *gin.Engine
	jobs   *stubJobs
	ledger *anchormock.Ledger
}

func setupTestRouter(withLedger bool) *testServer {
	ts := &testServer{jobs: newStubJobs()}
	deps := RouterDeps{
		Jobs: ts.jobs,
		Checks: map[string]HealthCheck{
			"journal": func(context.Context) error { return nil },
		},
	}
	if withLedger {
		ts.ledger = anchormock.NewLedger()
		deps.Anchors = anchor.NewService(ts.ledger, mock.NewReceiptStore(), mock.NewCertificateStore(),
			anchor.Config{Confirmations: 2}, zap.NewNop())
	}
	ts.router = NewRouter(deps, zap.NewNop(), RouterConfig{MaxBodyBytes: 1 << 10})
	return ts
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestStartJobHandler_Success(t *testing.T) {
	ts := setupTestRouter(false)

	w := ts.do(http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"device_id": "sdb",
		"method_id": "quick",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp domain.StartJobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.JobID == uuid.Nil || resp.State != domain.StatePending {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(ts.jobs.jobs) != 1 {
		t.Errorf("expected 1 started job, got %d", len(ts.jobs.jobs))
	}
}

func TestStartJobHandler_MissingFields(t *testing.T) {
	ts := setupTestRouter(false)

	w := ts.do(http.MethodPost, "/api/v1/jobs", map[string]interface{}{"device_id": "sdb"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStartJobHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrDeviceNotFound, http.StatusNotFound},
		{domain.ErrUnknownMethod, http.StatusBadRequest},
		{domain.ErrMethodNotApplicable, http.StatusUnprocessableEntity},
		{domain.ErrInvalidDevice, http.StatusUnprocessableEntity},
		{domain.ErrHiddenArea, http.StatusUnprocessableEntity},
		{domain.ErrSystemVolumeConfirmationRequired, http.StatusPreconditionRequired},
		{domain.ErrDeviceBusy, http.StatusConflict},
		{domain.ErrAccessDenied, http.StatusForbidden},
		{errors.New("journal unavailable"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := setupTestRouter(false)
			ts.jobs.StartFn = func(req domain.StartJobRequest) (*domain.Job, error) {
				return nil, fmt.Errorf("%s: %w", req.DeviceID, tt.err)
			}
			w := ts.do(http.MethodPost, "/api/v1/jobs", map[string]interface{}{"device_id": "sdb", "method_id": "quick"})
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestJobStatusHandler(t *testing.T) {
	ts := setupTestRouter(false)
	id := uuid.New()
	ts.jobs.jobs[id] = &domain.Job{
		ID:       id,
		State:    domain.StateRunning,
		Progress: domain.Progress{PassIndex: 1, PassCount: 3, BytesWritten: 512, TotalBytes: 1024},
		Seed:     "deadbeef",
	}

	w := ts.do(http.MethodGet, "/api/v1/jobs/"+id.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var status domain.JobStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.State != domain.StateRunning || status.PassIndex != 1 || status.BytesWritten != 512 {
		t.Errorf("unexpected status %+v", status)
	}

	w = ts.do(http.MethodGet, "/api/v1/jobs/"+id.String()+"/detail", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "deadbeef") {
		t.Error("expected the job seed to be withheld")
	}
}

func TestJobStatusHandler_NotFound(t *testing.T) {
	ts := setupTestRouter(false)

	if w := ts.do(http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestCancelJobHandler(t *testing.T) {
	ts := setupTestRouter(false)
	id := uuid.New()
	ts.jobs.jobs[id] = &domain.Job{ID: id, State: domain.StateRunning}

	if w := ts.do(http.MethodPost, "/api/v1/jobs/"+id.String()+"/cancel", nil); w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}

	ts.jobs.CancelFn = func(uuid.UUID) error { return domain.ErrJobNotCancellable }
	if w := ts.do(http.MethodPost, "/api/v1/jobs/"+id.String()+"/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestCertificateHandler(t *testing.T) {
	ts := setupTestRouter(false)
	running := uuid.New()
	ts.jobs.jobs[running] = &domain.Job{ID: running, State: domain.StateRunning}
	done := uuid.New()
	ts.jobs.jobs[done] = &domain.Job{ID: done, State: domain.StateSucceeded}
	ts.jobs.certs[done] = &domain.Certificate{ID: uuid.New(), JobID: done, ContentHash: "abc"}

	if w := ts.do(http.MethodGet, "/api/v1/jobs/"+running.String()+"/certificate", nil); w.Code != http.StatusConflict {
		t.Errorf("expected status 409 for a running job, got %d", w.Code)
	}

	w := ts.do(http.MethodGet, "/api/v1/jobs/"+done.String()+"/certificate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var cert domain.Certificate
	if err := json.Unmarshal(w.Body.Bytes(), &cert); err != nil {
		t.Fatal(err)
	}
	if cert.ContentHash != "abc" {
		t.Errorf("expected content hash abc, got %s", cert.ContentHash)
	}
}

func TestCertificateHandler_Verify(t *testing.T) {
	ts := setupTestRouter(false)
	gen, err := certificate.NewGenerator("")
	if err != nil {
		t.Fatal(err)
	}
	id := uuid.New()
	finished := time.Now().UTC()
	job := &domain.Job{
		ID:             id,
		State:          domain.StateSucceeded,
		MethodID:       "quick",
		PassesExecuted: 1,
		StartedAt:      finished.Add(-time.Minute),
		FinishedAt:     &finished,
		Verification:   &domain.VerificationResult{Passed: true, SampledOffsets: []int64{0}},
	}
	cert, err := gen.Generate(job)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ts.jobs.jobs[id] = job
	ts.jobs.certs[id] = cert

	var body map[string]interface{}
	w := ts.do(http.MethodGet, "/api/v1/jobs/"+id.String()+"/certificate/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["valid"] != true {
		t.Errorf("expected a valid certificate, got %v", body)
	}

	// Test: a tampered pass count no longer matches the content hash
	tampered := cert.Clone()
	tampered.PassCount = 7
	ts.jobs.certs[id] = tampered
	w = ts.do(http.MethodGet, "/api/v1/jobs/"+id.String()+"/certificate/verify", nil)
	body = nil
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["valid"] != false {
		t.Errorf("expected an invalid certificate, got %v", body)
	}
}

func TestCertificateHandler_Reissue(t *testing.T) {
	ts := setupTestRouter(false)
	id := uuid.New()
	orig := uuid.New()
	ts.jobs.jobs[id] = &domain.Job{ID: id, State: domain.StateSucceeded}
	ts.jobs.certs[id] = &domain.Certificate{ID: orig, JobID: id, ContentHash: "abc"}

	w := ts.do(http.MethodPost, "/api/v1/jobs/"+id.String()+"/certificate/reissue", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var cert domain.Certificate
	if err := json.Unmarshal(w.Body.Bytes(), &cert); err != nil {
		t.Fatal(err)
	}
	if cert.Supersedes == nil || *cert.Supersedes != orig {
		t.Errorf("expected the reissued certificate to supersede %s", orig)
	}

	cancelled := uuid.New()
	ts.jobs.jobs[cancelled] = &domain.Job{ID: cancelled, State: domain.StateCancelled}
	if w := ts.do(http.MethodPost, "/api/v1/jobs/"+cancelled.String()+"/certificate/reissue", nil); w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestDeviceHandlers(t *testing.T) {
	ts := setupTestRouter(false)

	w := ts.do(http.MethodGet, "/api/v1/devices", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"sdb"`) {
		t.Errorf("expected the device list, got %d: %s", w.Code, w.Body.String())
	}
	if w := ts.do(http.MethodPost, "/api/v1/devices/sdb/health", nil); w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/v1/devices/sdq/methods", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	w = ts.do(http.MethodGet, "/api/v1/devices/sdb/methods", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"quick"`) {
		t.Errorf("expected the method list, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAnchorHandlers(t *testing.T) {
	ts := setupTestRouter(true)
	id := uuid.New()
	ts.jobs.jobs[id] = &domain.Job{ID: id, State: domain.StateSucceeded}
	ts.jobs.certs[id] = &domain.Certificate{ID: uuid.New(), JobID: id, ContentHash: strings.Repeat("ab", 32)}

	w := ts.do(http.MethodPost, "/api/v1/jobs/"+id.String()+"/anchor", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var receipt domain.AnchorReceipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatal(err)
	}
	if receipt.TxRef == "" || receipt.Status != domain.ConfirmationPending {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	ts.ledger.Confirm(receipt.TxRef, 2)
	w = ts.do(http.MethodGet, "/api/v1/anchors/"+receipt.TxRef, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatal(err)
	}
	if receipt.Status != domain.ConfirmationConfirmed {
		t.Errorf("expected confirmed, got %s", receipt.Status)
	}

	if w := ts.do(http.MethodGet, "/api/v1/anchors/0xdead", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for an unknown tx, got %d", w.Code)
	}

	ts.ledger.SubmitFn = func(context.Context, string) (string, error) {
		return "", errors.New("gateway down")
	}
	other := uuid.New()
	ts.jobs.jobs[other] = &domain.Job{ID: other, State: domain.StateSucceeded}
	ts.jobs.certs[other] = &domain.Certificate{ID: uuid.New(), JobID: other, ContentHash: strings.Repeat("cd", 32)}
	if w := ts.do(http.MethodPost, "/api/v1/jobs/"+other.String()+"/anchor", nil); w.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", w.Code)
	}
}

func TestAnchorHandlers_NotConfigured(t *testing.T) {
	ts := setupTestRouter(false)

	if w := ts.do(http.MethodPost, "/api/v1/jobs/"+uuid.New().String()+"/anchor", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	ts := setupTestRouter(false)
	if w := ts.do(http.MethodGet, "/api/v1/health", nil); w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	router := gin.New()
	h := NewHealthHandler(map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, zap.NewNop())
	router.GET("/health", h.Health)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("expected a degraded 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebSocketStream(t *testing.T) {
	ts := setupTestRouter(false)
	id := uuid.New()
	ts.jobs.jobs[id] = &domain.Job{ID: id, State: domain.StateRunning}
	ts.jobs.updates = make(chan domain.JobStatus, 2)
	ts.jobs.updates <- domain.JobStatus{JobID: id, State: domain.StateRunning, BytesWritten: 10}
	ts.jobs.updates <- domain.JobStatus{JobID: id, State: domain.StateSucceeded}
	close(ts.jobs.updates)

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + id.String() + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var states []domain.JobState
	for {
		var s domain.JobStatus
		if err := conn.ReadJSON(&s); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected a normal close, got %v", err)
			}
			break
		}
		states = append(states, s.State)
	}
	if len(states) != 2 || states[1] != domain.StateSucceeded {
		t.Errorf("expected running then succeeded, got %v", states)
	}

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + uuid.New().String() + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404 for an unknown job, got %d", resp.StatusCode)
	}
}
