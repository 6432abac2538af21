package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/connection"
	"accountlink/internal/domain/verification"
	"accountlink/internal/domain/wizard"
	"accountlink/internal/infrastructure/memory"
	"accountlink/internal/shared/simulate"
)

// MockHandoff is a mock implementation of wizard.Handoff
type MockHandoff struct {
	mu        sync.Mutex
	completed map[string][]account.Record
	cancelled []string
	err       error
}

func (m *MockHandoff) Completed(ctx context.Context, sessionID string, accounts []account.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed == nil {
		m.completed = make(map[string][]account.Record)
	}
	m.completed[sessionID] = accounts
	return m.err
}

func (m *MockHandoff) Cancelled(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, sessionID)
	return m.err
}

type testEnv struct {
	router   chi.Router
	sessions *memory.SessionRepository
	handoff  *MockHandoff
}

// newWizardEnv wires the real sub-flows with zero delays. draw feeds the
// verification outcomes.
func newWizardEnv(t *testing.T, draw float64) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClock()
	logger := zap.NewNop()
	methods := []connection.Method{
		connection.NewManualEntry(clock, connection.Timing{}, logger),
		connection.NewFileImport(clock, connection.Timing{}, logger),
		connection.NewSampleData(clock, connection.Timing{}),
	}
	pipelines := func() *verification.Pipeline {
		return verification.NewPipeline(simulate.Fixed(draw), clock, verification.Timing{}, logger)
	}
	handoff := &MockHandoff{}
	sessions := memory.NewSessionRepository()
	orchestrator := wizard.NewOrchestrator(methods, pipelines, handoff, clock, logger)

	r := chi.NewRouter()
	r.Route("/api/wizard", NewWizardHandler(orchestrator, sessions, 25<<20, logger).Register)
	return &testEnv{router: r, sessions: sessions, handoff: handoff}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) open(t *testing.T) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/wizard/sessions", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body = %s", rr.Code, rr.Body)
	}
	var view wizard.View
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view.ID
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) wizard.View {
	t.Helper()
	var view wizard.View
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func TestWizard_SampleFlow(t *testing.T) {
	env := newWizardEnv(t, 0.9)
	id := env.open(t)
	base := "/api/wizard/sessions/" + id

	rr := env.do(t, http.MethodPost, base+"/method", SelectMethodRequest{Method: connection.KindSample})
	if rr.Code != http.StatusOK {
		t.Fatalf("select method status = %d, body = %s", rr.Code, rr.Body)
	}

	rr = env.do(t, http.MethodPost, base+"/connect", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("connect status = %d, body = %s", rr.Code, rr.Body)
	}
	var connected ConnectResponse
	if err := json.NewDecoder(rr.Body).Decode(&connected); err != nil {
		t.Fatalf("decode connect: %v", err)
	}
	if len(connected.Result.Accounts) != 3 {
		t.Errorf("connect accounts = %d, want 3", len(connected.Result.Accounts))
	}
	if connected.Session.Step != wizard.StepVerify {
		t.Errorf("step after connect = %s, want verify", connected.Session.Step)
	}

	rr = env.do(t, http.MethodPost, base+"/verify", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", rr.Code, rr.Body)
	}
	var verified VerifyResponse
	if err := json.NewDecoder(rr.Body).Decode(&verified); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if verified.Verification.Overall != verification.OverallPass {
		t.Errorf("overall = %s, want pass", verified.Verification.Overall)
	}
	for _, acc := range verified.Session.Accounts {
		if acc.Status != account.StatusConnected {
			t.Errorf("account %s status = %s, want connected", acc.Name, acc.Status)
		}
	}

	rr = env.do(t, http.MethodPost, base+"/complete", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body = %s", rr.Code, rr.Body)
	}
	if view := decodeView(t, rr); view.Outcome != wizard.OutcomeCompleted {
		t.Errorf("outcome = %q, want completed", view.Outcome)
	}
	if got := len(env.handoff.completed[id]); got != 3 {
		t.Errorf("handed off %d accounts, want 3", got)
	}

	rr = env.do(t, http.MethodPost, base+"/next", nil)
	if rr.Code != http.StatusGone {
		t.Errorf("next after complete status = %d, want 410", rr.Code)
	}
}

func TestWizard_Errors(t *testing.T) {
	env := newWizardEnv(t, 0.9)
	id := env.open(t)
	base := "/api/wizard/sessions/" + id

	tests := []struct {
		name           string
		method         string
		path           string
		body           any
		expectedStatus int
	}{
		{"unknown session", http.MethodGet, "/api/wizard/sessions/nope", nil, http.StatusNotFound},
		{"unknown method", http.MethodPost, base + "/method", SelectMethodRequest{Method: "carrier-pigeon"}, http.StatusBadRequest},
		{"missing method", http.MethodPost, base + "/method", SelectMethodRequest{}, http.StatusBadRequest},
		{"connect without method", http.MethodPost, base + "/connect", nil, http.StatusConflict},
		{"verify without accounts", http.MethodPost, base + "/verify", nil, http.StatusConflict},
		{"complete without results", http.MethodPost, base + "/complete", nil, http.StatusConflict},
		{"skip ahead", http.MethodPost, base + "/goto", GoToRequest{Step: wizard.StepVerify}, http.StatusConflict},
		{"next from welcome", http.MethodPost, base + "/next", nil, http.StatusOK},
		{"back", http.MethodPost, base + "/back", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.body)
			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v (body %s)", rr.Code, tt.expectedStatus, rr.Body)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, base+"/goto", strings.NewReader("{not json"))
	req.ContentLength = int64(len("{not json"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rr.Code)
	}
}

func TestWizard_ManualRejection(t *testing.T) {
	env := newWizardEnv(t, 0.9)
	id := env.open(t)
	base := "/api/wizard/sessions/" + id

	env.do(t, http.MethodPost, base+"/method", SelectMethodRequest{Method: connection.KindManual})
	rr := env.do(t, http.MethodPost, base+"/connect", connection.Input{Entries: []connection.ManualEntry{{
		Name:          "Checking",
		Institution:   "Local Bank",
		Category:      account.CategoryChecking,
		AccountNumber: "12345678",
		Balance:       "100",
	}}})
	if rr.Code != http.StatusOK {
		t.Fatalf("connect status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp ConnectResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result.Accounts) != 0 || len(resp.Session.Errors) == 0 {
		t.Errorf("missing routing number was not rejected: %+v", resp.Result)
	}
	if resp.Session.Step != wizard.StepConnect {
		t.Errorf("step = %s, want connect", resp.Session.Step)
	}
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestWizard_Upload(t *testing.T) {
	env := newWizardEnv(t, 0.9)
	id := env.open(t)
	base := "/api/wizard/sessions/" + id
	env.do(t, http.MethodPost, base+"/method", SelectMethodRequest{Method: connection.KindFile})

	body, contentType := multipartBody(t, map[string]string{
		"checking.csv": "Date,Description,Amount,Balance\n2024-01-02,Opening deposit,2000.00,2000.00\n2024-01-05,Coffee,-4.50,1995.50\n",
		"notes.txt":    "hello",
	})
	req := httptest.NewRequest(http.MethodPost, base+"/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp ConnectResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result.Accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(resp.Result.Accounts))
	}
	if got := resp.Result.Accounts[0].Balance.StringFixed(2); got != "1995.50" {
		t.Errorf("balance = %s, want 1995.50", got)
	}
	if len(resp.Result.Files) != 2 {
		t.Errorf("file reports = %d, want 2", len(resp.Result.Files))
	}

	req = httptest.NewRequest(http.MethodPost, base+"/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("non-multipart upload status = %d, want 400", rr.Code)
	}
}

func TestWizard_CancelHandoffError(t *testing.T) {
	env := newWizardEnv(t, 0.9)
	env.handoff.err = errors.New("broker down")
	id := env.open(t)

	rr := env.do(t, http.MethodPost, "/api/wizard/sessions/"+id+"/cancel", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("cancel status = %d, want 500", rr.Code)
	}
	s, err := env.sessions.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.View().Outcome != wizard.OutcomeCancelled {
		t.Errorf("outcome = %q, want cancelled", s.View().Outcome)
	}
}

func TestWizard_Methods(t *testing.T) {
	env := newWizardEnv(t, 0.9)
	rr := env.do(t, http.MethodGet, "/api/wizard/methods", nil)
	var resp MethodsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []connection.Kind{connection.KindManual, connection.KindFile, connection.KindSample}
	if len(resp.Methods) != len(want) {
		t.Fatalf("methods = %v, want %v", resp.Methods, want)
	}
	for i := range want {
		if resp.Methods[i] != want[i] {
			t.Errorf("methods[%d] = %s, want %s", i, resp.Methods[i], want[i])
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{wizard.ErrSessionNotFound, http.StatusNotFound},
		{wizard.ErrUnknownMethod, http.StatusBadRequest},
		{wizard.ErrSessionClosed, http.StatusGone},
		{wizard.ErrStaleResult, http.StatusConflict},
		{verification.ErrAlreadyRunning, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
