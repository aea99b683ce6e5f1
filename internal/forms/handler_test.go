package forms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenleafcpa/greenleaf-web/internal/httpmw"
	"github.com/greenleafcpa/greenleaf-web/internal/ratelimit"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu   sync.Mutex
	subs []Submission
	err  error
}

func (s *recordingSink) Deliver(_ context.Context, sub Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type fakeMetrics struct {
	mu              sync.Mutex
	outcomes        map[string]int
	admissionErrors int
}

func (m *fakeMetrics) IncFormSubmission(form, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[form+"/"+outcome]++
}
func (m *fakeMetrics) IncSinkError(string) {}
func (m *fakeMetrics) IncAdmissionError() {
	m.mu.Lock()
	m.admissionErrors++
	m.mu.Unlock()
}

type failingAdmitter struct{}

func (failingAdmitter) Admit(context.Context, string, ratelimit.Policy) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type fixture struct {
	router    http.Handler
	clock     *testClock
	contact   *recordingSink
	subscribe *recordingSink
	metrics   *fakeMetrics
}

func newFixture(t *testing.T, admitter ratelimit.Admitter) *fixture {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
	if admitter == nil {
		admitter = ratelimit.NewWindowLimiter(ratelimit.WithClock(clk.Now))
	}
	f := &fixture{
		clock:     clk,
		contact:   &recordingSink{},
		subscribe: &recordingSink{},
		metrics:   &fakeMetrics{},
	}
	h, err := New(Options{
		Admitter:      admitter,
		ContactSink:   f.contact,
		SubscribeSink: f.subscribe,
		Metrics:       f.metrics,
		Now:           clk.Now,
		NewID:         func() string { return "sub-1" },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Route("/api", h.Register)
	f.router = r
	return f
}

func (f *fixture) post(path, ip, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := httpmw.WithClientIP(req.Context(), ip)
	ctx = httpmw.WithRequestID(ctx, "req-abc")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

const validContact = `{"name":"Jane Doe","email":"jane@example.com","phone":"555-0100","service":"tax-preparation","message":"Help with my return."}`

func TestNew_RequiresAdmitter(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New without admitter should fail")
	}
}

func TestContact_Accepted(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post("/api/contact", "203.0.113.5", validContact)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Message != msgContactOK {
		t.Fatalf("response = %+v", resp)
	}
	if f.contact.count() != 1 {
		t.Fatalf("contact sink got %d submissions", f.contact.count())
	}
	sub := f.contact.subs[0]
	if sub.ID != "sub-1" || sub.Form != FormContact || sub.ClientIP != "203.0.113.5" || sub.RequestID != "req-abc" {
		t.Errorf("submission metadata = %+v", sub)
	}
	if sub.Name != "Jane Doe" || sub.Service != "tax-preparation" || !sub.ReceivedAt.Equal(f.clock.Now()) {
		t.Errorf("submission fields = %+v", sub)
	}
	if f.metrics.outcomes["contact/accepted"] != 1 {
		t.Errorf("outcomes = %v", f.metrics.outcomes)
	}
}

func TestContact_ThreePerHour(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 3; i++ {
		if rec := f.post("/api/contact", "203.0.113.5", validContact); rec.Code != http.StatusOK {
			t.Fatalf("submission %d: status %d", i+1, rec.Code)
		}
		f.clock.Advance(time.Minute)
	}

	rec := f.post("/api/contact", "203.0.113.5", validContact)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("4th submission status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3600" {
		t.Errorf("Retry-After = %q, want 3600", got)
	}
	if resp := decodeResponse(t, rec); resp.Success || resp.Error != msgContactLimited {
		t.Errorf("response = %+v", resp)
	}

	// another client has its own budget
	if rec := f.post("/api/contact", "198.51.100.7", validContact); rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d", rec.Code)
	}
	// subscribe is a separate namespace for the same client
	if rec := f.post("/api/subscribe", "203.0.113.5", `{"email":"jane@example.com"}`); rec.Code != http.StatusOK {
		t.Fatalf("subscribe status = %d", rec.Code)
	}

	// the first event ages out one hour after it was admitted
	f.clock.Advance(time.Hour - 3*time.Minute)
	if rec := f.post("/api/contact", "203.0.113.5", validContact); rec.Code != http.StatusOK {
		t.Fatalf("after window status = %d, want 200", rec.Code)
	}
	if f.contact.count() != 5 {
		t.Fatalf("contact sink got %d, want 5", f.contact.count())
	}
}

func TestContact_InvalidDoesNotConsumeBudget(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 5; i++ {
		if rec := f.post("/api/contact", "203.0.113.5", `{"name":"","email":"jane@example.com","message":"hi"}`); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	}
	for i := 0; i < 3; i++ {
		if rec := f.post("/api/contact", "203.0.113.5", validContact); rec.Code != http.StatusOK {
			t.Fatalf("valid submission %d: status %d", i+1, rec.Code)
		}
	}
}

func TestContact_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing name", `{"email":"jane@example.com","message":"hi"}`, "Name is required."},
		{"bad email", `{"name":"Jane","email":"jane","message":"hi"}`, "Please enter a valid email address."},
		{"missing message", `{"name":"Jane","email":"jane@example.com"}`, "Message is required."},
		{"malformed json", `{"name":`, msgBadRequest},
		{"wrong type", `{"name":42}`, msgBadRequest},
		{"empty body", ``, msgBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.post("/api/contact", "203.0.113.5", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decodeResponse(t, rec); resp.Success || resp.Error != tt.wantErr {
				t.Fatalf("response = %+v, want error %q", resp, tt.wantErr)
			}
			if f.contact.count() != 0 {
				t.Fatal("invalid submission reached the sink")
			}
		})
	}
}

func TestHoneypot(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		honeypot bool
	}{
		{"contact string", "/api/contact", `{"name":"Bot","email":"bot@example.com","message":"buy now","company_name":"Spam LLC"}`, true},
		{"contact number", "/api/contact", `{"name":"Bot","email":"bot@example.com","message":"buy now","company_name":1}`, true},
		{"contact object", "/api/contact", `{"name":"Bot","email":"bot@example.com","message":"buy now","company_name":{}}`, true},
		{"subscribe bool", "/api/subscribe", `{"email":"bot@example.com","company_name":true}`, true},
		{"subscribe array", "/api/subscribe", `{"email":"bot@example.com","company_name":[]}`, true},
		{"contact empty string", "/api/contact", `{"name":"Jane Doe","email":"jane@example.com","message":"Hi","company_name":""}`, false},
		{"subscribe null", "/api/subscribe", `{"email":"jane@example.com","company_name":null}`, false},
		{"subscribe zero", "/api/subscribe", `{"email":"jane@example.com","company_name":0}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			form := strings.TrimPrefix(tt.path, "/api/")

			for i := 0; i < 5; i++ {
				rec := f.post(tt.path, "203.0.113.5", tt.body)
				if !tt.honeypot {
					if rec.Code != http.StatusOK {
						t.Fatalf("status = %d, want 200 for a real submission", rec.Code)
					}
					break
				}
				if rec.Code != http.StatusOK {
					t.Fatalf("status = %d, want 200", rec.Code)
				}
				if resp := decodeResponse(t, rec); !resp.Success {
					t.Fatalf("honeypot response should look like success: %+v", resp)
				}
			}

			delivered := f.contact.count() + f.subscribe.count()
			if tt.honeypot {
				if delivered != 0 {
					t.Fatal("honeypot submission reached a sink")
				}
				if got := f.metrics.outcomes[form+"/honeypot"]; got != 5 {
					t.Errorf("outcomes = %v", f.metrics.outcomes)
				}
				return
			}
			if delivered != 1 {
				t.Fatalf("delivered = %d, want 1", delivered)
			}
		})
	}
}

func TestContact_TooLarge(t *testing.T) {
	f := newFixture(t, nil)
	f.router = httpmw.MaxBody(64)(f.router)

	rec := f.post("/api/contact", "203.0.113.5", validContact)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestContact_AdmissionErrorFailsOpen(t *testing.T) {
	f := newFixture(t, failingAdmitter{})
	rec := f.post("/api/contact", "203.0.113.5", validContact)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.metrics.admissionErrors != 1 {
		t.Fatalf("admission errors = %d, want 1", f.metrics.admissionErrors)
	}
}

func TestContact_SinkFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.contact.err = errors.New("archive down")

	rec := f.post("/api/contact", "203.0.113.5", validContact)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error != msgGeneric {
		t.Fatalf("response = %+v", resp)
	}
	if f.metrics.outcomes["contact/error"] != 1 {
		t.Errorf("outcomes = %v", f.metrics.outcomes)
	}
}

func TestContact_UnknownClientShareIdentity(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		if rec := f.post("/api/contact", "", validContact); rec.Code != http.StatusOK {
			t.Fatalf("submission %d: status %d", i+1, rec.Code)
		}
	}
	if rec := f.post("/api/contact", "", validContact); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := f.contact.subs[0].ClientIP; got != httpmw.UnknownClient {
		t.Fatalf("ClientIP = %q, want %q", got, httpmw.UnknownClient)
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.post("/api/subscribe", "203.0.113.5", `{"email":"  jane@example.com "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Message != msgSubscribeOK {
		t.Fatalf("response = %+v", resp)
	}
	if f.subscribe.subs[0].Email != "jane@example.com" || f.subscribe.subs[0].Form != FormSubscribe {
		t.Fatalf("submission = %+v", f.subscribe.subs[0])
	}

	for i := 0; i < 2; i++ {
		f.post("/api/subscribe", "203.0.113.5", `{"email":"jane@example.com"}`)
	}
	rec = f.post("/api/subscribe", "203.0.113.5", `{"email":"jane@example.com"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("4th subscribe status = %d, want 429", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error != msgSubLimited {
		t.Fatalf("response = %+v", resp)
	}

	rec = f.post("/api/subscribe", "198.51.100.7", `{"email":""}`)
	if resp := decodeResponse(t, rec); rec.Code != http.StatusBadRequest || resp.Error != "Email is required." {
		t.Fatalf("empty email: %d %+v", rec.Code, resp)
	}
}

func TestOnlyPostRouted(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/contact", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}
}
