package apimon

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/diagd/internal/model"
)

type entryRecorder struct {
	mu      sync.Mutex
	entries []model.Entry
}

func (r *entryRecorder) Log(e model.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *entryRecorder) count(level model.Level, c model.Category, kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == level && e.Category == c && e.Context["type"] == kind {
			n++
		}
	}
	return n
}

func (r *entryRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		out = append(out, e.Context["type"].(string))
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestMonitor(t *testing.T, capacity int) (*Monitor, *entryRecorder, *fakeClock) {
	t.Helper()
	rec := &entryRecorder{}
	clock := newFakeClock()
	return New(Config{Capacity: capacity, Logger: rec, Now: clock.Now}), rec, clock
}

func TestVerySlowExcludesSlow(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 10)
	m.Record(CallRecord{URL: "/x", Method: "GET", Status: 200, DurationMs: 10001, Success: true})

	if n := rec.count(model.LevelCritical, model.CategoryPerformance, "very_slow_api"); n != 1 {
		t.Errorf("very slow events = %d, want 1", n)
	}
	if n := rec.count(model.LevelWarn, model.CategoryPerformance, "slow_api"); n != 0 {
		t.Errorf("slow events = %d, want 0", n)
	}
	if got := rec.kinds(); len(got) != 1 {
		t.Errorf("events = %v, want only very_slow_api", got)
	}
}

func TestFailureLevels(t *testing.T) {
	tests := []struct {
		status int
		want   model.Level
	}{
		{0, model.LevelError},
		{404, model.LevelWarn},
		{429, model.LevelWarn},
		{500, model.LevelCritical},
		{503, model.LevelCritical},
	}
	for _, tt := range tests {
		m, rec, _ := newTestMonitor(t, 10)
		m.Record(CallRecord{URL: "/x", Method: "GET", Status: tt.status, DurationMs: 10})
		if n := rec.count(tt.want, model.CategoryAPI, "api_error_status"); n != 1 {
			t.Errorf("status %d: %s api_error_status events = %d, want 1", tt.status, tt.want, n)
		}
	}
}

func TestLargeResponse(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 10)
	m.Record(CallRecord{URL: "/big", Method: "GET", Status: 200, SizeBytes: LargeResponseBytes + 1, Success: true})
	m.Record(CallRecord{URL: "/small", Method: "GET", Status: 200, SizeBytes: LargeResponseBytes, Success: true})

	if n := rec.count(model.LevelWarn, model.CategoryPerformance, "large_response"); n != 1 {
		t.Errorf("large_response events = %d, want 1", n)
	}
}

func TestErrorPatternFires(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 100)
	m.Record(CallRecord{URL: "/orders", Method: "GET", Status: 200, Success: true})
	for i := 0; i < 4; i++ {
		m.Record(CallRecord{URL: "/orders", Method: "GET", Status: 404})
	}

	if n := rec.count(model.LevelCritical, model.CategoryAPI, "error_pattern"); n != 1 {
		t.Errorf("error_pattern events = %d, want 1", n)
	}
}

func TestErrorPatternQuietWhenHealthy(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 100)
	for i := 0; i < 5; i++ {
		m.Record(CallRecord{URL: "/orders", Method: "GET", Status: 200, Success: true})
	}
	if n := rec.count(model.LevelCritical, model.CategoryAPI, "error_pattern"); n != 0 {
		t.Errorf("error_pattern events = %d, want 0", n)
	}
}

func TestErrorPatternOnlyCountsSameURL(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 100)
	for i := 0; i < 4; i++ {
		m.Record(CallRecord{URL: "/a", Method: "GET", Status: 500})
	}
	m.Record(CallRecord{URL: "/b", Method: "GET", Status: 500})

	if n := rec.count(model.LevelCritical, model.CategoryAPI, "error_pattern"); n != 0 {
		t.Errorf("error_pattern events = %d, want 0 (no URL has 5 samples)", n)
	}
}

func TestErrorPatternWindowIsLastTen(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 100)
	for i := 0; i < 2; i++ {
		m.Record(CallRecord{URL: "/a", Method: "GET", Status: 500})
	}
	for i := 0; i < 10; i++ {
		m.Record(CallRecord{URL: "/a", Method: "GET", Status: 200, Success: true})
	}
	before := rec.count(model.LevelCritical, model.CategoryAPI, "error_pattern")
	m.Record(CallRecord{URL: "/a", Method: "GET", Status: 200, Success: true})
	after := rec.count(model.LevelCritical, model.CategoryAPI, "error_pattern")
	if after != before {
		t.Errorf("old failures outside the window still counted")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	m, _, _ := newTestMonitor(t, 3)
	for _, u := range []string{"/1", "/2", "/3", "/4"} {
		m.Record(CallRecord{URL: u, Method: "GET", Status: 200, Success: true})
	}
	calls := m.GetCalls(CallFilter{})
	if len(calls) != 3 || calls[0].URL != "/2" || calls[2].URL != "/4" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestGetCallsFilter(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	m.Record(CallRecord{URL: "/a", Method: "GET", Status: 200, Success: true, DurationMs: 100})
	m.Record(CallRecord{URL: "/b", Method: "GET", Status: 500, DurationMs: 900})
	m.Record(CallRecord{URL: "/c", Method: "GET", Status: 200, Success: true, DurationMs: 2000})

	ok := true
	if got := m.GetCalls(CallFilter{Success: &ok}); len(got) != 2 {
		t.Errorf("successful calls = %d, want 2", len(got))
	}
	if got := m.GetCalls(CallFilter{MinDuration: 900}); len(got) != 2 {
		t.Errorf("calls >= 900ms = %d, want 2", len(got))
	}
	if got := m.GetCalls(CallFilter{Limit: 1}); len(got) != 1 || got[0].URL != "/c" {
		t.Errorf("limit 1 = %+v", got)
	}
}

func TestStatistics(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	if st := m.GetStatistics(); st.TotalCalls != 0 || st.SuccessRate != 0 {
		t.Errorf("empty stats = %+v", st)
	}
	m.Record(CallRecord{URL: "/a", Method: "GET", Status: 200, Success: true, DurationMs: 1000})
	m.Record(CallRecord{URL: "/a", Method: "GET", Status: 200, Success: true, DurationMs: 5000})
	m.Record(CallRecord{URL: "/a", Method: "GET", Status: 500, DurationMs: 0})
	m.Record(CallRecord{URL: "/a", Method: "GET", Status: 200, Success: true, DurationMs: 2000})

	st := m.GetStatistics()
	if st.TotalCalls != 4 || st.SuccessfulCalls != 3 || st.FailedCalls != 1 {
		t.Errorf("counts = %+v", st)
	}
	if st.SuccessRate != 75 || st.AverageDuration != 2000 || st.SlowCalls != 1 || st.SlowCallsRate != 25 {
		t.Errorf("rates = %+v", st)
	}
}

func TestExportJSON(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	m.Record(CallRecord{URL: "/a", Method: "GET", Status: 200, Success: true})
	data, err := m.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	for _, want := range []string{`"statistics"`, `"calls"`, `"/a"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("export missing %s", want)
		}
	}
}

func TestTransportRecordsSlowCalls(t *testing.T) {
	m, rec, clock := newTestMonitor(t, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clock.Advance(4 * time.Second)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := m.Client(srv.Client())
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL + "/x")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
	}

	if n := rec.count(model.LevelWarn, model.CategoryPerformance, "slow_api"); n != 3 {
		t.Errorf("slow_api events = %d, want 3", n)
	}
	if n := rec.count(model.LevelCritical, model.CategoryAPI, "error_pattern"); n != 0 {
		t.Errorf("error_pattern fired with only 3 samples")
	}
	calls := m.GetCalls(CallFilter{})
	if len(calls) != 3 || calls[0].DurationMs != 4000 || calls[0].Status != 500 || calls[0].Success {
		t.Errorf("calls = %+v", calls)
	}
}

func TestTransportRecordsSize(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	resp, err := m.Client(srv.Client()).Post(srv.URL, "text/plain", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	calls := m.GetCalls(CallFilter{})
	if len(calls) != 1 || calls[0].SizeBytes != 5 || calls[0].Method != "POST" || !calls[0].Success {
		t.Errorf("calls = %+v", calls)
	}
}

func TestTransportCountsChunkedBody(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 10)
	chunk := make([]byte, 1<<20)
	chunks := LargeResponseBytes/len(chunk) + 1
	total := int64(chunks * len(chunk))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < chunks; i++ {
			w.Write(chunk)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	resp, err := m.Client(srv.Client()).Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.ContentLength != -1 {
		t.Fatalf("ContentLength = %d, want a chunked response", resp.ContentLength)
	}
	if len(m.GetCalls(CallFilter{})) != 0 {
		t.Fatal("call recorded before the body was read")
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()

	calls := m.GetCalls(CallFilter{})
	if len(calls) != 1 || calls[0].SizeBytes != total {
		t.Fatalf("calls = %d, size = %v, want one call of %d bytes", len(calls), calls, total)
	}
	if n := rec.count(model.LevelWarn, model.CategoryPerformance, "large_response"); n != 1 {
		t.Errorf("large_response events = %d, want 1", n)
	}
}

func TestTransportRecordsUnreadBodyOnClose(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		w.Write([]byte(" rest"))
	}))
	defer srv.Close()

	resp, err := m.Client(srv.Client()).Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	resp.Body.Close()

	if calls := m.GetCalls(CallFilter{}); len(calls) != 1 || calls[0].Status != 200 {
		t.Errorf("calls = %+v", calls)
	}
}

type failingTransport struct{ err error }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) { return nil, f.err }

func TestTransportFailureReturnsOriginalError(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 10)
	original := errors.New("dial tcp: connection refused")
	client := &http.Client{Transport: m.Wrap(failingTransport{err: original})}

	_, err := client.Get("http://unreachable.invalid/x")
	if !errors.Is(err, original) {
		t.Fatalf("error = %v, want wrapped original", err)
	}

	calls := m.GetCalls(CallFilter{})
	if len(calls) != 1 || calls[0].Status != 0 || calls[0].Success || calls[0].Error == nil {
		t.Errorf("calls = %+v", calls)
	}
	if n := rec.count(model.LevelError, model.CategoryAPI, "api_error_status"); n != 1 {
		t.Errorf("api_error_status = %d", n)
	}
	if n := rec.count(model.LevelError, model.CategoryAPI, "api_error"); n != 1 {
		t.Errorf("api_error = %d", n)
	}
}

func TestRoundTripErrorIdentity(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	original := errors.New("boom")
	rt := m.Wrap(failingTransport{err: original})
	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	req.RequestURI = ""

	_, err := rt.RoundTrip(req)
	if err != original {
		t.Errorf("RoundTrip error = %v, want identical value", err)
	}
}
