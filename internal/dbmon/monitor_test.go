package dbmon

import (
	"context"
	"errors"
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

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	return New(Config{Capacity: capacity, Logger: rec, Now: clock.Now}), rec, clock
}

func TestObserveRecordsDurationAndName(t *testing.T) {
	m, rec, clock := newTestMonitor(t, 10)
	err := m.Observe(context.Background(), "request", "findMany", func(context.Context) error {
		clock.Advance(1500 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	q := m.GetQueries(QueryFilter{})
	if len(q) != 1 || q[0].Query != "request.findMany" || q[0].DurationMs != 1500 {
		t.Fatalf("queries = %+v", q)
	}
	if n := rec.count(model.LevelWarn, model.CategoryDatabase, "slow_query"); n != 1 {
		t.Errorf("slow_query = %d, want 1", n)
	}
}

func TestVerySlowExcludesSlow(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 10)
	m.Record(QueryRecord{Query: "employee.findMany", Model: "employee", Operation: "findMany", DurationMs: 5001})

	if n := rec.count(model.LevelCritical, model.CategoryDatabase, "very_slow_query"); n != 1 {
		t.Errorf("very_slow_query = %d, want 1", n)
	}
	if n := rec.count(model.LevelWarn, model.CategoryDatabase, "slow_query"); n != 0 {
		t.Errorf("slow_query = %d, want 0", n)
	}
}

func TestObserveReturnsOriginalError(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 10)
	original := errors.New("constraint failed")
	err := m.Observe(context.Background(), "request", "create", func(context.Context) error { return original })
	if err != original {
		t.Fatalf("error = %v, want identical value", err)
	}

	q := m.GetQueries(QueryFilter{WithErrors: true})
	if len(q) != 1 || q[0].Error == nil || q[0].Error.Message != "constraint failed" {
		t.Errorf("queries = %+v", q)
	}
	if n := rec.count(model.LevelError, model.CategoryDatabase, "database_error"); n != 1 {
		t.Errorf("database_error = %d, want 1", n)
	}
}

func TestRunReturnsValue(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	got, err := Run(context.Background(), m, "employee", "findUnique", func(context.Context) (string, error) {
		return "emp-1", nil
	})
	if err != nil || got != "emp-1" {
		t.Errorf("Run = %q, %v", got, err)
	}
}

func TestNPlusOneHeuristic(t *testing.T) {
	tests := []struct {
		name   string
		reads  int
		expect int
	}{
		{"five point reads is fine", 5, 0},
		{"six point reads warns", 6, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rec, _ := newTestMonitor(t, 100)
			m.Record(QueryRecord{Model: "request", Operation: "findMany"})
			for i := 0; i < tt.reads; i++ {
				m.Record(QueryRecord{Model: "request", Operation: "findUnique"})
			}
			if n := rec.count(model.LevelWarn, model.CategoryPerformance, "n_plus_one"); n != tt.expect {
				t.Errorf("n_plus_one = %d, want %d", n, tt.expect)
			}
		})
	}
}

func TestNPlusOneRequiresFindManyOnSameModel(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 100)
	m.Record(QueryRecord{Model: "employee", Operation: "findMany"})
	for i := 0; i < 8; i++ {
		m.Record(QueryRecord{Model: "request", Operation: "findFirst"})
	}
	if n := rec.count(model.LevelWarn, model.CategoryPerformance, "n_plus_one"); n != 0 {
		t.Errorf("n_plus_one = %d, want 0", n)
	}
}

func TestNPlusOneWindowIsTwenty(t *testing.T) {
	window := make([]QueryRecord, 0, 30)
	window = append(window, QueryRecord{Model: "request", Operation: "findMany"})
	for i := 0; i < 6; i++ {
		window = append(window, QueryRecord{Model: "request", Operation: "findUnique"})
	}
	if n := pointReadsAfterFindMany(window, "request"); n != 6 {
		t.Errorf("count = %d, want 6", n)
	}

	m, rec, _ := newTestMonitor(t, 100)
	m.Record(QueryRecord{Model: "request", Operation: "findMany"})
	for i := 0; i < 20; i++ {
		m.Record(QueryRecord{Model: "request", Operation: "create"})
	}
	for i := 0; i < 6; i++ {
		m.Record(QueryRecord{Model: "request", Operation: "findUnique"})
	}
	if n := rec.count(model.LevelWarn, model.CategoryPerformance, "n_plus_one"); n != 0 {
		t.Errorf("findMany outside the window still matched: %d", n)
	}
}

func TestStatisticsAndFilters(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	m.Record(QueryRecord{Model: "request", Operation: "findMany", DurationMs: 100})
	m.Record(QueryRecord{Model: "request", Operation: "create", DurationMs: 2000, Error: &QueryError{Message: "x"}})
	m.Record(QueryRecord{Model: "employee", Operation: "findUnique", DurationMs: 300})
	m.Record(QueryRecord{Model: "employee", Operation: "findUnique", DurationMs: 600})

	st := m.GetStatistics()
	if st.TotalQueries != 4 || st.SuccessfulQueries != 3 || st.FailedQueries != 1 {
		t.Errorf("counts = %+v", st)
	}
	if st.AverageDuration != 750 || st.SlowQueries != 1 || st.SlowQueriesRate != 25 {
		t.Errorf("rates = %+v", st)
	}
	if st.QueryCountByModel["request"] != 2 || st.QueryCountByModel["employee"] != 2 {
		t.Errorf("by model = %v", st.QueryCountByModel)
	}

	if got := m.GetQueries(QueryFilter{Model: "employee", MinDuration: 500}); len(got) != 1 {
		t.Errorf("employee >= 500ms = %d, want 1", len(got))
	}
	if got := m.GetQueries(QueryFilter{Limit: 2}); len(got) != 2 || got[1].DurationMs != 600 {
		t.Errorf("limit = %+v", got)
	}
}

type fakeProber struct{ err error }

func (p fakeProber) Probe(context.Context) error { return p.err }

func TestCheckHealthCountsLifetime(t *testing.T) {
	m, _, _ := newTestMonitor(t, 2)
	m.Record(QueryRecord{Model: "request", Operation: "findMany", DurationMs: 1200})
	m.Record(QueryRecord{Model: "request", Operation: "create", Error: &QueryError{Message: "x"}})
	m.Record(QueryRecord{Model: "request", Operation: "findMany"})
	m.Record(QueryRecord{Model: "request", Operation: "findMany"})

	h := m.CheckHealth(context.Background(), fakeProber{})
	if !h.Connected || h.ActiveConnections != 1 || h.SlowQueries != 1 || h.Errors != 1 {
		t.Errorf("health = %+v", h)
	}

	down := m.CheckHealth(context.Background(), fakeProber{err: errors.New("no db")})
	if down.Connected || down.ActiveConnections != 0 || down.SlowQueries != 0 || down.Errors != 1 {
		t.Errorf("disconnected health = %+v", down)
	}
}

func TestExport(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	m.Record(QueryRecord{Query: "request.findMany", Model: "request", Operation: "findMany"})
	exp := m.Export()
	if len(exp.Queries) != 1 || exp.Statistics.TotalQueries != 1 {
		t.Errorf("export = %+v", exp)
	}
	if _, err := m.ExportJSON(); err != nil {
		t.Errorf("ExportJSON: %v", err)
	}
}
