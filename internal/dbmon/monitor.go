// Package dbmon observes persistence operations. Every data-access call made
// through Observe or Run becomes a QueryRecord; slow queries, errors and a
// heuristic N+1 pattern are reported to the diagnostic logger.
package dbmon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tinytelemetry/diagd/internal/metrics"
	"github.com/tinytelemetry/diagd/internal/model"
	"github.com/tinytelemetry/diagd/internal/ring"
)

const (
	SlowQueryMs         = 1000
	VerySlowQueryMs     = 5000
	nPlusOneWindow      = 20
	nPlusOneMinimum     = 5
	actionFindMany      = "findMany"
	actionFindUnique    = "findUnique"
	actionFindFirst     = "findFirst"
	placeholderConnPool = 1
)

// QueryError describes a failed operation.
type QueryError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// QueryRecord is one observed persistence operation.
type QueryRecord struct {
	Query      string      `json:"query"`
	DurationMs float64     `json:"duration"`
	Timestamp  time.Time   `json:"timestamp"`
	Model      string      `json:"model,omitempty"`
	Operation  string      `json:"operation,omitempty"`
	Error      *QueryError `json:"error,omitempty"`
}

type Config struct {
	Capacity int
	Logger   model.EventLogger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Monitor is the query interceptor. It is safe for concurrent use.
type Monitor struct {
	mu      sync.Mutex
	queries *ring.Buffer[QueryRecord]
	slow    int64
	errors  int64

	logger  model.EventLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg Config) *Monitor {
	if cfg.Capacity <= 0 {
		cfg.Capacity = model.DefaultQueryCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		queries: ring.New[QueryRecord](cfg.Capacity),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// Observe runs fn as the <modelName>.<action> operation and records it. The
// error returned by fn is returned unchanged.
func (m *Monitor) Observe(ctx context.Context, modelName, action string, fn func(context.Context) error) error {
	start := m.now()
	err := fn(ctx)
	end := m.now()

	rec := QueryRecord{
		Query:      modelName + "." + action,
		DurationMs: float64(end.Sub(start)) / 1e6,
		Timestamp:  end.UTC(),
		Model:      modelName,
		Operation:  action,
	}
	if err != nil {
		rec.Error = &QueryError{Message: err.Error(), Type: fmt.Sprintf("%T", err)}
	}
	m.Record(rec)
	return err
}

// Run is Observe for operations that produce a value.
func Run[T any](ctx context.Context, m *Monitor, modelName, action string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := m.Observe(ctx, modelName, action, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Record appends rec and evaluates the rules against it.
func (m *Monitor) Record(rec QueryRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now().UTC()
	}

	m.mu.Lock()
	m.queries.Push(rec)
	if rec.DurationMs > SlowQueryMs {
		m.slow++
	}
	if rec.Error != nil {
		m.errors++
	}
	window := m.queries.Last(nPlusOneWindow)
	m.mu.Unlock()

	m.metrics.ObserveQuery(rec.Model, rec.Operation, rec.Error != nil, time.Duration(rec.DurationMs*float64(time.Millisecond)))
	m.analyze(rec, window)
}

func (m *Monitor) analyze(rec QueryRecord, window []QueryRecord) {
	if m.logger == nil {
		return
	}

	switch {
	case rec.DurationMs > VerySlowQueryMs:
		m.emit(model.LevelCritical, model.CategoryDatabase,
			fmt.Sprintf("Very slow database query: %s", rec.Query),
			map[string]any{
				"query":     rec.Query,
				"duration":  fmt.Sprintf("%.2fs", rec.DurationMs/1000),
				"model":     orUnknown(rec.Model),
				"operation": orUnknown(rec.Operation),
			}, "very_slow_query", rec.DurationMs)
	case rec.DurationMs > SlowQueryMs:
		m.emit(model.LevelWarn, model.CategoryDatabase,
			fmt.Sprintf("Slow database query: %s (%.0fms)", rec.Query, rec.DurationMs),
			map[string]any{"query": rec.Query, "duration": rec.DurationMs},
			"slow_query", rec.DurationMs)
	}

	if rec.Error != nil {
		m.emit(model.LevelError, model.CategoryDatabase,
			fmt.Sprintf("Database error: %s", rec.Query),
			map[string]any{"query": rec.Query, "error": rec.Error},
			"database_error", rec.DurationMs)
	}

	if n := pointReadsAfterFindMany(window, rec.Model); n > nPlusOneMinimum {
		m.emit(model.LevelWarn, model.CategoryPerformance,
			fmt.Sprintf("Potential N+1 problem detected on %s", orUnknown(rec.Model)),
			map[string]any{
				"model":             orUnknown(rec.Model),
				"individualQueries": n,
				"window":            nPlusOneWindow,
				"suggestion":        "load related rows in the list query instead of one query per row",
			}, "n_plus_one", 0)
	}
}

// pointReadsAfterFindMany counts findUnique/findFirst operations recorded
// after the most recent findMany on modelName within window. It is a proxy
// signal: interleaved traffic can hide a real N+1 and fan-out reads can fake one.
func pointReadsAfterFindMany(window []QueryRecord, modelName string) int {
	last := -1
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Operation == actionFindMany && window[i].Model == modelName {
			last = i
			break
		}
	}
	if last < 0 {
		return 0
	}
	n := 0
	for _, q := range window[last+1:] {
		if q.Operation == actionFindUnique || q.Operation == actionFindFirst {
			n++
		}
	}
	return n
}

func (m *Monitor) emit(level model.Level, c model.Category, msg string, details map[string]any, kind string, durationMs float64) {
	m.logger.Log(model.Entry{
		Level:    level,
		Category: c,
		Message:  msg,
		Details:  details,
		Context:  map[string]any{"type": kind},
		Meta:     model.Meta{Duration: durationMs},
	})
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Prober runs a trivial round-trip query that bypasses the interceptor.
type Prober interface {
	Probe(ctx context.Context) error
}

// Health is the result of CheckHealth.
type Health struct {
	Connected         bool    `json:"connected"`
	ResponseTime      float64 `json:"responseTime"`
	ActiveConnections int     `json:"activeConnections"`
	SlowQueries       int64   `json:"slowQueries"`
	Errors            int64   `json:"errors"`
}

// CheckHealth probes the store. Slow query and error counts cover the whole
// monitor lifetime, not just retained records.
func (m *Monitor) CheckHealth(ctx context.Context, p Prober) Health {
	start := m.now()
	err := p.Probe(ctx)
	elapsed := float64(m.now().Sub(start)) / 1e6

	m.mu.Lock()
	slow, errs := m.slow, m.errors
	m.mu.Unlock()

	if err != nil {
		return Health{ResponseTime: elapsed, Errors: errs}
	}
	return Health{
		Connected:         true,
		ResponseTime:      elapsed,
		ActiveConnections: placeholderConnPool,
		SlowQueries:       slow,
		Errors:            errs,
	}
}

// Statistics summarises the retained records.
type Statistics struct {
	TotalQueries      int            `json:"totalQueries"`
	SuccessfulQueries int            `json:"successfulQueries"`
	FailedQueries     int            `json:"failedQueries"`
	AverageDuration   float64        `json:"averageDuration"`
	SlowQueries       int            `json:"slowQueries"`
	SlowQueriesRate   float64        `json:"slowQueriesRate"`
	QueryCountByModel map[string]int `json:"queryCountByModel"`
}

func (m *Monitor) GetStatistics() Statistics {
	m.mu.Lock()
	queries := m.queries.Items()
	m.mu.Unlock()

	st := Statistics{TotalQueries: len(queries), QueryCountByModel: map[string]int{}}
	if st.TotalQueries == 0 {
		return st
	}
	var sum float64
	for _, q := range queries {
		if q.Error == nil {
			st.SuccessfulQueries++
		}
		if q.DurationMs > SlowQueryMs {
			st.SlowQueries++
		}
		if q.Model != "" {
			st.QueryCountByModel[q.Model]++
		}
		sum += q.DurationMs
	}
	total := float64(st.TotalQueries)
	st.FailedQueries = st.TotalQueries - st.SuccessfulQueries
	st.AverageDuration = sum / total
	st.SlowQueriesRate = float64(st.SlowQueries) / total * 100
	return st
}

// QueryFilter narrows GetQueries. Zero fields match everything.
type QueryFilter struct {
	Model       string
	MinDuration float64
	WithErrors  bool
	Limit       int
}

// GetQueries returns retained records, oldest first, filtered then tail-limited.
func (m *Monitor) GetQueries(f QueryFilter) []QueryRecord {
	m.mu.Lock()
	queries := m.queries.Items()
	m.mu.Unlock()

	return ring.Tail(queries, func(q QueryRecord) bool {
		if f.Model != "" && q.Model != f.Model {
			return false
		}
		if f.MinDuration > 0 && q.DurationMs < f.MinDuration {
			return false
		}
		if f.WithErrors && q.Error == nil {
			return false
		}
		return true
	}, f.Limit)
}

// Export is the dump of statistics and raw records.
type Export struct {
	Timestamp  time.Time     `json:"timestamp"`
	Statistics Statistics    `json:"statistics"`
	Queries    []QueryRecord `json:"queries"`
}

func (m *Monitor) Export() Export {
	return Export{
		Timestamp:  m.now().UTC(),
		Statistics: m.GetStatistics(),
		Queries:    m.GetQueries(QueryFilter{}),
	}
}

func (m *Monitor) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(m.Export(), "", "  ")
}
