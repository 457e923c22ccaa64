// Package apimon observes outbound HTTP calls. A Monitor is installed as an
// http.RoundTripper layer; every completed or failed call becomes a
// CallRecord and runs through the anomaly rules.
package apimon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tinytelemetry/diagd/internal/metrics"
	"github.com/tinytelemetry/diagd/internal/model"
	"github.com/tinytelemetry/diagd/internal/ring"
)

// Rule thresholds.
const (
	SlowCallMs           = 3000
	VerySlowCallMs       = 10000
	LargeResponseBytes   = 5 * 1024 * 1024
	ErrorRateThreshold   = 0.2
	patternWindow        = 10
	patternMinimumSample = 5
)

// CallError describes a transport failure.
type CallError struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
}

// CallRecord is one outbound call. SizeBytes comes from Content-Length when
// the server sends one; otherwise the body is counted as the caller reads it
// and the record lands when the body hits EOF or is closed.
type CallRecord struct {
	URL        string     `json:"url"`
	Method     string     `json:"method"`
	Status     int        `json:"status"`
	DurationMs float64    `json:"duration"`
	SizeBytes  int64      `json:"size"`
	Timestamp  time.Time  `json:"timestamp"`
	Success    bool       `json:"success"`
	Error      *CallError `json:"error,omitempty"`
}

// Config configures a Monitor.
type Config struct {
	Capacity int
	Logger   model.EventLogger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Monitor records calls in a bounded buffer. It is safe for concurrent use.
type Monitor struct {
	mu    sync.Mutex
	calls *ring.Buffer[CallRecord]

	logger  model.EventLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg Config) *Monitor {
	if cfg.Capacity <= 0 {
		cfg.Capacity = model.DefaultCallCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		calls:   ring.New[CallRecord](cfg.Capacity),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// Record appends rec and evaluates the anomaly rules against it. Calls made
// outside the instrumented transport can be reported here directly.
func (m *Monitor) Record(rec CallRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now().UTC()
	}

	m.mu.Lock()
	m.calls.Push(rec)
	var window []CallRecord
	m.calls.Each(func(c CallRecord) bool {
		if c.URL == rec.URL {
			window = append(window, c)
		}
		return true
	})
	m.mu.Unlock()

	if len(window) > patternWindow {
		window = window[len(window)-patternWindow:]
	}

	m.metrics.ObserveCall(rec.Method, rec.Status, time.Duration(rec.DurationMs*float64(time.Millisecond)))
	m.analyze(rec, window)
}

func (m *Monitor) analyze(rec CallRecord, sameURL []CallRecord) {
	if m.logger == nil {
		return
	}

	switch {
	case rec.DurationMs > VerySlowCallMs:
		m.emit(model.LevelCritical, model.CategoryPerformance,
			fmt.Sprintf("Very slow API call detected: %s %s", rec.Method, rec.URL),
			map[string]any{
				"duration":  seconds(rec.DurationMs),
				"threshold": seconds(VerySlowCallMs),
				"status":    rec.Status,
			}, "very_slow_api", rec.DurationMs)
	case rec.DurationMs > SlowCallMs:
		m.emit(model.LevelWarn, model.CategoryPerformance,
			fmt.Sprintf("Slow API call: %s %s", rec.Method, rec.URL),
			map[string]any{
				"duration":  seconds(rec.DurationMs),
				"threshold": seconds(SlowCallMs),
			}, "slow_api", rec.DurationMs)
	}

	if !rec.Success {
		level := model.LevelWarn
		switch {
		case rec.Status == 0:
			level = model.LevelError
		case rec.Status >= 500:
			level = model.LevelCritical
		}
		details := map[string]any{"status": rec.Status, "duration": rec.DurationMs}
		if rec.Error != nil {
			details["error"] = rec.Error
		}
		m.emit(level, model.CategoryAPI,
			fmt.Sprintf("API call failed: %s %s", rec.Method, rec.URL),
			details, "api_error_status", rec.DurationMs)
	}

	if rec.SizeBytes > LargeResponseBytes {
		m.emit(model.LevelWarn, model.CategoryPerformance,
			fmt.Sprintf("Large API response: %s %s", rec.Method, rec.URL),
			map[string]any{
				"size":     fmt.Sprintf("%.2fMB", float64(rec.SizeBytes)/1024/1024),
				"duration": rec.DurationMs,
			}, "large_response", rec.DurationMs)
	}

	if len(sameURL) < patternMinimumSample {
		return
	}
	failed := 0
	for _, c := range sameURL {
		if !c.Success {
			failed++
		}
	}
	rate := float64(failed) / float64(len(sameURL))
	if rate >= ErrorRateThreshold {
		m.emit(model.LevelCritical, model.CategoryAPI,
			fmt.Sprintf("High error rate detected for endpoint: %s", rec.URL),
			map[string]any{
				"errorRate":  fmt.Sprintf("%.1f%%", rate*100),
				"errorCount": failed,
				"totalCalls": len(sameURL),
				"threshold":  fmt.Sprintf("%.0f%%", ErrorRateThreshold*100),
			}, "error_pattern", 0)
	}
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

func seconds(ms float64) string {
	return fmt.Sprintf("%.2fs", ms/1000)
}

// Statistics summarises the retained calls.
type Statistics struct {
	TotalCalls      int     `json:"totalCalls"`
	SuccessfulCalls int     `json:"successfulCalls"`
	FailedCalls     int     `json:"failedCalls"`
	SuccessRate     float64 `json:"successRate"`
	AverageDuration float64 `json:"averageDuration"`
	SlowCalls       int     `json:"slowCalls"`
	SlowCallsRate   float64 `json:"slowCallsRate"`
}

// GetStatistics reports rates as percentages and durations in ms.
func (m *Monitor) GetStatistics() Statistics {
	m.mu.Lock()
	calls := m.calls.Items()
	m.mu.Unlock()

	var st Statistics
	st.TotalCalls = len(calls)
	if st.TotalCalls == 0 {
		return st
	}
	var sum float64
	for _, c := range calls {
		if c.Success {
			st.SuccessfulCalls++
		}
		if c.DurationMs > SlowCallMs {
			st.SlowCalls++
		}
		sum += c.DurationMs
	}
	total := float64(st.TotalCalls)
	st.FailedCalls = st.TotalCalls - st.SuccessfulCalls
	st.SuccessRate = float64(st.SuccessfulCalls) / total * 100
	st.AverageDuration = sum / total
	st.SlowCallsRate = float64(st.SlowCalls) / total * 100
	return st
}

// CallFilter narrows GetCalls. Nil or zero fields match everything.
type CallFilter struct {
	Success     *bool
	MinDuration float64
	Limit       int
}

// GetCalls returns retained calls, oldest first, filtered then tail-limited.
func (m *Monitor) GetCalls(f CallFilter) []CallRecord {
	m.mu.Lock()
	calls := m.calls.Items()
	m.mu.Unlock()

	return ring.Tail(calls, func(c CallRecord) bool {
		if f.Success != nil && c.Success != *f.Success {
			return false
		}
		if f.MinDuration > 0 && c.DurationMs < f.MinDuration {
			return false
		}
		return true
	}, f.Limit)
}

// Export is the dump of statistics and raw records.
type Export struct {
	Timestamp  time.Time    `json:"timestamp"`
	Statistics Statistics   `json:"statistics"`
	Calls      []CallRecord `json:"calls"`
}

func (m *Monitor) Export() Export {
	return Export{
		Timestamp:  m.now().UTC(),
		Statistics: m.GetStatistics(),
		Calls:      m.GetCalls(CallFilter{}),
	}
}

// ExportJSON returns Export as indented JSON.
func (m *Monitor) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(m.Export(), "", "  ")
}

// Wrap returns a RoundTripper that records every request sent through next.
// A nil next uses http.DefaultTransport.
func (m *Monitor) Wrap(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &transport{next: next, monitor: m}
}

// Client returns a copy of base (or a zero client) whose transport is wrapped.
func (m *Monitor) Client(base *http.Client) *http.Client {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	c.Transport = m.Wrap(c.Transport)
	return c
}
