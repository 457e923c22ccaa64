// Package health computes the process health verdict and runs the periodic
// self check, memory watcher and network watcher.
package health

import (
	"context"
	"time"

	"github.com/tinytelemetry/diagd/internal/metrics"
	"github.com/tinytelemetry/diagd/internal/model"
)

// Status is the health verdict.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
	Critical Status = "critical"
)

// Thresholds applied by Check.
const (
	MaxErrorRatePercent = 50
	MaxMemoryRatio      = 0.9
)

// Evaluate maps check results to a verdict: all pass is healthy, none pass is
// critical, anything else is degraded. It depends only on its inputs.
func Evaluate(checks ...bool) Status {
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	switch passed {
	case len(checks):
		return Healthy
	case 0:
		return Critical
	default:
		return Degraded
	}
}

type Checks struct {
	API      bool `json:"api"`
	Database bool `json:"database"`
	Memory   bool `json:"memory"`
	Network  bool `json:"network"`
}

type Metrics struct {
	ErrorRate           float64 `json:"errorRate"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	MemoryUsage         float64 `json:"memoryUsage"`
	ActiveUsers         int     `json:"activeUsers"`
}

// Report is the result of one evaluation.
type Report struct {
	Status    Status    `json:"status"`
	Checks    Checks    `json:"checks"`
	Metrics   Metrics   `json:"metrics"`
	Timestamp time.Time `json:"timestamp"`
}

// Config wires the inputs. Nil inputs count as passing.
type Config struct {
	Logger model.EventLogger
	// ErrorRate returns the logger's error percentage.
	ErrorRate func() float64
	// AverageResponseTime returns the mean outbound call duration in ms.
	AverageResponseTime func() float64
	// Memory samples heap usage against the available limit.
	Memory func() MemorySample
	// Online reports network reachability.
	Online func() bool
	// Database reports persistence connectivity.
	Database func(ctx context.Context) bool
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Aggregator evaluates health on demand or on an interval.
type Aggregator struct {
	cfg Config
}

func New(cfg Config) *Aggregator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{cfg: cfg}
}

// Check evaluates every input once. A non-healthy verdict is logged as a
// LOGIC event: CRITICAL when critical, WARN when degraded.
func (a *Aggregator) Check(ctx context.Context) Report {
	r := Report{
		Checks:    Checks{API: true, Database: true, Memory: true, Network: true},
		Metrics:   Metrics{ActiveUsers: 1},
		Timestamp: a.cfg.Now().UTC(),
	}

	if a.cfg.ErrorRate != nil {
		r.Metrics.ErrorRate = a.cfg.ErrorRate()
		r.Checks.API = r.Metrics.ErrorRate <= MaxErrorRatePercent
	}
	if a.cfg.AverageResponseTime != nil {
		r.Metrics.AverageResponseTime = a.cfg.AverageResponseTime()
	}
	if a.cfg.Memory != nil {
		if s := a.cfg.Memory(); s.Known() {
			r.Metrics.MemoryUsage = s.UsedMB()
			r.Checks.Memory = s.Ratio() < MaxMemoryRatio
		}
	}
	if a.cfg.Online != nil {
		r.Checks.Network = a.cfg.Online()
	}
	if a.cfg.Database != nil {
		r.Checks.Database = a.cfg.Database(ctx)
	}

	r.Status = Evaluate(r.Checks.API, r.Checks.Database, r.Checks.Memory, r.Checks.Network)
	a.cfg.Metrics.SetHealth(string(r.Status))

	if r.Status != Healthy && a.cfg.Logger != nil {
		level := model.LevelWarn
		if r.Status == Critical {
			level = model.LevelCritical
		}
		a.cfg.Logger.Log(model.Entry{
			Level:    level,
			Category: model.CategoryLogic,
			Message:  "System health check: " + string(r.Status),
			Details:  r,
			Context:  map[string]any{"type": "health_check"},
		})
	}
	return r
}

// Run calls Check every interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = model.DefaultHealthInterval
	}
	return every(ctx, interval, func() { a.Check(ctx) })
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
