package health

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	rtmetrics "runtime/metrics"
	"time"

	"github.com/pbnjay/memory"
	"github.com/tinytelemetry/diagd/internal/diag"
	"github.com/tinytelemetry/diagd/internal/model"
)

const (
	mb                    = 1 << 20
	memoryWarningPercent  = 80
	runtimeTotalMetric    = "/memory/classes/total:bytes"
	unlimitedMemoryLimitB = math.MaxInt64
)

// MemorySample is heap usage against the limit the process may grow to.
type MemorySample struct {
	UsedBytes  uint64
	TotalBytes uint64
	LimitBytes uint64
}

// Known reports whether the limit could be determined.
func (s MemorySample) Known() bool { return s.LimitBytes > 0 }

func (s MemorySample) Ratio() float64 {
	if !s.Known() {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.LimitBytes)
}

func (s MemorySample) UsedMB() float64 { return float64(s.UsedBytes) / mb }

// SampleMemory reads live heap bytes and the runtime total. The limit is the
// soft memory limit when set, otherwise physical memory.
func SampleMemory() MemorySample {
	s := MemorySample{UsedBytes: diag.HeapInUseBytes()}

	samples := []rtmetrics.Sample{{Name: runtimeTotalMetric}}
	rtmetrics.Read(samples)
	if samples[0].Value.Kind() == rtmetrics.KindUint64 {
		s.TotalBytes = samples[0].Value.Uint64()
	}

	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != unlimitedMemoryLimitB {
		s.LimitBytes = uint64(limit)
	} else {
		s.LimitBytes = memory.TotalMemory()
	}
	return s
}

// MemoryWatcher logs a CRITICAL MEMORY event whenever usage exceeds 80% of
// the limit.
type MemoryWatcher struct {
	logger model.EventLogger
	sample func() MemorySample
}

// NewMemoryWatcher uses SampleMemory when sample is nil.
func NewMemoryWatcher(logger model.EventLogger, sample func() MemorySample) *MemoryWatcher {
	if sample == nil {
		sample = SampleMemory
	}
	return &MemoryWatcher{logger: logger, sample: sample}
}

// Check samples once and reports whether the warning fired.
func (w *MemoryWatcher) Check() bool {
	s := w.sample()
	if !s.Known() {
		return false
	}
	percent := s.Ratio() * 100
	if percent <= memoryWarningPercent {
		return false
	}
	w.logger.Log(model.Entry{
		Level:    model.LevelCritical,
		Category: model.CategoryMemory,
		Message:  "High memory usage detected",
		Details: map[string]any{
			"usedMemoryMB":       fmt.Sprintf("%.2f", s.UsedMB()),
			"totalMemoryMB":      fmt.Sprintf("%.2f", float64(s.TotalBytes)/mb),
			"limitMemoryMB":      fmt.Sprintf("%.2f", float64(s.LimitBytes)/mb),
			"usagePercent":       fmt.Sprintf("%.2f", percent),
			"freeSystemMemoryMB": fmt.Sprintf("%.2f", float64(memory.FreeMemory())/mb),
		},
		Context: map[string]any{"type": "memory_warning"},
		Meta:    model.Meta{MemoryUsage: s.UsedMB()},
	})
	return true
}

// Run checks every interval until ctx is done.
func (w *MemoryWatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = model.DefaultMemoryInterval
	}
	return every(ctx, interval, func() { w.Check() })
}
