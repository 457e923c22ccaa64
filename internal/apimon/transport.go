package apimon

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tinytelemetry/diagd/internal/model"
)

type transport struct {
	next    http.RoundTripper
	monitor *Monitor
}

// RoundTrip times the call and records it. The response and error of the
// underlying transport are returned untouched.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	m := t.monitor
	start := m.now()
	resp, err := t.next.RoundTrip(req)
	end := m.now()
	durationMs := float64(end.Sub(start)) / 1e6

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	url := req.URL.String()

	if err != nil {
		m.Record(CallRecord{
			URL:        url,
			Method:     method,
			DurationMs: durationMs,
			Timestamp:  end.UTC(),
			Error:      &CallError{Message: err.Error(), Name: fmt.Sprintf("%T", err)},
		})
		if m.logger != nil {
			m.logger.Log(model.Entry{
				Level:    model.LevelError,
				Category: model.CategoryAPI,
				Message:  fmt.Sprintf("API call failed: %s %s", method, url),
				Details: map[string]any{
					"error":    err.Error(),
					"duration": durationMs,
					"method":   method,
					"url":      url,
				},
				Context: map[string]any{"type": "api_error"},
				Meta:    model.Meta{Duration: durationMs},
			})
		}
		return resp, err
	}

	rec := CallRecord{
		URL:        url,
		Method:     method,
		Status:     resp.StatusCode,
		DurationMs: durationMs,
		Timestamp:  end.UTC(),
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if resp.ContentLength >= 0 || resp.Body == nil || resp.Body == http.NoBody {
		if resp.ContentLength > 0 {
			rec.SizeBytes = resp.ContentLength
		}
		m.Record(rec)
		return resp, nil
	}
	resp.Body = &countingBody{ReadCloser: resp.Body, monitor: m, rec: rec}
	return resp, nil
}

// countingBody records its call once the body is drained or closed, with
// SizeBytes set to the bytes actually read.
type countingBody struct {
	io.ReadCloser
	monitor *Monitor
	rec     CallRecord
	once    sync.Once
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.rec.SizeBytes += int64(n)
	if err == io.EOF {
		b.finish()
	}
	return n, err
}

func (b *countingBody) Close() error {
	err := b.ReadCloser.Close()
	b.finish()
	return err
}

func (b *countingBody) finish() {
	b.once.Do(func() { b.monitor.Record(b.rec) })
}
