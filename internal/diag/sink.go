package diag

import "github.com/tinytelemetry/diagd/internal/model"

// NopSink discards events. Production builds use it in place of the local store.
type NopSink struct{}

func (NopSink) Record(model.DiagnosticEvent) error { return nil }
