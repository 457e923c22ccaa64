package model

import "context"

// EventLogger is the narrow contract monitors use to report findings.
type EventLogger interface {
	Log(entry Entry)
}

// EventForwarder receives CRITICAL and FATAL events for remote collection.
type EventForwarder interface {
	Forward(ctx context.Context, event DiagnosticEvent) error
}

// EventSink persists events on a best-effort basis.
type EventSink interface {
	Record(event DiagnosticEvent) error
}
