package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/diagd/internal/dbmon"
)

const modelRequest = "Request"

// Request is a row of the requests table. Details is stored as JSON text.
type Request struct {
	ID            string         `json:"id"`
	RequestNumber string         `json:"requestNumber"`
	EmployeeID    string         `json:"employeeId,omitempty"`
	EmployeeName  string         `json:"employeeName"`
	Type          string         `json:"type"`
	Status        string         `json:"status"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	EmployeeID string
	Status     string
	Type       string
	Limit      int
}

const requestColumns = "id, request_number, employee_id, employee_name, type, status, details, created_at"

func scanRequest(sc interface{ Scan(...any) error }) (Request, error) {
	var r Request
	var employeeID, details sql.NullString
	if err := sc.Scan(&r.ID, &r.RequestNumber, &employeeID, &r.EmployeeName, &r.Type, &r.Status, &details, &r.CreatedAt); err != nil {
		return Request{}, err
	}
	r.EmployeeID = employeeID.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &r.Details); err != nil {
			return Request{}, fmt.Errorf("decoding details of %s: %w", r.ID, err)
		}
	}
	return r, nil
}

// CreateRequest inserts r, assigning an id and creation time when unset.
func (s *Store) CreateRequest(ctx context.Context, r Request) (Request, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var details sql.NullString
	if r.Details != nil {
		b, err := json.Marshal(r.Details)
		if err != nil {
			return Request{}, fmt.Errorf("encoding request details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	err := s.mon.Observe(ctx, modelRequest, "create", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		ctx, cancel := s.queryCtx(ctx)
		defer cancel()
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO requests ("+requestColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			r.ID, r.RequestNumber, nullString(r.EmployeeID), r.EmployeeName, r.Type, r.Status, details, r.CreatedAt)
		return err
	})
	if err != nil {
		return Request{}, fmt.Errorf("creating request: %w", err)
	}
	return r, nil
}

// ListRequests returns requests matching f, newest first.
func (s *Store) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	var where []string
	var args []any
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}

	q := "SELECT " + requestColumns + " FROM requests"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	return dbmon.Run(ctx, s.mon, modelRequest, "findMany", func(ctx context.Context) ([]Request, error) {
		return s.queryRequests(ctx, q, args...)
	})
}

// GetRequest returns the request with id or ErrNotFound.
func (s *Store) GetRequest(ctx context.Context, id string) (Request, error) {
	return dbmon.Run(ctx, s.mon, modelRequest, "findUnique", func(ctx context.Context) (Request, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ctx, cancel := s.queryCtx(ctx)
		defer cancel()

		r, err := scanRequest(s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM requests WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return r, err
	})
}

// UpdateRequestStatus sets the status of request id.
func (s *Store) UpdateRequestStatus(ctx context.Context, id, status string) error {
	return s.mon.Observe(ctx, modelRequest, "update", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		ctx, cancel := s.queryCtx(ctx)
		defer cancel()

		res, err := s.db.ExecContext(ctx, "UPDATE requests SET status = ? WHERE id = ?", status, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) queryRequests(ctx context.Context, q string, args ...any) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
