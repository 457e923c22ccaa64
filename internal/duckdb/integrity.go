package duckdb

import (
	"context"
	"time"

	"github.com/tinytelemetry/diagd/internal/dbmon"
)

var _ dbmon.IntegritySource = (*Store)(nil)

// AnalyzeIntegrity runs the monitor's integrity checks against this store.
func (s *Store) AnalyzeIntegrity(ctx context.Context) []dbmon.Issue {
	return s.mon.AnalyzeDataIntegrity(ctx, s)
}

// OrphanedRequests returns requests whose employee_id matches no employee.
func (s *Store) OrphanedRequests(ctx context.Context) ([]dbmon.RequestRef, error) {
	return s.requestRefs(ctx, "findMany", `
		SELECT r.id, r.request_number, r.employee_name, r.created_at
		FROM requests r
		LEFT JOIN employees e ON e.id = r.employee_id
		WHERE r.employee_id IS NOT NULL AND e.id IS NULL
		ORDER BY r.created_at`)
}

// RequestNumbers returns every request with its number, in number order.
func (s *Store) RequestNumbers(ctx context.Context) ([]dbmon.RequestRef, error) {
	return s.requestRefs(ctx, "findMany", `
		SELECT id, request_number, employee_name, created_at
		FROM requests
		ORDER BY request_number, created_at`)
}

// RequestsCreatedAfter returns requests with created_at later than t.
func (s *Store) RequestsCreatedAfter(ctx context.Context, t time.Time) ([]dbmon.RequestRef, error) {
	return s.requestRefs(ctx, "findMany", `
		SELECT id, request_number, employee_name, created_at
		FROM requests
		WHERE created_at > ?
		ORDER BY created_at`, t.UTC())
}

// EmployeesWithEmail returns employees with a non-null email.
func (s *Store) EmployeesWithEmail(ctx context.Context) ([]dbmon.EmployeeRef, error) {
	return dbmon.Run(ctx, s.mon, modelEmployee, "findMany", func(ctx context.Context) ([]dbmon.EmployeeRef, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ctx, cancel := s.queryCtx(ctx)
		defer cancel()

		rows, err := s.db.QueryContext(ctx, "SELECT id, full_name, email FROM employees WHERE email IS NOT NULL ORDER BY full_name")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []dbmon.EmployeeRef
		for rows.Next() {
			var e dbmon.EmployeeRef
			if err := rows.Scan(&e.ID, &e.Name, &e.Email); err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, rows.Err()
	})
}

func (s *Store) requestRefs(ctx context.Context, action, q string, args ...any) ([]dbmon.RequestRef, error) {
	return dbmon.Run(ctx, s.mon, modelRequest, action, func(ctx context.Context) ([]dbmon.RequestRef, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ctx, cancel := s.queryCtx(ctx)
		defer cancel()

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []dbmon.RequestRef
		for rows.Next() {
			var r dbmon.RequestRef
			if err := rows.Scan(&r.ID, &r.RequestNumber, &r.EmployeeName, &r.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}
