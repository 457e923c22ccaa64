package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/diagd/internal/dbmon"
)

const modelEmployee = "Employee"

// Employee is a row of the employees table.
type Employee struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const employeeColumns = "id, full_name, email, created_at"

func scanEmployee(sc interface{ Scan(...any) error }) (Employee, error) {
	var e Employee
	var email sql.NullString
	if err := sc.Scan(&e.ID, &e.FullName, &email, &e.CreatedAt); err != nil {
		return Employee{}, err
	}
	e.Email = email.String
	return e, nil
}

// CreateEmployee inserts e, assigning an id and creation time when unset.
func (s *Store) CreateEmployee(ctx context.Context, e Employee) (Employee, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := s.mon.Observe(ctx, modelEmployee, "create", func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		ctx, cancel := s.queryCtx(ctx)
		defer cancel()
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO employees ("+employeeColumns+") VALUES (?, ?, ?, ?)",
			e.ID, e.FullName, nullString(e.Email), e.CreatedAt)
		return err
	})
	if err != nil {
		return Employee{}, fmt.Errorf("creating employee: %w", err)
	}
	return e, nil
}

// ListEmployees returns every employee ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	return dbmon.Run(ctx, s.mon, modelEmployee, "findMany", func(ctx context.Context) ([]Employee, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ctx, cancel := s.queryCtx(ctx)
		defer cancel()

		rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY full_name")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []Employee
		for rows.Next() {
			e, err := scanEmployee(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, rows.Err()
	})
}

// GetEmployee returns the employee with id or ErrNotFound.
func (s *Store) GetEmployee(ctx context.Context, id string) (Employee, error) {
	return s.employeeWhere(ctx, "findUnique", "id = ?", id)
}

// FindEmployeeByEmail returns the first employee with email or ErrNotFound.
func (s *Store) FindEmployeeByEmail(ctx context.Context, email string) (Employee, error) {
	return s.employeeWhere(ctx, "findFirst", "email = ?", email)
}

func (s *Store) employeeWhere(ctx context.Context, action, where string, arg any) (Employee, error) {
	return dbmon.Run(ctx, s.mon, modelEmployee, action, func(ctx context.Context) (Employee, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ctx, cancel := s.queryCtx(ctx)
		defer cancel()

		row := s.db.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE "+where+" LIMIT 1", arg)
		e, err := scanEmployee(row)
		if errors.Is(err, sql.ErrNoRows) {
			return Employee{}, ErrNotFound
		}
		return e, err
	})
}
