package dbmon

import (
	"context"
	"fmt"
	"time"

	"github.com/tinytelemetry/diagd/internal/model"
)

// Issue types reported by AnalyzeDataIntegrity.
const (
	IssueOrphanedReference = "ORPHANED_REFERENCE"
	IssueDuplicateValues   = "DUPLICATE_VALUES"
	IssueInvalidData       = "INVALID_DATA"
	IssueAnalysisError     = "ANALYSIS_ERROR"
)

const maxExamples = 5

// RequestRef identifies a request row in an integrity finding.
type RequestRef struct {
	ID            string    `json:"id"`
	RequestNumber string    `json:"requestNumber"`
	EmployeeName  string    `json:"employeeName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// EmployeeRef identifies an employee row in an integrity finding.
type EmployeeRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IntegritySource is the store queried by AnalyzeDataIntegrity.
type IntegritySource interface {
	// OrphanedRequests returns requests whose employee reference points nowhere.
	OrphanedRequests(ctx context.Context) ([]RequestRef, error)
	// RequestNumbers returns every request with its business key.
	RequestNumbers(ctx context.Context) ([]RequestRef, error)
	// RequestsCreatedAfter returns requests dated after t.
	RequestsCreatedAfter(ctx context.Context, t time.Time) ([]RequestRef, error)
	// EmployeesWithEmail returns employees that have a non-null email.
	EmployeesWithEmail(ctx context.Context) ([]EmployeeRef, error)
}

// IssueDetails carries the count and a few sample rows.
type IssueDetails struct {
	Count    int    `json:"count,omitempty"`
	Examples any    `json:"examples,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Issue is one structural anomaly.
type Issue struct {
	Type    string       `json:"type"`
	Check   string       `json:"check"`
	Message string       `json:"message"`
	Details IssueDetails `json:"details"`
}

type integrityCheck struct {
	name string
	run  func(ctx context.Context, src IntegritySource, now time.Time) (*Issue, error)
}

var integrityChecks = []integrityCheck{
	{"orphaned_references", checkOrphans},
	{"duplicate_request_numbers", checkDuplicates},
	{"future_dates", checkFutureDates},
	{"employee_emails", checkEmails},
}

// AnalyzeDataIntegrity runs every check. A failing check becomes its own
// ANALYSIS_ERROR issue; the remaining checks still run.
func (m *Monitor) AnalyzeDataIntegrity(ctx context.Context, src IntegritySource) []Issue {
	now := m.now()
	issues := []Issue{}
	for _, c := range integrityChecks {
		issue, err := c.run(ctx, src, now)
		if err != nil {
			issues = append(issues, Issue{
				Type:    IssueAnalysisError,
				Check:   c.name,
				Message: "Error during data integrity analysis",
				Details: IssueDetails{Error: err.Error()},
			})
			continue
		}
		if issue != nil {
			issue.Check = c.name
			issues = append(issues, *issue)
		}
	}

	if len(issues) > 0 && m.logger != nil {
		m.logger.Log(model.Entry{
			Level:    model.LevelError,
			Category: model.CategoryDatabase,
			Message:  fmt.Sprintf("Data integrity issues detected: %d", len(issues)),
			Details:  map[string]any{"totalIssues": len(issues)},
			Context:  map[string]any{"type": "data_integrity"},
		})
		for _, issue := range issues {
			m.logger.Log(model.Entry{
				Level:    model.LevelWarn,
				Category: model.CategoryDatabase,
				Message:  fmt.Sprintf("%s (%s)", issue.Message, issue.Type),
				Details:  issue.Details,
				Context:  map[string]any{"type": "data_integrity_issue", "check": issue.Check},
			})
		}
	}
	return issues
}

func checkOrphans(ctx context.Context, src IntegritySource, _ time.Time) (*Issue, error) {
	rows, err := src.OrphanedRequests(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &Issue{
		Type:    IssueOrphanedReference,
		Message: "Requests reference non-existent employees",
		Details: IssueDetails{Count: len(rows), Examples: firstN(rows)},
	}, nil
}

// checkDuplicates counts extra occurrences of each request number and lists
// the rows sharing a duplicated key.
func checkDuplicates(ctx context.Context, src IntegritySource, _ time.Time) (*Issue, error) {
	rows, err := src.RequestNumbers(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string][]RequestRef, len(rows))
	var order []string
	for _, r := range rows {
		if _, seen := byKey[r.RequestNumber]; !seen {
			order = append(order, r.RequestNumber)
		}
		byKey[r.RequestNumber] = append(byKey[r.RequestNumber], r)
	}

	extra := 0
	var examples []RequestRef
	for _, key := range order {
		group := byKey[key]
		if len(group) < 2 {
			continue
		}
		extra += len(group) - 1
		examples = append(examples, group...)
	}
	if extra == 0 {
		return nil, nil
	}
	return &Issue{
		Type:    IssueDuplicateValues,
		Message: "Duplicate request numbers found",
		Details: IssueDetails{Count: extra, Examples: firstN(examples)},
	}, nil
}

func checkFutureDates(ctx context.Context, src IntegritySource, now time.Time) (*Issue, error) {
	rows, err := src.RequestsCreatedAfter(ctx, now)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &Issue{
		Type:    IssueInvalidData,
		Message: "Requests with future dates",
		Details: IssueDetails{Count: len(rows), Examples: firstN(rows)},
	}, nil
}

func checkEmails(ctx context.Context, src IntegritySource, _ time.Time) (*Issue, error) {
	rows, err := src.EmployeesWithEmail(ctx)
	if err != nil {
		return nil, err
	}
	var bad []EmployeeRef
	for _, e := range rows {
		if e.Email != "" && !model.ValidEmail(e.Email) {
			bad = append(bad, e)
		}
	}
	if len(bad) == 0 {
		return nil, nil
	}
	return &Issue{
		Type:    IssueInvalidData,
		Message: "Employees with invalid email format",
		Details: IssueDetails{Count: len(bad), Examples: firstN(bad)},
	}, nil
}

func firstN[T any](rows []T) []T {
	if len(rows) > maxExamples {
		return rows[:maxExamples]
	}
	return rows
}
