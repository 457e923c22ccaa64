package statemon

import (
	"fmt"
	"math"
	"time"

	"github.com/tinytelemetry/diagd/internal/model"
)

// Request statuses and types accepted by the built-in rules.
const (
	StatusNew        = "Новая"
	StatusInProgress = "В работе"
	StatusCompleted  = "Завершена"

	TypeSIZ         = "siz"
	TypeTools       = "tools"
	TypeEquipment   = "equipment"
	TypeConsumables = "consumables"
)

// MaxStateBytes is the serialised size above which a state is reported as a
// MEMORY_LEAK.
const MaxStateBytes = 10 * 1024 * 1024

var (
	validStatuses       = []string{StatusNew, StatusInProgress, StatusCompleted}
	validTypes          = []string{TypeSIZ, TypeTools, TypeEquipment, TypeConsumables}
	requiredFields      = []string{"id", "type", "user", "date", "status"}
	requiredSizFields   = []string{"clothingSeason", "shoeSeason", "height", "clothingSize", "shoeSize"}
	requiredEmployeeIDs = []string{"id", "fullName"}
	itemizedTypes       = []string{TypeTools, TypeEquipment, TypeConsumables}
)

// DefaultRules returns the built-in rule table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "no-duplicates-in-arrays", Check: checkDuplicateIDs},
		{Name: "valid-request-status", Check: checkStatuses},
		{Name: "valid-request-type", Check: checkTypes},
		{Name: "request-required-fields", Check: checkRequiredFields},
		{Name: "state-size-check", Check: checkSize},
		{Name: "no-circular-references", Check: checkCycles},
		{Name: "valid-dates", Check: checkDates},
		{Name: "valid-employees", Check: checkEmployees},
		{Name: "valid-request-details", Check: checkDetails},
	}
}

func records(st State, key string) []map[string]any {
	list, ok := st.Value[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		} else {
			out = append(out, map[string]any{})
		}
	}
	return out
}

func checkDuplicateIDs(st State) *Violation {
	reqs := records(st, "requests")
	if reqs == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		seen[identity(r["id"])] = struct{}{}
	}
	if len(seen) == len(reqs) {
		return nil
	}
	return &Violation{
		Type:    Duplicate,
		Message: "Duplicate IDs found in requests array",
		Details: map[string]any{
			"totalCount":     len(reqs),
			"uniqueCount":    len(seen),
			"duplicateCount": len(reqs) - len(seen),
		},
	}
}

func checkStatuses(st State) *Violation {
	for _, r := range records(st, "requests") {
		status := r["status"]
		if !truthy(status) {
			continue
		}
		if s, ok := status.(string); !ok || !contains(validStatuses, s) {
			return &Violation{
				Type:    Contradiction,
				Message: fmt.Sprintf("Invalid request status: %q", fmt.Sprint(status)),
				Details: map[string]any{
					"requestId":     r["id"],
					"invalidStatus": status,
					"validStatuses": validStatuses,
				},
			}
		}
	}
	return nil
}

func checkTypes(st State) *Violation {
	for _, r := range records(st, "requests") {
		typ := r["type"]
		if !truthy(typ) {
			continue
		}
		if s, ok := typ.(string); !ok || !contains(validTypes, s) {
			return &Violation{
				Type:    Contradiction,
				Message: fmt.Sprintf("Invalid request type: %q", fmt.Sprint(typ)),
				Details: map[string]any{
					"requestId":   r["id"],
					"invalidType": typ,
					"validTypes":  validTypes,
				},
			}
		}
	}
	return nil
}

func checkRequiredFields(st State) *Violation {
	for _, r := range records(st, "requests") {
		missing := missingFields(r, requiredFields)
		if len(missing) == 0 {
			continue
		}
		id := r["id"]
		if !truthy(id) {
			id = "unknown"
		}
		return &Violation{
			Type:    Contradiction,
			Message: "Request missing required fields",
			Details: map[string]any{
				"requestId":     id,
				"missingFields": missing,
				"request":       r,
			},
		}
	}
	return nil
}

func checkSize(st State) *Violation {
	size := len(st.Encoded)
	if size <= MaxStateBytes {
		return nil
	}
	return &Violation{
		Type:    MemoryLeak,
		Message: "State size exceeds threshold",
		Details: map[string]any{
			"currentSize": fmt.Sprintf("%.2fMB", float64(size)/1024/1024),
			"threshold":   fmt.Sprintf("%.2fMB", float64(MaxStateBytes)/1024/1024),
			"warning":     "Potential memory leak detected",
		},
	}
}

func checkCycles(st State) *Violation {
	if st.EncodeErr == nil || !isCycle(st.EncodeErr) {
		return nil
	}
	return &Violation{
		Type:    CircularRef,
		Message: "Circular reference detected in state",
		Details: map[string]any{"error": st.EncodeErr.Error()},
	}
}

func checkDates(st State) *Violation {
	now := st.Now
	if now.IsZero() {
		now = time.Now()
	}
	for _, r := range records(st, "requests") {
		raw := r["date"]
		if !truthy(raw) {
			continue
		}
		at, ok := parseDate(raw)
		if !ok {
			return &Violation{
				Type:    Contradiction,
				Message: "Invalid date format in request",
				Details: map[string]any{"requestId": r["id"], "invalidDate": raw},
			}
		}
		if at.After(now) {
			return &Violation{
				Type:    Contradiction,
				Message: "Request date is in the future",
				Details: map[string]any{
					"requestId": r["id"],
					"date":      raw,
					"now":       now.UTC().Format(time.RFC3339Nano),
				},
			}
		}
	}
	return nil
}

func checkEmployees(st State) *Violation {
	for _, e := range records(st, "employees") {
		if len(missingFields(e, requiredEmployeeIDs)) > 0 {
			return &Violation{
				Type:    Contradiction,
				Message: "Employee missing required fields",
				Details: map[string]any{"employee": e, "required": requiredEmployeeIDs},
			}
		}
		email := e["email"]
		if !truthy(email) {
			continue
		}
		if s, ok := email.(string); !ok || !model.ValidEmail(s) {
			return &Violation{
				Type:    Contradiction,
				Message: "Invalid employee email format",
				Details: map[string]any{"employeeId": e["id"], "email": email},
			}
		}
	}
	return nil
}

func checkDetails(st State) *Violation {
	for _, r := range records(st, "requests") {
		details := r["details"]
		if !truthy(details) {
			continue
		}
		typ, _ := r["type"].(string)

		if typ == TypeSIZ {
			fields, _ := details.(map[string]any)
			if missing := missingFields(fields, requiredSizFields); len(missing) > 0 {
				return &Violation{
					Type:    Contradiction,
					Message: "SIZ request missing size details",
					Details: map[string]any{"requestId": r["id"], "missingFields": missing},
				}
			}
		}

		if contains(itemizedTypes, typ) {
			if _, ok := details.([]any); !ok {
				return &Violation{
					Type:    Contradiction,
					Message: "Non-SIZ request details should be an array",
					Details: map[string]any{
						"requestId":   r["id"],
						"type":        typ,
						"detailsType": jsonKind(details),
					},
				}
			}
		}
	}
	return nil
}

func missingFields(obj map[string]any, fields []string) []string {
	var missing []string
	for _, f := range fields {
		if !truthy(obj[f]) {
			missing = append(missing, f)
		}
	}
	return missing
}

// truthy follows JSON-value truthiness: null, false, 0, NaN and "" are empty.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	default:
		return true
	}
}

func identity(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func jsonKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "null"
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts ISO-8601 strings and unix millisecond numbers.
func parseDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return time.UnixMilli(int64(x)), true
		}
	}
	return time.Time{}, false
}
