package model

import "strings"

// Rank orders levels from DEBUG (0) to FATAL (5). Unknown levels rank -1.
func (l Level) Rank() int {
	for i, lv := range Levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of the six known levels.
func (l Level) Valid() bool { return l.Rank() >= 0 }

// IsFailure reports whether events at l count towards the error rate.
func (l Level) IsFailure() bool {
	return l == LevelError || l == LevelCritical || l == LevelFatal
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// ParseLevel converts common severity spellings to a Level.
// The boolean is false when the input names no known level.
func ParseLevel(s string) (Level, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(s))

	switch normalized {
	case "DEBUG", "DEBU", "DBG", "DEB", "TRACE", "TRC":
		return LevelDebug, true
	case "INFO", "INFORMATION", "INF":
		return LevelInfo, true
	case "WARN", "WARNING", "WRN":
		return LevelWarn, true
	case "ERROR", "ERR", "ERRO":
		return LevelError, true
	case "CRITICAL", "CRIT", "CRT":
		return LevelCritical, true
	case "FATAL", "FATL", "FTL", "PANIC":
		return LevelFatal, true
	}
	return "", false
}

// ParseCategory converts a case-insensitive category name.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}
