package model

import "regexp"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s has the basic local@domain.tld shape.
func ValidEmail(s string) bool { return emailPattern.MatchString(s) }
