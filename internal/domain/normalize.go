package domain

import "strings"

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// It is used for account lookup at sign-in.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
