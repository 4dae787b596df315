package model

import "strings"

// Decision is the permission outcome for a requested action.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// ParseDecision maps the rule-file spelling to a Decision.
// Only the exact lowercase words are accepted.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case "allow":
		return Allow, true
	case "deny":
		return Deny, true
	default:
		return "", false
	}
}

// Label returns the upper-case form used in CLI verdicts.
func (d Decision) Label() string {
	return strings.ToUpper(string(d))
}

// Allowed reports whether d permits the action. Anything but Allow denies.
func (d Decision) Allowed() bool {
	return d == Allow
}
