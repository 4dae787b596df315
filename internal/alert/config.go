// Package alert posts permission decisions to webhook endpoints.
package alert

// Event names a Config can subscribe to besides the decisions themselves.
const (
	EventDeny                = "deny"
	EventAllow               = "allow"
	EventConstraintViolation = "constraint_violation"
	EventHighSensitivity     = "high_sensitivity"
)

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url" json:"url"`
	Format  string            `yaml:"format" json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events" json:"events"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp   string `json:"timestamp"`
	SessionID   string `json:"session_id,omitempty"`
	Tool        string `json:"tool"`
	Resource    string `json:"resource"`
	Decision    string `json:"decision"`
	Reason      string `json:"reason"`
	Pattern     string `json:"pattern,omitempty"`
	Sensitivity string `json:"sensitivity,omitempty"`
	RulesHash   string `json:"rules_hash,omitempty"`
	Violation   string `json:"violation,omitempty"` // constraint type that overrode an allow
}

// names returns the subscription names this event satisfies.
func (e Event) names() []string {
	names := []string{e.Decision}
	if e.Violation != "" {
		names = append(names, EventConstraintViolation)
	}
	if e.Sensitivity == "high" {
		names = append(names, EventHighSensitivity)
	}
	return names
}
