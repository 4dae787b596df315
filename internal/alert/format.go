package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return json.Marshal(event)
	}
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tool:* %s", event.Tool)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Resource:* `%s`", event.Resource)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Sensitivity:* %s", orDash(event.Sensitivity))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
	}
	if event.Pattern != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Rule:* `%s`", event.Pattern)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("permguard: %s", event.Decision),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("permguard %s: %s", event.Decision, event.Resource),
			"severity": severityFor(event),
			"source":   "permguard",
			"custom_details": map[string]any{
				"tool":        event.Tool,
				"resource":    event.Resource,
				"sensitivity": event.Sensitivity,
				"reason":      event.Reason,
				"pattern":     event.Pattern,
				"session_id":  event.SessionID,
				"rules_hash":  event.RulesHash,
			},
		},
	}
	return json.Marshal(payload)
}

// severityFor maps an event onto PagerDuty severities. Allowed actions are
// informational whatever their sensitivity.
func severityFor(event Event) string {
	if event.Decision != EventDeny {
		return "info"
	}
	switch event.Sensitivity {
	case "high":
		return "critical"
	case "medium":
		return "error"
	default:
		return "warning"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
