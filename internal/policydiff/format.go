package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Rules diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rules diff: %s → %s\n", r.OldPath, r.NewPath)

	if len(r.Changes) > 0 {
		b.WriteString("\n")
		for _, c := range r.Changes {
			fmt.Fprintf(&b, "  %-16s %s → %s", c.Field+":", c.Old, c.New)
			if c.Comment != "" {
				fmt.Fprintf(&b, "  (%s)", c.Comment)
			}
			b.WriteString("\n")
		}
	}

	if len(r.RuleChanges) > 0 {
		b.WriteString("\n  Rules:\n")
		for _, rc := range r.RuleChanges {
			mark := "?"
			switch rc.Type {
			case "added":
				mark = "+"
			case "removed":
				mark = "-"
			case "changed":
				mark = "~"
			case "moved":
				mark = "↕"
			}
			fmt.Fprintf(&b, "    %s %s", mark, rc.Rule)
			if rc.Comment != "" {
				fmt.Fprintf(&b, "  (%s)", rc.Comment)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}
