package cmdguard

import "strings"

// Sensitivity levels attached to permission events.
const (
	SensLow    = "low"
	SensMedium = "medium"
	SensHigh   = "high"
)

// classifyCommand tags a command line for the audit trail. It never
// affects the decision.
func classifyCommand(cmd string) (string, []string) {
	lower := strings.ToLower(cmd)

	destructive := []string{"rm -rf", "dd if=", "mkfs", "chmod -r 777", "> /dev/sd", ":(){ :|:& };:"}
	for _, p := range destructive {
		if strings.Contains(lower, p) {
			return SensHigh, []string{"destructive"}
		}
	}

	credential := []string{"sudo", "passwd", "ssh-keygen", "chpasswd"}
	for _, p := range credential {
		if strings.Contains(lower, p) {
			return SensHigh, []string{"credential"}
		}
	}

	if isNetworkCommand(lower) {
		return SensMedium, []string{"network"}
	}

	vcsWrite := []string{"git push", "git commit", "git rebase", "git reset"}
	for _, p := range vcsWrite {
		if strings.Contains(lower, p) {
			return SensMedium, []string{"vcs_write"}
		}
	}

	return SensLow, nil
}

func isNetworkCommand(lower string) bool {
	network := []string{"curl", "wget", "nc", "telnet", "ssh", "scp", "sftp"}
	for _, p := range network {
		if lower == p || strings.HasPrefix(lower, p+" ") || strings.Contains(lower, " "+p+" ") {
			return true
		}
	}
	return false
}
