package cmdguard

import (
	"regexp"
	"strings"
)

// secretPatterns match credential values, not variable names.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`gsk_[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{30,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`\b[a-f0-9]{64,}\b`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.]{20,}`),
}

const redactPlaceholder = "[REDACTED]"

// sensitiveEnv matches environment variable names that hold credentials.
const sensitiveEnv = `PERMGUARD_\w*|GROQ_\w*|OPENAI_\w*|ANTHROPIC_\w*|AWS_SECRET_\w*|GITHUB_TOKEN|API_KEY|API_SECRET`

var (
	envLinePattern = regexp.MustCompile(`(?im)^(?:declare -x |export )?(` + sensitiveEnv + `)[= ].*$`)
	envNamePattern = regexp.MustCompile(`^(?:` + sensitiveEnv + `)$`)
)

// ScanOutput redacts known secret formats in s and returns the count found.
func ScanOutput(s string) (string, int) {
	count := 0
	for _, re := range secretPatterns {
		if n := len(re.FindAllStringIndex(s, -1)); n > 0 {
			count += n
			s = re.ReplaceAllString(s, redactPlaceholder)
		}
	}
	return s, count
}

// ScanOutputFull also redacts KEY=VALUE lines for sensitive variable
// names, as printed by env, set or export -p.
func ScanOutputFull(s string) (string, int) {
	s, count := ScanOutput(s)
	if n := len(envLinePattern.FindAllStringIndex(s, -1)); n > 0 {
		count += n
		s = envLinePattern.ReplaceAllString(s, redactPlaceholder)
	}
	for strings.Contains(s, redactPlaceholder+"\n"+redactPlaceholder) {
		s = strings.ReplaceAll(s, redactPlaceholder+"\n"+redactPlaceholder, redactPlaceholder)
	}
	return s, count
}

// sanitizeEnv drops sensitive variables from a subprocess environment.
func sanitizeEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if envNamePattern.MatchString(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}
