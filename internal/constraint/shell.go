package constraint

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Shell-command constraint types.
const (
	TypeCwdOnly          = "cwd_only"
	TypeMaxDepth         = "max_depth"
	TypeExcludedPatterns = "excluded_patterns"
	TypeNoPipe           = "no_pipe"
)

// ShellKinds returns the dispatch table for shell command lines.
func ShellKinds() Kinds {
	return Kinds{
		TypeCwdOnly:          {Check: checkCwdOnly},
		TypeMaxDepth:         {Check: checkMaxDepth, Shape: shapeMaxDepth},
		TypeExcludedPatterns: {Check: checkExcluded, Shape: shapeExcluded},
		TypeNoPipe:           {Check: checkNoPipe},
	}
}

// checkCwdOnly requires every argument that names a path to resolve
// inside the working directory, following symlinks. Arguments the shell
// would expand (variables, substitutions, ~user) cannot be resolved here
// and fail.
func checkCwdOnly(_ Constraint, in Context) Result {
	root, err := workDir(in.WorkDir)
	if err != nil {
		return Fail("cannot determine working directory: %v", err)
	}
	root = realPath(root)
	line := ParseLine(in.Input)
	for i, arg := range line.Args() {
		candidate := pathCandidate(arg)
		if candidate == "" {
			continue
		}
		if line.ArgExpands(i) {
			return Fail("path %q depends on shell expansion", candidate)
		}
		if strings.HasPrefix(candidate, "~") && candidate != "~" && !strings.HasPrefix(candidate, "~/") {
			return Fail("path %q uses another user's home directory", candidate)
		}
		resolved := realPath(resolvePath(root, candidate))
		if !within(root, resolved) {
			return Fail("path %q resolves outside working directory %s", candidate, root)
		}
	}
	return Pass()
}

// checkMaxDepth requires -maxdepth flags no larger than the configured
// limit. find honors the last occurrence, so a repeated flag is rejected.
func checkMaxDepth(c Constraint, in Context) Result {
	limit, err := intParam(c, "max_depth")
	if err != nil {
		return Fail("%v", err)
	}
	args := ParseLine(in.Input).Args()
	seen := false
	for i, arg := range args {
		if arg != "-maxdepth" && arg != "--max-depth" {
			continue
		}
		if seen {
			return Fail("%s may only be given once", arg)
		}
		seen = true
		if i+1 >= len(args) {
			return Fail("%s requires a value", arg)
		}
		depth, err := strconv.Atoi(args[i+1])
		if err != nil {
			return Fail("%s value %q is not a number", arg, args[i+1])
		}
		if depth > limit {
			return Fail("-maxdepth %d exceeds limit %d", depth, limit)
		}
	}
	if !seen {
		return Fail("-maxdepth is required (at most %d)", limit)
	}
	return Pass()
}

func shapeMaxDepth(c Constraint) error {
	limit, err := intParam(c, "max_depth")
	if err != nil {
		return err
	}
	if limit < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	return nil
}

// checkExcluded rejects arguments that match, or contain a path segment
// matching, any excluded glob.
func checkExcluded(c Constraint, in Context) Result {
	patterns, err := stringsParam(c, "excluded_patterns")
	if err != nil {
		return Fail("%v", err)
	}
	for _, arg := range ParseLine(in.Input).Args() {
		candidate := pathCandidate(arg)
		if candidate == "" {
			continue
		}
		if p, ok := matchExcluded(patterns, candidate); ok {
			return Fail("argument %q touches excluded path (pattern %q)", candidate, p)
		}
	}
	return Pass()
}

func shapeExcluded(c Constraint) error {
	patterns, err := stringsParam(c, "excluded_patterns")
	if err != nil {
		return err
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("excluded_patterns: invalid glob %q", p)
		}
	}
	return nil
}

// controlSequences are rejected by no_pipe even inside quotes, since a
// quoted argument may itself be run by a shell (bash -c, ssh, xargs sh).
var controlSequences = []string{"|", ";", "&", "`", "$("}

// checkNoPipe rejects command chaining and substitution.
func checkNoPipe(_ Constraint, in Context) Result {
	line := ParseLine(in.Input)
	if len(line.Operators) > 0 {
		return Fail("command chaining or substitution is not allowed (found %q)", line.Operators[0])
	}
	for _, w := range line.Words {
		if w == "&>" || strings.HasPrefix(w, ">") || strings.HasPrefix(w, "<") {
			continue
		}
		for _, seq := range controlSequences {
			if strings.Contains(w, seq) {
				return Fail("argument %q contains shell control sequence %q", w, seq)
			}
		}
	}
	return Pass()
}

func matchExcluded(patterns []string, arg string) (string, bool) {
	clean := filepath.ToSlash(filepath.Clean(arg))
	segments := strings.Split(strings.Trim(clean, "/"), "/")
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, clean); ok {
			return p, true
		}
		for _, seg := range segments {
			if ok, _ := doublestar.Match(p, seg); ok {
				return p, true
			}
		}
	}
	return "", false
}

// pathCandidate extracts the path-like part of an argument. Flags without
// an attached value yield "".
func pathCandidate(arg string) string {
	if arg == "" || arg == ">" || arg == ">>" || arg == "<" || arg == "&>" {
		return ""
	}
	if strings.HasPrefix(arg, "-") {
		if i := strings.IndexByte(arg, '='); i >= 0 {
			return arg[i+1:]
		}
		return ""
	}
	return arg
}

func workDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func resolvePath(root, p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return filepath.Clean(p)
}

// realPath resolves symlinks in the longest existing prefix of p and
// appends the remainder unchanged. p must be absolute and clean. A dangling
// link is followed to its target. Returns "" for symlink loops.
func realPath(p string) string {
	return realPathDepth(p, 0)
}

const maxLinkDepth = 40

func realPathDepth(p string, depth int) string {
	if depth > maxLinkDepth {
		return ""
	}
	existing := p
	var rest []string
	for {
		if r, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(append([]string{r}, rest...)...)
		}
		if fi, err := os.Lstat(existing); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(existing)
			if err != nil {
				return ""
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(existing), target)
			}
			return realPathDepth(filepath.Join(append([]string{target}, rest...)...), depth+1)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return p
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// intParam reads an integer param. YAML decodes to int, JSON to float64.
func intParam(c Constraint, key string) (int, error) {
	raw, ok := c.Params[key]
	if !ok {
		return 0, fmt.Errorf("%s constraint requires %q", c.Type, key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%q must be an integer", key)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%q must be an integer, got %T", key, raw)
	}
}

func stringsParam(c Constraint, key string) ([]string, error) {
	raw, ok := c.Params[key]
	if !ok {
		return nil, fmt.Errorf("%s constraint requires %q", c.Type, key)
	}
	list, ok := raw.([]any)
	if !ok {
		if s, ok := raw.([]string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("%q must be a list of strings", key)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%q[%d] must be a string", key, i)
		}
		out = append(out, s)
	}
	return out, nil
}
