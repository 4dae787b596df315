package pattern

import "testing"

func TestLiteralPatternFullMatch(t *testing.T) {
	patterns := []string{"ls", "git status", "rm -rf /", "a.b", "x+y", "(paren)", "[abc]", "^$", `back\slash`, "a|b", "q?"}
	for _, p := range patterns {
		m := Compile(p)
		if !m.Match(p) {
			t.Errorf("expected %q to match itself", p)
		}
		if m.Match(p + "x") {
			t.Errorf("expected %q not to match %q", p, p+"x")
		}
		if m.Match("x" + p) {
			t.Errorf("expected %q not to match %q", p, "x"+p)
		}
	}
}

func TestMetacharactersAreLiteral(t *testing.T) {
	m := Compile("a.b")
	if m.Match("axb") {
		t.Error("expected . to be literal")
	}
	m = Compile("[abc]")
	if m.Match("a") {
		t.Error("expected brackets to be literal")
	}
}

func TestWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"a*b", "axxxb", true},
		{"a*b", "ab", true},
		{"a*b", "axxxbc", false},
		{"*", "", true},
		{"*", "anything at all", true},
		{"echo*", "echo hi", true},
		{"echo*", "say echo", false},
		{"*.env", "cat /app/.env", true},
		{"git * --force", "git push origin --force", true},
		{"git * --force", "git push --force-with-lease", false},
		{"*", "a\nb", true},
		{"*", "\n", true},
		{"echo*", "echo hi\nrm -rf /", true},
		{"rm -rf *", "rm -rf /\necho", true},
		{"ls", "ls\n", false},
		{"echo hi", "echo hi\nrm -rf /", false},
	}
	for _, tt := range tests {
		if got := Compile(tt.pattern).Match(tt.input); got != tt.want {
			t.Errorf("Compile(%q).Match(%q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
		}
	}
}

func TestEmptyPatternMatchesOnlyEmpty(t *testing.T) {
	m := Compile("")
	if !m.Match("") {
		t.Error("expected empty pattern to match empty input")
	}
	if m.Match(" ") {
		t.Error("expected empty pattern not to match non-empty input")
	}
}

func TestCaseInsensitive(t *testing.T) {
	if !Compile("RM -RF*").Match("rm -rf /tmp") {
		t.Error("expected case-insensitive match")
	}
}

func TestString(t *testing.T) {
	m := Compile("git push*")
	if m.String() != "git push*" {
		t.Errorf("expected source pattern, got %q", m.String())
	}
	if m.Regex() != `(?is)^git push.*$` {
		t.Errorf("unexpected regex %q", m.Regex())
	}
}
