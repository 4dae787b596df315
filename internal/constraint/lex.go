package constraint

import "strings"

// Line is a command line split into words with shell-like quoting.
// Operators holds every unquoted control sequence found (pipes, command
// separators, substitutions), in order of appearance. Expands is parallel
// to Words and marks words the shell would rewrite through parameter or
// command substitution, whose final text cannot be known here.
type Line struct {
	Words     []string
	Expands   []bool
	Operators []string
}

// ArgExpands reports whether the i-th element of Args is subject to expansion.
func (l Line) ArgExpands(i int) bool {
	return i+1 < len(l.Expands) && l.Expands[i+1]
}

// Args returns the words after the command name.
func (l Line) Args() []string {
	if len(l.Words) < 2 {
		return nil
	}
	return l.Words[1:]
}

// ParseLine tokenizes s. Single quotes are literal, double quotes allow
// backslash escapes and still recognize $( and backtick substitution.
// An unterminated quote runs to the end of the input.
func ParseLine(s string) Line {
	var (
		line    Line
		word    strings.Builder
		inWord  bool
		single  bool
		double  bool
		escaped bool
		expands bool
	)
	emit := func(w string, exp bool) {
		line.Words = append(line.Words, w)
		line.Expands = append(line.Expands, exp)
	}
	flush := func() {
		if inWord {
			emit(word.String(), expands)
			word.Reset()
			inWord = false
			expands = false
		}
	}
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case escaped:
			word.WriteRune(r)
			escaped = false
		case single:
			if r == '\'' {
				single = false
			} else {
				word.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inWord = true
		case double:
			switch {
			case r == '"':
				double = false
			case r == '`':
				line.Operators = append(line.Operators, "`")
				word.WriteRune(r)
				expands = true
			case r == '$' && i+1 < len(rs) && rs[i+1] == '(':
				line.Operators = append(line.Operators, "$(")
				word.WriteRune(r)
				expands = true
			case r == '$':
				word.WriteRune(r)
				expands = true
			default:
				word.WriteRune(r)
			}
		case r == '\'':
			single = true
			inWord = true
		case r == '"':
			double = true
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
			if r == '\n' {
				line.Operators = append(line.Operators, "\n")
			}
		case r == '&' && i+1 < len(rs) && rs[i+1] == '>':
			flush()
			emit("&>", false)
			i++
		case r == '|' || r == '&' || r == ';':
			flush()
			op := string(r)
			if i+1 < len(rs) && (rs[i+1] == '|' || rs[i+1] == '&') && r != ';' {
				op += string(rs[i+1])
				i++
			}
			line.Operators = append(line.Operators, op)
		case r == '`':
			line.Operators = append(line.Operators, "`")
			word.WriteRune(r)
			inWord = true
			expands = true
		case r == '$' && i+1 < len(rs) && rs[i+1] == '(':
			line.Operators = append(line.Operators, "$(")
			word.WriteRune(r)
			inWord = true
			expands = true
		case r == '$':
			word.WriteRune(r)
			inWord = true
			expands = true
		case r == '>' || r == '<':
			flush()
			op := string(r)
			for i+1 < len(rs) && (rs[i+1] == '>' || rs[i+1] == '<' || rs[i+1] == '&') {
				op += string(rs[i+1])
				i++
			}
			emit(op, false)
		default:
			word.WriteRune(r)
			inWord = true
		}
	}
	flush()
	return line
}
