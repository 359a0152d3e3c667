package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

//go:embed defaults.rules
var defaultRules string

const defaultLoopLimit = 30

// Filter cleans counterpart replies before they are published: built-in
// rules strip markup and assistant boilerplate, then user rules apply.
//
// A rules file holds one rule per line. "a => b" replaces a with b
// case-insensitively. "s/re/repl/flags" is a regexp substitution where g
// replaces every match and m and s set the multi-line and dot-all modes.
type Filter struct {
	rules     []rule
	loopLimit int
}

type rule struct {
	re          *regexp.Regexp
	replacement string
	literal     bool
	global      bool
}

// NewFilter compiles the built-in rules plus the optional rules file at path.
// A missing file is not an error.
func NewFilter(path string, loopLimit int) (*Filter, error) {
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}

	rules, err := parseRules(defaultRules)
	if err != nil {
		return nil, fmt.Errorf("parse built-in rules: %w", err)
	}
	f := &Filter{rules: rules, loopLimit: loopLimit}
	if strings.TrimSpace(path) == "" {
		return f, nil
	}

	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}
	user, err := parseRules(string(contents))
	if err != nil {
		return nil, fmt.Errorf("parse rules file %q: %w", path, err)
	}
	f.rules = append(f.rules, user...)
	return f, nil
}

// Apply rewrites text until no rule changes it, then collapses whitespace
// into single spaces. The result may be empty.
func (f *Filter) Apply(text string) (string, error) {
	result := text
	for i := 0; i < f.loopLimit; i++ {
		changed := false
		for _, r := range f.rules {
			if next := r.apply(result); next != result {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return strings.Join(strings.Fields(result), " "), nil
}

func (r rule) apply(input string) string {
	switch {
	case r.literal:
		return r.re.ReplaceAllLiteralString(input, r.replacement)
	case r.global:
		return r.re.ReplaceAllString(input, r.replacement)
	}
	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	return input[:loc[0]] + string(expanded) + input[loc[1]:]
}

func parseRules(contents string) ([]rule, error) {
	var rules []rule
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := parseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseRule(line string) (rule, error) {
	if len(line) > 1 && line[0] == 's' && isDelimiter(line[1]) {
		return parseSubstitution(line)
	}
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return rule{}, errors.New("unsupported rule format")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return rule{}, errors.New("literal rule source cannot be empty")
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(from))
	return rule{re: re, replacement: strings.TrimSpace(to), literal: true}, nil
}

// parseSubstitution reads s<d>pattern<d>replacement<d>flags. Matching is
// always case-insensitive.
func parseSubstitution(line string) (rule, error) {
	parts := splitUnescaped(line[2:], line[1])
	if len(parts) != 3 {
		return rule{}, errors.New("substitution needs a pattern, a replacement and a closing delimiter")
	}

	modes := "i"
	global := false
	for _, flag := range strings.TrimSpace(parts[2]) {
		switch flag {
		case 'g':
			global = true
		case 'i':
		case 'm', 's':
			modes += string(flag)
		default:
			return rule{}, fmt.Errorf("unsupported flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + modes + ")" + parts[0])
	if err != nil {
		return rule{}, fmt.Errorf("invalid pattern: %w", err)
	}
	return rule{re: re, replacement: parts[1], global: global}, nil
}

// splitUnescaped splits on delim outside backslash escapes. Escapes are kept
// for the regexp compiler.
func splitUnescaped(s string, delim byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case delim:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func isDelimiter(c byte) bool {
	return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == ' ' || c == '\t')
}
