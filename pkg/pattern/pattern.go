// Package pattern compiles subscription expressions (spec §4.1) into
// deterministic matchers: literal segments, single-segment wildcards
// (*), brace alternatives ({a,b,c}), the global wildcard, and raw
// predicate functions that bypass compilation entirely.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// CompilationError is raised at subscription registration time for a
// malformed pattern (spec §7 PatternCompilationError).
type CompilationError struct {
	Pattern string
	Reason  string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("pattern compilation error in %q: %s", e.Pattern, e.Reason)
}

// FuncMatcher is a predicate matcher that bypasses compilation
// entirely, per spec §4.1. event is the optional event.Event the
// matcher may inspect; it can be nil when only the type is known.
type FuncMatcher func(eventType string, event any) bool

// Matcher tests event-type strings against a compiled pattern.
type Matcher struct {
	source string
	re     *regexp.Regexp // nil for a raw function matcher
	fn     FuncMatcher
}

// Source returns the original pattern string (empty for function
// matchers).
func (m *Matcher) Source() string { return m.source }

// Match reports whether eventType satisfies the matcher. event is
// passed through to function matchers only.
func (m *Matcher) Match(eventType string, event any) bool {
	if m.fn != nil {
		return m.fn(eventType, event)
	}
	return m.re.MatchString(eventType)
}

// cacheKey is (pattern, separator): patterns are compiled once at
// registration and cached, per spec §4.1.
type cacheKey struct {
	pattern   string
	separator byte
}

var (
	cacheMu sync.Mutex
	cache   = map[cacheKey]*regexp.Regexp{}
)

// CompileFunc wraps a predicate as a Matcher, bypassing compilation.
func CompileFunc(fn FuncMatcher) *Matcher {
	return &Matcher{fn: fn}
}

// Compile compiles a subscription pattern expression against the
// given separator byte (default '.' or '-', fixed per runtime). The
// global wildcard "*" matches every event. Empty alternatives or
// unterminated braces are CompilationErrors; the subscription is not
// installed (the caller must check the error before registering).
func Compile(expr string, separator byte) (*Matcher, error) {
	if expr == "" {
		return nil, &CompilationError{Pattern: expr, Reason: "empty pattern"}
	}
	if expr == "*" {
		re := regexp.MustCompile(`^.*$`)
		return &Matcher{source: expr, re: re}, nil
	}

	key := cacheKey{pattern: expr, separator: separator}
	cacheMu.Lock()
	if re, ok := cache[key]; ok {
		cacheMu.Unlock()
		return &Matcher{source: expr, re: re}, nil
	}
	cacheMu.Unlock()

	reSrc, err := translate(expr, separator)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(reSrc)
	if err != nil {
		return nil, &CompilationError{Pattern: expr, Reason: err.Error()}
	}

	cacheMu.Lock()
	cache[key] = re
	cacheMu.Unlock()

	return &Matcher{source: expr, re: re}, nil
}

// translate implements the spec §4.1 algorithm: escape regex
// metacharacters, transform {..} into non-capturing alternation,
// transform each * into a single-segment wildcard, anchor with ^…$.
func translate(expr string, separator byte) (string, error) {
	var out strings.Builder
	out.WriteByte('^')

	i := 0
	for i < len(expr) {
		c := expr[i]
		switch c {
		case '*':
			out.WriteString(fmt.Sprintf("([^%s]+)", regexp.QuoteMeta(string(separator))))
			i++
		case '{':
			end := strings.IndexByte(expr[i:], '}')
			if end == -1 {
				return "", &CompilationError{Pattern: expr, Reason: "unterminated brace"}
			}
			inner := expr[i+1 : i+end]
			alts := strings.Split(inner, ",")
			for idx, a := range alts {
				if strings.TrimSpace(a) == "" {
					return "", &CompilationError{Pattern: expr, Reason: "empty alternative in braces"}
				}
				alts[idx] = regexp.QuoteMeta(a)
			}
			out.WriteString("(?:")
			out.WriteString(strings.Join(alts, "|"))
			out.WriteString(")")
			i += end + 1
		case '}':
			return "", &CompilationError{Pattern: expr, Reason: "unmatched closing brace"}
		default:
			// accumulate a run of literal bytes and escape them in one go
			start := i
			for i < len(expr) && expr[i] != '*' && expr[i] != '{' && expr[i] != '}' {
				i++
			}
			out.WriteString(regexp.QuoteMeta(expr[start:i]))
		}
	}
	out.WriteByte('$')
	return out.String(), nil
}
