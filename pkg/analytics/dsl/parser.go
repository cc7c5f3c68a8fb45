package dsl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synaptica-ai/reporting/pkg/analytics/query"
)

// ErrEmptyQuery is returned by Bind for blank query text.
var ErrEmptyQuery = errors.New("dsl: empty query")

// ParseError reports a malformed parameter token or literal.
type ParseError struct {
	Token  string
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dsl: %s %q at position %d", e.Reason, e.Token, e.Pos)
}

type token struct {
	name  string
	start int
	end   int
}

// ParseSQL returns the named :parameters referenced by sql, in order of first
// occurrence. Casts (::type), quoted text and comments are skipped.
func ParseSQL(sql string) ([]query.Parameter, error) {
	params := []query.Parameter{}
	if strings.TrimSpace(sql) == "" {
		return params, nil
	}
	tokens, err := scan(sql)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok.name]; ok {
			continue
		}
		seen[tok.name] = struct{}{}
		params = append(params, query.Parameter{
			Name:  tok.name,
			Label: tok.name,
			Type:  inferType(tok.name),
		})
	}
	return params, nil
}

func scan(sql string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			j := i + 1
			for {
				if j >= len(sql) {
					return nil, &ParseError{Token: snippet(sql[i:]), Pos: i, Reason: "unterminated literal"}
				}
				if sql[j] == c {
					// a doubled quote is an escaped quote
					if j+1 < len(sql) && sql[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			i = j
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			nl := strings.IndexByte(sql[i:], '\n')
			if nl < 0 {
				return tokens, nil
			}
			i += nl
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			closing := strings.Index(sql[i+2:], "*/")
			if closing < 0 {
				return nil, &ParseError{Token: snippet(sql[i:]), Pos: i, Reason: "unterminated comment"}
			}
			i += closing + 3
		case c == ':':
			if i+1 < len(sql) && sql[i+1] == ':' {
				i++
				continue
			}
			j := i + 1
			if j >= len(sql) || !isIdentStart(sql[j]) {
				return nil, &ParseError{Token: snippet(sql[i:]), Pos: i, Reason: "invalid parameter token"}
			}
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			tokens = append(tokens, token{name: sql[i+1 : j], start: i, end: j})
			i = j - 1
		}
	}
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func snippet(s string) string {
	if end := strings.IndexAny(s, " \t\r\n,)"); end > 0 {
		s = s[:end]
	}
	if len(s) > 24 {
		s = s[:24]
	}
	return s
}

func inferType(name string) query.ParameterType {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "date"):
		return query.DateParameter
	case hasAnySuffix(lower, "start", "end", "after", "before"):
		return query.DateParameter
	case hasAnySuffix(lower, "id", "count", "age"):
		return query.IntegerParameter
	}
	return query.StringParameter
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
