package dsl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/reporting/pkg/analytics/query"
)

// BindingError names a parameter the query references but no value was supplied for.
type BindingError struct {
	Name string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("dsl: no value bound for parameter %q", e.Name)
}

// Bound is a query whose :name tokens were rewritten to @name named arguments.
type Bound struct {
	SQL        string
	Parameters []query.Parameter
	Args       map[string]interface{}
}

// Bind parses sql, checks that every parameter has a value and coerces values
// to the inferred parameter types where the conversion is lossless.
func Bind(sql string, values map[string]interface{}) (Bound, error) {
	if strings.TrimSpace(sql) == "" {
		return Bound{}, ErrEmptyQuery
	}
	tokens, err := scan(sql)
	if err != nil {
		return Bound{}, err
	}
	params, err := ParseSQL(sql)
	if err != nil {
		return Bound{}, err
	}

	args := make(map[string]interface{}, len(params))
	for _, p := range params {
		value, ok := values[p.Name]
		if !ok {
			return Bound{}, &BindingError{Name: p.Name}
		}
		args[p.Name] = coerce(p.Type, value)
	}

	var b strings.Builder
	last := 0
	for _, tok := range tokens {
		b.WriteString(sql[last:tok.start])
		b.WriteByte('@')
		b.WriteString(tok.name)
		last = tok.end
	}
	b.WriteString(sql[last:])

	return Bound{SQL: b.String(), Parameters: params, Args: args}, nil
}

func coerce(kind query.ParameterType, value interface{}) interface{} {
	switch kind {
	case query.DateParameter:
		switch v := value.(type) {
		case string:
			if t, err := query.ParseDate(v); err == nil {
				return t
			}
		case *time.Time:
			if v != nil {
				return *v
			}
		}
	case query.IntegerParameter:
		switch v := value.(type) {
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		case float64:
			if v == math.Trunc(v) {
				return int64(v)
			}
		}
	}
	return value
}
