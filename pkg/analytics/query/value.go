package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

type ValueKind string

const (
	NumericKind ValueKind = "numeric"
	DateKind    ValueKind = "date"
	CodedKind   ValueKind = "coded"
	TextKind    ValueKind = "text"
)

// Value is an observation value whose kind is fixed when it is built, so a
// query knows which value column it compares before it is evaluated.
type Value struct {
	kind    ValueKind
	numeric float64
	date    time.Time
	coded   int64
	text    string
}

func NumericValue(v float64) Value { return Value{kind: NumericKind, numeric: v} }
func DateValue(t time.Time) Value  { return Value{kind: DateKind, date: t} }
func CodedValue(id int64) Value    { return Value{kind: CodedKind, coded: id} }
func TextValue(s string) Value     { return Value{kind: TextKind, text: s} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) Numeric() (float64, bool) { return v.numeric, v.kind == NumericKind }
func (v Value) Date() (time.Time, bool)  { return v.date, v.kind == DateKind }
func (v Value) Coded() (int64, bool)     { return v.coded, v.kind == CodedKind }
func (v Value) Text() (string, bool)     { return v.text, v.kind == TextKind }

func (v Value) IsRanged() bool   { return v.kind == NumericKind || v.kind == DateKind }
func (v Value) IsDiscrete() bool { return v.kind == CodedKind || v.kind == TextKind }

// Validate rejects numeric values that cannot be compared or encoded.
func (v Value) Validate() error {
	if v.kind == NumericKind && (math.IsNaN(v.numeric) || math.IsInf(v.numeric, 0)) {
		return invalid("numeric value %v is not finite", v.numeric)
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case NumericKind:
		return fmt.Sprintf("%g", v.numeric)
	case DateKind:
		return v.date.UTC().Format(time.RFC3339)
	case CodedKind:
		return fmt.Sprintf("concept:%d", v.coded)
	case TextKind:
		return v.text
	}
	return ""
}

type valueJSON struct {
	Kind  ValueKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var raw interface{}
	switch v.kind {
	case NumericKind:
		raw = v.numeric
	case DateKind:
		raw = v.date.UTC().Format(time.RFC3339Nano)
	case CodedKind:
		raw = v.coded
	case TextKind:
		raw = v.text
	default:
		return nil, fmt.Errorf("%w: value has no kind", ErrInvalidSpecification)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.kind, Value: encoded})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var payload valueJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	switch ValueKind(strings.ToLower(string(payload.Kind))) {
	case NumericKind:
		var n float64
		if err := json.Unmarshal(payload.Value, &n); err != nil {
			return fmt.Errorf("%w: numeric value: %v", ErrInvalidSpecification, err)
		}
		*v = NumericValue(n)
	case DateKind:
		var s string
		if err := json.Unmarshal(payload.Value, &s); err != nil {
			return fmt.Errorf("%w: date value: %v", ErrInvalidSpecification, err)
		}
		t, err := ParseDate(s)
		if err != nil {
			return fmt.Errorf("%w: date value: %v", ErrInvalidSpecification, err)
		}
		*v = DateValue(t)
	case CodedKind:
		var id int64
		if err := json.Unmarshal(payload.Value, &id); err != nil {
			return fmt.Errorf("%w: coded value: %v", ErrInvalidSpecification, err)
		}
		*v = CodedValue(id)
	case TextKind:
		var s string
		if err := json.Unmarshal(payload.Value, &s); err != nil {
			return fmt.Errorf("%w: text value: %v", ErrInvalidSpecification, err)
		}
		*v = TextValue(s)
	default:
		return fmt.Errorf("%w: unknown value kind %q", ErrInvalidSpecification, payload.Kind)
	}
	return nil
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// ParseDate accepts RFC3339 timestamps and plain dates, interpreted as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
