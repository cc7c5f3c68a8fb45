package query

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestRangedObsQueryValidation(t *testing.T) {
	numeric := NumericValue(10)
	date := DateValue(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	coded := CodedValue(1065)
	nan := NumericValue(math.NaN())
	inf := NumericValue(math.Inf(1))

	cases := []struct {
		name    string
		query   RangedObsQuery
		wantErr bool
	}{
		{"presence only", RangedObsQuery{QuestionID: 5089}, false},
		{"numeric bound", RangedObsQuery{QuestionID: 5089, Operator1: GreaterEqual, Value1: &numeric}, false},
		{"second slot alone", RangedObsQuery{QuestionID: 5089, Operator2: LessThan, Value2: &date}, false},
		{"missing question", RangedObsQuery{Operator1: Equal, Value1: &numeric}, true},
		{"mixed kinds", RangedObsQuery{QuestionID: 5089, Operator1: GreaterThan, Value1: &numeric, Operator2: LessThan, Value2: &date}, true},
		{"coded value", RangedObsQuery{QuestionID: 5089, Operator1: Equal, Value1: &coded}, true},
		{"operator without value", RangedObsQuery{QuestionID: 5089, Operator1: Equal}, true},
		{"unknown comparator", RangedObsQuery{QuestionID: 5089, Operator1: "~", Value1: &numeric}, true},
		{"unknown modifier", RangedObsQuery{QuestionID: 5089, TimeModifier: "AVG"}, true},
		{"nan bound", RangedObsQuery{QuestionID: 5089, Operator1: GreaterEqual, Value1: &nan}, true},
		{"infinite bound", RangedObsQuery{QuestionID: 5089, Operator2: LessThan, Value2: &inf}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRangedObsQuery(tc.query)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidSpecification) {
					t.Fatalf("expected invalid specification error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDiscreteObsQueryValidation(t *testing.T) {
	if _, err := NewDiscreteObsQuery(DiscreteObsQuery{QuestionID: 1, TimeModifier: Max, Operator: In, Values: []Value{CodedValue(2)}}); err == nil {
		t.Fatal("expected MAX to be rejected for discrete values")
	}
	if _, err := NewDiscreteObsQuery(DiscreteObsQuery{QuestionID: 1, Operator: In, Values: []Value{CodedValue(2), TextValue("x")}}); err == nil {
		t.Fatal("expected mixed coded and text values to be rejected")
	}
	if _, err := NewDiscreteObsQuery(DiscreteObsQuery{QuestionID: 1, Operator: In, Values: []Value{NumericValue(2)}}); err == nil {
		t.Fatal("expected numeric values to be rejected")
	}
	q, err := NewDiscreteObsQuery(DiscreteObsQuery{QuestionID: 1, Operator: NotIn, Values: []Value{TextValue("a"), TextValue("b")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.ValueKind() != TextKind {
		t.Fatalf("expected text kind, got %s", q.ValueKind())
	}
}

func TestNewDiscreteObsQueryCopiesSlices(t *testing.T) {
	values := []Value{CodedValue(1)}
	q, err := NewDiscreteObsQuery(DiscreteObsQuery{QuestionID: 1, Operator: In, Values: values})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	values[0] = CodedValue(99)
	if id, _ := q.Values[0].Coded(); id != 1 {
		t.Fatalf("query should not alias the caller's slice, got %d", id)
	}
}

func TestObsQueryValidation(t *testing.T) {
	text := TextValue("pos%")
	numeric := NumericValue(3)
	if err := (ObsQuery{ConceptID: 1, Modifier: ModLike, Value: &text}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (ObsQuery{ConceptID: 1, Modifier: ModLike, Value: &numeric}).Validate(); err == nil {
		t.Fatal("expected LIKE on numeric value to fail")
	}
	if err := (ObsQuery{ConceptID: 1, Modifier: ModGreaterThan}).Validate(); err == nil {
		t.Fatal("expected modifier without value to fail")
	}
	if err := (ObsQuery{ConceptID: 1, Modifier: ModGreaterThan, Value: &text}).Validate(); err == nil {
		t.Fatal("expected ordering comparison on text to fail")
	}
	nan := NumericValue(math.NaN())
	if err := (ObsQuery{ConceptID: 1, Modifier: ModGreaterThan, Value: &nan}).Validate(); !errors.Is(err, ErrInvalidSpecification) {
		t.Fatalf("expected NaN value to be rejected, got %v", err)
	}
}

func TestAgeRangeEmptyWindow(t *testing.T) {
	q := AgeRangeQuery{MinAge: Ptr(5), MinAgeUnit: Years, MaxAge: Ptr(24), MaxAgeUnit: Months}
	if !q.EmptyWindow() {
		t.Fatal("5 years exceeds 24 months")
	}
	q = AgeRangeQuery{MinAge: Ptr(1), MaxAge: Ptr(13), MaxAgeUnit: Months}
	if q.EmptyWindow() {
		t.Fatal("1 year is within 13 months")
	}
	if err := (AgeRangeQuery{MinAge: Ptr(-1)}).Validate(); err == nil {
		t.Fatal("expected negative age to fail")
	}
}

func TestCompositionValidation(t *testing.T) {
	if err := (CompositionQuery{Operator: Not, Queries: []Specification{GenderQuery{}, GenderQuery{}}}).Validate(); err == nil {
		t.Fatal("NOT with two operands should fail")
	}
	if err := AllOf().Validate(); err == nil {
		t.Fatal("empty AND should fail")
	}
	bad := AllOf(GenderQuery{Males: true}, RangedObsQuery{})
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSpecification) {
		t.Fatalf("expected nested validation error, got %v", err)
	}
}
