package query

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidSpecification = errors.New("invalid query specification")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpecification, fmt.Sprintf(format, args...))
}

// Specification is an immutable description of a population filter. The set
// of implementations is closed; the evaluator switches on the concrete type.
type Specification interface {
	Kind() Kind
	Validate() error
	isSpecification()
}

func Ptr[T any](v T) *T { return &v }

// GenderQuery matches subjects whose gender is in any of the enabled groups.
type GenderQuery struct {
	Males   bool `json:"males"`
	Females bool `json:"females"`
	Unknown bool `json:"unknown"`
}

func (GenderQuery) Kind() Kind       { return KindGender }
func (GenderQuery) Validate() error  { return nil }
func (GenderQuery) isSpecification() {}

// AgeRangeQuery matches subjects whose age at EffectiveDate (default now) lies
// within the bounds. Nil bounds are open.
type AgeRangeQuery struct {
	MinAge             *int         `json:"min_age,omitempty"`
	MinAgeUnit         DurationUnit `json:"min_age_unit,omitempty"`
	MaxAge             *int         `json:"max_age,omitempty"`
	MaxAgeUnit         DurationUnit `json:"max_age_unit,omitempty"`
	UnknownAgeIncluded bool         `json:"unknown_age_included"`
	EffectiveDate      *time.Time   `json:"effective_date,omitempty"`
}

func (AgeRangeQuery) Kind() Kind { return KindAgeRange }

func (q AgeRangeQuery) Validate() error {
	if q.MinAge != nil && *q.MinAge < 0 {
		return invalid("min age %d is negative", *q.MinAge)
	}
	if q.MaxAge != nil && *q.MaxAge < 0 {
		return invalid("max age %d is negative", *q.MaxAge)
	}
	if !q.MinAgeUnit.OrDefault().Valid() {
		return invalid("unknown duration unit %q", q.MinAgeUnit)
	}
	if !q.MaxAgeUnit.OrDefault().Valid() {
		return invalid("unknown duration unit %q", q.MaxAgeUnit)
	}
	return nil
}

// EmptyWindow reports whether the lower bound exceeds the upper bound once both
// are expressed in days.
func (q AgeRangeQuery) EmptyWindow() bool {
	if q.MinAge == nil || q.MaxAge == nil {
		return false
	}
	return float64(*q.MinAge)*q.MinAgeUnit.ApproxDays() > float64(*q.MaxAge)*q.MaxAgeUnit.ApproxDays()
}

func (AgeRangeQuery) isSpecification() {}

// ProgramEnrollmentQuery matches subjects with at least one enrollment in one
// of ProgramIDs (any program when empty) satisfying every supplied bound.
type ProgramEnrollmentQuery struct {
	ProgramIDs          []int64    `json:"program_ids,omitempty"`
	EnrolledOnOrAfter   *time.Time `json:"enrolled_on_or_after,omitempty"`
	EnrolledOnOrBefore  *time.Time `json:"enrolled_on_or_before,omitempty"`
	CompletedOnOrAfter  *time.Time `json:"completed_on_or_after,omitempty"`
	CompletedOnOrBefore *time.Time `json:"completed_on_or_before,omitempty"`
}

func (ProgramEnrollmentQuery) Kind() Kind       { return KindProgramEnrollment }
func (ProgramEnrollmentQuery) Validate() error  { return nil }
func (ProgramEnrollmentQuery) isSpecification() {}

// InProgramQuery matches subjects enrolled at any time within the window.
type InProgramQuery struct {
	ProgramIDs []int64    `json:"program_ids,omitempty"`
	OnOrAfter  *time.Time `json:"on_or_after,omitempty"`
	OnOrBefore *time.Time `json:"on_or_before,omitempty"`
}

func (InProgramQuery) Kind() Kind       { return KindInProgram }
func (InProgramQuery) Validate() error  { return nil }
func (InProgramQuery) isSpecification() {}

type ProgramStateQuery struct {
	StateIDs          []int64    `json:"state_ids,omitempty"`
	StartedOnOrAfter  *time.Time `json:"started_on_or_after,omitempty"`
	StartedOnOrBefore *time.Time `json:"started_on_or_before,omitempty"`
	EndedOnOrAfter    *time.Time `json:"ended_on_or_after,omitempty"`
	EndedOnOrBefore   *time.Time `json:"ended_on_or_before,omitempty"`
}

func (ProgramStateQuery) Kind() Kind       { return KindProgramState }
func (ProgramStateQuery) Validate() error  { return nil }
func (ProgramStateQuery) isSpecification() {}

type InStateQuery struct {
	StateIDs   []int64    `json:"state_ids,omitempty"`
	OnOrAfter  *time.Time `json:"on_or_after,omitempty"`
	OnOrBefore *time.Time `json:"on_or_before,omitempty"`
}

func (InStateQuery) Kind() Kind       { return KindInState }
func (InStateQuery) Validate() error  { return nil }
func (InStateQuery) isSpecification() {}

// ActiveDrugOrderQuery matches subjects with an order for one of DrugIDs (any
// drug when empty) active on AsOfDate (default now).
type ActiveDrugOrderQuery struct {
	DrugIDs  []int64    `json:"drug_ids,omitempty"`
	AsOfDate *time.Time `json:"as_of_date,omitempty"`
}

func (ActiveDrugOrderQuery) Kind() Kind       { return KindActiveDrugOrder }
func (ActiveDrugOrderQuery) Validate() error  { return nil }
func (ActiveDrugOrderQuery) isSpecification() {}

type StartedDrugOrderQuery struct {
	DrugIDs           []int64    `json:"drug_ids,omitempty"`
	DrugSetConceptIDs []int64    `json:"drug_set_concept_ids,omitempty"`
	OnOrAfter         *time.Time `json:"on_or_after,omitempty"`
	OnOrBefore        *time.Time `json:"on_or_before,omitempty"`
}

func (StartedDrugOrderQuery) Kind() Kind       { return KindStartedDrugOrder }
func (StartedDrugOrderQuery) Validate() error  { return nil }
func (StartedDrugOrderQuery) isSpecification() {}

type CompletedDrugOrderQuery struct {
	DrugIDs           []int64    `json:"drug_ids,omitempty"`
	DrugSetConceptIDs []int64    `json:"drug_set_concept_ids,omitempty"`
	OnOrAfter         *time.Time `json:"on_or_after,omitempty"`
	OnOrBefore        *time.Time `json:"on_or_before,omitempty"`
}

func (CompletedDrugOrderQuery) Kind() Kind       { return KindCompletedDrugOrder }
func (CompletedDrugOrderQuery) Validate() error  { return nil }
func (CompletedDrugOrderQuery) isSpecification() {}

// ObsQuery is the single-comparator observation filter. Without a modifier it
// only requires the observation to exist.
type ObsQuery struct {
	ConceptID       int64        `json:"concept_id"`
	TimeModifier    TimeModifier `json:"time_modifier,omitempty"`
	Modifier        Modifier     `json:"modifier,omitempty"`
	Value           *Value       `json:"value,omitempty"`
	FromDate        *time.Time   `json:"from_date,omitempty"`
	ToDate          *time.Time   `json:"to_date,omitempty"`
	ProviderIDs     []int64      `json:"provider_ids,omitempty"`
	EncounterTypeID *int64       `json:"encounter_type_id,omitempty"`
}

func (ObsQuery) Kind() Kind { return KindObs }

func (q ObsQuery) Validate() error {
	if q.ConceptID <= 0 {
		return invalid("obs query requires a concept")
	}
	tm := q.TimeModifier.OrDefault()
	if !tm.Valid() {
		return invalid("unknown time modifier %q", q.TimeModifier)
	}
	if (q.Modifier == "") != (q.Value == nil) {
		return invalid("obs query modifier and value must be supplied together")
	}
	if q.Value == nil {
		return nil
	}
	if err := q.Value.Validate(); err != nil {
		return err
	}
	if !q.Modifier.Valid() {
		return invalid("unknown modifier %q", q.Modifier)
	}
	if q.Modifier == ModLike && q.Value.Kind() != TextKind {
		return invalid("LIKE requires a text value, got %s", q.Value.Kind())
	}
	if (tm == Min || tm == Max) && !q.Value.IsRanged() {
		return invalid("%s requires a numeric or date value", tm)
	}
	if q.Value.IsDiscrete() && q.Modifier != ModEqual && q.Modifier != ModNotEqual && q.Modifier != ModLike {
		return invalid("modifier %q cannot compare %s values", q.Modifier, q.Value.Kind())
	}
	return nil
}

func (ObsQuery) isSpecification() {}

// RangedObsQuery compares numeric or date observation values. The kind of the
// first non-nil value selects the compared column.
type RangedObsQuery struct {
	TimeModifier      TimeModifier    `json:"time_modifier,omitempty"`
	QuestionID        int64           `json:"question_id"`
	GroupingConceptID *int64          `json:"grouping_concept_id,omitempty"`
	OnOrAfter         *time.Time      `json:"on_or_after,omitempty"`
	OnOrBefore        *time.Time      `json:"on_or_before,omitempty"`
	LocationIDs       []int64         `json:"location_ids,omitempty"`
	EncounterTypeIDs  []int64         `json:"encounter_type_ids,omitempty"`
	Operator1         RangeComparator `json:"operator1,omitempty"`
	Value1            *Value          `json:"value1,omitempty"`
	Operator2         RangeComparator `json:"operator2,omitempty"`
	Value2            *Value          `json:"value2,omitempty"`
}

// NewRangedObsQuery builds and validates a ranged observation query.
func NewRangedObsQuery(q RangedObsQuery) (RangedObsQuery, error) {
	q.LocationIDs = append([]int64(nil), q.LocationIDs...)
	q.EncounterTypeIDs = append([]int64(nil), q.EncounterTypeIDs...)
	return q, q.Validate()
}

func (RangedObsQuery) Kind() Kind { return KindRangedObs }

func (q RangedObsQuery) Validate() error {
	if q.QuestionID <= 0 {
		return invalid("ranged obs query requires a question concept")
	}
	if !q.TimeModifier.OrDefault().Valid() {
		return invalid("unknown time modifier %q", q.TimeModifier)
	}
	if err := validateRangedSlot(q.Operator1, q.Value1); err != nil {
		return err
	}
	if err := validateRangedSlot(q.Operator2, q.Value2); err != nil {
		return err
	}
	if q.Value1 != nil && q.Value2 != nil && q.Value1.Kind() != q.Value2.Kind() {
		return invalid("ranged obs values must share a kind, got %s and %s", q.Value1.Kind(), q.Value2.Kind())
	}
	return nil
}

// ValueKind returns the kind of value compared, or "" when the query has no comparison.
func (q RangedObsQuery) ValueKind() ValueKind {
	if q.Value1 != nil {
		return q.Value1.Kind()
	}
	if q.Value2 != nil {
		return q.Value2.Kind()
	}
	return ""
}

func validateRangedSlot(op RangeComparator, v *Value) error {
	if v == nil {
		if op != "" {
			return invalid("operator %q has no value", op)
		}
		return nil
	}
	if !op.Valid() {
		return invalid("unknown range comparator %q", op)
	}
	if !v.IsRanged() {
		return invalid("ranged obs query cannot compare %s values", v.Kind())
	}
	return v.Validate()
}

func (RangedObsQuery) isSpecification() {}

// DiscreteObsQuery tests set membership over coded or text observation values.
type DiscreteObsQuery struct {
	TimeModifier      TimeModifier  `json:"time_modifier,omitempty"`
	QuestionID        int64         `json:"question_id"`
	GroupingConceptID *int64        `json:"grouping_concept_id,omitempty"`
	OnOrAfter         *time.Time    `json:"on_or_after,omitempty"`
	OnOrBefore        *time.Time    `json:"on_or_before,omitempty"`
	LocationIDs       []int64       `json:"location_ids,omitempty"`
	EncounterTypeIDs  []int64       `json:"encounter_type_ids,omitempty"`
	Operator          SetComparator `json:"operator,omitempty"`
	Values            []Value       `json:"values,omitempty"`
}

func NewDiscreteObsQuery(q DiscreteObsQuery) (DiscreteObsQuery, error) {
	q.LocationIDs = append([]int64(nil), q.LocationIDs...)
	q.EncounterTypeIDs = append([]int64(nil), q.EncounterTypeIDs...)
	q.Values = append([]Value(nil), q.Values...)
	return q, q.Validate()
}

func (DiscreteObsQuery) Kind() Kind { return KindDiscreteObs }

func (q DiscreteObsQuery) Validate() error {
	if q.QuestionID <= 0 {
		return invalid("discrete obs query requires a question concept")
	}
	tm := q.TimeModifier.OrDefault()
	if !tm.Valid() {
		return invalid("unknown time modifier %q", q.TimeModifier)
	}
	if tm == Min || tm == Max {
		return invalid("%s is undefined for coded and text values", tm)
	}
	if len(q.Values) == 0 {
		return nil
	}
	if !q.Operator.Valid() {
		return invalid("unknown set comparator %q", q.Operator)
	}
	kind := q.Values[0].Kind()
	for _, v := range q.Values {
		if !v.IsDiscrete() {
			return invalid("discrete obs query cannot compare %s values", v.Kind())
		}
		if v.Kind() != kind {
			return invalid("discrete obs values must share a kind, got %s and %s", kind, v.Kind())
		}
	}
	return nil
}

func (q DiscreteObsQuery) ValueKind() ValueKind {
	if len(q.Values) == 0 {
		return ""
	}
	return q.Values[0].Kind()
}

func (DiscreteObsQuery) isSpecification() {}

// EncounterQuery matches subjects whose count of qualifying encounters lies in
// [AtLeastCount, AtMostCount]. With both counts nil at least one is required.
type EncounterQuery struct {
	OnOrAfter        *time.Time `json:"on_or_after,omitempty"`
	OnOrBefore       *time.Time `json:"on_or_before,omitempty"`
	LocationIDs      []int64    `json:"location_ids,omitempty"`
	EncounterTypeIDs []int64    `json:"encounter_type_ids,omitempty"`
	FormIDs          []int64    `json:"form_ids,omitempty"`
	AtLeastCount     *int       `json:"at_least_count,omitempty"`
	AtMostCount      *int       `json:"at_most_count,omitempty"`
}

func (EncounterQuery) Kind() Kind { return KindEncounter }

func (q EncounterQuery) Validate() error {
	if q.AtLeastCount != nil && *q.AtLeastCount < 0 {
		return invalid("at least count %d is negative", *q.AtLeastCount)
	}
	if q.AtMostCount != nil && *q.AtMostCount < 0 {
		return invalid("at most count %d is negative", *q.AtMostCount)
	}
	return nil
}

func (EncounterQuery) isSpecification() {}

// PersonAttributeQuery matches subjects having an attribute of AttributeTypeID
// (any type when nil) whose value is one of Values (any value when empty).
// Values compare case-insensitively.
type PersonAttributeQuery struct {
	AttributeTypeID *int64   `json:"attribute_type_id,omitempty"`
	Values          []string `json:"values,omitempty"`
}

func (PersonAttributeQuery) Kind() Kind       { return KindPersonAttribute }
func (PersonAttributeQuery) Validate() error  { return nil }
func (PersonAttributeQuery) isSpecification() {}

type BirthAndDeathQuery struct {
	BornOnOrAfter  *time.Time `json:"born_on_or_after,omitempty"`
	BornOnOrBefore *time.Time `json:"born_on_or_before,omitempty"`
	DiedOnOrAfter  *time.Time `json:"died_on_or_after,omitempty"`
	DiedOnOrBefore *time.Time `json:"died_on_or_before,omitempty"`
}

func (BirthAndDeathQuery) Kind() Kind       { return KindBirthAndDeath }
func (BirthAndDeathQuery) Validate() error  { return nil }
func (BirthAndDeathQuery) isSpecification() {}

// SQLQuery is the raw escape hatch: store-native query text selecting subject
// ids, with named :parameters bound from Parameters.
type SQLQuery struct {
	Query      string                 `json:"query"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

func (SQLQuery) Kind() Kind       { return KindSQL }
func (SQLQuery) Validate() error  { return nil }
func (SQLQuery) isSpecification() {}

// CompositionQuery combines other specifications: AND intersects, OR unions,
// NOT complements its single operand within the evaluation scope.
type CompositionQuery struct {
	Operator BooleanOperator
	Queries  []Specification
}

func AllOf(specs ...Specification) CompositionQuery {
	return CompositionQuery{Operator: And, Queries: specs}
}

func AnyOf(specs ...Specification) CompositionQuery {
	return CompositionQuery{Operator: Or, Queries: specs}
}

func NoneOf(spec Specification) CompositionQuery {
	return CompositionQuery{Operator: Not, Queries: []Specification{spec}}
}

func (CompositionQuery) Kind() Kind { return KindComposition }

func (q CompositionQuery) Validate() error {
	switch q.Operator {
	case And, Or:
		if len(q.Queries) == 0 {
			return invalid("%s composition needs at least one query", q.Operator)
		}
	case Not:
		if len(q.Queries) != 1 {
			return invalid("NOT composition needs exactly one query, got %d", len(q.Queries))
		}
	default:
		return invalid("unknown boolean operator %q", q.Operator)
	}
	for i, child := range q.Queries {
		if child == nil {
			return invalid("composition query %d is nil", i)
		}
		if err := child.Validate(); err != nil {
			return fmt.Errorf("composition query %d: %w", i, err)
		}
	}
	return nil
}

func (CompositionQuery) isSpecification() {}
