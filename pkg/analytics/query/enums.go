package query

import "strings"

type Kind string

const (
	KindGender             Kind = "gender"
	KindAgeRange           Kind = "age-range"
	KindProgramEnrollment  Kind = "program-enrollment"
	KindInProgram          Kind = "in-program"
	KindProgramState       Kind = "program-state"
	KindInState            Kind = "in-state"
	KindActiveDrugOrder    Kind = "active-drug-order"
	KindStartedDrugOrder   Kind = "started-drug-order"
	KindCompletedDrugOrder Kind = "completed-drug-order"
	KindObs                Kind = "obs"
	KindRangedObs          Kind = "ranged-obs"
	KindDiscreteObs        Kind = "discrete-obs"
	KindEncounter          Kind = "encounter"
	KindPersonAttribute    Kind = "person-attribute"
	KindBirthAndDeath      Kind = "birth-death"
	KindSQL                Kind = "sql"
	KindComposition        Kind = "composition"
)

type DurationUnit string

const (
	Days   DurationUnit = "DAYS"
	Weeks  DurationUnit = "WEEKS"
	Months DurationUnit = "MONTHS"
	Years  DurationUnit = "YEARS"
)

func (u DurationUnit) Valid() bool {
	switch u {
	case Days, Weeks, Months, Years:
		return true
	}
	return false
}

// OrDefault treats an unset unit as years.
func (u DurationUnit) OrDefault() DurationUnit {
	if u == "" {
		return Years
	}
	return DurationUnit(strings.ToUpper(string(u)))
}

// ApproxDays is used only to compare bounds expressed in different units.
func (u DurationUnit) ApproxDays() float64 {
	switch u.OrDefault() {
	case Days:
		return 1
	case Weeks:
		return 7
	case Months:
		return 365.25 / 12
	default:
		return 365.25
	}
}

// TimeModifier selects which of a subject's matching observations participate.
type TimeModifier string

const (
	Any   TimeModifier = "ANY"
	No    TimeModifier = "NO"
	First TimeModifier = "FIRST"
	Last  TimeModifier = "LAST"
	Min   TimeModifier = "MIN"
	Max   TimeModifier = "MAX"
)

func (m TimeModifier) Valid() bool {
	switch m {
	case Any, No, First, Last, Min, Max:
		return true
	}
	return false
}

func (m TimeModifier) OrDefault() TimeModifier {
	if m == "" {
		return Any
	}
	return TimeModifier(strings.ToUpper(string(m)))
}

type RangeComparator string

const (
	Equal        RangeComparator = "="
	NotEqual     RangeComparator = "!="
	LessThan     RangeComparator = "<"
	LessEqual    RangeComparator = "<="
	GreaterThan  RangeComparator = ">"
	GreaterEqual RangeComparator = ">="
)

func (c RangeComparator) Valid() bool {
	switch c {
	case Equal, NotEqual, LessThan, LessEqual, GreaterThan, GreaterEqual:
		return true
	}
	return false
}

// Holds reports whether cmp (the result of comparing left to right: -1, 0, 1) satisfies c.
func (c RangeComparator) Holds(cmp int) bool {
	switch c {
	case Equal:
		return cmp == 0
	case NotEqual:
		return cmp != 0
	case LessThan:
		return cmp < 0
	case LessEqual:
		return cmp <= 0
	case GreaterThan:
		return cmp > 0
	case GreaterEqual:
		return cmp >= 0
	}
	return false
}

type SetComparator string

const (
	In    SetComparator = "IN"
	NotIn SetComparator = "NOT IN"
)

func (c SetComparator) Valid() bool {
	return c == In || c == NotIn
}

// Modifier is the single comparator accepted by the legacy observation query.
type Modifier string

const (
	ModLessThan     Modifier = "<"
	ModLessEqual    Modifier = "<="
	ModEqual        Modifier = "="
	ModNotEqual     Modifier = "!="
	ModGreaterEqual Modifier = ">="
	ModGreaterThan  Modifier = ">"
	ModLike         Modifier = "LIKE"
)

func (m Modifier) Valid() bool {
	switch m {
	case ModLessThan, ModLessEqual, ModEqual, ModNotEqual, ModGreaterEqual, ModGreaterThan, ModLike:
		return true
	}
	return false
}

// Comparator maps every modifier except LIKE onto a range comparator.
func (m Modifier) Comparator() (RangeComparator, bool) {
	if m == ModLike {
		return "", false
	}
	c := RangeComparator(m)
	return c, c.Valid()
}

type BooleanOperator string

const (
	And BooleanOperator = "AND"
	Or  BooleanOperator = "OR"
	Not BooleanOperator = "NOT"
)
