package cohort

import (
	"context"
	"regexp"
	"strings"

	"github.com/synaptica-ai/reporting/pkg/analytics/query"
	"github.com/synaptica-ai/reporting/pkg/common/models"
	"github.com/synaptica-ai/reporting/pkg/storage"
)

// obsColumn is the value column an observation predicate reads. Observations
// without a value in the column never satisfy a comparison.
type obsColumn struct {
	has     func(models.Obs) bool
	compare func(o models.Obs, v query.Value) int
	// order ranks two observations holding a value; nil for unordered columns.
	order func(a, b models.Obs) int
}

var columns = map[query.ValueKind]obsColumn{
	query.NumericKind: {
		has: func(o models.Obs) bool { return o.ValueNumeric != nil },
		compare: func(o models.Obs, v query.Value) int {
			want, _ := v.Numeric()
			return compareOrdered(*o.ValueNumeric, want)
		},
		order: func(a, b models.Obs) int { return compareOrdered(*a.ValueNumeric, *b.ValueNumeric) },
	},
	query.DateKind: {
		has: func(o models.Obs) bool { return o.ValueDatetime != nil },
		compare: func(o models.Obs, v query.Value) int {
			want, _ := v.Date()
			return o.ValueDatetime.Compare(want)
		},
		order: func(a, b models.Obs) int { return a.ValueDatetime.Compare(*b.ValueDatetime) },
	},
	query.CodedKind: {
		has: func(o models.Obs) bool { return o.ValueCoded != nil },
		compare: func(o models.Obs, v query.Value) int {
			want, _ := v.Coded()
			return compareOrdered(*o.ValueCoded, want)
		},
	},
	query.TextKind: {
		has: func(o models.Obs) bool { return o.ValueText != nil },
		compare: func(o models.Obs, v query.Value) int {
			want, _ := v.Text()
			return strings.Compare(normalizeText(*o.ValueText), normalizeText(want))
		},
	},
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// obsPredicate decides whether the observation(s) selected by the time
// modifier satisfy a query. A nil column means existence is enough.
type obsPredicate struct {
	column *obsColumn
	test   func(models.Obs) bool
}

func (p obsPredicate) holds(o models.Obs) bool {
	if p.column == nil {
		return true
	}
	return p.column.has(o) && p.test(o)
}

func (e *evaluation) obs(ctx context.Context, q query.ObsQuery) (*Cohort, error) {
	filter := storage.ObsFilter{
		ConceptIDs:  []int64{q.ConceptID},
		Window:      window(q.FromDate, q.ToDate),
		ProviderIDs: q.ProviderIDs,
	}
	if q.EncounterTypeID != nil {
		filter.EncounterTypeIDs = []int64{*q.EncounterTypeID}
	}
	var pred obsPredicate
	if q.Value != nil {
		col := columns[q.Value.Kind()]
		value := *q.Value
		pred.column = &col
		if q.Modifier == query.ModLike {
			pattern, _ := value.Text()
			re := likePattern(pattern)
			pred.test = func(o models.Obs) bool { return re.MatchString(*o.ValueText) }
		} else {
			cmp, _ := q.Modifier.Comparator()
			pred.test = func(o models.Obs) bool { return cmp.Holds(col.compare(o, value)) }
		}
	}
	return e.observations(ctx, filter, q.TimeModifier.OrDefault(), pred)
}

func (e *evaluation) rangedObs(ctx context.Context, q query.RangedObsQuery) (*Cohort, error) {
	filter := storage.ObsFilter{
		ConceptIDs:       []int64{q.QuestionID},
		Window:           window(q.OnOrAfter, q.OnOrBefore),
		LocationIDs:      q.LocationIDs,
		EncounterTypeIDs: q.EncounterTypeIDs,
		GroupConceptID:   q.GroupingConceptID,
	}
	var pred obsPredicate
	if kind := q.ValueKind(); kind != "" {
		col := columns[kind]
		pred.column = &col
		pred.test = func(o models.Obs) bool {
			if q.Value1 != nil && !q.Operator1.Holds(col.compare(o, *q.Value1)) {
				return false
			}
			if q.Value2 != nil && !q.Operator2.Holds(col.compare(o, *q.Value2)) {
				return false
			}
			return true
		}
	}
	return e.observations(ctx, filter, q.TimeModifier.OrDefault(), pred)
}

func (e *evaluation) discreteObs(ctx context.Context, q query.DiscreteObsQuery) (*Cohort, error) {
	filter := storage.ObsFilter{
		ConceptIDs:       []int64{q.QuestionID},
		Window:           window(q.OnOrAfter, q.OnOrBefore),
		LocationIDs:      q.LocationIDs,
		EncounterTypeIDs: q.EncounterTypeIDs,
		GroupConceptID:   q.GroupingConceptID,
	}
	var pred obsPredicate
	if kind := q.ValueKind(); kind != "" {
		col := columns[kind]
		values := append([]query.Value(nil), q.Values...)
		negate := q.Operator == query.NotIn
		pred.column = &col
		pred.test = func(o models.Obs) bool {
			found := false
			for _, v := range values {
				if col.compare(o, v) == 0 {
					found = true
					break
				}
			}
			return found != negate
		}
	}
	return e.observations(ctx, filter, q.TimeModifier.OrDefault(), pred)
}

// observations groups the narrowed observations by person, picks the
// participating observation(s) per the time modifier and applies pred.
func (e *evaluation) observations(ctx context.Context, filter storage.ObsFilter, tm query.TimeModifier, pred obsPredicate) (*Cohort, error) {
	rows, err := e.svc.store.Observations(ctx, filter)
	if err != nil {
		return nil, err
	}
	byPerson := make(map[models.SubjectID][]models.Obs)
	for _, o := range rows {
		id := models.SubjectID(o.PersonID)
		byPerson[id] = append(byPerson[id], o)
	}

	result := New()
	for id, list := range byPerson {
		if matchObs(list, tm, pred) {
			result.Add(id)
		}
	}
	if tm == query.No {
		return e.universe.Subtract(result), nil
	}
	return result, nil
}

func matchObs(list []models.Obs, tm query.TimeModifier, pred obsPredicate) bool {
	switch tm {
	case query.First, query.Last:
		picked := list[0]
		for _, o := range list[1:] {
			if tm == query.First && earlier(o, picked) {
				picked = o
			}
			if tm == query.Last && earlier(picked, o) {
				picked = o
			}
		}
		return pred.holds(picked)
	case query.Min, query.Max:
		if pred.column == nil || pred.column.order == nil {
			return anyHolds(list, pred)
		}
		var picked *models.Obs
		for i := range list {
			o := list[i]
			if !pred.column.has(o) {
				continue
			}
			if picked == nil {
				picked = &list[i]
				continue
			}
			cmp := pred.column.order(o, *picked)
			if (tm == query.Min && cmp < 0) || (tm == query.Max && cmp > 0) {
				picked = &list[i]
			}
		}
		return picked != nil && pred.test(*picked)
	default:
		return anyHolds(list, pred)
	}
}

func anyHolds(list []models.Obs, pred obsPredicate) bool {
	for _, o := range list {
		if pred.holds(o) {
			return true
		}
	}
	return false
}

// earlier orders by observation time, then id.
func earlier(a, b models.Obs) bool {
	if !a.Datetime.Equal(b.Datetime) {
		return a.Datetime.Before(b.Datetime)
	}
	return a.ID < b.ID
}

// likePattern compiles a SQL LIKE pattern (% and _ wildcards) into a
// case-insensitive anchored expression.
func likePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
