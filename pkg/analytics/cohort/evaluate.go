package cohort

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/synaptica-ai/reporting/pkg/analytics/dsl"
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
	"github.com/synaptica-ai/reporting/pkg/common/models"
	"github.com/synaptica-ai/reporting/pkg/storage"
)

// evaluation holds the scoped population for one Evaluate call.
type evaluation struct {
	svc      *Service
	people   map[models.SubjectID]models.Person
	universe *Cohort
}

func (e *evaluation) eval(ctx context.Context, spec query.Specification) (*Cohort, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch q := spec.(type) {
	case query.GenderQuery:
		return e.gender(q), nil
	case query.AgeRangeQuery:
		return e.ageRange(q), nil
	case query.BirthAndDeathQuery:
		return e.birthAndDeath(q), nil
	case query.ProgramEnrollmentQuery:
		return e.programEnrollment(ctx, q)
	case query.InProgramQuery:
		return e.inProgram(ctx, q)
	case query.ProgramStateQuery:
		return e.programState(ctx, q)
	case query.InStateQuery:
		return e.inState(ctx, q)
	case query.ActiveDrugOrderQuery:
		return e.activeDrugOrders(ctx, q)
	case query.StartedDrugOrderQuery:
		return e.drugOrdersWithin(ctx, q.DrugIDs, q.DrugSetConceptIDs, q.OnOrAfter, q.OnOrBefore, startedOrder)
	case query.CompletedDrugOrderQuery:
		now := e.svc.now()
		completed := func(o models.DrugOrder) *time.Time {
			if o.StopDate == nil || o.StopDate.After(now) {
				return nil
			}
			return o.StopDate
		}
		return e.drugOrdersWithin(ctx, q.DrugIDs, q.DrugSetConceptIDs, q.OnOrAfter, q.OnOrBefore, completed)
	case query.ObsQuery:
		return e.obs(ctx, q)
	case query.RangedObsQuery:
		return e.rangedObs(ctx, q)
	case query.DiscreteObsQuery:
		return e.discreteObs(ctx, q)
	case query.EncounterQuery:
		return e.encounters(ctx, q)
	case query.PersonAttributeQuery:
		return e.personAttributes(ctx, q)
	case query.SQLQuery:
		return e.sql(ctx, q)
	case query.CompositionQuery:
		return e.composition(ctx, q)
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", query.ErrInvalidSpecification, spec.Kind())
	}
}

func (e *evaluation) gender(q query.GenderQuery) *Cohort {
	result := New()
	for id, p := range e.people {
		switch strings.ToUpper(strings.TrimSpace(p.Gender)) {
		case "M":
			if q.Males {
				result.Add(id)
			}
		case "F":
			if q.Females {
				result.Add(id)
			}
		default:
			if q.Unknown {
				result.Add(id)
			}
		}
	}
	return result
}

func (e *evaluation) ageRange(q query.AgeRangeQuery) *Cohort {
	result := New()
	if q.EmptyWindow() {
		return result
	}
	at := e.svc.now()
	if q.EffectiveDate != nil {
		at = *q.EffectiveDate
	}
	for id, p := range e.people {
		if p.Birthdate == nil {
			if q.UnknownAgeIncluded {
				result.Add(id)
			}
			continue
		}
		if p.Birthdate.After(at) {
			continue
		}
		if q.MinAge != nil && ageIn(*p.Birthdate, at, q.MinAgeUnit) < *q.MinAge {
			continue
		}
		if q.MaxAge != nil && ageIn(*p.Birthdate, at, q.MaxAgeUnit) > *q.MaxAge {
			continue
		}
		result.Add(id)
	}
	return result
}

// ageIn counts the complete units between birth and at.
func ageIn(birth, at time.Time, unit query.DurationUnit) int {
	birth, at = birth.UTC(), at.UTC()
	switch unit.OrDefault() {
	case query.Days:
		return wholeDays(birth, at)
	case query.Weeks:
		return wholeDays(birth, at) / 7
	case query.Months:
		months := (at.Year()-birth.Year())*12 + int(at.Month()) - int(birth.Month())
		if at.Day() < birth.Day() {
			months--
		}
		return months
	default:
		years := at.Year() - birth.Year()
		if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
			years--
		}
		return years
	}
}

func wholeDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func (e *evaluation) birthAndDeath(q query.BirthAndDeathQuery) *Cohort {
	result := New()
	born := window(q.BornOnOrAfter, q.BornOnOrBefore)
	died := window(q.DiedOnOrAfter, q.DiedOnOrBefore)
	for id, p := range e.people {
		if born.ContainsPtr(p.Birthdate) && died.ContainsPtr(p.DeathDate) {
			result.Add(id)
		}
	}
	return result
}

func (e *evaluation) programEnrollment(ctx context.Context, q query.ProgramEnrollmentQuery) (*Cohort, error) {
	enrollments, err := e.svc.store.Enrollments(ctx, q.ProgramIDs)
	if err != nil {
		return nil, err
	}
	enrolled := window(q.EnrolledOnOrAfter, q.EnrolledOnOrBefore)
	completed := window(q.CompletedOnOrAfter, q.CompletedOnOrBefore)
	result := New()
	for _, en := range enrollments {
		if enrolled.ContainsPtr(en.DateEnrolled) && completed.ContainsPtr(en.DateCompleted) {
			result.Add(models.SubjectID(en.PatientID))
		}
	}
	return result, nil
}

func (e *evaluation) inProgram(ctx context.Context, q query.InProgramQuery) (*Cohort, error) {
	enrollments, err := e.svc.store.Enrollments(ctx, q.ProgramIDs)
	if err != nil {
		return nil, err
	}
	result := New()
	for _, en := range enrollments {
		if overlaps(en.DateEnrolled, en.DateCompleted, q.OnOrAfter, q.OnOrBefore) {
			result.Add(models.SubjectID(en.PatientID))
		}
	}
	return result, nil
}

func (e *evaluation) programState(ctx context.Context, q query.ProgramStateQuery) (*Cohort, error) {
	states, err := e.svc.store.States(ctx, q.StateIDs)
	if err != nil {
		return nil, err
	}
	started := window(q.StartedOnOrAfter, q.StartedOnOrBefore)
	ended := window(q.EndedOnOrAfter, q.EndedOnOrBefore)
	result := New()
	for _, st := range states {
		if started.ContainsPtr(st.StartDate) && ended.ContainsPtr(st.EndDate) {
			result.Add(models.SubjectID(st.PatientID))
		}
	}
	return result, nil
}

func (e *evaluation) inState(ctx context.Context, q query.InStateQuery) (*Cohort, error) {
	states, err := e.svc.store.States(ctx, q.StateIDs)
	if err != nil {
		return nil, err
	}
	result := New()
	for _, st := range states {
		if overlaps(st.StartDate, st.EndDate, q.OnOrAfter, q.OnOrBefore) {
			result.Add(models.SubjectID(st.PatientID))
		}
	}
	return result, nil
}

// overlaps reports whether the period [start, end] (open end when nil)
// intersects the window. A missing start only matches when onOrBefore is nil.
func overlaps(start, end, onOrAfter, onOrBefore *time.Time) bool {
	if onOrBefore != nil {
		if start == nil || start.After(endOfDay(*onOrBefore)) {
			return false
		}
	}
	if onOrAfter != nil && end != nil && end.Before(*onOrAfter) {
		return false
	}
	return true
}

func (e *evaluation) activeDrugOrders(ctx context.Context, q query.ActiveDrugOrderQuery) (*Cohort, error) {
	orders, err := e.svc.store.DrugOrders(ctx, storage.DrugOrderFilter{DrugIDs: q.DrugIDs})
	if err != nil {
		return nil, err
	}
	asOf := e.svc.now()
	if q.AsOfDate != nil {
		asOf = *q.AsOfDate
	}
	result := New()
	for _, o := range orders {
		if o.StartDate == nil || o.StartDate.After(asOf) {
			continue
		}
		if o.StopDate != nil && o.StopDate.Before(asOf) {
			continue
		}
		result.Add(models.SubjectID(o.PatientID))
	}
	return result, nil
}

func startedOrder(o models.DrugOrder) *time.Time { return o.StartDate }

// drugOrdersWithin matches orders for any listed drug or drug set member whose
// boundary date is present and inside the window.
func (e *evaluation) drugOrdersWithin(ctx context.Context, drugIDs, drugSetIDs []int64, onOrAfter, onOrBefore *time.Time, boundary func(models.DrugOrder) *time.Time) (*Cohort, error) {
	filter := storage.DrugOrderFilter{DrugIDs: drugIDs}
	if len(drugSetIDs) > 0 {
		members, err := e.svc.store.ConceptSetMembers(ctx, drugSetIDs)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 && len(drugIDs) == 0 {
			return New(), nil
		}
		filter.ConceptIDs = members
	}
	orders, err := e.svc.store.DrugOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	w := window(onOrAfter, onOrBefore)
	result := New()
	for _, o := range orders {
		if t := boundary(o); t != nil && w.Contains(*t) {
			result.Add(models.SubjectID(o.PatientID))
		}
	}
	return result, nil
}

func (e *evaluation) encounters(ctx context.Context, q query.EncounterQuery) (*Cohort, error) {
	encounters, err := e.svc.store.Encounters(ctx, storage.EncounterFilter{
		Window:           window(q.OnOrAfter, q.OnOrBefore),
		LocationIDs:      q.LocationIDs,
		EncounterTypeIDs: q.EncounterTypeIDs,
		FormIDs:          q.FormIDs,
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[models.SubjectID]int)
	for _, enc := range encounters {
		counts[models.SubjectID(enc.PatientID)]++
	}

	atLeast := 0
	switch {
	case q.AtLeastCount != nil:
		atLeast = *q.AtLeastCount
	case q.AtMostCount == nil:
		atLeast = 1
	}

	result := New()
	candidates := e.universe.Members()
	if atLeast > 0 {
		candidates = candidates[:0:0]
		for id := range counts {
			candidates = append(candidates, id)
		}
	}
	for _, id := range candidates {
		n := counts[id]
		if n < atLeast || (q.AtMostCount != nil && n > *q.AtMostCount) {
			continue
		}
		result.Add(id)
	}
	return result, nil
}

func (e *evaluation) personAttributes(ctx context.Context, q query.PersonAttributeQuery) (*Cohort, error) {
	attrs, err := e.svc.store.PersonAttributes(ctx, storage.AttributeFilter{AttributeTypeID: q.AttributeTypeID})
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(q.Values))
	for _, v := range q.Values {
		wanted[normalizeText(v)] = struct{}{}
	}
	result := New()
	for _, a := range attrs {
		if len(wanted) > 0 {
			if _, ok := wanted[normalizeText(a.Value)]; !ok {
				continue
			}
		}
		result.Add(models.SubjectID(a.PersonID))
	}
	return result, nil
}

func (e *evaluation) sql(ctx context.Context, q query.SQLQuery) (*Cohort, error) {
	bound, err := dsl.Bind(q.Query, q.Parameters)
	if errors.Is(err, dsl.ErrEmptyQuery) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	ids, err := e.svc.store.ExecuteSQL(ctx, bound.SQL, bound.Args)
	if err != nil {
		return nil, err
	}
	return New(ids...), nil
}

func (e *evaluation) composition(ctx context.Context, q query.CompositionQuery) (*Cohort, error) {
	switch q.Operator {
	case query.Not:
		inner, err := e.eval(ctx, q.Queries[0])
		if err != nil {
			return nil, err
		}
		return e.universe.Subtract(inner), nil
	case query.Or:
		result := New()
		for _, child := range q.Queries {
			c, err := e.eval(ctx, child)
			if err != nil {
				return nil, err
			}
			result = result.Union(c)
		}
		return result, nil
	default:
		result := e.universe.Clone()
		for _, child := range q.Queries {
			c, err := e.eval(ctx, child)
			if err != nil {
				return nil, err
			}
			result = result.Intersect(c)
			if result.IsEmpty() {
				break
			}
		}
		return result, nil
	}
}

// window builds an inclusive store window. An upper bound at midnight covers
// the whole of that day.
func window(onOrAfter, onOrBefore *time.Time) storage.Window {
	w := storage.Window{From: onOrAfter}
	if onOrBefore != nil {
		end := endOfDay(*onOrBefore)
		w.To = &end
	}
	return w
}

func endOfDay(t time.Time) time.Time {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Add(24*time.Hour - time.Millisecond)
	}
	return t
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
