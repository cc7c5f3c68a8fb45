package cohort

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/synaptica-ai/reporting/pkg/analytics/dsl"
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/common/models"
	"github.com/synaptica-ai/reporting/pkg/observability/metrics"
	"github.com/synaptica-ai/reporting/pkg/storage"
)

// Service evaluates query specifications against a population store.
// Evaluations share no mutable state and may run concurrently.
type Service struct {
	store    storage.Store
	cache    Cache
	cacheTTL time.Duration
	now      func() time.Time
}

func NewService(store storage.Store, opts ...Option) *Service {
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

type Option func(*Service)

// WithCache stores results of specifications that do not depend on the
// current time.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithClock replaces the time source used for "now" defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Evaluate returns the members of scope (the whole population when nil) that
// satisfy spec. The result is never nil.
func (s *Service) Evaluate(ctx context.Context, spec query.Specification, scope *Cohort) (*Cohort, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil specification", query.ErrInvalidSpecification)
	}
	kind := string(spec.Kind())
	started := time.Now()
	result, err := s.evaluateCached(ctx, spec, scope)
	elapsed := time.Since(started)
	if err != nil {
		metrics.ObserveEvaluation(kind, "error", elapsed, 0)
		logger.Log.WithError(err).WithField("kind", kind).Warn("Cohort evaluation failed")
		return nil, err
	}
	metrics.ObserveEvaluation(kind, "ok", elapsed, result.Size())
	logger.Log.WithFields(map[string]interface{}{
		"kind":     kind,
		"size":     result.Size(),
		"duration": elapsed.String(),
	}).Debug("Cohort evaluated")
	return result, nil
}

func (s *Service) evaluateCached(ctx context.Context, spec query.Specification, scope *Cohort) (*Cohort, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if s.cache == nil || dependsOnNow(spec) {
		return s.evaluateUncached(ctx, spec, scope)
	}
	key, err := cacheKey(spec, scope)
	if err != nil {
		return nil, err
	}
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Log.WithError(err).Warn("Cohort cache read failed")
	}
	metrics.ObserveCacheLookup(ok)
	if ok {
		return cached, nil
	}
	result, err := s.evaluateUncached(ctx, spec, scope)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
		logger.Log.WithError(err).Warn("Cohort cache write failed")
	}
	return result, nil
}

func (s *Service) evaluateUncached(ctx context.Context, spec query.Specification, scope *Cohort) (*Cohort, error) {
	people, err := s.store.People(ctx)
	if err != nil {
		return nil, fmt.Errorf("load population: %w", err)
	}
	e := &evaluation{svc: s, people: make(map[models.SubjectID]models.Person, len(people)), universe: New()}
	for _, p := range people {
		id := models.SubjectID(p.ID)
		if scope != nil && !scope.Contains(id) {
			continue
		}
		e.people[id] = p
		e.universe.Add(id)
	}
	result, err := e.eval(ctx, spec)
	if err != nil {
		return nil, err
	}
	return result.Intersect(e.universe), nil
}

// dependsOnNow reports whether the result of spec changes with the clock.
// Raw queries are included because their text may read the database clock.
func dependsOnNow(spec query.Specification) bool {
	switch q := spec.(type) {
	case query.AgeRangeQuery:
		return q.EffectiveDate == nil
	case query.ActiveDrugOrderQuery:
		return q.AsOfDate == nil
	case query.CompletedDrugOrderQuery, query.SQLQuery:
		return true
	case query.CompositionQuery:
		for _, child := range q.Queries {
			if dependsOnNow(child) {
				return true
			}
		}
	}
	return false
}

func cacheKey(spec query.Specification, scope *Cohort) (string, error) {
	encoded, err := query.Marshal(spec)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(encoded)
	if scope != nil {
		h.Write([]byte{0})
		for _, id := range scope.Members() {
			h.Write([]byte(strconv.FormatInt(int64(id), 10)))
			h.Write([]byte{','})
		}
	}
	return "cohort:" + hex.EncodeToString(h.Sum(nil)), nil
}

// ParseSQLQuery lists the named parameters a raw query references.
func (s *Service) ParseSQLQuery(sql string) ([]query.Parameter, error) {
	return dsl.ParseSQL(sql)
}

// ExecuteSQLQuery binds params into sql and runs it. A blank query yields an
// empty cohort.
func (s *Service) ExecuteSQLQuery(ctx context.Context, sql string, params map[string]interface{}) (*Cohort, error) {
	return s.Evaluate(ctx, query.SQLQuery{Query: sql, Parameters: params}, nil)
}

func (s *Service) PatientsWithGender(ctx context.Context, males, females, unknown bool) (*Cohort, error) {
	return s.Evaluate(ctx, query.GenderQuery{Males: males, Females: females, Unknown: unknown}, nil)
}

func (s *Service) PatientsWithAgeRange(ctx context.Context, q query.AgeRangeQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsHavingProgramEnrollment(ctx context.Context, q query.ProgramEnrollmentQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsInProgram(ctx context.Context, programIDs []int64, onOrAfter, onOrBefore *time.Time) (*Cohort, error) {
	return s.Evaluate(ctx, query.InProgramQuery{ProgramIDs: programIDs, OnOrAfter: onOrAfter, OnOrBefore: onOrBefore}, nil)
}

func (s *Service) PatientsHavingStates(ctx context.Context, q query.ProgramStateQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsInStates(ctx context.Context, stateIDs []int64, onOrAfter, onOrBefore *time.Time) (*Cohort, error) {
	return s.Evaluate(ctx, query.InStateQuery{StateIDs: stateIDs, OnOrAfter: onOrAfter, OnOrBefore: onOrBefore}, nil)
}

func (s *Service) PatientsHavingActiveDrugOrders(ctx context.Context, drugIDs []int64, asOf *time.Time) (*Cohort, error) {
	return s.Evaluate(ctx, query.ActiveDrugOrderQuery{DrugIDs: drugIDs, AsOfDate: asOf}, nil)
}

func (s *Service) PatientsHavingStartedDrugOrders(ctx context.Context, q query.StartedDrugOrderQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsHavingCompletedDrugOrders(ctx context.Context, q query.CompletedDrugOrderQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsHavingObs(ctx context.Context, q query.ObsQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsHavingRangedObs(ctx context.Context, q query.RangedObsQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsHavingDiscreteObs(ctx context.Context, q query.DiscreteObsQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsHavingEncounters(ctx context.Context, q query.EncounterQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

func (s *Service) PatientsHavingPersonAttributes(ctx context.Context, attributeTypeID *int64, values []string) (*Cohort, error) {
	return s.Evaluate(ctx, query.PersonAttributeQuery{AttributeTypeID: attributeTypeID, Values: values}, nil)
}

func (s *Service) PatientsHavingBirthAndDeath(ctx context.Context, q query.BirthAndDeathQuery) (*Cohort, error) {
	return s.Evaluate(ctx, q, nil)
}

// Export evaluates spec and writes one CSV row of demographics per member.
func (s *Service) Export(ctx context.Context, spec query.Specification, scope *Cohort, w io.Writer) error {
	result, err := s.Evaluate(ctx, spec, scope)
	if err != nil {
		return err
	}
	return s.ExportCohort(ctx, result, w)
}

// ExportCohort writes the demographics of an already evaluated cohort. Nothing
// is written when the population cannot be loaded.
func (s *Service) ExportCohort(ctx context.Context, c *Cohort, w io.Writer) error {
	people, err := s.store.People(ctx)
	if err != nil {
		return err
	}
	byID := make(map[models.SubjectID]models.Person, len(people))
	for _, p := range people {
		byID[models.SubjectID(p.ID)] = p
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"patient_id", "gender", "birthdate", "dead"}); err != nil {
		return err
	}
	for _, id := range c.Members() {
		p := byID[id]
		row := []string{strconv.FormatInt(int64(id), 10), p.Gender, stringifyDate(p.Birthdate), strconv.FormatBool(p.Dead)}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func stringifyDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// IsClientError reports whether err stems from the request rather than the store.
func IsClientError(err error) bool {
	var parseErr *dsl.ParseError
	var bindErr *dsl.BindingError
	return errors.Is(err, query.ErrInvalidSpecification) ||
		errors.As(err, &parseErr) ||
		errors.As(err, &bindErr) ||
		errors.Is(err, storage.ErrRawQueryUnsupported)
}
