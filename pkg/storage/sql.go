package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/common/models"
)

// SQLStore reads the population from a relational database through gorm.
type SQLStore struct {
	db       *gorm.DB
	readOnly bool
}

type SQLOption func(*SQLStore)

// WithReadOnlyQueries runs raw cohort queries inside a read-only transaction
// on dialects that support it.
func WithReadOnlyQueries(enabled bool) SQLOption {
	return func(s *SQLStore) {
		s.readOnly = enabled
	}
}

func NewSQLStore(db *gorm.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *SQLStore) AutoMigrate() error {
	return s.db.AutoMigrate(models.PopulationTables()...)
}

// Seed writes a snapshot in a single transaction. Existing rows with the same
// primary keys are left untouched.
func (s *SQLStore) Seed(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batches := []struct {
			name string
			rows interface{}
			n    int
		}{
			{"person", &snap.People, len(snap.People)},
			{"person_attribute", &snap.Attributes, len(snap.Attributes)},
			{"patient_program", &snap.Enrollments, len(snap.Enrollments)},
			{"patient_state", &snap.States, len(snap.States)},
			{"drug", &snap.Drugs, len(snap.Drugs)},
			{"drug_order", &snap.DrugOrders, len(snap.DrugOrders)},
			{"encounter", &snap.Encounters, len(snap.Encounters)},
			{"obs", &snap.Observations, len(snap.Observations)},
			{"concept_set", &snap.ConceptSets, len(snap.ConceptSets)},
		}
		for _, batch := range batches {
			if batch.n == 0 {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(batch.rows).Error; err != nil {
				return fmt.Errorf("seed %s: %w", batch.name, err)
			}
		}
		return nil
	})
}

// SeedConceptSets stores concept set rows such as those of a terminology catalog.
func (s *SQLStore) SeedConceptSets(ctx context.Context, rows []models.ConceptSetMember) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *SQLStore) active(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Where("voided = ?", false)
}

func whereIn(q *gorm.DB, column string, ids []int64) *gorm.DB {
	if len(ids) == 0 {
		return q
	}
	return q.Where(column+" IN ?", ids)
}

func whereWindow(q *gorm.DB, column string, w Window) *gorm.DB {
	if w.From != nil {
		q = q.Where(column+" >= ?", w.From.UTC())
	}
	if w.To != nil {
		q = q.Where(column+" <= ?", w.To.UTC())
	}
	return q
}

func (s *SQLStore) People(ctx context.Context) ([]models.Person, error) {
	var people []models.Person
	err := s.active(ctx).Order("person_id").Find(&people).Error
	return people, err
}

func (s *SQLStore) PersonAttributes(ctx context.Context, filter AttributeFilter) ([]models.PersonAttribute, error) {
	q := s.active(ctx)
	if filter.AttributeTypeID != nil {
		q = q.Where("person_attribute_type_id = ?", *filter.AttributeTypeID)
	}
	var attrs []models.PersonAttribute
	err := q.Order("person_attribute_id").Find(&attrs).Error
	return attrs, err
}

func (s *SQLStore) Enrollments(ctx context.Context, programIDs []int64) ([]models.ProgramEnrollment, error) {
	var enrollments []models.ProgramEnrollment
	err := whereIn(s.active(ctx), "program_id", programIDs).Order("patient_program_id").Find(&enrollments).Error
	return enrollments, err
}

func (s *SQLStore) States(ctx context.Context, stateIDs []int64) ([]models.PatientState, error) {
	var states []models.PatientState
	err := whereIn(s.active(ctx), "state", stateIDs).Order("patient_state_id").Find(&states).Error
	return states, err
}

func (s *SQLStore) DrugOrders(ctx context.Context, filter DrugOrderFilter) ([]models.DrugOrder, error) {
	q := s.active(ctx)
	const byConcept = "concept_id IN ? OR (COALESCE(concept_id, 0) = 0 AND drug_inventory_id IN (?))"
	switch {
	case len(filter.DrugIDs) > 0 && len(filter.ConceptIDs) > 0:
		q = q.Where("drug_inventory_id IN ? OR "+byConcept, filter.DrugIDs, filter.ConceptIDs, s.drugsWithConcepts(ctx, filter.ConceptIDs))
	case len(filter.DrugIDs) > 0:
		q = q.Where("drug_inventory_id IN ?", filter.DrugIDs)
	case len(filter.ConceptIDs) > 0:
		q = q.Where(byConcept, filter.ConceptIDs, s.drugsWithConcepts(ctx, filter.ConceptIDs))
	}
	var orders []models.DrugOrder
	err := q.Order("order_id").Find(&orders).Error
	return orders, err
}

func (s *SQLStore) drugsWithConcepts(ctx context.Context, conceptIDs []int64) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Drug{}).Select("drug_id").Where("concept_id IN ?", conceptIDs)
}

func (s *SQLStore) ConceptSetMembers(ctx context.Context, setIDs []int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	visited := map[int64]struct{}{}
	frontier := append([]int64(nil), setIDs...)
	for len(frontier) > 0 {
		var pending []int64
		for _, id := range frontier {
			if _, ok := visited[id]; !ok {
				visited[id] = struct{}{}
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			break
		}
		var rows []models.ConceptSetMember
		if err := s.db.WithContext(ctx).Where("concept_set IN ?", pending).Find(&rows).Error; err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, row := range rows {
			seen[row.MemberConceptID] = struct{}{}
			frontier = append(frontier, row.MemberConceptID)
		}
	}
	members := make([]int64, 0, len(seen))
	for id := range seen {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

func (s *SQLStore) Encounters(ctx context.Context, filter EncounterFilter) ([]models.Encounter, error) {
	q := whereWindow(s.active(ctx), "encounter_datetime", filter.Window)
	q = whereIn(q, "location_id", filter.LocationIDs)
	q = whereIn(q, "encounter_type", filter.EncounterTypeIDs)
	q = whereIn(q, "form_id", filter.FormIDs)
	var encounters []models.Encounter
	err := q.Order("encounter_id").Find(&encounters).Error
	return encounters, err
}

func (s *SQLStore) Observations(ctx context.Context, filter ObsFilter) ([]models.Obs, error) {
	q := whereIn(s.active(ctx), "concept_id", filter.ConceptIDs)
	q = whereWindow(q, "obs_datetime", filter.Window)
	q = whereIn(q, "location_id", filter.LocationIDs)
	if len(filter.EncounterTypeIDs) > 0 || len(filter.ProviderIDs) > 0 {
		sub := s.db.Model(&models.Encounter{}).Select("encounter_id").Where("voided = ?", false)
		sub = whereIn(sub, "encounter_type", filter.EncounterTypeIDs)
		sub = whereIn(sub, "provider_id", filter.ProviderIDs)
		q = q.Where("encounter_id IN (?)", sub)
	}
	if filter.GroupConceptID != nil {
		sub := s.db.Model(&models.Obs{}).Select("obs_id").
			Where("voided = ? AND concept_id = ?", false, *filter.GroupConceptID)
		q = q.Where("obs_group_id IN (?)", sub)
	}
	var observations []models.Obs
	err := q.Order("obs_id").Find(&observations).Error
	return observations, err
}

func (s *SQLStore) ExecuteSQL(ctx context.Context, sql string, args map[string]interface{}) ([]models.SubjectID, error) {
	var ids []models.SubjectID
	run := func(tx *gorm.DB) error {
		var err error
		ids, err = scanSubjectIDs(tx, sql, args)
		return err
	}
	if s.readOnly && s.db.Dialector.Name() == "postgres" {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SET TRANSACTION READ ONLY").Error; err != nil {
				return err
			}
			return run(tx)
		})
		return ids, err
	}
	return ids, run(s.db.WithContext(ctx))
}

func scanSubjectIDs(tx *gorm.DB, sql string, args map[string]interface{}) ([]models.SubjectID, error) {
	raw := tx.Raw(sql)
	if len(args) > 0 {
		raw = tx.Raw(sql, args)
	}
	rows, err := raw.Rows()
	if err != nil {
		return nil, fmt.Errorf("execute cohort query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("execute cohort query: no columns returned")
	}

	seen := make(map[models.SubjectID]struct{})
	var ids []models.SubjectID
	values := make([]interface{}, len(columns))
	targets := make([]interface{}, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		id, ok := toSubjectID(values[0])
		if !ok {
			logger.Log.WithField("value", values[0]).Warn("Skipping non-numeric subject id")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func toSubjectID(v interface{}) (models.SubjectID, bool) {
	switch n := v.(type) {
	case int64:
		return models.SubjectID(n), true
	case int32:
		return models.SubjectID(n), true
	case int:
		return models.SubjectID(n), true
	case float64:
		return models.SubjectID(n), true
	case []byte:
		parsed, err := strconv.ParseInt(string(n), 10, 64)
		return models.SubjectID(parsed), err == nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return models.SubjectID(parsed), err == nil
	default:
		return 0, false
	}
}
