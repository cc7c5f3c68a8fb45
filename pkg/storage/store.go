package storage

import (
	"context"
	"errors"
	"time"

	"github.com/synaptica-ai/reporting/pkg/common/models"
)

var ErrRawQueryUnsupported = errors.New("storage: raw queries are not supported by this store")

// Window is an inclusive date range; nil bounds are open.
type Window struct {
	From *time.Time
	To   *time.Time
}

func (w Window) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}

// ContainsPtr is false for a nil time unless the window is fully open.
func (w Window) ContainsPtr(t *time.Time) bool {
	if t == nil {
		return w.IsOpen()
	}
	return w.Contains(*t)
}

func (w Window) IsOpen() bool {
	return w.From == nil && w.To == nil
}

type AttributeFilter struct {
	AttributeTypeID *int64
}

// DrugOrderFilter matches orders for any of DrugIDs or any of ConceptIDs; both
// empty matches every order. An order without a concept is matched on the
// concept of its drug.
type DrugOrderFilter struct {
	DrugIDs    []int64
	ConceptIDs []int64
}

type EncounterFilter struct {
	Window           Window
	LocationIDs      []int64
	EncounterTypeIDs []int64
	FormIDs          []int64
}

type ObsFilter struct {
	ConceptIDs       []int64
	Window           Window
	LocationIDs      []int64
	EncounterTypeIDs []int64
	ProviderIDs      []int64
	// GroupConceptID keeps only observations whose group obs has this concept.
	GroupConceptID *int64
}

// Store is the read-only population boundary the cohort evaluator queries.
// Every method excludes voided records. Implementations must be safe for
// concurrent use.
type Store interface {
	People(ctx context.Context) ([]models.Person, error)
	PersonAttributes(ctx context.Context, filter AttributeFilter) ([]models.PersonAttribute, error)
	Enrollments(ctx context.Context, programIDs []int64) ([]models.ProgramEnrollment, error)
	States(ctx context.Context, stateIDs []int64) ([]models.PatientState, error)
	DrugOrders(ctx context.Context, filter DrugOrderFilter) ([]models.DrugOrder, error)
	ConceptSetMembers(ctx context.Context, setIDs []int64) ([]int64, error)
	Encounters(ctx context.Context, filter EncounterFilter) ([]models.Encounter, error)
	Observations(ctx context.Context, filter ObsFilter) ([]models.Obs, error)
	// ExecuteSQL runs a query whose named arguments are written @name and
	// returns the distinct ids in its first column.
	ExecuteSQL(ctx context.Context, sql string, args map[string]interface{}) ([]models.SubjectID, error)
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// matchesAny is true when ids is empty or contains id.
func matchesAny(ids []int64, id int64) bool {
	return len(ids) == 0 || containsID(ids, id)
}
