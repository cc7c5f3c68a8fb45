package storage

import (
	"context"
	"sort"

	"github.com/synaptica-ai/reporting/pkg/common/models"
	"github.com/synaptica-ai/reporting/pkg/terminology"
)

// MemoryStore serves a Snapshot from memory. It is immutable after
// construction and therefore safe for concurrent reads.
type MemoryStore struct {
	snap        Snapshot
	encounters  map[int64]models.Encounter
	obsConcepts map[int64]int64
	setMembers  map[int64][]int64
	drugConcept map[int64]int64
}

type MemoryOption func(*MemoryStore)

// WithCatalog adds the catalog's concept sets to the snapshot's own.
func WithCatalog(cat terminology.Catalog) MemoryOption {
	return func(s *MemoryStore) {
		for _, row := range cat.SetMembers() {
			s.addSetMember(row)
		}
	}
}

func NewMemoryStore(snap *Snapshot, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		encounters:  make(map[int64]models.Encounter),
		obsConcepts: make(map[int64]int64),
		setMembers:  make(map[int64][]int64),
		drugConcept: make(map[int64]int64),
	}
	if snap != nil {
		s.snap = *snap
	}
	for _, enc := range s.snap.Encounters {
		if !enc.Voided {
			s.encounters[enc.ID] = enc
		}
	}
	for _, o := range s.snap.Observations {
		if !o.Voided {
			s.obsConcepts[o.ID] = o.ConceptID
		}
	}
	for _, d := range s.snap.Drugs {
		s.drugConcept[d.ID] = d.ConceptID
	}
	for _, row := range s.snap.ConceptSets {
		s.addSetMember(row)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) addSetMember(row models.ConceptSetMember) {
	if containsID(s.setMembers[row.SetConceptID], row.MemberConceptID) {
		return
	}
	s.setMembers[row.SetConceptID] = append(s.setMembers[row.SetConceptID], row.MemberConceptID)
}

func (s *MemoryStore) People(ctx context.Context) ([]models.Person, error) {
	var out []models.Person
	for _, p := range s.snap.People {
		if !p.Voided {
			out = append(out, p)
		}
	}
	return out, ctx.Err()
}

func (s *MemoryStore) PersonAttributes(ctx context.Context, filter AttributeFilter) ([]models.PersonAttribute, error) {
	var out []models.PersonAttribute
	for _, a := range s.snap.Attributes {
		if a.Voided {
			continue
		}
		if filter.AttributeTypeID != nil && a.AttributeTypeID != *filter.AttributeTypeID {
			continue
		}
		out = append(out, a)
	}
	return out, ctx.Err()
}

func (s *MemoryStore) Enrollments(ctx context.Context, programIDs []int64) ([]models.ProgramEnrollment, error) {
	var out []models.ProgramEnrollment
	for _, e := range s.snap.Enrollments {
		if !e.Voided && matchesAny(programIDs, e.ProgramID) {
			out = append(out, e)
		}
	}
	return out, ctx.Err()
}

func (s *MemoryStore) States(ctx context.Context, stateIDs []int64) ([]models.PatientState, error) {
	var out []models.PatientState
	for _, st := range s.snap.States {
		if !st.Voided && matchesAny(stateIDs, st.StateID) {
			out = append(out, st)
		}
	}
	return out, ctx.Err()
}

func (s *MemoryStore) DrugOrders(ctx context.Context, filter DrugOrderFilter) ([]models.DrugOrder, error) {
	var out []models.DrugOrder
	unfiltered := len(filter.DrugIDs) == 0 && len(filter.ConceptIDs) == 0
	for _, o := range s.snap.DrugOrders {
		if o.Voided {
			continue
		}
		if unfiltered || containsID(filter.DrugIDs, o.DrugID) || containsID(filter.ConceptIDs, s.orderConcept(o)) {
			out = append(out, o)
		}
	}
	return out, ctx.Err()
}

func (s *MemoryStore) orderConcept(o models.DrugOrder) int64 {
	if o.ConceptID != 0 {
		return o.ConceptID
	}
	return s.drugConcept[o.DrugID]
}

func (s *MemoryStore) ConceptSetMembers(ctx context.Context, setIDs []int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	queue := append([]int64(nil), setIDs...)
	visited := map[int64]struct{}{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		for _, member := range s.setMembers[id] {
			seen[member] = struct{}{}
			queue = append(queue, member)
		}
	}
	members := make([]int64, 0, len(seen))
	for id := range seen {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, ctx.Err()
}

func (s *MemoryStore) Encounters(ctx context.Context, filter EncounterFilter) ([]models.Encounter, error) {
	var out []models.Encounter
	for _, e := range s.snap.Encounters {
		if e.Voided || !filter.Window.Contains(e.Datetime) {
			continue
		}
		if !matchesAny(filter.LocationIDs, e.LocationID) ||
			!matchesAny(filter.EncounterTypeIDs, e.EncounterTypeID) ||
			!matchesAny(filter.FormIDs, e.FormID) {
			continue
		}
		out = append(out, e)
	}
	return out, ctx.Err()
}

func (s *MemoryStore) Observations(ctx context.Context, filter ObsFilter) ([]models.Obs, error) {
	var out []models.Obs
	needsEncounter := len(filter.EncounterTypeIDs) > 0 || len(filter.ProviderIDs) > 0
	for _, o := range s.snap.Observations {
		if o.Voided || !matchesAny(filter.ConceptIDs, o.ConceptID) {
			continue
		}
		if !filter.Window.Contains(o.Datetime) || !matchesAny(filter.LocationIDs, o.LocationID) {
			continue
		}
		if needsEncounter {
			if o.EncounterID == nil {
				continue
			}
			enc, ok := s.encounters[*o.EncounterID]
			if !ok || !matchesAny(filter.EncounterTypeIDs, enc.EncounterTypeID) || !matchesAny(filter.ProviderIDs, enc.ProviderID) {
				continue
			}
		}
		if filter.GroupConceptID != nil {
			if o.GroupID == nil {
				continue
			}
			if concept, ok := s.obsConcepts[*o.GroupID]; !ok || concept != *filter.GroupConceptID {
				continue
			}
		}
		out = append(out, o)
	}
	return out, ctx.Err()
}

func (s *MemoryStore) ExecuteSQL(context.Context, string, map[string]interface{}) ([]models.SubjectID, error) {
	return nil, ErrRawQueryUnsupported
}
