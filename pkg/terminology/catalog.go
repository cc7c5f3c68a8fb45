package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synaptica-ai/reporting/pkg/common/models"
)

type Concept struct {
	ID      int64   `yaml:"id" json:"id"`
	Display string  `yaml:"display" json:"display"`
	SNOMED  string  `yaml:"snomed,omitempty" json:"snomed,omitempty"`
	LOINC   string  `yaml:"loinc,omitempty" json:"loinc,omitempty"`
	ICD10   string  `yaml:"icd10,omitempty" json:"icd10,omitempty"`
	Members []int64 `yaml:"members,omitempty" json:"members,omitempty"`
}

// Catalog is a small concept dictionary keyed by mnemonic. Concepts with
// members are concept sets (drug sets, answer sets).
type Catalog struct {
	Concepts map[string]Concept `yaml:"concepts" json:"concepts"`
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Concepts) == 0 {
		return Catalog{}, fmt.Errorf("terminology catalog empty")
	}
	return cat, nil
}

func (c Catalog) Lookup(key string) (Concept, bool) {
	if c.Concepts == nil {
		return Concept{}, false
	}
	concept, ok := c.Concepts[strings.ToLower(key)]
	if ok {
		return concept, true
	}
	for k, v := range c.Concepts {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return Concept{}, false
}

func (c Catalog) ByID(id int64) (Concept, bool) {
	for _, concept := range c.Concepts {
		if concept.ID == id {
			return concept, true
		}
	}
	return Concept{}, false
}

// ExpandSets returns the transitive members of the given set concepts, sorted.
func (c Catalog) ExpandSets(setIDs []int64) []int64 {
	seen := map[int64]struct{}{}
	visited := map[int64]struct{}{}
	var walk func(id int64)
	walk = func(id int64) {
		if _, ok := visited[id]; ok {
			return
		}
		visited[id] = struct{}{}
		concept, ok := c.ByID(id)
		if !ok {
			return
		}
		for _, member := range concept.Members {
			seen[member] = struct{}{}
			walk(member)
		}
	}
	for _, id := range setIDs {
		walk(id)
	}
	members := make([]int64, 0, len(seen))
	for id := range seen {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// SetMembers flattens the catalog into concept_set rows.
func (c Catalog) SetMembers() []models.ConceptSetMember {
	var rows []models.ConceptSetMember
	for _, concept := range c.Concepts {
		for _, member := range concept.Members {
			rows = append(rows, models.ConceptSetMember{SetConceptID: concept.ID, MemberConceptID: member})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SetConceptID != rows[j].SetConceptID {
			return rows[i].SetConceptID < rows[j].SetConceptID
		}
		return rows[i].MemberConceptID < rows[j].MemberConceptID
	})
	return rows
}

func DefaultCatalog() Catalog {
	return Catalog{Concepts: map[string]Concept{
		"weight": {
			ID:      5089,
			Display: "Weight (kg)",
			SNOMED:  "27113001",
			LOINC:   "3141-9",
		},
		"cd4-count": {
			ID:      5497,
			Display: "CD4 count",
			LOINC:   "24467-3",
		},
		"lamivudine": {
			ID:      628,
			Display: "Lamivudine",
			SNOMED:  "386897000",
		},
		"zidovudine": {
			ID:      797,
			Display: "Zidovudine",
			SNOMED:  "387151007",
		},
		"antiretroviral-drugs": {
			ID:      1085,
			Display: "Antiretroviral drugs",
			Members: []int64{628, 797},
		},
	}}
}
