package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/synaptica-ai/reporting/pkg/common/models"
)

// Snapshot is a complete population, as loaded from a fixture file or seeded
// into a SQL store.
type Snapshot struct {
	People       []models.Person            `yaml:"people" json:"people"`
	Attributes   []models.PersonAttribute   `yaml:"attributes" json:"attributes"`
	Enrollments  []models.ProgramEnrollment `yaml:"enrollments" json:"enrollments"`
	States       []models.PatientState      `yaml:"states" json:"states"`
	Drugs        []models.Drug              `yaml:"drugs" json:"drugs"`
	DrugOrders   []models.DrugOrder         `yaml:"drug_orders" json:"drug_orders"`
	Encounters   []models.Encounter         `yaml:"encounters" json:"encounters"`
	Observations []models.Obs               `yaml:"observations" json:"observations"`
	ConceptSets  []models.ConceptSetMember  `yaml:"concept_sets" json:"concept_sets"`
}

func LoadSnapshot(path string) (*Snapshot, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}
