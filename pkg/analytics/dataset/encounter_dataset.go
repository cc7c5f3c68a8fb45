package dataset

import (
	"fmt"

	"github.com/synaptica-ai/reporting/pkg/analytics/dsl"
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
)

// UnsupportedDataDefinitionError is returned by AddColumn for definitions that
// cannot be re-scoped to an encounter.
type UnsupportedDataDefinitionError struct {
	Type string
}

func (e *UnsupportedDataDefinitionError) Error() string {
	return fmt.Sprintf("dataset: unable to add data definition of type %s", e.Type)
}

// Mapped pairs a parameterizable object with the mappings from the dataset's
// parameters onto its own.
type Mapped[T any] struct {
	Parameterizable T
	Mappings        map[string]interface{}
}

func copyMappings(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type ColumnDefinition struct {
	Name       string
	Definition Mapped[EncounterDataDefinition]
	Converter  Converter
}

// EncounterDataSetDefinition produces one row per encounter. Columns and row
// filters are only ever appended; it is not safe for concurrent mutation.
type EncounterDataSetDefinition struct {
	Name        string
	Description string
	Parameters  []query.Parameter

	columns    []ColumnDefinition
	rowFilters []Mapped[EncounterRowQuery]
}

func NewEncounterDataSetDefinition(name string) *EncounterDataSetDefinition {
	return &EncounterDataSetDefinition{Name: name}
}

// AddColumn stores def re-scoped to the row's encounter. Encounter data is
// stored as is; patient and person data are wrapped in adapters.
func (d *EncounterDataSetDefinition) AddColumn(name string, def DataDefinition, mappings string, converter Converter) error {
	scoped, err := toEncounterData(def)
	if err != nil {
		return err
	}
	parsed, err := dsl.ParseMappings(mappings)
	if err != nil {
		return fmt.Errorf("%w: %w", query.ErrInvalidSpecification, err)
	}
	d.columns = append(d.columns, ColumnDefinition{
		Name:       name,
		Definition: Mapped[EncounterDataDefinition]{Parameterizable: scoped, Mappings: parsed},
		Converter:  converter,
	})
	return nil
}

func toEncounterData(def DataDefinition) (EncounterDataDefinition, error) {
	if def == nil {
		return nil, &UnsupportedDataDefinitionError{Type: "<nil>"}
	}
	switch def.Scope() {
	case EncounterScope:
		switch adapter := def.(type) {
		case PatientToEncounterData:
			if adapter.Definition == nil {
				return nil, &UnsupportedDataDefinitionError{Type: fmt.Sprintf("%T without a wrapped definition", def)}
			}
		case PersonToEncounterData:
			if adapter.Definition == nil {
				return nil, &UnsupportedDataDefinitionError{Type: fmt.Sprintf("%T without a wrapped definition", def)}
			}
		}
		if enc, ok := def.(EncounterDataDefinition); ok {
			return enc, nil
		}
	case PatientScope:
		if patient, ok := def.(PatientDataDefinition); ok {
			return NewPatientToEncounterData(patient), nil
		}
	case PersonScope:
		if person, ok := def.(PersonDataDefinition); ok {
			return NewPersonToEncounterData(person), nil
		}
	}
	return nil, &UnsupportedDataDefinitionError{Type: fmt.Sprintf("%T", def)}
}

// AddRowFilter appends filter; all row filters are combined with AND.
func (d *EncounterDataSetDefinition) AddRowFilter(filter EncounterRowQuery, mappings string) error {
	if filter == nil {
		return fmt.Errorf("%w: nil row filter", query.ErrInvalidSpecification)
	}
	if err := filter.Validate(); err != nil {
		return err
	}
	parsed, err := dsl.ParseMappings(mappings)
	if err != nil {
		return fmt.Errorf("%w: %w", query.ErrInvalidSpecification, err)
	}
	d.rowFilters = append(d.rowFilters, Mapped[EncounterRowQuery]{Parameterizable: filter, Mappings: parsed})
	return nil
}

// ColumnDefinitions returns the columns in insertion order.
func (d *EncounterDataSetDefinition) ColumnDefinitions() []ColumnDefinition {
	out := make([]ColumnDefinition, len(d.columns))
	for i, c := range d.columns {
		c.Definition.Mappings = copyMappings(c.Definition.Mappings)
		out[i] = c
	}
	return out
}

// RowFilters returns the row filters in insertion order.
func (d *EncounterDataSetDefinition) RowFilters() []Mapped[EncounterRowQuery] {
	out := make([]Mapped[EncounterRowQuery], len(d.rowFilters))
	for i, f := range d.rowFilters {
		f.Mappings = copyMappings(f.Mappings)
		out[i] = f
	}
	return out
}
