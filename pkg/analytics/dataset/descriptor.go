package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synaptica-ai/reporting/pkg/analytics/dsl"
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
)

// Descriptor is the document form of an encounter dataset definition, accepted
// as JSON by the HTTP API and as YAML by the CLI.
type Descriptor struct {
	Name        string                `json:"name" yaml:"name" validate:"required"`
	Description string                `json:"description,omitempty" yaml:"description"`
	Parameters  []query.Parameter     `json:"parameters,omitempty" yaml:"parameters"`
	Columns     []ColumnDescriptor    `json:"columns" yaml:"columns" validate:"dive"`
	RowFilters  []RowFilterDescriptor `json:"row_filters,omitempty" yaml:"row_filters" validate:"dive"`
}

type ColumnDescriptor struct {
	Name            string                `json:"name" yaml:"name" validate:"required"`
	Type            string                `json:"type" yaml:"type" validate:"required"`
	QuestionID      int64                 `json:"question_id,omitempty" yaml:"question_id"`
	SingleValue     bool                  `json:"single_value,omitempty" yaml:"single_value"`
	Unit            query.DurationUnit    `json:"unit,omitempty" yaml:"unit"`
	AttributeTypeID int64                 `json:"attribute_type_id,omitempty" yaml:"attribute_type_id"`
	Mappings        string                `json:"mappings,omitempty" yaml:"mappings"`
	Converters      []ConverterDescriptor `json:"converters,omitempty" yaml:"converters"`
}

type ConverterDescriptor struct {
	Type        string `json:"type" yaml:"type"`
	Layout      string `json:"layout,omitempty" yaml:"layout"`
	Replacement string `json:"replacement,omitempty" yaml:"replacement"`
}

type RowFilterDescriptor struct {
	Type             string  `json:"type" yaml:"type" validate:"required,oneof=basic sql"`
	EncounterTypeIDs []int64 `json:"encounter_type_ids,omitempty" yaml:"encounter_type_ids"`
	LocationIDs      []int64 `json:"location_ids,omitempty" yaml:"location_ids"`
	FormIDs          []int64 `json:"form_ids,omitempty" yaml:"form_ids"`
	Query            string  `json:"query,omitempty" yaml:"query"`
	Mappings         string  `json:"mappings,omitempty" yaml:"mappings"`
}

// LoadDescriptor reads a descriptor file; .json files are decoded as JSON and
// everything else as YAML.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var d Descriptor
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &d)
	} else {
		err = yaml.Unmarshal(data, &d)
	}
	if err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	return &d, nil
}

func (c ColumnDescriptor) definition() (DataDefinition, error) {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "encounter_datetime":
		return EncounterDatetimeData{}, nil
	case "encounter_type":
		return EncounterTypeData{}, nil
	case "encounter_location":
		return EncounterLocationData{}, nil
	case "obs":
		if c.QuestionID <= 0 {
			return nil, fmt.Errorf("%w: column %q needs question_id", query.ErrInvalidSpecification, c.Name)
		}
		return ObsForEncounterData{QuestionID: c.QuestionID, SingleValue: c.SingleValue}, nil
	case "patient_id":
		return PatientIDData{}, nil
	case "age":
		if c.Unit != "" && !c.Unit.OrDefault().Valid() {
			return nil, fmt.Errorf("%w: column %q has unknown unit %q", query.ErrInvalidSpecification, c.Name, c.Unit)
		}
		return PatientAgeData{Unit: c.Unit.OrDefault()}, nil
	case "gender":
		return GenderData{}, nil
	case "birthdate":
		return BirthdateData{}, nil
	case "person_attribute":
		if c.AttributeTypeID <= 0 {
			return nil, fmt.Errorf("%w: column %q needs attribute_type_id", query.ErrInvalidSpecification, c.Name)
		}
		return PersonAttributeData{AttributeTypeID: c.AttributeTypeID}, nil
	}
	return nil, &UnsupportedDataDefinitionError{Type: c.Type}
}

func (c ColumnDescriptor) converter() (Converter, error) {
	var chain ChainedConverter
	for _, conv := range c.Converters {
		switch strings.ToLower(conv.Type) {
		case "date":
			chain = append(chain, DateConverter{Layout: conv.Layout})
		case "null":
			chain = append(chain, NullValueConverter{Replacement: conv.Replacement})
		default:
			return nil, fmt.Errorf("%w: column %q has unknown converter %q", query.ErrInvalidSpecification, c.Name, conv.Type)
		}
	}
	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	}
	return chain, nil
}

func (f RowFilterDescriptor) rowQuery() (EncounterRowQuery, error) {
	switch strings.ToLower(f.Type) {
	case "basic":
		return BasicEncounterRowQuery{EncounterTypeIDs: f.EncounterTypeIDs, LocationIDs: f.LocationIDs, FormIDs: f.FormIDs}, nil
	case "sql":
		return SQLEncounterRowQuery{Query: f.Query}, nil
	}
	return nil, fmt.Errorf("%w: unknown row filter type %q", query.ErrInvalidSpecification, f.Type)
}

// Build assembles the definition, failing on the first column or row filter
// that cannot be added.
func (d *Descriptor) Build() (*EncounterDataSetDefinition, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("%w: dataset name is required", query.ErrInvalidSpecification)
	}
	def := NewEncounterDataSetDefinition(strings.TrimSpace(d.Name))
	def.Description = d.Description
	def.Parameters = append(def.Parameters, d.Parameters...)

	for _, col := range d.Columns {
		dataDef, err := col.definition()
		if err != nil {
			return nil, err
		}
		conv, err := col.converter()
		if err != nil {
			return nil, err
		}
		if err := def.AddColumn(col.Name, dataDef, col.Mappings, conv); err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
	}
	for i, f := range d.RowFilters {
		rq, err := f.rowQuery()
		if err != nil {
			return nil, err
		}
		if err := def.AddRowFilter(rq, f.Mappings); err != nil {
			return nil, fmt.Errorf("row filter %d: %w", i, err)
		}
	}
	return def, nil
}

// Summary describes a built definition for display.
type Summary struct {
	Name       string             `json:"name" yaml:"name"`
	Parameters []query.Parameter  `json:"parameters" yaml:"parameters"`
	Columns    []ColumnSummary    `json:"columns" yaml:"columns"`
	RowFilters []RowFilterSummary `json:"row_filters" yaml:"row_filters"`
	// Unresolved lists ${...} references that name no dataset parameter.
	Unresolved []string `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
}

type ColumnSummary struct {
	Name       string                 `json:"name" yaml:"name"`
	Definition string                 `json:"definition" yaml:"definition"`
	Wraps      string                 `json:"wraps,omitempty" yaml:"wraps,omitempty"`
	Parameters []query.Parameter      `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Mappings   map[string]interface{} `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	Converter  string                 `json:"converter,omitempty" yaml:"converter,omitempty"`
}

type RowFilterSummary struct {
	Type       string                 `json:"type" yaml:"type"`
	Parameters []query.Parameter      `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Mappings   map[string]interface{} `json:"mappings,omitempty" yaml:"mappings,omitempty"`
}

func (d *EncounterDataSetDefinition) Summary() Summary {
	s := Summary{Name: d.Name, Parameters: d.Parameters, Columns: []ColumnSummary{}, RowFilters: []RowFilterSummary{}}
	declared := make(map[string]struct{}, len(d.Parameters))
	for _, p := range d.Parameters {
		declared[p.Name] = struct{}{}
	}
	unresolved := map[string]struct{}{}
	note := func(mappings map[string]interface{}) {
		for _, ref := range dsl.References(mappings) {
			if _, ok := declared[ref]; !ok {
				unresolved[ref] = struct{}{}
			}
		}
	}

	for _, col := range d.ColumnDefinitions() {
		cs := ColumnSummary{
			Name:       col.Name,
			Definition: typeName(col.Definition.Parameterizable),
			Parameters: col.Definition.Parameterizable.Parameters(),
			Mappings:   col.Definition.Mappings,
		}
		switch adapter := col.Definition.Parameterizable.(type) {
		case PatientToEncounterData:
			cs.Wraps = typeName(adapter.Definition)
		case PersonToEncounterData:
			cs.Wraps = typeName(adapter.Definition)
		}
		if col.Converter != nil {
			cs.Converter = typeName(col.Converter)
		}
		note(col.Definition.Mappings)
		s.Columns = append(s.Columns, cs)
	}
	for _, f := range d.RowFilters() {
		s.RowFilters = append(s.RowFilters, RowFilterSummary{
			Type:       typeName(f.Parameterizable),
			Parameters: f.Parameterizable.Parameters(),
			Mappings:   f.Mappings,
		})
		note(f.Mappings)
	}
	for ref := range unresolved {
		s.Unresolved = append(s.Unresolved, ref)
	}
	sort.Strings(s.Unresolved)
	return s
}

func typeName(v interface{}) string {
	name := fmt.Sprintf("%T", v)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
