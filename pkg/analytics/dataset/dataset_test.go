package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/synaptica-ai/reporting/pkg/analytics/dsl"
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
)

// unscopedData claims a scope it does not implement.
type unscopedData struct{ scope Scope }

func (u unscopedData) Scope() Scope                { return u.scope }
func (unscopedData) Parameters() []query.Parameter { return nil }

func TestAddColumnWrapsPatientData(t *testing.T) {
	def := NewEncounterDataSetDefinition("visits")
	age := PatientAgeData{Unit: query.Months}
	if err := def.AddColumn("age", age, "effectiveDate=${endDate}", nil); err != nil {
		t.Fatalf("add column: %v", err)
	}

	cols := def.ColumnDefinitions()
	if len(cols) != 1 || cols[0].Name != "age" {
		t.Fatalf("unexpected columns %+v", cols)
	}
	adapter, ok := cols[0].Definition.Parameterizable.(PatientToEncounterData)
	if !ok {
		t.Fatalf("expected patient adapter, got %T", cols[0].Definition.Parameterizable)
	}
	if adapter.Definition != age {
		t.Fatalf("adapter does not wrap the original definition: %+v", adapter.Definition)
	}
	if adapter.Scope() != EncounterScope {
		t.Fatalf("adapter scope = %s", adapter.Scope())
	}
	if params := adapter.Parameters(); len(params) != 1 || params[0].Name != "effectiveDate" {
		t.Fatalf("adapter should expose wrapped parameters, got %v", params)
	}
	if cols[0].Definition.Mappings["effectiveDate"] != "${endDate}" {
		t.Fatalf("unexpected mappings %v", cols[0].Definition.Mappings)
	}
}

func TestAddColumnByScope(t *testing.T) {
	def := NewEncounterDataSetDefinition("visits")
	if err := def.AddColumn("when", EncounterDatetimeData{}, "", DateConverter{}); err != nil {
		t.Fatalf("encounter column: %v", err)
	}
	if err := def.AddColumn("gender", GenderData{}, "", nil); err != nil {
		t.Fatalf("person column: %v", err)
	}

	cols := def.ColumnDefinitions()
	if _, ok := cols[0].Definition.Parameterizable.(EncounterDatetimeData); !ok {
		t.Fatalf("encounter data should be stored unwrapped, got %T", cols[0].Definition.Parameterizable)
	}
	person, ok := cols[1].Definition.Parameterizable.(PersonToEncounterData)
	if !ok || person.Definition != (GenderData{}) {
		t.Fatalf("expected person adapter around gender, got %#v", cols[1].Definition.Parameterizable)
	}
	if cols[0].Converter == nil || cols[1].Converter != nil {
		t.Fatalf("converters not kept per column: %+v", cols)
	}
}

func TestAddColumnRejectsUnsupported(t *testing.T) {
	def := NewEncounterDataSetDefinition("visits")
	if err := def.AddColumn("id", PatientIDData{}, "", nil); err != nil {
		t.Fatalf("add column: %v", err)
	}

	for _, bad := range []DataDefinition{
		nil,
		unscopedData{scope: PatientScope},
		unscopedData{scope: "cohort"},
		PatientToEncounterData{},
		PersonToEncounterData{},
	} {
		err := def.AddColumn("bad", bad, "", nil)
		var unsupported *UnsupportedDataDefinitionError
		if !errors.As(err, &unsupported) {
			t.Fatalf("expected unsupported error for %T, got %v", bad, err)
		}
		if len(def.ColumnDefinitions()) != 1 {
			t.Fatalf("rejected column was stored")
		}
	}

	err := def.AddColumn("bad", unscopedData{scope: PersonScope}, "", nil)
	if err == nil || err.Error() != "dataset: unable to add data definition of type dataset.unscopedData" {
		t.Fatalf("unexpected message %v", err)
	}

	if params := (PersonToEncounterData{}).Parameters(); params != nil {
		t.Fatalf("empty adapter should report no parameters, got %v", params)
	}
}

func TestAddColumnRejectsMalformedMappings(t *testing.T) {
	def := NewEncounterDataSetDefinition("visits")
	if err := def.AddColumn("age", PatientAgeData{}, "effectiveDate", nil); err == nil {
		t.Fatalf("expected mapping error")
	}
	if len(def.ColumnDefinitions()) != 0 {
		t.Fatalf("column stored despite mapping error")
	}
}

func TestColumnDefinitionsAreCopies(t *testing.T) {
	def := NewEncounterDataSetDefinition("visits")
	if err := def.AddColumn("age", PatientAgeData{}, "effectiveDate=${endDate}", nil); err != nil {
		t.Fatalf("add column: %v", err)
	}
	cols := def.ColumnDefinitions()
	cols[0].Name = "changed"
	cols[0].Definition.Mappings["effectiveDate"] = "changed"

	again := def.ColumnDefinitions()
	if again[0].Name != "age" || again[0].Definition.Mappings["effectiveDate"] != "${endDate}" {
		t.Fatalf("accessor leaked internal state: %+v", again[0])
	}
}

func TestAddRowFilter(t *testing.T) {
	def := NewEncounterDataSetDefinition("visits")
	if err := def.AddRowFilter(BasicEncounterRowQuery{EncounterTypeIDs: []int64{1}}, "onOrAfter=${startDate},onOrBefore=${endDate}"); err != nil {
		t.Fatalf("basic filter: %v", err)
	}
	if err := def.AddRowFilter(SQLEncounterRowQuery{Query: "SELECT encounter_id FROM encounter WHERE location_id = :location"}, "location=${site}"); err != nil {
		t.Fatalf("sql filter: %v", err)
	}

	filters := def.RowFilters()
	if len(filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(filters))
	}
	if params := filters[1].Parameterizable.Parameters(); len(params) != 1 || params[0].Name != "location" {
		t.Fatalf("unexpected sql parameters %v", params)
	}

	after := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := def.AddRowFilter(BasicEncounterRowQuery{OnOrAfter: &after, OnOrBefore: &before}, ""); !errors.Is(err, query.ErrInvalidSpecification) {
		t.Fatalf("expected inverted window error, got %v", err)
	}
	var parseErr *dsl.ParseError
	if err := def.AddRowFilter(SQLEncounterRowQuery{Query: "SELECT 1 WHERE x = :"}, ""); !errors.As(err, &parseErr) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if err := def.AddRowFilter(nil, ""); !errors.Is(err, query.ErrInvalidSpecification) {
		t.Fatalf("expected nil filter error, got %v", err)
	}
	if len(def.RowFilters()) != 2 {
		t.Fatalf("rejected filters were stored")
	}
}

func TestConverters(t *testing.T) {
	when := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)
	if got := (DateConverter{}).Convert(when); got != "2024-03-09" {
		t.Fatalf("date converter = %v", got)
	}
	if got := (DateConverter{Layout: "02/01/2006"}).Convert(&when); got != "09/03/2024" {
		t.Fatalf("date converter with layout = %v", got)
	}
	if got := (DateConverter{}).Convert(42); got != 42 {
		t.Fatalf("non-time value should pass through, got %v", got)
	}

	var missing *time.Time
	chain := ChainedConverter{DateConverter{}, NullValueConverter{Replacement: "n/a"}}
	if got := chain.Convert(missing); got != "n/a" {
		t.Fatalf("chain on nil time = %v", got)
	}
	if got := chain.Convert(when); got != "2024-03-09" {
		t.Fatalf("chain on time = %v", got)
	}
}

const visitsYAML = `
name: visits
description: one row per visit
parameters:
  - name: startDate
    label: Start date
    type: date
  - name: endDate
    label: End date
    type: date
columns:
  - name: patient
    type: patient_id
  - name: visit_date
    type: encounter_datetime
    converters:
      - type: date
        layout: "2006-01-02"
  - name: age
    type: age
    unit: months
    mappings: effectiveDate=${endDate}
  - name: weight
    type: obs
    question_id: 5089
    single_value: true
    converters:
      - type: "null"
        replacement: "-"
  - name: village
    type: person_attribute
    attribute_type_id: 8
row_filters:
  - type: basic
    encounter_type_ids: [1, 2]
    mappings: onOrAfter=${startDate},onOrBefore=${reportDate}
`

func TestDescriptorBuildAndSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visits.yaml")
	if err := os.WriteFile(path, []byte(visitsYAML), 0o600); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	desc, err := LoadDescriptor(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, err := desc.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(def.ColumnDefinitions()) != 5 || len(def.RowFilters()) != 1 || len(def.Parameters) != 2 {
		t.Fatalf("unexpected definition %+v", def.Summary())
	}

	summary := def.Summary()
	if summary.Columns[2].Definition != "PatientToEncounterData" || summary.Columns[2].Wraps != "PatientAgeData" {
		t.Fatalf("unexpected age column summary %+v", summary.Columns[2])
	}
	if params := summary.Columns[2].Parameters; len(params) != 1 || params[0].Name != "effectiveDate" {
		t.Fatalf("age column parameters %+v", params)
	}
	if summary.Columns[0].Parameters != nil {
		t.Fatalf("first column should declare no parameters, got %+v", summary.Columns[0].Parameters)
	}
	if summary.Columns[4].Wraps != "PersonAttributeData" {
		t.Fatalf("unexpected attribute column summary %+v", summary.Columns[4])
	}
	if summary.Columns[1].Converter != "DateConverter" {
		t.Fatalf("unexpected converter %q", summary.Columns[1].Converter)
	}
	if len(summary.Unresolved) != 1 || summary.Unresolved[0] != "reportDate" {
		t.Fatalf("unexpected unresolved references %v", summary.Unresolved)
	}
}

func TestDescriptorBuildErrors(t *testing.T) {
	cases := map[string]Descriptor{
		"no name":        {Columns: []ColumnDescriptor{{Name: "a", Type: "gender"}}},
		"unknown column": {Name: "x", Columns: []ColumnDescriptor{{Name: "a", Type: "cohort"}}},
		"obs question":   {Name: "x", Columns: []ColumnDescriptor{{Name: "a", Type: "obs"}}},
		"converter":      {Name: "x", Columns: []ColumnDescriptor{{Name: "a", Type: "gender", Converters: []ConverterDescriptor{{Type: "upper"}}}}},
		"filter type":    {Name: "x", RowFilters: []RowFilterDescriptor{{Type: "cohort"}}},
		"bad mappings":   {Name: "x", Columns: []ColumnDescriptor{{Name: "a", Type: "age", Mappings: "=x"}}},
	}
	for name, desc := range cases {
		if _, err := desc.Build(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
