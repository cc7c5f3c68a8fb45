package dataset

import (
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
)

// Scope is the kind of row a data definition produces one value for.
type Scope string

const (
	EncounterScope Scope = "encounter"
	PatientScope   Scope = "patient"
	PersonScope    Scope = "person"
)

// DataDefinition describes how to extract one value per row.
type DataDefinition interface {
	Scope() Scope
	Parameters() []query.Parameter
}

// EncounterDataDefinition yields one value per encounter.
type EncounterDataDefinition interface {
	DataDefinition
	encounterData()
}

// PatientDataDefinition yields one value per patient.
type PatientDataDefinition interface {
	DataDefinition
	patientData()
}

// PersonDataDefinition yields one value per person.
type PersonDataDefinition interface {
	DataDefinition
	personData()
}

type EncounterDatetimeData struct{}

func (EncounterDatetimeData) Scope() Scope                  { return EncounterScope }
func (EncounterDatetimeData) Parameters() []query.Parameter { return nil }
func (EncounterDatetimeData) encounterData()                {}

type EncounterTypeData struct{}

func (EncounterTypeData) Scope() Scope                  { return EncounterScope }
func (EncounterTypeData) Parameters() []query.Parameter { return nil }
func (EncounterTypeData) encounterData()                {}

type EncounterLocationData struct{}

func (EncounterLocationData) Scope() Scope                  { return EncounterScope }
func (EncounterLocationData) Parameters() []query.Parameter { return nil }
func (EncounterLocationData) encounterData()                {}

// ObsForEncounterData reads the observation(s) for QuestionID recorded in the
// row's encounter.
type ObsForEncounterData struct {
	QuestionID  int64 `json:"question_id" yaml:"question_id"`
	SingleValue bool  `json:"single_value" yaml:"single_value"`
}

func (ObsForEncounterData) Scope() Scope                  { return EncounterScope }
func (ObsForEncounterData) Parameters() []query.Parameter { return nil }
func (ObsForEncounterData) encounterData()                {}

type PatientIDData struct{}

func (PatientIDData) Scope() Scope                  { return PatientScope }
func (PatientIDData) Parameters() []query.Parameter { return nil }
func (PatientIDData) patientData()                  {}

// PatientAgeData is the patient's age in Unit on the effectiveDate parameter.
type PatientAgeData struct {
	Unit query.DurationUnit `json:"unit,omitempty" yaml:"unit"`
}

func (PatientAgeData) Scope() Scope { return PatientScope }

func (PatientAgeData) Parameters() []query.Parameter {
	return []query.Parameter{{Name: "effectiveDate", Label: "Effective Date", Type: query.DateParameter}}
}

func (PatientAgeData) patientData() {}

type GenderData struct{}

func (GenderData) Scope() Scope                  { return PersonScope }
func (GenderData) Parameters() []query.Parameter { return nil }
func (GenderData) personData()                   {}

type BirthdateData struct{}

func (BirthdateData) Scope() Scope                  { return PersonScope }
func (BirthdateData) Parameters() []query.Parameter { return nil }
func (BirthdateData) personData()                   {}

type PersonAttributeData struct {
	AttributeTypeID int64 `json:"attribute_type_id" yaml:"attribute_type_id"`
}

func (PersonAttributeData) Scope() Scope                  { return PersonScope }
func (PersonAttributeData) Parameters() []query.Parameter { return nil }
func (PersonAttributeData) personData()                   {}

// PatientToEncounterData evaluates a patient definition for the patient of
// each encounter.
type PatientToEncounterData struct {
	Definition PatientDataDefinition
}

func NewPatientToEncounterData(def PatientDataDefinition) PatientToEncounterData {
	return PatientToEncounterData{Definition: def}
}

func (PatientToEncounterData) Scope() Scope { return EncounterScope }

func (a PatientToEncounterData) Parameters() []query.Parameter {
	if a.Definition == nil {
		return nil
	}
	return a.Definition.Parameters()
}

func (PatientToEncounterData) encounterData() {}

// PersonToEncounterData evaluates a person definition for the person of each
// encounter.
type PersonToEncounterData struct {
	Definition PersonDataDefinition
}

func NewPersonToEncounterData(def PersonDataDefinition) PersonToEncounterData {
	return PersonToEncounterData{Definition: def}
}

func (PersonToEncounterData) Scope() Scope { return EncounterScope }

func (a PersonToEncounterData) Parameters() []query.Parameter {
	if a.Definition == nil {
		return nil
	}
	return a.Definition.Parameters()
}

func (PersonToEncounterData) encounterData() {}
