package models

import (
	"encoding/json"
	"time"
)

// SubjectID identifies one member of the population (a patient).
type SubjectID int64

// Population records. Column names follow the clinical schema the SQL store reads.

type Person struct {
	ID        int64      `gorm:"primaryKey;column:person_id" json:"id" yaml:"id"`
	Gender    string     `gorm:"column:gender" json:"gender,omitempty" yaml:"gender"`
	Birthdate *time.Time `gorm:"column:birthdate" json:"birthdate,omitempty" yaml:"birthdate"`
	Dead      bool       `gorm:"column:dead" json:"dead,omitempty" yaml:"dead"`
	DeathDate *time.Time `gorm:"column:death_date" json:"death_date,omitempty" yaml:"death_date"`
	Voided    bool       `gorm:"column:voided" json:"voided,omitempty" yaml:"voided"`
}

func (Person) TableName() string { return "person" }

type PersonAttribute struct {
	ID              int64  `gorm:"primaryKey;column:person_attribute_id" json:"id" yaml:"id"`
	PersonID        int64  `gorm:"column:person_id;index" json:"person_id" yaml:"person_id"`
	AttributeTypeID int64  `gorm:"column:person_attribute_type_id" json:"attribute_type_id" yaml:"attribute_type_id"`
	Value           string `gorm:"column:value" json:"value" yaml:"value"`
	Voided          bool   `gorm:"column:voided" json:"voided,omitempty" yaml:"voided"`
}

func (PersonAttribute) TableName() string { return "person_attribute" }

type ProgramEnrollment struct {
	ID            int64      `gorm:"primaryKey;column:patient_program_id" json:"id" yaml:"id"`
	PatientID     int64      `gorm:"column:patient_id;index" json:"patient_id" yaml:"patient_id"`
	ProgramID     int64      `gorm:"column:program_id" json:"program_id" yaml:"program_id"`
	DateEnrolled  *time.Time `gorm:"column:date_enrolled" json:"date_enrolled,omitempty" yaml:"date_enrolled"`
	DateCompleted *time.Time `gorm:"column:date_completed" json:"date_completed,omitempty" yaml:"date_completed"`
	Voided        bool       `gorm:"column:voided" json:"voided,omitempty" yaml:"voided"`
}

func (ProgramEnrollment) TableName() string { return "patient_program" }

type PatientState struct {
	ID           int64      `gorm:"primaryKey;column:patient_state_id" json:"id" yaml:"id"`
	EnrollmentID int64      `gorm:"column:patient_program_id" json:"enrollment_id" yaml:"enrollment_id"`
	PatientID    int64      `gorm:"column:patient_id;index" json:"patient_id" yaml:"patient_id"`
	StateID      int64      `gorm:"column:state" json:"state_id" yaml:"state_id"`
	StartDate    *time.Time `gorm:"column:start_date" json:"start_date,omitempty" yaml:"start_date"`
	EndDate      *time.Time `gorm:"column:end_date" json:"end_date,omitempty" yaml:"end_date"`
	Voided       bool       `gorm:"column:voided" json:"voided,omitempty" yaml:"voided"`
}

func (PatientState) TableName() string { return "patient_state" }

type Drug struct {
	ID        int64  `gorm:"primaryKey;column:drug_id" json:"id" yaml:"id"`
	ConceptID int64  `gorm:"column:concept_id" json:"concept_id" yaml:"concept_id"`
	Name      string `gorm:"column:name" json:"name" yaml:"name"`
}

func (Drug) TableName() string { return "drug" }

type DrugOrder struct {
	ID        int64      `gorm:"primaryKey;column:order_id" json:"id" yaml:"id"`
	PatientID int64      `gorm:"column:patient_id;index" json:"patient_id" yaml:"patient_id"`
	DrugID    int64      `gorm:"column:drug_inventory_id" json:"drug_id" yaml:"drug_id"`
	ConceptID int64      `gorm:"column:concept_id" json:"concept_id" yaml:"concept_id"`
	StartDate *time.Time `gorm:"column:start_date" json:"start_date,omitempty" yaml:"start_date"`
	StopDate  *time.Time `gorm:"column:stop_date" json:"stop_date,omitempty" yaml:"stop_date"`
	Voided    bool       `gorm:"column:voided" json:"voided,omitempty" yaml:"voided"`
}

func (DrugOrder) TableName() string { return "drug_order" }

type Encounter struct {
	ID              int64     `gorm:"primaryKey;column:encounter_id" json:"id" yaml:"id"`
	PatientID       int64     `gorm:"column:patient_id;index" json:"patient_id" yaml:"patient_id"`
	EncounterTypeID int64     `gorm:"column:encounter_type" json:"encounter_type_id" yaml:"encounter_type_id"`
	LocationID      int64     `gorm:"column:location_id" json:"location_id" yaml:"location_id"`
	FormID          int64     `gorm:"column:form_id" json:"form_id" yaml:"form_id"`
	ProviderID      int64     `gorm:"column:provider_id" json:"provider_id" yaml:"provider_id"`
	Datetime        time.Time `gorm:"column:encounter_datetime" json:"datetime" yaml:"datetime"`
	Voided          bool      `gorm:"column:voided" json:"voided,omitempty" yaml:"voided"`
}

func (Encounter) TableName() string { return "encounter" }

type Obs struct {
	ID            int64      `gorm:"primaryKey;column:obs_id" json:"id" yaml:"id"`
	PersonID      int64      `gorm:"column:person_id;index" json:"person_id" yaml:"person_id"`
	EncounterID   *int64     `gorm:"column:encounter_id" json:"encounter_id,omitempty" yaml:"encounter_id"`
	ConceptID     int64      `gorm:"column:concept_id;index" json:"concept_id" yaml:"concept_id"`
	Datetime      time.Time  `gorm:"column:obs_datetime" json:"datetime" yaml:"datetime"`
	LocationID    int64      `gorm:"column:location_id" json:"location_id" yaml:"location_id"`
	GroupID       *int64     `gorm:"column:obs_group_id" json:"group_id,omitempty" yaml:"group_id"`
	ValueNumeric  *float64   `gorm:"column:value_numeric" json:"value_numeric,omitempty" yaml:"value_numeric"`
	ValueDatetime *time.Time `gorm:"column:value_datetime" json:"value_datetime,omitempty" yaml:"value_datetime"`
	ValueCoded    *int64     `gorm:"column:value_coded" json:"value_coded,omitempty" yaml:"value_coded"`
	ValueText     *string    `gorm:"column:value_text" json:"value_text,omitempty" yaml:"value_text"`
	Voided        bool       `gorm:"column:voided" json:"voided,omitempty" yaml:"voided"`
}

func (Obs) TableName() string { return "obs" }

type ConceptSetMember struct {
	SetConceptID    int64 `gorm:"primaryKey;column:concept_set" json:"set_concept_id" yaml:"set_concept_id"`
	MemberConceptID int64 `gorm:"primaryKey;column:concept_id" json:"member_concept_id" yaml:"member_concept_id"`
}

func (ConceptSetMember) TableName() string { return "concept_set" }

// PopulationTables lists every population record type, in dependency order.
func PopulationTables() []interface{} {
	return []interface{}{
		&Person{}, &PersonAttribute{}, &ProgramEnrollment{}, &PatientState{},
		&Drug{}, &DrugOrder{}, &Encounter{}, &Obs{}, &ConceptSetMember{},
	}
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Cohort API models
type CohortEvaluateRequest struct {
	CohortID string          `json:"cohort_id,omitempty"`
	Spec     json.RawMessage `json:"spec" validate:"required"`
	ScopeIDs []SubjectID     `json:"scope_ids,omitempty"`
}

type CohortResult struct {
	CohortID  string                 `json:"cohort_id"`
	Kind      string                 `json:"kind"`
	MemberIDs []SubjectID            `json:"member_ids"`
	Count     int                    `json:"count"`
	QueryTime time.Duration          `json:"query_time"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type SQLExecuteRequest struct {
	Query      string                 `json:"query"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type CohortDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description,omitempty"`
	Kind        string          `json:"kind"`
	Spec        json.RawMessage `json:"spec" validate:"required"`
	Tags        []string        `json:"tags,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type CohortMaterializeRequest struct {
	DefinitionID string          `json:"definition_id,omitempty"`
	Spec         json.RawMessage `json:"spec,omitempty" validate:"required_without=DefinitionID"`
	RequestedBy  string          `json:"requested_by,omitempty"`
}

type CohortMaterialization struct {
	ID           string      `json:"id"`
	DefinitionID string      `json:"definition_id,omitempty"`
	Kind         string      `json:"kind"`
	Status       string      `json:"status"`
	ResultCount  int         `json:"result_count"`
	MemberIDs    []SubjectID `json:"member_ids,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	RequestedBy  string      `json:"requested_by,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}
