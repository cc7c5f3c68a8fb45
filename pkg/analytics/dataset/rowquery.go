package dataset

import (
	"fmt"
	"time"

	"github.com/synaptica-ai/reporting/pkg/analytics/dsl"
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
)

// EncounterRowQuery selects the encounters that become dataset rows.
type EncounterRowQuery interface {
	Parameters() []query.Parameter
	Validate() error
}

// BasicEncounterRowQuery keeps encounters of the listed types, locations and
// forms (any when empty) inside the window. The window may instead be bound
// through the onOrAfter and onOrBefore parameters.
type BasicEncounterRowQuery struct {
	EncounterTypeIDs []int64    `json:"encounter_type_ids,omitempty" yaml:"encounter_type_ids"`
	LocationIDs      []int64    `json:"location_ids,omitempty" yaml:"location_ids"`
	FormIDs          []int64    `json:"form_ids,omitempty" yaml:"form_ids"`
	OnOrAfter        *time.Time `json:"on_or_after,omitempty" yaml:"on_or_after"`
	OnOrBefore       *time.Time `json:"on_or_before,omitempty" yaml:"on_or_before"`
}

func (BasicEncounterRowQuery) Parameters() []query.Parameter {
	return []query.Parameter{
		{Name: "onOrAfter", Label: "On or after", Type: query.DateParameter},
		{Name: "onOrBefore", Label: "On or before", Type: query.DateParameter},
	}
}

func (q BasicEncounterRowQuery) Validate() error {
	if q.OnOrAfter != nil && q.OnOrBefore != nil && q.OnOrAfter.After(*q.OnOrBefore) {
		return fmt.Errorf("%w: on_or_after is later than on_or_before", query.ErrInvalidSpecification)
	}
	return nil
}

// SQLEncounterRowQuery selects encounter ids with raw query text.
type SQLEncounterRowQuery struct {
	Query string `json:"query" yaml:"query"`
}

func (q SQLEncounterRowQuery) Parameters() []query.Parameter {
	params, err := dsl.ParseSQL(q.Query)
	if err != nil {
		return nil
	}
	return params
}

func (q SQLEncounterRowQuery) Validate() error {
	if _, err := dsl.ParseSQL(q.Query); err != nil {
		return err
	}
	return nil
}
