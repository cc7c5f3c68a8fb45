package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

type envelope struct {
	Kind Kind            `json:"kind"`
	Spec json.RawMessage `json:"spec"`
}

// Marshal encodes spec as {"kind": ..., "spec": {...}}. The encoding is
// deterministic, so it doubles as a cache fingerprint.
func Marshal(spec Specification) ([]byte, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil specification", ErrInvalidSpecification)
	}
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: spec.Kind(), Spec: body})
}

// Unmarshal decodes and validates an envelope produced by Marshal.
func Unmarshal(data []byte) (Specification, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpecification, err)
	}
	if len(env.Spec) == 0 {
		env.Spec = json.RawMessage("{}")
	}
	spec, err := decode(Kind(strings.ToLower(string(env.Kind))), env.Spec)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func decode(kind Kind, raw json.RawMessage) (Specification, error) {
	switch kind {
	case KindGender:
		return decodeAs[GenderQuery](raw)
	case KindAgeRange:
		return decodeAs[AgeRangeQuery](raw)
	case KindProgramEnrollment:
		return decodeAs[ProgramEnrollmentQuery](raw)
	case KindInProgram:
		return decodeAs[InProgramQuery](raw)
	case KindProgramState:
		return decodeAs[ProgramStateQuery](raw)
	case KindInState:
		return decodeAs[InStateQuery](raw)
	case KindActiveDrugOrder:
		return decodeAs[ActiveDrugOrderQuery](raw)
	case KindStartedDrugOrder:
		return decodeAs[StartedDrugOrderQuery](raw)
	case KindCompletedDrugOrder:
		return decodeAs[CompletedDrugOrderQuery](raw)
	case KindObs:
		return decodeAs[ObsQuery](raw)
	case KindRangedObs:
		return decodeAs[RangedObsQuery](raw)
	case KindDiscreteObs:
		return decodeAs[DiscreteObsQuery](raw)
	case KindEncounter:
		return decodeAs[EncounterQuery](raw)
	case KindPersonAttribute:
		return decodeAs[PersonAttributeQuery](raw)
	case KindBirthAndDeath:
		return decodeAs[BirthAndDeathQuery](raw)
	case KindSQL:
		return decodeAs[SQLQuery](raw)
	case KindComposition:
		return decodeAs[CompositionQuery](raw)
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSpecification, kind)
}

func decodeAs[T Specification](raw json.RawMessage) (Specification, error) {
	var spec T
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpecification, err)
	}
	return spec, nil
}

type compositionJSON struct {
	Operator BooleanOperator   `json:"operator"`
	Queries  []json.RawMessage `json:"queries"`
}

func (q CompositionQuery) MarshalJSON() ([]byte, error) {
	payload := compositionJSON{Operator: q.Operator, Queries: make([]json.RawMessage, 0, len(q.Queries))}
	for _, child := range q.Queries {
		encoded, err := Marshal(child)
		if err != nil {
			return nil, err
		}
		payload.Queries = append(payload.Queries, encoded)
	}
	return json.Marshal(payload)
}

func (q *CompositionQuery) UnmarshalJSON(data []byte) error {
	var payload compositionJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	q.Operator = BooleanOperator(strings.ToUpper(string(payload.Operator)))
	q.Queries = make([]Specification, 0, len(payload.Queries))
	for i, raw := range payload.Queries {
		child, err := Unmarshal(raw)
		if err != nil {
			return fmt.Errorf("composition query %d: %w", i, err)
		}
		q.Queries = append(q.Queries, child)
	}
	return nil
}
