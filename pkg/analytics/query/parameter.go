package query

type ParameterType string

const (
	DateParameter    ParameterType = "date"
	IntegerParameter ParameterType = "integer"
	StringParameter  ParameterType = "string"
)

// Parameter is a named input a query expects to be bound before execution.
type Parameter struct {
	Name  string        `json:"name"`
	Label string        `json:"label"`
	Type  ParameterType `json:"type"`
}
