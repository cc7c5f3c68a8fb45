package dataset

import (
	"time"
)

// Converter transforms an extracted value before it is rendered.
type Converter interface {
	Convert(value interface{}) interface{}
}

// DateConverter formats time values with Layout; other values pass through.
type DateConverter struct {
	Layout string
}

func (c DateConverter) Convert(value interface{}) interface{} {
	layout := c.Layout
	if layout == "" {
		layout = "2006-01-02"
	}
	switch v := value.(type) {
	case time.Time:
		return v.Format(layout)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.Format(layout)
	}
	return value
}

// NullValueConverter replaces missing values.
type NullValueConverter struct {
	Replacement interface{}
}

func (c NullValueConverter) Convert(value interface{}) interface{} {
	if value == nil {
		return c.Replacement
	}
	if t, ok := value.(*time.Time); ok && t == nil {
		return c.Replacement
	}
	return value
}

// ChainedConverter applies its converters in order.
type ChainedConverter []Converter

func (c ChainedConverter) Convert(value interface{}) interface{} {
	for _, conv := range c {
		if conv != nil {
			value = conv.Convert(value)
		}
	}
	return value
}
