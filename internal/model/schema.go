package model

import "errors"

// FieldType is the declared storage type of a field.
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeText      FieldType = "text"
	FieldTypeDatetime  FieldType = "datetime"
	FieldTypeDaterange FieldType = "daterange"
	FieldTypeDateRecur FieldType = "date_recur"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeText, FieldTypeDatetime, FieldTypeDaterange, FieldTypeDateRecur:
		return true
	}
	return false
}

// DateFieldSettings are display settings of the date field within a view.
type DateFieldSettings struct {
	TimezoneOverride string `yaml:"timezone_override,omitempty" json:"timezone_override,omitempty"`
}

// FieldDefinition describes one field of an entity type.
type FieldDefinition struct {
	EntityType string
	Name       string
	Type       FieldType

	// Recurring is set for fields whose items expand through a recurrence
	// rule.
	Recurring bool
}

// DateFieldKind tells the render pipeline how to read a date field.
type DateFieldKind int

const (
	DateFieldSimple DateFieldKind = iota
	DateFieldRecurring
)

func (k DateFieldKind) String() string {
	if k == DateFieldRecurring {
		return "recurring"
	}
	return "simple"
}

// ErrNotFound is returned by stores when an entity or field definition does
// not exist.
var ErrNotFound = errors.New("not found")
