package model

import (
	"strings"
	"time"
)

// Field item property names. Stored date values follow the storage
// convention of being written in UTC.
const (
	PropValue    = "value"
	PropEndValue = "end_value"
	PropRRule    = "rrule"
	PropTimezone = "timezone"

	// PropAllDay marks an item whose dates are whole calendar days. Its
	// values are date-only and carry no time of day or zone.
	PropAllDay = "all_day"
)

// FieldItem is one stored value of a (possibly multi-valued) field, keyed by
// property name.
type FieldItem map[string]string

// Value returns the trimmed "value" property.
func (i FieldItem) Value() string {
	return strings.TrimSpace(i[PropValue])
}

// AllDay reports whether the item holds whole days.
func (i FieldItem) AllDay() bool {
	switch strings.ToLower(strings.TrimSpace(i[PropAllDay])) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Entity is a read-only record exposing named fields. Field items are kept in
// storage order.
type Entity struct {
	ID     string
	Type   string
	Label  string
	Fields map[string][]FieldItem
}

// Items returns the items of field name, or nil when the entity has none.
func (e Entity) Items(name string) []FieldItem {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[name]
}

// First returns the first item's value and whether it is non-empty.
func (e Entity) First(name string) (string, bool) {
	items := e.Items(name)
	if len(items) == 0 {
		return "", false
	}
	v := items[0].Value()
	if v == "" {
		return "", false
	}
	return v, true
}

// FieldMapping selects which entity fields feed which calendar properties.
// An empty name means the property is not mapped.
type FieldMapping struct {
	DateField        string `yaml:"date_field" json:"date_field"`
	SummaryField     string `yaml:"summary_field,omitempty" json:"summary_field,omitempty"`
	LocationField    string `yaml:"location_field,omitempty" json:"location_field,omitempty"`
	DescriptionField string `yaml:"description_field,omitempty" json:"description_field,omitempty"`
}

// Occurrence is one concrete instance produced by expanding a recurrence
// rule.
type Occurrence struct {
	Start time.Time
	End   time.Time

	// AllDay occurrences hold UTC midnights standing for calendar dates.
	AllDay bool
}

// EventDraft is the pre-serialization form of one calendar event. Optional
// properties are nil when unset.
type EventDraft struct {
	Summary     *string
	Location    *string
	Description *string

	// Start / End are in the resolved feed timezone.
	Start time.Time
	End   *time.Time

	UseTimezone bool

	// AllDay drafts cover whole days: Start and End are midnights in the
	// feed zone and are serialized as dates.
	AllDay bool

	// EntityID and Sequence identify the draft within a feed so the
	// serializer can derive stable UIDs.
	EntityID string
	Sequence int
}
