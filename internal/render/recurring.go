package render

import (
	"fmt"
	"time"

	"icalfeed/internal/model"
)

// Expander expands one recurrence field item into a finite list of
// occurrences. Implementations bound rules without COUNT or UNTIL.
type Expander interface {
	Expand(item model.FieldItem) ([]model.Occurrence, error)
}

// RecurringMapper maps recurrence-backed date fields.
type RecurringMapper struct {
	Expander Expander
}

// MapRecurringDates returns one draft per expanded occurrence. Items are
// processed in field order and occurrences in the order the expander yields
// them; occurrences of different items are not merged chronologically.
func (m RecurringMapper) MapRecurringDates(entity model.Entity, mapping model.FieldMapping, loc *time.Location) ([]model.EventDraft, error) {
	items := entity.Items(mapping.DateField)
	if len(items) == 0 {
		return nil, nil
	}

	var drafts []model.EventDraft
	for i, item := range items {
		occurrences, err := m.Expander.Expand(item)
		if err != nil {
			return nil, fmt.Errorf("entity %s field %s[%d]: %w: %w", entity.ID, mapping.DateField, i, ErrMalformedData, err)
		}

		for _, occ := range occurrences {
			draft := BuildDefaultDraft(entity, mapping)
			draft.Sequence = len(drafts)
			draft.AllDay = occ.AllDay
			draft.Start = placeInstant(occ.Start, loc, occ.AllDay)
			end := placeInstant(occ.End, loc, occ.AllDay)
			draft.End = &end

			drafts = append(drafts, draft)
		}
	}

	return drafts, nil
}

// MapDates implements OccurrenceMapper.
func (m RecurringMapper) MapDates(entity model.Entity, mapping model.FieldMapping, loc *time.Location) ([]model.EventDraft, error) {
	return m.MapRecurringDates(entity, mapping, loc)
}
