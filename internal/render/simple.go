package render

import (
	"fmt"
	"strings"
	"time"

	"icalfeed/internal/model"
)

// MapSimpleDates returns one draft per item of the mapped date field, in
// storage order. Stored values are read as UTC and converted to loc. An item
// without an end value yields a draft without End. All-day items keep their
// calendar dates: they become midnights in loc instead of converted instants.
func MapSimpleDates(entity model.Entity, mapping model.FieldMapping, loc *time.Location) ([]model.EventDraft, error) {
	items := entity.Items(mapping.DateField)
	if len(items) == 0 {
		return nil, nil
	}

	drafts := make([]model.EventDraft, 0, len(items))
	for i, item := range items {
		draft := BuildDefaultDraft(entity, mapping)
		draft.Sequence = i

		start, err := parseStoredDate(item.Value())
		if err != nil {
			return nil, fmt.Errorf("entity %s field %s[%d] value: %w", entity.ID, mapping.DateField, i, err)
		}
		draft.AllDay = item.AllDay()
		draft.Start = placeInstant(start, loc, draft.AllDay)

		if endText := strings.TrimSpace(item[model.PropEndValue]); endText != "" {
			end, err := parseStoredDate(endText)
			if err != nil {
				return nil, fmt.Errorf("entity %s field %s[%d] end_value: %w", entity.ID, mapping.DateField, i, err)
			}
			end = placeInstant(end, loc, draft.AllDay)
			draft.End = &end
		}

		drafts = append(drafts, draft)
	}

	return drafts, nil
}

// placeInstant expresses a stored instant in loc. All-day values are
// anchored to the same calendar date in loc.
func placeInstant(t time.Time, loc *time.Location, allDay bool) time.Time {
	if allDay {
		return model.AnchorDate(t, loc)
	}
	return t.In(loc)
}

func parseStoredDate(text string) (time.Time, error) {
	t, err := model.ParseStoredTime(text)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrMalformedData, err)
	}
	return t, nil
}
