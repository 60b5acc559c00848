package render

import (
	"html"

	"github.com/microcosm-cc/bluemonday"

	"icalfeed/internal/model"
)

// stripPolicy drops every tag but keeps the text of script and style
// elements, the way tag stripping does. The result is only ever used as
// plain text, never as HTML.
var stripPolicy = bluemonday.StrictPolicy().
	AllowElementsContent("script", "style").
	AllowUnsafe(true)

// BuildDefaultDraft creates a draft carrying the entity's summary, location
// and description according to mapping. Date properties are left for the
// mappers to fill in.
func BuildDefaultDraft(entity model.Entity, mapping model.FieldMapping) model.EventDraft {
	draft := model.EventDraft{
		EntityID:    entity.ID,
		UseTimezone: true,
	}

	if mapping.SummaryField != "" {
		if v, ok := entity.First(mapping.SummaryField); ok {
			draft.Summary = &v
		}
	}

	if mapping.LocationField != "" {
		if v, ok := entity.First(mapping.LocationField); ok {
			draft.Location = &v
		}
	}

	if mapping.DescriptionField != "" {
		if v, ok := entity.First(mapping.DescriptionField); ok {
			plain := stripTags(v)
			draft.Description = &plain
		}
	}

	return draft
}

// stripTags removes all markup. The policy escapes text it keeps, so entities
// are decoded again to return plain text rather than escaped HTML. Entities
// written in the source are decoded too: "&lt;b&gt;" becomes "<b>".
func stripTags(s string) string {
	return html.UnescapeString(stripPolicy.Sanitize(s))
}
