package events

import (
	"errors"
	"reflect"
	"strings"

	"github.com/event-tracker/project/internal/docstore"
	"github.com/go-playground/validator/v10"
)

const (
	CollectionEvents    = "events"
	CollectionFavorites = "favorites"

	fieldOwnerID     = "ownerId"
	fieldEventID     = "eventId"
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldDate        = "date"
	fieldIsFavorited = "isFavorited"
)

// Event is a user-owned calendar item. Date is free-form text.
type Event struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Date        string `json:"date" validate:"required"`
	IsFavorited bool   `json:"isFavorited"`
}

// FavoriteMarker is the derived favorites-collection record for a
// favorited event.
type FavoriteMarker struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	EventID string `json:"eventId"`
}

// EventPatch carries the editable fields for Update; nil leaves a field as is.
type EventPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Date        *string `json:"date,omitempty"`
}

func (p EventPatch) apply(e *Event) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// normalize trims the text fields and checks that none is empty.
func (e *Event) normalize() error {
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
	e.Date = strings.TrimSpace(e.Date)

	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &ValidationError{Field: fieldErrs[0].Field()}
	}
	return &ValidationError{Field: "event"}
}

func (e Event) documentFields() docstore.Fields {
	return docstore.Fields{
		fieldOwnerID:     e.OwnerID,
		fieldTitle:       e.Title,
		fieldDescription: e.Description,
		fieldDate:        e.Date,
		fieldIsFavorited: e.IsFavorited,
	}
}

func eventFromDocument(doc docstore.Document) Event {
	return Event{
		ID:          doc.ID,
		OwnerID:     doc.Fields.String(fieldOwnerID),
		Title:       doc.Fields.String(fieldTitle),
		Description: doc.Fields.String(fieldDescription),
		Date:        doc.Fields.String(fieldDate),
		IsFavorited: doc.Fields.Bool(fieldIsFavorited),
	}
}

func markerFromDocument(doc docstore.Document) FavoriteMarker {
	return FavoriteMarker{
		ID:      doc.ID,
		OwnerID: doc.Fields.String(fieldOwnerID),
		EventID: doc.Fields.String(fieldEventID),
	}
}
