package events

import (
	"errors"
	"fmt"

	"github.com/event-tracker/project/internal/docstore"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("event not found")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPartialDelete    = errors.New("event deleted but favorite cleanup failed")
)

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + " is required"
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PartialDeleteError is returned by Delete when the event document is gone
// but its favorite markers could not all be removed. The deletion stands.
type PartialDeleteError struct {
	EventID string
	Err     error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("event %s deleted, favorite cleanup failed: %v", e.EventID, e.Err)
}

func (e *PartialDeleteError) Is(target error) bool {
	return target == ErrPartialDelete
}

func (e *PartialDeleteError) Unwrap() error {
	return e.Err
}

// storeError maps a document store failure onto the repository taxonomy.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrPartialDelete):
		return "partial"
	default:
		return "store_unavailable"
	}
}
