package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/event-tracker/project/internal/contracts"
	"github.com/event-tracker/project/internal/docstore"
	"github.com/event-tracker/project/internal/platform/metrics"
	"github.com/event-tracker/project/internal/sharding"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxWriteAttempts bounds read-modify-write retries after a revision conflict.
const maxWriteAttempts = 3

type PublishFunc func(subject string, payload []byte) error

// Repository is the user-scoped view over the events and favorites
// collections. Every operation takes the owner id explicitly. The event's
// isFavorited flag is authoritative; favorite markers are derived from it.
//
// List results come back in store order. The in-memory backends and the
// SQL backends return insertion order, but nothing else guarantees it.
type Repository struct {
	Store       docstore.Store
	Publish     PublishFunc
	Logger      *zap.Logger
	Metrics     *metrics.Recorder
	Now         func() time.Time
	NewChangeID func() string

	views projections
	locks keyedMutex
}

func NewRepository(store docstore.Store) *Repository {
	return &Repository{
		Store:       store,
		Logger:      zap.NewNop(),
		Now:         func() time.Time { return time.Now().UTC() },
		NewChangeID: uuid.NewString,
	}
}

func (r *Repository) Create(ctx context.Context, ownerID, title, description, date string) (ev Event, err error) {
	defer r.observe("create", time.Now(), &err)
	if err := requireOwner(ownerID); err != nil {
		return Event{}, err
	}

	ev = Event{OwnerID: ownerID, Title: title, Description: description, Date: date}
	if err := ev.normalize(); err != nil {
		return Event{}, err
	}
	id, err := r.Store.CreateDoc(ctx, CollectionEvents, ev.documentFields())
	if err != nil {
		return Event{}, unavailable(err)
	}
	ev.ID = id

	r.views.with(ownerID, func(p *projection) { p.upsert(ev) })
	r.publish(contracts.ChangeCreated, ev)
	return ev, nil
}

// List returns every event owned by ownerID and replaces the owner's
// projection with the result. Each call re-queries the store; writes that
// land while the query runs are kept over the stale read.
func (r *Repository) List(ctx context.Context, ownerID string) (events []Event, err error) {
	defer r.observe("list", time.Now(), &err)
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	var since uint64
	r.views.with(ownerID, func(p *projection) { since = p.beginRefresh() })
	fetched, err := r.queryOwned(ctx, ownerID)
	r.views.with(ownerID, func(p *projection) {
		p.endRefresh(since, fetched, err == nil)
		if err == nil {
			events = p.snapshot()
		}
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListFavorites filters List by the isFavorited flag, the same field
// ToggleFavorite writes.
func (r *Repository) ListFavorites(ctx context.Context, ownerID string) ([]Event, error) {
	all, err := r.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	favorites := make([]Event, 0, len(all))
	for _, e := range all {
		if e.IsFavorited {
			favorites = append(favorites, e)
		}
	}
	return favorites, nil
}

// View returns the owner's projection without touching the store.
func (r *Repository) View(ownerID string) ([]Event, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	var out []Event
	r.views.with(ownerID, func(p *projection) { out = p.snapshot() })
	return out, nil
}

func (r *Repository) Update(ctx context.Context, ownerID, eventID string, patch EventPatch) (ev Event, err error) {
	defer r.observe("update", time.Now(), &err)
	if err := requireOwner(ownerID); err != nil {
		return Event{}, err
	}
	unlock := r.locks.lock(eventID)
	defer unlock()

	ev, err = r.readModifyWrite(ctx, ownerID, eventID, func(e *Event) (docstore.Fields, error) {
		patch.apply(e)
		if err := e.normalize(); err != nil {
			return nil, err
		}
		return docstore.Fields{
			fieldTitle:       e.Title,
			fieldDescription: e.Description,
			fieldDate:        e.Date,
		}, nil
	})
	if err != nil {
		r.forgetIfGone(ownerID, eventID, err)
		return Event{}, err
	}

	r.views.with(ownerID, func(p *projection) { p.upsert(ev) })
	r.publish(contracts.ChangeUpdated, ev)
	return ev, nil
}

// Delete removes the event and then its favorite markers. The event leaves
// the projection before the store call and comes back only if that call
// fails. A marker cleanup failure yields a *PartialDeleteError; the event
// stays deleted.
func (r *Repository) Delete(ctx context.Context, ownerID, eventID string) (err error) {
	defer r.observe("delete", time.Now(), &err)
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	unlock := r.locks.lock(eventID)
	defer unlock()

	_, ev, err := r.loadOwned(ctx, ownerID, eventID)
	if err != nil {
		r.forgetIfGone(ownerID, eventID, err)
		return err
	}

	var (
		removed Event
		index   int
	)
	r.views.with(ownerID, func(p *projection) { removed, index = p.remove(eventID) })

	if err := r.Store.DeleteDoc(ctx, CollectionEvents, eventID); err != nil {
		if index >= 0 {
			r.views.with(ownerID, func(p *projection) { p.restore(removed, index) })
		}
		return unavailable(err)
	}
	r.publish(contracts.ChangeDeleted, ev)

	if err := r.removeMarkers(ctx, ownerID, eventID); err != nil {
		r.Logger.Warn("favorite marker cleanup failed after delete",
			zap.String("owner_id", ownerID),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return &PartialDeleteError{EventID: eventID, Err: err}
	}
	return nil
}

// ToggleFavorite flips isFavorited against the stored revision, never the
// projection, so racing toggles serialize instead of overwriting each other.
func (r *Repository) ToggleFavorite(ctx context.Context, ownerID, eventID string) (ev Event, err error) {
	defer r.observe("toggle_favorite", time.Now(), &err)
	if err := requireOwner(ownerID); err != nil {
		return Event{}, err
	}
	unlock := r.locks.lock(eventID)
	defer unlock()

	ev, err = r.readModifyWrite(ctx, ownerID, eventID, func(e *Event) (docstore.Fields, error) {
		e.IsFavorited = !e.IsFavorited
		return docstore.Fields{fieldIsFavorited: e.IsFavorited}, nil
	})
	if err != nil {
		r.forgetIfGone(ownerID, eventID, err)
		return Event{}, err
	}

	r.views.with(ownerID, func(p *projection) { p.upsert(ev) })
	r.syncMarker(ctx, ev)
	if ev.IsFavorited {
		r.publish(contracts.ChangeFavorited, ev)
	} else {
		r.publish(contracts.ChangeUnfavorited, ev)
	}
	return ev, nil
}

func (r *Repository) readModifyWrite(ctx context.Context, ownerID, eventID string, change func(*Event) (docstore.Fields, error)) (Event, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		doc, ev, err := r.loadOwned(ctx, ownerID, eventID)
		if err != nil {
			return Event{}, err
		}
		fields, err := change(&ev)
		if err != nil {
			return Event{}, err
		}
		_, err = r.Store.UpdateDoc(ctx, CollectionEvents, eventID, fields, doc.Revision)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, docstore.ErrRevisionConflict) {
			return Event{}, storeError(err)
		}
		lastErr = err
		r.Logger.Debug("revision conflict, retrying",
			zap.String("event_id", eventID),
			zap.Int("attempt", attempt+1),
		)
	}
	return Event{}, unavailable(lastErr)
}

// loadOwned reads an event and hides it unless ownerID owns it.
func (r *Repository) loadOwned(ctx context.Context, ownerID, eventID string) (docstore.Document, Event, error) {
	if strings.TrimSpace(eventID) == "" {
		return docstore.Document{}, Event{}, ErrNotFound
	}
	doc, err := r.Store.GetDoc(ctx, CollectionEvents, eventID)
	if err != nil {
		return docstore.Document{}, Event{}, storeError(err)
	}
	ev := eventFromDocument(doc)
	if ev.OwnerID != ownerID {
		return docstore.Document{}, Event{}, ErrNotFound
	}
	return doc, ev, nil
}

func (r *Repository) queryOwned(ctx context.Context, ownerID string) ([]Event, error) {
	docs, err := r.Store.QueryDocs(ctx, CollectionEvents, docstore.Eq(fieldOwnerID, ownerID))
	if err != nil {
		return nil, unavailable(err)
	}
	events := make([]Event, 0, len(docs))
	for _, doc := range docs {
		ev := eventFromDocument(doc)
		if ev.OwnerID != ownerID {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *Repository) forgetIfGone(ownerID, eventID string, err error) {
	if !errors.Is(err, ErrNotFound) {
		return
	}
	r.views.with(ownerID, func(p *projection) { p.remove(eventID) })
}

func (r *Repository) publish(changeType string, ev Event) {
	if r.Publish == nil {
		return
	}
	change := contracts.EventChange{
		ChangeID:    r.NewChangeID(),
		EventID:     ev.ID,
		OwnerID:     ev.OwnerID,
		ChangeType:  changeType,
		Title:       ev.Title,
		IsFavorited: ev.IsFavorited,
		OccurredAt:  r.Now(),
		ShardID:     sharding.GetShardID(ev.OwnerID),
	}
	payload, err := json.Marshal(change)
	if err == nil {
		err = r.Publish(sharding.ChangeSubject(ev.OwnerID), payload)
	}
	r.Metrics.Published(err)
	if err != nil {
		r.Logger.Warn("publish event change failed",
			zap.String("change_type", changeType),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
}

func (r *Repository) observe(op string, start time.Time, err *error) {
	r.Metrics.Observe(op, outcome(*err), time.Since(start))
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrUnauthenticated
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
