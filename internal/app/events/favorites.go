package events

import (
	"context"
	"errors"
	"time"

	"github.com/event-tracker/project/internal/docstore"
	"go.uber.org/zap"
)

// ReconcileReport counts the marker repairs made by ReconcileFavorites.
type ReconcileReport struct {
	Checked int `json:"checked"`
	Created int `json:"created"`
	Removed int `json:"removed"`
}

// ReconcileFavorites brings the favorites collection back in line with the
// isFavorited flags: one marker per favorited event, none for anything
// else. It is safe to run repeatedly.
func (r *Repository) ReconcileFavorites(ctx context.Context, ownerID string) (report ReconcileReport, err error) {
	defer r.observe("reconcile_favorites", time.Now(), &err)
	if err := requireOwner(ownerID); err != nil {
		return report, err
	}

	owned, err := r.queryOwned(ctx, ownerID)
	if err != nil {
		return report, err
	}
	markers, err := r.queryMarkers(ctx, docstore.Eq(fieldOwnerID, ownerID))
	if err != nil {
		return report, err
	}
	report.Checked = len(owned)

	favorited := make(map[string]bool, len(owned))
	for _, e := range owned {
		if e.IsFavorited {
			favorited[e.ID] = true
		}
	}

	covered := make(map[string]bool, len(markers))
	for _, m := range markers {
		if favorited[m.EventID] && !covered[m.EventID] {
			covered[m.EventID] = true
			continue
		}
		if err := r.Store.DeleteDoc(ctx, CollectionFavorites, m.ID); err != nil {
			return report, unavailable(err)
		}
		report.Removed++
	}

	for _, e := range owned {
		if !e.IsFavorited || covered[e.ID] {
			continue
		}
		if err := r.createMarker(ctx, e); err != nil {
			return report, err
		}
		report.Created++
	}

	if report.Created > 0 || report.Removed > 0 {
		r.Logger.Info("favorite markers reconciled",
			zap.String("owner_id", ownerID),
			zap.Int("created", report.Created),
			zap.Int("removed", report.Removed),
		)
	}
	return report, nil
}

// syncMarker makes the favorites collection follow a confirmed toggle.
// Failures are logged only; ReconcileFavorites repairs any drift.
func (r *Repository) syncMarker(ctx context.Context, ev Event) {
	var err error
	if ev.IsFavorited {
		err = r.ensureMarker(ctx, ev)
	} else {
		err = r.removeMarkers(ctx, ev.OwnerID, ev.ID)
	}
	if err != nil {
		r.Logger.Warn("favorite marker out of sync",
			zap.String("owner_id", ev.OwnerID),
			zap.String("event_id", ev.ID),
			zap.Bool("is_favorited", ev.IsFavorited),
			zap.Error(err),
		)
	}
}

func (r *Repository) ensureMarker(ctx context.Context, ev Event) error {
	markers, err := r.queryMarkers(ctx,
		docstore.Eq(fieldOwnerID, ev.OwnerID),
		docstore.Eq(fieldEventID, ev.ID),
	)
	if err != nil {
		return err
	}
	if len(markers) == 0 {
		return r.createMarker(ctx, ev)
	}
	var errs []error
	for _, extra := range markers[1:] {
		if err := r.Store.DeleteDoc(ctx, CollectionFavorites, extra.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return unavailable(errors.Join(errs...))
	}
	return nil
}

func (r *Repository) removeMarkers(ctx context.Context, ownerID, eventID string) error {
	markers, err := r.queryMarkers(ctx,
		docstore.Eq(fieldOwnerID, ownerID),
		docstore.Eq(fieldEventID, eventID),
	)
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range markers {
		if err := r.Store.DeleteDoc(ctx, CollectionFavorites, m.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return unavailable(errors.Join(errs...))
	}
	return nil
}

func (r *Repository) createMarker(ctx context.Context, ev Event) error {
	_, err := r.Store.CreateDoc(ctx, CollectionFavorites, docstore.Fields{
		fieldOwnerID: ev.OwnerID,
		fieldEventID: ev.ID,
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Repository) queryMarkers(ctx context.Context, filters ...docstore.Filter) ([]FavoriteMarker, error) {
	docs, err := r.Store.QueryDocs(ctx, CollectionFavorites, filters...)
	if err != nil {
		return nil, unavailable(err)
	}
	markers := make([]FavoriteMarker, 0, len(docs))
	for _, doc := range docs {
		markers = append(markers, markerFromDocument(doc))
	}
	return markers, nil
}

// Markers lists the owner's favorite markers, mostly for diagnostics.
func (r *Repository) Markers(ctx context.Context, ownerID string) ([]FavoriteMarker, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return r.queryMarkers(ctx, docstore.Eq(fieldOwnerID, ownerID))
}
