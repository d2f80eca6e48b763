package changesink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/event-tracker/project/internal/contracts"
	"github.com/event-tracker/project/internal/sharding"
)

type fakeRepository struct {
	got    []contracts.EventChange
	gotSeq uint64
	err    error
}

func (f *fakeRepository) InsertChange(_ context.Context, change contracts.EventChange, streamSeq uint64) error {
	f.got = append(f.got, change)
	f.gotSeq = streamSeq
	return f.err
}

var subject = sharding.ChangeSubject("user-1")

func validChange() contracts.EventChange {
	return contracts.EventChange{
		ChangeID:    "chg-1",
		EventID:     "evt-1",
		OwnerID:     "user-1",
		ChangeType:  contracts.ChangeFavorited,
		Title:       "Standup",
		IsFavorited: true,
		ShardID:     532,
		OccurredAt:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestHandle_ValidChange(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)
	payload, _ := json.Marshal(validChange())

	if err := svc.Handle(context.Background(), subject, payload, 42); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(repo.got) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.got))
	}
	if repo.got[0] != validChange() {
		t.Fatalf("unexpected change in repository: %+v", repo.got[0])
	}
	if repo.gotSeq != 42 {
		t.Fatalf("expected stream sequence 42, got %d", repo.gotSeq)
	}
}

func TestHandle_InvalidPayload(t *testing.T) {
	svc := NewService(&fakeRepository{})
	if err := svc.Handle(context.Background(), subject, []byte("{invalid"), 1); !errors.Is(err, ErrInvalidChangePayload) {
		t.Fatalf("expected ErrInvalidChangePayload, got %v", err)
	}

	missingOwner := validChange()
	missingOwner.OwnerID = ""
	payload, _ := json.Marshal(missingOwner)
	if err := svc.Handle(context.Background(), subject, payload, 1); !errors.Is(err, ErrInvalidChangePayload) {
		t.Fatalf("expected ErrInvalidChangePayload for missing owner, got %v", err)
	}
}

func TestHandle_SubjectMismatch(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)
	payload, _ := json.Marshal(validChange())

	if err := svc.Handle(context.Background(), sharding.ChangeSubject("user-2"), payload, 1); !errors.Is(err, ErrInvalidChangePayload) {
		t.Fatalf("expected ErrInvalidChangePayload, got %v", err)
	}
	if len(repo.got) != 0 {
		t.Fatalf("mismatched change reached the repository")
	}
}

func TestHandle_UnsupportedChangeType(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)
	change := validChange()
	change.ChangeType = "todo.created"
	payload, _ := json.Marshal(change)

	if err := svc.Handle(context.Background(), subject, payload, 1); !errors.Is(err, ErrUnsupportedChangeType) {
		t.Fatalf("expected ErrUnsupportedChangeType, got %v", err)
	}
	if len(repo.got) != 0 {
		t.Fatalf("unsupported change reached the repository")
	}
}

func TestHandle_RepositoryError(t *testing.T) {
	repo := &fakeRepository{err: errors.New("db down")}
	svc := NewService(repo)
	payload, _ := json.Marshal(validChange())
	if err := svc.Handle(context.Background(), subject, payload, 1); err == nil || err.Error() != "db down" {
		t.Fatalf("expected repository error, got %v", err)
	}
}
