package changesink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/event-tracker/project/internal/contracts"
	"github.com/event-tracker/project/internal/sharding"
)

var (
	ErrInvalidChangePayload  = errors.New("invalid change payload")
	ErrUnsupportedChangeType = errors.New("unsupported change type")
)

type Repository interface {
	InsertChange(ctx context.Context, change contracts.EventChange, streamSeq uint64) error
}

// Service writes change notices into the audit journal.
type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

// Handle decodes one change notice. The subject must route to the same
// owner and shard the payload names.
func (s *Service) Handle(ctx context.Context, subject string, payload []byte, streamSeq uint64) error {
	var change contracts.EventChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return ErrInvalidChangePayload
	}
	if strings.TrimSpace(change.ChangeID) == "" || strings.TrimSpace(change.EventID) == "" || strings.TrimSpace(change.OwnerID) == "" {
		return ErrInvalidChangePayload
	}
	shard, owner, ok := sharding.ParseChangeSubject(subject)
	if !ok || owner != change.OwnerID || shard != change.ShardID {
		return ErrInvalidChangePayload
	}
	if !contracts.KnownChangeType(change.ChangeType) {
		return ErrUnsupportedChangeType
	}
	return s.Repository.InsertChange(ctx, change, streamSeq)
}
