package contracts

import "time"

const (
	ChangeCreated     = "event.created"
	ChangeUpdated     = "event.updated"
	ChangeDeleted     = "event.deleted"
	ChangeFavorited   = "event.favorited"
	ChangeUnfavorited = "event.unfavorited"
)

// EventChange is published by the event repository after a confirmed write
// and consumed by change-sink.
type EventChange struct {
	ChangeID    string    `json:"change_id"`
	EventID     string    `json:"event_id"`
	OwnerID     string    `json:"owner_id"`
	ChangeType  string    `json:"change_type"`
	Title       string    `json:"title"`
	IsFavorited bool      `json:"is_favorited"`
	OccurredAt  time.Time `json:"occurred_at"`
	ShardID     int       `json:"shard_id"`
}

func KnownChangeType(changeType string) bool {
	switch changeType {
	case ChangeCreated, ChangeUpdated, ChangeDeleted, ChangeFavorited, ChangeUnfavorited:
		return true
	default:
		return false
	}
}
