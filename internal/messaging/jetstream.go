package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const (
	ChangesStream  = "CHANGES"
	ChangesSubject = "app.change.>"
)

// EnsureStreams creates the change journal stream if it does not exist yet.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(ChangesStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:      ChangesStream,
			Subjects:  []string{ChangesSubject},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			Replicas:  1,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
