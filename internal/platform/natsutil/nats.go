package natsutil

import (
	"fmt"
	"time"

	"github.com/event-tracker/project/internal/messaging"
	"github.com/nats-io/nats.go"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// ConnectJetStream connects, opens a JetStream context and makes sure the
// change stream exists.
func ConnectJetStream(url, name string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

func ConnectJetStreamWithRetry(url, name string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ConnectJetStream(url, name)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// JetStreamPublisher publishes change notices and waits for the stream ack.
type JetStreamPublisher struct {
	JS      nats.JetStreamContext
	Timeout time.Duration
}

func (p JetStreamPublisher) Publish(subject string, payload []byte) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	_, err := p.JS.Publish(subject, payload,
		nats.ExpectStream(messaging.ChangesStream),
		nats.AckWait(timeout),
	)
	return err
}
