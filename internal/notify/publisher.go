// Package notify publishes engine signals over NATS. Delivery is
// fire-and-forget: the engine's correctness never depends on a subscriber
// seeing a message.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

const (
	// SubjectConsensusChanged carries verdict transitions for downstream
	// alerting and map UIs.
	SubjectConsensusChanged = "veritas.consensus.changed"

	// SubjectVoteAccepted announces each durably accepted vote.
	SubjectVoteAccepted = "veritas.vote.accepted"
)

// ConsensusChanged is emitted whenever a recomputation moves an event's
// verdict.
type ConsensusChanged struct {
	EventID    string    `json:"event_id"`
	OldVerdict string    `json:"old_verdict"`
	NewVerdict string    `json:"new_verdict"`
	Confidence float64   `json:"confidence"`
	ChangedAt  time.Time `json:"changed_at"`
}

// VoteAccepted announces a recorded vote without its voter's location.
type VoteAccepted struct {
	EventID  string    `json:"event_id"`
	VoterID  string    `json:"voter_id"`
	VoteType string    `json:"vote_type"`
	CastAt   time.Time `json:"cast_at"`
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, logger: logger}, nil
}

// PublishConsensusChanged publishes a verdict transition. Transitions are
// the one signal worth a few retries; delivery still fails open.
func (c *Client) PublishConsensusChanged(evt ConsensusChanged) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		return c.publish(SubjectConsensusChanged, evt)
	}, backoff.WithMaxRetries(bo, 3))
}

// PublishVoteAccepted publishes a single accepted vote, best effort.
func (c *Client) PublishVoteAccepted(evt VoteAccepted) error {
	return c.publish(SubjectVoteAccepted, evt)
}

func (c *Client) publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Close() {
	c.conn.Close()
}
