// Package events publishes end-of-run SyncStats as provenance events onto
// a JetStream stream, grounded on go-core/natsclient (client.go, stream.go)
// and audit-service's outbox-consumer naming convention for subjects. This
// is optional and nil-able: unit tests and single-shot CLI runs construct a
// Publisher with a nil client and every Publish call becomes a no-op.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
)

const (
	// StreamPipelineEvents is the durable stream that captures pipeline
	// run-completion events.
	StreamPipelineEvents = "PIPELINE_EVENTS"
	// SubjectPrefix every published subject is rooted under.
	SubjectPrefix = "PIPELINE_EVENTS.pipeline"
)

// Client holds a live NATS connection and its JetStream context. Unlike a
// generic connection wrapper, Connect always provisions the pipeline's own
// stream before returning, since every caller of this package needs
// StreamPipelineEvents to exist and there's no other user of this
// connection that wouldn't.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// Connect dials url, opens a JetStream context, and idempotently ensures
// StreamPipelineEvents exists, so a freshly connected Client is always
// ready to publish.
func Connect(url string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: open jetstream context: %w", err)
	}
	c := &Client{Conn: nc, JS: js, Log: logger}

	if err := c.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	logger.Info("nats jetstream connected", zap.String("url", url), zap.String("stream", StreamPipelineEvents))
	return c, nil
}

// ensureStream creates StreamPipelineEvents if it doesn't already exist.
func (c *Client) ensureStream() error {
	if _, err := c.JS.StreamInfo(StreamPipelineEvents); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("events: stream info: %w", err)
	}
	_, err := c.JS.AddStream(&nats.StreamConfig{
		Name:      StreamPipelineEvents,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("events: create stream: %w", err)
	}
	return nil
}

// Close drains in-flight publishes before closing the connection; a nil
// Conn (the zero-value Client some tests construct) is a no-op.
func (c *Client) Close() {
	if c.Conn != nil && c.Conn.Drain() != nil {
		c.Conn.Close()
	}
}

// Publisher publishes a completed sync stage's stats. A nil *Client makes
// every Publish call a no-op, so callers never need a feature flag.
type Publisher struct {
	client *Client
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

type completionEvent struct {
	Stage  string          `json:"stage"`
	Counts map[stats.Event]int `json:"counts"`
}

// PublishStageCompleted publishes stage's stats snapshot to
// PIPELINE_EVENTS.pipeline.<stage>.completed.
func (p *Publisher) PublishStageCompleted(stage string, s *stats.SyncStats) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(completionEvent{Stage: stage, Counts: s.Snapshot()})
	if err != nil {
		return fmt.Errorf("events: marshal stage completion: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.completed", SubjectPrefix, stage)
	if _, err := p.client.JS.Publish(subject, payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}
