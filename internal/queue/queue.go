// Package queue wraps NATS JetStream as the durable, at-least-once message
// substrate between trigger entrypoints and the worker pool, and as the
// event bus carrying status-change notifications.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Message is the wire payload published for every execution dispatch.
type Message struct {
	ExecutionID    string `json:"executionId"`
	JobID          string `json:"jobId"`
	IdempotencyKey string `json:"idempotencyKey"`
	Attempt        int    `json:"attempt"`
}

// StatusEvent is one event-bus notification. Kind selects which optional
// fields are populated; subject naming is per-execution so targeted
// subscribers can filter without inspecting the body.
type StatusEvent struct {
	Type        string `json:"type"`
	ExecutionID string `json:"executionId,omitempty"`
	JobID       string `json:"jobId,omitempty"`
	Status      string `json:"status,omitempty"`
}

const (
	dispatchSubjectPrefix = "jobs.dispatch"
	statusSubjectPrefix   = "jobs.status"
)

func dispatchSubject(jobID string) string {
	return fmt.Sprintf("%s.%s", dispatchSubjectPrefix, jobID)
}

// Publisher publishes dispatch messages with substrate-level deduplication
// on the idempotency key, and best-effort status events.
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	stream string
}

func NewPublisher(nc *nats.Conn, js jetstream.JetStream, stream string) *Publisher {
	return &Publisher{js: js, nc: nc, stream: stream}
}

// EnsureStream creates the dispatch stream if absent, with a 24h
// deduplication window — the substrate discards a second publish with the
// same Nats-Msg-Id that arrives within this window.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{dispatchSubjectPrefix + ".>"},
		Duplicates: 24 * time.Hour,
		Storage:    jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %q: %w", p.stream, err)
	}
	return nil
}

// Publish dispatches one execution message, deduplicated on IdempotencyKey.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dispatch message: %w", err)
	}

	natsMsg := nats.NewMsg(dispatchSubject(msg.JobID))
	natsMsg.Data = data
	natsMsg.Header.Set(nats.MsgIdHdr, msg.IdempotencyKey)
	natsMsg.Header.Set("Job-Id", msg.JobID)
	natsMsg.Header.Set("Execution-Id", msg.ExecutionID)

	if _, err := p.js.PublishMsg(ctx, natsMsg); err != nil {
		return fmt.Errorf("publish dispatch message: %w", err)
	}
	return nil
}

// PublishStatus is a best-effort event-bus publish — a failure here must
// never fail the execution that triggered it.
func (p *Publisher) PublishStatus(ctx context.Context, ev StatusEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := statusSubjectPrefix
	if ev.ExecutionID != "" {
		subject = fmt.Sprintf("%s.%s", statusSubjectPrefix, ev.ExecutionID)
	}
	_ = p.nc.Publish(subject, data)
}

// Handler processes one dispatch message. Returning an error nacks the
// message for redelivery; returning nil acks it.
type Handler func(ctx context.Context, msg Message) error

// Consumer binds a single durable consumer group per deployment over the
// dispatch stream.
type Consumer struct {
	js         jetstream.JetStream
	stream     string
	maxDeliver int
}

func NewConsumer(js jetstream.JetStream, stream string, maxDeliver int) *Consumer {
	return &Consumer{js: js, stream: stream, maxDeliver: maxDeliver}
}

// Run binds (creating if absent) the "workers" durable consumer and feeds
// messages to handler until ctx is cancelled. Redelivery happens up to
// maxDeliver times on nak or ack-wait expiry.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	stream, err := c.js.Stream(ctx, c.stream)
	if err != nil {
		return fmt.Errorf("bind stream %q: %w", c.stream, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "workers",
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.maxDeliver,
		AckWait:       30 * time.Second,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	consCtx, err := cons.Consume(func(m jetstream.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data(), &msg); err != nil {
			// Malformed payload can never succeed on redelivery.
			_ = m.Term()
			return
		}
		if err := handler(ctx, msg); err != nil {
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	})
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}
	defer consCtx.Stop()

	<-ctx.Done()
	return nil
}
