// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams marketplace and sync events for dashboards and audit trails.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Haleem001/agrivault/internal/metrics"
	"github.com/Haleem001/agrivault/internal/model"
)

// Publisher defines the event publishing operations used by the data
// service and the offline layer.
type Publisher interface {
	// Marketplace events
	PublishRecordCreated(ctx context.Context, collection string, record map[string]interface{}) error
	PublishOrderStatusChanged(ctx context.Context, order model.Order, previous model.OrderStatus) error

	// Offline events
	PublishConnectivityChanged(ctx context.Context, online bool) error
	PublishQueueSynced(ctx context.Context, applied int) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not
// configured. The service functions without event streaming.
type noop struct{}

func (n *noop) Close() error { return nil }

func (n *noop) PublishRecordCreated(ctx context.Context, collection string, record map[string]interface{}) error {
	return nil
}

func (n *noop) PublishOrderStatusChanged(ctx context.Context, order model.Order, previous model.OrderStatus) error {
	return nil
}

func (n *noop) PublishConnectivityChanged(ctx context.Context, online bool) error { return nil }

func (n *noop) PublishQueueSynced(ctx context.Context, applied int) error { return nil }

// NewNoop returns a publisher that drops every event.
func NewNoop() Publisher { return &noop{} }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	metrics *metrics.Metrics
}

// NewPublisher creates a publisher for the given NATS URL. An empty
// URL, a failed connection or failed stream setup all fall back to the
// no-op publisher; events are best-effort.
func NewPublisher(url string) Publisher {
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{nc: nc, js: js, metrics: metrics.NewMetrics()}
}

// initStreams creates the AV_RECORDS and AV_OFFLINE streams.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "AV_RECORDS",
		Subjects:  []string{"agrivault.records.*", "agrivault.records.*.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create AV_RECORDS stream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      "AV_OFFLINE",
		Subjects:  []string{"agrivault.offline.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create AV_OFFLINE stream: %w", err)
	}

	return nil
}

// EventEnvelope is the standard envelope every published event is
// wrapped in.
type EventEnvelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) publish(subject, eventType string, payload interface{}) error {
	envelope := EventEnvelope{
		Type:          eventType,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(subject, b)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.EventPublishTotal.WithLabelValues(eventType, status).Inc()
	return err
}

// PublishRecordCreated publishes a created event for a record in the
// named collection.
func (p *natsPub) PublishRecordCreated(ctx context.Context, collection string, record map[string]interface{}) error {
	subject := fmt.Sprintf("agrivault.records.%s.created", collection)
	return p.publish(subject, subject, record)
}

// PublishOrderStatusChanged publishes an order status transition.
func (p *natsPub) PublishOrderStatusChanged(ctx context.Context, order model.Order, previous model.OrderStatus) error {
	payload := map[string]interface{}{
		"order":    order,
		"previous": previous,
	}
	return p.publish("agrivault.records.orders.status", "agrivault.records.orders.status", payload)
}

// PublishConnectivityChanged publishes a connectivity transition.
func (p *natsPub) PublishConnectivityChanged(ctx context.Context, online bool) error {
	payload := map[string]interface{}{"online": online}
	return p.publish("agrivault.offline.connectivity", "agrivault.offline.connectivity", payload)
}

// PublishQueueSynced publishes the outcome of a completed sync pass.
func (p *natsPub) PublishQueueSynced(ctx context.Context, applied int) error {
	payload := map[string]interface{}{"applied": applied}
	return p.publish("agrivault.offline.synced", "agrivault.offline.synced", payload)
}
