package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"

	"github.com/nivara-labs/identity-core/internal/api"
)

// Event types published to collaborators (notification service, apps).
const (
	EventUserStatusChanged  = "user.status_changed"
	EventContactChanged     = "user.contact_changed"
	EventMembershipRevoked  = "membership.revoked"
	EventReactivationNeeded = "user.reactivation_requested"
)

// Notification is the wire payload for dispatched events.
type Notification struct {
	Type      string            `json:"type"`
	UserID    uuid.UUID         `json:"user_id"`
	AppID     *uuid.UUID        `json:"app_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Dispatcher is the fire-and-forget outbound notification contract. Dispatch
// failures are logged and swallowed; they never roll back the identity
// mutation that triggered them, and this core never retries.
type Dispatcher interface {
	StatusChanged(ctx context.Context, userID uuid.UUID, from, to api.GlobalStatus)
	ContactChanged(ctx context.Context, userID uuid.UUID, field string)
	MembershipRevoked(ctx context.Context, userID, appID uuid.UUID)
	ReactivationRequested(ctx context.Context, userID uuid.UUID)
	Close() error
}

// Writer is the subset of kafka.Writer the dispatcher needs, so tests can
// inject a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Dispatcher = (*KafkaDispatcher)(nil)

// KafkaDispatcher publishes notifications to a Kafka topic, best-effort.
type KafkaDispatcher struct {
	logger *slog.Logger
	writer Writer
}

func NewKafkaDispatcher(brokers []string, topic string, logger *slog.Logger) *KafkaDispatcher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaDispatcher{logger: logger, writer: w}
}

// NewKafkaDispatcherWithWriter allows injecting a test writer.
func NewKafkaDispatcherWithWriter(w Writer, logger *slog.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{logger: logger, writer: w}
}

func (d *KafkaDispatcher) publish(ctx context.Context, n Notification) {
	n.Timestamp = time.Now().UTC()
	value, err := json.Marshal(n)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to marshal notification", slog.Any("error", err))
		return
	}
	// Bounded write so a slow broker never holds up the request path longer
	// than the dispatch budget.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	msg := kafka.Message{Key: []byte(n.UserID.String()), Value: value}
	if err := d.writer.WriteMessages(writeCtx, msg); err != nil {
		d.logger.WarnContext(ctx, "Notification dispatch failed",
			slog.String("type", n.Type),
			slog.Any("error", err))
	}
}

func (d *KafkaDispatcher) StatusChanged(ctx context.Context, userID uuid.UUID, from, to api.GlobalStatus) {
	d.publish(ctx, Notification{
		Type:   EventUserStatusChanged,
		UserID: userID,
		Fields: map[string]string{"from": string(from), "to": string(to)},
	})
}

func (d *KafkaDispatcher) ContactChanged(ctx context.Context, userID uuid.UUID, field string) {
	d.publish(ctx, Notification{
		Type:   EventContactChanged,
		UserID: userID,
		Fields: map[string]string{"field": field},
	})
}

func (d *KafkaDispatcher) MembershipRevoked(ctx context.Context, userID, appID uuid.UUID) {
	d.publish(ctx, Notification{
		Type:   EventMembershipRevoked,
		UserID: userID,
		AppID:  &appID,
	})
}

func (d *KafkaDispatcher) ReactivationRequested(ctx context.Context, userID uuid.UUID) {
	d.publish(ctx, Notification{
		Type:   EventReactivationNeeded,
		UserID: userID,
	})
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

var _ Dispatcher = (*NoopDispatcher)(nil)

// NoopDispatcher is used when no broker is configured (tests, local dev).
type NoopDispatcher struct{}

func (NoopDispatcher) StatusChanged(context.Context, uuid.UUID, api.GlobalStatus, api.GlobalStatus) {
}
func (NoopDispatcher) ContactChanged(context.Context, uuid.UUID, string)       {}
func (NoopDispatcher) MembershipRevoked(context.Context, uuid.UUID, uuid.UUID) {}
func (NoopDispatcher) ReactivationRequested(context.Context, uuid.UUID)        {}
func (NoopDispatcher) Close() error                                            { return nil }
