// Package notify delivers participant notifications to Kafka. Delivery is
// fire-and-forget by contract: a dispatch failure is logged and counted but
// never fails the mutation that produced it.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/clubactivities/internal/domain"
)

// Topic carries every participant notification; downstream delivery workers
// fan out to push or in-chat channels.
const Topic = "activity_notifications"

// Event is the wire payload published per notification.
type Event struct {
	Kind           string    `json:"kind"`
	ActivityIDs    []string  `json:"activity_ids"`
	SeriesID       string    `json:"series_id,omitempty"`
	Scope          string    `json:"scope,omitempty"`
	ParticipantIDs []string  `json:"participant_ids"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// KafkaDispatcher publishes notifications to the notifications topic.
type KafkaDispatcher struct {
	writer *kafka.Writer
	logger *log.Logger
}

// NewKafkaDispatcher constructs a dispatcher for the given brokers.
func NewKafkaDispatcher(brokers []string) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        Topic,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		logger: log.New(log.Writer(), "[notify] ", log.LstdFlags),
	}
}

// NotifyParticipants publishes one event keyed by series (falling back to the
// first activity) so a series' notifications stay ordered per partition.
func (d *KafkaDispatcher) NotifyParticipants(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(Event{
		Kind:           string(n.Kind),
		ActivityIDs:    n.ActivityIDs,
		SeriesID:       n.SeriesID,
		Scope:          string(n.Scope),
		ParticipantIDs: n.ParticipantIDs,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	key := n.SeriesID
	if key == "" && len(n.ActivityIDs) > 0 {
		key = n.ActivityIDs[0]
	}

	return d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	})
}

// Close releases the underlying writer.
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

// Noop discards every notification, for local development and tests.
type Noop struct{}

// NotifyParticipants implements scheduling.Notifier.
func (Noop) NotifyParticipants(context.Context, domain.Notification) error { return nil }
