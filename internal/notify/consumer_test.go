package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type scriptedReader struct {
	messages []kafka.Message
	commits  []kafka.Message
	cancel   context.CancelFunc
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *scriptedReader) Close() error { return nil }

type recordingDeliverer struct {
	delivered []Event
}

func (d *recordingDeliverer) Deliver(_ context.Context, event Event) error {
	d.delivered = append(d.delivered, event)
	return nil
}

func TestProcessorSkipsMalformedAndDeliversRest(t *testing.T) {
	valid, err := json.Marshal(Event{
		Kind:           "activity_cancelled",
		ActivityIDs:    []string{"act-1"},
		ParticipantIDs: []string{"runner-1", "runner-2"},
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reader := &scriptedReader{
		messages: []kafka.Message{
			{Offset: 1, Value: []byte("{not json")},
			{Offset: 2, Value: valid},
		},
		cancel: cancel,
	}
	deliverer := &recordingDeliverer{}

	proc := NewProcessor(reader, deliverer)
	if err := proc.Run(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled got %v", err)
	}

	if len(deliverer.delivered) != 1 {
		t.Fatalf("expected 1 delivery got %d", len(deliverer.delivered))
	}
	if deliverer.delivered[0].Kind != "activity_cancelled" {
		t.Fatalf("unexpected kind %s", deliverer.delivered[0].Kind)
	}

	// Both the poison pill and the delivered event must be committed.
	if len(reader.commits) != 2 {
		t.Fatalf("expected 2 commits got %d", len(reader.commits))
	}
}
