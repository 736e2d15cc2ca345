package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/segmentio/kafka-go"

	"example.com/clubactivities/internal/observability"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Deliverer fans one notification event out to its participants, for example
// through a push gateway or the club chat.
type Deliverer interface {
	Deliver(ctx context.Context, event Event) error
}

// NewReader constructs a consumer-group reader on the notifications topic.
func NewReader(brokers []string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   Topic,
	})
}

// Processor pulls notification events from Kafka and dispatches them to a
// Deliverer. Malformed records are committed and skipped so one poison pill
// never stalls the partition; delivery errors leave the offset uncommitted
// for redelivery.
type Processor struct {
	reader    Reader
	deliverer Deliverer
	logger    *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and deliverer.
func NewProcessor(reader Reader, deliverer Deliverer) *Processor {
	return &Processor{
		reader:    reader,
		deliverer: deliverer,
		logger:    log.New(log.Writer(), "[notify-consumer] ", log.LstdFlags),
	}
}

// Run starts a blocking loop that processes events until the context is
// cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		var event Event
		if decodeErr := json.Unmarshal(msg.Value, &event); decodeErr != nil {
			p.logger.Printf("decode error (partition=%d, offset=%d): %v", msg.Partition, msg.Offset, decodeErr)
			observability.RecordDeliveryDecodeError()
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if deliverErr := p.deliverer.Deliver(ctx, event); deliverErr != nil {
			p.logger.Printf("delivery error (kind=%s): %v", event.Kind, deliverErr)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			observability.RecordDelivery(event.Kind)
		}
	}
}

// LogDeliverer writes each event to the process log. It stands in for a push
// gateway in local development.
type LogDeliverer struct {
	logger *log.Logger
}

// NewLogDeliverer constructs a LogDeliverer.
func NewLogDeliverer() *LogDeliverer {
	return &LogDeliverer{logger: log.New(log.Writer(), "[delivery] ", log.LstdFlags)}
}

// Deliver implements Deliverer.
func (d *LogDeliverer) Deliver(ctx context.Context, event Event) error {
	d.logger.Printf("kind=%s activities=%d participants=%d series=%s",
		event.Kind, len(event.ActivityIDs), len(event.ParticipantIDs), event.SeriesID)
	return nil
}
