package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"monview/internal/logger"
	"monview/internal/service"
)

// OriginHeader names the instance that produced a message
const OriginHeader = "monview-origin"

// Bridge results reported to the Recorder
const (
	ResultPublished = "published"
	ResultSkipped   = "skipped"
	ResultInvalid   = "invalid"
)

// MessageReader is the part of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher receives republished events
type Publisher interface {
	Publish(event service.Event)
}

// Recorder counts consumed messages by result
type Recorder interface {
	RecordBridgeMessage(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBridgeMessage(string) {}

// Consumer reads envelopes from Kafka and publishes them on the bus
type Consumer struct {
	reader MessageReader
	bus    Publisher
	origin string
	log    logger.Logger
	rec    Recorder
}

// NewConsumer creates a consumer. Messages stamped with origin are our own
// and are skipped.
func NewConsumer(reader MessageReader, bus Publisher, origin string, log logger.Logger, rec Recorder) *Consumer {
	if log == nil {
		log = logger.Noop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Consumer{reader: reader, bus: bus, origin: origin, log: log, rec: rec}
}

// NewReader creates a group reader for topic
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})
}

// Run consumes until ctx is cancelled. Invalid messages are logged and
// committed so they do not block the partition.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	c.log.Info("bridge consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("fetch message: %v", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.Handle(ctx, msg); err != nil {
			c.log.Warn("drop message at %s/%d offset %d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit offset %d: %v", msg.Offset, err)
		}
	}
}

// Handle decodes one message and publishes its event
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	if originOf(msg) == c.origin {
		c.rec.RecordBridgeMessage(ResultSkipped)
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.rec.RecordBridgeMessage(ResultInvalid)
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	event, err := env.Event()
	if err != nil {
		c.rec.RecordBridgeMessage(ResultInvalid)
		return err
	}

	c.bus.Publish(event)
	c.rec.RecordBridgeMessage(ResultPublished)
	c.log.Debug("republished %s from %s", event.Type, originOf(msg))
	return nil
}

func originOf(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == OriginHeader {
			return string(h.Value)
		}
	}
	return ""
}
