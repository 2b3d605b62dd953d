package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"monview/internal/logger"
	"monview/internal/service"
)

// MessageWriter is the part of *kafka.Writer the forwarder uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber hands out every bus event on a channel
type Subscriber interface {
	Subscribe(ch chan<- service.Event)
}

// Forwarder writes local bus events to Kafka
type Forwarder struct {
	writer MessageWriter
	origin string
	events chan service.Event
	log    logger.Logger
}

// NewForwarder subscribes to bus. Events start queuing immediately and are
// written once Run is called.
func NewForwarder(writer MessageWriter, bus Subscriber, origin string, log logger.Logger) *Forwarder {
	if log == nil {
		log = logger.Noop()
	}
	f := &Forwarder{
		writer: writer,
		origin: origin,
		events: make(chan service.Event, 256),
		log:    log,
	}
	bus.Subscribe(f.events)
	return f
}

// NewWriter creates a writer for topic, hashing keys to partitions
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Run forwards events until ctx is cancelled
func (f *Forwarder) Run(ctx context.Context) error {
	defer f.writer.Close()

	f.log.Info("bridge forwarder started")
	for {
		select {
		case e := <-f.events:
			if e.Remote {
				continue
			}
			if err := f.Forward(ctx, e); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.log.Warn("forward %s: %v", e.Type, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Forward writes one event
func (f *Forwarder) Forward(ctx context.Context, e service.Event) error {
	env, err := Wrap(e)
	if err != nil {
		return err
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(env.Key()),
		Value:   value,
		Headers: []kafka.Header{{Key: OriginHeader, Value: []byte(f.origin)}},
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
