package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// schemaVersion is bumped when Event changes incompatibly.
const schemaVersion = "1"

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	QueueSize   int
	// WriteTimeout bounds each publish so a slow broker only delays the background writer.
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink queues events and publishes them from a background goroutine. When the queue
// is full the event is dropped and logged.
type KafkaSink struct {
	writer       messageWriter
	logger       *slog.Logger
	prefix       string
	queue        chan kafka.Message
	writeTimeout time.Duration
	now          func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(writer, cfg, logger)
}

func newKafkaSink(writer messageWriter, cfg KafkaConfig, logger *slog.Logger) *KafkaSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.TopicPrefix), ".")
	if prefix == "" {
		prefix = "scheduling"
	}
	return &KafkaSink{
		writer:       writer,
		logger:       logger,
		prefix:       prefix,
		queue:        make(chan kafka.Message, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

func (s *KafkaSink) AppointmentCreated(ctx context.Context, appt model.Appointment) {
	s.enqueue(ctx, NewEvent(EventAppointmentCreated, appt, "", s.now()))
}

func (s *KafkaSink) AppointmentTransitioned(ctx context.Context, appt model.Appointment, from model.Status) {
	s.enqueue(ctx, NewEvent(EventAppointmentTransitioned, appt, from, s.now()))
}

// Topic returns the topic an event type is published to.
func (s *KafkaSink) Topic(eventType string) string {
	return s.prefix + "." + eventType + ".v1"
}

func (s *KafkaSink) enqueue(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("notification encode failed", "err", err, "event_type", e.EventType)
		return
	}
	msg := kafka.Message{
		Topic: s.Topic(e.EventType),
		Key:   []byte(e.AppointmentID),
		Value: payload,
		Headers: kafkax.EventMeta{
			EventID:       e.EventID,
			EventType:     e.EventType,
			SchemaVersion: schemaVersion,
		}.Headers(),
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)

	select {
	case s.queue <- msg:
	default:
		s.logger.Warn("notification dropped: queue full", "event_type", e.EventType, "appointment_id", e.AppointmentID)
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is already queued.
func (s *KafkaSink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case msg := <-s.queue:
			s.publish(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-s.queue:
					s.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaSink) publish(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	ctx = kafkax.ExtractTraceContext(ctx, msg)
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		meta := kafkax.ExtractEventMeta(msg)
		s.logger.Warn("notification publish failed", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
	}
}

// Close waits for Run to drain and closes the writer. Call after cancelling Run's context.
func (s *KafkaSink) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
		err = s.writer.Close()
	})
	return err
}
