package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/keithlinneman/webguard/internal/log"
	"github.com/keithlinneman/webguard/internal/xerrors"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by client ip so one client's
// events stay ordered within a partition. The writer is async; delivery
// failures surface through OnDropped.
type KafkaSink struct {
	w         messageWriter
	L         log.Logger
	OnDropped func(n int)
}

// KafkaOptions configures NewKafkaSink.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	Logger       log.Logger
	OnDropped    func(n int)
}

func NewKafkaSink(opts KafkaOptions) (*KafkaSink, error) {
	if len(opts.Brokers) == 0 {
		return nil, xerrors.New("kafka sink: no brokers configured")
	}
	if opts.Topic == "" {
		return nil, xerrors.New("kafka sink: topic is required")
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 50 * time.Millisecond
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	s := &KafkaSink{L: L, OnDropped: opts.OnDropped}
	s.w = &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: opts.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   s.completion,
	}
	return s, nil
}

func (s *KafkaSink) completion(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	s.L.Error(context.Background(), err, "audit events dropped", "sink", "kafka", "count", len(msgs))
	if s.OnDropped != nil {
		s.OnDropped(len(msgs))
	}
}

func (s *KafkaSink) Emit(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		s.L.Error(ctx, xerrors.Wrap(err, "marshal audit event"), "audit event dropped", "sink", "kafka")
		return
	}
	msg := kafka.Message{Key: []byte(ev.ClientIP), Value: b, Time: ev.Time}
	// async writer: this only enqueues, the request context is not needed
	if err := s.w.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		s.completion([]kafka.Message{msg}, err)
	}
}

// Close flushes pending batches.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
