package reports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tcriess/hobbyhub-chat/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit records to a Kafka topic, keyed by room id so all reports of a room stay in order.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(cfg config.KafkaConfig) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ReportsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Deliver(ctx context.Context, audit Audit) error {
	value, err := json.Marshal(audit)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(audit.Report.RoomId),
		Value: value,
		Time:  time.Now(),
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
