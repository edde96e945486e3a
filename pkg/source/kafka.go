package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"quakenotify/pkg/bus"
	"quakenotify/pkg/config"
	"quakenotify/pkg/envelope"
	"quakenotify/pkg/failure"
	"quakenotify/pkg/retry"
)

const kafkaErrorBackoff = time.Second

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource treats every record value on a topic as one queue payload.
type KafkaSource struct {
	reader messageReader
	topic  string
	log    *slog.Logger
}

// NewKafka builds a consumer-group source for one topic.
func NewKafka(cfg config.KafkaSourceConfig, log *slog.Logger) (*KafkaSource, error) {
	brokers, topic, err := kafkaTarget(cfg)
	if err != nil {
		return nil, err
	}

	groupID := strings.TrimSpace(cfg.GroupID)
	if groupID == "" {
		groupID = "quakenotify"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})

	return newKafkaSource(reader, topic, log), nil
}

func newKafkaSource(reader messageReader, topic string, log *slog.Logger) *KafkaSource {
	if log == nil {
		log = slog.Default()
	}

	return &KafkaSource{
		reader: reader,
		topic:  topic,
		log:    log.With("component", "source.kafka", "topic", topic),
	}
}

func (s *KafkaSource) Name() string { return "kafka" }

// Run reads records until ctx ends. Read errors are logged and retried after a
// short pause.
func (s *KafkaSource) Run(ctx context.Context, b *bus.Bus) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if err := s.reader.Close(); err != nil {
			s.log.Warn("Close reader failed", "error", err)
		}
	}()

	s.log.Info("Kafka source started")

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.log.Info("Kafka source stopped")
				return nil
			}
			s.log.Error("Read message failed", "error", err)
			if retry.Sleep(ctx, kafkaErrorBackoff) != nil {
				return nil
			}
			continue
		}

		env := envelope.Parse(msg.Value)
		s.log.Debug("Received payload", "partition", msg.Partition, "offset", msg.Offset, "kind", env.Kind.String(), "envelope_id", env.ID)
		if !b.Publish(ctx, env) {
			return nil
		}
	}
}

// SendKafka writes one payload as a single record on the configured topic.
func SendKafka(ctx context.Context, cfg config.KafkaSourceConfig, payload []byte) error {
	brokers, topic, err := kafkaTarget(cfg)
	if err != nil {
		return err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}

	return writeRecord(ctx, writer, topic, payload)
}

func writeRecord(ctx context.Context, writer messageWriter, topic string, payload []byte) error {
	defer writer.Close()

	if err := writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("write to topic %s: %w", topic, err)
	}

	return nil
}

func kafkaTarget(cfg config.KafkaSourceConfig) ([]string, string, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, "", failure.Configurationf("source.kafka.brokers is required")
	}

	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, "", failure.Configurationf("source.kafka.topic is required")
	}

	return brokers, topic, nil
}
