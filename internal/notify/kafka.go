package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// messageWriter is the part of kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes filtered alerts as JSON, keyed by identity.
type KafkaNotifier struct {
	writer  messageWriter
	brokers []string
	topic   string
	filter  Filter
}

func NewKafkaNotifier(cfg config.KafkaConfig, filter Filter) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no Kafka brokers configured (set KAFKA_BROKERS)")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Gzip,
	}
	return &KafkaNotifier{writer: writer, brokers: cfg.Brokers, topic: cfg.Topic, filter: filter}, nil
}

// Ping dials the topic leader to check that the brokers are reachable.
func (k *KafkaNotifier) Ping(ctx context.Context) error {
	var errs []error
	for _, broker := range k.brokers {
		conn, err := kafka.DialLeader(ctx, "tcp", broker, k.topic, 0)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("failed to connect to kafka (%s): %w", strings.Join(k.brokers, ","), errors.Join(errs...))
}

func (k *KafkaNotifier) Notify(ctx context.Context, alerts []Alert) (Ack, error) {
	send, filtered := k.filter.Apply(alerts)
	ack := Ack{Filtered: filtered}
	if len(send) == 0 {
		return ack, nil
	}

	msgs := make([]kafka.Message, 0, len(send))
	for _, a := range send {
		value, err := json.Marshal(a)
		if err != nil {
			return ack, fmt.Errorf("failed to marshal alert: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.IdentityID),
			Value: value,
			Time:  a.DetectedAt,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return ack, fmt.Errorf("failed to write alerts to kafka: %w", err)
	}
	ack.Sent = len(msgs)

	logger.Info("alerts published",
		logger.LoggerOptions{Key: "topic", Data: k.topic},
		logger.LoggerOptions{Key: "sent", Data: ack.Sent},
		logger.LoggerOptions{Key: "filtered", Data: ack.Filtered})
	return ack, nil
}

func (k *KafkaNotifier) Close() error {
	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}
