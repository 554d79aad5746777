package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kjstillabower/aviation-weather-service/internal/models"
)

// Publisher hands freshly retrieved reports to downstream consumers.
type Publisher interface {
	PublishReport(ctx context.Context, report models.Report) error
	Close() error
}

// NopPublisher discards every report. Used when publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishReport(context.Context, models.Report) error { return nil }
func (NopPublisher) Close() error                                       { return nil }

// messageWriter is the subset of *kafkago.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher writes one message per report to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// NewKafkaPublisher builds a publisher backed by a kafka-go Writer. Messages are
// hash-partitioned by key so every report for a station lands on one partition.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, topic: cfg.Topic}, nil
}

func newKafkaPublisherWithWriter(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

// PublishReport writes report to the topic.
func (p *KafkaPublisher) PublishReport(ctx context.Context, report models.Report) error {
	msg, err := serializeToMessage(report)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Key, p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ParseBrokers splits a comma-separated broker list, dropping empty items.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type reportMessage struct {
	Station   string    `json:"station"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func serializeToMessage(report models.Report) (kafkago.Message, error) {
	value, err := json.Marshal(reportMessage{
		Station:   report.Station,
		Kind:      report.Kind.String(),
		Text:      report.Text,
		FetchedAt: report.FetchedAt.UTC(),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("marshal report: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(report.Kind.String() + ":" + report.Station),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "report_kind", Value: []byte(report.Kind.String())},
			{Key: "fetched_at", Value: []byte(report.FetchedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
