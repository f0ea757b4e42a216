package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/open-data-etl/internal/config"
	"github.com/couchcryptid/open-data-etl/internal/domain"
)

// Publisher announces written silver tables on a Kafka topic, one message per
// table keyed by identifier. It implements pipeline.ManifestSink.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured table topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// RecordTables publishes every manifest in a single WriteMessages call.
func (p *Publisher) RecordTables(ctx context.Context, manifests []domain.TableManifest) error {
	if len(manifests) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(manifests))
	for i := range manifests {
		msg, err := serializeToMessage(manifests[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish table manifests: %w", err)
	}
	p.logger.Debug("table manifests published", "topic", p.writer.Topic, "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a TableManifest into a Kafka message.
func serializeToMessage(m domain.TableManifest) (kafkago.Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize table manifest: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(m.Identifier),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "identifier", Value: []byte(m.Identifier)},
			{Key: "naming_version", Value: []byte(strconv.Itoa(m.NamingVersion))},
			{Key: "written_at", Value: []byte(m.WrittenAt.Format(time.RFC3339))},
		},
	}, nil
}
