package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// KafkaTelemetry tees car-update events onto a Kafka topic so downstream
// consumers (fleet mirror, analytics) see the same stream as websocket
// clients. Only telemetry is published; offer/negotiation events stay local.
type KafkaTelemetry struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaTelemetry(brokers []string, topic string, logger *slog.Logger) *KafkaTelemetry {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaTelemetry{writer: w, logger: logger}
}

func (k *KafkaTelemetry) Notify(event string, payload any) {
	if event != EventCarUpdate {
		return
	}
	b, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return
	}
	var key []byte
	if t, ok := payload.(models.Telemetry); ok {
		key = []byte(t.VehicleID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: b}); err != nil {
		k.logger.Warn("kafka telemetry publish failed", "error", err)
	}
}

func (k *KafkaTelemetry) NotifyDriver(userID, event string, payload any) {
	// targeted offers are not telemetry; nothing to publish
}

func (k *KafkaTelemetry) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
