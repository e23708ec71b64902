// v2
// internal/bridge/kafka.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Rlpzx/auto-riego/internal/breaker"
	"github.com/Rlpzx/auto-riego/internal/bus"
	"github.com/Rlpzx/auto-riego/internal/control"
	"github.com/Rlpzx/auto-riego/internal/metrics"
)

const (
	kafkaQueueSize    = 256
	kafkaWriteTimeout = 5 * time.Second
	kafkaBreakerName  = "kafka-writer"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaWriteCloser interface {
	Close() error
}

// KafkaConfig holds the forwarder's runtime options. Topics are derived from
// the prefix: <prefix>telemetry and <prefix>control.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	Acks        int
}

// KafkaForwarder mirrors bus events onto Kafka for downstream consumers.
// Delivery is best-effort: failures are logged and counted, never surfaced to
// the paths that produced the events. A breaker keeps a dead broker from
// costing one write timeout per event.
type KafkaForwarder struct {
	cfg      KafkaConfig
	log      *slog.Logger
	writer   kafkaMessageWriter
	closer   kafkaWriteCloser
	brk      *breaker.Breaker
	sub      *bus.Subscription
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewKafkaForwarder connects a writer and starts forwarding. The hub
// subscription is the queue; when it fills, events are dropped by the bus and
// counted there.
func NewKafkaForwarder(cfg KafkaConfig, hub *bus.Hub, log *slog.Logger) (*KafkaForwarder, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
	}
	return newKafkaForwarderWithWriter(cfg, hub, w, w, log), nil
}

// newKafkaForwarderWithWriter wires the provided writer in. Used in tests.
func newKafkaForwarderWithWriter(cfg KafkaConfig, hub *bus.Hub, writer kafkaMessageWriter, closer kafkaWriteCloser, log *slog.Logger) *KafkaForwarder {
	f := &KafkaForwarder{
		cfg:    cfg,
		log:    log.With(slog.String("component", "kafka_forwarder")),
		writer: writer,
		closer: closer,
	}
	f.brk = breaker.New(kafkaBreakerName, breaker.Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}, nil, log)
	f.sub = hub.Subscribe(kafkaQueueSize, bus.TopicSensorUpdate, bus.TopicControlUpdate)
	f.wg.Add(1)
	go f.run()
	f.log.Info("kafka_forwarder_started", slog.String("topicPrefix", cfg.TopicPrefix))
	return f
}

// Stop detaches from the bus, drains what is already queued, and closes the
// writer.
func (f *KafkaForwarder) Stop() {
	f.stopOnce.Do(func() {
		f.sub.Close()
		f.wg.Wait()
		if f.closer != nil {
			if err := f.closer.Close(); err != nil {
				f.log.Error("kafka_close_err", slog.Any("err", err))
			}
		}
		f.log.Info("kafka_forwarder_stopped")
	})
}

func (f *KafkaForwarder) run() {
	defer f.wg.Done()
	for env := range f.sub.C {
		f.deliver(env)
	}
}

func (f *KafkaForwarder) deliver(env bus.Envelope) {
	value, err := json.Marshal(env)
	if err != nil {
		metrics.IncBridgePublish("kafka", "fail")
		f.log.Error("kafka_encode_err", slog.Any("err", err), slog.String("topic", env.Topic))
		return
	}
	msg := kafka.Message{
		Topic: f.topicFor(env.Topic),
		Key:   []byte(zoneKey(env.Payload)),
		Value: value,
	}
	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()
	err = f.brk.Execute(ctx, func(ctx context.Context) error {
		return f.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		metrics.IncBridgePublish("kafka", "fail")
		f.log.Error("kafka_publish_err", slog.Any("err", err),
			slog.String("topic", msg.Topic), slog.String("key", string(msg.Key)))
		return
	}
	metrics.IncBridgePublish("kafka", "ok")
}

func (f *KafkaForwarder) topicFor(busTopic string) string {
	switch busTopic {
	case bus.TopicControlUpdate:
		return f.cfg.TopicPrefix + "control"
	default:
		return f.cfg.TopicPrefix + "telemetry"
	}
}

// zoneKey extracts the zone id so all events for one zone land on one
// partition, preserving their order for consumers.
func zoneKey(payload any) string {
	switch p := payload.(type) {
	case control.SensorEvent:
		return p.ZoneID
	case control.ControlEvent:
		return p.ZoneID
	default:
		return ""
	}
}
