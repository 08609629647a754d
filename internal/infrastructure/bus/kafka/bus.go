package kafka

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
)

// AlertWriter publishes fired alert events.
type AlertWriter struct {
	w *kafka.Writer
}

func NewAlertWriter(brokers []string, topic string) *AlertWriter {
	return &AlertWriter{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (a *AlertWriter) PublishAlert(ctx context.Context, ev domain.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return a.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Symbol),
		Value: payload,
	})
}

func (a *AlertWriter) Close() error { return a.w.Close() }

// TickWriter replicates significant ticks to the tick topic.
type TickWriter struct {
	w *kafka.Writer
}

func NewTickWriter(brokers []string, topic string) *TickWriter {
	return &TickWriter{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}}
}

type tickPayload struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	ChangeRate float64 `json:"changeRate"`
}

func (t *TickWriter) PublishTick(ctx context.Context, tick domain.Tick) error {
	price, _ := tick.Price.Float64()
	change, _ := tick.ChangeRate.Float64()
	payload, err := json.Marshal(tickPayload{
		Symbol:     tick.Symbol,
		Price:      price,
		ChangeRate: change,
	})
	if err != nil {
		return err
	}
	return t.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tick.Symbol),
		Value: payload,
	})
}

func (t *TickWriter) Close() error { return t.w.Close() }

// Reader adapts a consumer-group reader to the bus boundary.
type Reader struct {
	r *kafka.Reader
}

func NewReader(brokers []string, topic, groupID string) *Reader {
	return &Reader{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 200,
		MaxBytes: 10e6,
		MaxWait:  200 * time.Millisecond,
	})}
}

func (r *Reader) ReadMessage(ctx context.Context) (port.Message, error) {
	m, err := r.r.ReadMessage(ctx)
	if err != nil {
		return port.Message{}, err
	}
	return port.Message{Key: m.Key, Value: m.Value}, nil
}

func (r *Reader) Close() error { return r.r.Close() }

// EnsureTopic creates the topic if it does not exist and waits for it
// to become visible.
func EnsureTopic(brokers []string, topic string) {
	var conn *kafka.Conn
	var err error
	for _, addr := range brokers {
		conn, err = kafka.Dial("tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		log.Warn().Err(err).Strs("brokers", brokers).Msg("kafka dial failed")
		return
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		log.Warn().Err(err).Msg("kafka controller lookup failed")
		return
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		log.Warn().Err(err).Msg("kafka controller dial failed")
		return
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     4,
		ReplicationFactor: 1,
	})
	if err != nil {
		log.Info().Err(err).Str("topic", topic).Msg("topic create returned (may already exist)")
	}

	for i := 0; i < 5; i++ {
		time.Sleep(200 * time.Millisecond)
		parts, err := conn.ReadPartitions(topic)
		if err == nil && len(parts) > 0 {
			log.Info().Str("topic", topic).Int("partitions", len(parts)).Msg("topic ready")
			return
		}
	}
	log.Warn().Str("topic", topic).Msg("timed out waiting for topic")
}

var (
	_ port.AlertPublisher = (*AlertWriter)(nil)
	_ port.TickPublisher  = (*TickWriter)(nil)
	_ port.BusReader      = (*Reader)(nil)
)
