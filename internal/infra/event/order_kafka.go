package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"product-order-api/internal/domain/model"
	repo "product-order-api/internal/repository"

	"github.com/segmentio/kafka-go"
)

// *kafka.Writerのうち使う部分だけ
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// 注文イベントをKafkaへ送る
type KafkaOrderPublisher struct {
	w messageWriter
}

var _ repo.OrderEventPublisher = (*KafkaOrderPublisher)(nil)

func NewKafkaOrderPublisher(w messageWriter) *KafkaOrderPublisher {
	return &KafkaOrderPublisher{w: w}
}

// 1件ずつ同期で送るのでバッチ待ちは短く
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

// 同じ注文のイベントは同じパーティションへ（キー = order-<id>）
func (p *KafkaOrderPublisher) Publish(ctx context.Context, ev model.OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte("order-" + strconv.FormatInt(ev.OrderID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order event: %w", err)
	}
	return nil
}

func (p *KafkaOrderPublisher) Close() error {
	return p.w.Close()
}

// KAFKA_BROKERS未設定のとき
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.OrderEvent) error { return nil }
