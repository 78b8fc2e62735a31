package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nao1215/workforce/pkg/event"
)

// messageWriter はkafka.Writerのうち使用する操作。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher は通知エンベロープをKafkaトピックへ書き込む。
// workforce.Dispatcherとして使える。
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher はKafkaへ非同期に書き込むPublisherを生成する。
func NewPublisher(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("ブローカーが指定されていません")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("トピックが指定されていません")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("component", "relay-publisher"))

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("通知の中継に失敗しました", slog.Int("messages", len(msgs)), slog.Any("error", err))
			}
		},
	}
	return newPublisher(w, topic, logger), nil
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Broadcast は全接続宛てのエンベロープを書き込む。
func (p *Publisher) Broadcast(ctx context.Context, channel event.Channel, payload any) error {
	return p.publish(ctx, "", channel, payload)
}

// SendTo はidentity宛てのエンベロープを書き込む。
func (p *Publisher) SendTo(ctx context.Context, identity string, channel event.Channel, payload any) error {
	return p.publish(ctx, identity, channel, payload)
}

// publish はエンベロープをJSONにして書き込む。
// メッセージキーはアイデンティティなので、同じ宛先の通知は同じパーティションに入る。
func (p *Publisher) publish(ctx context.Context, identity string, channel event.Channel, payload any) error {
	env, err := event.New(channel, identity, payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("エンベロープのシリアライズに失敗: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(identity),
		Value: value,
		Time:  env.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("トピック %s への書き込みに失敗: %w", p.topic, err)
	}
	p.logger.DebugContext(ctx, "通知を中継しました",
		slog.String("envelope_id", env.ID),
		slog.String("channel", string(channel)),
		slog.String("identity", identity),
	)
	return nil
}

// Close は書き込み待ちのメッセージを送り出してから閉じる。
func (p *Publisher) Close() error {
	return p.writer.Close()
}
