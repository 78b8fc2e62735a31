package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/workforce/pkg/event"
)

// messageReader はkafka.Readerのうち使用する操作。
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Deliverer はエンベロープをローカルの接続へ配信する。notification.Hubが実装する。
type Deliverer interface {
	Deliver(ctx context.Context, env *event.Envelope) error
}

// Consumer はトピックの全パーティションからエンベロープを読み、Delivererへ渡す。
//
// コンシューマーグループを使わずパーティションを直接読むため、
// ブローカーにオフセットがコミットされることはない。
type Consumer struct {
	readers   []messageReader
	deliverer Deliverer
	logger    *slog.Logger
}

// NewConsumer はトピックのパーティションごとにリーダーを用意したConsumerを生成する。
// 各リーダーは末尾から読み始め、起動後に書き込まれた通知だけを配信する。
func NewConsumer(ctx context.Context, brokers []string, topic string, deliverer Deliverer, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("ブローカーが指定されていません")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("トピックが指定されていません")
	}

	partitions, err := topicPartitions(ctx, brokers, topic)
	if err != nil {
		return nil, err
	}
	readers := make([]messageReader, 0, len(partitions))
	for _, p := range partitions {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: p,
			MinBytes:  1,
			MaxBytes:  1 << 20,
		})
		if err := r.SetOffset(kafka.LastOffset); err != nil {
			_ = r.Close()
			closeAll(readers)
			return nil, fmt.Errorf("パーティション %d の読み込み位置の設定に失敗: %w", p, err)
		}
		readers = append(readers, r)
	}
	return newConsumer(readers, deliverer, logger), nil
}

func newConsumer(readers []messageReader, deliverer Deliverer, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Consumer{
		readers:   readers,
		deliverer: deliverer,
		logger:    logger.With(slog.String("component", "relay-consumer")),
	}
}

// topicPartitions はブローカーに問い合わせてトピックのパーティション番号を返す。
// 応答したブローカーが見つかるまで順に試す。
func topicPartitions(ctx context.Context, brokers []string, topic string) ([]int, error) {
	var (
		dialer  kafka.Dialer
		lastErr error
	)
	for _, broker := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		parts, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		ids := make([]int, 0, len(parts))
		for _, p := range parts {
			ids = append(ids, p.ID)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("トピック %s にパーティションがありません", topic)
		}
		slices.Sort(ids)
		return ids, nil
	}
	return nil, fmt.Errorf("トピック %s のパーティション取得に失敗: %w", topic, lastErr)
}

func closeAll(readers []messageReader) {
	for _, r := range readers {
		_ = r.Close()
	}
}

// Run はctxがキャンセルされるまで全パーティションを並行に読み続ける。
// 壊れたメッセージと配信失敗はログに残して読み飛ばす。
// いずれかのリーダーが失敗した場合は残りも止めてエラーを返す。
func (c *Consumer) Run(ctx context.Context) error {
	defer closeAll(c.readers)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range c.readers {
		g.Go(func() error {
			return c.read(gctx, r)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Consumer) read(ctx context.Context, r messageReader) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("中継メッセージの読み込みに失敗: %w", err)
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var env event.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.logger.WarnContext(ctx, "中継メッセージを解釈できません",
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err),
		)
		return
	}
	if _, err := event.ParseChannel(string(env.Channel)); err != nil {
		c.logger.WarnContext(ctx, "未知のチャネルを読み飛ばしました",
			slog.String("channel", string(env.Channel)),
			slog.Int64("offset", msg.Offset),
		)
		return
	}
	if err := c.deliverer.Deliver(ctx, &env); err != nil {
		c.logger.WarnContext(ctx, "中継メッセージの配信に失敗しました",
			slog.String("envelope_id", env.ID),
			slog.Any("error", err),
		)
	}
}
