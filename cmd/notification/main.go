// 通知ハブのエントリポイント。
// WebSocketで接続中の利用者をアイデンティティごとに管理し、
// workforceサービスからの依頼に応じて全体配信・個別配信を行う。
// KAFKA_BROKERSを設定した場合は中継トピックも購読する。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/internal/notification"
	"github.com/nao1215/workforce/internal/relay"
)

func main() {
	cfg, err := config.Load(config.ServiceNotification)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := notification.NewHub(notification.NewDirectory(cfg.Directory.Shards), logger)
	server := notification.NewServer(cfg, hub, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	if cfg.Kafka.Enabled() {
		consumer, err := relay.NewConsumer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, hub, logger)
		if err != nil {
			log.Fatalf("中継コンシューマーの初期化に失敗: %v", err)
		}
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}
