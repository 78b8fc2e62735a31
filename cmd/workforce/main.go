// workforceサービスのエントリポイント。
// 勤怠・タスク・メッセージ・お知らせの書き込みを受け付け、
// 書き込み後に通知ハブ（またはKafkaの中継トピック）へ通知を依頼する。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/internal/relay"
	"github.com/nao1215/workforce/internal/store"
	"github.com/nao1215/workforce/internal/workforce"
	"github.com/nao1215/workforce/pkg/httpclient"
	"github.com/nao1215/workforce/pkg/middleware"
)

func main() {
	cfg, err := config.Load(config.ServiceWorkforce)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		log.Fatalf("ストアの初期化に失敗: %v", err)
	}
	defer st.Close()

	var dispatcher workforce.Dispatcher
	if cfg.Kafka.Enabled() {
		publisher, err := relay.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			log.Fatalf("中継パブリッシャーの初期化に失敗: %v", err)
		}
		defer publisher.Close()
		dispatcher = publisher
	} else {
		token, err := middleware.ServiceToken(cfg.JWTSecret, config.ServiceWorkforce)
		if err != nil {
			log.Fatalf("サービストークンの生成に失敗: %v", err)
		}
		client := httpclient.New(cfg.NotificationURL,
			httpclient.WithBearerToken(token),
			httpclient.WithTimeout(cfg.DispatchTimeout),
		)
		remote := workforce.NewRemoteDispatcher(client, cfg.DispatchTimeout, logger,
			workforce.WithMaxInFlight(cfg.DispatchMaxInFlight))
		defer remote.Wait()
		dispatcher = remote
	}

	notifier := workforce.NewNotifier(dispatcher, st, logger)
	server := workforce.NewServer(cfg, st, notifier, logger)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("workforceサービスの起動に失敗: %v", err)
	}
}
