// 購読クライアントのエントリポイント。
// 通知ハブに常時接続し、受信した通知と再取得した集計結果を
// 1行のJSONとして標準出力へ書き出す。
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/internal/subscriber"
	"github.com/nao1215/workforce/pkg/httpclient"
)

func main() {
	cfg, err := config.Load(config.ServiceSubscriber)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	manager := subscriber.New(subscriber.Options{
		HubURL:     cfg.Subscriber.HubURL,
		Token:      cfg.Subscriber.Token,
		EmployeeID: cfg.Subscriber.EmployeeID,
		Queries: subscriber.NewHTTPQueries(
			httpclient.New(cfg.PerformanceURL, httpclient.WithBearerToken(cfg.Subscriber.Token)),
		),
		OnChange: func(v subscriber.View) {
			if err := enc.Encode(v); err != nil {
				logger.Warn("状態の出力に失敗しました", slog.Any("error", err))
			}
		},
		Logger: logger,
	})

	if err := manager.Run(ctx); err != nil {
		log.Fatalf("購読クライアントの実行に失敗: %v", err)
	}
}
