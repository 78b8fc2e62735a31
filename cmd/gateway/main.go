// Gatewayのエントリポイント。
// クライアントからのリクエストを認証し、パフォーマンス照会・書き込みAPI・
// 通知ハブの各サービスへ転送する。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/internal/gateway"
)

func main() {
	cfg, err := config.Load(config.ServiceGateway)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := gateway.NewServer(cfg, logger)
	if err != nil {
		log.Fatalf("Gatewayの初期化に失敗: %v", err)
	}
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Gatewayの起動に失敗: %v", err)
	}
}
