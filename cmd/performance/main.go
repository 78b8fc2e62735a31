// パフォーマンス照会サービスのエントリポイント。
// 勤怠・タスク・メッセージから集計したフィード、ランキング、
// 従業員ごとのスナップショットを返す。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/internal/performance"
	"github.com/nao1215/workforce/internal/store"
)

func main() {
	cfg, err := config.Load(config.ServicePerformance)
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

	server := performance.NewServer(cfg, performance.NewEngine(st, logger), logger)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("パフォーマンス照会サービスの起動に失敗: %v", err)
	}
}
