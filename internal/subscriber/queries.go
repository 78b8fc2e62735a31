package subscriber

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nao1215/workforce/internal/performance"
	"github.com/nao1215/workforce/pkg/httpclient"
)

// Queries はパフォーマンス照会APIへのアクセス手段。
type Queries interface {
	Feed(ctx context.Context) ([]performance.EventView, error)
	TopPerformers(ctx context.Context) ([]performance.TopPerformer, error)
	NeedsAttention(ctx context.Context) ([]performance.AttentionItem, error)
	Snapshot(ctx context.Context, employeeID string) (*performance.Snapshot, error)
	Timeline(ctx context.Context, employeeID string) ([]performance.EventView, error)
}

// HTTPQueries はhttpclient経由でパフォーマンス照会サービスを呼び出す。
type HTTPQueries struct {
	client *httpclient.Client
}

// NewHTTPQueries はHTTPQueriesを生成する。
func NewHTTPQueries(client *httpclient.Client) *HTTPQueries {
	return &HTTPQueries{client: client}
}

const performancePath = "/api/v1/performance"

// Feed は全従業員のイベントフィードを取得する。
func (q *HTTPQueries) Feed(ctx context.Context) ([]performance.EventView, error) {
	var out []performance.EventView
	if err := q.client.GetJSON(ctx, performancePath+"/feed", &out); err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	return out, nil
}

// TopPerformers は上位者ランキングを取得する。
func (q *HTTPQueries) TopPerformers(ctx context.Context) ([]performance.TopPerformer, error) {
	var out []performance.TopPerformer
	if err := q.client.GetJSON(ctx, performancePath+"/top-performers", &out); err != nil {
		return nil, fmt.Errorf("上位者ランキングの取得に失敗: %w", err)
	}
	return out, nil
}

// NeedsAttention は要注意ランキングを取得する。
func (q *HTTPQueries) NeedsAttention(ctx context.Context) ([]performance.AttentionItem, error) {
	var out []performance.AttentionItem
	if err := q.client.GetJSON(ctx, performancePath+"/needs-attention", &out); err != nil {
		return nil, fmt.Errorf("要注意ランキングの取得に失敗: %w", err)
	}
	return out, nil
}

// Snapshot は従業員のスナップショットを取得する。
func (q *HTTPQueries) Snapshot(ctx context.Context, employeeID string) (*performance.Snapshot, error) {
	var out performance.Snapshot
	path := fmt.Sprintf("%s/employee/%s/snapshot", performancePath, url.PathEscape(employeeID))
	if err := q.client.GetJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗: %w", err)
	}
	return &out, nil
}

// Timeline は従業員のタイムラインを取得する。
func (q *HTTPQueries) Timeline(ctx context.Context, employeeID string) ([]performance.EventView, error) {
	var out []performance.EventView
	path := fmt.Sprintf("%s/employee/%s/timeline", performancePath, url.PathEscape(employeeID))
	if err := q.client.GetJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("タイムラインの取得に失敗: %w", err)
	}
	return out, nil
}
