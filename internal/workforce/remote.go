package workforce

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/workforce/pkg/event"
	"github.com/nao1215/workforce/pkg/httpclient"
)

// defaultMaxInFlight は同時に送る依頼数の既定の上限。
const defaultMaxInFlight = 64

// RemoteDispatcher は通知ハブの内部APIへHTTPで配信を依頼する。
// 依頼はゴルーチンで送り、呼び出し元は待たない。
// 送信中の依頼が上限に達している間の依頼は破棄してログに残す。
type RemoteDispatcher struct {
	client      *httpclient.Client
	timeout     time.Duration
	maxInFlight int
	logger      *slog.Logger
	group       errgroup.Group
	dropped     atomic.Int64
}

// RemoteOption はRemoteDispatcherの設定を変更する。
type RemoteOption func(*RemoteDispatcher)

// WithMaxInFlight は同時に送る依頼数の上限を設定する。0以下は既定値を使う。
func WithMaxInFlight(n int) RemoteOption {
	return func(d *RemoteDispatcher) {
		if n > 0 {
			d.maxInFlight = n
		}
	}
}

// NewRemoteDispatcher はRemoteDispatcherを生成する。
// clientにはサービス用トークンを設定したhttpclient.Clientを渡す。
func NewRemoteDispatcher(client *httpclient.Client, timeout time.Duration, logger *slog.Logger, opts ...RemoteOption) *RemoteDispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &RemoteDispatcher{
		client:      client,
		timeout:     timeout,
		maxInFlight: defaultMaxInFlight,
		logger:      logger.With(slog.String("component", "remote-dispatcher"), slog.String("hub", client.BaseURL())),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.group.SetLimit(d.maxInFlight)
	return d
}

// remoteBroadcast は /internal/broadcast のリクエストボディ。
type remoteBroadcast struct {
	// Channel は配信するチャネル名。
	Channel event.Channel `json:"channel"`
	// Payload はチャネル固有のデータ。
	Payload any `json:"payload"`
}

// remoteSend は /internal/send のリクエストボディ。
type remoteSend struct {
	// Identity は配信先のアイデンティティ。
	Identity string `json:"identity"`
	// Channel は配信するチャネル名。
	Channel event.Channel `json:"channel"`
	// Payload はチャネル固有のデータ。
	Payload any `json:"payload"`
}

// Broadcast は全体配信を依頼する。
func (d *RemoteDispatcher) Broadcast(ctx context.Context, channel event.Channel, payload any) error {
	d.post(ctx, "/api/v1/internal/broadcast", remoteBroadcast{Channel: channel, Payload: payload}, channel, "")
	return nil
}

// SendTo は個別配信を依頼する。
func (d *RemoteDispatcher) SendTo(ctx context.Context, identity string, channel event.Channel, payload any) error {
	d.post(ctx, "/api/v1/internal/send", remoteSend{Identity: identity, Channel: channel, Payload: payload}, channel, identity)
	return nil
}

// post はリクエストの取り消しに影響されないコンテキストで依頼を送る。
func (d *RemoteDispatcher) post(ctx context.Context, path string, body any, channel event.Channel, identity string) {
	ctx = context.WithoutCancel(ctx)
	started := d.group.TryGo(func() error {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.client.PostJSON(ctx, path, body, nil); err != nil {
			d.logger.WarnContext(ctx, "通知ハブへの配信依頼に失敗しました",
				slog.String("channel", string(channel)),
				slog.String("identity", identity),
				slog.Any("error", err),
			)
		}
		return nil
	})
	if !started {
		d.dropped.Add(1)
		d.logger.WarnContext(ctx, "送信中の依頼が上限に達したため配信依頼を破棄しました",
			slog.String("channel", string(channel)),
			slog.String("identity", identity),
			slog.Int("max_in_flight", d.maxInFlight),
		)
	}
}

// Dropped は上限超過で破棄した依頼数を返す。
func (d *RemoteDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Wait は送信中の依頼がすべて終わるまで待つ。
func (d *RemoteDispatcher) Wait() {
	_ = d.group.Wait()
}
