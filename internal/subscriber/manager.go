package subscriber

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/workforce/internal/model"
	"github.com/nao1215/workforce/internal/performance"
	"github.com/nao1215/workforce/pkg/event"
)

// maxFrameSize は受信するフレームの最大サイズ。
const maxFrameSize = 64 * 1024

// View は購読セッションが手元に保持している状態。
type View struct {
	// State は接続状態。
	State State `json:"state"`
	// Messages は受信したメッセージ。新しいものが先頭。
	Messages []model.Message `json:"messages"`
	// Announcements は受信したお知らせ。新しいものが先頭。
	Announcements []model.Announcement `json:"announcements"`
	// Feed は全従業員のイベントフィード（ダッシュボードモード）。
	Feed []performance.EventView `json:"feed,omitempty"`
	// TopPerformers は上位者ランキング（ダッシュボードモード）。
	TopPerformers []performance.TopPerformer `json:"topPerformers,omitempty"`
	// NeedsAttention は要注意ランキング（ダッシュボードモード）。
	NeedsAttention []performance.AttentionItem `json:"needsAttention,omitempty"`
	// Snapshot は本人のスナップショット（個人モード）。
	Snapshot *performance.Snapshot `json:"snapshot,omitempty"`
	// Timeline は本人のタイムライン（個人モード）。
	Timeline []performance.EventView `json:"timeline,omitempty"`
	// Refreshes は照会APIからの再取得に成功した回数。
	Refreshes int `json:"refreshes"`
	// LastRefreshed は最後に再取得した時刻。
	LastRefreshed time.Time `json:"lastRefreshed"`
}

func (v View) clone() View {
	out := v
	out.Messages = slices.Clone(v.Messages)
	out.Announcements = slices.Clone(v.Announcements)
	out.Feed = slices.Clone(v.Feed)
	out.TopPerformers = slices.Clone(v.TopPerformers)
	out.NeedsAttention = slices.Clone(v.NeedsAttention)
	out.Timeline = slices.Clone(v.Timeline)
	if v.Snapshot != nil {
		snap := *v.Snapshot
		snap.RecentFeedback = slices.Clone(v.Snapshot.RecentFeedback)
		out.Snapshot = &snap
	}
	return out
}

// Options はManagerの生成パラメータ。
type Options struct {
	// HubURL は通知ハブのWebSocketエンドポイント。
	HubURL string
	// Token は接続時に送るJWTトークン。
	Token string
	// EmployeeID が空でなければ個人モード、空ならダッシュボードモードで動作する。
	EmployeeID string
	// Queries はパフォーマンス照会APIへのアクセス手段。
	Queries Queries
	// Policy は再接続ポリシー。nilならDefaultPolicy。
	Policy ReconnectPolicy
	// Dialer はWebSocketのダイアラー。nilならwebsocket.DefaultDialer。
	Dialer *websocket.Dialer
	// OnChange は状態が変わるたびに呼ばれる。引数は状態のコピー。
	OnChange func(View)
	// Logger は構造化ロガー。
	Logger *slog.Logger
}

// Manager は1セッション分の購読を管理する。
type Manager struct {
	hubURL     string
	token      string
	employeeID string
	queries    Queries
	policy     ReconnectPolicy
	dialer     *websocket.Dialer
	onChange   func(View)
	logger     *slog.Logger

	// handlers はチャネルごとの受信処理。接続のたびにsubscribeで張り直す。
	handlers map[event.Channel]func(context.Context, json.RawMessage)
	// refreshReq は再取得の要求。容量1で、処理中に届いた要求は1回分にまとめる。
	refreshReq chan struct{}

	mu   sync.Mutex
	view View
}

// New はManagerを生成する。
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	policy := opts.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Manager{
		hubURL:     opts.HubURL,
		token:      opts.Token,
		employeeID: opts.EmployeeID,
		queries:    opts.Queries,
		policy:     policy,
		dialer:     dialer,
		onChange:   opts.OnChange,
		logger:     logger.With(slog.String("component", "subscriber")),
		refreshReq: make(chan struct{}, 1),
		view: View{
			State:         StateDisconnected,
			Messages:      []model.Message{},
			Announcements: []model.Announcement{},
		},
	}
}

// View は現在の状態のコピーを返す。
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view.clone()
}

// State は現在の接続状態を返す。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view.State
}

// Run はctxがキャンセルされるまで接続を維持する。
// 切断や接続失敗はReconnectPolicyの間隔で再試行し、エラーとしては返さない。
// 照会APIの再取得はフレームの受信とは別のゴルーチンで行う。
func (m *Manager) Run(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		m.refreshLoop(ctx)
		return nil
	})
	g.Go(func() error {
		m.connectLoop(ctx)
		return nil
	})
	return g.Wait()
}

// connectLoop は接続と再接続を繰り返す。
func (m *Manager) connectLoop(ctx context.Context) {
	attempt := 0
	for first := true; ; first = false {
		if !first {
			delay := m.policy.NextDelay(attempt)
			attempt++
			if !sleep(ctx, delay) {
				return
			}
		}

		m.setState(StateConnecting)
		conn, err := m.dial(ctx)
		if err != nil {
			m.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("通知ハブへの接続に失敗しました",
				slog.String("url", m.hubURL),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			continue
		}

		attempt = 0
		m.setState(StateConnected)
		m.subscribe()
		m.requestRefresh()

		err = m.readLoop(ctx, conn)
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		m.logger.Info("通知ハブから切断されました", slog.Any("error", err))
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	conn, resp, err := m.dialer.DialContext(ctx, m.hubURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop は接続が切れるかctxがキャンセルされるまでフレームを読み続ける。
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.handleFrame(ctx, data)
	}
}

// subscribe は固定のチャネル集合に受信処理を割り当てる。
func (m *Manager) subscribe() {
	handlers := make(map[event.Channel]func(context.Context, json.RawMessage), len(event.Channels()))
	for _, ch := range event.Channels() {
		switch {
		case ch == event.ChannelReceiveMessage:
			handlers[ch] = m.onMessage
		case ch == event.ChannelReceiveAnnouncement:
			handlers[ch] = m.onAnnouncement
		case ch.IsInvalidation():
			handlers[ch] = func(context.Context, json.RawMessage) { m.requestRefresh() }
		}
	}

	m.mu.Lock()
	m.handlers = handlers
	m.mu.Unlock()
	m.logger.Debug("チャネルを購読しました", slog.Int("channels", len(handlers)))
}

// handleFrame は1件のフレームを処理する。壊れたフレームと未購読のチャネルは無視する。
func (m *Manager) handleFrame(ctx context.Context, data []byte) {
	f, err := event.DecodeFrame(data)
	if err != nil {
		m.logger.Debug("フレームを破棄しました", slog.Any("error", err))
		return
	}

	m.mu.Lock()
	h, ok := m.handlers[f.Channel]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("未購読のチャネルを無視しました", slog.String("channel", string(f.Channel)))
		return
	}
	h(ctx, f.Payload)
}

func (m *Manager) onMessage(_ context.Context, raw json.RawMessage) {
	msg, err := event.DecodePayload[model.Message](raw)
	if err != nil {
		m.logger.Debug("メッセージのデコードに失敗しました", slog.Any("error", err))
		return
	}
	m.update(func(v *View) {
		v.Messages = slices.Insert(v.Messages, 0, *msg)
	})
}

func (m *Manager) onAnnouncement(_ context.Context, raw json.RawMessage) {
	a, err := event.DecodePayload[model.Announcement](raw)
	if err != nil {
		m.logger.Debug("お知らせのデコードに失敗しました", slog.Any("error", err))
		return
	}
	m.update(func(v *View) {
		v.Announcements = slices.Insert(v.Announcements, 0, *a)
	})
}

// requestRefresh は再取得を要求する。既に要求が積まれていれば何もしない。
func (m *Manager) requestRefresh() {
	select {
	case m.refreshReq <- struct{}{}:
	default:
	}
}

// refreshLoop はctxがキャンセルされるまで再取得の要求を処理する。
func (m *Manager) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.refreshReq:
			m.refresh(ctx)
		}
	}
}

// refresh はモードに応じた照会APIを呼び直す。
// 失敗した場合は手元の状態をそのまま残す。
func (m *Manager) refresh(ctx context.Context) {
	if m.queries == nil {
		return
	}
	var err error
	if m.employeeID != "" {
		err = m.refreshPersonal(ctx)
	} else {
		err = m.refreshDashboard(ctx)
	}
	if err != nil {
		m.logger.Warn("パフォーマンス情報の再取得に失敗しました", slog.Any("error", err))
	}
}

func (m *Manager) refreshPersonal(ctx context.Context) error {
	var (
		snap     *performance.Snapshot
		timeline []performance.EventView
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap, err = m.queries.Snapshot(gctx, m.employeeID)
		return err
	})
	g.Go(func() (err error) {
		timeline, err = m.queries.Timeline(gctx, m.employeeID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	m.update(func(v *View) {
		v.Snapshot = snap
		v.Timeline = timeline
		v.Refreshes++
		v.LastRefreshed = time.Now()
	})
	return nil
}

func (m *Manager) refreshDashboard(ctx context.Context) error {
	var (
		feed      []performance.EventView
		top       []performance.TopPerformer
		attention []performance.AttentionItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		feed, err = m.queries.Feed(gctx)
		return err
	})
	g.Go(func() (err error) {
		top, err = m.queries.TopPerformers(gctx)
		return err
	})
	g.Go(func() (err error) {
		attention, err = m.queries.NeedsAttention(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	m.update(func(v *View) {
		v.Feed = feed
		v.TopPerformers = top
		v.NeedsAttention = attention
		v.Refreshes++
		v.LastRefreshed = time.Now()
	})
	return nil
}

func (m *Manager) setState(s State) {
	m.update(func(v *View) {
		v.State = s
	})
}

// update は状態を変更し、変更後のコピーをOnChangeへ渡す。
func (m *Manager) update(fn func(*View)) {
	m.mu.Lock()
	fn(&m.view)
	snapshot := m.view.clone()
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(snapshot)
	}
}

// sleep はdだけ待つ。ctxが先にキャンセルされた場合はfalseを返す。
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
