package notification

import (
	"context"
	"io"
	"log/slog"

	"github.com/nao1215/workforce/pkg/event"
)

// Hub はRegistryに登録された接続へ通知を配信する。
type Hub struct {
	reg    Registry
	logger *slog.Logger
}

// NewHub はHubを生成する。loggerがnilの場合は出力しない。
func NewHub(reg Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		reg:    reg,
		logger: logger.With(slog.String("component", "hub")),
	}
}

// Registry は配信先の対応表を返す。
func (h *Hub) Registry() Registry {
	return h.reg
}

// Broadcast は登録済みの全接続へ通知を送る。
// 個々の接続への送信失敗は他の接続への配信を妨げない。
// ペイロードをエンコードできない場合のみエラーを返す。
func (h *Hub) Broadcast(ctx context.Context, channel event.Channel, payload any) error {
	frame, err := event.EncodeFrame(channel, payload)
	if err != nil {
		return err
	}
	h.deliver(ctx, h.reg.All(), channel, "", frame)
	return nil
}

// SendTo はidentityに登録された接続にだけ通知を送る。
// 接続がない場合は何もしない。
func (h *Hub) SendTo(ctx context.Context, identity string, channel event.Channel, payload any) error {
	frame, err := event.EncodeFrame(channel, payload)
	if err != nil {
		return err
	}
	h.deliver(ctx, h.reg.ConnectionsFor(identity), channel, identity, frame)
	return nil
}

// Deliver は封筒の宛先に応じてBroadcastかSendToを行う。
func (h *Hub) Deliver(ctx context.Context, env *event.Envelope) error {
	if env.IsBroadcast() {
		return h.Broadcast(ctx, env.Channel, env.Payload)
	}
	return h.SendTo(ctx, env.Identity, env.Channel, env.Payload)
}

// deliver はエンコード済みのフレームを各接続へ送り、成功した件数を返す。
func (h *Hub) deliver(ctx context.Context, conns []Conn, channel event.Channel, identity string, frame []byte) int {
	delivered := 0
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			h.logger.DebugContext(ctx, "接続への送信をスキップしました",
				slog.String("conn_id", c.ID()),
				slog.String("channel", string(channel)),
				slog.Any("error", err),
			)
			continue
		}
		delivered++
	}
	h.logger.DebugContext(ctx, "通知を配信しました",
		slog.String("channel", string(channel)),
		slog.String("identity", identity),
		slog.Int("targets", len(conns)),
		slog.Int("delivered", delivered),
	)
	return delivered
}
