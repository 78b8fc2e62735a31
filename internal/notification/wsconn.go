package notification

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait は1フレームの書き込みに許す時間。
	writeWait = 10 * time.Second
	// pongWait はクライアントからのPongを待つ時間。
	pongWait = 60 * time.Second
	// pingPeriod はPingを送る間隔。pongWaitより短くする。
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize はクライアントから受け付ける最大メッセージサイズ。
	maxMessageSize = 4096
	// sendBufferSize は接続ごとの送信キューの長さ。
	sendBufferSize = 64
)

var (
	// ErrConnClosed は閉じた接続へ送信しようとしたことを表す。
	ErrConnClosed = errors.New("接続は閉じられています")
	// ErrSendBufferFull は送信キューが溢れたことを表す。
	ErrSendBufferFull = errors.New("送信キューが一杯です")
)

// wsConn はWebSocket接続をConnとして扱うためのラッパー。
// Sendはキューに積むだけで、実際の書き込みはwritePumpが行う。
type wsConn struct {
	id        string
	identity  string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newWSConn(ws *websocket.Conn, identity string, logger *slog.Logger) *wsConn {
	id := uuid.New().String()
	return &wsConn{
		id:       id,
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		logger:   logger.With(slog.String("conn_id", id), slog.String("identity", identity)),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

// Send はフレームを送信キューに積む。キューが一杯ならErrSendBufferFullを返す。
func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// close は接続を閉じる。複数回呼んでもよい。
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump はクライアントからの読み込みを続け、切断を検知したら戻る。
// クライアントから送られたメッセージは使わない。
func (c *wsConn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocketの読み込みに失敗しました", slog.Any("error", err))
			}
			return
		}
	}
}

// writePump は送信キューのフレームを書き込み、定期的にPingを送る。
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("WebSocketへの書き込みに失敗しました", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
