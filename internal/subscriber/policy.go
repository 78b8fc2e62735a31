package subscriber

import "time"

// State は購読セッションの接続状態。
type State int

const (
	// StateDisconnected は未接続。再接続待ちを含む。
	StateDisconnected State = iota
	// StateConnecting は接続処理中。
	StateConnecting
	// StateConnected は接続済み。
	StateConnected
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// ReconnectPolicy は再接続までの待ち時間を決める。
// attemptは直前の接続成功から数えた失敗回数（0始まり）。
type ReconnectPolicy interface {
	NextDelay(attempt int) time.Duration
}

// defaultDelays は既定の再接続間隔。最後の値を以後ずっと使う。
var defaultDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// BackoffPolicy は段階的に間隔を伸ばす再接続ポリシー。
type BackoffPolicy struct {
	// Delays は試行ごとの待ち時間。尽きたら最後の値を繰り返す。
	Delays []time.Duration
}

// DefaultPolicy は0秒、2秒、10秒、30秒、以後30秒で再接続するポリシーを返す。
func DefaultPolicy() BackoffPolicy {
	return BackoffPolicy{Delays: append([]time.Duration(nil), defaultDelays...)}
}

// NextDelay はattempt回目の再接続までの待ち時間を返す。
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// MarshalText は状態を名前で出力する。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
