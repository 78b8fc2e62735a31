package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Channel はクライアントへ配信される通知チャネルの名前を表す。
type Channel string

const (
	// ChannelReceiveAnnouncement はお知らせ作成を全接続へ配信するチャネル。
	ChannelReceiveAnnouncement Channel = "ReceiveAnnouncement"
	// ChannelReceiveMessage はメッセージ本体を受信者へ配信するチャネル。
	ChannelReceiveMessage Channel = "ReceiveMessage"
	// ChannelPerformanceUpdated はパフォーマンス情報の再取得を促すチャネル。
	ChannelPerformanceUpdated Channel = "PerformanceUpdated"
	// ChannelTaskAssigned はタスク割り当てを担当者へ通知するチャネル。
	ChannelTaskAssigned Channel = "TaskAssigned"
	// ChannelTaskUpdated はタスク更新を担当者へ通知するチャネル。
	ChannelTaskUpdated Channel = "TaskUpdated"
	// ChannelTaskDeleted はタスク削除を担当者へ通知するチャネル。
	ChannelTaskDeleted Channel = "TaskDeleted"
)

// ErrUnknownChannel は未定義のチャネル名が指定されたことを表す。
var ErrUnknownChannel = errors.New("未定義の通知チャネル")

var channels = []Channel{
	ChannelReceiveAnnouncement,
	ChannelReceiveMessage,
	ChannelPerformanceUpdated,
	ChannelTaskAssigned,
	ChannelTaskUpdated,
	ChannelTaskDeleted,
}

// Channels は定義済みの全チャネルを返す。返り値は呼び出し側で変更してよい。
func Channels() []Channel {
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

// ParseChannel は文字列をChannelに変換する。未定義の名前はErrUnknownChannelを返す。
func ParseChannel(s string) (Channel, error) {
	for _, c := range channels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// IsInvalidation はペイロードを再取得のきっかけとしてのみ扱うチャネルかどうかを返す。
func (c Channel) IsInvalidation() bool {
	switch c {
	case ChannelPerformanceUpdated, ChannelTaskAssigned, ChannelTaskUpdated, ChannelTaskDeleted:
		return true
	default:
		return false
	}
}

// Envelope はサービス間で受け渡される通知の封筒。
// 永続化されず、配信に失敗した場合はそのまま破棄される。
type Envelope struct {
	// ID は封筒の一意識別子（UUID）。ログの突き合わせにのみ使用する。
	ID string `json:"id"`
	// Channel は配信先のチャネル名。
	Channel Channel `json:"channel"`
	// Identity は配信先のアイデンティティ。空の場合はブロードキャスト。
	Identity string `json:"identity,omitempty"`
	// Payload はチャネル固有のデータ（JSON形式）。
	Payload json.RawMessage `json:"payload"`
	// CreatedAt は封筒の作成日時。
	CreatedAt time.Time `json:"createdAt"`
}

// IsBroadcast は全接続宛ての封筒かどうかを返す。
func (e *Envelope) IsBroadcast() bool {
	return e.Identity == ""
}

// Frame はWebSocket接続上でクライアントへ送られる1件の通知。
type Frame struct {
	// Channel はチャネル名。
	Channel Channel `json:"channel"`
	// Payload はチャネル固有のデータ（JSON形式）。
	Payload json.RawMessage `json:"payload"`
}

// TaskPayload はTaskAssigned/TaskUpdated/TaskDeletedのペイロード。
type TaskPayload struct {
	// TaskID は対象タスクのID。
	TaskID string `json:"taskId"`
	// Title はタスクのタイトル。
	Title string `json:"title"`
	// Message は利用者向けの説明文。
	Message string `json:"message"`
	// DueDate はタスクの期限。TaskDeletedでは省略される。
	DueDate *time.Time `json:"dueDate,omitempty"`
}

// PerformanceHint はPerformanceUpdatedのペイロード。
// 受信側は内容を信用せず、集計APIを再取得する。
type PerformanceHint struct {
	// Message は利用者向けの短い説明文。
	Message string `json:"message"`
}

// PerformanceHintMessage はPerformanceUpdatedで送る既定の文言。
const PerformanceHintMessage = "Your performance snapshot has been updated!"
