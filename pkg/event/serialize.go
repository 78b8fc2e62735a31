package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しい通知封筒を生成する。
// payloadにはチャネル固有のデータ構造体を渡す。JSON形式にシリアライズされる。
// identityが空の場合はブロードキャスト宛てになる。
func New(channel Channel, identity string, payload any) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:        uuid.New().String(),
		Channel:   channel,
		Identity:  identity,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EncodeFrame はクライアントへ送るフレームをJSONにエンコードする。
// 配信先の数に関わらず1回だけ呼び出し、結果のバイト列を共有する。
func EncodeFrame(channel Channel, payload any) ([]byte, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(Frame{Channel: channel, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("フレームのシリアライズに失敗: %w", err)
	}
	return b, nil
}

// DecodeFrame は受信したバイト列をFrameにデコードする。
func DecodeFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("フレームのデシリアライズに失敗: %w", err)
	}
	if f.Channel == "" {
		return nil, fmt.Errorf("フレームのデシリアライズに失敗: %w: 空のチャネル", ErrUnknownChannel)
	}
	return &f, nil
}

// DecodePayload はペイロードを指定された型にデシリアライズする。
func DecodePayload[T any](raw json.RawMessage) (*T, error) {
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("ペイロードのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// marshalPayload はペイロードをJSONに変換する。既にJSONの場合はそのまま使う。
func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("null"), nil
		}
		return p, nil
	case nil:
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}
	return b, nil
}
