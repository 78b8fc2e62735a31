// Package notification はアイデンティティ宛てのリアルタイム通知ハブを提供する。
//
// Directoryはアイデンティティと接続ハンドルの対応をシャード単位のロックで管理する。
// HubはRegistryインターフェース（本番ではDirectory）を使い、全接続へのブロードキャストと特定アイデンティティへの
// 送信を行う。配信は投げっぱなしで、失敗した接続は読み飛ばす。
// ServerはWebSocketエンドポイントとサービス間の配信依頼APIを公開する。
package notification
