// Package subscriber は通知ハブに常時接続するクライアント側の購読管理を提供する。
//
// Managerは1セッションにつき1本のWebSocket接続を保ち、切断時は
// ReconnectPolicyに従って再接続する。ReceiveMessageとReceiveAnnouncementは
// ペイロードをそのまま手元の一覧の先頭に追加し、それ以外のチャネルは
// 再取得のきっかけとしてのみ扱い、パフォーマンス照会APIを呼び直す。
package subscriber
