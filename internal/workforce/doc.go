// Package workforce は業務データの書き込みAPIと通知のトリガーを提供する。
//
// 勤怠の記録、メッセージ送信、タスクの作成・更新・削除、お知らせの投稿を
// 永続化したあとで、Notifierが該当するアイデンティティへ通知を送る。
// 通知の配信先はDispatcherで差し替えられる（同一プロセスのハブ、
// HTTP経由のリモートハブ、Kafka中継）。
package workforce
