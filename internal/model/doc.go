// Package model は従業員管理の業務レコードを定義する。
//
// 勤怠、タスク、メッセージ、お知らせは永続化層で保存され、
// パフォーマンス集計と通知配信の入力となる。
package model
