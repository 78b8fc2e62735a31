// Package store は業務レコードのSQLite永続化層を提供する。
//
// パフォーマンス集計エンジンが読み取るイベントソース（勤怠、タスク、メッセージ、
// 従業員ディレクトリ）と、業務APIが書き込む操作をひとつの実装で提供する。
// スキーマはmigrationsディレクトリに埋め込まれ、起動時に適用される。
package store
