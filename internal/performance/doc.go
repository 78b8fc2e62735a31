// Package performance はパフォーマンスイベントの集計エンジンとその照会APIを提供する。
//
// 勤怠、完了タスク、評価メッセージを単一のイベント列に正規化し、
// フィード、ランキング、従業員ごとのスナップショットを算出する。
// 状態は持たず、呼び出しのたびにソースの全レコードから再計算する。
package performance
