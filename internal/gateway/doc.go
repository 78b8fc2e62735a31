// Package gateway はクライアント向けの単一の入口を提供する。
//
// 認証済みのリクエストを、パフォーマンス照会・書き込みAPI・通知ハブの
// 各サービスへ同じパスのまま転送する。通知ハブへのWebSocket接続は
// リバースプロキシでそのまま中継する。開発時は従業員IDを指定して
// JWTを発行できる。
package gateway
