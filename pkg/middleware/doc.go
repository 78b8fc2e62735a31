// Package middleware はworkforceの各サービスが共有するGinミドルウェアを提供する。
//
// JWTAuthはトークンを検証し、従業員ID、subject、表示名の順で
// 通知の宛先となるアイデンティティを決める。WebSocketのハンドシェイク用に
// access_tokenクエリからもトークンを受け付ける。
// AccessLogはそのクエリ値を伏せてアクセスログを書く。
// ほかに、slogへ記録するRecoveryと資格情報付きのCORSを含む。
package middleware
