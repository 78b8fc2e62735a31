// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// workforceサービスから通知ハブへの配信依頼、購読クライアントから
// 集計APIへの再取得など、JSONをやり取りする通信パターンを統一する。
package httpclient
