// Package relay は通知エンベロープをKafka経由で複数の通知ハブへ中継する。
//
// Publisherは業務サービス側で通知をトピックへ書き込み、Consumerは各ハブで
// トピックを読み、自分のDirectoryに登録された接続へ配信する。
// Consumerはコンシューマーグループを使わず全パーティションを末尾から読むので、
// すべてのハブが全件を受け取り、ブローカーにオフセットは残らない。
// 取りこぼした通知の再送はしない。
package relay
