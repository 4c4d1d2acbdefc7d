// Package eventstore は監査イベントストアサービスの内部実装を提供する。
//
// チケットや通知の状態変更をイベントとして追記のみで記録する。
// 通知サービスは通知の作成と既読化をここへ送信する。
//
// 主な機能:
//   - イベントの追記（バージョンはAggregateごとに自動採番）
//   - AggregateIDによるイベント取得
//   - イベントタイプによるイベント取得
//   - 日時指定によるイベント取得
package eventstore
