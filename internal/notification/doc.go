// Package notification は通知サービスの内部実装を提供する。
//
// チケットの作成・割り当て・コメント・ステータス変更を受けて
// 通知先ユーザーへの通知を生成・保存する。通知の一覧取得や既読管理に加え、
// 接続ごとのServer-Sent Eventsストリームで新着通知を配信する。
//
// チケットイベントは内部APIで直接受け取るほか、Event Storeをポーリングして取り込むこともできる。
// 通知の作成と既読化はEvent Storeへ監査イベントとして記録する。
package notification
