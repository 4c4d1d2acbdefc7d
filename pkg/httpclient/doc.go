// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 通知サービスからイベントストアへの監査イベント送信や、
// gatewayから内部サービスへのリクエスト中継（ストリームを含む）で使用する。
package httpclient
