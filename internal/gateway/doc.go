// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 開発用トークンの発行とユーザー情報の提供を担い、通知APIへのリクエストを
// 通知サービスへ中継する。通知ストリームはバッファリングせずに逐次転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package gateway
