// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの発行と検証、権限チェック、アクセスログ、
// パニックリカバリ、CORS設定を含む。
package middleware
