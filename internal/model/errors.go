// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError はHTTPステータスを宣言するアプリケーションエラー。
// ハンドラー層の単一境界で{success:false, message}エンベロープに変換される。
type APIError struct {
	Status  int    // HTTPステータスコード（未指定の場合は500として扱う）
	Message string // クライアントに返すメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// NewAPIError は指定ステータスのAPIErrorを生成する。
func NewAPIError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message}
}
