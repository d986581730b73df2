package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// ResponseEnvelope はAPIレスポンスの統一フォーマット。
// 成功時はSuccess=trueとUser、失敗時はSuccess=falseとMessageのみを返す。
type ResponseEnvelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *model.User `json:"user,omitempty"`
}

// WriteJSON はエンベロープをJSONとして書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, envelope ResponseEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(envelope)
}

// WriteErrorResponse は統一エンベロープでHTTPエラーレスポンスを書き込む。
// すべてのエラー経路はこの1箇所を通る。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ResponseEnvelope{Success: false, Message: message})
}

// WriteError はエラーの宣言ステータスをエンベロープへマップする。
// *model.APIError以外の未知のエラーは500として扱い、詳細はログのみに残す。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		WriteErrorResponse(w, status, apiErr.Message)
		return
	}
	WriteErrorResponse(w, http.StatusInternalServerError, "internal server error")
}

// NotFoundHandler は未定義ルートに統一エンベロープで404を返す。
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteErrorResponse(w, http.StatusNotFound, "not found")
	}
}

// MethodNotAllowedHandler は許可されないメソッドに統一エンベロープで405を返す。
func MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
