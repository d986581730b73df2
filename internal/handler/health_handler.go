package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// HealthChecker はヘルスチェックに必要な依存のインターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db HealthChecker) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check はデータベース接続を確認し、稼働状態を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		slog.Error("health check failed", slog.String("error", err.Error()))
		middleware.WriteError(w, model.NewAPIError(http.StatusServiceUnavailable, "database unavailable"))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, middleware.ResponseEnvelope{
		Success: true,
		Message: "ok",
	})
}
