// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/security"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.CallbackResult, error)
	CheckAuth(ctx context.Context, sessionID string) (*model.User, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	ClientURL     string // ログイン完了後・ログアウト後のリダイレクト先
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	sanitizer security.ProfileSanitizerService
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sanitizer security.ProfileSanitizerService, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		sanitizer: sanitizer,
		config:    config,
	}
}

// Login はGoogle OAuthフローを開始する。ローカル状態はまだ作成しない。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	url := h.service.GetLoginURL(state)
	http.Redirect(w, r, url, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// セッションの永続化が確認できてからリダイレクトを返す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "invalid state parameter")
		return
	}

	// stateクッキーを削除
	h.clearCookie(w, oauthStateCookie)

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	// 3. 認証処理（交換 → UPSERT → セッション束縛）
	result, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrBrokerAuth):
			// 同意拒否や無効なコードはログアウト経路へ流す。ユーザーデータは変更されていない
			slog.Warn("broker authentication failed", slog.String("error", err.Error()))
			http.Redirect(w, r, "/auth/logout", http.StatusFound)
		case errors.Is(err, auth.ErrMissingEmailClaim):
			slog.Warn("callback claims missing email")
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, "email claim is missing")
		default:
			slog.Error("oauth callback failed", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusInternalServerError, "authentication failed")
		}
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    result.Session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 5. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.ClientURL, http.StatusFound)
}

// CheckAuth は現在のログインユーザー情報を返す。読み取り専用で、ユーザーを作成しない。
// GET /auth/login/check-auth
func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromRequest(r)

	user, err := h.service.CheckAuth(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			// 未認証は例外ではなく通常の否定結果
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, "User not logged in")
			return
		}
		slog.Error("check-auth failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// 保存値は改変せず、レスポンス境界でのみ表示項目をサニタイズする
	sanitized := *user
	sanitized.Profile = h.sanitizer.SanitizeProfile(user.Profile)

	middleware.WriteJSON(w, http.StatusOK, middleware.ResponseEnvelope{
		Success: true,
		Message: "User logged in successfully",
		User:    &sanitized,
	})
}

// Logout はセッションを破棄し、クライアントURLへリダイレクトする。
// セッション削除の失敗はログに残すのみで、リダイレクトは妨げない（冪等）。
// GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := sessionIDFromRequest(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearCookie(w, middleware.SessionCookieName)
	http.Redirect(w, r, h.config.ClientURL, http.StatusFound)
}

// clearCookie は指定Cookieを即時失効させる。
func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionIDFromRequest はセッションCookieの値を返す。無い場合は空文字列。
func sessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
