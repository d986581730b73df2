// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/model"
)

// SessionCookieName はセッションIDを運ぶCookieの名前。
const SessionCookieName = "session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	principalContextKey = contextKey("principal")
	sessionIDContextKey = contextKey("session_id")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewAuthContext はCookieからセッションを解決し、認証済みプリンシパルを
// リクエストコンテキストへ注入するミドルウェアを返す。
// リクエストを拒否することはない。未認証の判断は各ハンドラーが行う。
// ストア障害はログに残し、匿名として通す（認証必須のハンドラー側で再解決される）。
func NewAuthContext(sessions SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessions.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			principal := auth.DecodePrincipal(session.Principal)
			if principal == nil {
				// 壊れたプリンシパルは匿名として扱う
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから認証済みプリンシパルを取得する。
// 未認証の場合はnilを返す。
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	principal, _ := ctx.Value(principalContextKey).(*auth.Principal)
	return principal
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
// 未認証の場合は空文字列を返す。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithPrincipal はコンテキストにプリンシパルを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *auth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
