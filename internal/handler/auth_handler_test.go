package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/security"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*auth.CallbackResult, error)
	checkAuthFn      func(ctx context.Context, sessionID string) (*model.User, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*auth.CallbackResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) CheckAuth(ctx context.Context, sessionID string) (*model.User, error) {
	if m.checkAuthFn != nil {
		return m.checkAuthFn(ctx, sessionID)
	}
	return nil, auth.ErrNotAuthenticated
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func newTestHandler(svc AuthServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, security.NewProfileSanitizer(), AuthHandlerConfig{
		ClientURL:     "http://localhost:3000",
		CookieDomain:  "",
		CookieSecure:  false,
		SessionMaxAge: 86400,
	})
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_Login_RedirectsToOAuthURL(t *testing.T) {
	svc := &mockAuthService{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}

	location := resp.Header.Get("Location")
	if !strings.Contains(location, "accounts.google.com") {
		t.Errorf("Location = %q, should contain google oauth URL", location)
	}

	// stateがCookieに保存されること
	stateCookie := findCookie(resp.Cookies(), "oauth_state")
	if stateCookie == nil {
		t.Fatal("expected oauth_state cookie to be set")
	}
	if stateCookie.Value == "" {
		t.Error("oauth_state cookie should not be empty")
	}
	if !stateCookie.HttpOnly {
		t.Error("oauth_state cookie should be HttpOnly")
	}
	if !strings.Contains(location, stateCookie.Value) {
		t.Error("login URL should carry the same state as the cookie")
	}
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirects(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.CallbackResult, error) {
			return &auth.CallbackResult{
				Session: &model.Session{
					ID:        "session-id-abc",
					ExpiresAt: time.Now().Add(24 * time.Hour),
				},
				User:    &model.User{ID: "user-id-123", Email: "a@x.com"},
				Created: true,
			}, nil
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=test-state", nil)
	// stateの検証のためにcookieを設定
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}

	// ClientURLにリダイレクトされること
	location := resp.Header.Get("Location")
	if location != "http://localhost:3000" {
		t.Errorf("Location = %q, want %q", location, "http://localhost:3000")
	}

	// セッションCookieが設定されること
	sessionCookie := findCookie(resp.Cookies(), middleware.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	if sessionCookie.Value != "session-id-abc" {
		t.Errorf("session cookie value = %q, want %q", sessionCookie.Value, "session-id-abc")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if sessionCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie SameSite = %v, want %v", sessionCookie.SameSite, http.SameSiteLaxMode)
	}
	if sessionCookie.MaxAge != 86400 {
		t.Errorf("session cookie MaxAge = %d, want 86400", sessionCookie.MaxAge)
	}
}

func TestAuthHandler_Callback_MissingCode_ReturnsBadRequest(t *testing.T) {
	h := newTestHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestAuthHandler_Callback_StateMismatch_ReturnsBadRequest(t *testing.T) {
	called := false
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.CallbackResult, error) {
			called = true
			return nil, nil
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=wrong-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "correct-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if called {
		t.Error("service should not be called on state mismatch")
	}
}

func TestAuthHandler_Callback_BrokerFailure_RedirectsToLogout(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.CallbackResult, error) {
			return nil, fmt.Errorf("%w: access_denied", auth.ErrBrokerAuth)
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=bad-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if location := resp.Header.Get("Location"); location != "/auth/logout" {
		t.Errorf("Location = %q, want %q", location, "/auth/logout")
	}

	// セッションCookieは設定されないこと
	if c := findCookie(resp.Cookies(), middleware.SessionCookieName); c != nil {
		t.Error("session cookie should not be set on broker failure")
	}
}

func TestAuthHandler_Callback_MissingEmail_ReturnsUnauthorized(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.CallbackResult, error) {
			return nil, auth.ErrMissingEmailClaim
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var envelope middleware.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("response should be a JSON envelope: %v", err)
	}
	if envelope.Success {
		t.Error("Success should be false")
	}
}

func TestAuthHandler_Callback_StoreError_ReturnsInternalError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.CallbackResult, error) {
			return nil, errors.New("failed to upsert user: connection refused")
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	// 内部エラーの詳細が漏れないこと
	var envelope middleware.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("response should be a JSON envelope: %v", err)
	}
	if strings.Contains(envelope.Message, "connection refused") {
		t.Errorf("Message = %q, should not expose internal details", envelope.Message)
	}
}

func TestAuthHandler_CheckAuth_Authenticated_ReturnsUser(t *testing.T) {
	svc := &mockAuthService{
		checkAuthFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			if sessionID != "valid-session" {
				t.Errorf("sessionID = %q, want %q", sessionID, "valid-session")
			}
			return &model.User{
				ID:      "user-id-me",
				Email:   "me@example.com",
				Profile: json.RawMessage(`{"name":"Me User"}`),
			}, nil
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/login/check-auth", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()

	h.CheckAuth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var envelope middleware.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("response should be a JSON envelope: %v", err)
	}
	if !envelope.Success {
		t.Error("Success should be true")
	}
	if envelope.Message != "User logged in successfully" {
		t.Errorf("Message = %q, want %q", envelope.Message, "User logged in successfully")
	}
	if envelope.User == nil || envelope.User.Email != "me@example.com" {
		t.Errorf("User = %+v, want the authenticated user", envelope.User)
	}
}

func TestAuthHandler_CheckAuth_SanitizesProfileMarkup(t *testing.T) {
	svc := &mockAuthService{
		checkAuthFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{
				ID:      "user-id-me",
				Email:   "me@example.com",
				Profile: json.RawMessage(`{"name":"<script>alert(1)</script>Me"}`),
			}, nil
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/login/check-auth", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()

	h.CheckAuth(w, req)

	if strings.Contains(w.Body.String(), "<script>") {
		t.Error("profile markup should be stripped from the response")
	}
}

func TestAuthHandler_CheckAuth_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := newTestHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/login/check-auth", nil)
	w := httptest.NewRecorder()

	h.CheckAuth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var envelope middleware.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("response should be a JSON envelope: %v", err)
	}
	if envelope.Success {
		t.Error("Success should be false")
	}
	if envelope.Message != "User not logged in" {
		t.Errorf("Message = %q, want %q", envelope.Message, "User not logged in")
	}
}

func TestAuthHandler_CheckAuth_StoreError_ReturnsInternalError(t *testing.T) {
	svc := &mockAuthService{
		checkAuthFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return nil, errors.New("failed to find session: db down")
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/login/check-auth", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "some-session"})
	w := httptest.NewRecorder()

	h.CheckAuth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
}

func TestAuthHandler_Logout_Success_ClearsCookieAndRedirects(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-to-logout"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loggedOut != "session-to-logout" {
		t.Errorf("logged out session = %q, want %q", loggedOut, "session-to-logout")
	}

	// セッションCookieがクリアされること
	sessionCookie := findCookie(resp.Cookies(), middleware.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("expected session cookie to be cleared")
	}
	if sessionCookie.MaxAge != -1 {
		t.Errorf("session cookie MaxAge = %d, want -1 (delete)", sessionCookie.MaxAge)
	}
}

func TestAuthHandler_Logout_NoSession_StillRedirects(t *testing.T) {
	called := false
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			called = true
			return nil
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if called {
		t.Error("service should not be called without a session cookie")
	}
}

func TestAuthHandler_Logout_ServiceError_StillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			return errors.New("db down")
		},
	}
	h := newTestHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-x"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}

	sessionCookie := findCookie(resp.Cookies(), middleware.SessionCookieName)
	if sessionCookie == nil || sessionCookie.MaxAge != -1 {
		t.Error("session cookie should be cleared even when logout fails")
	}
}
