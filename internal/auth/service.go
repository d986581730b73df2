// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// 認証フローの結果を区別するためのエラー。
var (
	// ErrMissingEmailClaim はclaimsにemailが含まれない場合のエラー。
	// emailなしではユーザーをキーできないため、認証失敗として扱う。
	ErrMissingEmailClaim = errors.New("email claim is missing")

	// ErrNotAuthenticated は有効なセッション・プリンシパルが存在しない場合のエラー。
	// 例外ではなく通常の否定結果であり、ハンドラーは401を返す。
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrBrokerAuth はブローカーとの交換が失敗した場合のエラー（同意拒否、無効なコード等）。
	// ハンドラーはログアウト経路へリダイレクトし、ユーザーデータには触れない。
	ErrBrokerAuth = errors.New("broker authentication failed")
)

// Claims はIdPが返す検証済みアイデンティティ属性を表す。
// Documentにはブローカーのレスポンス全体をそのまま保持する。
type Claims struct {
	Subject  string
	Email    string
	Name     string
	Picture  string
	Document json.RawMessage
	Provider string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 1メソッドの交換処理を差し替えるだけで別IdPを追加できるようにする抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードを検証済みclaimsに交換する。
	ExchangeCode(ctx context.Context, code string) (*Claims, error)
}

// MetricsRecorder は認証フローのメトリクス記録インターフェース。
// metrics.Collectorが実装する。
type MetricsRecorder interface {
	RecordLoginSuccess(created bool)
	RecordLoginFailure(reason string)
	RecordCallbackLatency(d time.Duration)
}

// nopMetrics はメトリクス未設定時に使用する何もしないMetricsRecorder。
type nopMetrics struct{}

func (nopMetrics) RecordLoginSuccess(created bool)       {}
func (nopMetrics) RecordLoginFailure(reason string)      {}
func (nopMetrics) RecordCallbackLatency(d time.Duration) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// CallbackResult はコールバック処理の結果。
// Createdは初回ログインでユーザー行が新規作成されたことを示す。
type CallbackResult struct {
	Session *model.Session
	User    *model.User
	Created bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	metrics     MetricsRecorder
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		metrics:     metrics,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 各ステップはハードゲートであり、途中で失敗した場合は後続の副作用を発生させない。
// セッションのINSERTが完了してから結果を返すため、呼び出し側がリダイレクトを
// 送った時点でセッションは必ず照会可能になっている。
func (s *Service) HandleCallback(ctx context.Context, code string) (*CallbackResult, error) {
	start := time.Now()

	// 1. 認可コードを検証済みclaimsに交換
	claims, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordLoginFailure("broker_exchange")
		return nil, fmt.Errorf("%w: %s", ErrBrokerAuth, err)
	}

	// 2. emailはユーザーの正規キーのため、欠落は認証失敗として弾く
	if claims.Email == "" {
		s.metrics.RecordLoginFailure("missing_email")
		return nil, ErrMissingEmailClaim
	}

	// 3. ユーザーをUPSERT。排他性はusersテーブルの一意制約が保証する
	user, created, err := s.userRepo.Upsert(ctx, claims.Email, claims.Picture, claims.Document)
	if err != nil {
		s.metrics.RecordLoginFailure("upsert")
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 4. プリンシパルをセッションへ束縛
	session, err := s.createSession(ctx, claims)
	if err != nil {
		s.metrics.RecordLoginFailure("session_bind")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLoginSuccess(created)
	s.metrics.RecordCallbackLatency(time.Since(start))

	if created {
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("email", user.Email),
			slog.String("provider", claims.Provider),
		)
	} else {
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", claims.Provider),
		)
	}

	return &CallbackResult{Session: session, User: user, Created: created}, nil
}

// CheckAuth はセッションIDから現在のユーザーを解決する。読み取り専用であり、
// ユーザー行を作成することはない。セッションが無効な場合はErrNotAuthenticatedを返す。
// プリンシパルは存在するのにユーザー行が無い場合は整合性欠陥としてログに残し、
// クラッシュさせず未認証として扱う。
func (s *Service) CheckAuth(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrNotAuthenticated
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrNotAuthenticated
	}

	principal := DecodePrincipal(session.Principal)
	if principal == nil {
		return nil, ErrNotAuthenticated
	}

	user, err := s.userRepo.FindByEmail(ctx, principal.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Warn("session principal has no matching user",
			slog.String("email", principal.Email),
			slog.String("session_id", sessionID),
		)
		return nil, ErrNotAuthenticated
	}

	return user, nil
}

// Logout はセッションを破棄する。セッションIDが無い場合は何もせず成功する（冪等）。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// createSession はclaimsからプリンシパルをエンコードし、セッションを永続化する。
func (s *Service) createSession(ctx context.Context, claims *Claims) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	principal, err := EncodePrincipal(&Principal{
		Subject: claims.Subject,
		Email:   claims.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode principal: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		Principal: principal,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
