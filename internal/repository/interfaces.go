// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"encoding/json"

	"github.com/hitoshi/authgate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Upsert はemailをキーにユーザーを作成または更新する。
	// 単一のINSERT ... ON CONFLICT文で実装され、同一emailへの同時初回ログインが
	// 競合しても必ず1行に収束する。2値目は新規作成されたかどうかを返す。
	Upsert(ctx context.Context, email, imageURL string, profile json.RawMessage) (*model.User, bool, error)

	// FindByEmail は指定emailのユーザーを取得する。見つからない場合はnilを返す。
	// 副作用を持たない純粋な読み取り。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。戻り値が返った時点で書き込みは永続化済み。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れまたは不在の場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しないIDはエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
