// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// User はIdPで認証されたサービス利用ユーザーを表す。
// emailが正規ルックアップキーであり、1メールアドレスにつき必ず1行のみ存在する。
// ProfileにはIdPから受け取ったclaimsドキュメント全体をそのまま保持する。
type User struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	ImageURL  string          `json:"image_url,omitempty"`
	Profile   json.RawMessage `json:"user_profile,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Session はユーザーのログインセッションを表す。
// Principalにはauth.EncodePrincipalでエンコードされたトークンを保持する。
// Userへの参照はルックアップキーであり、プロフィールの正はあくまでusersテーブル。
type Session struct {
	ID        string
	Principal string
	ExpiresAt time.Time
	CreatedAt time.Time
}
