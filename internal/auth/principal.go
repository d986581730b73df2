package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Principal はセッションに束縛される認証済みアイデンティティの最小表現。
// IdPの安定したsubject IDとルックアップキーであるemailのみを保持し、
// claimsドキュメント全体はusersテーブルを唯一の正とする。
// セッション側を小さく保つことで、運用者はセッションを消さずにユーザーを無効化できる。
type Principal struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

// EncodePrincipal はプリンシパルをセッションに保存するコンパクトなトークンへ変換する。
func EncodePrincipal(p *Principal) (string, error) {
	if p == nil {
		return "", fmt.Errorf("principal is required")
	}
	if p.Email == "" {
		return "", fmt.Errorf("principal email is required")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode principal: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodePrincipal はトークンをプリンシパルへ復元する。
// 壊れたトークンや古い形式のトークンでは必ずnilを返し、エラーもpanicも発生させない。
// 呼び出し側はnilを「匿名」として扱う。
func DecodePrincipal(token string) *Principal {
	if token == "" {
		return nil
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil
	}

	var p Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	if p.Email == "" {
		return nil
	}

	return &p
}
