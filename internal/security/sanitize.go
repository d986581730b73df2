// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizerService はIdP由来のプロフィール表示項目をサニタイズし、
// claimsに紛れ込んだマークアップがそのままクライアントに届くことを防ぐ。
// 保存されるclaimsドキュメント自体は改変せず、レスポンス境界でのみ適用する。
package security

import (
	"encoding/json"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService はプロフィールドキュメントのサニタイズ機能のインターフェース。
type ProfileSanitizerService interface {
	// SanitizeProfile はclaimsドキュメントのトップレベル文字列値からマークアップを除去する。
	// 入力が有効なJSONオブジェクトでない場合は入力をそのまま返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeProfile(doc json.RawMessage) json.RawMessage
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはあらゆるHTMLタグを除去し、テキストのみを残す。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeProfile はclaimsドキュメントのトップレベル文字列値をサニタイズして返す。
func (s *profileSanitizer) SanitizeProfile(doc json.RawMessage) json.RawMessage {
	if len(doc) == 0 {
		return doc
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		// オブジェクトでないドキュメントは対象外。呼び出し側の保存値を尊重する
		return doc
	}

	changed := false
	for key, raw := range fields {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			continue // 文字列以外の値はそのまま
		}

		clean := s.policy.Sanitize(str)
		if clean == str {
			continue
		}

		encoded, err := json.Marshal(clean)
		if err != nil {
			continue
		}
		fields[key] = json.RawMessage(encoded)
		changed = true
	}

	if !changed {
		return doc
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return doc
	}
	return json.RawMessage(out)
}

// compile-time interface check
var _ ProfileSanitizerService = (*profileSanitizer)(nil)
