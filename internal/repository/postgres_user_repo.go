package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/authgate/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// CanonicalEmail はルックアップキーとしてのemailの正規形を返す。
// 前後の空白を除去し小文字化する。書き込み・検索の両方でこの正規形を使用する。
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Upsert はemailをキーにユーザーを作成または更新する。
// ON CONFLICTによる単一の条件付きINSERT文のため、同一emailへの同時初回ログインでも
// 行が重複したり更新が失われたりしない。一意制約の強制はDBに委ねる。
// is_createdは挿入行でのみxmaxが0になるPostgreSQLの性質を利用して判定する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, email, imageURL string, profile json.RawMessage) (*model.User, bool, error) {
	canonical := CanonicalEmail(email)
	if canonical == "" {
		return nil, false, fmt.Errorf("email is required")
	}

	// 不正なJSONはJSONB列への書き込みで失敗するため、空ドキュメントに落とす
	if len(profile) == 0 || !json.Valid(profile) {
		slog.Warn("invalid profile document, storing empty object",
			slog.String("email", canonical),
		)
		profile = json.RawMessage("{}")
	}

	user := &model.User{}
	var created bool
	var imageURLVal sql.NullString

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, image_url, user_profile)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email)
		 DO UPDATE SET
		   image_url = $3,
		   user_profile = $4,
		   updated_at = now()
		 RETURNING id, email, image_url, user_profile, created_at, updated_at,
		   (xmax = 0) AS is_created`,
		uuid.New().String(), canonical, nullString(imageURL), []byte(profile),
	).Scan(&user.ID, &user.Email, &imageURLVal, &user.Profile,
		&user.CreatedAt, &user.UpdatedAt, &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	user.ImageURL = imageURLVal.String
	return user, created, nil
}

// FindByEmail は指定emailのユーザーを取得する。見つからない場合はnilを返す。
// 保存済みプロフィールが壊れていてもエラーにせず、空プロフィールとして返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	var imageURLVal sql.NullString
	var profile []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, image_url, user_profile, created_at, updated_at
		 FROM users
		 WHERE email = $1`,
		CanonicalEmail(email),
	).Scan(&user.ID, &user.Email, &imageURLVal, &profile,
		&user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.ImageURL = imageURLVal.String
	if json.Valid(profile) {
		user.Profile = json.RawMessage(profile)
	} else {
		// 壊れたドキュメントで認証経路を落とさない
		slog.Warn("malformed stored profile, treating as empty",
			slog.String("email", user.Email),
		)
		user.Profile = nil
	}

	return user, nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
