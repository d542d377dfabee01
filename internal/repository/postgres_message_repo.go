package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/xnatbot/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用した共有メッセージリポジトリ。
// 値はキーごとに1行で保持し、履歴は持たない。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// Get は指定キーの値を取得する。
func (r *PostgresMessageRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM messages WHERE key = $1`,
		key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, model.NewStorageError("get message", err)
	}
	return value, true, nil
}

// Put は指定キーに値を保存する。
func (r *PostgresMessageRepo) Put(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE
		   SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return model.NewStorageError("put message", err)
	}
	return nil
}

// PutIfAbsent はキーが未設定の場合のみ値を保存し、現在値を返す。
// 同時に行われたPutを上書きしない。
func (r *PostgresMessageRepo) PutIfAbsent(ctx context.Context, key, value string) (string, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO NOTHING`,
		key, value,
	)
	if err != nil {
		return "", model.NewStorageError("init message", err)
	}

	current, found, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", model.NewStorageError("init message", errors.New("message row vanished after insert"))
	}
	return current, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
