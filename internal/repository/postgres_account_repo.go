package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/xnatbot/internal/model"
)

const accountColumns = `id, external_identity_id, COALESCE(login_name, ''), access_token, created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
// external_identity_id と login_name は一意インデックスで検索する。
type PostgresAccountRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db, now: time.Now}
}

// FindByID は指定IDのアカウントを取得する。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	// UUID形式でない値はPostgreSQLのキャストエラーになるため、ここで未検出扱いにする
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewAccountNotFoundError()
	}
	return r.findOne(ctx, "find account by id",
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// FindByExternalIdentityID は外部アイデンティティIDでアカウントを取得する。
func (r *PostgresAccountRepo) FindByExternalIdentityID(ctx context.Context, externalIdentityID string) (*model.Account, error) {
	return r.findOne(ctx, "find account by external identity",
		`SELECT `+accountColumns+` FROM accounts WHERE external_identity_id = $1`, externalIdentityID)
}

// FindByLoginName はログイン名でアカウントを取得する。
func (r *PostgresAccountRepo) FindByLoginName(ctx context.Context, loginName string) (*model.Account, error) {
	if loginName == "" {
		return nil, model.NewAccountNotFoundError()
	}
	return r.findOne(ctx, "find account by login name",
		`SELECT `+accountColumns+` FROM accounts WHERE login_name = $1`, loginName)
}

// SetByID は指定IDでアカウントを保存する。既存の行があれば全項目を上書きする。
func (r *PostgresAccountRepo) SetByID(ctx context.Context, id string, account *model.Account) (*model.Account, error) {
	now := r.now()
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return r.findOne(ctx, "set account",
		`INSERT INTO accounts (id, external_identity_id, login_name, access_token, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		   SET external_identity_id = EXCLUDED.external_identity_id,
		       login_name = EXCLUDED.login_name,
		       access_token = EXCLUDED.access_token,
		       updated_at = EXCLUDED.updated_at
		 RETURNING `+accountColumns,
		id, account.ExternalIdentityID, account.LoginName, account.AccessToken, createdAt, now,
	)
}

// Delete は指定IDのアカウントを削除する。
// 存在しないIDの削除も成功として扱う。
func (r *PostgresAccountRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return model.NewStorageError("delete account", err)
	}
	return nil
}

// Register はアカウントを登録する。
// 同じexternal_identity_idのアカウントが存在する場合はaccess_tokenを上書きし、IDは維持する。
func (r *PostgresAccountRepo) Register(ctx context.Context, params model.RegisterParams) (*model.Account, error) {
	if strings.TrimSpace(params.ExternalIdentityID) == "" {
		return nil, model.NewInvalidRegistrationError("externalIdentityId")
	}
	if strings.TrimSpace(params.AccessToken) == "" {
		return nil, model.NewInvalidRegistrationError("accessToken")
	}

	now := r.now()
	return r.findOne(ctx, "register account",
		`INSERT INTO accounts (id, external_identity_id, login_name, access_token, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $5)
		 ON CONFLICT (external_identity_id) DO UPDATE
		   SET access_token = EXCLUDED.access_token,
		       login_name = COALESCE(EXCLUDED.login_name, accounts.login_name),
		       updated_at = EXCLUDED.updated_at
		 RETURNING `+accountColumns,
		uuid.New().String(), params.ExternalIdentityID, params.LoginName, params.AccessToken, now,
	)
}

// findOne は1行を返すクエリを実行し、アカウントにスキャンする。
func (r *PostgresAccountRepo) findOne(ctx context.Context, op, query string, args ...any) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&account.ID,
		&account.ExternalIdentityID,
		&account.LoginName,
		&account.AccessToken,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewAccountNotFoundError()
	}
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	return account, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
