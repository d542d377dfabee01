package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/xnatbot/internal/model"
)

// PostgresAssociationLinkRepo はPostgreSQLを使用した関連付けリンクリポジトリ。
type PostgresAssociationLinkRepo struct {
	db *sql.DB
}

// NewPostgresAssociationLinkRepo はPostgresAssociationLinkRepoを生成する。
func NewPostgresAssociationLinkRepo(db *sql.DB) *PostgresAssociationLinkRepo {
	return &PostgresAssociationLinkRepo{db: db}
}

// Put は新しいリンクを保存する。
// 同じrefのリンクが既にあれば上書きせずStorageErrorを返す。
func (r *PostgresAssociationLinkRepo) Put(ctx context.Context, link *model.AssociationLink) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO association_links (ref, external_identity_id, delivery_channel_id, used, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (ref) DO NOTHING`,
		link.Ref, link.ExternalIdentityID, link.DeliveryChannelID, link.Used, link.CreatedAt,
	)
	if err != nil {
		return model.NewStorageError("put association link", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return model.NewStorageError("put association link", err)
	}
	if inserted == 0 {
		return model.NewStorageError("put association link", fmt.Errorf("ref %q already exists", link.Ref))
	}
	return nil
}

// Get は指定refのリンクを取得する。
func (r *PostgresAssociationLinkRepo) Get(ctx context.Context, ref string) (*model.AssociationLink, error) {
	link := &model.AssociationLink{}
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT ref, external_identity_id, delivery_channel_id, used, created_at, used_at
		 FROM association_links
		 WHERE ref = $1`,
		ref,
	).Scan(&link.Ref, &link.ExternalIdentityID, &link.DeliveryChannelID, &link.Used, &link.CreatedAt, &usedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewAssociationLinkNotFoundError(ref)
	}
	if err != nil {
		return nil, model.NewStorageError("get association link", err)
	}
	if usedAt.Valid {
		link.UsedAt = &usedAt.Time
	}

	return link, nil
}

// MarkUsed は未使用のリンクを原子的に使用済みにする。
// WHERE used = false の条件付きUPDATEにより、同一refへの同時呼び出しでも1件しか成功しない。
func (r *PostgresAssociationLinkRepo) MarkUsed(ctx context.Context, ref string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE association_links SET used = true, used_at = now()
		 WHERE ref = $1 AND used = false`,
		ref,
	)
	if err != nil {
		return false, model.NewStorageError("mark association link used", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, model.NewStorageError("mark association link used", err)
	}
	return rowsAffected == 1, nil
}

// ReleaseClaim はリンクを未使用に戻す。
func (r *PostgresAssociationLinkRepo) ReleaseClaim(ctx context.Context, ref string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE association_links SET used = false, used_at = NULL
		 WHERE ref = $1 AND used = true`,
		ref,
	)
	if err != nil {
		return model.NewStorageError("release association link", err)
	}
	return nil
}

// compile-time interface check
var _ AssociationLinkRepository = (*PostgresAssociationLinkRepo)(nil)
