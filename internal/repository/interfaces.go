// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/xnatbot/internal/model"
)

// AccountRepository はアカウントデータの永続化インターフェース。
// 見つからない場合はmodel.ErrCodeAccountNotFound、それ以外の失敗はmodel.ErrCodeStorageのAPIErrorを返す。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByExternalIdentityID は外部アイデンティティIDでアカウントを取得する。
	FindByExternalIdentityID(ctx context.Context, externalIdentityID string) (*model.Account, error)

	// FindByLoginName はログイン名でアカウントを取得する。
	FindByLoginName(ctx context.Context, loginName string) (*model.Account, error)

	// SetByID は指定IDでアカウントを保存する（存在すれば上書き）。
	SetByID(ctx context.Context, id string, account *model.Account) (*model.Account, error)

	// Delete は指定IDのアカウントを削除する。存在しない場合も成功とする（冪等）。
	// 関連するsessionsはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// Register はアカウントを登録する。
	// ExternalIdentityIDとAccessTokenが必須で、同じExternalIdentityIDの既存アカウントがあれば
	// AccessTokenを上書きしIDを維持する。
	Register(ctx context.Context, params model.RegisterParams) (*model.Account, error)
}

// AssociationLinkRepository は関連付けリンクの永続化インターフェース。
type AssociationLinkRepository interface {
	// Put は新しいリンクを保存する。既存のrefと衝突した場合はStorageErrorを返す。
	Put(ctx context.Context, link *model.AssociationLink) error

	// Get は指定refのリンクを取得する。
	// 見つからない場合はmodel.ErrCodeAssociationLinkNotFoundのAPIErrorを返す。
	Get(ctx context.Context, ref string) (*model.AssociationLink, error)

	// MarkUsed は未使用のリンクを原子的に使用済みにする。
	// このrefで使用済みへの遷移を行った場合のみtrueを返す。
	MarkUsed(ctx context.Context, ref string) (bool, error)

	// ReleaseClaim はMarkUsedで取得した使用権を取り消し、リンクを未使用に戻す。
	// アカウント登録に失敗した場合にリンクを再試行可能な状態に保つために使用する。
	ReleaseClaim(ctx context.Context, ref string) error
}

// MessageRepository は共有メッセージの永続化インターフェース。
type MessageRepository interface {
	// Get は指定キーの値を取得する。未設定の場合はfound=falseを返す。
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Put は指定キーに値を保存する。
	Put(ctx context.Context, key, value string) error

	// PutIfAbsent はキーが未設定の場合のみ値を保存し、保存後の現在値を返す。
	// 既に値があれば上書きせずその値を返す。
	PutIfAbsent(ctx context.Context, key, value string) (string, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
