// Package model はドメインモデルを定義する。
package model

import "time"

// Account はチャットプラットフォームの外部アイデンティティと紐付いたアカウントを表す。
// ExternalIdentityIDはアカウント間で一意。AccessTokenは再関連付けで上書きされる。
type Account struct {
	ID                 string
	ExternalIdentityID string
	LoginName          string // 任意。設定されている場合は一意
	AccessToken        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RegisterParams はアカウント登録に必要な項目。
type RegisterParams struct {
	ExternalIdentityID string
	AccessToken        string
	LoginName          string
}

// AssociationLink は外部アイデンティティとOAuthハンドシェイクを結ぶ一回限りのリンク。
// Usedは一度だけfalseからtrueに遷移し、物理削除はしない（リプレイ防止の記録として残す）。
type AssociationLink struct {
	Ref                string
	ExternalIdentityID string
	DeliveryChannelID  string
	Used               bool
	CreatedAt          time.Time
	UsedAt             *time.Time
}

// ExpiredAt はTTLを適用した場合に期限切れとみなされるかを判定する。
// ttlが0以下の場合は期限を設けない。
func (l *AssociationLink) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(l.CreatedAt) > ttl
}

// Session はブラウザのログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}
