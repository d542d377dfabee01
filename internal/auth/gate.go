package auth

import (
	"context"
	"log/slog"

	"github.com/hitoshi/xnatbot/internal/model"
)

// AccountFinder はゲートがアカウントの存在確認に使うインターフェース。
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// Gate は資格情報に対する認可判定を行う。副作用を持たない。
type Gate struct {
	accounts AccountFinder
}

// NewGate はGateを生成する。
func NewGate(accounts AccountFinder) *Gate {
	return &Gate{accounts: accounts}
}

// Authorize は資格情報が認可されるかを返す。
// SelfCredentialは常に認可し、AccountCredentialはIDのアカウントが存在する場合のみ認可する。
// 検索時のエラーはすべて非認可として扱う。
func (g *Gate) Authorize(ctx context.Context, cred model.Credential) bool {
	switch c := cred.(type) {
	case model.SelfCredential:
		return true
	case *model.SelfCredential:
		return c != nil
	case model.AccountCredential:
		return g.accountExists(ctx, c.ID)
	case *model.AccountCredential:
		return c != nil && g.accountExists(ctx, c.ID)
	default:
		return false
	}
}

func (g *Gate) accountExists(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	if _, err := g.accounts.FindByID(ctx, id); err != nil {
		if !model.HasCode(err, model.ErrCodeAccountNotFound) {
			slog.Warn("authorization lookup failed",
				slog.String("account_id", id),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return true
}
