// Package auth はOAuthプロバイダー、認可ゲート、ブラウザセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/xnatbot/internal/model"
	"github.com/hitoshi/xnatbot/internal/repository"
)

// ServiceConfig はセッションサービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service はOAuth完了後のブラウザセッションを管理する。
type Service struct {
	accounts    repository.AccountRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	accounts repository.AccountRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		accounts:    accounts,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// CreateSession はアカウントのセッションを作成し永続化する。
func (s *Service) CreateSession(ctx context.Context, accountID string) (*model.Session, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID is required")
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		AccountID: accountID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	slog.Info("session created", slog.String("account_id", accountID))
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("session deleted")
	return nil
}

// CurrentAccount はセッションに紐づくアカウントを取得する。
// セッションが無効またはアカウントが存在しない場合はNotAuthorizedを返す。
func (s *Service) CurrentAccount(ctx context.Context, sessionID string) (*model.Account, error) {
	if sessionID == "" {
		return nil, model.NewNotAuthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewNotAuthorizedError()
	}

	account, err := s.accounts.FindByID(ctx, session.AccountID)
	if err != nil {
		if model.HasCode(err, model.ErrCodeAccountNotFound) {
			return nil, model.NewNotAuthorizedError()
		}
		return nil, err
	}
	return account, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
