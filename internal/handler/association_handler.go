package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/xnatbot/internal/model"
)

// AssociationCoordinator は関連付けハンドラーが必要とするコーディネーターのインターフェース。
type AssociationCoordinator interface {
	AuthorizationURL(ctx context.Context, ref string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*model.Account, error)
}

// SessionService はブラウザセッションを扱うサービスのインターフェース。
type SessionService interface {
	CreateSession(ctx context.Context, accountID string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentAccount(ctx context.Context, sessionID string) (*model.Account, error)
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Domain        string
	Secure        bool
	SessionMaxAge int // 秒
}

// AssociationHandler は関連付けリンクとOAuthコールバックのHTTPハンドラー。
type AssociationHandler struct {
	coordinator AssociationCoordinator
	sessions    SessionService
	appName     string
	cookie      CookieConfig
}

// NewAssociationHandler はAssociationHandlerを生成する。
func NewAssociationHandler(coordinator AssociationCoordinator, sessions SessionService, appName string, cookie CookieConfig) *AssociationHandler {
	return &AssociationHandler{
		coordinator: coordinator,
		sessions:    sessions,
		appName:     appName,
		cookie:      cookie,
	}
}

// Associate は関連付けリンクを検証し、プロバイダーの認可画面へリダイレクトする。
// GET /associate?ref=xxx
func (h *AssociationHandler) Associate(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		writeText(w, http.StatusBadRequest, "Invalid access")
		return
	}

	authURL, err := h.coordinator.AuthorizationURL(r.Context(), ref)
	if err != nil {
		h.writePageError(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、関連付けを完了してセッションを発行する。
// GET /oauth/callback?code=xxx&state=yyy
func (h *AssociationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("authorization denied by provider", slog.String("error", providerErr))
		writeText(w, http.StatusBadRequest, "Authorization was not granted. Run the command in Slack to try again.")
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeText(w, http.StatusBadRequest, "Invalid access")
		return
	}

	account, err := h.coordinator.HandleCallback(r.Context(), code, state)
	if err != nil {
		h.writePageError(w, r, err)
		return
	}

	// 関連付け自体は完了しているため、セッション発行の失敗はログのみ
	session, err := h.sessions.CreateSession(r.Context(), account.ID)
	if err != nil {
		slog.Error("failed to create session after association",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	} else {
		setSessionCookie(w, h.cookie, session.ID)
	}

	writeText(w, http.StatusOK, fmt.Sprintf(
		"Congratulation! You successfully logged into %s. You can close this tab.", h.appName))
}

// writePageError はブラウザ向けにエラーをプレーンテキストで返す。
func (h *AssociationHandler) writePageError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := mapAPIErrorToHTTPStatus(apiErr)
		if model.IsPublic(apiErr) {
			writeText(w, status, apiErr.Message)
			return
		}
		slog.ErrorContext(r.Context(), "association request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
		if apiErr.Code == model.ErrCodeUpstreamTimeout {
			writeText(w, status, "The login service did not respond in time. Please reload this page.")
			return
		}
		writeText(w, status, genericErrorMessage+" Please try again later.")
		return
	}

	slog.ErrorContext(r.Context(), "association request failed", slog.String("error", err.Error()))
	writeText(w, http.StatusInternalServerError, genericErrorMessage+" Please try again later.")
}

func setSessionCookie(w http.ResponseWriter, cfg CookieConfig, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
