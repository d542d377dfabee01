package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/xnatbot/internal/middleware"
)

const sessionCookieName = middleware.SessionCookieName

// AuthHandler はブラウザセッションのHTTPハンドラー。
type AuthHandler struct {
	sessions SessionService
	cookie   CookieConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionService, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookie: cookie}
}

// Logout はセッションを破棄してホーム画面へ戻す。
// Slackとの関連付けは解除しない（logoutコマンドで解除する）。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Logout(r.Context(), cookie.Value); err != nil {
			// 失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	clearSessionCookie(w, h.cookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
