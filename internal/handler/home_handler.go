package handler

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/xnatbot/internal/model"
	"github.com/hitoshi/xnatbot/internal/security"
)

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.AppName}} bot</title>
</head>
<body>
{{if .LoggedIn}}
<main>
<h1>Message</h1>
<div class="message">{{.Message}}</div>
</main>
<form method="post" action="/auth/logout"><button type="submit">Log out</button></form>
{{else}}
<main>
<p>You are not logged in. Run <code>{{.CommandName}}</code> in Slack to receive a login link.</p>
</main>
{{end}}
</body>
</html>
`))

type homePage struct {
	AppName     string
	CommandName string
	LoggedIn    bool
	Message     template.HTML
}

// HomeHandler はログイン中のアカウントに共有メッセージを表示する。
type HomeHandler struct {
	sessions    SessionService
	messages    MessageService
	sanitizer   security.Sanitizer
	appName     string
	commandName string
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(sessions SessionService, messages MessageService, sanitizer security.Sanitizer, appName, commandName string) *HomeHandler {
	return &HomeHandler{
		sessions:    sessions,
		messages:    messages,
		sanitizer:   sanitizer,
		appName:     appName,
		commandName: commandName,
	}
}

// ServeHTTP はホーム画面を描画する。
// GET /
func (h *HomeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page := homePage{AppName: h.appName, CommandName: h.commandName}

	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		account, err := h.sessions.CurrentAccount(r.Context(), cookie.Value)
		switch {
		case err == nil:
			message, err := h.messages.GetMessage(r.Context(), model.CredentialFor(account))
			if err != nil {
				h.fail(w, r, err)
				return
			}
			page.LoggedIn = true
			// サニタイズ済みのHTMLのみをそのまま埋め込む
			page.Message = template.HTML(h.sanitizer.Sanitize(message))
		case model.HasCode(err, model.ErrCodeNotAuthorized):
			// 未ログインとして扱う
		default:
			h.fail(w, r, err)
			return
		}
	}

	var buf bytes.Buffer
	if err := homeTemplate.Execute(&buf, page); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (h *HomeHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "failed to render home page", slog.String("error", err.Error()))
	writeText(w, http.StatusInternalServerError, genericErrorMessage+" Please try again later.")
}
