package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/hitoshi/xnatbot/internal/model"
)

const maxSlackBodyBytes = 64 << 10

// AccountLookup は外部アイデンティティIDからアカウントを引く。
type AccountLookup interface {
	FindByExternalIdentityID(ctx context.Context, externalIdentityID string) (*model.Account, error)
}

// AssociationStarter は未関連付けユーザーに対して関連付けを開始する。
type AssociationStarter interface {
	BeginAssociation(ctx context.Context, externalIdentityID string) (string, error)
}

// CommandProcessor はスラッシュコマンドのテキストを処理する。
type CommandProcessor interface {
	Process(ctx context.Context, text string, cred model.Credential) (string, error)
}

// SlackCommandHandler はSlackのスラッシュコマンドを受け付けるHTTPハンドラー。
type SlackCommandHandler struct {
	signingSecret string
	accounts      AccountLookup
	associations  AssociationStarter
	commands      CommandProcessor
}

// NewSlackCommandHandler はSlackCommandHandlerを生成する。
func NewSlackCommandHandler(signingSecret string, accounts AccountLookup, associations AssociationStarter, commands CommandProcessor) *SlackCommandHandler {
	return &SlackCommandHandler{
		signingSecret: signingSecret,
		accounts:      accounts,
		associations:  associations,
		commands:      commands,
	}
}

// ServeHTTP は署名を検証してコマンドを処理し、実行者にのみ見える応答を返す。
// 関連付けのないユーザーにはログイン用のリンクをDMで送る。
// POST /slack/commands
func (h *SlackCommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.verify(r); err != nil {
		slog.Warn("slack request verification failed", slog.String("error", err.Error()))
		writeText(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	cmd, err := slack.SlashCommandParse(r)
	if err != nil || cmd.UserID == "" {
		writeText(w, http.StatusBadRequest, "invalid slash command")
		return
	}

	ctx := r.Context()
	account, err := h.accounts.FindByExternalIdentityID(ctx, cmd.UserID)
	if err != nil {
		if !model.HasCode(err, model.ErrCodeAccountNotFound) {
			slog.Error("failed to look up slack user",
				slog.String("slack_user_id", cmd.UserID),
				slog.String("error", err.Error()),
			)
			h.reply(w, "Sorry, something went wrong. Please try again later.")
			return
		}
		h.beginAssociation(ctx, w, cmd)
		return
	}

	text, err := h.commands.Process(ctx, cmd.Text, model.CredentialFor(account))
	if err != nil {
		h.reply(w, commandErrorText(cmd.Command, err))
		return
	}
	h.reply(w, text)
}

func (h *SlackCommandHandler) beginAssociation(ctx context.Context, w http.ResponseWriter, cmd slack.SlashCommand) {
	if _, err := h.associations.BeginAssociation(ctx, cmd.UserID); err != nil {
		slog.Error("failed to begin association",
			slog.String("slack_user_id", cmd.UserID),
			slog.String("error", err.Error()),
		)
		if model.HasCode(err, model.ErrCodeUpstreamTimeout) {
			h.reply(w, "Slack did not respond in time. Please run the command again.")
			return
		}
		h.reply(w, "Sorry, I could not send you a login link. Please try again later.")
		return
	}
	h.reply(w, "Please check the direct message from me to log in.")
}

// verify はX-Slack-Signatureを検証し、読み取ったボディをリクエストに戻す。
func (h *SlackCommandHandler) verify(r *http.Request) error {
	sv, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxSlackBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

func (h *SlackCommandHandler) reply(w http.ResponseWriter, text string) {
	writeJSON(w, http.StatusOK, &slack.Msg{
		ResponseType: slack.ResponseTypeEphemeral,
		Text:         text,
	})
}

// commandErrorText はコマンドのエラーをユーザー向けの文言にする。
func commandErrorText(command string, err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && model.IsPublic(apiErr) {
		if apiErr.Code == model.ErrCodeInvalidCommand && command != "" {
			return fmt.Sprintf("%s. Try `%s help`.", apiErr.Message, command)
		}
		return apiErr.Message
	}
	slog.Error("command failed", slog.String("error", err.Error()))
	return "Sorry, something went wrong. Please try again later."
}
