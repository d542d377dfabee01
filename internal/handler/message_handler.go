package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/hitoshi/xnatbot/internal/middleware"
	"github.com/hitoshi/xnatbot/internal/model"
)

const (
	maxJSONBodyBytes = 16 << 10
	maxMessageLength = 4000
)

// MessageService は共有メッセージとコマンドのサービスインターフェース。
type MessageService interface {
	GetMessage(ctx context.Context, cred model.Credential) (string, error)
	SetMessage(ctx context.Context, value string, cred model.Credential) (string, error)
	Process(ctx context.Context, text string, cred model.Credential) (string, error)
}

// AccountFinder はIDでアカウントを取得する。
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// MessageHandler は共有メッセージAPIのHTTPハンドラー。
type MessageHandler struct {
	service  MessageService
	accounts AccountFinder
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(service MessageService, accounts AccountFinder) *MessageHandler {
	return &MessageHandler{service: service, accounts: accounts}
}

type messageBody struct {
	Message string `json:"message"`
}

type commandRequest struct {
	Text string `json:"text"`
}

type commandResponse struct {
	Text string `json:"text"`
}

// GetMessage は共有メッセージを返す。
// GET /api/message
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	cred, err := h.credential(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	message, err := h.service.GetMessage(r.Context(), cred)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageBody{Message: message})
}

// PutMessage は共有メッセージを書き換える。
// PUT /api/message
func (h *MessageHandler) PutMessage(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if utf8.RuneCountInString(body.Message) > maxMessageLength {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "The message is too long.",
			Category: "validation",
			Action:   "Keep the message under 4000 characters.",
		})
		return
	}

	cred, err := h.credential(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	message, err := h.service.SetMessage(r.Context(), body.Message, cred)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageBody{Message: message})
}

// RunCommand はコマンドを実行して応答テキストを返す。
// POST /api/commands
func (h *MessageHandler) RunCommand(w http.ResponseWriter, r *http.Request) {
	var body commandRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}

	cred, err := h.credential(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	text, err := h.service.Process(r.Context(), body.Text, cred)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{Text: text})
}

// credential はセッションのアカウントIDから資格情報を導出する。
// アカウントが既に削除されている場合はNotAuthorizedになる。
func (h *MessageHandler) credential(r *http.Request) (model.Credential, error) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		return nil, model.NewNotAuthorizedError()
	}

	account, err := h.accounts.FindByID(r.Context(), accountID)
	if err != nil {
		if model.HasCode(err, model.ErrCodeAccountNotFound) {
			return nil, model.NewNotAuthorizedError()
		}
		return nil, err
	}
	return model.CredentialFor(account), nil
}

// decodeJSONBody はJSONボディを読み取る。失敗時は400を書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "The request body is not valid JSON.",
			Category: "validation",
			Action:   "Send a JSON object.",
		})
		return false
	}
	return true
}
