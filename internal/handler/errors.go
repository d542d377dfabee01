// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/xnatbot/internal/middleware"
	"github.com/hitoshi/xnatbot/internal/model"
)

// genericErrorMessage は公開しないエラーの代わりに返す文言。
const genericErrorMessage = "Something went wrong."

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// 公開可能なエラーはそのまま返し、それ以外はログに記録して汎用メッセージで応答する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.ErrorContext(r.Context(), "internal server error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	statusCode := mapAPIErrorToHTTPStatus(apiErr)
	if model.IsPublic(apiErr) {
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	slog.ErrorContext(r.Context(), "request failed",
		slog.String("path", r.URL.Path),
		slog.String("code", apiErr.Code),
		slog.String("error", err.Error()),
	)
	middleware.WriteErrorResponse(w, statusCode, &model.APIError{
		Code:     apiErr.Code,
		Message:  genericErrorMessage,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotAuthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidCommand, model.ErrCodeInvalidRegistration:
		return http.StatusBadRequest
	case model.ErrCodeInvalidAssociationLink, model.ErrCodeAssociationLinkNotFound, model.ErrCodeAccountNotFound:
		return http.StatusNotFound
	case model.ErrCodeAssociationLinkExpired:
		return http.StatusGone
	case model.ErrCodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCodeUpstreamError:
		return http.StatusBadGateway
	case model.ErrCodeAssociationBeginFailed:
		if model.HasCode(apiErr, model.ErrCodeUpstreamTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeText はブラウザ向けのプレーンテキストを書き込む。
func writeText(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(text))
}
