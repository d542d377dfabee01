// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError はドメインエラーの統一フォーマットを表す。
// Causeには内部の原因エラーを保持し、外部には公開しない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, association, command, storage, upstream
	Action   string // ユーザー向け対処方法
	Cause    error  // 原因エラー（ログ用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeAccountNotFound         = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidRegistration     = "INVALID_REGISTRATION"
	ErrCodeStorage                 = "STORAGE_ERROR"
	ErrCodeAssociationLinkNotFound = "ASSOCIATION_LINK_NOT_FOUND"
	ErrCodeInvalidAssociationLink  = "INVALID_ASSOCIATION_LINK"
	ErrCodeAssociationLinkExpired  = "ASSOCIATION_LINK_EXPIRED"
	ErrCodeAssociationBeginFailed  = "ASSOCIATION_BEGIN_FAILED"
	ErrCodeNotAuthorized           = "NOT_AUTHORIZED"
	ErrCodeInvalidCommand          = "INVALID_COMMAND"
	ErrCodeUpstreamTimeout         = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamError           = "UPSTREAM_ERROR"
)

// HasCode はエラーチェーン中に指定コードのAPIErrorが含まれるかを判定する。
// AssociationBeginFailedの原因としてUpstreamTimeoutが含まれる場合なども検出できる。
func HasCode(err error, code string) bool {
	for err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return false
		}
		if apiErr.Code == code {
			return true
		}
		err = apiErr.Cause
	}
	return false
}

// IsPublic は外部の呼び出し元にそのまま返してよいエラーかを判定する。
// それ以外のエラーはログに記録し、汎用メッセージで応答する。
func IsPublic(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case ErrCodeNotAuthorized, ErrCodeInvalidCommand, ErrCodeAssociationLinkExpired, ErrCodeInvalidAssociationLink:
		return true
	default:
		return false
	}
}

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Link your chat account again.",
	}
}

// NewInvalidRegistrationError は登録パラメータ不備のエラーを生成する。
func NewInvalidRegistrationError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRegistration,
		Message:  fmt.Sprintf("A %s is required", field),
		Category: "validation",
		Action:   "Retry the association from the beginning.",
	}
}

// NewStorageError はストレージ操作の失敗を表すエラーを生成する。
func NewStorageError(op string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  fmt.Sprintf("storage operation failed: %s", op),
		Category: "storage",
		Action:   "Please try again later.",
		Cause:    cause,
	}
}

// NewAssociationLinkNotFoundError はリンク未検出エラーを生成する。
// ストア境界でのみ使用し、コーディネーターでInvalidAssociationLinkに変換される。
func NewAssociationLinkNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeAssociationLinkNotFound,
		Message:  "association link not found",
		Category: "association",
		Cause:    fmt.Errorf("ref %q", ref),
	}
}

// NewInvalidAssociationLinkError は無効な関連付けリンクのエラーを生成する。
func NewInvalidAssociationLinkError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAssociationLink,
		Message:  "The user association link was not valid.",
		Category: "association",
		Action:   "Run the command again in Slack to receive a new link.",
	}
}

// NewAssociationLinkExpiredError は使用済みまたは期限切れリンクのエラーを生成する。
func NewAssociationLinkExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAssociationLinkExpired,
		Message:  "Sorry, this link is expired.",
		Category: "association",
		Action:   "Run the command again in Slack to receive a new link.",
	}
}

// NewAssociationBeginFailedError は関連付け開始の失敗を表すエラーを生成する。
func NewAssociationBeginFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAssociationBeginFailed,
		Message:  "failed to begin association",
		Category: "association",
		Action:   "Please try again later.",
		Cause:    cause,
	}
}

// NewNotAuthorizedError は認可失敗エラーを生成する。
// 資格情報の不正とアカウント不在を区別しない。
func NewNotAuthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorized,
		Message:  "Not Authorized",
		Category: "auth",
		Action:   "Log in from Slack first.",
	}
}

// NewInvalidCommandError は不明なサブコマンドのエラーを生成する。
func NewInvalidCommandError(subcommand string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCommand,
		Message:  "Invalid command",
		Category: "command",
		Action:   "Run the help command to list available commands.",
		Cause:    fmt.Errorf("subcommand %q", subcommand),
	}
}

// NewUpstreamTimeoutError は外部呼び出しのタイムアウトを表すエラーを生成する。
// 呼び出し元は再試行してよい。
func NewUpstreamTimeoutError(upstream string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamTimeout,
		Message:  fmt.Sprintf("%s did not respond in time", upstream),
		Category: "upstream",
		Action:   "Please try again.",
		Cause:    cause,
	}
}

// NewUpstreamError は外部呼び出しの失敗を表すエラーを生成する。
func NewUpstreamError(upstream string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  fmt.Sprintf("%s request failed", upstream),
		Category: "upstream",
		Action:   "Please try again later.",
		Cause:    cause,
	}
}
