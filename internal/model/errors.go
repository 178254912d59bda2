// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError はクライアントに返すドメインエラーを表す。
// CodeでHTTPステータスを決定し、Messageをレスポンスのmsgとして返す。
type APIError struct {
	Code    string // エラーコード
	Message string // エラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{Code: ErrCodeValidation, Message: message}
}

// NewNotFoundError は対象未検出エラーを生成する。
func NewNotFoundError(message string) *APIError {
	return &APIError{Code: ErrCodeNotFound, Message: message}
}

// NewForbiddenError は操作主体が不正な場合のエラーを生成する。
func NewForbiddenError(message string) *APIError {
	return &APIError{Code: ErrCodeForbidden, Message: message}
}

// NewConflictError は他の操作者によって既に状態が満たされている場合のエラーを生成する。
func NewConflictError(message string) *APIError {
	return &APIError{Code: ErrCodeConflict, Message: message}
}

// NewInvalidStateError は現在のライフサイクル状態では許可されない操作のエラーを生成する。
func NewInvalidStateError(message string) *APIError {
	return &APIError{Code: ErrCodeInvalidState, Message: message}
}

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{Code: ErrCodeUnauthorized, Message: "Unauthorized - invalid token"}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{Code: ErrCodeInternal, Message: "Internal Server Error"}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError() *APIError {
	return NewNotFoundError("Session not found")
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return NewNotFoundError("User not found")
}

// IsAPIErrorCode はerrが指定コードのAPIErrorかどうかを返す。
func IsAPIErrorCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
