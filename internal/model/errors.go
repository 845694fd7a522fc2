package model

import (
	"errors"
	"fmt"
)

// 認証フローとストアで共通に扱うエラー分類。
// 呼び出し側は errors.Is で判定する。
var (
	ErrOracleUnavailable      = errors.New("oracle unavailable")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrCustomValidationFailed = errors.New("custom validation failed")
	ErrValidation             = errors.New("validation error")
	ErrDuplicateKey           = errors.New("duplicate key")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrStorageClosed          = errors.New("storage closed")
	ErrTimeout                = errors.New("authentication timed out")
)

// ValidationError は入力値の検証エラーを表す。ErrValidation と一致する。
type ValidationError struct {
	Field  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is は errors.Is(err, ErrValidation) を成立させる。
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, storage, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeOracleUnavailable      = "ORACLE_UNAVAILABLE"
	ErrCodeAuthenticationFailed   = "AUTHENTICATION_FAILED"
	ErrCodeCustomValidationFailed = "CUSTOM_VALIDATION_FAILED"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeDuplicateKey           = "DUPLICATE_KEY"
	ErrCodeStorageFailed          = "STORAGE_OPERATION_FAILED"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
)

// NewValidationAPIError は入力検証エラーを生成する。
func NewValidationAPIError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  err.Error(),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストの形式を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ウォレットで再度認証してください。",
	}
}

// NewDuplicateUserError は同一アドレスのレコードが既に存在する場合のエラーを生成する。
func NewDuplicateUserError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateKey,
		Message:  "このウォレットアドレスは既に登録されています。",
		Category: "validation",
		Action:   "既存のユーザーを更新してください。",
	}
}

// NewStorageFailedError はストア操作の失敗を表すエラーを生成する。
func NewStorageFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailed,
		Message:  "ユーザーデータの保存に失敗しました。",
		Category: "storage",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は認証情報が無い、または無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ウォレットで認証してからアクセスしてください。",
	}
}
