package client

import (
	"errors"

	"github.com/hitoshi/walletauth/internal/model"
)

// ResponseError はサーバーが返した error / code を保持する。
// errors.Is でコードに対応する model のセンチネルと一致する。
type ResponseError struct {
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return "authentication rejected"
	}
	return e.Message
}

// Is はコードに対応するセンチネルエラーと一致させる。
func (e *ResponseError) Is(target error) bool {
	switch e.Code {
	case model.ErrCodeValidation:
		return target == model.ErrValidation
	case model.ErrCodeCustomValidationFailed:
		return target == model.ErrCustomValidationFailed
	case model.ErrCodeAuthenticationFailed:
		return target == model.ErrAuthenticationFailed
	case model.ErrCodeStorageFailed:
		return target == model.ErrStorageUnavailable
	case model.ErrCodeOracleUnavailable:
		return target == model.ErrOracleUnavailable
	}
	return false
}

func responseError(resp model.VerifyResponse) error {
	return &ResponseError{Code: resp.Code, Message: resp.Error}
}

// IsRetryable はエラーが同じ段階での再試行で解消し得るか判定する。
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrOracleUnavailable) || errors.Is(err, model.ErrStorageUnavailable)
}
