package client

import (
	"errors"
	"fmt"
	"net/http"
)

// サーバーのエラーコードに対応するセンチネルエラー。
var (
	// ErrAlreadyCompleted は同じ暦日に完了済みの習慣を再度完了しようとした場合に返る。
	// 失敗ではなく業務ルールによる拒否を表す。
	ErrAlreadyCompleted = errors.New("habit already completed today")
	// ErrNotFound は習慣やユーザーが存在しない（または閲覧できない）場合に返る。
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized はトークンがない、または無効な場合に返る。
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError はサーバーが返した統一フォーマットのエラー。
// センチネルに対応しない4xxレスポンスで返る。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Action     string `json:"action"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// Is はエラーコードから対応するセンチネルと一致するかを判定する。
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAlreadyCompleted:
		return e.Code == "ALREADY_COMPLETED_TODAY"
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// TransientError はネットワーク障害、5xx、429など再試行で解決しうるエラー。
type TransientError struct {
	// StatusCode はHTTPステータス。ネットワーク障害の場合は0。
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transient error: %v", e.Err)
	}
	return fmt.Sprintf("transient error (status %d): %v", e.StatusCode, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient はerrが再試行可能なエラーかを返す。
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
