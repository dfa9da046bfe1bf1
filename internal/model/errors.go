// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, habit, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAlreadyCompletedToday = "ALREADY_COMPLETED_TODAY"
	ErrCodeHabitNotFound         = "HABIT_NOT_FOUND"
	ErrCodeInvalidHabit          = "INVALID_HABIT"
	ErrCodeInvalidImageURL       = "INVALID_IMAGE_URL"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewAlreadyCompletedError は当日分の完了が記録済みの場合のエラーを生成する。
// 障害ではなくビジネスルールによる拒否であり、クライアントは情報メッセージとして扱う。
func NewAlreadyCompletedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyCompletedToday,
		Message:  "この習慣は今日すでに完了しています。",
		Category: "habit",
		Action:   "明日また記録してください。",
	}
}

// NewHabitNotFoundError は習慣が見つからない場合のエラーを生成する。
// 他ユーザーの非公開習慣も存在を明かさないためこのエラーになる。
func NewHabitNotFoundError(habitID string) *APIError {
	return &APIError{
		Code:     ErrCodeHabitNotFound,
		Message:  fmt.Sprintf("指定された習慣が見つかりません: %s", habitID),
		Category: "habit",
		Action:   "習慣IDを確認してください。",
	}
}

// NewInvalidHabitError は習慣の入力値が不正な場合のエラーを生成する。
func NewInvalidHabitError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidHabit,
		Message:  fmt.Sprintf("習慣の入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトル、説明、カテゴリを入力し、リマインダーは HH:MM 形式で指定してください。",
	}
}

// NewInvalidImageURLError は画像URLが不正または安全でない場合のエラーを生成する。
func NewInvalidImageURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("画像URLが使用できません: %s", reason),
		Category: "validation",
		Action:   "公開されている http:// または https:// の画像URLを指定してください。",
	}
}

// NewInvalidRequestError はリクエストボディを解析できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewForbiddenError は他ユーザーの公開習慣を変更しようとした場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この習慣を変更する権限がありません。",
		Category: "auth",
		Action:   "自分の習慣のみ編集・完了・削除できます。",
	}
}

// NewUnauthorizedError は認証情報がない、または無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitExceededError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーの統一レスポンスを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
