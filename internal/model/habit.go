// Package model はドメインモデルを定義する。
package model

import "time"

// Visibility は習慣の公開範囲を表す。
type Visibility string

const (
	// VisibilityPublic は他ユーザーにも公開される習慣。
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate は所有者のみが閲覧できる習慣。
	VisibilityPrivate Visibility = "private"
)

// Habit はユーザーが毎日取り組む習慣を表す。
// CompletionHistoryは時系列順で、同じ暦日のエントリは最大1件。
// ストリークは保存せず、履歴から都度算出する。
type Habit struct {
	ID           string
	UserID       string
	Title        string
	Description  string
	Category     string
	ReminderTime string // "HH:MM"（24時間表記）。未設定は空文字
	Image        string
	Visibility   Visibility

	CompletionHistory []time.Time

	// 所有者の表示用情報（usersテーブルからJOIN）
	OwnerName  string
	OwnerEmail string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPublic は習慣が公開されているかを返す。
func (h *Habit) IsPublic() bool {
	return h.Visibility == VisibilityPublic
}

// HabitCompletion は1日分の完了記録を表す。
// CompletedOnは設定タイムゾーンにおける暦日キー（YYYY-MM-DD）。
type HabitCompletion struct {
	ID          string
	HabitID     string
	CompletedAt time.Time
	CompletedOn string
}

// HabitPatch は習慣の部分更新内容。nilのフィールドは変更しない。
// 完了履歴はここから変更できない。
type HabitPatch struct {
	Title        *string
	Description  *string
	Category     *string
	ReminderTime *string
	Image        *string
	Public       *bool
}

// HabitFilter は公開習慣の検索条件。
type HabitFilter struct {
	Search   string // タイトルの部分一致（大文字小文字を区別しない）
	Category string // 空または"all"で絞り込みなし
}
