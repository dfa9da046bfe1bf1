package client

import "time"

// Habit はAPIが返す習慣。Streak と CompletedToday はサーバーが算出した値。
type Habit struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Category          string      `json:"category"`
	ReminderTime      string      `json:"reminderTime"`
	Image             string      `json:"image"`
	Public            bool        `json:"public"`
	Visibility        string      `json:"visibility"`
	UserName          string      `json:"userName"`
	UserEmail         string      `json:"userEmail"`
	CompletionHistory []time.Time `json:"completionHistory"`
	Streak            int         `json:"streak"`
	CompletedToday    bool        `json:"completedToday"`
	Timezone          string      `json:"timezone"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Location はサーバーが暦日の判定に使うタイムゾーンを返す。
// 不明な場合はUTC。
func (h *Habit) Location() *time.Location {
	if h.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CreateHabitInput は習慣作成の入力。
type CreateHabitInput struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	ReminderTime string `json:"reminderTime,omitempty"`
	Image        string `json:"image,omitempty"`
	Public       *bool  `json:"public,omitempty"`
}

// UpdateHabitInput は習慣更新の入力。nilのフィールドは変更しない。
type UpdateHabitInput struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Category     *string `json:"category,omitempty"`
	ReminderTime *string `json:"reminderTime,omitempty"`
	Image        *string `json:"image,omitempty"`
	Public       *bool   `json:"public,omitempty"`
}

// HabitFilter は公開習慣の検索条件。
type HabitFilter struct {
	Search   string
	Category string
}

// DayCount は日別の完了した習慣数。
type DayCount struct {
	Date      string `json:"date"`
	Completed int    `json:"completed"`
}

// UserAnalytics は分析ページの集計結果。
type UserAnalytics struct {
	TotalHabits      int            `json:"totalHabits"`
	TotalCompletions int            `json:"totalCompletions"`
	MaxStreak        int            `json:"maxStreak"`
	CurrentStreak    int            `json:"currentStreak"`
	CategoryCount    map[string]int `json:"categoryCount"`
	WindowDays       int            `json:"windowDays"`
	LastDays         []DayCount     `json:"last30DaysData"`
}

// DashboardStats はダッシュボードの集計結果。
type DashboardStats struct {
	TotalHabits      int `json:"totalHabits"`
	CurrentStreak    int `json:"currentStreak"`
	TotalCompletions int `json:"totalCompletions"`
	SuccessRate      int `json:"successRate"`
	DailyCompletion  []struct {
		Day         string `json:"day"`
		Date        string `json:"date"`
		Completions int    `json:"completions"`
	} `json:"dailyCompletion"`
	CategoryDistribution []struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	} `json:"categoryDistribution"`
	WeeklyProgress []struct {
		HabitID  string `json:"habitId"`
		Name     string `json:"name"`
		Progress int    `json:"progress"`
	} `json:"weeklyProgress"`
}

// BlogPost はコミュニティブログの記事。
type BlogPost struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	Author      string     `json:"author"`
	Category    string     `json:"category"`
	PublishedAt *time.Time `json:"publishedAt"`
}

// User はログイン中のユーザー情報。
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Providers []string  `json:"providers"`
	CreatedAt time.Time `json:"createdAt"`
}
