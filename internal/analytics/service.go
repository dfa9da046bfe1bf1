// Package analytics はユーザーの習慣完了状況を集計する。
// 集計は全てtrackerパッケージの暦日キーに基づき、設定タイムゾーンで日付を区切る。
package analytics

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/habitloop/internal/model"
	"github.com/hitoshi/habitloop/internal/tracker"
)

const (
	// DefaultWindowDays は集計期間の既定日数。
	DefaultWindowDays = 30
	// dailyCompletionDays はダッシュボードの日別グラフの日数。
	dailyCompletionDays = 7
	// weeklyProgressHabits はダッシュボードの進捗表示に含める習慣数。
	weeklyProgressHabits = 5
	// progressNameLength は進捗表示の習慣名の最大文字数。
	progressNameLength = 20
	// uncategorized はカテゴリ未設定の習慣の集計名。
	uncategorized = "Uncategorized"
)

// HabitLister はユーザーの習慣一覧を完了履歴付きで返す。
type HabitLister interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.Habit, error)
}

// DayCount は1日あたりの完了した習慣数。
type DayCount struct {
	Date      string // YYYY-MM-DD
	Completed int
}

// UserAnalytics は分析ページ向けの集計結果。
type UserAnalytics struct {
	TotalHabits      int
	TotalCompletions int
	// MaxStreak は全習慣の中で最長の連続日数。
	MaxStreak int
	// CurrentStreak はいずれかの習慣を完了した日の連続日数。
	CurrentStreak int
	CategoryCount map[string]int
	// LastDays は集計期間の日別完了数（古い順、今日を含む）。
	LastDays []DayCount
}

// DailyCompletion はダッシュボードの日別完了数。
type DailyCompletion struct {
	Day         string // 曜日の短縮名（Mon, Tue, ...）
	Date        string
	Completions int
}

// CategoryShare はカテゴリ別の習慣数。
type CategoryShare struct {
	Name  string
	Value int
}

// HabitProgress は習慣ごとの集計期間内の達成率（%）。
type HabitProgress struct {
	HabitID  string
	Name     string
	Progress int
}

// DashboardStats はダッシュボード向けの集計結果。
type DashboardStats struct {
	TotalHabits      int
	CurrentStreak    int
	TotalCompletions int
	// SuccessRate は集計期間内の完了数 / (習慣数 × 期間日数) の百分率（四捨五入）。
	SuccessRate          int
	DailyCompletion      []DailyCompletion
	CategoryDistribution []CategoryShare
	WeeklyProgress       []HabitProgress
}

// Config は分析サービスの設定。
type Config struct {
	Location   *time.Location
	Now        func() time.Time
	WindowDays int
}

// Service は分析サービス。
type Service struct {
	habits HabitLister
	cfg    Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(habits HabitLister, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	return &Service{habits: habits, cfg: cfg}
}

// WindowDays は集計期間の日数を返す。
func (s *Service) WindowDays() int {
	return s.cfg.WindowDays
}

// UserAnalytics はユーザーの全習慣を対象に分析ページ向けの集計を行う。
func (s *Service) UserAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	habits, err := s.habits.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("分析対象の習慣の取得に失敗しました: %w", err)
	}
	now := s.cfg.Now()
	loc := s.cfg.Location

	result := &UserAnalytics{
		TotalHabits:   len(habits),
		CategoryCount: categoryCount(habits),
	}
	daySets := make([]map[string]struct{}, len(habits))
	for i, h := range habits {
		result.TotalCompletions += len(h.CompletionHistory)
		result.MaxStreak = max(result.MaxStreak, tracker.LongestStreak(h.CompletionHistory, loc))
		daySets[i] = tracker.DaySet(h.CompletionHistory, loc)
	}
	result.CurrentStreak = tracker.StreakFromDayKeys(union(daySets), now, loc)

	keys := tracker.WindowDayKeys(s.cfg.WindowDays, now, loc)
	result.LastDays = make([]DayCount, len(keys))
	for i, key := range keys {
		result.LastDays[i] = DayCount{Date: key, Completed: countOn(daySets, key)}
	}
	return result, nil
}

// DashboardStats はダッシュボード向けの集計を行う。
func (s *Service) DashboardStats(ctx context.Context, userID string) (*DashboardStats, error) {
	habits, err := s.habits.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ダッシュボード対象の習慣の取得に失敗しました: %w", err)
	}
	now := s.cfg.Now()
	loc := s.cfg.Location
	window := s.cfg.WindowDays

	stats := &DashboardStats{
		TotalHabits:     len(habits),
		DailyCompletion: make([]DailyCompletion, 0, dailyCompletionDays),
		WeeklyProgress:  make([]HabitProgress, 0, weeklyProgressHabits),
	}

	daySets := make([]map[string]struct{}, len(habits))
	windowed := 0
	for i, h := range habits {
		stats.TotalCompletions += len(h.CompletionHistory)
		daySets[i] = tracker.DaySet(h.CompletionHistory, loc)

		summary := tracker.Summarize(h.CompletionHistory, window, now, loc)
		windowed += summary.Completions
		if i < weeklyProgressHabits {
			stats.WeeklyProgress = append(stats.WeeklyProgress, HabitProgress{
				HabitID:  h.ID,
				Name:     truncateName(h.Title),
				Progress: percent(tracker.SuccessRate(summary.Completions, 1, window)),
			})
		}
	}

	stats.CurrentStreak = tracker.StreakFromDayKeys(union(daySets), now, loc)
	stats.SuccessRate = percent(tracker.SuccessRate(windowed, len(habits), window))

	for _, key := range tracker.WindowDayKeys(dailyCompletionDays, now, loc) {
		stats.DailyCompletion = append(stats.DailyCompletion, DailyCompletion{
			Day:         weekdayLabel(key, loc),
			Date:        key,
			Completions: countOn(daySets, key),
		})
	}

	counts := categoryCount(habits)
	stats.CategoryDistribution = make([]CategoryShare, 0, len(counts))
	for name, n := range counts {
		stats.CategoryDistribution = append(stats.CategoryDistribution, CategoryShare{Name: name, Value: n})
	}
	slices.SortFunc(stats.CategoryDistribution, func(a, b CategoryShare) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	return stats, nil
}

func categoryCount(habits []*model.Habit) map[string]int {
	counts := make(map[string]int)
	for _, h := range habits {
		name := h.Category
		if name == "" {
			name = uncategorized
		}
		counts[name]++
	}
	return counts
}

func union(sets []map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, set := range sets {
		for k := range set {
			out[k] = struct{}{}
		}
	}
	return out
}

// countOn はkeyの日に完了した習慣の数を返す。
func countOn(sets []map[string]struct{}, key string) int {
	n := 0
	for _, set := range sets {
		if _, ok := set[key]; ok {
			n++
		}
	}
	return n
}

func percent(rate float64) int {
	return int(math.Round(rate * 100))
}

func truncateName(title string) string {
	if utf8.RuneCountInString(title) <= progressNameLength {
		return title
	}
	return string([]rune(title)[:progressNameLength]) + "..."
}

func weekdayLabel(key string, loc *time.Location) string {
	t, err := time.ParseInLocation("2006-01-02", key, loc)
	if err != nil {
		return ""
	}
	return t.Weekday().String()[:3]
}
