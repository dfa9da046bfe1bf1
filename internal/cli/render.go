package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hitoshi/habitloop/internal/client"
	"github.com/hitoshi/habitloop/internal/tracker"
)

// historyDays は習慣詳細で表示する完了履歴の日数。
const historyDays = 30

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	streakStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// renderHabitLine は一覧表示用の1行を返す。
func renderHabitLine(h client.Habit) string {
	mark := pendingStyle.Render("○")
	if h.CompletedToday {
		mark = doneStyle.Render("✓")
	}
	streak := streakStyle.Render(fmt.Sprintf("%dd", h.Streak))
	meta := mutedStyle.Render(fmt.Sprintf("[%s] %s", h.Category, h.ID))
	return fmt.Sprintf("%s %s %s %s", mark, titleStyle.Render(h.Title), streak, meta)
}

// renderHabitList は習慣一覧を返す。
func renderHabitList(habits []client.Habit, empty string) string {
	if len(habits) == 0 {
		return mutedStyle.Render(empty)
	}
	lines := make([]string, len(habits))
	for i, h := range habits {
		lines[i] = renderHabitLine(h)
	}
	return strings.Join(lines, "\n")
}

// renderHistory は直近historyDays日の完了状況を1行のグリッドで返す。
// 暦日の境界はサーバーが返したタイムゾーンで判定する。
func renderHistory(h client.Habit, now time.Time) string {
	summary := tracker.Summarize(h.CompletionHistory, historyDays, now, h.Location())
	var b strings.Builder
	for _, d := range summary.DailySeries {
		if d.Completed {
			b.WriteString(doneStyle.Render("■"))
		} else {
			b.WriteString(mutedStyle.Render("·"))
		}
	}
	return fmt.Sprintf("%s  %d/%d days", b.String(), summary.Completions, historyDays)
}

// renderHabitDetail は習慣詳細を枠付きで返す。
func renderHabitDetail(h client.Habit, now time.Time) string {
	lines := []string{
		titleStyle.Render(h.Title),
		h.Description,
		"",
		fmt.Sprintf("Category:  %s", h.Category),
		fmt.Sprintf("Streak:    %s", streakStyle.Render(fmt.Sprintf("%d days", h.Streak))),
		fmt.Sprintf("Today:     %s", todayLabel(h.CompletedToday)),
		fmt.Sprintf("Visibility: %s", h.Visibility),
	}
	if h.ReminderTime != "" {
		lines = append(lines, fmt.Sprintf("Reminder:  %s", h.ReminderTime))
	}
	lines = append(lines, "", renderHistory(h, now), mutedStyle.Render("timezone: "+h.Location().String()))
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func todayLabel(done bool) string {
	if done {
		return doneStyle.Render("done")
	}
	return pendingStyle.Render("pending")
}

// renderStats はダッシュボード集計を返す。
func renderStats(s *client.DashboardStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Dashboard"))
	fmt.Fprintf(&b, "Habits: %d   Completions: %d   Current streak: %s   Success: %d%%\n",
		s.TotalHabits, s.TotalCompletions,
		streakStyle.Render(fmt.Sprintf("%dd", s.CurrentStreak)), s.SuccessRate)

	if len(s.DailyCompletion) > 0 {
		b.WriteString("\n")
		for _, d := range s.DailyCompletion {
			bar := strings.Repeat("█", d.Completions)
			fmt.Fprintf(&b, "%s %s %s\n", d.Day, doneStyle.Render(bar), mutedStyle.Render(fmt.Sprint(d.Completions)))
		}
	}
	if len(s.WeeklyProgress) > 0 {
		b.WriteString("\n")
		for _, p := range s.WeeklyProgress {
			fmt.Fprintf(&b, "%-23s %3d%%\n", p.Name, p.Progress)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderBlogPosts はブログ記事一覧を返す。
func renderBlogPosts(posts []client.BlogPost) string {
	if len(posts) == 0 {
		return mutedStyle.Render("No posts yet.")
	}
	lines := make([]string, 0, len(posts))
	for _, p := range posts {
		date := ""
		if p.PublishedAt != nil {
			date = p.PublishedAt.Format("2006-01-02")
		}
		lines = append(lines, fmt.Sprintf("%s %s\n  %s", mutedStyle.Render(date), titleStyle.Render(p.Title), infoStyle.Render(p.Link)))
	}
	return strings.Join(lines, "\n")
}

// renderAnalytics はストリークとカテゴリ別の集計を返す。
func renderAnalytics(a *client.UserAnalytics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Analytics"))
	fmt.Fprintf(&b, "Habits: %d   Completions: %d   Current streak: %s   Best streak: %s\n",
		a.TotalHabits, a.TotalCompletions,
		streakStyle.Render(fmt.Sprintf("%dd", a.CurrentStreak)),
		streakStyle.Render(fmt.Sprintf("%dd", a.MaxStreak)))

	if len(a.CategoryCount) > 0 {
		names := make([]string, 0, len(a.CategoryCount))
		for name := range a.CategoryCount {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\n")
		for _, name := range names {
			fmt.Fprintf(&b, "%-23s %3d\n", name, a.CategoryCount[name])
		}
	}

	if len(a.LastDays) > 0 {
		active := 0
		var spark strings.Builder
		for _, d := range a.LastDays {
			if d.Completed > 0 {
				active++
				spark.WriteString(doneStyle.Render("■"))
			} else {
				spark.WriteString(mutedStyle.Render("·"))
			}
		}
		fmt.Fprintf(&b, "\n%s  %d/%d active days\n", spark.String(), active, len(a.LastDays))
	}
	return strings.TrimRight(b.String(), "\n")
}
