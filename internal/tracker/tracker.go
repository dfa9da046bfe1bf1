// Package tracker は習慣の完了判定とストリーク算出を提供する。
//
// すべての関数は純粋関数であり、履歴と基準時刻（now）、および日付境界を決める
// タイムゾーンだけに依存する。同一入力に対して常に同一結果を返す。
package tracker

import (
	"errors"
	"sort"
	"time"
)

// dayKeyLayout は暦日キーのフォーマット（YYYY-MM-DD）。
const dayKeyLayout = "2006-01-02"

// ErrAlreadyCompleted は同じ暦日にすでに完了記録が存在する場合に返される。
// ネットワーク障害等とは区別されるビジネスルール上の拒否を表す。
var ErrAlreadyCompleted = errors.New("habit already completed today")

// DayKey は時刻をlocにおける暦日キー（YYYY-MM-DD）に正規化する。
// locがnilの場合はUTCを使用する。
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayKeyLayout)
}

// IsCompletedToday は履歴のいずれかのエントリがnowと同じ暦日に属するかを判定する。
// ミリ秒差ではなく暦日キーで比較するため、前日23:59と当日00:01は別の日として扱う。
func IsCompletedToday(history []time.Time, now time.Time, loc *time.Location) bool {
	today := DayKey(now, loc)
	for _, entry := range history {
		if DayKey(entry, loc) == today {
			return true
		}
	}
	return false
}

// MarkComplete はnowを履歴に追加した新しいスライスを返す。
// 当日分がすでに存在する場合はErrAlreadyCompletedを返し、履歴は変更しない。
// 入力スライスは変更せず、戻り値は時系列順に並ぶ。
func MarkComplete(history []time.Time, now time.Time, loc *time.Location) ([]time.Time, error) {
	if IsCompletedToday(history, now, loc) {
		return history, ErrAlreadyCompleted
	}

	next := make([]time.Time, 0, len(history)+1)
	next = append(next, history...)
	next = append(next, now)

	// 通常はnowが最新なので末尾に入るが、時計の巻き戻り等に備えて整列する
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Before(next[j])
	})

	return next, nil
}

// ComputeStreak はnowの暦日から遡って連続する完了日数を返す。
// 当日が未完了の場合は前日から数え始める（当日が終わるまでは連続が途切れない）。
// 最初の欠落日で打ち切り、それより古いエントリは参照しない。
func ComputeStreak(history []time.Time, now time.Time, loc *time.Location) int {
	if len(history) == 0 {
		return 0
	}
	return streakFromDays(daySet(history, loc), now, loc)
}

// LongestStreak は履歴全体の中で最長の連続完了日数を返す。
func LongestStreak(history []time.Time, loc *time.Location) int {
	if len(history) == 0 {
		return 0
	}

	keys := make([]string, 0, len(history))
	for key := range daySet(history, loc) {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	longest, current := 0, 0
	var prev time.Time
	for i, key := range keys {
		day, _ := time.Parse(dayKeyLayout, key)
		if i > 0 && prev.AddDate(0, 0, 1).Equal(day) {
			current++
		} else {
			current = 1
		}
		if current > longest {
			longest = current
		}
		prev = day
	}

	return longest
}

// DayStatus は日次系列の1日分を表す。
type DayStatus struct {
	Day       string // YYYY-MM-DD
	Completed bool
}

// Summary は直近windowDays日間の集計結果。
type Summary struct {
	Completions int
	DailySeries []DayStatus
}

// Summarize はnowの暦日を含む直近windowDays日間について、日ごとの完了有無を返す。
// DailySeriesは常にwindowDays件で古い日付から並び、記録のない日はCompleted=falseで埋める。
// windowDaysが0以下の場合は空の結果を返す。
func Summarize(history []time.Time, windowDays int, now time.Time, loc *time.Location) Summary {
	if windowDays <= 0 {
		return Summary{DailySeries: []DayStatus{}}
	}

	days := daySet(history, loc)
	series := make([]DayStatus, 0, windowDays)
	completions := 0

	for _, key := range WindowDayKeys(windowDays, now, loc) {
		_, ok := days[key]
		if ok {
			completions++
		}
		series = append(series, DayStatus{Day: key, Completed: ok})
	}

	return Summary{Completions: completions, DailySeries: series}
}

// SuccessRate は completions / (habitsTracked × windowDays) を返す。
// 分母が0の場合は0を返す。
func SuccessRate(completions, habitsTracked, windowDays int) float64 {
	denom := habitsTracked * windowDays
	if denom <= 0 {
		return 0
	}
	return float64(completions) / float64(denom)
}

// WindowDayKeys はnowの暦日で終わる直近windowDays日分の暦日キーを古い順に返す。
func WindowDayKeys(windowDays int, now time.Time, loc *time.Location) []string {
	if windowDays <= 0 {
		return []string{}
	}
	if loc == nil {
		loc = time.UTC
	}

	today := startOfDay(now, loc)
	keys := make([]string, windowDays)
	for i := 0; i < windowDays; i++ {
		// AddDateは暦日単位で動くため、夏時間の切り替え日でも日付がずれない
		keys[i] = today.AddDate(0, 0, i-(windowDays-1)).Format(dayKeyLayout)
	}
	return keys
}

// StreakFromDayKeys は暦日キー集合からComputeStreakと同じ規約で連続日数を求める。
// 複数習慣を横断した「いずれかを完了した日」の連続日数算出に使用する。
func StreakFromDayKeys(days map[string]struct{}, now time.Time, loc *time.Location) int {
	if len(days) == 0 {
		return 0
	}
	return streakFromDays(days, now, loc)
}

// DaySet は履歴を暦日キーの集合に変換する。
func DaySet(history []time.Time, loc *time.Location) map[string]struct{} {
	return daySet(history, loc)
}

func daySet(history []time.Time, loc *time.Location) map[string]struct{} {
	days := make(map[string]struct{}, len(history))
	for _, entry := range history {
		days[DayKey(entry, loc)] = struct{}{}
	}
	return days
}

func streakFromDays(days map[string]struct{}, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}

	cursor := startOfDay(now, loc)
	if _, ok := days[cursor.Format(dayKeyLayout)]; !ok {
		cursor = cursor.AddDate(0, 0, -1)
	}

	streak := 0
	for {
		if _, ok := days[cursor.Format(dayKeyLayout)]; !ok {
			return streak
		}
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
