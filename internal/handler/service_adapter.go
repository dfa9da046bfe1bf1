package handler

import (
	"context"

	"github.com/hitoshi/habitloop/internal/analytics"
	"github.com/hitoshi/habitloop/internal/user"
)

// AnalyticsServiceAdapter は analytics.Service を AnalyticsServiceInterface に適合させるアダプタ。
type AnalyticsServiceAdapter struct {
	svc *analytics.Service
}

// NewAnalyticsServiceAdapter はAnalyticsServiceAdapterを生成する。
func NewAnalyticsServiceAdapter(svc *analytics.Service) *AnalyticsServiceAdapter {
	return &AnalyticsServiceAdapter{svc: svc}
}

// UserAnalytics は分析結果をhandlerレスポンス型で返す。
func (a *AnalyticsServiceAdapter) UserAnalytics(ctx context.Context, userID string) (*userAnalyticsResponse, error) {
	result, err := a.svc.UserAnalytics(ctx, userID)
	if err != nil {
		return nil, err
	}

	days := make([]dayCountResponse, len(result.LastDays))
	for i, d := range result.LastDays {
		days[i] = dayCountResponse{Date: d.Date, Completed: d.Completed}
	}
	return &userAnalyticsResponse{
		TotalHabits:      result.TotalHabits,
		TotalCompletions: result.TotalCompletions,
		MaxStreak:        result.MaxStreak,
		CurrentStreak:    result.CurrentStreak,
		CategoryCount:    result.CategoryCount,
		WindowDays:       a.svc.WindowDays(),
		LastDaysData:     days,
	}, nil
}

// DashboardStats はダッシュボード集計をhandlerレスポンス型で返す。
func (a *AnalyticsServiceAdapter) DashboardStats(ctx context.Context, userID string) (*dashboardStatsResponse, error) {
	stats, err := a.svc.DashboardStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := &dashboardStatsResponse{
		TotalHabits:          stats.TotalHabits,
		CurrentStreak:        stats.CurrentStreak,
		TotalCompletions:     stats.TotalCompletions,
		SuccessRate:          stats.SuccessRate,
		DailyCompletion:      make([]dailyCompletionResponse, len(stats.DailyCompletion)),
		CategoryDistribution: make([]categoryShareResponse, len(stats.CategoryDistribution)),
		WeeklyProgress:       make([]habitProgressResponse, len(stats.WeeklyProgress)),
	}
	for i, d := range stats.DailyCompletion {
		resp.DailyCompletion[i] = dailyCompletionResponse{Day: d.Day, Date: d.Date, Completions: d.Completions}
	}
	for i, c := range stats.CategoryDistribution {
		resp.CategoryDistribution[i] = categoryShareResponse{Name: c.Name, Value: c.Value}
	}
	for i, p := range stats.WeeklyProgress {
		resp.WeeklyProgress[i] = habitProgressResponse{HabitID: p.HabitID, Name: p.Name, Progress: p.Progress}
	}
	return resp, nil
}

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// Me はプロフィールをhandlerレスポンス型で返す。
func (a *UserServiceAdapter) Me(ctx context.Context, userID string) (*userResponse, error) {
	profile, err := a.svc.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	providers := profile.Providers
	if providers == nil {
		providers = []string{}
	}
	return &userResponse{
		ID:        profile.User.ID,
		Email:     profile.User.Email,
		Name:      profile.User.Name,
		Providers: providers,
		CreatedAt: profile.User.CreatedAt,
	}, nil
}

// Withdraw はユーザーの退会処理を実行する。
func (a *UserServiceAdapter) Withdraw(ctx context.Context, userID string) error {
	return a.svc.Withdraw(ctx, userID)
}

// compile-time interface check
var (
	_ AnalyticsServiceInterface = (*AnalyticsServiceAdapter)(nil)
	_ UserServiceInterface      = (*UserServiceAdapter)(nil)
)
