package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AnalyticsServiceInterface は分析ハンドラーが必要とするサービスインターフェース。
type AnalyticsServiceInterface interface {
	UserAnalytics(ctx context.Context, userID string) (*userAnalyticsResponse, error)
	DashboardStats(ctx context.Context, userID string) (*dashboardStatsResponse, error)
}

// AnalyticsHandler は分析・ダッシュボードのHTTPハンドラー。
type AnalyticsHandler struct {
	service AnalyticsServiceInterface
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(service AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// dayCountResponse は日別の完了した習慣数。
type dayCountResponse struct {
	Date      string `json:"date"`
	Completed int    `json:"completed"`
}

// userAnalyticsResponse は分析ページのAPIレスポンス。
type userAnalyticsResponse struct {
	TotalHabits      int                `json:"totalHabits"`
	TotalCompletions int                `json:"totalCompletions"`
	MaxStreak        int                `json:"maxStreak"`
	CurrentStreak    int                `json:"currentStreak"`
	CategoryCount    map[string]int     `json:"categoryCount"`
	WindowDays       int                `json:"windowDays"`
	LastDaysData     []dayCountResponse `json:"last30DaysData"`
}

type dailyCompletionResponse struct {
	Day         string `json:"day"`
	Date        string `json:"date"`
	Completions int    `json:"completions"`
}

type categoryShareResponse struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type habitProgressResponse struct {
	HabitID  string `json:"habitId"`
	Name     string `json:"name"`
	Progress int    `json:"progress"`
}

// dashboardStatsResponse はダッシュボードのAPIレスポンス。
type dashboardStatsResponse struct {
	TotalHabits          int                       `json:"totalHabits"`
	CurrentStreak        int                       `json:"currentStreak"`
	TotalCompletions     int                       `json:"totalCompletions"`
	SuccessRate          int                       `json:"successRate"`
	DailyCompletion      []dailyCompletionResponse `json:"dailyCompletion"`
	CategoryDistribution []categoryShareResponse   `json:"categoryDistribution"`
	WeeklyProgress       []habitProgressResponse   `json:"weeklyProgress"`
}

// UserAnalytics はログインユーザーの分析結果を返す。
// GET /habits/analytics/user
func (h *AnalyticsHandler) UserAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.UserAnalytics(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DashboardStats はログインユーザーのダッシュボード集計を返す。
// GET /dashboard/stats
func (h *AnalyticsHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.DashboardStats(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// SetupAnalyticsRoutes は分析関連のルーティングを認証必須ルーターに登録する。
func SetupAnalyticsRoutes(authed chi.Router, service AnalyticsServiceInterface) {
	h := NewAnalyticsHandler(service)
	authed.Get("/habits/analytics/user", h.UserAnalytics)
	authed.Get("/dashboard/stats", h.DashboardStats)
}
