package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/habitloop/internal/habit"
	"github.com/hitoshi/habitloop/internal/model"
)

// HabitServiceInterface は習慣ハンドラーが必要とするサービスインターフェース。
type HabitServiceInterface interface {
	Location() *time.Location
	Create(ctx context.Context, userID string, in habit.CreateInput) (*habit.View, error)
	Get(ctx context.Context, userID, habitID string) (*habit.View, error)
	ListMine(ctx context.Context, userID string) ([]habit.View, error)
	ListRecent(ctx context.Context, userID string) ([]habit.View, error)
	ListPublic(ctx context.Context, filter model.HabitFilter) ([]habit.View, error)
	ListFeatured(ctx context.Context) ([]habit.View, error)
	Update(ctx context.Context, userID, habitID string, patch model.HabitPatch) (*habit.View, error)
	Delete(ctx context.Context, userID, habitID string) error
	DeleteAllMine(ctx context.Context, userID string) (int64, error)
	Complete(ctx context.Context, userID, habitID string) (*habit.View, error)
}

// HabitHandler は習慣管理のHTTPハンドラー。
type HabitHandler struct {
	service HabitServiceInterface
}

// NewHabitHandler はHabitHandlerを生成する。
func NewHabitHandler(service HabitServiceInterface) *HabitHandler {
	return &HabitHandler{service: service}
}

// createHabitRequest は習慣作成リクエストのボディ。
type createHabitRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	ReminderTime string `json:"reminderTime"`
	Image        string `json:"image"`
	Public       *bool  `json:"public"`
}

// updateHabitRequest は習慣の部分更新リクエストのボディ。
// 省略されたフィールドは変更しない。
type updateHabitRequest struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	Category     *string `json:"category"`
	ReminderTime *string `json:"reminderTime"`
	Image        *string `json:"image"`
	Public       *bool   `json:"public"`
}

// habitResponse は習慣のAPIレスポンス。
// ストリークと今日の完了状態はサーバーが完了履歴から算出した値。
type habitResponse struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Category          string    `json:"category"`
	ReminderTime      string    `json:"reminderTime"`
	Image             string    `json:"image"`
	Public            bool      `json:"public"`
	Visibility        string    `json:"visibility"`
	UserName          string    `json:"userName"`
	UserEmail         string    `json:"userEmail,omitempty"`
	CompletionHistory []string  `json:"completionHistory"`
	Streak            int       `json:"streak"`
	CompletedToday    bool      `json:"completedToday"`
	Timezone          string    `json:"timezone"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// deleteAllResponse は習慣一括削除のレスポンス。
type deleteAllResponse struct {
	Deleted int64 `json:"deleted"`
}

// Create は習慣を作成する。
// POST /habits
func (h *HabitHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createHabitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	view, err := h.service.Create(r.Context(), userID, habit.CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		ReminderTime: req.ReminderTime,
		Image:        req.Image,
		Public:       req.Public,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(*view, userID))
}

// Get は習慣を1件返す。
// GET /habits/{id}
func (h *HabitHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	view, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(*view, userID))
}

// ListMine はログインユーザーの習慣一覧を返す。
// GET /habits/my
func (h *HabitHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	views, err := h.service.ListMine(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponses(views, userID))
}

// ListRecent はログインユーザーが最近作成した習慣を返す。
// GET /habits/recent
func (h *HabitHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	views, err := h.service.ListRecent(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponses(views, userID))
}

// ListPublic は公開習慣一覧を返す。
// GET /habits/public?search=...&category=...
func (h *HabitHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.HabitFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
	}

	views, err := h.service.ListPublic(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponses(views, ""))
}

// ListFeatured はストリークの長い公開習慣を返す。
// GET /habits/featured
func (h *HabitHandler) ListFeatured(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListFeatured(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponses(views, ""))
}

// Update は習慣を部分更新する。
// PATCH /habits/{id}
func (h *HabitHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateHabitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	view, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), model.HabitPatch{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		ReminderTime: req.ReminderTime,
		Image:        req.Image,
		Public:       req.Public,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(*view, userID))
}

// Delete は習慣を削除する。
// DELETE /habits/{id}
func (h *HabitHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllMine はログインユーザーの全習慣を削除する。
// DELETE /habits/my
func (h *HabitHandler) DeleteAllMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	n, err := h.service.DeleteAllMine(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteAllResponse{Deleted: n})
}

// Complete は習慣を今日の分として完了にする。
// 同じ暦日に完了済みの場合は409 ALREADY_COMPLETED_TODAYを返す。
// PATCH /habits/{id}/complete
func (h *HabitHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	view, err := h.service.Complete(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(*view, userID))
}

// SetupHabitRoutes は習慣関連のルーティングを設定する。
// 公開ルートはpublic、認証必須ルートはauthedに登録する。
// createMiddleware が nil でない場合、POST /habits に作成専用レート制限を適用する。
func SetupHabitRoutes(public, authed chi.Router, service HabitServiceInterface, createMiddleware func(http.Handler) http.Handler) {
	h := NewHabitHandler(service)

	public.Get("/habits/public", h.ListPublic)
	public.Get("/habits/featured", h.ListFeatured)

	if createMiddleware != nil {
		authed.With(createMiddleware).Post("/habits", h.Create)
	} else {
		authed.Post("/habits", h.Create)
	}
	authed.Get("/habits/my", h.ListMine)
	authed.Delete("/habits/my", h.DeleteAllMine)
	authed.Get("/habits/recent", h.ListRecent)

	authed.Route("/habits/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Patch("/complete", h.Complete)
	})
}

// --- ヘルパー関数 ---

// toResponse はhabit.ViewをAPIレスポンスに変換する。
// メールアドレスは閲覧者が所有者本人の場合のみ含める。
func (h *HabitHandler) toResponse(v habit.View, viewerID string) habitResponse {
	hb := v.Habit
	history := make([]string, len(hb.CompletionHistory))
	for i, t := range hb.CompletionHistory {
		history[i] = t.UTC().Format(time.RFC3339)
	}

	resp := habitResponse{
		ID:                hb.ID,
		Title:             hb.Title,
		Description:       hb.Description,
		Category:          hb.Category,
		ReminderTime:      hb.ReminderTime,
		Image:             hb.Image,
		Public:            hb.IsPublic(),
		Visibility:        string(hb.Visibility),
		UserName:          hb.OwnerName,
		CompletionHistory: history,
		Streak:            v.Streak,
		CompletedToday:    v.CompletedToday,
		Timezone:          h.service.Location().String(),
		CreatedAt:         hb.CreatedAt,
		UpdatedAt:         hb.UpdatedAt,
	}
	if viewerID != "" && viewerID == hb.UserID {
		resp.UserEmail = hb.OwnerEmail
	}
	return resp
}

func (h *HabitHandler) toResponses(views []habit.View, viewerID string) []habitResponse {
	results := make([]habitResponse, len(views))
	for i, v := range views {
		results[i] = h.toResponse(v, viewerID)
	}
	return results
}

// compile-time interface check
var _ HabitServiceInterface = (*habit.Service)(nil)
