package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/habitloop/internal/blog"
	"github.com/hitoshi/habitloop/internal/model"
)

// BlogServiceInterface はブログハンドラーが必要とするサービスインターフェース。
type BlogServiceInterface interface {
	List(ctx context.Context, filter model.BlogFilter, limit int) ([]*model.BlogPost, error)
}

// BlogHandler はコミュニティブログのHTTPハンドラー。
type BlogHandler struct {
	service BlogServiceInterface
}

// NewBlogHandler はBlogHandlerを生成する。
func NewBlogHandler(service BlogServiceInterface) *BlogHandler {
	return &BlogHandler{service: service}
}

// blogPostResponse はブログ記事のAPIレスポンス。
type blogPostResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	Content     string     `json:"content"`
	Author      string     `json:"author"`
	Category    string     `json:"category"`
	PublishedAt *time.Time `json:"publishedAt"`
	FetchedAt   time.Time  `json:"fetchedAt"`
}

// ListPosts はブログ記事一覧を返す。
// GET /blog/posts?search=...&category=...&limit=...
func (h *BlogHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
			return
		}
		limit = n
	}

	posts, err := h.service.List(r.Context(), model.BlogFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
	}, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]blogPostResponse, len(posts))
	for i, p := range posts {
		results[i] = blogPostResponse{
			ID:          p.ID,
			Title:       p.Title,
			Link:        p.Link,
			Summary:     p.Summary,
			Content:     p.Content,
			Author:      p.Author,
			Category:    p.Category,
			PublishedAt: p.PublishedAt,
			FetchedAt:   p.FetchedAt,
		}
	}
	writeJSON(w, http.StatusOK, results)
}

// SetupBlogRoutes はブログ関連のルーティングを公開ルーターに登録する。
func SetupBlogRoutes(public chi.Router, service BlogServiceInterface) {
	h := NewBlogHandler(service)
	public.Get("/blog/posts", h.ListPosts)
}

// compile-time interface check
var _ BlogServiceInterface = (*blog.Service)(nil)
