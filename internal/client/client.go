// Package client はhabitloop APIのHTTPクライアントを提供する。
// サーバーのエラーコードはセンチネルエラーと型付きエラーに変換される。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout は通常リクエストのタイムアウト。
	DefaultTimeout = 15 * time.Second
	// DefaultCompleteTimeout は完了リクエストの独立したタイムアウト。
	DefaultCompleteTimeout = 10 * time.Second
	// maxErrorBodySize はエラーレスポンスとして読み取る最大バイト数。
	maxErrorBodySize = 64 << 10
	userAgent        = "habitctl/1.0"
)

// TokenSource はリクエストごとにBearerトークンを返す。
// トークンはクライアント側でキャッシュしない。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc は関数をTokenSourceとして扱うアダプタ。
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token はf(ctx)を返す。
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken は固定トークンを返すTokenSource。
type StaticToken string

// Token は固定トークンを返す。
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// Client はhabitloop APIのクライアント。
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	tokens          TokenSource
	logger          *slog.Logger
	completeTimeout time.Duration
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithHTTPClient は使用するhttp.Clientを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger はログ出力先を設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCompleteTimeout は完了リクエストのタイムアウトを設定する。
func WithCompleteTimeout(d time.Duration) Option {
	return func(c *Client) { c.completeTimeout = d }
}

// New はClientを生成する。baseURLはhttpまたはhttpsの絶対URL。
// tokensがnilの場合は認証ヘッダーを付与しない。
func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: must be an absolute http(s) url", baseURL)
	}

	c := &Client{
		baseURL:         u,
		httpClient:      &http.Client{Timeout: DefaultTimeout},
		tokens:          tokens,
		logger:          slog.Default(),
		completeTimeout: DefaultCompleteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListMine はログインユーザーの習慣一覧を返す。
func (c *Client) ListMine(ctx context.Context) ([]Habit, error) {
	var habits []Habit
	if err := c.do(ctx, http.MethodGet, "/habits/my", nil, nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// ListRecent はログインユーザーが最近作成した習慣を返す。
func (c *Client) ListRecent(ctx context.Context) ([]Habit, error) {
	var habits []Habit
	if err := c.do(ctx, http.MethodGet, "/habits/recent", nil, nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// Get は習慣を1件返す。
func (c *Client) Get(ctx context.Context, id string) (*Habit, error) {
	var h Habit
	if err := c.do(ctx, http.MethodGet, "/habits/"+url.PathEscape(id), nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Create は習慣を作成する。
func (c *Client) Create(ctx context.Context, in CreateHabitInput) (*Habit, error) {
	var h Habit
	if err := c.do(ctx, http.MethodPost, "/habits", nil, in, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Update は習慣を部分更新し、更新後の習慣を返す。
func (c *Client) Update(ctx context.Context, id string, in UpdateHabitInput) (*Habit, error) {
	var h Habit
	if err := c.do(ctx, http.MethodPatch, "/habits/"+url.PathEscape(id), nil, in, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Delete は習慣を削除する。
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/habits/"+url.PathEscape(id), nil, nil, nil)
}

// Complete は習慣を今日の分として完了にし、更新後の習慣を返す。
//
// 送信済みの完了をサーバー側で確定させるため、呼び出し元のキャンセルからは切り離し、
// 独自のタイムアウトで実行する。同じ暦日に完了済みの場合はErrAlreadyCompletedを返す。
func (c *Client) Complete(ctx context.Context, id string) (*Habit, error) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.completeTimeout)
	defer cancel()

	var h Habit
	if err := c.do(detached, http.MethodPatch, "/habits/"+url.PathEscape(id)+"/complete", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// CompleteAsync はCompleteをバックグラウンドで実行し、結果をapplyに渡す。
// 結果が届いた時点でctxが終了していればapplyは呼ばない。
// 返されるチャネルはリクエストの完了時にクローズされる。
func (c *Client) CompleteAsync(ctx context.Context, id string, apply func(*Habit, error)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h, err := c.Complete(ctx, id)
		if ctx.Err() != nil {
			c.logger.Debug("discarding completion result for finished caller",
				slog.String("habit_id", id),
			)
			return
		}
		apply(h, err)
	}()
	return done
}

// ListPublic は公開習慣を検索する。
func (c *Client) ListPublic(ctx context.Context, filter HabitFilter) ([]Habit, error) {
	q := url.Values{}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	var habits []Habit
	if err := c.do(ctx, http.MethodGet, "/habits/public", q, nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// ListFeatured はストリークの長い公開習慣を返す。
func (c *Client) ListFeatured(ctx context.Context) ([]Habit, error) {
	var habits []Habit
	if err := c.do(ctx, http.MethodGet, "/habits/featured", nil, nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// UserAnalytics は分析ページの集計結果を返す。
func (c *Client) UserAnalytics(ctx context.Context) (*UserAnalytics, error) {
	var a UserAnalytics
	if err := c.do(ctx, http.MethodGet, "/habits/analytics/user", nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// DashboardStats はダッシュボードの集計結果を返す。
func (c *Client) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var s DashboardStats
	if err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// BlogPosts はブログ記事一覧を返す。limitが0以下の場合はサーバーの既定値。
func (c *Client) BlogPosts(ctx context.Context, search string, limit int) ([]BlogPost, error) {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var posts []BlogPost
	if err := c.do(ctx, http.MethodGet, "/blog/posts", q, nil, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// Me はログイン中のユーザー情報を返す。
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// do はリクエストを送信し、2xxの場合はレスポンスをoutへデコードする。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	// 1. リクエストの構築
	// pathはエスケープ済みとして扱う
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// 2. リクエストごとにトークンを取得
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	// 3. 送信
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 呼び出し元のキャンセルだけはそのまま返す。期限切れはネットワーク障害と同じく再試行可能
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return ctxErr
		}
		c.logger.Warn("api request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	// 4. ステータスの分類
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError はエラーレスポンスを型付きエラーへ変換する。
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if len(body) > 0 {
		// 統一フォーマット以外のボディはコードなしのAPIErrorとして扱う
		_ = json.Unmarshal(body, apiErr)
	}

	// 429と5xxは再試行可能、それ以外の4xxはAPIError.Isでセンチネルと照合される
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return &TransientError{StatusCode: resp.StatusCode, Err: apiErr}
	}
	return apiErr
}
