package blogfetch

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/habitloop/internal/metrics"
	"github.com/hitoshi/habitloop/internal/model"
	"github.com/hitoshi/habitloop/internal/repository"
)

// PostUpserter はブログ記事のUPSERT処理のインターフェース。
type PostUpserter interface {
	Upsert(ctx context.Context, post *model.BlogPost) (bool, error)
}

// URLGuard はSSRF検証と安全なHTTPクライアント生成のインターフェース。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// ContentSanitizer は記事本文とプレーンテキスト項目のサニタイズを行う。
type ContentSanitizer interface {
	SanitizeHTML(input string) string
	SanitizeText(input string) string
}

// Config はFetcherの設定。
type Config struct {
	Interval    time.Duration // 成功時の次回フェッチまでの間隔
	Timeout     time.Duration // HTTPリクエストのタイムアウト
	MaxBodySize int64         // レスポンスボディの最大サイズ
}

// Fetcher はブログフィードのHTTPフェッチとパースを行う。
// ETag/Last-Modifiedを使用した条件付きGET、SSRF検証、
// gofeedによるパース、サニタイズ後の記事保存を実行する。
type Fetcher struct {
	sources   repository.BlogSourceRepository
	posts     PostUpserter
	guard     URLGuard
	sanitizer ContentSanitizer
	recorder  metrics.FetchRecorder
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewFetcher(
	sources repository.BlogSourceRepository,
	posts PostUpserter,
	guard URLGuard,
	sanitizer ContentSanitizer,
	recorder metrics.FetchRecorder,
	logger *slog.Logger,
	cfg Config,
) *Fetcher {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Fetcher{
		sources:   sources,
		posts:     posts,
		guard:     guard,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Fetch は取り込み元をフェッチし、結果に応じてフェッチ状態を更新する。
func (f *Fetcher) Fetch(ctx context.Context, src *model.BlogSource) error {
	start := f.now()
	log := f.logger.With(slog.String("source_id", src.ID), slog.String("feed_url", src.FeedURL))

	// 1. SSRF検証
	if err := f.guard.ValidateURL(src.FeedURL); err != nil {
		log.Error("SSRF検証に失敗しました", slog.String("error", err.Error()))
		f.recorder.RecordFetchFailure(src.ID, "ssrf_blocked")
		ApplyStop(src, fmt.Sprintf("SSRF検証失敗: %s", err.Error()), f.now())
		f.saveState(ctx, log, src)
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	// 2. 条件付きGETのリクエストを構築
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		req.Header.Set("If-Modified-Since", src.LastModified)
	}

	// 3. リクエスト実行
	client := f.guard.NewSafeClient(f.cfg.Timeout, f.cfg.MaxBodySize)
	resp, err := client.Do(req)
	f.recorder.RecordFetchLatency(f.now().Sub(start))
	if err != nil {
		log.Error("HTTPリクエストに失敗しました", slog.String("error", err.Error()))
		f.recorder.RecordFetchFailure(src.ID, "network")
		ApplyBackoff(src, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), f.now())
		f.saveState(ctx, log, src)
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()
	f.recorder.RecordFetchHTTPStatus(resp.StatusCode)

	// 4. HTTPステータスに基づく処理分岐
	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultNotModified:
		log.Info("ブログフィードは未変更です（304）")
		f.recorder.RecordFetchSuccess(src.ID)
		ApplySuccess(src, f.cfg.Interval, f.now())
		return f.sources.UpdateFetchState(ctx, src)

	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d によりフェッチを停止しました", resp.StatusCode)
		log.Warn("ブログフィードのフェッチを停止します", slog.Int("http_status", resp.StatusCode))
		f.recorder.RecordFetchFailure(src.ID, "stopped")
		ApplyStop(src, reason, f.now())
		return f.sources.UpdateFetchState(ctx, src)

	case FetchResultBackoff:
		log.Warn("ブログフィードのフェッチにバックオフを適用します",
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", src.ConsecutiveErrors+1),
		)
		f.recorder.RecordFetchFailure(src.ID, "backoff")
		ApplyBackoff(src, fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode), f.now())
		return f.sources.UpdateFetchState(ctx, src)

	case FetchResultOK:
	default:
		log.Warn("予期しないHTTPステータスコード", slog.Int("http_status", resp.StatusCode))
		f.recorder.RecordFetchFailure(src.ID, "unexpected_status")
		ApplyBackoff(src, fmt.Sprintf("予期しないHTTPステータス: %d", resp.StatusCode), f.now())
		return f.sources.UpdateFetchState(ctx, src)
	}

	// 5. ボディを読み込んでパース
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize))
	if err != nil {
		log.Error("レスポンスボディの読み取りに失敗しました", slog.String("error", err.Error()))
		f.recorder.RecordFetchFailure(src.ID, "read_body")
		ApplyBackoff(src, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()), f.now())
		return f.sources.UpdateFetchState(ctx, src)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		src.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		src.LastModified = lastMod
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		log.Error("ブログフィードのパースに失敗しました", slog.String("error", err.Error()))
		f.recorder.RecordParseFailure(src.ID)
		ApplyParseFailure(src, err.Error(), f.cfg.Interval, f.now())
		f.saveState(ctx, log, src)
		return nil
	}

	// 6. 記事を保存
	inserted, updated, err := f.upsertPosts(ctx, convertGofeedItems(parsed.Items))
	if err != nil {
		log.Error("ブログ記事の保存に失敗しました", slog.String("error", err.Error()))
		f.recorder.RecordFetchFailure(src.ID, "upsert")
		ApplyBackoff(src, fmt.Sprintf("記事保存失敗: %s", err.Error()), f.now())
		f.saveState(ctx, log, src)
		return nil
	}
	f.recorder.RecordPostsUpserted(inserted + updated)
	f.recorder.RecordFetchSuccess(src.ID)

	// 7. フェッチ状態を更新
	ApplySuccess(src, f.cfg.Interval, f.now())
	if err := f.sources.UpdateFetchState(ctx, src); err != nil {
		log.Error("フェッチ状態の更新に失敗しました", slog.String("error", err.Error()))
		return err
	}

	log.Info("ブログフィードのフェッチが完了しました",
		slog.Int("http_status", resp.StatusCode),
		slog.Int("posts_inserted", inserted),
		slog.Int("posts_updated", updated),
		slog.Float64("duration_ms", float64(f.now().Sub(start).Milliseconds())),
	)
	return nil
}

// upsertPosts はサニタイズした記事をGUID単位でUPSERTし、挿入数と更新数を返す。
func (f *Fetcher) upsertPosts(ctx context.Context, items []model.ParsedBlogPost) (inserted, updated int, err error) {
	now := f.now()
	for _, item := range items {
		post := &model.BlogPost{
			ID:          uuid.New().String(),
			GUID:        item.GUID,
			Title:       f.sanitizer.SanitizeText(item.Title),
			Link:        item.Link,
			Summary:     f.sanitizer.SanitizeText(item.Summary),
			Content:     f.sanitizer.SanitizeHTML(item.Content),
			Author:      f.sanitizer.SanitizeText(item.Author),
			Category:    f.sanitizer.SanitizeText(item.Category),
			PublishedAt: item.PublishedAt,
			FetchedAt:   now,
			CreatedAt:   now,
		}
		if f.guard.ValidateURL(post.Link) != nil {
			post.Link = ""
		}

		created, err := f.posts.Upsert(ctx, post)
		if err != nil {
			return inserted, updated, fmt.Errorf("記事 %s の保存に失敗: %w", post.GUID, err)
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}

// saveState はエラー経路でフェッチ状態を保存する。失敗はログのみ。
func (f *Fetcher) saveState(ctx context.Context, log *slog.Logger, src *model.BlogSource) {
	if err := f.sources.UpdateFetchState(ctx, src); err != nil {
		log.Error("フェッチ状態の更新に失敗しました", slog.String("error", err.Error()))
	}
}

// convertGofeedItems はgofeedの記事をmodel.ParsedBlogPostに変換する。
// GUIDがない記事はリンク、それもなければタイトル・公開日時・概要のハッシュで識別する。
func convertGofeedItems(items []*gofeed.Item) []model.ParsedBlogPost {
	posts := make([]model.ParsedBlogPost, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		post := model.ParsedBlogPost{
			GUID:    item.GUID,
			Title:   item.Title,
			Link:    item.Link,
			Summary: item.Description,
			Content: item.Content,
		}

		if item.Author != nil {
			post.Author = item.Author.Name
		}
		if post.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			post.Author = item.Authors[0].Name
		}
		if len(item.Categories) > 0 {
			post.Category = item.Categories[0]
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			post.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			post.PublishedAt = &t
		}

		if post.Content == "" {
			post.Content = item.Description
		}
		if post.Link == "" && (strings.HasPrefix(post.GUID, "http://") || strings.HasPrefix(post.GUID, "https://")) {
			post.Link = post.GUID
		}

		switch {
		case post.GUID != "":
		case post.Link != "":
			post.GUID = post.Link
		default:
			post.GUID = contentHash(post.Title, post.PublishedAt, post.Summary)
		}

		posts = append(posts, post)
	}

	return posts
}

// contentHash はタイトル、公開日時、概要からSHA-256ハッシュを計算する。
func contentHash(title string, publishedAt *time.Time, summary string) string {
	published := ""
	if publishedAt != nil {
		published = publishedAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(title + "\x00" + published + "\x00" + summary))
	return fmt.Sprintf("sha256:%x", sum)
}
