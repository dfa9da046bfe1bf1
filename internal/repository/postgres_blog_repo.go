package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/habitloop/internal/model"
)

// PostgresBlogPostRepo はPostgreSQLを使用したブログ記事リポジトリ。
type PostgresBlogPostRepo struct {
	db *sql.DB
}

// NewPostgresBlogPostRepo はPostgresBlogPostRepoを生成する。
func NewPostgresBlogPostRepo(db *sql.DB) *PostgresBlogPostRepo {
	return &PostgresBlogPostRepo{db: db}
}

// Upsert はGUIDをキーに記事を挿入または上書き更新する。
// xmax = 0 は行が今回のINSERTで作られたことを示す。
func (r *PostgresBlogPostRepo) Upsert(ctx context.Context, post *model.BlogPost) (bool, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO blog_posts (id, guid, title, link, summary, content, author, category, published_at, fetched_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (guid) DO UPDATE SET
		   title = EXCLUDED.title,
		   link = EXCLUDED.link,
		   summary = EXCLUDED.summary,
		   content = EXCLUDED.content,
		   author = EXCLUDED.author,
		   category = EXCLUDED.category,
		   published_at = EXCLUDED.published_at,
		   fetched_at = EXCLUDED.fetched_at
		 RETURNING (xmax = 0)`,
		post.ID, post.GUID, post.Title, post.Link, post.Summary, post.Content,
		post.Author, post.Category, post.PublishedAt, post.FetchedAt, post.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("ブログ記事の保存に失敗しました: %w", err)
	}
	return inserted, nil
}

// List は記事をpublished_at降順（未設定は末尾）で最大limit件返す。
func (r *PostgresBlogPostRepo) List(ctx context.Context, filter model.BlogFilter, limit int) ([]*model.BlogPost, error) {
	var (
		conditions []string
		args       []any
	)
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		conditions = append(conditions, fmt.Sprintf(`title ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if category := strings.TrimSpace(filter.Category); category != "" && !strings.EqualFold(category, "all") {
		args = append(args, category)
		conditions = append(conditions, fmt.Sprintf("lower(category) = lower($%d)", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, guid, title, link, summary, content, author, category, published_at, fetched_at, created_at
		 FROM blog_posts
		 `+where+`
		 ORDER BY published_at DESC NULLS LAST, fetched_at DESC
		 LIMIT $`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("ブログ記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	posts := make([]*model.BlogPost, 0)
	for rows.Next() {
		p := &model.BlogPost{}
		var publishedAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.GUID, &p.Title, &p.Link, &p.Summary, &p.Content,
			&p.Author, &p.Category, &publishedAt, &p.FetchedAt, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ブログ記事の読み取りに失敗しました: %w", err)
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			p.PublishedAt = &t
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ブログ記事一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// DeleteOlderThan はfetched_atがcutoffより古い記事を削除し、削除件数を返す。
func (r *PostgresBlogPostRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blog_posts WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("古いブログ記事の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// PostgresBlogSourceRepo はPostgreSQLを使用したブログ取り込み元リポジトリ。
type PostgresBlogSourceRepo struct {
	db *sql.DB
}

// NewPostgresBlogSourceRepo はPostgresBlogSourceRepoを生成する。
func NewPostgresBlogSourceRepo(db *sql.DB) *PostgresBlogSourceRepo {
	return &PostgresBlogSourceRepo{db: db}
}

const blogSourceColumns = `id, feed_url, etag, last_modified, fetch_status, consecutive_errors,
	error_message, next_fetch_at, created_at, updated_at`

func scanBlogSource(s rowScanner) (*model.BlogSource, error) {
	src := &model.BlogSource{}
	var status string
	if err := s.Scan(
		&src.ID, &src.FeedURL, &src.ETag, &src.LastModified, &status, &src.ConsecutiveErrors,
		&src.ErrorMessage, &src.NextFetchAt, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, err
	}
	src.FetchStatus = model.FetchStatus(status)
	return src, nil
}

// EnsureSource はfeedURLの取り込み元を取得し、存在しない場合は作成する。
// 新規作成時のnext_fetch_atは現在時刻となり、次回のスケジューラ実行で即座にフェッチされる。
func (r *PostgresBlogSourceRepo) EnsureSource(ctx context.Context, feedURL string) (*model.BlogSource, error) {
	// 1. 存在しなければ作成（競合時は何もしない）
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blog_sources (id, feed_url)
		 VALUES ($1, $2)
		 ON CONFLICT (feed_url) DO NOTHING`,
		uuid.New().String(), feedURL,
	)
	if err != nil {
		return nil, fmt.Errorf("ブログ取り込み元の登録に失敗しました: %w", err)
	}

	// 2. 登録済みの行を取得
	row := r.db.QueryRowContext(ctx,
		`SELECT `+blogSourceColumns+` FROM blog_sources WHERE feed_url = $1`,
		feedURL,
	)
	src, err := scanBlogSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ブログ取り込み元が見つかりません: %s", feedURL)
	}
	if err != nil {
		return nil, fmt.Errorf("ブログ取り込み元の取得に失敗しました: %w", err)
	}
	return src, nil
}

// ListDueForFetch はフェッチ対象の取り込み元を取得する。
// next_fetch_at <= now() かつ fetch_status = 'active' の行を
// FOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresBlogSourceRepo) ListDueForFetch(ctx context.Context) ([]*model.BlogSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+blogSourceColumns+`
		 FROM blog_sources
		 WHERE next_fetch_at <= now()
		   AND fetch_status = 'active'
		 ORDER BY next_fetch_at ASC
		 FOR UPDATE SKIP LOCKED`,
	)
	if err != nil {
		return nil, fmt.Errorf("フェッチ対象の取り込み元の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.BlogSource
	for rows.Next() {
		src, err := scanBlogSource(rows)
		if err != nil {
			return nil, fmt.Errorf("フェッチ対象の取り込み元の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フェッチ対象の取り込み元の走査に失敗しました: %w", err)
	}
	return sources, nil
}

// UpdateFetchState は取り込み元のフェッチ状態を更新する。
func (r *PostgresBlogSourceRepo) UpdateFetchState(ctx context.Context, src *model.BlogSource) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE blog_sources
		 SET etag = $1, last_modified = $2, fetch_status = $3, consecutive_errors = $4,
		     error_message = $5, next_fetch_at = $6, updated_at = now()
		 WHERE id = $7`,
		src.ETag, src.LastModified, string(src.FetchStatus), src.ConsecutiveErrors,
		src.ErrorMessage, src.NextFetchAt, src.ID,
	)
	if err != nil {
		return fmt.Errorf("フェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ BlogPostRepository   = (*PostgresBlogPostRepo)(nil)
	_ BlogSourceRepository = (*PostgresBlogSourceRepo)(nil)
)
