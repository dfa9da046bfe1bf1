package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/habitloop/internal/model"
)

func TestPostgresBlogPostRepo_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresBlogPostRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (guid) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (guid) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))

	post := &model.BlogPost{ID: "p-1", GUID: "guid-1", Title: "Morning routines", FetchedAt: now, CreatedAt: now}

	inserted, err := repo.Upsert(context.Background(), post)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Upsert(context.Background(), post)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBlogPostRepo_List_NullPublishedAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresBlogPostRepo(db)
	published := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	fetched := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	columns := []string{"id", "guid", "title", "link", "summary", "content", "author", "category", "published_at", "fetched_at", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(category) = lower($1)")).
		WithArgs("tips", 10).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("p-1", "g-1", "A", "https://blog.example.com/a", "", "", "", "tips", published, fetched, fetched).
			AddRow("p-2", "g-2", "B", "https://blog.example.com/b", "", "", "", "tips", nil, fetched, fetched))

	posts, err := repo.List(context.Background(), model.BlogFilter{Category: "tips"}, 10)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.NotNil(t, posts[0].PublishedAt)
	assert.True(t, posts[0].PublishedAt.Equal(published))
	assert.Nil(t, posts[1].PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBlogPostRepo_DeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM blog_posts WHERE fetched_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := NewPostgresBlogPostRepo(db).DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestPostgresBlogSourceRepo_EnsureSource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (feed_url) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "https://blog.example.com/feed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM blog_sources WHERE feed_url = $1")).
		WithArgs("https://blog.example.com/feed").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "feed_url", "etag", "last_modified", "fetch_status", "consecutive_errors",
			"error_message", "next_fetch_at", "created_at", "updated_at",
		}).AddRow("src-1", "https://blog.example.com/feed", "", "", "active", 0, "", now, now, now))

	src, err := NewPostgresBlogSourceRepo(db).EnsureSource(context.Background(), "https://blog.example.com/feed")
	require.NoError(t, err)
	assert.Equal(t, "src-1", src.ID)
	assert.Equal(t, model.FetchStatusActive, src.FetchStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBlogSourceRepo_UpdateFetchState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	next := time.Now().Add(time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE blog_sources")).
		WithArgs(`"abc"`, "", "stopped", 3, "HTTP 404", next, "src-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgresBlogSourceRepo(db).UpdateFetchState(context.Background(), &model.BlogSource{
		ID: "src-1", ETag: `"abc"`, FetchStatus: model.FetchStatusStopped,
		ConsecutiveErrors: 3, ErrorMessage: "HTTP 404", NextFetchAt: next,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
