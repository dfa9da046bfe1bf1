package model

import "time"

// BlogPost はコミュニティブログの記事を表す。
// 設定されたRSS/Atomフィードから取り込まれ、GUIDで一意に識別される。
type BlogPost struct {
	ID          string
	GUID        string
	Title       string
	Link        string
	Summary     string
	Content     string
	Author      string
	Category    string
	PublishedAt *time.Time
	FetchedAt   time.Time
	CreatedAt   time.Time
}

// ParsedBlogPost はフィードからパースされた記事データを表す。
type ParsedBlogPost struct {
	GUID        string
	Title       string
	Link        string
	Summary     string
	Content     string
	Author      string
	Category    string
	PublishedAt *time.Time
}

// FetchStatus はブログフィードのフェッチ状態を表す。
type FetchStatus string

const (
	// FetchStatusActive はアクティブなフェッチ状態。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusStopped は停止されたフェッチ状態。
	FetchStatusStopped FetchStatus = "stopped"
)

// BlogSource はブログ記事の取り込み元フィードとそのフェッチ状態を表す。
type BlogSource struct {
	ID                string
	FeedURL           string
	ETag              string
	LastModified      string
	FetchStatus       FetchStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextFetchAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BlogFilter はブログ記事の検索条件。
type BlogFilter struct {
	Search   string
	Category string
}
