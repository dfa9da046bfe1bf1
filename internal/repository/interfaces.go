// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/habitloop/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はユーザーのメールアドレスと表示名を更新する。
	UpdateProfile(ctx context.Context, id, email, name string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、habits、habit_completionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// ListByUserID はユーザーに紐付くidentity一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error)
}

// HabitRepository は習慣と完了記録の永続化インターフェース。
// 返却する習慣には完了履歴（時系列順）と所有者の表示情報が含まれる。
type HabitRepository interface {
	// Create は習慣を作成する。
	Create(ctx context.Context, habit *model.Habit) error

	// FindByID は指定IDの習慣を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Habit, error)

	// ListByUserID はユーザーの習慣一覧をcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Habit, error)

	// ListPublic は公開習慣をcreated_at降順で最大limit件返す。
	// filter.Searchはタイトルの部分一致（大文字小文字を区別しない）、
	// filter.Categoryはカテゴリの完全一致で絞り込む。
	ListPublic(ctx context.Context, filter model.HabitFilter, limit int) ([]*model.Habit, error)

	// Update は習慣の編集可能フィールドとupdated_atを更新する。完了履歴には触れない。
	Update(ctx context.Context, habit *model.Habit) error

	// Delete は指定IDの習慣を削除する。完了記録はCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// DeleteByUserID はユーザーの全習慣を削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)

	// AddCompletion は完了記録を追加する。
	// 同じ習慣・同じ暦日の記録が既に存在する場合は追加せずfalseを返す。
	AddCompletion(ctx context.Context, completion *model.HabitCompletion) (bool, error)
}

// BlogPostRepository はブログ記事の永続化インターフェース。
type BlogPostRepository interface {
	// Upsert はGUIDをキーに記事を挿入または上書き更新する。挿入時はtrueを返す。
	Upsert(ctx context.Context, post *model.BlogPost) (bool, error)

	// List は記事をpublished_at降順で最大limit件返す。
	List(ctx context.Context, filter model.BlogFilter, limit int) ([]*model.BlogPost, error)

	// DeleteOlderThan はfetched_atがcutoffより古い記事を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BlogSourceRepository はブログ取り込み元フィードの永続化インターフェース。
type BlogSourceRepository interface {
	// EnsureSource はfeedURLの取り込み元を取得し、存在しない場合は作成する。
	EnsureSource(ctx context.Context, feedURL string) (*model.BlogSource, error)

	// ListDueForFetch はnext_fetch_at <= now() かつ fetch_status = 'active' の取り込み元を
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForFetch(ctx context.Context) ([]*model.BlogSource, error)

	// UpdateFetchState はフェッチ状態を更新する。
	UpdateFetchState(ctx context.Context, source *model.BlogSource) error
}
