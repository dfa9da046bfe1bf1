// Package blog はコミュニティブログ記事の閲覧機能を提供する。
package blog

import (
	"context"
	"fmt"

	"github.com/hitoshi/habitloop/internal/model"
)

// 記事一覧の件数。
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// PostLister はブログ記事の一覧取得を抽象化する。
// repository.BlogPostRepositoryが実装する。
type PostLister interface {
	List(ctx context.Context, filter model.BlogFilter, limit int) ([]*model.BlogPost, error)
}

// Service はブログ記事の閲覧に関するビジネスロジックを提供する。
type Service struct {
	posts PostLister
}

// NewService はServiceを生成する。
func NewService(posts PostLister) *Service {
	return &Service{posts: posts}
}

// List は検索条件に一致する記事を新しい順に返す。
// limitが0以下の場合はDefaultListLimit、MaxListLimitを超える場合はMaxListLimitに丸める。
func (s *Service) List(ctx context.Context, filter model.BlogFilter, limit int) ([]*model.BlogPost, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	posts, err := s.posts.List(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list blog posts: %w", err)
	}
	return posts, nil
}
