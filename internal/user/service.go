// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/habitloop/internal/model"
	"github.com/hitoshi/habitloop/internal/repository"
)

// HabitDeleter は習慣の一括削除インターフェース。
type HabitDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// IdentityLister はユーザーに紐付くidentityの一覧取得インターフェース。
type IdentityLister interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error)
}

// Profile はユーザー情報と紐付け済みのIdP一覧。
type Profile struct {
	User      *model.User
	Providers []string
}

// Service はユーザー管理のサービス層。
// プロフィール取得と退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo     repository.UserRepository
	identities   IdentityLister
	habitDeleter HabitDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	identities IdentityLister,
	habitDeleter HabitDeleter,
) *Service {
	return &Service{
		userRepo:     userRepo,
		identities:   identities,
		habitDeleter: habitDeleter,
	}
}

// Me はログイン中のユーザーのプロフィールを返す。
func (s *Service) Me(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	profile := &Profile{User: user, Providers: []string{}}
	if s.identities != nil {
		identities, err := s.identities.ListByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("identityの取得に失敗しました: %w", err)
		}
		for _, id := range identities {
			profile.Providers = append(profile.Providers, id.Provider)
		}
	}
	return profile, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: habits（+ CASCADE: habit_completions） → user（+ CASCADE: identities）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. 習慣を削除
	if s.habitDeleter != nil {
		n, err := s.habitDeleter.DeleteByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("習慣の削除に失敗しました: %w", err)
		}
		slog.Info("習慣を削除しました", slog.String("user_id", userID), slog.Int64("count", n))
	}

	// 2. ユーザーを削除（identitiesはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
