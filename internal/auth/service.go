// Package auth はBearerトークンの検証とユーザーの自動登録を提供する。
// トークンは外部IdPが発行し、このサービスは検証と内部ユーザーIDへの対応付けのみを行う。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/habitloop/internal/database"
	"github.com/hitoshi/habitloop/internal/model"
	"github.com/hitoshi/habitloop/internal/repository"
)

// Verifier はトークンを検証してクレームを返す。
type Verifier interface {
	Verify(tokenStr string) (*Claims, error)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	verifier  Verifier
	userRepo  repository.UserRepository
	identRepo repository.IdentityRepository
	provider  string
}

// NewService はServiceを生成する。providerはidentitiesテーブルに記録するIdP名。
func NewService(
	verifier Verifier,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	provider string,
) *Service {
	return &Service{
		verifier:  verifier,
		userRepo:  userRepo,
		identRepo: identRepo,
		provider:  provider,
	}
}

// Authenticate はトークンを検証し、対応する内部ユーザーIDを返す。
// 初めて見るsubの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// トークンが無効な場合はErrInvalidTokenをラップしたエラーを返す。
func (s *Service) Authenticate(ctx context.Context, tokenStr string) (string, error) {
	// 1. トークンを検証
	claims, err := s.verifier.Verify(tokenStr)
	if err != nil {
		return "", err
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, s.provider, claims.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		s.syncProfile(ctx, identity.UserID, claims)
		return identity.UserID, nil
	}

	// 3. 新規ユーザー: usersレコードとidentitiesレコードを同時に作成
	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     claims.Email,
		Name:      claims.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       s.provider,
		ProviderUserID: claims.Subject,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		// 同じsubの初回リクエストが同時に届いた場合は先に作成された方を使う
		if database.IsUniqueViolation(err) {
			existing, findErr := s.identRepo.FindByProviderAndProviderUserID(ctx, s.provider, claims.Subject)
			if findErr == nil && existing != nil {
				return existing.UserID, nil
			}
		}
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", s.provider),
	)
	return user.ID, nil
}

// syncProfile はトークンのemail/nameが登録内容と異なる場合にユーザー情報を更新する。
// 失敗しても認証自体は成功させる。
func (s *Service) syncProfile(ctx context.Context, userID string, claims *Claims) {
	if claims.Email == "" && claims.Name == "" {
		return
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil || user == nil {
		return
	}

	email, name := user.Email, user.Name
	if claims.Email != "" {
		email = claims.Email
	}
	if claims.Name != "" {
		name = claims.Name
	}
	if email == user.Email && name == user.Name {
		return
	}

	if err := s.userRepo.UpdateProfile(ctx, userID, email, name); err != nil {
		slog.Warn("failed to sync user profile", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}
