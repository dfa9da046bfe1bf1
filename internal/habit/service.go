// Package habit は習慣管理と日次完了記録のドメインロジックを提供する。
package habit

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/habitloop/internal/metrics"
	"github.com/hitoshi/habitloop/internal/model"
	"github.com/hitoshi/habitloop/internal/repository"
	"github.com/hitoshi/habitloop/internal/tracker"
)

const (
	// DefaultFeaturedLimit は注目の習慣の既定件数。
	DefaultFeaturedLimit = 6
	// DefaultRecentLimit は最近作成した習慣の既定件数。
	DefaultRecentLimit = 5
	// DefaultPublicLimit は公開習慣一覧で返す最大件数。
	DefaultPublicLimit = 100
)

// View は習慣と、サーバーで算出したストリーク・当日完了状態を合わせた表示用オブジェクト。
type View struct {
	Habit          *model.Habit
	Streak         int
	CompletedToday bool
}

// URLValidator は画像URLの安全性検証を行う。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// TextSanitizer は入力テキストからタグを除去する。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// Config は習慣サービスの設定。
type Config struct {
	// Location は暦日の判定に使うタイムゾーン。nilの場合はUTC。
	Location *time.Location
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
	// FeaturedLimit は注目の習慣の件数。
	FeaturedLimit int
	// RecentLimit は最近作成した習慣の件数。
	RecentLimit int
	// PublicLimit は公開習慣一覧の最大件数。注目の習慣の候補数にも使う。
	PublicLimit int
}

// Service は習慣管理のサービス層。
// 完了記録の可否判定とストリーク算出は全てtrackerパッケージに委譲し、
// ストリークは保存せずレスポンスごとに完了履歴から算出する。
type Service struct {
	repo      repository.HabitRepository
	urls      URLValidator
	sanitizer TextSanitizer
	recorder  metrics.HabitRecorder
	cfg       Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.HabitRepository,
	urls URLValidator,
	sanitizer TextSanitizer,
	recorder metrics.HabitRecorder,
	cfg Config,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FeaturedLimit <= 0 {
		cfg.FeaturedLimit = DefaultFeaturedLimit
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	if cfg.PublicLimit <= 0 {
		cfg.PublicLimit = DefaultPublicLimit
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		urls:      urls,
		sanitizer: sanitizer,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// Location は暦日の判定に使うタイムゾーンを返す。
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

// Create は習慣を作成する。完了履歴は空、ストリークは0で始まる。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*View, error) {
	fields, err := s.normalizeCreate(in)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	h := &model.Habit{
		ID:           uuid.New().String(),
		UserID:       userID,
		Title:        fields.Title,
		Description:  fields.Description,
		Category:     fields.Category,
		ReminderTime: fields.ReminderTime,
		Image:        fields.Image,
		Visibility:   fields.Visibility,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("習慣の作成に失敗しました: %w", err)
	}
	s.recorder.RecordHabitCreated()
	slog.Info("習慣を作成しました", "habitID", h.ID, "userID", userID, "visibility", h.Visibility)

	// 所有者の表示情報を含めて返すため再取得する
	created, err := s.repo.FindByID(ctx, h.ID)
	if err != nil {
		return nil, fmt.Errorf("作成した習慣の取得に失敗しました: %w", err)
	}
	if created == nil {
		h.CompletionHistory = []time.Time{}
		created = h
	}
	return s.view(created), nil
}

// Get は習慣を1件返す。
// 所有者本人か公開習慣の場合のみ閲覧でき、それ以外は存在しない扱いにする。
func (s *Service) Get(ctx context.Context, userID, habitID string) (*View, error) {
	h, err := s.find(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if h.UserID != userID && !h.IsPublic() {
		return nil, model.NewHabitNotFoundError(habitID)
	}
	return s.view(h), nil
}

// ListMine はユーザー自身の習慣一覧をcreated_at降順で返す。
func (s *Service) ListMine(ctx context.Context, userID string) ([]View, error) {
	habits, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("習慣一覧の取得に失敗しました: %w", err)
	}
	return s.views(habits), nil
}

// ListRecent はユーザーが最近作成した習慣を新しい順に返す。
func (s *Service) ListRecent(ctx context.Context, userID string) ([]View, error) {
	views, err := s.ListMine(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(views) > s.cfg.RecentLimit {
		views = views[:s.cfg.RecentLimit]
	}
	return views, nil
}

// ListPublic は公開習慣をcreated_at降順で返す。
// filter.Searchはタイトルの部分一致、filter.Categoryは大文字小文字を区別しない完全一致。
func (s *Service) ListPublic(ctx context.Context, filter model.HabitFilter) ([]View, error) {
	habits, err := s.repo.ListPublic(ctx, filter, s.cfg.PublicLimit)
	if err != nil {
		return nil, fmt.Errorf("公開習慣一覧の取得に失敗しました: %w", err)
	}
	return s.views(habits), nil
}

// ListFeatured はストリークの長い公開習慣を返す。
// ストリーク降順、同値の場合は新しい順に並べ、FeaturedLimit件に絞る。
func (s *Service) ListFeatured(ctx context.Context) ([]View, error) {
	views, err := s.ListPublic(ctx, model.HabitFilter{})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(views, func(a, b View) int {
		if c := cmp.Compare(b.Streak, a.Streak); c != 0 {
			return c
		}
		return b.Habit.CreatedAt.Compare(a.Habit.CreatedAt)
	})
	if len(views) > s.cfg.FeaturedLimit {
		views = views[:s.cfg.FeaturedLimit]
	}
	return views, nil
}

// Update は習慣の編集可能フィールドを部分更新する。完了履歴は変更しない。
func (s *Service) Update(ctx context.Context, userID, habitID string, patch model.HabitPatch) (*View, error) {
	h, err := s.findForMutation(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}

	changed, err := s.applyPatch(h, patch)
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.view(h), nil
	}

	h.UpdatedAt = s.cfg.Now()
	if err := s.repo.Update(ctx, h); err != nil {
		if errors.Is(err, repository.ErrHabitNotFound) {
			return nil, model.NewHabitNotFoundError(habitID)
		}
		return nil, fmt.Errorf("習慣の更新に失敗しました: %w", err)
	}
	slog.Info("習慣を更新しました", "habitID", habitID, "userID", userID)
	return s.view(h), nil
}

// Delete は習慣を削除する。完了記録もあわせて削除される。
func (s *Service) Delete(ctx context.Context, userID, habitID string) error {
	if _, err := s.findForMutation(ctx, userID, habitID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, habitID); err != nil {
		if errors.Is(err, repository.ErrHabitNotFound) {
			return model.NewHabitNotFoundError(habitID)
		}
		return fmt.Errorf("習慣の削除に失敗しました: %w", err)
	}
	s.recorder.RecordHabitDeleted(1)
	slog.Info("習慣を削除しました", "habitID", habitID, "userID", userID)
	return nil
}

// DeleteAllMine はユーザーの全習慣を削除し、削除件数を返す。
func (s *Service) DeleteAllMine(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("習慣の一括削除に失敗しました: %w", err)
	}
	s.recorder.RecordHabitDeleted(int(n))
	slog.Info("習慣を一括削除しました", "userID", userID, "count", n)
	return n, nil
}

// Complete は習慣の当日分の完了を記録する。
//
// 処理の流れ:
//  1. 習慣の取得と所有者確認
//  2. 完了履歴に対する当日完了済みチェック
//  3. (habit_id, completed_on) の一意制約付きINSERT
//  4. 更新後の履歴からストリークを再計算して返す
//
// 当日分が記録済みの場合はALREADY_COMPLETED_TODAYエラーを返し、履歴は変更しない。
// 同時に届いたリクエストもDBの一意制約により1件だけが記録される。
func (s *Service) Complete(ctx context.Context, userID, habitID string) (*View, error) {
	h, err := s.findForMutation(ctx, userID, habitID)
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}

	now := s.cfg.Now()
	history, err := tracker.MarkComplete(h.CompletionHistory, now, s.cfg.Location)
	if errors.Is(err, tracker.ErrAlreadyCompleted) {
		s.recorder.RecordCompletionRejected(metrics.RejectAlreadyCompleted)
		return nil, model.NewAlreadyCompletedError()
	}
	if err != nil {
		return nil, fmt.Errorf("完了記録の判定に失敗しました: %w", err)
	}

	inserted, err := s.repo.AddCompletion(ctx, &model.HabitCompletion{
		ID:          uuid.New().String(),
		HabitID:     h.ID,
		CompletedAt: now,
		CompletedOn: tracker.DayKey(now, s.cfg.Location),
	})
	if err != nil {
		return nil, fmt.Errorf("完了記録の保存に失敗しました: %w", err)
	}
	if !inserted {
		// 別のリクエストが先に当日分を記録した
		s.recorder.RecordCompletionRejected(metrics.RejectAlreadyCompleted)
		return nil, model.NewAlreadyCompletedError()
	}

	h.CompletionHistory = history
	v := s.view(h)
	s.recorder.RecordCompletion()
	slog.Info("習慣を完了しました", "habitID", h.ID, "userID", userID, "streak", v.Streak)
	return v, nil
}

// find は習慣を取得する。IDの形式が不正な場合や存在しない場合はHABIT_NOT_FOUNDを返す。
func (s *Service) find(ctx context.Context, habitID string) (*model.Habit, error) {
	if _, err := uuid.Parse(habitID); err != nil {
		return nil, model.NewHabitNotFoundError(habitID)
	}
	h, err := s.repo.FindByID(ctx, habitID)
	if err != nil {
		return nil, fmt.Errorf("習慣の取得に失敗しました: %w", err)
	}
	if h == nil {
		return nil, model.NewHabitNotFoundError(habitID)
	}
	return h, nil
}

// findForMutation は変更操作の対象となる習慣を取得する。
// 他ユーザーの非公開習慣は存在しない扱い、他ユーザーの公開習慣はFORBIDDENとする。
func (s *Service) findForMutation(ctx context.Context, userID, habitID string) (*model.Habit, error) {
	h, err := s.find(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if h.UserID != userID {
		if !h.IsPublic() {
			return nil, model.NewHabitNotFoundError(habitID)
		}
		return nil, model.NewForbiddenError()
	}
	return h, nil
}

func (s *Service) recordRejection(err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	switch apiErr.Code {
	case model.ErrCodeHabitNotFound:
		s.recorder.RecordCompletionRejected(metrics.RejectNotFound)
	case model.ErrCodeForbidden:
		s.recorder.RecordCompletionRejected(metrics.RejectForbidden)
	}
}

func (s *Service) view(h *model.Habit) *View {
	now := s.cfg.Now()
	return &View{
		Habit:          h,
		Streak:         tracker.ComputeStreak(h.CompletionHistory, now, s.cfg.Location),
		CompletedToday: tracker.IsCompletedToday(h.CompletionHistory, now, s.cfg.Location),
	}
}

func (s *Service) views(habits []*model.Habit) []View {
	out := make([]View, len(habits))
	for i, h := range habits {
		out[i] = *s.view(h)
	}
	return out
}
