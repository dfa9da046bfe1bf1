package habit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/habitloop/internal/model"
	"github.com/hitoshi/habitloop/internal/repository"
	"github.com/hitoshi/habitloop/internal/security"
)

// --- モック ---

// fakeHabitRepo はメモリ上で完了記録の一意制約を再現する習慣リポジトリ。
type fakeHabitRepo struct {
	mu          sync.Mutex
	habits      map[string]*model.Habit
	completedOn map[string]map[string]bool

	findErr error
}

func newFakeHabitRepo() *fakeHabitRepo {
	return &fakeHabitRepo{
		habits:      make(map[string]*model.Habit),
		completedOn: make(map[string]map[string]bool),
	}
}

func (r *fakeHabitRepo) put(h *model.Habit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.CompletionHistory == nil {
		h.CompletionHistory = []time.Time{}
	}
	r.habits[h.ID] = h
	r.completedOn[h.ID] = make(map[string]bool)
	for _, c := range h.CompletionHistory {
		r.completedOn[h.ID][c.UTC().Format("2006-01-02")] = true
	}
}

func (r *fakeHabitRepo) copyOf(h *model.Habit) *model.Habit {
	c := *h
	c.CompletionHistory = append([]time.Time{}, h.CompletionHistory...)
	return &c
}

func (r *fakeHabitRepo) Create(ctx context.Context, h *model.Habit) error {
	c := *h
	c.OwnerName = "Owner " + h.UserID
	r.put(&c)
	return nil
}

func (r *fakeHabitRepo) FindByID(ctx context.Context, id string) (*model.Habit, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.habits[id]
	if !ok {
		return nil, nil
	}
	return r.copyOf(h), nil
}

func (r *fakeHabitRepo) sorted(match func(*model.Habit) bool) []*model.Habit {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Habit
	for _, h := range r.habits {
		if match(h) {
			out = append(out, r.copyOf(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *fakeHabitRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Habit, error) {
	return r.sorted(func(h *model.Habit) bool { return h.UserID == userID }), nil
}

func (r *fakeHabitRepo) ListPublic(ctx context.Context, filter model.HabitFilter, limit int) ([]*model.Habit, error) {
	out := r.sorted(func(h *model.Habit) bool {
		if !h.IsPublic() {
			return false
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(h.Title), strings.ToLower(filter.Search)) {
			return false
		}
		if filter.Category != "" && filter.Category != "all" && !strings.EqualFold(h.Category, filter.Category) {
			return false
		}
		return true
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeHabitRepo) Update(ctx context.Context, h *model.Habit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.habits[h.ID]
	if !ok {
		return repository.ErrHabitNotFound
	}
	history := stored.CompletionHistory
	c := *h
	c.CompletionHistory = history
	r.habits[h.ID] = &c
	return nil
}

func (r *fakeHabitRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.habits[id]; !ok {
		return repository.ErrHabitNotFound
	}
	delete(r.habits, id)
	return nil
}

func (r *fakeHabitRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, h := range r.habits {
		if h.UserID == userID {
			delete(r.habits, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeHabitRepo) AddCompletion(ctx context.Context, c *model.HabitCompletion) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completedOn[c.HabitID][c.CompletedOn] {
		return false, nil
	}
	r.completedOn[c.HabitID][c.CompletedOn] = true
	h := r.habits[c.HabitID]
	h.CompletionHistory = append(h.CompletionHistory, c.CompletedAt)
	return true, nil
}

type recordingRecorder struct {
	mu        sync.Mutex
	created   int
	deleted   int
	completed int
	rejected  map[string]int
}

func (r *recordingRecorder) RecordHabitCreated()      { r.mu.Lock(); r.created++; r.mu.Unlock() }
func (r *recordingRecorder) RecordHabitDeleted(n int) { r.mu.Lock(); r.deleted += n; r.mu.Unlock() }
func (r *recordingRecorder) RecordCompletion()        { r.mu.Lock(); r.completed++; r.mu.Unlock() }
func (r *recordingRecorder) RecordCompletionRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejected == nil {
		r.rejected = make(map[string]int)
	}
	r.rejected[reason]++
}

// --- ヘルパー ---

const (
	ownerID   = "user-owner"
	otherID   = "user-other"
	habitID   = "11111111-1111-1111-1111-111111111111"
	privateID = "22222222-2222-2222-2222-222222222222"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(repo *fakeHabitRepo, rec *recordingRecorder, now *time.Time) *Service {
	return NewService(repo, security.NewURLGuard(), security.NewSanitizer(), rec, Config{
		Location: time.UTC,
		Now:      func() time.Time { return *now },
	})
}

func day(offset int, hour int) time.Time {
	return time.Date(2026, 3, 10+offset, hour, 0, 0, 0, time.UTC)
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %s, want %s", apiErr.Code, code)
	}
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

// --- テスト ---

func TestService_Create(t *testing.T) {
	repo := newFakeHabitRepo()
	rec := &recordingRecorder{}
	now := fixedNow
	svc := newTestService(repo, rec, &now)

	v, err := svc.Create(context.Background(), ownerID, CreateInput{
		Title:        "  <b>Morning Run</b> ",
		Description:  "5km around the park",
		Category:     "Health",
		ReminderTime: "06:30",
		Image:        "https://images.example.com/run.png",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if v.Habit.Title != "Morning Run" {
		t.Errorf("Title = %q, want sanitized %q", v.Habit.Title, "Morning Run")
	}
	if v.Habit.Visibility != model.VisibilityPublic {
		t.Errorf("Visibility = %s, want public by default", v.Habit.Visibility)
	}
	if v.Streak != 0 || v.CompletedToday {
		t.Errorf("new habit streak=%d completedToday=%v, want 0/false", v.Streak, v.CompletedToday)
	}
	if len(v.Habit.CompletionHistory) != 0 {
		t.Errorf("new habit history len = %d, want 0", len(v.Habit.CompletionHistory))
	}
	if v.Habit.OwnerName == "" {
		t.Error("expected owner display info to be loaded")
	}
	if rec.created != 1 {
		t.Errorf("created metric = %d, want 1", rec.created)
	}
}

func TestService_Create_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
		code string
	}{
		{name: "タイトルなし", in: CreateInput{Description: "d", Category: "c"}, code: model.ErrCodeInvalidHabit},
		{name: "タグのみのタイトル", in: CreateInput{Title: "<script>x</script>", Description: "d", Category: "c"}, code: model.ErrCodeInvalidHabit},
		{name: "説明なし", in: CreateInput{Title: "t", Category: "c"}, code: model.ErrCodeInvalidHabit},
		{name: "カテゴリなし", in: CreateInput{Title: "t", Description: "d"}, code: model.ErrCodeInvalidHabit},
		{name: "タイトルが長すぎる", in: CreateInput{Title: strings.Repeat("あ", MaxTitleLength+1), Description: "d", Category: "c"}, code: model.ErrCodeInvalidHabit},
		{name: "リマインダー形式不正", in: CreateInput{Title: "t", Description: "d", Category: "c", ReminderTime: "7:30"}, code: model.ErrCodeInvalidHabit},
		{name: "リマインダー範囲外", in: CreateInput{Title: "t", Description: "d", Category: "c", ReminderTime: "24:00"}, code: model.ErrCodeInvalidHabit},
		{name: "画像URLがプライベートIP", in: CreateInput{Title: "t", Description: "d", Category: "c", Image: "http://10.0.0.1/a.png"}, code: model.ErrCodeInvalidImageURL},
		{name: "画像URLがjavascript", in: CreateInput{Title: "t", Description: "d", Category: "c", Image: "javascript:alert(1)"}, code: model.ErrCodeInvalidImageURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := fixedNow
			svc := newTestService(newFakeHabitRepo(), &recordingRecorder{}, &now)
			_, err := svc.Create(context.Background(), ownerID, tt.in)
			assertAPIErrorCode(t, err, tt.code)
		})
	}
}

func TestService_Create_Private(t *testing.T) {
	now := fixedNow
	svc := newTestService(newFakeHabitRepo(), &recordingRecorder{}, &now)

	v, err := svc.Create(context.Background(), ownerID, CreateInput{
		Title: "Journal", Description: "d", Category: "Mindfulness", Public: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if v.Habit.Visibility != model.VisibilityPrivate {
		t.Errorf("Visibility = %s, want private", v.Habit.Visibility)
	}
}

func TestService_Get_Visibility(t *testing.T) {
	repo := newFakeHabitRepo()
	repo.put(&model.Habit{ID: habitID, UserID: ownerID, Title: "Public", Visibility: model.VisibilityPublic, CreatedAt: fixedNow})
	repo.put(&model.Habit{ID: privateID, UserID: ownerID, Title: "Private", Visibility: model.VisibilityPrivate, CreatedAt: fixedNow})
	now := fixedNow
	svc := newTestService(repo, &recordingRecorder{}, &now)
	ctx := context.Background()

	if _, err := svc.Get(ctx, otherID, habitID); err != nil {
		t.Errorf("public habit should be visible to others: %v", err)
	}
	if _, err := svc.Get(ctx, ownerID, privateID); err != nil {
		t.Errorf("private habit should be visible to owner: %v", err)
	}

	_, err := svc.Get(ctx, otherID, privateID)
	assertAPIErrorCode(t, err, model.ErrCodeHabitNotFound)

	_, err = svc.Get(ctx, ownerID, "not-a-uuid")
	assertAPIErrorCode(t, err, model.ErrCodeHabitNotFound)

	_, err = svc.Get(ctx, ownerID, "33333333-3333-3333-3333-333333333333")
	assertAPIErrorCode(t, err, model.ErrCodeHabitNotFound)
}

func TestService_Get_RepositoryError(t *testing.T) {
	repo := newFakeHabitRepo()
	repo.findErr = errors.New("connection refused")
	now := fixedNow
	svc := newTestService(repo, &recordingRecorder{}, &now)

	_, err := svc.Get(context.Background(), ownerID, habitID)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("repository error should not be an APIError, got %v", apiErr)
	}
}

func TestService_Complete_Scenario(t *testing.T) {
	repo := newFakeHabitRepo()
	rec := &recordingRecorder{}
	repo.put(&model.Habit{ID: habitID, UserID: ownerID, Title: "Read", Visibility: model.VisibilityPublic, CreatedAt: day(-10, 0)})
	now := day(0, 9)
	svc := newTestService(repo, rec, &now)
	ctx := context.Background()

	// 1日目: 完了 → streak 1
	v, err := svc.Complete(ctx, ownerID, habitID)
	if err != nil {
		t.Fatalf("Complete() day1 error = %v", err)
	}
	if v.Streak != 1 || !v.CompletedToday {
		t.Errorf("day1 streak=%d completedToday=%v, want 1/true", v.Streak, v.CompletedToday)
	}

	// 同日2回目 → ALREADY_COMPLETED_TODAY、履歴は変わらない
	now = day(0, 21)
	_, err = svc.Complete(ctx, ownerID, habitID)
	assertAPIErrorCode(t, err, model.ErrCodeAlreadyCompletedToday)
	got, _ := svc.Get(ctx, ownerID, habitID)
	if len(got.Habit.CompletionHistory) != 1 {
		t.Errorf("history len after rejected completion = %d, want 1", len(got.Habit.CompletionHistory))
	}

	// 2日目 → streak 2
	now = day(1, 8)
	v, err = svc.Complete(ctx, ownerID, habitID)
	if err != nil {
		t.Fatalf("Complete() day2 error = %v", err)
	}
	if v.Streak != 2 {
		t.Errorf("day2 streak = %d, want 2", v.Streak)
	}

	// 4日目（3日目は未完了）→ streak 1
	now = day(3, 8)
	v, err = svc.Complete(ctx, ownerID, habitID)
	if err != nil {
		t.Fatalf("Complete() day4 error = %v", err)
	}
	if v.Streak != 1 {
		t.Errorf("streak after gap = %d, want 1", v.Streak)
	}

	if rec.completed != 3 {
		t.Errorf("completions metric = %d, want 3", rec.completed)
	}
	if rec.rejected["already_completed"] != 1 {
		t.Errorf("already_completed rejections = %d, want 1", rec.rejected["already_completed"])
	}
}

func TestService_Complete_Ownership(t *testing.T) {
	repo := newFakeHabitRepo()
	rec := &recordingRecorder{}
	repo.put(&model.Habit{ID: habitID, UserID: ownerID, Visibility: model.VisibilityPublic, CreatedAt: fixedNow})
	repo.put(&model.Habit{ID: privateID, UserID: ownerID, Visibility: model.VisibilityPrivate, CreatedAt: fixedNow})
	now := fixedNow
	svc := newTestService(repo, rec, &now)

	_, err := svc.Complete(context.Background(), otherID, habitID)
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)

	_, err = svc.Complete(context.Background(), otherID, privateID)
	assertAPIErrorCode(t, err, model.ErrCodeHabitNotFound)

	if rec.rejected["forbidden"] != 1 || rec.rejected["not_found"] != 1 {
		t.Errorf("rejections = %v, want forbidden=1 not_found=1", rec.rejected)
	}
}

// TestService_Complete_Concurrent は同時に届いた完了リクエストのうち1件だけが記録されることを検証する。
func TestService_Complete_Concurrent(t *testing.T) {
	repo := newFakeHabitRepo()
	repo.put(&model.Habit{ID: habitID, UserID: ownerID, Visibility: model.VisibilityPublic, CreatedAt: fixedNow})
	now := fixedNow
	svc := newTestService(repo, &recordingRecorder{}, &now)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Complete(context.Background(), ownerID, habitID)
			mu.Lock()
			defer mu.Unlock()
			var apiErr *model.APIError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeAlreadyCompletedToday:
				rejected++
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != workers-1 {
		t.Errorf("succeeded=%d rejected=%d, want 1/%d", succeeded, rejected, workers-1)
	}
	got, _ := svc.Get(context.Background(), ownerID, habitID)
	if len(got.Habit.CompletionHistory) != 1 {
		t.Errorf("history len = %d, want 1", len(got.Habit.CompletionHistory))
	}
}

func TestService_Update(t *testing.T) {
	repo := newFakeHabitRepo()
	history := []time.Time{day(-1, 7)}
	repo.put(&model.Habit{
		ID: habitID, UserID: ownerID, Title: "Read", Description: "d", Category: "Learning",
		Visibility: model.VisibilityPublic, CompletionHistory: history, CreatedAt: day(-5, 0), UpdatedAt: day(-5, 0),
	})
	now := fixedNow
	svc := newTestService(repo, &recordingRecorder{}, &now)

	v, err := svc.Update(context.Background(), ownerID, habitID, model.HabitPatch{
		Title:  strPtr("Read more"),
		Public: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if v.Habit.Title != "Read more" || v.Habit.Visibility != model.VisibilityPrivate {
		t.Errorf("got title=%q visibility=%s", v.Habit.Title, v.Habit.Visibility)
	}
	if v.Habit.Category != "Learning" {
		t.Errorf("unpatched Category changed to %q", v.Habit.Category)
	}
	if !v.Habit.UpdatedAt.Equal(fixedNow) {
		t.Errorf("UpdatedAt = %v, want %v", v.Habit.UpdatedAt, fixedNow)
	}
	if v.Streak != 1 {
		t.Errorf("Streak = %d, want 1 (history untouched)", v.Streak)
	}

	stored, _ := repo.FindByID(context.Background(), habitID)
	if len(stored.CompletionHistory) != 1 {
		t.Errorf("stored history len = %d, want 1", len(stored.CompletionHistory))
	}
}

func TestService_Update_InvalidLeavesHabitUnchanged(t *testing.T) {
	repo := newFakeHabitRepo()
	repo.put(&model.Habit{ID: habitID, UserID: ownerID, Title: "Read", Description: "d", Category: "c", Visibility: model.VisibilityPublic})
	now := fixedNow
	svc := newTestService(repo, &recordingRecorder{}, &now)

	_, err := svc.Update(context.Background(), ownerID, habitID, model.HabitPatch{
		Title:        strPtr("New"),
		ReminderTime: strPtr("25:00"),
	})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidHabit)

	stored, _ := repo.FindByID(context.Background(), habitID)
	if stored.Title != "Read" {
		t.Errorf("Title = %q, want unchanged %q", stored.Title, "Read")
	}

	_, err = svc.Update(context.Background(), otherID, habitID, model.HabitPatch{Title: strPtr("x")})
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)
}

func TestService_Delete(t *testing.T) {
	repo := newFakeHabitRepo()
	rec := &recordingRecorder{}
	repo.put(&model.Habit{ID: habitID, UserID: ownerID, Visibility: model.VisibilityPublic})
	now := fixedNow
	svc := newTestService(repo, rec, &now)

	err := svc.Delete(context.Background(), otherID, habitID)
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)

	if err := svc.Delete(context.Background(), ownerID, habitID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, err = svc.Get(context.Background(), ownerID, habitID)
	assertAPIErrorCode(t, err, model.ErrCodeHabitNotFound)
	if rec.deleted != 1 {
		t.Errorf("deleted metric = %d, want 1", rec.deleted)
	}
}

func TestService_DeleteAllMine(t *testing.T) {
	repo := newFakeHabitRepo()
	repo.put(&model.Habit{ID: "a", UserID: ownerID})
	repo.put(&model.Habit{ID: "b", UserID: ownerID})
	repo.put(&model.Habit{ID: "c", UserID: otherID})
	now := fixedNow
	svc := newTestService(repo, &recordingRecorder{}, &now)

	n, err := svc.DeleteAllMine(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("DeleteAllMine() error = %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	others, _ := svc.ListMine(context.Background(), otherID)
	if len(others) != 1 {
		t.Errorf("other user's habits = %d, want 1", len(others))
	}
}

func TestService_ListFeatured_OrderedByStreak(t *testing.T) {
	repo := newFakeHabitRepo()
	repo.put(&model.Habit{ID: "none", UserID: ownerID, Visibility: model.VisibilityPublic, CreatedAt: day(-1, 0)})
	repo.put(&model.Habit{ID: "three", UserID: ownerID, Visibility: model.VisibilityPublic, CreatedAt: day(-9, 0),
		CompletionHistory: []time.Time{day(-2, 8), day(-1, 8), day(0, 8)}})
	repo.put(&model.Habit{ID: "one-old", UserID: otherID, Visibility: model.VisibilityPublic, CreatedAt: day(-8, 0),
		CompletionHistory: []time.Time{day(0, 7)}})
	repo.put(&model.Habit{ID: "one-new", UserID: otherID, Visibility: model.VisibilityPublic, CreatedAt: day(-3, 0),
		CompletionHistory: []time.Time{day(-1, 7)}})
	repo.put(&model.Habit{ID: "hidden", UserID: otherID, Visibility: model.VisibilityPrivate, CreatedAt: day(-2, 0),
		CompletionHistory: []time.Time{day(-3, 7), day(-2, 7), day(-1, 7), day(0, 7)}})

	now := day(0, 12)
	svc := NewService(repo, security.NewURLGuard(), security.NewSanitizer(), nil, Config{
		Now:           func() time.Time { return now },
		FeaturedLimit: 3,
	})

	views, err := svc.ListFeatured(context.Background())
	if err != nil {
		t.Fatalf("ListFeatured() error = %v", err)
	}
	var ids []string
	for _, v := range views {
		ids = append(ids, v.Habit.ID)
	}
	want := []string{"three", "one-new", "one-old"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("featured = %v, want %v", ids, want)
	}
}

func TestService_ListPublic_Filter(t *testing.T) {
	repo := newFakeHabitRepo()
	repo.put(&model.Habit{ID: "a", UserID: ownerID, Title: "Morning Run", Category: "Health", Visibility: model.VisibilityPublic})
	repo.put(&model.Habit{ID: "b", UserID: ownerID, Title: "Evening run", Category: "Fitness", Visibility: model.VisibilityPublic})
	repo.put(&model.Habit{ID: "c", UserID: ownerID, Title: "Read", Category: "Health", Visibility: model.VisibilityPublic})
	now := fixedNow
	svc := newTestService(repo, &recordingRecorder{}, &now)

	views, err := svc.ListPublic(context.Background(), model.HabitFilter{Search: "RUN", Category: "health"})
	if err != nil {
		t.Fatalf("ListPublic() error = %v", err)
	}
	if len(views) != 1 || views[0].Habit.ID != "a" {
		t.Errorf("filtered = %+v, want only habit a", views)
	}
}

func TestService_ListRecent_Limit(t *testing.T) {
	repo := newFakeHabitRepo()
	for i := 0; i < 7; i++ {
		repo.put(&model.Habit{ID: string(rune('a' + i)), UserID: ownerID, CreatedAt: day(-i, 0)})
	}
	now := fixedNow
	svc := newTestService(repo, &recordingRecorder{}, &now)

	views, err := svc.ListRecent(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(views) != DefaultRecentLimit {
		t.Fatalf("len = %d, want %d", len(views), DefaultRecentLimit)
	}
	if views[0].Habit.ID != "a" {
		t.Errorf("first = %s, want newest a", views[0].Habit.ID)
	}
}
