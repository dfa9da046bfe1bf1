package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/habitloop/internal/model"
)

// ErrHabitNotFound は更新・削除対象の習慣が存在しない場合に返される。
var ErrHabitNotFound = errors.New("habit not found")

// habitColumns は所有者情報をJOINした習慣の取得カラム。scanHabitと順序を一致させる。
const habitColumns = `h.id, h.user_id, h.title, h.description, h.category, h.reminder_time,
	h.image, h.visibility, h.created_at, h.updated_at, u.name, u.email`

// PostgresHabitRepo はPostgreSQLを使用した習慣リポジトリ。
type PostgresHabitRepo struct {
	db *sql.DB
}

// NewPostgresHabitRepo はPostgresHabitRepoを生成する。
func NewPostgresHabitRepo(db *sql.DB) *PostgresHabitRepo {
	return &PostgresHabitRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(s rowScanner) (*model.Habit, error) {
	h := &model.Habit{}
	var visibility string
	if err := s.Scan(
		&h.ID, &h.UserID, &h.Title, &h.Description, &h.Category, &h.ReminderTime,
		&h.Image, &visibility, &h.CreatedAt, &h.UpdatedAt, &h.OwnerName, &h.OwnerEmail,
	); err != nil {
		return nil, err
	}
	h.Visibility = model.Visibility(visibility)
	return h, nil
}

// Create は習慣を作成する。
func (r *PostgresHabitRepo) Create(ctx context.Context, habit *model.Habit) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO habits (id, user_id, title, description, category, reminder_time, image, visibility, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		habit.ID, habit.UserID, habit.Title, habit.Description, habit.Category,
		habit.ReminderTime, habit.Image, string(habit.Visibility), habit.CreatedAt, habit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("習慣の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの習慣を完了履歴付きで取得する。見つからない場合はnilを返す。
func (r *PostgresHabitRepo) FindByID(ctx context.Context, id string) (*model.Habit, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+habitColumns+`
		 FROM habits h
		 INNER JOIN users u ON u.id = h.user_id
		 WHERE h.id = $1`,
		id,
	)
	habit, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("習慣の取得に失敗しました: %w", err)
	}

	if err := r.loadHistories(ctx, []*model.Habit{habit}); err != nil {
		return nil, err
	}
	return habit, nil
}

// ListByUserID はユーザーの習慣一覧をcreated_at降順で返す。
func (r *PostgresHabitRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Habit, error) {
	return r.queryHabits(ctx,
		`SELECT `+habitColumns+`
		 FROM habits h
		 INNER JOIN users u ON u.id = h.user_id
		 WHERE h.user_id = $1
		 ORDER BY h.created_at DESC`,
		userID,
	)
}

// ListPublic は公開習慣をcreated_at降順で最大limit件返す。
func (r *PostgresHabitRepo) ListPublic(ctx context.Context, filter model.HabitFilter, limit int) ([]*model.Habit, error) {
	var (
		conditions = []string{"h.visibility = 'public'"}
		args       []any
	)

	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		conditions = append(conditions, fmt.Sprintf(`h.title ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if category := strings.TrimSpace(filter.Category); category != "" && !strings.EqualFold(category, "all") {
		args = append(args, category)
		conditions = append(conditions, fmt.Sprintf("lower(h.category) = lower($%d)", len(args)))
	}

	args = append(args, limit)
	query := `SELECT ` + habitColumns + `
		 FROM habits h
		 INNER JOIN users u ON u.id = h.user_id
		 WHERE ` + strings.Join(conditions, " AND ") + `
		 ORDER BY h.created_at DESC
		 LIMIT $` + fmt.Sprint(len(args))

	return r.queryHabits(ctx, query, args...)
}

// Update は習慣の編集可能フィールドとupdated_atを更新する。
func (r *PostgresHabitRepo) Update(ctx context.Context, habit *model.Habit) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE habits
		 SET title = $1, description = $2, category = $3, reminder_time = $4,
		     image = $5, visibility = $6, updated_at = $7
		 WHERE id = $8`,
		habit.Title, habit.Description, habit.Category, habit.ReminderTime,
		habit.Image, string(habit.Visibility), habit.UpdatedAt, habit.ID,
	)
	if err != nil {
		return fmt.Errorf("習慣の更新に失敗しました: %w", err)
	}
	return requireRowsAffected(result, ErrHabitNotFound, habit.ID)
}

// Delete は指定IDの習慣を削除する。
func (r *PostgresHabitRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM habits WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("習慣の削除に失敗しました: %w", err)
	}
	return requireRowsAffected(result, ErrHabitNotFound, id)
}

// DeleteByUserID はユーザーの全習慣を削除し、削除件数を返す。
func (r *PostgresHabitRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM habits WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("ユーザーの習慣一括削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// AddCompletion は完了記録を追加する。
// (habit_id, completed_on) の一意制約に衝突した場合は挿入せずfalseを返すため、
// 同時に到着した完了リクエストのうち記録されるのは1件だけになる。
func (r *PostgresHabitRepo) AddCompletion(ctx context.Context, c *model.HabitCompletion) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO habit_completions (id, habit_id, completed_at, completed_on)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (habit_id, completed_on) DO NOTHING`,
		c.ID, c.HabitID, c.CompletedAt, c.CompletedOn,
	)
	if err != nil {
		return false, fmt.Errorf("完了記録の追加に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// queryHabits は習慣一覧を取得し、完了履歴をまとめて読み込む。
func (r *PostgresHabitRepo) queryHabits(ctx context.Context, query string, args ...any) ([]*model.Habit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("習慣一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	habits := make([]*model.Habit, 0)
	for rows.Next() {
		habit, err := scanHabit(rows)
		if err != nil {
			return nil, fmt.Errorf("習慣の読み取りに失敗しました: %w", err)
		}
		habits = append(habits, habit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("習慣一覧の走査に失敗しました: %w", err)
	}

	if err := r.loadHistories(ctx, habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// loadHistories は複数習慣の完了履歴を1クエリで取得し、時系列順に各習慣へ設定する。
func (r *PostgresHabitRepo) loadHistories(ctx context.Context, habits []*model.Habit) error {
	if len(habits) == 0 {
		return nil
	}

	ids := make([]string, len(habits))
	byID := make(map[string]*model.Habit, len(habits))
	for i, h := range habits {
		ids[i] = h.ID
		byID[h.ID] = h
		h.CompletionHistory = []time.Time{}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT habit_id, completed_at
		 FROM habit_completions
		 WHERE habit_id = ANY($1::uuid[])
		 ORDER BY habit_id, completed_at ASC`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("完了履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			habitID     string
			completedAt time.Time
		)
		if err := rows.Scan(&habitID, &completedAt); err != nil {
			return fmt.Errorf("完了履歴の読み取りに失敗しました: %w", err)
		}
		if h, ok := byID[habitID]; ok {
			h.CompletionHistory = append(h.CompletionHistory, completedAt)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("完了履歴の走査に失敗しました: %w", err)
	}
	return nil
}

// requireRowsAffected は対象行が存在しなかった場合にnotFoundをラップして返す。
func requireRowsAffected(result sql.Result, notFound error, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}

// escapeLike はLIKEパターンのワイルドカード文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// compile-time interface check
var _ HabitRepository = (*PostgresHabitRepo)(nil)
