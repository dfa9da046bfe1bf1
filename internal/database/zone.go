package database

import (
	"context"
	"database/sql"
	"fmt"
)

// mismatchSampleLimit はCheckCompletionZoneが数える不一致行の上限。
const mismatchSampleLimit = 100

// CompletionZoneError は保存済みの暦日キーが現在のタイムゾーンと食い違うことを示す。
type CompletionZoneError struct {
	Zone string
	// Rows は不一致行の件数。mismatchSampleLimitで打ち切る。
	Rows int64
}

func (e *CompletionZoneError) Error() string {
	return fmt.Sprintf("habit_completions.completed_on was recorded in a different timezone than APP_TIMEZONE=%q (%d+ rows); "+
		"restore the previous APP_TIMEZONE", e.Zone, e.Rows)
}

// CheckCompletionZone はcompleted_onがcompleted_atをzoneで暦日に変換した値と一致するかを確認する。
// completed_onは一意制約のキーのため、データ作成後にAPP_TIMEZONEを変えると
// 同じ日の完了が二重に記録されうる。不一致があれば*CompletionZoneErrorを返す。
// "Local"はPostgreSQL側で解決できないため確認しない。
func CheckCompletionZone(ctx context.Context, db *sql.DB, zone string) error {
	if zone == "" || zone == "Local" {
		return nil
	}

	var rows int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (
		   SELECT 1 FROM habit_completions
		   WHERE completed_on <> (completed_at AT TIME ZONE $1::text)::date
		   LIMIT $2
		 ) AS mismatched`,
		zone, mismatchSampleLimit,
	).Scan(&rows)
	if err != nil {
		return fmt.Errorf("failed to check completion timezone: %w", err)
	}
	if rows > 0 {
		return &CompletionZoneError{Zone: zone, Rows: rows}
	}
	return nil
}
