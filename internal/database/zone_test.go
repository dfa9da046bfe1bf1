package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var completionZoneQuery = regexp.QuoteMeta("AT TIME ZONE $1::text")

func TestCheckCompletionZone(t *testing.T) {
	tests := []struct {
		name       string
		mismatched int64
		wantErr    bool
	}{
		{"一致", 0, false},
		{"タイムゾーン変更後", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(completionZoneQuery).
				WithArgs("Asia/Tokyo", mismatchSampleLimit).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.mismatched))

			err = CheckCompletionZone(context.Background(), db, "Asia/Tokyo")
			if !tt.wantErr {
				assert.NoError(t, err)
			} else {
				var mismatch *CompletionZoneError
				require.True(t, errors.As(err, &mismatch), "err = %v", err)
				assert.Equal(t, "Asia/Tokyo", mismatch.Zone)
				assert.Equal(t, tt.mismatched, mismatch.Rows)
				assert.Contains(t, err.Error(), "APP_TIMEZONE")
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCheckCompletionZone_SkipsLocal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, CheckCompletionZone(context.Background(), db, "Local"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckCompletionZone_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(completionZoneQuery).WillReturnError(errors.New("unknown time zone"))

	err = CheckCompletionZone(context.Background(), db, "Mars/Olympus")
	require.Error(t, err)
	var mismatch *CompletionZoneError
	assert.False(t, errors.As(err, &mismatch))
}
