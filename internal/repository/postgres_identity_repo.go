package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/habitloop/internal/model"
)

const identityColumns = `id, user_id, provider, provider_user_id, created_at`

func scanIdentity(s rowScanner) (*model.Identity, error) {
	i := &model.Identity{}
	if err := s.Scan(&i.ID, &i.UserID, &i.Provider, &i.ProviderUserID, &i.CreatedAt); err != nil {
		return nil, err
	}
	return i, nil
}

// PostgresIdentityRepo はIdPのsubとユーザーの対応をPostgreSQLで管理する。
type PostgresIdentityRepo struct {
	db *sql.DB
}

func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID は(provider, sub)に一致するidentityを返す。
// 未登録の場合はnil, nil。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find identity for %s: %w", provider, err)
	}
	return identity, nil
}

// ListByUserID はユーザーのidentityを登録順に返す。
func (r *PostgresIdentityRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*model.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
