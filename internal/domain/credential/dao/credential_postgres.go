package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/vadim/neo-publisher/internal/database"
	"github.com/vadim/neo-publisher/internal/domain/credential/entity"
)

// CredentialPostgres implements CredentialRepository on the social_accounts table
type CredentialPostgres struct {
	pool database.Querier
}

// NewCredentialPostgres creates a new PostgreSQL credential repository
func NewCredentialPostgres(pool database.Querier) *CredentialPostgres {
	return &CredentialPostgres{pool: pool}
}

// GetCredentials retrieves all connected accounts of a user on a platform
func (r *CredentialPostgres) GetCredentials(ctx context.Context, userID string, platform entity.Platform) ([]entity.AccountCredential, error) {
	query := `
		SELECT account_id, access_token, refresh_token, secret, username, expires_at
		FROM social_accounts
		WHERE user_id = $1 AND platform = $2 AND disconnected_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, userID, string(platform))
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []entity.AccountCredential
	for rows.Next() {
		var c entity.AccountCredential
		var refreshToken, secret, username *string
		var expiresAt *time.Time

		if err := rows.Scan(&c.AccountID, &c.AccessToken, &refreshToken, &secret, &username, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}

		if refreshToken != nil {
			c.RefreshToken = *refreshToken
		}
		if secret != nil {
			c.Secret = *secret
		}
		if username != nil {
			c.Username = *username
		}
		c.ExpiresAt = expiresAt

		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}

	return creds, nil
}

// PutCredentials writes refreshed token fields back to one account
func (r *CredentialPostgres) PutCredentials(ctx context.Context, userID string, platform entity.Platform, accountID string, upd entity.CredentialUpdate) error {
	query := `
		UPDATE social_accounts
		SET access_token = $4,
		    refresh_token = COALESCE(NULLIF($5, ''), refresh_token),
		    expires_at = COALESCE($6, expires_at),
		    updated_at = $7
		WHERE user_id = $1 AND platform = $2 AND account_id = $3
	`

	tag, err := r.pool.Exec(ctx, query, userID, string(platform), accountID, upd.AccessToken, upd.RefreshToken, upd.ExpiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrCredentialNotFound
	}

	return nil
}
