package dao

import (
	"context"

	"github.com/vadim/neo-publisher/internal/domain/credential/entity"
)

// CredentialRepository defines the interface for account credential data access
type CredentialRepository interface {
	// GetCredentials returns the stored accounts of a user on a platform, in
	// the order they were connected. An empty slice means none are stored.
	GetCredentials(ctx context.Context, userID string, platform entity.Platform) ([]entity.AccountCredential, error)

	// PutCredentials updates the token fields of one stored account.
	// Returns entity.ErrCredentialNotFound if no such account is stored.
	PutCredentials(ctx context.Context, userID string, platform entity.Platform, accountID string, upd entity.CredentialUpdate) error
}
