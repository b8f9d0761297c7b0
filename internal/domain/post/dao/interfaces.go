package dao

import (
	"context"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// PostRepository defines the interface for post data access
type PostRepository interface {
	// Create inserts a new post
	Create(ctx context.Context, post *entity.Post) error

	// GetByID retrieves a post by its ID, nil if it does not exist
	GetByID(ctx context.Context, id string) (*entity.Post, error)

	// FindDue retrieves scheduled pending posts with scheduled_at <= now
	FindDue(ctx context.Context, now time.Time) ([]entity.Post, error)

	// ClaimForProcessing atomically moves a post from pending to processing.
	// Returns false if the post was not pending.
	ClaimForProcessing(ctx context.Context, id string) (bool, error)

	// UpdateStatus sets the status and the error annotation
	UpdateStatus(ctx context.Context, id string, status entity.PostStatus, errorDetail string) error

	// CountCreatedSince counts posts a user created at or after since
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error)
}
