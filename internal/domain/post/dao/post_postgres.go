package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vadim/neo-publisher/internal/database"
	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

const postColumns = `id, user_id, video_url, caption, platforms, accounts, scheduled,
	       scheduled_at, status, error_message, processed_at, created_at, updated_at`

// PostPostgres implements PostRepository for PostgreSQL
type PostPostgres struct {
	pool database.Querier
}

// NewPostPostgres creates a new PostgreSQL post repository
func NewPostPostgres(pool database.Querier) *PostPostgres {
	return &PostPostgres{pool: pool}
}

// Create inserts a new post
func (r *PostPostgres) Create(ctx context.Context, post *entity.Post) error {
	query := `
		INSERT INTO posts (id, user_id, video_url, caption, platforms, accounts, scheduled,
		                   scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	accounts, err := json.Marshal(post.Accounts)
	if err != nil {
		return fmt.Errorf("encoding accounts: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		post.ID,
		post.UserID,
		post.VideoURL,
		post.Caption,
		platformsToStrings(post.Platforms),
		accounts,
		post.Scheduled,
		post.ScheduledAt,
		string(post.Status),
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}

	return nil
}

// GetByID retrieves a post by ID
func (r *PostPostgres) GetByID(ctx context.Context, id string) (*entity.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return post, nil
}

// FindDue retrieves scheduled posts that are due for dispatch
func (r *PostPostgres) FindDue(ctx context.Context, now time.Time) ([]entity.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE scheduled = TRUE AND status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("querying due posts: %w", err)
	}
	defer rows.Close()

	var posts []entity.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due posts: %w", err)
	}

	return posts, nil
}

// ClaimForProcessing moves a pending post to processing
func (r *PostPostgres) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE posts
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return false, fmt.Errorf("claiming post: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// UpdateStatus updates the status and error message
func (r *PostPostgres) UpdateStatus(ctx context.Context, id string, status entity.PostStatus, errorDetail string) error {
	query := `
		UPDATE posts
		SET status = $2, error_message = $3, processed_at = $4, updated_at = $5
		WHERE id = $1
	`

	var errPtr *string
	if errorDetail != "" {
		errPtr = &errorDetail
	}

	now := time.Now()
	var processedAt *time.Time
	if status == entity.PostStatusCompleted || status == entity.PostStatusFailed {
		processedAt = &now
	}

	_, err := r.pool.Exec(ctx, query, id, string(status), errPtr, processedAt, now)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}

	return nil
}

// CountCreatedSince counts posts a user created since the given time
func (r *PostPostgres) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM posts WHERE user_id = $1 AND created_at >= $2`

	var count int64
	if err := r.pool.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting posts: %w", err)
	}

	return count, nil
}

func scanPost(row pgx.Row) (*entity.Post, error) {
	var post entity.Post
	var platforms []string
	var accounts []byte
	var status string
	var errorMessage *string

	err := row.Scan(
		&post.ID,
		&post.UserID,
		&post.VideoURL,
		&post.Caption,
		&platforms,
		&accounts,
		&post.Scheduled,
		&post.ScheduledAt,
		&status,
		&errorMessage,
		&post.ProcessedAt,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning post: %w", err)
	}

	post.Status = entity.PostStatus(status)
	if errorMessage != nil {
		post.ErrorMessage = *errorMessage
	}
	for _, p := range platforms {
		post.Platforms = append(post.Platforms, credential.Platform(p))
	}
	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &post.Accounts); err != nil {
			return nil, fmt.Errorf("decoding accounts: %w", err)
		}
	}

	return &post, nil
}

func platformsToStrings(platforms []credential.Platform) []string {
	out := make([]string, len(platforms))
	for i, p := range platforms {
		out[i] = string(p)
	}
	return out
}
