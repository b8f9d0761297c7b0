package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/dao"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

// Service handles business logic for posts
type Service struct {
	posts dao.PostRepository
	now   func() time.Time
}

// New creates a new post service
func New(posts dao.PostRepository) *Service {
	return &Service{
		posts: posts,
		now:   time.Now,
	}
}

// CreateInput represents input for creating a post
type CreateInput struct {
	UserID      string
	VideoURL    string
	Caption     string
	Platforms   []credential.Platform
	Accounts    map[credential.Platform][]credential.AccountCredential
	ScheduledAt *time.Time
}

// CreatePost creates a new pending post, scheduled if ScheduledAt is set
func (s *Service) CreatePost(ctx context.Context, in CreateInput) (*entity.Post, error) {
	now := s.now()

	post := &entity.Post{
		ID:          uuid.New().String(),
		UserID:      in.UserID,
		VideoURL:    in.VideoURL,
		Caption:     in.Caption,
		Platforms:   in.Platforms,
		Accounts:    in.Accounts,
		Scheduled:   in.ScheduledAt != nil,
		ScheduledAt: in.ScheduledAt,
		Status:      entity.PostStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := post.ValidateForCreate(now); err != nil {
		return nil, err
	}

	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}

	return post, nil
}

// GetPost retrieves a post by ID
func (s *Service) GetPost(ctx context.Context, id string) (*entity.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, entity.ErrPostNotFound
	}
	return post, nil
}

// GetDuePosts retrieves scheduled posts due at now
func (s *Service) GetDuePosts(ctx context.Context, now time.Time) ([]entity.Post, error) {
	return s.posts.FindDue(ctx, now)
}

// Claim marks a pending post as processing. Returns false if another
// dispatch got there first.
func (s *Service) Claim(ctx context.Context, id string) (bool, error) {
	return s.posts.ClaimForProcessing(ctx, id)
}

// MarkCompleted marks a post as completed, keeping a summary of partial failures
func (s *Service) MarkCompleted(ctx context.Context, id, summary string) error {
	if err := s.posts.UpdateStatus(ctx, id, entity.PostStatusCompleted, summary); err != nil {
		return fmt.Errorf("marking post completed: %w", err)
	}
	return nil
}

// MarkFailed marks a post as failed
func (s *Service) MarkFailed(ctx context.Context, id, errorMsg string) error {
	if err := s.posts.UpdateStatus(ctx, id, entity.PostStatusFailed, errorMsg); err != nil {
		return fmt.Errorf("marking post failed: %w", err)
	}
	return nil
}

// CountCreatedSince counts posts a user created since the given time
func (s *Service) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return s.posts.CountCreatedSince(ctx, userID, since)
}
