package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/service"
	"github.com/vadim/neo-publisher/internal/retry"
)

// Publisher publishes a post to one account of a platform.
// Implementations return entity.ErrAuthExpired when the access token is rejected.
type Publisher interface {
	Publish(ctx context.Context, req entity.PublishRequest) (*entity.AttemptResult, error)
}

// Refresher exchanges a refresh token for a new credential
type Refresher interface {
	Refresh(ctx context.Context, acc credential.AccountCredential) (*credential.AccountCredential, error)
}

// CredentialStore defines the credential lookups the dispatcher needs
type CredentialStore interface {
	GetCredentials(ctx context.Context, userID string, platform credential.Platform) ([]credential.AccountCredential, error)
	PutCredentials(ctx context.Context, userID string, platform credential.Platform, accountID string, upd credential.CredentialUpdate) error
}

// PlanGate decides whether a user may create another post
type PlanGate interface {
	Allow(ctx context.Context, userID string) error
}

// Platform wires one platform into the dispatcher
type Platform struct {
	Publisher Publisher
	Refresher Refresher
	// AccountDelay overrides Config.AccountDelay for this platform
	AccountDelay time.Duration
}

// Config holds dispatch pacing
type Config struct {
	PlatformDelay     time.Duration
	AccountDelay      time.Duration
	RefreshRetryDelay time.Duration
}

// DefaultConfig returns the production pacing
func DefaultConfig() Config {
	return Config{
		PlatformDelay:     5 * time.Second,
		AccountDelay:      5 * time.Second,
		RefreshRetryDelay: time.Second,
	}
}

// Policy orchestrates post use-cases
type Policy struct {
	svc         *service.Service
	credentials CredentialStore
	platforms   map[credential.Platform]Platform
	gate        PlanGate
	cfg         Config
	sleep       retry.Sleeper
	logger      *slog.Logger

	inflight sync.WaitGroup
}

// Option configures the Policy
type Option func(*Policy)

// WithPlatform registers a platform publisher
func WithPlatform(id credential.Platform, pl Platform) Option {
	return func(p *Policy) {
		p.platforms[id] = pl
	}
}

// WithPlanGate sets the gate checked on post creation
func WithPlanGate(g PlanGate) Option {
	return func(p *Policy) {
		p.gate = g
	}
}

// WithSleeper overrides the sleeper used for dispatch delays
func WithSleeper(s retry.Sleeper) Option {
	return func(p *Policy) {
		p.sleep = s
	}
}

// WithLogger sets the policy logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = l
	}
}

// New creates a new post policy
func New(svc *service.Service, credentials CredentialStore, cfg Config, opts ...Option) *Policy {
	p := &Policy{
		svc:         svc,
		credentials: credentials,
		platforms:   make(map[credential.Platform]Platform),
		cfg:         cfg,
		sleep:       retry.Sleep,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CreatePostInput represents input for creating a post
type CreatePostInput struct {
	UserID      string
	VideoURL    string
	Caption     string
	Platforms   []credential.Platform
	Accounts    map[credential.Platform][]credential.AccountCredential
	ScheduledAt *time.Time
	PublishNow  bool // If true, dispatch immediately after creation
}

// CreatePost creates a post and optionally starts publishing it
func (p *Policy) CreatePost(ctx context.Context, in CreatePostInput) (*entity.Post, error) {
	if in.PublishNow && in.ScheduledAt != nil {
		return nil, entity.ErrInvalidPostData
	}

	if p.gate != nil {
		if err := p.gate.Allow(ctx, in.UserID); err != nil {
			return nil, err
		}
	}

	post, err := p.svc.CreatePost(ctx, service.CreateInput{
		UserID:      in.UserID,
		VideoURL:    in.VideoURL,
		Caption:     in.Caption,
		Platforms:   in.Platforms,
		Accounts:    in.Accounts,
		ScheduledAt: in.ScheduledAt,
	})
	if err != nil {
		return nil, err
	}

	if in.PublishNow {
		return p.PublishNow(ctx, post.ID)
	}

	return post, nil
}

// GetPost retrieves a post by ID
func (p *Policy) GetPost(ctx context.Context, id string) (*entity.Post, error) {
	return p.svc.GetPost(ctx, id)
}

// PublishNow claims a pending post and dispatches it in the background.
// The dispatch is detached from ctx and runs to completion.
func (p *Policy) PublishNow(ctx context.Context, id string) (*entity.Post, error) {
	post, err := p.svc.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != entity.PostStatusPending {
		return nil, entity.ErrPostNotPending
	}

	claimed, err := p.svc.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, entity.ErrPostNotPending
	}
	post.Status = entity.PostStatusProcessing

	detached := context.WithoutCancel(ctx)
	dispatched := *post

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.dispatch(detached, &dispatched)
	}()

	return post, nil
}

// Wait blocks until background dispatches started by PublishNow finish
func (p *Policy) Wait() {
	p.inflight.Wait()
}

// ProcessDuePosts dispatches every scheduled post due at now, one at a time.
// Posts claimed elsewhere are skipped and a failing post never stops the rest.
// Cancelling ctx stops claiming new posts but never interrupts a started dispatch.
func (p *Policy) ProcessDuePosts(ctx context.Context, now time.Time) error {
	posts, err := p.svc.GetDuePosts(ctx, now)
	if err != nil {
		return err
	}

	for i := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		post := &posts[i]

		claimed, err := p.svc.Claim(ctx, post.ID)
		if err != nil {
			p.logger.Error("failed to claim post", "post_id", post.ID, "error", err)
			continue
		}
		if !claimed {
			p.logger.Debug("post already claimed", "post_id", post.ID)
			continue
		}
		post.Status = entity.PostStatusProcessing

		p.dispatch(context.WithoutCancel(ctx), post)
	}

	return nil
}

// dispatch publishes a claimed post and records its final status
func (p *Policy) dispatch(ctx context.Context, post *entity.Post) {
	result, err := p.ProcessPost(ctx, post)
	if err != nil {
		p.logger.Error("post dispatch failed", "post_id", post.ID, "error", err)
		if merr := p.svc.MarkFailed(ctx, post.ID, err.Error()); merr != nil {
			p.logger.Error("failed to record post status", "post_id", post.ID, "error", merr)
		}
		return
	}

	ok, failed := result.Counts()
	p.logger.Info("post dispatched", "post_id", post.ID, "succeeded", ok, "failed", failed)

	if merr := p.svc.MarkCompleted(ctx, post.ID, result.Summary()); merr != nil {
		p.logger.Error("failed to record post status", "post_id", post.ID, "error", merr)
	}
}
