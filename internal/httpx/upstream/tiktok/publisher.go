package tiktok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/retry"
)

// JobState is the local view of a remote publish job
type JobState string

const (
	JobInitiated  JobState = "initiated"
	JobProcessing JobState = "processing"
	JobComplete   JobState = "complete"
	JobFailed     JobState = "failed"
)

// Job tracks one remote publish job from init until it is terminal
type Job struct {
	PublishID  string
	State      JobState
	FailReason string
	PostIDs    []string
	Polls      int
}

// apply moves the job according to a status response
func (j *Job) apply(out *FetchStatusOutput) {
	j.Polls++

	switch out.Status {
	case StatusPublishComplete, StatusSendToUserInbox:
		j.State = JobComplete
		for _, id := range out.PostIDs {
			j.PostIDs = append(j.PostIDs, strconv.FormatInt(id, 10))
		}
	case StatusFailed:
		j.State = JobFailed
		j.FailReason = out.FailReason
	default:
		j.State = JobProcessing
	}
}

// rejectionCategory maps a TikTok fail_reason to a user-facing category
func rejectionCategory(reason string) entity.RejectionCategory {
	switch reason {
	case "file_size_check_failed", "duration_check_failed":
		return entity.RejectionOversize
	case "picture_size_check_failed", "frame_rate_check_failed":
		return entity.RejectionUnsupportedResolution
	case "video_pull_failed":
		return entity.RejectionDownloadTimeout
	default:
		return entity.RejectionGeneric
	}
}

// PublisherConfig holds the retry schedules of the publisher
type PublisherConfig struct {
	// Init retries the upload initiation on transient failures
	Init retry.Policy
	// Poll bounds the status polling; MaxAttempts is the polling budget
	Poll retry.Policy
}

// DefaultPublisherConfig returns the production schedules
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Init: retry.Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second},
		Poll: retry.Policy{MaxAttempts: 20, BaseDelay: 3 * time.Second, MaxDelay: 30 * time.Second},
	}
}

// Publisher runs the init -> poll -> terminal workflow for TikTok videos
type Publisher struct {
	client *Client
	cfg    PublisherConfig
	sleep  retry.Sleeper
	logger *slog.Logger
}

// PublisherOption configures the Publisher
type PublisherOption func(*Publisher)

// WithSleeper overrides the sleeper used between polls and retries
func WithSleeper(s retry.Sleeper) PublisherOption {
	return func(p *Publisher) {
		p.sleep = s
	}
}

// WithLogger sets the publisher logger
func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = l
	}
}

// NewPublisher creates a new TikTok publisher
func NewPublisher(client *Client, cfg PublisherConfig, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client: client,
		cfg:    cfg,
		sleep:  retry.Sleep,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.cfg.Init.Retryable = isTransient
	return p
}

// Publish publishes a video to one TikTok account.
// A job still processing when the polling budget runs out is reported as a
// successful attempt in the processing state.
func (p *Publisher) Publish(ctx context.Context, req entity.PublishRequest) (*entity.AttemptResult, error) {
	job, err := p.initiate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initiating upload: %w", err)
	}

	if err := p.poll(ctx, req.Account.AccessToken, job); err != nil {
		return nil, err
	}

	res := &entity.AttemptResult{
		AccountID: req.Account.AccountID,
		Username:  req.Account.Username,
		Success:   true,
		RemoteID:  job.PublishID,
		Data:      map[string]string{"publish_id": job.PublishID},
	}

	switch job.State {
	case JobComplete:
		res.State = entity.AttemptStatePublished
		if len(job.PostIDs) > 0 {
			res.Data["post_id"] = job.PostIDs[0]
			if req.Account.Username != "" {
				res.Data["permalink"] = fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", req.Account.Username, job.PostIDs[0])
			}
		}
	case JobFailed:
		return nil, &entity.RejectionError{Category: rejectionCategory(job.FailReason), Reason: job.FailReason}
	default:
		res.State = entity.AttemptStateProcessing
		p.logger.Warn("tiktok publish still processing after polling budget",
			"post_id", req.PostID,
			"account_id", req.Account.AccountID,
			"publish_id", job.PublishID,
			"polls", job.Polls,
		)
	}

	return res, nil
}

func (p *Publisher) initiate(ctx context.Context, req entity.PublishRequest) (*Job, error) {
	var out *InitVideoOutput
	err := p.cfg.Init.Do(ctx, p.sleep, func(attempt int) error {
		var err error
		out, err = p.client.InitVideo(ctx, InitVideoInput{
			AccessToken: req.Account.AccessToken,
			VideoURL:    req.VideoURL,
			Title:       req.Caption,
		})
		if err != nil && isTransient(err) {
			p.logger.Warn("tiktok init failed, retrying",
				"post_id", req.PostID,
				"account_id", req.Account.AccountID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Job{PublishID: out.PublishID, State: JobInitiated}, nil
}

// poll advances the job until it is terminal or the polling budget runs out.
// Transient poll failures consume an attempt. An expired token ends polling with
// the job left unresolved; rejection errors fail it.
func (p *Publisher) poll(ctx context.Context, accessToken string, job *Job) error {
	budget := p.cfg.Poll.MaxAttempts
	if budget < 1 {
		budget = 1
	}

	for attempt := 0; attempt < budget; attempt++ {
		if err := p.sleep(ctx, p.cfg.Poll.Delay(attempt)); err != nil {
			return fmt.Errorf("%w: waiting for publish status: %v", entity.ErrRemoteTransient, err)
		}

		out, err := p.client.FetchStatus(ctx, FetchStatusInput{
			AccessToken: accessToken,
			PublishID:   job.PublishID,
		})
		if err != nil {
			if errors.Is(err, entity.ErrAuthExpired) {
				// The job already exists remotely; an auth error here must not lead to a re-publish.
				p.logger.Warn("tiktok status poll unauthorized, outcome unknown",
					"publish_id", job.PublishID,
					"attempt", attempt+1,
					"error", err,
				)
				return nil
			}
			if !isTransient(err) {
				return fmt.Errorf("fetching publish status: %w", err)
			}
			job.Polls++
			p.logger.Debug("tiktok status poll failed", "publish_id", job.PublishID, "attempt", attempt+1, "error", err)
			continue
		}

		job.apply(out)
		if job.State == JobComplete || job.State == JobFailed {
			return nil
		}
	}

	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, entity.ErrRemoteTransient)
}

// Refresher renews TikTok access tokens
type Refresher struct {
	client *Client
	now    func() time.Time
}

// NewRefresher creates a new TikTok credential refresher
func NewRefresher(client *Client) *Refresher {
	return &Refresher{client: client, now: time.Now}
}

// Refresh exchanges the account's refresh token for a new credential.
// The previous refresh token is kept when the response carries none.
func (r *Refresher) Refresh(ctx context.Context, acc credential.AccountCredential) (*credential.AccountCredential, error) {
	if !acc.CanRefresh() {
		return nil, fmt.Errorf("%w: no refresh token", credential.ErrRefreshInvalid)
	}

	out, err := r.client.RefreshToken(ctx, acc.RefreshToken)
	if err != nil {
		return nil, err
	}

	updated := acc
	updated.AccessToken = out.AccessToken
	if out.RefreshToken != "" {
		updated.RefreshToken = out.RefreshToken
	}
	if out.ExpiresIn > 0 {
		exp := r.now().Add(time.Duration(out.ExpiresIn) * time.Second)
		updated.ExpiresAt = &exp
	}

	return &updated, nil
}
