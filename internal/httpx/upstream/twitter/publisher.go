package twitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/retry"
	"github.com/vadim/neo-publisher/internal/storage"
)

// DefaultChunkSize is the APPEND segment size
const DefaultChunkSize = 4 << 20

// VideoSource downloads the source video bytes
type VideoSource interface {
	Fetch(ctx context.Context, rawURL string) (*storage.Object, error)
}

// PublisherConfig holds the retry schedules of the publisher
type PublisherConfig struct {
	// Step wraps download, INIT, each APPEND, FINALIZE and the post creation
	Step retry.Policy
	// Status bounds media processing checks after FINALIZE
	Status    retry.Policy
	ChunkSize int
}

// DefaultPublisherConfig returns the production schedules
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Step:      retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		Status:    retry.Policy{MaxAttempts: 30, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
		ChunkSize: DefaultChunkSize,
	}
}

// Publisher runs the download -> upload -> post workflow for Twitter
type Publisher struct {
	client *Client
	source VideoSource
	cfg    PublisherConfig
	sleep  retry.Sleeper
	logger *slog.Logger
}

// PublisherOption configures the Publisher
type PublisherOption func(*Publisher)

// WithSleeper overrides the sleeper used between retries
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

// NewPublisher creates a new Twitter publisher
func NewPublisher(client *Client, source VideoSource, cfg PublisherConfig, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client: client,
		source: source,
		cfg:    cfg,
		sleep:  retry.Sleep,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.cfg.ChunkSize <= 0 {
		p.cfg.ChunkSize = DefaultChunkSize
	}
	p.cfg.Step.Retryable = isTransient
	return p
}

// Publish uploads the video and creates a post on one account
func (p *Publisher) Publish(ctx context.Context, req entity.PublishRequest) (*entity.AttemptResult, error) {
	video, err := p.download(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("downloading video: %w", err)
	}

	mediaID, err := p.upload(ctx, req, video)
	if err != nil {
		return nil, fmt.Errorf("uploading media: %w", err)
	}

	var tweet *CreateTweetOutput
	err = p.step(ctx, req, "create_tweet", func() error {
		var err error
		tweet, err = p.client.CreateTweet(ctx, CreateTweetInput{
			AccessToken: req.Account.AccessToken,
			Text:        req.Caption,
			MediaIDs:    []string{mediaID},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating tweet: %w", err)
	}

	res := &entity.AttemptResult{
		AccountID: req.Account.AccountID,
		Username:  req.Account.Username,
		Success:   true,
		State:     entity.AttemptStatePublished,
		RemoteID:  tweet.ID,
		Data: map[string]string{
			"tweet_id": tweet.ID,
			"media_id": mediaID,
		},
	}
	if req.Account.Username != "" {
		res.Data["url"] = fmt.Sprintf("https://x.com/%s/status/%s", req.Account.Username, tweet.ID)
	}

	return res, nil
}

func (p *Publisher) download(ctx context.Context, req entity.PublishRequest) (*storage.Object, error) {
	var video *storage.Object
	err := p.step(ctx, req, "download", func() error {
		var err error
		video, err = p.source.Fetch(ctx, req.VideoURL)
		if errors.Is(err, storage.ErrSourceTransient) {
			return fmt.Errorf("%w: %v", entity.ErrRemoteTransient, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(video.Data) == 0 {
		return nil, fmt.Errorf("%w: source video is empty", entity.ErrInvalidPostData)
	}
	return video, nil
}

// upload runs INIT, APPEND per chunk, FINALIZE and waits for processing
func (p *Publisher) upload(ctx context.Context, req entity.PublishRequest, video *storage.Object) (string, error) {
	token := req.Account.AccessToken

	var media *MediaOutput
	err := p.step(ctx, req, "init", func() error {
		var err error
		media, err = p.client.InitUpload(ctx, InitUploadInput{
			AccessToken: token,
			TotalBytes:  len(video.Data),
			MediaType:   mediaType(video),
		})
		return err
	})
	if err != nil {
		return "", err
	}
	mediaID := media.ID

	for i, chunk := range chunks(video.Data, p.cfg.ChunkSize) {
		err := p.step(ctx, req, "append", func() error {
			return p.client.AppendChunk(ctx, AppendChunkInput{
				AccessToken:  token,
				MediaID:      mediaID,
				SegmentIndex: i,
				Chunk:        chunk,
			})
		})
		if err != nil {
			return "", fmt.Errorf("appending segment %d: %w", i, err)
		}
	}

	err = p.step(ctx, req, "finalize", func() error {
		var err error
		media, err = p.client.FinalizeUpload(ctx, token, mediaID)
		return err
	})
	if err != nil {
		return "", err
	}

	if err := p.waitForProcessing(ctx, token, mediaID, media.ProcessingInfo); err != nil {
		return "", err
	}

	return mediaID, nil
}

// waitForProcessing polls STATUS until the media is usable.
// check_after_secs is honoured but capped by the status policy.
func (p *Publisher) waitForProcessing(ctx context.Context, token, mediaID string, info *ProcessingInfo) error {
	for attempt := 0; info != nil; attempt++ {
		switch info.State {
		case ProcessingSucceeded:
			return nil
		case ProcessingFailed:
			return processingRejection(info)
		}

		if attempt >= p.cfg.Status.MaxAttempts {
			return fmt.Errorf("%w: media %s still processing", entity.ErrRemoteTransient, mediaID)
		}

		wait := p.cfg.Status.Delay(attempt)
		if info.CheckAfterSecs > 0 {
			wait = time.Duration(info.CheckAfterSecs) * time.Second
			if p.cfg.Status.MaxDelay > 0 && wait > p.cfg.Status.MaxDelay {
				wait = p.cfg.Status.MaxDelay
			}
		}
		if err := p.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: waiting for media processing: %v", entity.ErrRemoteTransient, err)
		}

		out, err := p.client.UploadStatus(ctx, token, mediaID)
		if err != nil {
			if isTransient(err) {
				continue
			}
			return fmt.Errorf("checking media status: %w", err)
		}
		info = out.ProcessingInfo
	}

	return nil
}

// step runs fn under the shared retry policy, retrying transient failures only
func (p *Publisher) step(ctx context.Context, req entity.PublishRequest, name string, fn func() error) error {
	return p.cfg.Step.Do(ctx, p.sleep, func(attempt int) error {
		err := fn()
		if err != nil && isTransient(err) {
			p.logger.Warn("twitter step failed",
				"step", name,
				"post_id", req.PostID,
				"account_id", req.Account.AccountID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		return err
	})
}

func processingRejection(info *ProcessingInfo) error {
	reason := "media processing failed"
	if info.Error != nil {
		reason = info.Error.Message
		if reason == "" {
			reason = info.Error.Name
		}
	}

	lower := strings.ToLower(reason)
	category := entity.RejectionGeneric
	switch {
	case strings.Contains(lower, "duration"), strings.Contains(lower, "too long"), strings.Contains(lower, "size"):
		category = entity.RejectionOversize
	case strings.Contains(lower, "resolution"), strings.Contains(lower, "dimension"), strings.Contains(lower, "frame rate"):
		category = entity.RejectionUnsupportedResolution
	}

	return &entity.RejectionError{Category: category, Reason: reason}
}

func mediaType(video *storage.Object) string {
	if strings.HasPrefix(video.ContentType, "video/") {
		return video.ContentType
	}
	if ct := http.DetectContentType(video.Data); strings.HasPrefix(ct, "video/") {
		return ct
	}
	return "video/mp4"
}

func chunks(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	return append(out, data)
}

func isTransient(err error) bool {
	return errors.Is(err, entity.ErrRemoteTransient)
}
