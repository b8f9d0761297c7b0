package entity

import (
	"fmt"
	"time"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
)

// PostStatus represents the current status of a post
type PostStatus string

const (
	PostStatusPending    PostStatus = "pending"
	PostStatusProcessing PostStatus = "processing"
	PostStatusCompleted  PostStatus = "completed"
	PostStatusFailed     PostStatus = "failed"
)

// MaxCaptionLength is the longest caption accepted at intake
const MaxCaptionLength = 2200

// Post is a video publication targeting one or more platforms
type Post struct {
	ID        string                `json:"id" bson:"_id"`
	UserID    string                `json:"user_id" bson:"user_id"`
	VideoURL  string                `json:"video_url" bson:"video_url"`
	Caption   string                `json:"caption" bson:"caption"`
	Platforms []credential.Platform `json:"platforms" bson:"platforms"`

	// Accounts lists target accounts per platform in publish order. Entries
	// without an access token are resolved from the credential store.
	Accounts map[credential.Platform][]credential.AccountCredential `json:"accounts,omitempty" bson:"accounts,omitempty"`

	Scheduled    bool       `json:"scheduled" bson:"scheduled"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty" bson:"scheduled_at,omitempty"`
	Status       PostStatus `json:"status" bson:"status"`
	ErrorMessage string     `json:"error_message,omitempty" bson:"error_message,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" bson:"updated_at"`
}

// Validate checks the preconditions for dispatching a post
func (p *Post) Validate() error {
	if p.VideoURL == "" {
		return fmt.Errorf("%w: video url is required", ErrInvalidPostData)
	}
	if len(p.Platforms) == 0 {
		return fmt.Errorf("%w: at least one platform is required", ErrInvalidPostData)
	}

	seen := make(map[credential.Platform]struct{}, len(p.Platforms))
	for _, pl := range p.Platforms {
		if !pl.IsKnown() {
			return fmt.Errorf("%w: unsupported platform %q", ErrInvalidPostData, pl)
		}
		if _, dup := seen[pl]; dup {
			return fmt.Errorf("%w: platform %q listed twice", ErrInvalidPostData, pl)
		}
		seen[pl] = struct{}{}
	}

	return nil
}

// ValidateForCreate adds intake-only rules on top of Validate
func (p *Post) ValidateForCreate(now time.Time) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidPostData)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p.Caption) > MaxCaptionLength {
		return ErrCaptionTooLong
	}
	if p.Scheduled {
		if p.ScheduledAt == nil {
			return fmt.Errorf("%w: scheduled post needs scheduled_at", ErrInvalidPostData)
		}
		if p.ScheduledAt.Before(now) {
			return ErrScheduledTimeInPast
		}
	}
	return nil
}

// AccountsFor returns the target accounts for a platform
func (p *Post) AccountsFor(platform credential.Platform) []credential.AccountCredential {
	return p.Accounts[platform]
}

// HasEmbeddedCredentials returns true if every target account of the
// platform carries its own access token
func (p *Post) HasEmbeddedCredentials(platform credential.Platform) bool {
	accounts := p.Accounts[platform]
	if len(accounts) == 0 {
		return false
	}
	for _, a := range accounts {
		if !a.IsEmbedded() {
			return false
		}
	}
	return true
}

// IsDue returns true if the scheduler should pick the post up at now
func (p *Post) IsDue(now time.Time) bool {
	return p.Scheduled &&
		p.Status == PostStatusPending &&
		p.ScheduledAt != nil &&
		!p.ScheduledAt.After(now)
}
