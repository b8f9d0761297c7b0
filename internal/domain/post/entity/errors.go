package entity

import (
	"errors"
	"fmt"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
)

// Domain errors for posts
var (
	// Validation errors
	ErrInvalidPostData     = errors.New("invalid post data")
	ErrCaptionTooLong      = errors.New("caption exceeds maximum length of 2200 characters")
	ErrScheduledTimeInPast = errors.New("scheduled time must be in the future")

	// Business logic errors
	ErrPostNotFound     = errors.New("post not found")
	ErrPostNotPending   = errors.New("post is not pending")
	ErrPlanLimitReached = errors.New("plan post limit reached")

	// Publishing errors
	ErrCredentialMissing  = errors.New("no credentials connected for platform")
	ErrAuthExpired        = errors.New("access token is invalid or expired")
	ErrRemoteTransient    = errors.New("platform request failed transiently")
	ErrRemoteRejected     = errors.New("platform rejected the publication")
	ErrAllPlatformsFailed = errors.New("publishing failed on every platform")
)

// RejectionCategory classifies a platform-side rejection for users
type RejectionCategory string

const (
	RejectionOversize              RejectionCategory = "oversize"
	RejectionUnsupportedResolution RejectionCategory = "unsupported_resolution"
	RejectionDownloadTimeout       RejectionCategory = "download_timeout"
	RejectionGeneric               RejectionCategory = "generic"
)

// RejectionError is a terminal platform-level validation failure
type RejectionError struct {
	Category RejectionCategory
	Reason   string // raw reason reported by the platform
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message(), e.Reason)
}

// Is makes errors.Is(err, ErrRemoteRejected) match
func (e *RejectionError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// Message returns the user-facing explanation of the rejection
func (e *RejectionError) Message() string {
	switch e.Category {
	case RejectionOversize:
		return "video is too large or too long for this platform"
	case RejectionUnsupportedResolution:
		return "video resolution or frame rate is not supported by this platform"
	case RejectionDownloadTimeout:
		return "platform could not download the video in time"
	default:
		return "platform rejected the video"
	}
}

// ErrorKind labels an error with its publishing taxonomy category
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPostData):
		return "invalid_post_data"
	case errors.Is(err, ErrCredentialMissing):
		return "credential_missing"
	case errors.Is(err, credential.ErrRefreshInvalid):
		return "refresh_invalid"
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, ErrRemoteRejected):
		return "remote_rejected"
	case errors.Is(err, ErrRemoteTransient), errors.Is(err, credential.ErrRefreshTransient):
		return "remote_transient"
	default:
		return "unknown"
	}
}
