package entity

import (
	"errors"
	"time"
)

// Platform identifies an external publishing platform
type Platform string

const (
	PlatformTikTok  Platform = "tiktok"
	PlatformTwitter Platform = "twitter"
)

// IsKnown returns true if the platform has a publisher
func (p Platform) IsKnown() bool {
	switch p {
	case PlatformTikTok, PlatformTwitter:
		return true
	default:
		return false
	}
}

// Credential store errors
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrRefreshInvalid     = errors.New("refresh token was rejected, re-authorization required")
	ErrRefreshTransient   = errors.New("token refresh failed with a transient error")
)

// AccountCredential is a per-user, per-platform account credential record.
// An entry with an empty AccessToken is a reference that must be resolved
// from the credential store before publishing.
type AccountCredential struct {
	AccountID    string     `json:"account_id" bson:"account_id"` // open_id on tiktok, user id on twitter
	AccessToken  string     `json:"access_token,omitempty" bson:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty" bson:"refresh_token,omitempty"`
	Secret       string     `json:"secret,omitempty" bson:"secret,omitempty"`
	Username     string     `json:"username,omitempty" bson:"username,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

// IsEmbedded returns true if the credential carries a usable access token
func (c AccountCredential) IsEmbedded() bool {
	return c.AccessToken != ""
}

// CanRefresh returns true if a refresh token is available
func (c AccountCredential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// CredentialUpdate holds the fields a token refresh may change
type CredentialUpdate struct {
	AccessToken  string
	RefreshToken string     // empty keeps the stored refresh token
	ExpiresAt    *time.Time // nil keeps the stored expiry
}

// UpdateFrom builds the write-back payload for a refreshed credential
func UpdateFrom(c AccountCredential) CredentialUpdate {
	return CredentialUpdate{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
	}
}
