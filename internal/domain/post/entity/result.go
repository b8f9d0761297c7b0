package entity

import (
	"fmt"
	"strings"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
)

// AttemptState describes how far a successful attempt got
type AttemptState string

const (
	AttemptStatePublished  AttemptState = "published"
	AttemptStateProcessing AttemptState = "processing" // accepted, confirmation still pending
)

// AttemptResult is the outcome of publishing to one account
type AttemptResult struct {
	AccountID string            `json:"account_id"`
	Username  string            `json:"username,omitempty"`
	Success   bool              `json:"success"`
	State     AttemptState      `json:"state,omitempty"`
	RemoteID  string            `json:"remote_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`

	// Refreshed holds a credential renewed during the attempt
	Refreshed *credential.AccountCredential `json:"-"`
}

// PlatformResult groups account attempts for one platform
type PlatformResult struct {
	Platform credential.Platform `json:"platform"`
	Accounts []AttemptResult     `json:"accounts,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Result is the aggregated outcome of a dispatch, in platform order
type Result struct {
	Platforms []PlatformResult `json:"platforms"`
}

// Platform returns the result for a platform, or nil
func (r *Result) Platform(p credential.Platform) *PlatformResult {
	for i := range r.Platforms {
		if r.Platforms[i].Platform == p {
			return &r.Platforms[i]
		}
	}
	return nil
}

// Succeeded returns true if at least one account was published
func (r *Result) Succeeded() bool {
	for _, p := range r.Platforms {
		for _, a := range p.Accounts {
			if a.Success {
				return true
			}
		}
	}
	return false
}

// Counts returns the number of successful and failed account attempts.
// A platform that failed before any attempt counts as one failure.
func (r *Result) Counts() (succeeded, failed int) {
	for _, p := range r.Platforms {
		if p.Error != "" && len(p.Accounts) == 0 {
			failed++
			continue
		}
		for _, a := range p.Accounts {
			if a.Success {
				succeeded++
			} else {
				failed++
			}
		}
	}
	return succeeded, failed
}

// Summary describes every failure in the result, empty when nothing failed
func (r *Result) Summary() string {
	var parts []string
	for _, p := range r.Platforms {
		if p.Error != "" && len(p.Accounts) == 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", p.Platform, p.Error))
			continue
		}
		for _, a := range p.Accounts {
			if a.Success {
				continue
			}
			name := a.Username
			if name == "" {
				name = a.AccountID
			}
			parts = append(parts, fmt.Sprintf("%s/%s: %s", p.Platform, name, a.Error))
		}
	}
	return strings.Join(parts, "; ")
}
