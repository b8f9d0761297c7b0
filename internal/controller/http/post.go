package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
	"github.com/vadim/neo-publisher/internal/httpx/response"
)

// PostPolicy defines the interface for post operations
// Interface is defined by consumer (handler), not provider (policy)
type PostPolicy interface {
	CreatePost(ctx context.Context, in policy.CreatePostInput) (*entity.Post, error)
	GetPost(ctx context.Context, id string) (*entity.Post, error)
	PublishNow(ctx context.Context, id string) (*entity.Post, error)
}

// PostHandler handles HTTP requests for posts
type PostHandler struct {
	policy   PostPolicy
	validate *validator.Validate
}

// NewPostHandler creates a new post handler
func NewPostHandler(p PostPolicy) *PostHandler {
	return &PostHandler{
		policy:   p,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes registers post routes
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Route("/posts", func(r chi.Router) {
		r.Post("/", h.Create())
		r.Get("/{id}", h.Get())
		r.Post("/{id}/publish", h.PublishNow())
	})
}

// CreateRequest represents the request body for creating a post
type CreateRequest struct {
	UserID      string                      `json:"user_id" validate:"required"`
	VideoURL    string                      `json:"video_url" validate:"required,url"`
	Caption     string                      `json:"caption" validate:"max=2200"`
	Platforms   []string                    `json:"platforms" validate:"required,min=1,unique,dive,oneof=tiktok twitter"`
	Accounts    map[string][]AccountRequest `json:"accounts,omitempty" validate:"omitempty,dive,keys,oneof=tiktok twitter,endkeys,dive"`
	ScheduledAt *string                     `json:"scheduled_at,omitempty"` // RFC3339 format
	PublishNow  bool                        `json:"publish_now,omitempty"`
}

// AccountRequest is a target account. Without an access token the account
// is looked up among the user's connected accounts at publish time.
type AccountRequest struct {
	AccountID    string `json:"account_id" validate:"required"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Secret       string `json:"secret,omitempty"`
	Username     string `json:"username,omitempty"`
}

// AccountResponse is a target account without its secrets
type AccountResponse struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username,omitempty"`
}

// PostResponse is the public view of a post
type PostResponse struct {
	ID           string                       `json:"id"`
	UserID       string                       `json:"user_id"`
	VideoURL     string                       `json:"video_url"`
	Caption      string                       `json:"caption"`
	Platforms    []credential.Platform        `json:"platforms"`
	Accounts     map[string][]AccountResponse `json:"accounts,omitempty"`
	Scheduled    bool                         `json:"scheduled"`
	ScheduledAt  *time.Time                   `json:"scheduled_at,omitempty"`
	Status       entity.PostStatus            `json:"status"`
	ErrorMessage string                       `json:"error_message,omitempty"`
	ProcessedAt  *time.Time                   `json:"processed_at,omitempty"`
	CreatedAt    time.Time                    `json:"created_at"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// Create handles POST /posts
func (h *PostHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		if err := h.validate.Struct(req); err != nil {
			response.BadRequest(w, validationMessage(err))
			return
		}

		// Parse scheduled time
		var scheduledAt *time.Time
		if req.ScheduledAt != nil && *req.ScheduledAt != "" {
			t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
			if err != nil {
				response.BadRequest(w, "invalid scheduled_at format, use RFC3339")
				return
			}
			scheduledAt = &t
		}
		if scheduledAt != nil && req.PublishNow {
			response.BadRequest(w, "scheduled_at and publish_now are mutually exclusive")
			return
		}

		platforms := make([]credential.Platform, len(req.Platforms))
		for i, p := range req.Platforms {
			platforms[i] = credential.Platform(p)
		}

		post, err := h.policy.CreatePost(r.Context(), policy.CreatePostInput{
			UserID:      req.UserID,
			VideoURL:    req.VideoURL,
			Caption:     req.Caption,
			Platforms:   platforms,
			Accounts:    toAccounts(req.Accounts),
			ScheduledAt: scheduledAt,
			PublishNow:  req.PublishNow,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if req.PublishNow {
			response.Accepted(w, toPostResponse(post))
			return
		}
		response.Created(w, toPostResponse(post))
	}
}

// Get handles GET /posts/{id}
func (h *PostHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		post, err := h.policy.GetPost(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, toPostResponse(post))
	}
}

// PublishNow handles POST /posts/{id}/publish
func (h *PostHandler) PublishNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		post, err := h.policy.PublishNow(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.Accepted(w, toPostResponse(post))
	}
}

// Helper functions

func toAccounts(in map[string][]AccountRequest) map[credential.Platform][]credential.AccountCredential {
	if len(in) == 0 {
		return nil
	}

	out := make(map[credential.Platform][]credential.AccountCredential, len(in))
	for platform, accounts := range in {
		creds := make([]credential.AccountCredential, len(accounts))
		for i, a := range accounts {
			creds[i] = credential.AccountCredential{
				AccountID:    a.AccountID,
				AccessToken:  a.AccessToken,
				RefreshToken: a.RefreshToken,
				Secret:       a.Secret,
				Username:     a.Username,
			}
		}
		out[credential.Platform(platform)] = creds
	}
	return out
}

func toPostResponse(p *entity.Post) PostResponse {
	resp := PostResponse{
		ID:           p.ID,
		UserID:       p.UserID,
		VideoURL:     p.VideoURL,
		Caption:      p.Caption,
		Platforms:    p.Platforms,
		Scheduled:    p.Scheduled,
		ScheduledAt:  p.ScheduledAt,
		Status:       p.Status,
		ErrorMessage: p.ErrorMessage,
		ProcessedAt:  p.ProcessedAt,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}

	if len(p.Accounts) > 0 {
		resp.Accounts = make(map[string][]AccountResponse, len(p.Accounts))
		for platform, accounts := range p.Accounts {
			list := make([]AccountResponse, len(accounts))
			for i, a := range accounts {
				list[i] = AccountResponse{AccountID: a.AccountID, Username: a.Username}
			}
			resp.Accounts[string(platform)] = list
		}
	}

	return resp
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrPostNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrPostNotPending):
		response.Conflict(w, err.Error())
	case errors.Is(err, entity.ErrInvalidPostData), errors.Is(err, entity.ErrCaptionTooLong),
		errors.Is(err, entity.ErrScheduledTimeInPast):
		response.BadRequest(w, err.Error())
	case errors.Is(err, entity.ErrPlanLimitReached):
		response.Forbidden(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
