package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/httpx/upstream"
)

const (
	defaultBaseURL      = "https://open.tiktokapis.com"
	defaultPrivacyLevel = "SELF_ONLY"
)

// Client is a TikTok Content Posting API client
type Client struct {
	baseURL      string
	clientKey    string
	clientSecret string
	privacyLevel string
	transport    *upstream.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAppCredentials sets the client key and secret used for token refresh
func WithAppCredentials(clientKey, clientSecret string) ClientOption {
	return func(c *Client) {
		c.clientKey = clientKey
		c.clientSecret = clientSecret
	}
}

// WithPrivacyLevel sets the privacy level of published videos
func WithPrivacyLevel(level string) ClientOption {
	return func(c *Client) {
		c.privacyLevel = level
	}
}

// WithTransport sets a custom upstream transport
func WithTransport(t *upstream.Client) ClientOption {
	return func(c *Client) {
		c.transport = t
	}
}

// New creates a new TikTok API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      defaultBaseURL,
		privacyLevel: defaultPrivacyLevel,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		c.transport = upstream.New("tiktok")
	}

	return c
}

// APIError represents an error from the TikTok API
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	LogID      string `json:"log_id"`
	HTTPStatus int    `json:"-"`

	kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tiktok API error: %s (code: %s, status: %d)", e.Message, e.Code, e.HTTPStatus)
}

// Unwrap exposes the publishing error category
func (e *APIError) Unwrap() error {
	return e.kind
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error APIError        `json:"error"`
}

// classify assigns the error category from the HTTP status and error code
func classify(e *APIError) {
	switch {
	case e.HTTPStatus == http.StatusUnauthorized || e.Code == "access_token_invalid":
		e.kind = entity.ErrAuthExpired
	case upstream.IsTransientStatus(e.HTTPStatus) || e.Code == "rate_limit_exceeded" || e.Code == "internal_error":
		e.kind = entity.ErrRemoteTransient
	default:
		e.kind = &entity.RejectionError{Category: entity.RejectionGeneric, Reason: e.Code}
	}
}

// InitVideoInput represents input for initiating a pull-from-url upload
type InitVideoInput struct {
	AccessToken string
	VideoURL    string
	Title       string
}

// InitVideoOutput represents output from initiating an upload
type InitVideoOutput struct {
	PublishID string `json:"publish_id"`
}

// InitVideo asks TikTok to pull the video from a public URL
func (c *Client) InitVideo(ctx context.Context, in InitVideoInput) (*InitVideoOutput, error) {
	body := map[string]any{
		"post_info": map[string]any{
			"title":         in.Title,
			"privacy_level": c.privacyLevel,
		},
		"source_info": map[string]any{
			"source":    "PULL_FROM_URL",
			"video_url": in.VideoURL,
		},
	}

	var out InitVideoOutput
	if err := c.postJSON(ctx, "/v2/post/publish/video/init/", in.AccessToken, body, &out); err != nil {
		return nil, err
	}
	if out.PublishID == "" {
		return nil, fmt.Errorf("%w: init response without publish_id", entity.ErrRemoteTransient)
	}

	return &out, nil
}

// PublishStatus is the remote processing status of a publish job
type PublishStatus string

const (
	StatusProcessingUpload   PublishStatus = "PROCESSING_UPLOAD"
	StatusProcessingDownload PublishStatus = "PROCESSING_DOWNLOAD"
	StatusSendToUserInbox    PublishStatus = "SEND_TO_USER_INBOX"
	StatusPublishComplete    PublishStatus = "PUBLISH_COMPLETE"
	StatusFailed             PublishStatus = "FAILED"
)

// FetchStatusInput represents input for fetching a publish job status
type FetchStatusInput struct {
	AccessToken string
	PublishID   string
}

// FetchStatusOutput represents the publish job status
type FetchStatusOutput struct {
	Status     PublishStatus `json:"status"`
	FailReason string        `json:"fail_reason"`
	PostIDs    []int64       `json:"publicaly_available_post_id"`
}

// FetchStatus retrieves the status of a publish job
func (c *Client) FetchStatus(ctx context.Context, in FetchStatusInput) (*FetchStatusOutput, error) {
	var out FetchStatusOutput
	body := map[string]string{"publish_id": in.PublishID}
	if err := c.postJSON(ctx, "/v2/post/publish/status/fetch/", in.AccessToken, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TokenOutput represents a token endpoint response
type TokenOutput struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	OpenID           string `json:"open_id"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RefreshToken exchanges a refresh token for a new access token
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenOutput, error) {
	form := url.Values{}
	form.Set("client_key", c.clientKey)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/oauth/token/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", credential.ErrRefreshTransient, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.transport.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credential.ErrRefreshTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", credential.ErrRefreshTransient, err)
	}

	var out TokenOutput
	decodeErr := json.Unmarshal(raw, &out)

	switch {
	case out.Error == "invalid_grant":
		return nil, fmt.Errorf("%w: %s", credential.ErrRefreshInvalid, out.ErrorDescription)
	case upstream.IsTransientStatus(resp.StatusCode):
		return nil, fmt.Errorf("%w: token endpoint returned %d", credential.ErrRefreshTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: token endpoint returned %d: %s", credential.ErrRefreshInvalid, resp.StatusCode, out.Error)
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: decoding response: %v", credential.ErrRefreshTransient, decodeErr)
	case out.Error != "":
		return nil, fmt.Errorf("%w: %s: %s", credential.ErrRefreshInvalid, out.Error, out.ErrorDescription)
	case out.AccessToken == "":
		return nil, fmt.Errorf("%w: token response without access_token", credential.ErrRefreshTransient)
	}

	return &out, nil
}

// postJSON sends an authorized JSON request and decodes the data envelope
func (c *Client) postJSON(ctx context.Context, path, accessToken string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	return c.do(req, out)
}

// do executes an HTTP request and decodes the response
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.transport.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response body: %v", entity.ErrRemoteTransient, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		apiErr := &APIError{
			Code:       "http_" + strconv.Itoa(resp.StatusCode),
			Message:    string(body),
			HTTPStatus: resp.StatusCode,
		}
		if resp.StatusCode < 400 {
			apiErr.kind = entity.ErrRemoteTransient
			apiErr.Message = "undecodable response: " + err.Error()
			return apiErr
		}
		classify(apiErr)
		return apiErr
	}

	if resp.StatusCode >= 400 || (env.Error.Code != "" && env.Error.Code != "ok") {
		apiErr := env.Error
		apiErr.HTTPStatus = resp.StatusCode
		classify(&apiErr)
		return &apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", entity.ErrRemoteTransient, err)
		}
	}

	return nil
}
