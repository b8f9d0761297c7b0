package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/httpx/upstream"
)

const (
	defaultBaseURL = "https://api.x.com"
	mediaCategory  = "tweet_video"
)

// Client is an X (Twitter) API v2 client for media upload and posting
type Client struct {
	baseURL   string
	uploadURL string
	transport *upstream.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom API base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithUploadURL sets a custom media upload endpoint
func WithUploadURL(url string) ClientOption {
	return func(c *Client) {
		c.uploadURL = url
	}
}

// WithTransport sets a custom upstream transport
func WithTransport(t *upstream.Client) ClientOption {
	return func(c *Client) {
		c.transport = t
	}
}

// New creates a new Twitter API client
func New(opts ...ClientOption) *Client {
	c := &Client{baseURL: defaultBaseURL}

	for _, opt := range opts {
		opt(c)
	}

	if c.uploadURL == "" {
		c.uploadURL = c.baseURL + "/2/media/upload"
	}
	if c.transport == nil {
		c.transport = upstream.New("twitter")
	}

	return c
}

// APIError represents an error from the Twitter API
type APIError struct {
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Type       string `json:"type"`
	HTTPStatus int    `json:"status"`
	Errors     []struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"errors"`

	kind error
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" && len(e.Errors) > 0 {
		msg = e.Errors[0].Message
	}
	if msg == "" {
		msg = e.Title
	}
	return fmt.Sprintf("twitter API error: %s (status: %d)", msg, e.HTTPStatus)
}

// Unwrap exposes the publishing error category
func (e *APIError) Unwrap() error {
	return e.kind
}

func classify(e *APIError) {
	switch {
	case e.HTTPStatus == http.StatusUnauthorized:
		e.kind = entity.ErrAuthExpired
	case upstream.IsTransientStatus(e.HTTPStatus):
		e.kind = entity.ErrRemoteTransient
	default:
		reason := e.Detail
		if reason == "" {
			reason = e.Title
		}
		e.kind = &entity.RejectionError{Category: entity.RejectionGeneric, Reason: reason}
	}
}

// ProcessingState is the server-side state of an uploaded video
type ProcessingState string

const (
	ProcessingPending    ProcessingState = "pending"
	ProcessingInProgress ProcessingState = "in_progress"
	ProcessingSucceeded  ProcessingState = "succeeded"
	ProcessingFailed     ProcessingState = "failed"
)

// ProcessingInfo describes asynchronous media processing
type ProcessingInfo struct {
	State          ProcessingState `json:"state"`
	CheckAfterSecs int             `json:"check_after_secs"`
	ProgressPct    int             `json:"progress_percent"`
	Error          *struct {
		Code    int    `json:"code"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// MediaOutput represents the media upload responses
type MediaOutput struct {
	ID             string          `json:"id"`
	MediaKey       string          `json:"media_key"`
	ProcessingInfo *ProcessingInfo `json:"processing_info,omitempty"`
}

// InitUploadInput represents input for starting a chunked upload
type InitUploadInput struct {
	AccessToken string
	TotalBytes  int
	MediaType   string
}

// InitUpload starts a chunked media upload (INIT)
func (c *Client) InitUpload(ctx context.Context, in InitUploadInput) (*MediaOutput, error) {
	form := url.Values{}
	form.Set("command", "INIT")
	form.Set("total_bytes", strconv.Itoa(in.TotalBytes))
	form.Set("media_type", in.MediaType)
	form.Set("media_category", mediaCategory)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out MediaOutput
	if err := c.do(req, in.AccessToken, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendChunkInput represents one chunk of a chunked upload
type AppendChunkInput struct {
	AccessToken  string
	MediaID      string
	SegmentIndex int
	Chunk        []byte
}

// AppendChunk uploads one chunk (APPEND)
func (c *Client) AppendChunk(ctx context.Context, in AppendChunkInput) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("command", "APPEND")
	_ = mw.WriteField("media_id", in.MediaID)
	_ = mw.WriteField("segment_index", strconv.Itoa(in.SegmentIndex))

	part, err := mw.CreateFormFile("media", "chunk")
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(in.Chunk); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, in.AccessToken, nil)
}

// FinalizeUpload completes a chunked upload (FINALIZE)
func (c *Client) FinalizeUpload(ctx context.Context, accessToken, mediaID string) (*MediaOutput, error) {
	form := url.Values{}
	form.Set("command", "FINALIZE")
	form.Set("media_id", mediaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out MediaOutput
	if err := c.do(req, accessToken, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadStatus checks asynchronous media processing (STATUS)
func (c *Client) UploadStatus(ctx context.Context, accessToken, mediaID string) (*MediaOutput, error) {
	params := url.Values{}
	params.Set("command", "STATUS")
	params.Set("media_id", mediaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uploadURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out MediaOutput
	if err := c.do(req, accessToken, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTweetInput represents input for creating a post
type CreateTweetInput struct {
	AccessToken string
	Text        string
	MediaIDs    []string
}

// CreateTweetOutput represents a created post
type CreateTweetOutput struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CreateTweet creates a post referencing uploaded media
func (c *Client) CreateTweet(ctx context.Context, in CreateTweetInput) (*CreateTweetOutput, error) {
	body := map[string]any{"text": in.Text}
	if len(in.MediaIDs) > 0 {
		body["media"] = map[string]any{"media_ids": in.MediaIDs}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out CreateTweetOutput
	if err := c.do(req, in.AccessToken, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: tweet response without id", entity.ErrRemoteTransient)
	}
	return &out, nil
}

// do executes an authorized request and decodes the "data" object
func (c *Client) do(req *http.Request, accessToken string, out any) error {
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.transport.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response body: %v", entity.ErrRemoteTransient, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{}
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Detail = string(body)
		}
		apiErr.HTTPStatus = resp.StatusCode
		classify(apiErr)
		return apiErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: decoding response: %v", entity.ErrRemoteTransient, err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decoding response data: %v", entity.ErrRemoteTransient, err)
	}

	return nil
}
