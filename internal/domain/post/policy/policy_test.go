package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/service"
	"github.com/vadim/neo-publisher/internal/httpx/upstream/tiktok"
	"github.com/vadim/neo-publisher/internal/retry"
)

// --- fakes ---

type mockPostRepo struct {
	mu         sync.Mutex
	posts      map[string]*entity.Post
	order      []string
	claimLoses map[string]bool
}

func newMockPostRepo(posts ...*entity.Post) *mockPostRepo {
	m := &mockPostRepo{posts: make(map[string]*entity.Post), claimLoses: make(map[string]bool)}
	for _, p := range posts {
		m.add(p)
	}
	return m
}

func (m *mockPostRepo) add(p *entity.Post) {
	cp := *p
	m.posts[p.ID] = &cp
	m.order = append(m.order, p.ID)
}

func (m *mockPostRepo) status(id string) (entity.PostStatus, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.posts[id]
	return p.Status, p.ErrorMessage
}

func (m *mockPostRepo) Create(_ context.Context, post *entity.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(post)
	return nil
}

func (m *mockPostRepo) GetByID(_ context.Context, id string) (*entity.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockPostRepo) FindDue(_ context.Context, now time.Time) ([]entity.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Post
	for _, id := range m.order {
		if p := m.posts[id]; p.IsDue(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockPostRepo) ClaimForProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.Status != entity.PostStatusPending || m.claimLoses[id] {
		return false, nil
	}
	p.Status = entity.PostStatusProcessing
	return true, nil
}

func (m *mockPostRepo) UpdateStatus(_ context.Context, id string, status entity.PostStatus, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.posts[id]
	p.Status = status
	p.ErrorMessage = detail
	return nil
}

func (m *mockPostRepo) CountCreatedSince(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

type putCall struct {
	userID    string
	platform  credential.Platform
	accountID string
	upd       credential.CredentialUpdate
}

type mockCredentialStore struct {
	mu       sync.Mutex
	creds    map[credential.Platform][]credential.AccountCredential
	getCalls int
	puts     []putCall
	putErr   error
}

func (m *mockCredentialStore) GetCredentials(_ context.Context, _ string, pl credential.Platform) ([]credential.AccountCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	return m.creds[pl], nil
}

func (m *mockCredentialStore) PutCredentials(_ context.Context, userID string, pl credential.Platform, accountID string, upd credential.CredentialUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, putCall{userID: userID, platform: pl, accountID: accountID, upd: upd})
	return m.putErr
}

// mockPublisher accepts tokens listed in valid and rejects everything else as expired
type mockPublisher struct {
	mu       sync.Mutex
	valid    map[string]bool
	failWith map[string]error // caption -> error
	calls    []entity.PublishRequest
}

func newMockPublisher(validTokens ...string) *mockPublisher {
	m := &mockPublisher{valid: map[string]bool{}, failWith: map[string]error{}}
	for _, t := range validTokens {
		m.valid[t] = true
	}
	return m
}

func (m *mockPublisher) Publish(_ context.Context, req entity.PublishRequest) (*entity.AttemptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if err, ok := m.failWith[req.Caption]; ok {
		return nil, err
	}
	if !m.valid[req.Account.AccessToken] {
		return nil, fmt.Errorf("initiating upload: %w", entity.ErrAuthExpired)
	}
	return &entity.AttemptResult{
		AccountID: req.Account.AccountID,
		Success:   true,
		State:     entity.AttemptStatePublished,
		RemoteID:  "remote-" + req.Account.AccountID,
	}, nil
}

func (m *mockPublisher) tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		out = append(out, c.Account.AccessToken)
	}
	return out
}

type refreshOutcome struct {
	cred *credential.AccountCredential
	err  error
}

type mockRefresher struct {
	outcomes []refreshOutcome
	calls    []credential.AccountCredential
}

func (m *mockRefresher) Refresh(_ context.Context, acc credential.AccountCredential) (*credential.AccountCredential, error) {
	m.calls = append(m.calls, acc)
	if len(m.outcomes) == 0 {
		return nil, credential.ErrRefreshInvalid
	}
	o := m.outcomes[0]
	m.outcomes = m.outcomes[1:]
	return o.cred, o.err
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type harness struct {
	repo     *mockPostRepo
	store    *mockCredentialStore
	tiktok   *mockPublisher
	twitter  *mockPublisher
	tRefresh *mockRefresher
	wRefresh *mockRefresher
	sleeper  *sleepRecorder
	policy   *Policy
}

func newHarness(posts ...*entity.Post) *harness {
	h := &harness{
		repo:     newMockPostRepo(posts...),
		store:    &mockCredentialStore{creds: map[credential.Platform][]credential.AccountCredential{}},
		tiktok:   newMockPublisher("tt-good", "tt-new"),
		twitter:  newMockPublisher("tw-good"),
		tRefresh: &mockRefresher{},
		wRefresh: &mockRefresher{},
		sleeper:  &sleepRecorder{},
	}

	h.policy = New(service.New(h.repo), h.store, DefaultConfig(),
		WithPlatform(credential.PlatformTikTok, Platform{Publisher: h.tiktok, Refresher: h.tRefresh}),
		WithPlatform(credential.PlatformTwitter, Platform{Publisher: h.twitter, Refresher: h.wRefresh, AccountDelay: 3 * time.Second}),
		WithSleeper(h.sleeper.sleep),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return h
}

func accounts(pairs ...credential.AccountCredential) []credential.AccountCredential {
	return pairs
}

func newPost(id string, platforms ...credential.Platform) *entity.Post {
	return &entity.Post{
		ID:        id,
		UserID:    "user-1",
		VideoURL:  "https://cdn.example.com/" + id + ".mp4",
		Caption:   "caption " + id,
		Platforms: platforms,
		Status:    entity.PostStatusPending,
		Accounts:  map[credential.Platform][]credential.AccountCredential{},
	}
}

// --- ProcessPost ---

func TestProcessPost_InvalidPostData(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *entity.Post)
	}{
		{"no platforms", func(p *entity.Post) { p.Platforms = nil }},
		{"empty platforms", func(p *entity.Post) { p.Platforms = []credential.Platform{} }},
		{"no video", func(p *entity.Post) { p.VideoURL = "" }},
		{"unknown platform", func(p *entity.Post) { p.Platforms = []credential.Platform{"myspace"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			post := newPost("p1", credential.PlatformTikTok)
			tt.mutate(post)

			res, err := h.policy.ProcessPost(context.Background(), post)

			assert.ErrorIs(t, err, entity.ErrInvalidPostData)
			assert.Nil(t, res)
			assert.Empty(t, h.tiktok.calls)
			assert.Zero(t, h.store.getCalls)
			assert.Empty(t, h.sleeper.delays)
		})
	}
}

func TestProcessPost_UnregisteredPlatform(t *testing.T) {
	h := newHarness()
	h.policy = New(service.New(h.repo), h.store, DefaultConfig(),
		WithPlatform(credential.PlatformTikTok, Platform{Publisher: h.tiktok}),
		WithSleeper(h.sleeper.sleep),
	)

	_, err := h.policy.ProcessPost(context.Background(), newPost("p1", credential.PlatformTikTok, credential.PlatformTwitter))
	assert.ErrorIs(t, err, entity.ErrInvalidPostData)
	assert.Empty(t, h.tiktok.calls)
}

func TestProcessPost_DelaysBetweenPlatformsAndAccounts(t *testing.T) {
	h := newHarness()
	post := newPost("p1", credential.PlatformTikTok, credential.PlatformTwitter)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-good"},
		credential.AccountCredential{AccountID: "t2", AccessToken: "tt-good"},
	)
	post.Accounts[credential.PlatformTwitter] = accounts(
		credential.AccountCredential{AccountID: "w1", AccessToken: "tw-good"},
		credential.AccountCredential{AccountID: "w2", AccessToken: "tw-good"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)

	// tiktok accounts, platform switch, twitter accounts; nothing before the first or after the last
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 3 * time.Second}, h.sleeper.delays)

	require.Len(t, res.Platforms, 2)
	assert.Equal(t, credential.PlatformTikTok, res.Platforms[0].Platform)
	assert.Equal(t, credential.PlatformTwitter, res.Platforms[1].Platform)
	assert.Zero(t, h.store.getCalls)
}

func TestProcessPost_AllFail(t *testing.T) {
	h := newHarness()
	post := newPost("p1", credential.PlatformTikTok, credential.PlatformTwitter)
	post.Accounts[credential.PlatformTikTok] = accounts(credential.AccountCredential{AccountID: "t1", AccessToken: "nope"})
	post.Accounts[credential.PlatformTwitter] = accounts(credential.AccountCredential{AccountID: "w1", AccessToken: "nope"})

	res, err := h.policy.ProcessPost(context.Background(), post)

	assert.ErrorIs(t, err, entity.ErrAllPlatformsFailed)
	require.NotNil(t, res)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "auth_expired", res.Platforms[0].Accounts[0].ErrorKind)
}

func TestProcessPost_OneFailureDoesNotSkipOthers(t *testing.T) {
	h := newHarness()
	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "nope"},
		credential.AccountCredential{AccountID: "t2", AccessToken: "tt-good"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)

	acc := res.Platforms[0].Accounts
	require.Len(t, acc, 2)
	assert.False(t, acc[0].Success)
	assert.True(t, acc[1].Success)
}

func TestProcessPost_RefreshRoundTrip(t *testing.T) {
	h := newHarness()
	h.tRefresh.outcomes = []refreshOutcome{{cred: &credential.AccountCredential{
		AccountID: "t1", AccessToken: "tt-new", RefreshToken: "rt-2",
	}}}

	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-old", RefreshToken: "rt-1"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)

	assert.Equal(t, []string{"tt-old", "tt-new"}, h.tiktok.tokens())
	require.Len(t, h.tRefresh.calls, 1)
	assert.Equal(t, "rt-1", h.tRefresh.calls[0].RefreshToken)

	attempt := res.Platforms[0].Accounts[0]
	assert.True(t, attempt.Success)
	require.NotNil(t, attempt.Refreshed)
	assert.Equal(t, "tt-new", attempt.Refreshed.AccessToken)

	require.Len(t, h.store.puts, 1)
	assert.Equal(t, putCall{
		userID:    "user-1",
		platform:  credential.PlatformTikTok,
		accountID: "t1",
		upd:       credential.CredentialUpdate{AccessToken: "tt-new", RefreshToken: "rt-2"},
	}, h.store.puts[0])
}

func TestProcessPost_RefreshTransientRetriedOnce(t *testing.T) {
	h := newHarness()
	h.tRefresh.outcomes = []refreshOutcome{
		{err: fmt.Errorf("%w: timeout", credential.ErrRefreshTransient)},
		{cred: &credential.AccountCredential{AccountID: "t1", AccessToken: "tt-new", RefreshToken: "rt-1"}},
	}

	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-old", RefreshToken: "rt-1"},
	)

	_, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)

	assert.Len(t, h.tRefresh.calls, 2)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeper.delays)
	assert.Equal(t, []string{"tt-old", "tt-new"}, h.tiktok.tokens())
}

func TestProcessPost_RefreshInvalidIsTerminal(t *testing.T) {
	h := newHarness()
	h.tRefresh.outcomes = []refreshOutcome{{err: credential.ErrRefreshInvalid}}

	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-old", RefreshToken: "rt-1"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)

	assert.ErrorIs(t, err, entity.ErrAllPlatformsFailed)
	assert.Len(t, h.tiktok.calls, 1)
	assert.Len(t, h.tRefresh.calls, 1)
	assert.Equal(t, "refresh_invalid", res.Platforms[0].Accounts[0].ErrorKind)
	assert.Empty(t, h.store.puts)
}

func TestProcessPost_SecondAuthFailureIsTerminal(t *testing.T) {
	h := newHarness()
	h.tRefresh.outcomes = []refreshOutcome{{cred: &credential.AccountCredential{AccountID: "t1", AccessToken: "still-bad", RefreshToken: "rt-1"}}}

	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-old", RefreshToken: "rt-1"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)

	assert.ErrorIs(t, err, entity.ErrAllPlatformsFailed)
	assert.Len(t, h.tiktok.calls, 2)
	assert.Len(t, h.tRefresh.calls, 1)
	assert.Equal(t, "auth_expired", res.Platforms[0].Accounts[0].ErrorKind)
}

func TestProcessPost_NonAuthErrorsAreNotRefreshed(t *testing.T) {
	h := newHarness()
	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-good", RefreshToken: "rt-1"},
	)
	h.tiktok.failWith[post.Caption] = &entity.RejectionError{Category: entity.RejectionOversize, Reason: "file_size_check_failed"}

	res, err := h.policy.ProcessPost(context.Background(), post)

	assert.ErrorIs(t, err, entity.ErrAllPlatformsFailed)
	assert.Empty(t, h.tRefresh.calls)
	assert.Equal(t, "remote_rejected", res.Platforms[0].Accounts[0].ErrorKind)
	assert.Contains(t, res.Platforms[0].Accounts[0].Error, "too large")
}

func TestProcessPost_TikTokAuthExpiredWhilePollingIsNotRepublished(t *testing.T) {
	var mu sync.Mutex
	var inits, polls int
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inits++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"publish_id":"v_pub_1"},"error":{"code":"ok"}}`))
	})
	mux.HandleFunc("/v2/post/publish/status/fetch/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"data":{},"error":{"code":"access_token_invalid","message":"token expired"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := newHarness()
	h.tRefresh.outcomes = []refreshOutcome{{cred: &credential.AccountCredential{AccountID: "t1", AccessToken: "tt-new", RefreshToken: "rt-2"}}}
	publisher := tiktok.NewPublisher(tiktok.New(tiktok.WithBaseURL(srv.URL)), tiktok.PublisherConfig{
		Init: retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second},
		Poll: retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second},
	}, tiktok.WithSleeper(h.sleeper.sleep), tiktok.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h.policy = New(service.New(h.repo), h.store, DefaultConfig(),
		WithPlatform(credential.PlatformTikTok, Platform{Publisher: publisher, Refresher: h.tRefresh}),
		WithSleeper(h.sleeper.sleep),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-old", RefreshToken: "rt-1"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)

	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, polls)
	assert.Empty(t, h.tRefresh.calls)
	assert.Empty(t, h.store.puts)

	acc := res.Platforms[0].Accounts[0]
	assert.True(t, acc.Success)
	assert.Equal(t, entity.AttemptStateProcessing, acc.State)
}

func TestProcessPost_ResolvesAllStoredAccounts(t *testing.T) {
	h := newHarness()
	h.store.creds[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "s1", AccessToken: "tt-good"},
		credential.AccountCredential{AccountID: "s2", AccessToken: "tt-good"},
	)

	res, err := h.policy.ProcessPost(context.Background(), newPost("p1", credential.PlatformTikTok))
	require.NoError(t, err)

	acc := res.Platforms[0].Accounts
	require.Len(t, acc, 2)
	assert.Equal(t, "s1", acc[0].AccountID)
	assert.Equal(t, "s2", acc[1].AccountID)
	assert.Equal(t, 1, h.store.getCalls)
}

func TestProcessPost_ResolvesReferencesByAccountID(t *testing.T) {
	h := newHarness()
	h.store.creds[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "s1", AccessToken: "tt-good"},
		credential.AccountCredential{AccountID: "s2", AccessToken: "tt-good"},
	)

	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "s2"},
		credential.AccountCredential{AccountID: "gone"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)

	acc := res.Platforms[0].Accounts
	require.Len(t, acc, 2)
	assert.True(t, acc[0].Success)
	assert.Equal(t, "s2", acc[0].AccountID)
	assert.False(t, acc[1].Success)
	assert.Equal(t, "credential_missing", acc[1].ErrorKind)
	assert.Len(t, h.tiktok.calls, 1)
}

func TestProcessPost_MissingCredentialsSkipPlatform(t *testing.T) {
	h := newHarness()
	post := newPost("p1", credential.PlatformTikTok, credential.PlatformTwitter)
	post.Accounts[credential.PlatformTwitter] = accounts(credential.AccountCredential{AccountID: "w1", AccessToken: "tw-good"})

	res, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)

	assert.Empty(t, res.Platforms[0].Accounts)
	assert.Equal(t, entity.ErrCredentialMissing.Error(), res.Platforms[0].Error)
	assert.True(t, res.Platforms[1].Accounts[0].Success)
	assert.Empty(t, h.tiktok.calls)
}

func TestProcessPost_WriteBackFailureIsNotPropagated(t *testing.T) {
	h := newHarness()
	h.store.putErr = credential.ErrCredentialNotFound
	h.tRefresh.outcomes = []refreshOutcome{{cred: &credential.AccountCredential{AccountID: "t1", AccessToken: "tt-new"}}}

	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-old", RefreshToken: "rt-1"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Len(t, h.store.puts, 1)
}

func TestProcessPost_MixedPlatforms(t *testing.T) {
	h := newHarness()
	post := newPost("p1", credential.PlatformTikTok, credential.PlatformTwitter)
	post.Accounts[credential.PlatformTikTok] = accounts(
		credential.AccountCredential{AccountID: "t1", AccessToken: "tt-good"},
		credential.AccountCredential{AccountID: "t2", AccessToken: "tt-expired"},
	)
	post.Accounts[credential.PlatformTwitter] = accounts(
		credential.AccountCredential{AccountID: "w1", AccessToken: "tw-good"},
	)

	res, err := h.policy.ProcessPost(context.Background(), post)
	require.NoError(t, err)

	tt := res.Platform(credential.PlatformTikTok)
	require.NotNil(t, tt)
	require.Len(t, tt.Accounts, 2)
	assert.True(t, tt.Accounts[0].Success)
	assert.False(t, tt.Accounts[1].Success)
	assert.Equal(t, "auth_expired", tt.Accounts[1].ErrorKind)

	tw := res.Platform(credential.PlatformTwitter)
	require.NotNil(t, tw)
	assert.True(t, tw.Accounts[0].Success)

	assert.Empty(t, h.tRefresh.calls)
	assert.Empty(t, h.store.puts)

	ok, failed := res.Counts()
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)
}

// --- scheduling and immediate path ---

func duePost(id string, at time.Time) *entity.Post {
	p := newPost(id, credential.PlatformTikTok)
	p.Scheduled = true
	p.ScheduledAt = &at
	p.Accounts[credential.PlatformTikTok] = accounts(credential.AccountCredential{AccountID: "t1", AccessToken: "tt-good"})
	return p
}

func TestProcessDuePosts(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	failing := duePost("fail", now.Add(-2*time.Minute))
	ok := duePost("ok", now.Add(-time.Minute))
	future := duePost("future", now.Add(time.Minute))
	taken := duePost("taken", now.Add(-time.Minute))
	inflight := duePost("inflight", now.Add(-time.Hour))
	inflight.Status = entity.PostStatusProcessing

	h := newHarness(failing, ok, future, taken, inflight)
	h.repo.claimLoses["taken"] = true
	h.tiktok.failWith[failing.Caption] = fmt.Errorf("%w: gateway timeout", entity.ErrRemoteTransient)

	require.NoError(t, h.policy.ProcessDuePosts(context.Background(), now))

	status, msg := h.repo.status("fail")
	assert.Equal(t, entity.PostStatusFailed, status)
	assert.Contains(t, msg, "publishing failed on every platform")

	status, msg = h.repo.status("ok")
	assert.Equal(t, entity.PostStatusCompleted, status)
	assert.Empty(t, msg)

	status, _ = h.repo.status("future")
	assert.Equal(t, entity.PostStatusPending, status)

	status, _ = h.repo.status("taken")
	assert.Equal(t, entity.PostStatusPending, status)

	captions := make([]string, 0)
	for _, c := range h.tiktok.calls {
		captions = append(captions, c.Caption)
	}
	assert.Equal(t, []string{"caption fail", "caption ok"}, captions)

	status, _ = h.repo.status("inflight")
	assert.Equal(t, entity.PostStatusProcessing, status)

	// nothing left to pick up on the next tick
	require.NoError(t, h.policy.ProcessDuePosts(context.Background(), now.Add(time.Second)))
	assert.Len(t, h.tiktok.calls, 2)
}

func TestProcessDuePosts_CancelledBeforeStart(t *testing.T) {
	now := time.Now()
	h := newHarness(duePost("p1", now.Add(-time.Minute)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.policy.ProcessDuePosts(ctx, now)
	assert.ErrorIs(t, err, context.Canceled)
	status, _ := h.repo.status("p1")
	assert.Equal(t, entity.PostStatusPending, status)
}

func TestPublishNow(t *testing.T) {
	post := newPost("p1", credential.PlatformTikTok)
	post.Accounts[credential.PlatformTikTok] = accounts(credential.AccountCredential{AccountID: "t1", AccessToken: "tt-good"})
	h := newHarness(post)

	ctx, cancel := context.WithCancel(context.Background())
	got, err := h.policy.PublishNow(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, entity.PostStatusProcessing, got.Status)
	cancel()

	h.policy.Wait()

	status, _ := h.repo.status("p1")
	assert.Equal(t, entity.PostStatusCompleted, status)

	_, err = h.policy.PublishNow(context.Background(), "p1")
	assert.ErrorIs(t, err, entity.ErrPostNotPending)
}

func TestPublishNow_NotFound(t *testing.T) {
	h := newHarness()
	_, err := h.policy.PublishNow(context.Background(), "missing")
	assert.ErrorIs(t, err, entity.ErrPostNotFound)
}

func TestCreatePost_PublishNow(t *testing.T) {
	h := newHarness()

	post, err := h.policy.CreatePost(context.Background(), CreatePostInput{
		UserID:    "user-1",
		VideoURL:  "https://cdn.example.com/v.mp4",
		Platforms: []credential.Platform{credential.PlatformTwitter},
		Accounts: map[credential.Platform][]credential.AccountCredential{
			credential.PlatformTwitter: {{AccountID: "w1", AccessToken: "tw-good"}},
		},
		PublishNow: true,
	})
	require.NoError(t, err)

	h.policy.Wait()

	status, _ := h.repo.status(post.ID)
	assert.Equal(t, entity.PostStatusCompleted, status)
	assert.Len(t, h.twitter.calls, 1)
}

type denyGate struct{}

func (denyGate) Allow(context.Context, string) error { return entity.ErrPlanLimitReached }

func TestCreatePost_PlanGate(t *testing.T) {
	h := newHarness()
	h.policy.gate = denyGate{}

	_, err := h.policy.CreatePost(context.Background(), CreatePostInput{
		UserID:    "user-1",
		VideoURL:  "https://cdn.example.com/v.mp4",
		Platforms: []credential.Platform{credential.PlatformTwitter},
	})
	assert.ErrorIs(t, err, entity.ErrPlanLimitReached)
	assert.Empty(t, h.repo.posts)
}

func TestCreatePost_ScheduledAndPublishNowConflict(t *testing.T) {
	h := newHarness()
	at := time.Now().Add(time.Hour)

	_, err := h.policy.CreatePost(context.Background(), CreatePostInput{
		UserID:      "user-1",
		VideoURL:    "https://cdn.example.com/v.mp4",
		Platforms:   []credential.Platform{credential.PlatformTwitter},
		ScheduledAt: &at,
		PublishNow:  true,
	})
	assert.True(t, errors.Is(err, entity.ErrInvalidPostData))
}
