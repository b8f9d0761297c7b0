package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/domain/post/entity"
	"github.com/vadim/neo-publisher/internal/retry"
)

// target is one account to publish to, or the reason it cannot be
type target struct {
	account credential.AccountCredential
	err     error
}

// stagedCredential is a refreshed credential awaiting write-back
type stagedCredential struct {
	platform credential.Platform
	account  credential.AccountCredential
}

// dispatchState carries what one dispatch learns along the way
type dispatchState struct {
	post      *entity.Post
	refreshed map[string]int // platform/account -> index into staged
	staged    []stagedCredential
}

func (s *dispatchState) stage(platform credential.Platform, acc credential.AccountCredential) {
	key := string(platform) + "/" + acc.AccountID
	if i, ok := s.refreshed[key]; ok {
		s.staged[i].account = acc
		return
	}
	s.refreshed[key] = len(s.staged)
	s.staged = append(s.staged, stagedCredential{platform: platform, account: acc})
}

// current returns the freshest known credential for an account
func (s *dispatchState) current(platform credential.Platform, acc credential.AccountCredential) credential.AccountCredential {
	if i, ok := s.refreshed[string(platform)+"/"+acc.AccountID]; ok {
		return s.staged[i].account
	}
	return acc
}

// ProcessPost publishes a post to every target account of every platform.
// Platforms and accounts are handled strictly in order with the configured
// delays between them. The dispatch succeeds if at least one account was
// published; otherwise it returns the result together with
// entity.ErrAllPlatformsFailed.
func (p *Policy) ProcessPost(ctx context.Context, post *entity.Post) (*entity.Result, error) {
	if err := post.Validate(); err != nil {
		return nil, err
	}
	for _, pl := range post.Platforms {
		if _, ok := p.platforms[pl]; !ok {
			return nil, fmt.Errorf("%w: no publisher for platform %q", entity.ErrInvalidPostData, pl)
		}
	}

	state := &dispatchState{post: post, refreshed: make(map[string]int)}
	result := &entity.Result{Platforms: make([]entity.PlatformResult, 0, len(post.Platforms))}

	for i, pl := range post.Platforms {
		if i > 0 {
			p.wait(ctx, p.cfg.PlatformDelay)
		}
		result.Platforms = append(result.Platforms, p.publishPlatform(ctx, state, pl))
	}

	p.writeBack(ctx, post.UserID, state.staged)

	if !result.Succeeded() {
		return result, fmt.Errorf("%w: %s", entity.ErrAllPlatformsFailed, result.Summary())
	}
	return result, nil
}

func (p *Policy) publishPlatform(ctx context.Context, state *dispatchState, pl credential.Platform) entity.PlatformResult {
	handler := p.platforms[pl]
	pr := entity.PlatformResult{Platform: pl}

	targets, err := p.resolveTargets(ctx, state.post, pl)
	if err != nil {
		p.logger.Warn("skipping platform", "post_id", state.post.ID, "platform", pl, "error", err)
		pr.Error = err.Error()
		return pr
	}

	delay := p.cfg.AccountDelay
	if handler.AccountDelay > 0 {
		delay = handler.AccountDelay
	}

	for i, t := range targets {
		if i > 0 {
			p.wait(ctx, delay)
		}

		if t.err != nil {
			pr.Accounts = append(pr.Accounts, failedAttempt(t.account, t.err))
			continue
		}

		acc := state.current(pl, t.account)
		attempt := p.publishAccount(ctx, state, pl, handler, acc)
		pr.Accounts = append(pr.Accounts, attempt)
	}

	return pr
}

// resolveTargets returns the accounts to publish to on a platform.
// Embedded credentials are used as-is; references are looked up in the
// credential store by account id; a platform without references publishes
// to every stored account.
func (p *Policy) resolveTargets(ctx context.Context, post *entity.Post, pl credential.Platform) ([]target, error) {
	refs := post.AccountsFor(pl)

	if post.HasEmbeddedCredentials(pl) {
		targets := make([]target, len(refs))
		for i, r := range refs {
			targets[i] = target{account: r}
		}
		return targets, nil
	}

	stored, err := p.credentials.GetCredentials(ctx, post.UserID, pl)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	if len(refs) == 0 {
		if len(stored) == 0 {
			return nil, entity.ErrCredentialMissing
		}
		targets := make([]target, len(stored))
		for i, s := range stored {
			targets[i] = target{account: s}
		}
		return targets, nil
	}

	byID := make(map[string]credential.AccountCredential, len(stored))
	for _, s := range stored {
		byID[s.AccountID] = s
	}

	targets := make([]target, 0, len(refs))
	for _, r := range refs {
		switch {
		case r.IsEmbedded():
			targets = append(targets, target{account: r})
		case byID[r.AccountID].IsEmbedded():
			targets = append(targets, target{account: byID[r.AccountID]})
		default:
			targets = append(targets, target{account: r, err: entity.ErrCredentialMissing})
		}
	}
	return targets, nil
}

// publishAccount publishes to one account, refreshing the credential once
// and retrying once if the platform reports an expired token
func (p *Policy) publishAccount(ctx context.Context, state *dispatchState, pl credential.Platform, handler Platform, acc credential.AccountCredential) entity.AttemptResult {
	log := p.logger.With("post_id", state.post.ID, "platform", pl, "account_id", acc.AccountID)

	req := entity.PublishRequest{
		PostID:   state.post.ID,
		VideoURL: state.post.VideoURL,
		Caption:  state.post.Caption,
		Account:  acc,
	}

	res, err := handler.Publisher.Publish(ctx, req)
	if err == nil {
		return succeededAttempt(acc, res, nil)
	}
	if !errors.Is(err, entity.ErrAuthExpired) {
		log.Warn("publish failed", "error", err)
		return failedAttempt(acc, err)
	}

	if handler.Refresher == nil || !acc.CanRefresh() {
		log.Warn("access token expired and cannot be refreshed", "error", err)
		return failedAttempt(acc, err)
	}

	refreshed, rerr := p.refresh(ctx, handler.Refresher, acc)
	if rerr != nil {
		log.Warn("credential refresh failed", "error", rerr)
		return failedAttempt(acc, fmt.Errorf("%w: %w", entity.ErrAuthExpired, rerr))
	}
	state.stage(pl, *refreshed)
	log.Info("credential refreshed, retrying publish")

	req.Account = *refreshed
	res, err = handler.Publisher.Publish(ctx, req)
	if err != nil {
		log.Warn("publish failed after refresh", "error", err)
		return failedAttempt(*refreshed, err)
	}

	return succeededAttempt(*refreshed, res, refreshed)
}

// refresh calls the refresher, retrying a transient failure once
func (p *Policy) refresh(ctx context.Context, r Refresher, acc credential.AccountCredential) (*credential.AccountCredential, error) {
	policy := retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   p.cfg.RefreshRetryDelay,
		MaxDelay:    p.cfg.RefreshRetryDelay,
		Retryable: func(err error) bool {
			return errors.Is(err, credential.ErrRefreshTransient)
		},
	}

	var refreshed *credential.AccountCredential
	err := policy.Do(ctx, p.sleep, func(int) error {
		var err error
		refreshed, err = r.Refresh(ctx, acc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// writeBack persists refreshed credentials. Failures are logged only since
// the publish already happened.
func (p *Policy) writeBack(ctx context.Context, userID string, staged []stagedCredential) {
	for _, s := range staged {
		err := p.credentials.PutCredentials(ctx, userID, s.platform, s.account.AccountID, credential.UpdateFrom(s.account))
		if err != nil {
			p.logger.Warn("failed to persist refreshed credential",
				"platform", s.platform,
				"account_id", s.account.AccountID,
				"error", err,
			)
		}
	}
}

// wait sleeps between platform calls. No dispatch is cancelled once it has
// started, so a sleeper error is only logged.
func (p *Policy) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if err := p.sleep(ctx, d); err != nil {
		p.logger.Debug("dispatch delay interrupted", "error", err)
	}
}

func succeededAttempt(acc credential.AccountCredential, res *entity.AttemptResult, refreshed *credential.AccountCredential) entity.AttemptResult {
	out := entity.AttemptResult{Success: true, State: entity.AttemptStatePublished}
	if res != nil {
		out = *res
		out.Success = true
	}
	out.AccountID = acc.AccountID
	if out.Username == "" {
		out.Username = acc.Username
	}
	out.Refreshed = refreshed
	return out
}

func failedAttempt(acc credential.AccountCredential, err error) entity.AttemptResult {
	return entity.AttemptResult{
		AccountID: acc.AccountID,
		Username:  acc.Username,
		Error:     err.Error(),
		ErrorKind: entity.ErrorKind(err),
	}
}
