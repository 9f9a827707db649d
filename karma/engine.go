/*
engine.go - Pull request state machine and event dispatch

PURPOSE:
  The Engine is the only writer of PullRequestRecords. It consumes the
  closed event union, drives each event through the provisioner, gate,
  or rewarder, and emits the desired external effects (comments, check
  runs, label compensations) through the host sink.

STATE MACHINE:
  open -> funded (charged; latched until close)
       -> unfunded (re-evaluatable on synchronize/recheck)
  any  -> closed/merged

CONCURRENCY:
  Transitions are serialized per (repo, PR number) with a keyed mutex.
  The lock is held across the record read, the gate's read-balance/charge
  sequence, and the record write, but host sink calls run after the
  critical section, so tail latency on the host API never extends the
  lock.

ERROR POLICY:
  Insufficient funds is a business outcome rendered to the user, not an
  error. Duplicates collapse silently. A failed record-store call aborts
  the handler before any partial ledger mutation. A failed sink call is
  logged and counted; there is no retry queue.
*/
package karma

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gitkarma/engine/gh"
	"github.com/gitkarma/engine/ledger"
	"github.com/gitkarma/engine/observability"
	"go.uber.org/zap"
)

// Engine reacts to inbound repository events.
type Engine struct {
	records RecordStore
	prov    *Provisioner
	gate    *Gate
	rewards *Rewarder
	sink    gh.Sink
	caps    gh.CapabilityLookup
	log     *zap.Logger
	locks   *keyedMutex
}

// NewEngine wires the core together. All collaborators are injected;
// the engine holds no globals.
func NewEngine(records RecordStore, prov *Provisioner, gate *Gate, rewards *Rewarder, sink gh.Sink, caps gh.CapabilityLookup, log *zap.Logger) *Engine {
	return &Engine{
		records: records,
		prov:    prov,
		gate:    gate,
		rewards: rewards,
		sink:    sink,
		caps:    caps,
		log:     log,
		locks:   newKeyedMutex(),
	}
}

// Handle processes one inbound event to completion.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		observability.EventsProcessed.WithLabelValues(string(ev.Kind()), "invalid").Inc()
		return fmt.Errorf("%w: %s: %s", ErrInvalidEvent, ev.Kind(), err)
	}

	var err error
	switch ev := ev.(type) {
	case RepoInstalled:
		_, err = e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	case PROpened:
		err = e.handleOpened(ctx, ev)
	case PRReopened:
		err = e.handleReopened(ctx, ev)
	case PRSynchronized:
		err = e.handleSynchronized(ctx, ev)
	case PRClosed:
		err = e.handleClosed(ctx, ev)
	case CommentCreated:
		err = e.handleComment(ctx, ev)
	case ReviewSubmitted:
		err = e.handleReview(ctx, ev)
	case PRLabeled:
		err = e.handleLabeled(ctx, ev)
	case PRUnlabeled:
		err = e.handleUnlabeled(ctx, ev)
	default:
		err = fmt.Errorf("unhandled event kind %q", ev.Kind())
	}

	outcome := "ok"
	if err != nil {
		outcome = "dropped"
	}
	observability.EventsProcessed.WithLabelValues(string(ev.Kind()), outcome).Inc()
	return err
}

// effect is a deferred sink call, executed after the per-PR critical
// section is released.
type effect func(ctx context.Context)

func (e *Engine) run(ctx context.Context, effects []effect) {
	for _, fx := range effects {
		fx(ctx)
	}
}

func (e *Engine) postComment(repo gh.RepoRef, number int, body string) effect {
	return func(ctx context.Context) {
		if err := e.sink.PostComment(ctx, repo, number, body); err != nil {
			observability.HostSinkErrors.Inc()
			e.log.Error("post comment failed", zap.String("repo", repo.String()),
				zap.Int("pr", number), zap.Error(err))
		}
	}
}

func (e *Engine) setCheck(repo gh.RepoRef, check gh.CheckRun) effect {
	return func(ctx context.Context) {
		if err := e.sink.SetCheckRun(ctx, repo, check); err != nil {
			observability.HostSinkErrors.Inc()
			e.log.Error("set check run failed", zap.String("repo", repo.String()),
				zap.String("head", check.HeadSHA), zap.Error(err))
		}
	}
}

// ─── Funding transitions (opened / reopened / synchronized / recheck) ───────

func (e *Engine) handleOpened(ctx context.Context, ev PROpened) error {
	cfg, err := e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	if err != nil {
		return err
	}

	// The in-progress check is tentative and safe to emit before the
	// critical section.
	e.run(ctx, []effect{e.setCheck(ev.Repo(), CheckInProgress(ev.HeadSHA, ev.AuthorLogin, cfg.MergePenalty))})

	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	pr := PullRequestRecord{
		RepoID:      cfg.RepoID,
		Number:      ev.Number,
		AuthorID:    ev.AuthorID,
		AuthorLogin: ev.AuthorLogin,
		HeadSHA:     ev.HeadSHA,
		State:       PRStateOpen,
		CreatedAt:   createdAt,
	}
	// Redelivered open: keep the existing record's latched state.
	if existing, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number); err == nil {
		pr = existing
		pr.HeadSHA = ev.HeadSHA
		pr.State = PRStateOpen
	} else if !errors.Is(err, ErrPullRequestNotFound) {
		unlock()
		return err
	}

	// Already funded (including an admin override, which posted no
	// transfer): the funded state stands and the gate is not re-run.
	if pr.CheckPassed {
		if err := e.records.PutPullRequest(ctx, e.touch(pr)); err != nil {
			unlock()
			return err
		}
		unlock()
		balance := e.authorBalance(ctx, cfg, ev.AuthorID)
		e.run(ctx, []effect{e.setCheck(ev.Repo(),
			CheckFunded(ev.HeadSHA, ev.AuthorLogin, balance+cfg.MergePenalty, balance, cfg.MergePenalty))})
		return nil
	}

	effects, err := e.evaluateFunding(ctx, cfg, &pr, ev.AuthorID, ev.AuthorLogin, true)
	unlock()
	if err != nil {
		return err
	}
	e.run(ctx, effects)
	return nil
}

func (e *Engine) handleReopened(ctx context.Context, ev PRReopened) error {
	cfg, err := e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	if err != nil {
		return err
	}

	e.run(ctx, []effect{e.setCheck(ev.Repo(), CheckInProgress(ev.HeadSHA, ev.AuthorLogin, cfg.MergePenalty))})

	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	pr, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number)
	if errors.Is(err, ErrPullRequestNotFound) {
		pr = PullRequestRecord{
			RepoID:      cfg.RepoID,
			Number:      ev.Number,
			AuthorID:    ev.AuthorID,
			AuthorLogin: ev.AuthorLogin,
			CreatedAt:   time.Now().UTC(),
		}
		err = nil
	}
	if err != nil {
		unlock()
		return err
	}

	pr.HeadSHA = ev.HeadSHA
	pr.State = PRStateOpen

	// An unmerged close cleared CheckPassed, so a reopen re-evaluates
	// from scratch; the charge id for the same head collapses into the
	// original charge if one was already paid.
	if pr.CheckPassed {
		if err := e.records.PutPullRequest(ctx, e.touch(pr)); err != nil {
			unlock()
			return err
		}
		unlock()
		balance := e.authorBalance(ctx, cfg, ev.AuthorID)
		e.run(ctx, []effect{e.setCheck(ev.Repo(),
			CheckFunded(ev.HeadSHA, ev.AuthorLogin, balance+cfg.MergePenalty, balance, cfg.MergePenalty))})
		return nil
	}

	effects, err := e.evaluateFunding(ctx, cfg, &pr, ev.AuthorID, ev.AuthorLogin, true)
	unlock()
	if err != nil {
		return err
	}
	e.run(ctx, effects)
	return nil
}

func (e *Engine) handleSynchronized(ctx context.Context, ev PRSynchronized) error {
	cfg, err := e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	if err != nil {
		return err
	}

	e.run(ctx, []effect{e.setCheck(ev.Repo(), CheckInProgress(ev.HeadSHA, ev.AuthorLogin, cfg.MergePenalty))})

	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	pr, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number)
	if errors.Is(err, ErrPullRequestNotFound) {
		// Out-of-order delivery: synchronize before opened. Provision the
		// record lazily and evaluate as if opened.
		pr = PullRequestRecord{
			RepoID:      cfg.RepoID,
			Number:      ev.Number,
			AuthorID:    ev.AuthorID,
			AuthorLogin: ev.AuthorLogin,
			State:       PRStateOpen,
			CreatedAt:   time.Now().UTC(),
		}
		err = nil
	}
	if err != nil {
		unlock()
		return err
	}

	pr.HeadSHA = ev.HeadSHA
	pr.State = PRStateOpen

	// Already funded: the new commit inherits the passing check.
	// No comment, no re-charge.
	if pr.CheckPassed {
		if err := e.records.PutPullRequest(ctx, e.touch(pr)); err != nil {
			unlock()
			return err
		}
		unlock()
		e.log.Info("pull request already funded, passing new head",
			zap.Uint64("repo_id", cfg.RepoID), zap.Int("pr", ev.Number))
		balance := e.authorBalance(ctx, cfg, ev.AuthorID)
		e.run(ctx, []effect{e.setCheck(ev.Repo(),
			CheckFunded(ev.HeadSHA, ev.AuthorLogin, balance+cfg.MergePenalty, balance, cfg.MergePenalty))})
		return nil
	}

	effects, err := e.evaluateFunding(ctx, cfg, &pr, ev.AuthorID, ev.AuthorLogin, true)
	unlock()
	if err != nil {
		return err
	}
	e.run(ctx, effects)
	return nil
}

// evaluateFunding runs the gate for the record's current head, persists
// the transition, and returns the terminal effects. Caller holds the
// per-PR lock.
func (e *Engine) evaluateFunding(ctx context.Context, cfg RepoConfig, pr *PullRequestRecord, authorID uint64, authorLogin string, comment bool) ([]effect, error) {
	repo := gh.RepoRef{Owner: cfg.RepoOwner, Name: cfg.RepoName}

	chargeID := ledger.ChargeTransferID(cfg.RepoID, pr.Number, pr.HeadSHA)
	outcome, err := e.gate.Evaluate(ctx, cfg, authorID, chargeID)
	if err != nil {
		return nil, err
	}

	pr.CheckPassed = outcome.Passed
	if err := e.records.PutPullRequest(ctx, e.touch(*pr)); err != nil {
		return nil, err
	}

	if outcome.Bypassed {
		return []effect{e.setCheck(repo, CheckBypassed(pr.HeadSHA))}, nil
	}

	if outcome.Passed {
		effects := []effect{}
		if comment {
			effects = append(effects, e.postComment(repo, pr.Number,
				FundedComment(authorLogin, outcome.BalanceAfter, cfg.RecheckToken, cfg.AdminRecheckToken)))
		}
		effects = append(effects, e.setCheck(repo,
			CheckFunded(pr.HeadSHA, authorLogin, outcome.BalanceBefore, outcome.BalanceAfter, cfg.MergePenalty)))
		return effects, nil
	}

	effects := []effect{}
	if comment {
		effects = append(effects, e.postComment(repo, pr.Number,
			InsufficientFundsComment(authorLogin, outcome.BalanceBefore, cfg.MergePenalty, cfg.RecheckToken, cfg.AdminRecheckToken)))
	}
	effects = append(effects, e.setCheck(repo,
		CheckFailed(pr.HeadSHA, authorLogin, outcome.BalanceBefore, cfg.MergePenalty)))
	return effects, nil
}

// ─── Comment triggers ───────────────────────────────────────────────────────

func (e *Engine) handleComment(ctx context.Context, ev CommentCreated) error {
	cfg, err := e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	if err != nil {
		return err
	}

	body := strings.TrimSpace(ev.Body)
	switch body {
	case BalanceToken:
		return e.replyBalance(ctx, cfg, ev)
	case cfg.RecheckToken:
		return e.recheck(ctx, cfg, ev)
	case cfg.AdminRecheckToken:
		return e.adminRecheck(ctx, cfg, ev)
	}

	// Ordinary comment: pay the comment bonus, once per comment id.
	if cfg.Disabled || IsBot(ev.ActorLogin) {
		return nil
	}
	if err := e.records.InsertComment(ctx, CommentRecord{
		RepoID:      cfg.RepoID,
		PRNumber:    ev.Number,
		CommentID:   ev.CommentID,
		AuthorID:    ev.ActorID,
		AuthorLogin: ev.ActorLogin,
		CreatedAt:   time.Now().UTC(),
	}); err != nil && !errors.Is(err, ErrCommentExists) {
		return err
	}
	_, _, err = e.rewards.RewardComment(ctx, cfg, ev)
	return err
}

func (e *Engine) replyBalance(ctx context.Context, cfg RepoConfig, ev CommentCreated) error {
	acct, err := e.prov.ResolveUserAccount(ctx, cfg, ev.ActorID)
	if err != nil {
		return err
	}
	e.run(ctx, []effect{e.postComment(ev.Repo(), ev.Number, BalanceComment(ev.ActorLogin, acct.Balance()))})
	return nil
}

func (e *Engine) recheck(ctx context.Context, cfg RepoConfig, ev CommentCreated) error {
	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	pr, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number)
	if err != nil {
		unlock()
		if errors.Is(err, ErrPullRequestNotFound) {
			e.log.Warn("recheck for untracked pull request",
				zap.Uint64("repo_id", cfg.RepoID), zap.Int("pr", ev.Number))
			return nil
		}
		return err
	}
	if pr.State != PRStateOpen {
		unlock()
		return nil
	}
	if pr.CheckPassed {
		unlock()
		e.run(ctx, []effect{e.postComment(ev.Repo(), ev.Number, AlreadyFundedComment(ev.Number))})
		return nil
	}

	effects, err := e.evaluateFunding(ctx, cfg, &pr, pr.AuthorID, pr.AuthorLogin, true)
	unlock()
	if err != nil {
		return err
	}
	e.run(ctx, effects)
	return nil
}

func (e *Engine) adminRecheck(ctx context.Context, cfg RepoConfig, ev CommentCreated) error {
	if !cfg.AdminOverrideEnabled {
		e.log.Info("admin override disabled for repo", zap.Uint64("repo_id", cfg.RepoID))
		return nil
	}

	isAdmin, err := e.caps.IsAdmin(ctx, ev.Repo(), ev.ActorLogin)
	if err != nil {
		return fmt.Errorf("admin lookup for %s: %w", ev.ActorLogin, err)
	}
	if !isAdmin {
		// No state change, no revert needed: the trigger comment itself is
		// harmless. Log and ignore.
		e.log.Warn("non-admin attempted admin recheck",
			zap.Uint64("repo_id", cfg.RepoID),
			zap.Int("pr", ev.Number),
			zap.String("actor", ev.ActorLogin))
		return nil
	}

	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	pr, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number)
	if err != nil {
		unlock()
		if errors.Is(err, ErrPullRequestNotFound) {
			e.log.Warn("admin recheck for untracked pull request",
				zap.Uint64("repo_id", cfg.RepoID), zap.Int("pr", ev.Number))
			return nil
		}
		return err
	}
	if pr.State != PRStateOpen {
		unlock()
		return nil
	}
	if pr.CheckPassed {
		unlock()
		e.run(ctx, []effect{e.postComment(ev.Repo(), ev.Number, AlreadyFundedComment(ev.Number))})
		return nil
	}

	// Explicit bypass: no ledger mutation, distinct from a normal pass.
	pr.CheckPassed = true
	pr.AdminApproved = true
	if err := e.records.PutPullRequest(ctx, e.touch(pr)); err != nil {
		unlock()
		return err
	}
	unlock()

	e.run(ctx, []effect{
		e.postComment(ev.Repo(), ev.Number, AdminOverrideComment(ev.ActorLogin, ev.Number)),
		e.setCheck(ev.Repo(), CheckAdminApproved(pr.HeadSHA)),
	})
	return nil
}

// ─── Reviews ────────────────────────────────────────────────────────────────

func (e *Engine) handleReview(ctx context.Context, ev ReviewSubmitted) error {
	if IsBot(ev.ReviewerLogin) || ev.State == "dismissed" {
		return nil
	}
	cfg, err := e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	if err != nil {
		return err
	}
	if cfg.Disabled {
		return nil
	}

	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	pr, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number)
	if err != nil {
		unlock()
		if errors.Is(err, ErrPullRequestNotFound) {
			e.log.Error("review for untracked pull request",
				zap.Uint64("repo_id", cfg.RepoID), zap.Int("pr", ev.Number))
			return nil
		}
		return err
	}

	// Record the fact before paying. A replayed event finds the record
	// already present; payment dedup is governed by the transfer id.
	if err := e.records.InsertReview(ctx, ReviewRecord{
		RepoID:        cfg.RepoID,
		PRNumber:      ev.Number,
		ReviewID:      ev.ReviewID,
		ReviewerID:    ev.ReviewerID,
		ReviewerLogin: ev.ReviewerLogin,
		State:         ev.State,
		SubmittedAt:   ev.SubmittedAt,
	}); err != nil && !errors.Is(err, ErrReviewExists) {
		unlock()
		return err
	}

	var pendingBounty int64
	if pr.Bounty != nil {
		pendingBounty = *pr.Bounty
	}

	reward, applied, err := e.rewards.RewardReview(ctx, cfg, pr, ev, pendingBounty)
	if err != nil {
		unlock()
		return err
	}
	if !applied {
		// Replay: the original delivery already paid and claimed.
		unlock()
		return nil
	}

	effects := []effect{}
	if pendingBounty > 0 {
		pr.Bounty = nil
		if err := e.records.PutPullRequest(ctx, e.touch(pr)); err != nil {
			unlock()
			return err
		}
		repo := ev.Repo()
		label := BountyLabel(pendingBounty)
		effects = append(effects, func(ctx context.Context) {
			if err := e.sink.RemoveLabel(ctx, repo, ev.Number, label); err != nil {
				observability.HostSinkErrors.Inc()
				e.log.Error("remove bounty label failed", zap.String("repo", repo.String()), zap.Error(err))
			}
		})
	}
	unlock()

	effects = append(effects, e.postComment(ev.Repo(), ev.Number, ReviewRewardComment(ev.ReviewerLogin, reward)))
	e.run(ctx, effects)
	return nil
}

// ─── Close ──────────────────────────────────────────────────────────────────

func (e *Engine) handleClosed(ctx context.Context, ev PRClosed) error {
	cfg, err := e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	pr, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number)
	if err != nil {
		unlock()
		if errors.Is(err, ErrPullRequestNotFound) {
			e.log.Warn("close for untracked pull request",
				zap.Uint64("repo_id", cfg.RepoID), zap.Int("pr", ev.Number))
			return nil
		}
		return err
	}

	if ev.Merged {
		pr.State = PRStateMerged
	} else {
		pr.State = PRStateClosed
		// The funded state does not survive an unmerged close; a reopen
		// re-evaluates from scratch.
		pr.CheckPassed = false
		pr.AdminApproved = false
	}
	if err := e.records.PutPullRequest(ctx, e.touch(pr)); err != nil {
		unlock()
		return err
	}
	unlock()

	if cfg.Disabled {
		return nil
	}

	if ev.Merged {
		// Approvers are named in the merge message. Merge-time approver
		// payouts are an unresolved product decision and intentionally not
		// applied to the ledger here.
		seen := map[uint64]bool{}
		var logins []string
		for _, a := range ev.Approvers {
			if !seen[a.ID] && !IsBot(a.Login) {
				seen[a.ID] = true
				logins = append(logins, a.Login)
			}
		}
		e.run(ctx, []effect{e.postComment(ev.Repo(), ev.Number, MergedComment(ev.AuthorLogin, ev.Number, logins))})
		return nil
	}

	e.run(ctx, []effect{e.postComment(ev.Repo(), ev.Number, ClosedComment(ev.AuthorLogin, ev.Number))})
	return nil
}

// ─── Bounty labels ──────────────────────────────────────────────────────────

var bountyLabelRe = regexp.MustCompile(`^bounty: (\d+) karma$`)

// BountyLabel renders the label name carrying a bounty amount.
func BountyLabel(amount int64) string {
	return fmt.Sprintf("bounty: %d karma", amount)
}

// ParseBountyLabel extracts the amount from a bounty label name.
func ParseBountyLabel(name string) (int64, bool) {
	m := bountyLabelRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || amount < 0 {
		return 0, false
	}
	return amount, true
}

func (e *Engine) handleLabeled(ctx context.Context, ev PRLabeled) error {
	amount, ok := ParseBountyLabel(ev.Label)
	if !ok {
		return nil
	}
	cfg, err := e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	if err != nil {
		return err
	}

	// The label already exists on the host before authorization can be
	// checked: optimistic apply, compensate on failure.
	isAdmin, err := e.caps.IsAdmin(ctx, ev.Repo(), ev.ActorLogin)
	if err != nil {
		return fmt.Errorf("admin lookup for %s: %w", ev.ActorLogin, err)
	}
	if !isAdmin {
		e.log.Warn("non-admin attempted to add bounty label",
			zap.Uint64("repo_id", cfg.RepoID),
			zap.Int("pr", ev.Number),
			zap.String("actor", ev.ActorLogin))
		e.run(ctx, []effect{func(ctx context.Context) {
			if err := e.sink.RemoveLabel(ctx, ev.Repo(), ev.Number, ev.Label); err != nil {
				observability.HostSinkErrors.Inc()
				e.log.Error("revert bounty label failed", zap.Error(err))
			}
		}})
		return nil
	}

	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	pr, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number)
	if err != nil {
		unlock()
		if errors.Is(err, ErrPullRequestNotFound) {
			e.log.Warn("bounty label for untracked pull request",
				zap.Uint64("repo_id", cfg.RepoID), zap.Int("pr", ev.Number))
			return nil
		}
		return err
	}

	effects := []effect{}
	if pr.Bounty != nil && *pr.Bounty != amount {
		// Replace: drop the stale label from the host.
		stale := BountyLabel(*pr.Bounty)
		repo := ev.Repo()
		effects = append(effects, func(ctx context.Context) {
			if err := e.sink.RemoveLabel(ctx, repo, ev.Number, stale); err != nil {
				observability.HostSinkErrors.Inc()
				e.log.Error("remove stale bounty label failed", zap.Error(err))
			}
		})
	}
	pr.Bounty = &amount
	if err := e.records.PutPullRequest(ctx, e.touch(pr)); err != nil {
		unlock()
		return err
	}
	unlock()

	effects = append(effects, e.postComment(ev.Repo(), ev.Number, BountyAddedComment(amount)))
	e.run(ctx, effects)
	return nil
}

func (e *Engine) handleUnlabeled(ctx context.Context, ev PRUnlabeled) error {
	_, ok := ParseBountyLabel(ev.Label)
	if !ok {
		return nil
	}
	cfg, err := e.prov.ResolveRepoConfig(ctx, ev.EventMeta)
	if err != nil {
		return err
	}

	isAdmin, err := e.caps.IsAdmin(ctx, ev.Repo(), ev.ActorLogin)
	if err != nil {
		return fmt.Errorf("admin lookup for %s: %w", ev.ActorLogin, err)
	}
	if !isAdmin {
		// Compensate: restore the label the actor removed.
		e.log.Warn("non-admin attempted to remove bounty label",
			zap.Uint64("repo_id", cfg.RepoID),
			zap.Int("pr", ev.Number),
			zap.String("actor", ev.ActorLogin))
		e.run(ctx, []effect{func(ctx context.Context) {
			if err := e.sink.AddLabel(ctx, ev.Repo(), ev.Number, ev.Label); err != nil {
				observability.HostSinkErrors.Inc()
				e.log.Error("restore bounty label failed", zap.Error(err))
			}
		}})
		return nil
	}

	unlock := e.locks.Lock(cfg.RepoID, ev.Number)
	pr, err := e.records.GetPullRequest(ctx, cfg.RepoID, ev.Number)
	if err != nil {
		unlock()
		if errors.Is(err, ErrPullRequestNotFound) {
			return nil
		}
		return err
	}
	pr.Bounty = nil
	if err := e.records.PutPullRequest(ctx, e.touch(pr)); err != nil {
		unlock()
		return err
	}
	unlock()

	e.run(ctx, []effect{e.postComment(ev.Repo(), ev.Number, BountyRemovedComment())})
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (e *Engine) touch(pr PullRequestRecord) PullRequestRecord {
	pr.UpdatedAt = time.Now().UTC()
	return pr
}

func (e *Engine) authorBalance(ctx context.Context, cfg RepoConfig, userID uint64) int64 {
	acct, err := e.prov.ResolveUserAccount(ctx, cfg, userID)
	if err != nil {
		e.log.Warn("balance read failed", zap.Uint64("user_id", userID), zap.Error(err))
		return 0
	}
	return acct.Balance()
}
