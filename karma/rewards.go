/*
rewards.go - Review and comment payouts

PURPOSE:
  Reviewing and commenting are how contributors earn the tokens they
  later spend on their own pull requests. Every payout is one reward
  transfer keyed by the host's unique review/comment id, so a redelivered
  event pays exactly once.

BONUS COMPOSITION (review):
  base ReviewBonus
  + TimelyReviewBonus  when the review lands within the configured window
  + ComplexityBonus    prorated by reviewed diff size, when enabled
  + pending Bounty     claimed by the first submitted review
*/
package karma

import (
	"context"
	"errors"
	"fmt"

	"github.com/gitkarma/engine/ledger"
	"github.com/gitkarma/engine/observability"
	"github.com/shopspring/decimal"
)

// ReviewReward itemizes one review payout.
type ReviewReward struct {
	Base       int64
	Timely     int64
	Complexity int64
	Bounty     int64
}

func (r ReviewReward) Total() int64 {
	return r.Base + r.Timely + r.Complexity + r.Bounty
}

// Rewarder computes and pays review/comment bonuses.
type Rewarder struct {
	ledger *ledger.Ledger
	prov   *Provisioner
}

func NewRewarder(l *ledger.Ledger, prov *Provisioner) *Rewarder {
	return &Rewarder{ledger: l, prov: prov}
}

// RewardReview pays the reviewer for a submitted review. The transfer is
// keyed by the review id; on redelivery it returns applied=false and the
// caller skips all side effects (comments, bounty clearing).
//
// pendingBounty is the PR's unclaimed bounty, zero when none. It is paid
// as part of the same transfer so the claim is atomic with the reward.
func (r *Rewarder) RewardReview(ctx context.Context, cfg RepoConfig, pr PullRequestRecord, ev ReviewSubmitted, pendingBounty int64) (ReviewReward, bool, error) {
	reward := ReviewReward{Base: cfg.ReviewBonus, Bounty: pendingBounty}

	if cfg.TimelyReviewEnabled && !pr.CreatedAt.IsZero() && !ev.SubmittedAt.IsZero() {
		if ev.SubmittedAt.Sub(pr.CreatedAt) <= cfg.TimelyReviewWindow {
			reward.Timely = cfg.TimelyReviewBonus
		}
	}
	if cfg.ComplexityEnabled {
		reward.Complexity = complexityBonus(cfg, ev.ChangedLines)
	}

	acct, err := r.prov.ResolveUserAccount(ctx, cfg, ev.ReviewerID)
	if err != nil {
		return ReviewReward{}, false, fmt.Errorf("reward review %d: %w", ev.ReviewID, err)
	}

	transfer := ledger.Transfer{
		ID:            ledger.ReviewRewardID(cfg.RepoID, ev.ReviewID),
		DebitAccount:  acct.ID,
		CreditAccount: cfg.AccountID,
		Amount:        reward.Total(),
		Code:          ledger.CodeReward,
		ScopeID:       cfg.RepoID,
	}
	err = r.ledger.ApplyTransfer(ctx, transfer)
	switch {
	case err == nil:
		observability.RewardsPaid.WithLabelValues("review").Inc()
		return reward, true, nil
	case errors.Is(err, ledger.ErrDuplicateTransfer):
		return reward, false, nil
	default:
		return ReviewReward{}, false, fmt.Errorf("reward review %d: %w", ev.ReviewID, err)
	}
}

// RewardComment pays the configured comment bonus, keyed by comment id.
// Returns applied=false on redelivery.
func (r *Rewarder) RewardComment(ctx context.Context, cfg RepoConfig, ev CommentCreated) (int64, bool, error) {
	if cfg.CommentBonus <= 0 {
		return 0, false, nil
	}

	acct, err := r.prov.ResolveUserAccount(ctx, cfg, ev.ActorID)
	if err != nil {
		return 0, false, fmt.Errorf("reward comment %d: %w", ev.CommentID, err)
	}

	transfer := ledger.Transfer{
		ID:            ledger.CommentRewardID(cfg.RepoID, ev.CommentID),
		DebitAccount:  acct.ID,
		CreditAccount: cfg.AccountID,
		Amount:        cfg.CommentBonus,
		Code:          ledger.CodeReward,
		ScopeID:       cfg.RepoID,
	}
	err = r.ledger.ApplyTransfer(ctx, transfer)
	switch {
	case err == nil:
		observability.RewardsPaid.WithLabelValues("comment").Inc()
		return cfg.CommentBonus, true, nil
	case errors.Is(err, ledger.ErrDuplicateTransfer):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("reward comment %d: %w", ev.CommentID, err)
	}
}

// complexityBonus scales the configured maximum by the reviewed diff
// size: the full bonus at or above the threshold, proportionally below
// it. Decimal arithmetic keeps the proration exact before rounding down
// to whole tokens.
func complexityBonus(cfg RepoConfig, changedLines int64) int64 {
	if cfg.ComplexityBonus <= 0 || cfg.ComplexityThreshold <= 0 || changedLines <= 0 {
		return 0
	}
	if changedLines >= cfg.ComplexityThreshold {
		return cfg.ComplexityBonus
	}
	ratio := decimal.NewFromInt(changedLines).Div(decimal.NewFromInt(cfg.ComplexityThreshold))
	return decimal.NewFromInt(cfg.ComplexityBonus).Mul(ratio).IntPart()
}
