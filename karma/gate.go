/*
gate.go - The funding admission check

PURPOSE:
  The Gate is the admission-control predicate equivalent to a CI check:
  given the author's balance and the repo's merge penalty, decide
  pass/fail and perform the associated charge. It is re-evaluated on
  every new commit to an unfunded PR, but once a PR has paid, subsequent
  commits never re-charge (the state machine short-circuits on
  CheckPassed).

NUMERIC SEMANTICS:
  Amounts are whole, non-negative tokens. The shortfall shown to users is
  mergePenalty - balance, never negative.
*/
package karma

import (
	"context"
	"errors"
	"fmt"

	"github.com/gitkarma/engine/ledger"
	"github.com/gitkarma/engine/observability"
)

// Outcome is the result of one funding gate evaluation.
type Outcome struct {
	Passed        bool
	Bypassed      bool // repo disabled: passed without touching the ledger
	BalanceBefore int64
	BalanceAfter  int64
}

// Shortfall returns how many tokens the author is missing, never negative.
func (o Outcome) Shortfall(penalty int64) int64 {
	if o.Passed || o.BalanceBefore >= penalty {
		return 0
	}
	return penalty - o.BalanceBefore
}

// Gate evaluates funding admission and performs the charge.
type Gate struct {
	ledger *ledger.Ledger
	prov   *Provisioner
}

func NewGate(l *ledger.Ledger, prov *Provisioner) *Gate {
	return &Gate{ledger: l, prov: prov}
}

// Evaluate decides whether the author can fund the pull request and, on
// pass, charges the merge penalty (debit repo, credit user).
//
// chargeID must derive from (repo, PR, head) so a redelivered event
// collapses into the original charge: a duplicate is reported as a pass
// with no further balance change.
//
// Callers must serialize Evaluate per (repo, PR); the read-balance-then-
// charge sequence is a check-then-act race otherwise.
func (g *Gate) Evaluate(ctx context.Context, cfg RepoConfig, userID uint64, chargeID uint64) (Outcome, error) {
	if cfg.Disabled {
		observability.FundingChecks.WithLabelValues("bypassed").Inc()
		return Outcome{Passed: true, Bypassed: true}, nil
	}

	acct, err := g.prov.ResolveUserAccount(ctx, cfg, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("funding gate: %w", err)
	}
	balance := acct.Balance()

	if balance < cfg.MergePenalty {
		observability.FundingChecks.WithLabelValues("insufficient").Inc()
		return Outcome{Passed: false, BalanceBefore: balance, BalanceAfter: balance}, nil
	}

	charge := ledger.Transfer{
		ID:            chargeID,
		DebitAccount:  cfg.AccountID,
		CreditAccount: acct.ID, // credit reduces the user's balance
		Amount:        cfg.MergePenalty,
		Code:          ledger.CodeCharge,
		ScopeID:       cfg.RepoID,
	}
	err = g.ledger.ApplyTransfer(ctx, charge)
	switch {
	case err == nil:
		observability.FundingChecks.WithLabelValues("funded").Inc()
		return Outcome{
			Passed:        true,
			BalanceBefore: balance,
			BalanceAfter:  balance - cfg.MergePenalty,
		}, nil
	case errors.Is(err, ledger.ErrDuplicateTransfer):
		// Redelivery of an already-charged head. The original charge stands.
		observability.FundingChecks.WithLabelValues("funded").Inc()
		return Outcome{
			Passed:        true,
			BalanceBefore: balance + cfg.MergePenalty,
			BalanceAfter:  balance,
		}, nil
	case errors.Is(err, ledger.ErrInsufficientFunds):
		// A concurrent spend on an unrelated PR won the race between our
		// read and the charge. Report the honest failure.
		observability.FundingChecks.WithLabelValues("insufficient").Inc()
		cur, berr := g.ledger.Balance(ctx, acct.ID)
		if berr != nil {
			cur = balance
		}
		return Outcome{Passed: false, BalanceBefore: cur, BalanceAfter: cur}, nil
	default:
		return Outcome{}, fmt.Errorf("funding gate charge: %w", err)
	}
}
