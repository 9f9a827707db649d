/*
provisioner.go - Idempotent account provisioning

PURPOSE:
  Accounts come into existence lazily, on the first event that touches a
  (user, repo) pair. Because the event source retries and races, the
  whole provisioning sequence must collapse under concurrent duplicate
  requests: two racing "PR opened" deliveries for a brand-new contributor
  must produce exactly one repo account, one user account, and one
  initial grant.

MECHANISM:
  User account ids and the initial-grant transfer id derive from business
  keys (ledger/ids.go). Whoever loses a creation race sees
  ErrAccountExists / ErrDuplicateTransfer and recovers it as success.
*/
package karma

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gitkarma/engine/ledger"
	"go.uber.org/zap"
)

// EconomyDefaults seeds the RepoConfig of repositories seen for the
// first time. Values come from the daemon configuration.
type EconomyDefaults struct {
	InitialGrant int64
	MergePenalty int64
	ReviewBonus  int64
	CommentBonus int64

	ComplexityBonus     int64
	ComplexityEnabled   bool
	ComplexityThreshold int64

	TimelyReviewBonus   int64
	TimelyReviewWindow  time.Duration
	TimelyReviewEnabled bool

	AdminOverrideEnabled bool

	RecheckToken      string
	AdminRecheckToken string
}

// Provisioner resolves and lazily creates ledger accounts and repo
// configs.
type Provisioner struct {
	ledger   *ledger.Ledger
	records  RecordStore
	defaults EconomyDefaults
	log      *zap.Logger
}

func NewProvisioner(l *ledger.Ledger, records RecordStore, defaults EconomyDefaults, log *zap.Logger) *Provisioner {
	return &Provisioner{ledger: l, records: records, defaults: defaults, log: log}
}

// ResolveRepoConfig returns the repo's config, creating it, and the
// repo's ledger float account, on first contact.
func (p *Provisioner) ResolveRepoConfig(ctx context.Context, meta EventMeta) (RepoConfig, error) {
	cfg, err := p.records.GetRepoConfig(ctx, meta.RepoID)
	switch {
	case err == nil:
		// fallthrough to account backfill below
	case errors.Is(err, ErrRepoNotFound):
		cfg = p.newRepoConfig(meta)
		if err := p.records.PutRepoConfig(ctx, cfg); err != nil {
			return RepoConfig{}, fmt.Errorf("provision repo %d: %w", meta.RepoID, err)
		}
		p.log.Info("provisioned repo",
			zap.Uint64("repo_id", meta.RepoID),
			zap.String("repo", meta.Repo().String()))
	default:
		return RepoConfig{}, fmt.Errorf("resolve repo %d: %w", meta.RepoID, err)
	}

	// Older repo records may predate their float account.
	if cfg.AccountID == 0 {
		acct, err := p.ledger.CreateAccount(ctx, ledger.Account{
			ID:        ledger.NewRepoAccountID(),
			OwnerKind: ledger.OwnerRepo,
			ScopeID:   meta.RepoID,
		})
		if err != nil {
			return RepoConfig{}, fmt.Errorf("provision repo account for %d: %w", meta.RepoID, err)
		}
		cfg.AccountID = acct.ID
		cfg.UpdatedAt = time.Now().UTC()
		if err := p.records.PutRepoConfig(ctx, cfg); err != nil {
			return RepoConfig{}, fmt.Errorf("persist repo account for %d: %w", meta.RepoID, err)
		}
	}
	return cfg, nil
}

// ResolveUserAccount returns the user's account in the repo, creating it
// with the configured initial grant on first contact.
//
// Safe under concurrent duplicate calls: the account id and the grant
// transfer id both derive from (userID, repoID), so races collapse into
// exactly one grant.
func (p *Provisioner) ResolveUserAccount(ctx context.Context, cfg RepoConfig, userID uint64) (ledger.Account, error) {
	id := ledger.UserAccountID(userID, cfg.RepoID)

	acct, err := p.ledger.GetAccount(ctx, id)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		return ledger.Account{}, fmt.Errorf("resolve user account %d: %w", id, err)
	}

	acct, err = p.ledger.CreateAccount(ctx, ledger.Account{
		ID:          id,
		OwnerKind:   ledger.OwnerUser,
		ScopeID:     cfg.RepoID,
		Constrained: true,
	})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("create user account %d: %w", id, err)
	}

	grant := ledger.Transfer{
		ID:            ledger.GrantTransferID(userID, cfg.RepoID),
		DebitAccount:  acct.ID, // grant debits the user: balance goes up
		CreditAccount: cfg.AccountID,
		Amount:        cfg.InitialGrant,
		Code:          ledger.CodeGrant,
		ScopeID:       cfg.RepoID,
	}
	if err := p.ledger.ApplyTransfer(ctx, grant); err != nil && !errors.Is(err, ledger.ErrDuplicateTransfer) {
		return ledger.Account{}, fmt.Errorf("initial grant for account %d: %w", id, err)
	}

	p.log.Info("provisioned user account",
		zap.Uint64("user_id", userID),
		zap.Uint64("repo_id", cfg.RepoID),
		zap.Int64("initial_grant", cfg.InitialGrant))

	// Re-read so the caller sees the granted balance.
	return p.ledger.GetAccount(ctx, id)
}

func (p *Provisioner) newRepoConfig(meta EventMeta) RepoConfig {
	now := time.Now().UTC()
	d := p.defaults
	return RepoConfig{
		RepoID:               meta.RepoID,
		RepoName:             meta.RepoName,
		RepoOwner:            meta.RepoOwner,
		InitialGrant:         d.InitialGrant,
		MergePenalty:         d.MergePenalty,
		ReviewBonus:          d.ReviewBonus,
		CommentBonus:         d.CommentBonus,
		ComplexityBonus:      d.ComplexityBonus,
		ComplexityEnabled:    d.ComplexityEnabled,
		ComplexityThreshold:  d.ComplexityThreshold,
		TimelyReviewBonus:    d.TimelyReviewBonus,
		TimelyReviewWindow:   d.TimelyReviewWindow,
		TimelyReviewEnabled:  d.TimelyReviewEnabled,
		AdminOverrideEnabled: d.AdminOverrideEnabled,
		RecheckToken:         d.RecheckToken,
		AdminRecheckToken:    d.AdminRecheckToken,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
