/*
Package karma implements the per-repository karma economy.

PURPOSE:
  Contributors spend tokens to open pull requests and earn tokens by
  reviewing others' work. This package contains the admission-control
  core: the account provisioner, the funding gate, the pull-request
  state machine, and the reward engine. Together they cover everything
  between an inbound repository event and the desired external effect.

KEY CONCEPTS IN THIS FILE (types.go):
  - RepoConfig:        per-repository economic parameters
  - PullRequestRecord: funding check state, one row per (repo, PR number)
  - ReviewRecord / CommentRecord: append-only facts driving rewards
  - RecordStore:       persistence interface for the above

OWNERSHIP:
  The Engine exclusively owns PullRequestRecord transitions. The ledger
  package exclusively owns account/transfer mutation. Nothing else
  writes these records.

SEE ALSO:
  - engine.go:      event dispatch and PR state transitions
  - provisioner.go: idempotent account provisioning
  - gate.go:        the funding admission check
  - rewards.go:     review/comment payouts
*/
package karma

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// REPO CONFIG - Economic parameters for a repository
// =============================================================================

// RepoConfig holds the token economy parameters of one repository,
// settable only by a verified repo admin.
type RepoConfig struct {
	RepoID    uint64 // host repo id
	RepoName  string
	RepoOwner string

	// AccountID is the repo's ledger float account, provisioned on first
	// contact and persisted here so it never has to be re-derived.
	AccountID uint64

	// Disabled is the kill switch: the funding gate becomes a no-op
	// pass-through and rewards stop accruing.
	Disabled bool

	InitialGrant int64 // tokens granted once to each new contributor
	MergePenalty int64 // tokens required to fund a pull request
	ReviewBonus  int64 // tokens per submitted review
	CommentBonus int64 // tokens per comment

	ComplexityBonus     int64 // maximum bonus for reviewing large changes
	ComplexityEnabled   bool
	ComplexityThreshold int64 // changed lines at which the full bonus applies

	TimelyReviewBonus   int64
	TimelyReviewWindow  time.Duration // measured from PR creation
	TimelyReviewEnabled bool

	AdminOverrideEnabled bool

	// Comment tokens that trigger a funding re-check. The admin token
	// bypasses the ledger entirely.
	RecheckToken      string
	AdminRecheckToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// PULL REQUEST RECORD - Funding state per (repo, PR number)
// =============================================================================

// PRState is the lifecycle state of a tracked pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// PullRequestRecord tracks the funding check state of one pull request.
// Created on open, mutated on synchronize/recheck/close, never deleted.
type PullRequestRecord struct {
	RepoID      uint64
	Number      int
	AuthorID    uint64
	AuthorLogin string
	HeadSHA     string
	State       PRState

	// CheckPassed latches once the merge penalty has been charged (or an
	// admin override applied): subsequent commits never re-charge.
	CheckPassed   bool
	AdminApproved bool

	// Bounty is an optional extra reward attached by an admin, claimed by
	// the first submitted review. Nil when no bounty is set.
	Bounty *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// REVIEW / COMMENT RECORDS - Append-only reward facts
// =============================================================================

// ReviewRecord is the stored fact of a submitted review. Append-only:
// once the reward transfer has been posted the record is never mutated,
// so the same review id can never pay twice.
type ReviewRecord struct {
	RepoID        uint64
	PRNumber      int
	ReviewID      uint64
	ReviewerID    uint64
	ReviewerLogin string
	State         string // approved, changes_requested, commented
	SubmittedAt   time.Time
}

// CommentRecord is the stored fact of a rewarded comment.
type CommentRecord struct {
	RepoID      uint64
	PRNumber    int
	CommentID   uint64
	AuthorID    uint64
	AuthorLogin string
	CreatedAt   time.Time
}

// =============================================================================
// RECORD STORE - Persistence for configs, PRs and reward facts
// =============================================================================

var (
	// ErrRepoNotFound is returned for repositories without a config record.
	// The provisioner recovers it by creating one with defaults.
	ErrRepoNotFound = errors.New("repo not found")

	// ErrPullRequestNotFound is returned for untracked pull requests.
	ErrPullRequestNotFound = errors.New("pull request not found")

	// ErrReviewExists is returned when a review fact was already recorded.
	// Expected under at-least-once delivery.
	ErrReviewExists = errors.New("review already recorded")

	// ErrCommentExists is returned when a comment fact was already recorded.
	ErrCommentExists = errors.New("comment already recorded")

	// ErrUnauthorized is returned when a non-admin attempts an admin-only
	// mutation. Reverted and logged, never fatal.
	ErrUnauthorized = errors.New("actor lacks admin capability")

	// ErrInvalidEvent is returned when an event fails semantic validation.
	// The delivery is malformed, so retrying it cannot succeed.
	ErrInvalidEvent = errors.New("invalid event")
)

// RecordStore persists repo configs, pull request records, and reward
// facts. The core treats it as a transactional record abstraction, not a
// specific engine.
type RecordStore interface {
	GetRepoConfig(ctx context.Context, repoID uint64) (RepoConfig, error)
	PutRepoConfig(ctx context.Context, cfg RepoConfig) error

	GetPullRequest(ctx context.Context, repoID uint64, number int) (PullRequestRecord, error)
	PutPullRequest(ctx context.Context, pr PullRequestRecord) error

	// InsertReview records a review fact. Returns ErrReviewExists when the
	// review id was already recorded.
	InsertReview(ctx context.Context, r ReviewRecord) error

	// InsertComment records a comment fact. Returns ErrCommentExists when
	// the comment id was already recorded.
	InsertComment(ctx context.Context, c CommentRecord) error
}
