/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract: the webhook
  envelope, the settings payload, and the balance/history responses can
  evolve independently of the karma and ledger packages.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  The event envelope is validated twice: structurally here (decode), and
  semantically by karma.Event.Validate inside the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - karma/events.go: the event union the envelope decodes into
*/
package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gitkarma/engine/karma"
)

// =============================================================================
// WEBHOOK ENVELOPE
// =============================================================================

// EventEnvelope is the kind-tagged wire form of an inbound repository
// event. Only the fields relevant to the tagged kind need be present.
type EventEnvelope struct {
	Kind string `json:"kind"`

	RepoID     uint64 `json:"repo_id"`
	RepoName   string `json:"repo_name"`
	RepoOwner  string `json:"repo_owner"`
	ActorID    uint64 `json:"actor_id"`
	ActorLogin string `json:"actor_login"`

	Number      int    `json:"number,omitempty"`
	AuthorID    uint64 `json:"author_id,omitempty"`
	AuthorLogin string `json:"author_login,omitempty"`
	HeadSHA     string `json:"head_sha,omitempty"`
	Merged      bool   `json:"merged,omitempty"`

	CommentID uint64 `json:"comment_id,omitempty"`
	Body      string `json:"body,omitempty"`

	ReviewID      uint64    `json:"review_id,omitempty"`
	ReviewerID    uint64    `json:"reviewer_id,omitempty"`
	ReviewerLogin string    `json:"reviewer_login,omitempty"`
	ReviewState   string    `json:"review_state,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at,omitempty"`
	ChangedLines  int64     `json:"changed_lines,omitempty"`

	Label string `json:"label,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`

	Approvers []ApproverDTO `json:"approvers,omitempty"`
}

type ApproverDTO struct {
	ID    uint64 `json:"id"`
	Login string `json:"login"`
}

// ToEvent maps the envelope onto the closed event union.
func (e EventEnvelope) ToEvent() (karma.Event, error) {
	meta := karma.EventMeta{
		RepoID:     e.RepoID,
		RepoName:   e.RepoName,
		RepoOwner:  e.RepoOwner,
		ActorID:    e.ActorID,
		ActorLogin: e.ActorLogin,
	}

	switch karma.EventKind(e.Kind) {
	case karma.KindRepoInstalled:
		return karma.RepoInstalled{EventMeta: meta}, nil
	case karma.KindPROpened:
		return karma.PROpened{
			EventMeta:   meta,
			Number:      e.Number,
			AuthorID:    e.AuthorID,
			AuthorLogin: e.AuthorLogin,
			HeadSHA:     e.HeadSHA,
			CreatedAt:   e.CreatedAt,
		}, nil
	case karma.KindPRSynchronized:
		return karma.PRSynchronized{
			EventMeta:   meta,
			Number:      e.Number,
			AuthorID:    e.AuthorID,
			AuthorLogin: e.AuthorLogin,
			HeadSHA:     e.HeadSHA,
		}, nil
	case karma.KindPRReopened:
		return karma.PRReopened{
			EventMeta:   meta,
			Number:      e.Number,
			AuthorID:    e.AuthorID,
			AuthorLogin: e.AuthorLogin,
			HeadSHA:     e.HeadSHA,
		}, nil
	case karma.KindPRClosed:
		approvers := make([]karma.Approver, 0, len(e.Approvers))
		for _, a := range e.Approvers {
			approvers = append(approvers, karma.Approver{ID: a.ID, Login: a.Login})
		}
		return karma.PRClosed{
			EventMeta:   meta,
			Number:      e.Number,
			AuthorID:    e.AuthorID,
			AuthorLogin: e.AuthorLogin,
			Merged:      e.Merged,
			Approvers:   approvers,
		}, nil
	case karma.KindCommentCreated:
		return karma.CommentCreated{
			EventMeta: meta,
			Number:    e.Number,
			CommentID: e.CommentID,
			Body:      e.Body,
		}, nil
	case karma.KindReviewSubmitted:
		return karma.ReviewSubmitted{
			EventMeta:     meta,
			Number:        e.Number,
			ReviewID:      e.ReviewID,
			ReviewerID:    e.ReviewerID,
			ReviewerLogin: e.ReviewerLogin,
			State:         e.ReviewState,
			SubmittedAt:   e.SubmittedAt,
			ChangedLines:  e.ChangedLines,
		}, nil
	case karma.KindPRLabeled:
		return karma.PRLabeled{EventMeta: meta, Number: e.Number, Label: e.Label}, nil
	case karma.KindPRUnlabeled:
		return karma.PRUnlabeled{EventMeta: meta, Number: e.Number, Label: e.Label}, nil
	case "":
		return nil, errors.New("missing event kind")
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// =============================================================================
// SETTINGS
// =============================================================================

// RepoSettingsDTO is the externally visible slice of a repo's economy
// configuration.
type RepoSettingsDTO struct {
	RepoID    uint64 `json:"repo_id"`
	RepoName  string `json:"repo_name"`
	RepoOwner string `json:"repo_owner"`
	Disabled  bool   `json:"disabled"`

	InitialGrant int64 `json:"initial_grant"`
	MergePenalty int64 `json:"merge_penalty"`
	ReviewBonus  int64 `json:"review_bonus"`
	CommentBonus int64 `json:"comment_bonus"`

	ComplexityBonus     int64 `json:"complexity_bonus"`
	ComplexityEnabled   bool  `json:"complexity_enabled"`
	ComplexityThreshold int64 `json:"complexity_threshold"`

	TimelyReviewBonus   int64  `json:"timely_review_bonus"`
	TimelyReviewWindow  string `json:"timely_review_window"` // time.Duration string
	TimelyReviewEnabled bool   `json:"timely_review_enabled"`

	AdminOverrideEnabled bool `json:"admin_override_enabled"`

	RecheckToken      string `json:"recheck_token"`
	AdminRecheckToken string `json:"admin_recheck_token"`

	UpdatedAt string `json:"updated_at,omitempty"`
}

// UpdateSettingsRequest carries the mutable settings fields plus the
// acting user, whose admin capability is verified before applying.
type UpdateSettingsRequest struct {
	ActorLogin string `json:"actor_login"`

	Disabled *bool `json:"disabled,omitempty"`

	InitialGrant *int64 `json:"initial_grant,omitempty"`
	MergePenalty *int64 `json:"merge_penalty,omitempty"`
	ReviewBonus  *int64 `json:"review_bonus,omitempty"`
	CommentBonus *int64 `json:"comment_bonus,omitempty"`

	ComplexityBonus     *int64 `json:"complexity_bonus,omitempty"`
	ComplexityEnabled   *bool  `json:"complexity_enabled,omitempty"`
	ComplexityThreshold *int64 `json:"complexity_threshold,omitempty"`

	TimelyReviewBonus   *int64  `json:"timely_review_bonus,omitempty"`
	TimelyReviewWindow  *string `json:"timely_review_window,omitempty"`
	TimelyReviewEnabled *bool   `json:"timely_review_enabled,omitempty"`

	AdminOverrideEnabled *bool `json:"admin_override_enabled,omitempty"`

	RecheckToken      *string `json:"recheck_token,omitempty"`
	AdminRecheckToken *string `json:"admin_recheck_token,omitempty"`
}

// =============================================================================
// BALANCES AND HISTORY
// =============================================================================

// BalanceDTO reports one user's balance within one repository economy.
type BalanceDTO struct {
	RepoID  uint64 `json:"repo_id"`
	UserID  uint64 `json:"user_id"`
	Balance int64  `json:"balance"`
}

// TransferDTO is one ledger entry in a history response.
type TransferDTO struct {
	ID            uint64 `json:"id"`
	DebitAccount  uint64 `json:"debit_account"`
	CreditAccount uint64 `json:"credit_account"`
	Amount        int64  `json:"amount"`
	Code          string `json:"code"`
	CreatedAt     string `json:"created_at"`
}

// ErrorDTO is the uniform error response body.
type ErrorDTO struct {
	Error string `json:"error"`
}
