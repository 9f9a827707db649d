/*
events.go - Closed union of inbound repository events

PURPOSE:
  The upstream webhook transport delivers loosely-shaped payloads. Before
  anything enters the core, the transport adapter maps each delivery onto
  exactly one of the variants below and validates it. The core never sees
  a raw payload.

DELIVERY GUARANTEES:
  At-least-once, possibly out of order. Every variant therefore carries
  the stable host ids the core needs to derive idempotent transfer ids.
*/
package karma

import (
	"errors"
	"strings"
	"time"

	"github.com/gitkarma/engine/gh"
)

// EventKind names an inbound event variant.
type EventKind string

const (
	KindRepoInstalled   EventKind = "repo_installed"
	KindPROpened        EventKind = "pr_opened"
	KindPRSynchronized  EventKind = "pr_synchronized"
	KindPRReopened      EventKind = "pr_reopened"
	KindPRClosed        EventKind = "pr_closed"
	KindCommentCreated  EventKind = "comment_created"
	KindReviewSubmitted EventKind = "review_submitted"
	KindPRLabeled       EventKind = "pr_labeled"
	KindPRUnlabeled     EventKind = "pr_unlabeled"
)

// Event is the marker interface for inbound event variants.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
	Validate() error
}

// EventMeta carries the fields common to every event.
type EventMeta struct {
	RepoID     uint64
	RepoName   string
	RepoOwner  string
	ActorID    uint64
	ActorLogin string
}

func (m EventMeta) Meta() EventMeta { return m }

// Repo returns the host address of the event's repository.
func (m EventMeta) Repo() gh.RepoRef {
	return gh.RepoRef{Owner: m.RepoOwner, Name: m.RepoName}
}

func (m EventMeta) validate() error {
	if m.RepoID == 0 {
		return errors.New("missing repo id")
	}
	if m.RepoName == "" || m.RepoOwner == "" {
		return errors.New("missing repo name or owner")
	}
	return nil
}

// ─── Variants ───────────────────────────────────────────────────────────────

// RepoInstalled announces first contact with a repository (app install).
type RepoInstalled struct {
	EventMeta
}

func (RepoInstalled) Kind() EventKind   { return KindRepoInstalled }
func (e RepoInstalled) Validate() error { return e.validate() }

// PROpened announces a newly opened pull request.
type PROpened struct {
	EventMeta
	Number      int
	AuthorID    uint64
	AuthorLogin string
	HeadSHA     string
	CreatedAt   time.Time
}

func (PROpened) Kind() EventKind { return KindPROpened }

func (e PROpened) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	return validatePRHead(e.Number, e.AuthorID, e.HeadSHA)
}

// PRSynchronized announces new commits pushed to an open pull request.
type PRSynchronized struct {
	EventMeta
	Number      int
	AuthorID    uint64
	AuthorLogin string
	HeadSHA     string
}

func (PRSynchronized) Kind() EventKind { return KindPRSynchronized }

func (e PRSynchronized) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	return validatePRHead(e.Number, e.AuthorID, e.HeadSHA)
}

// PRReopened announces a closed pull request being reopened.
type PRReopened struct {
	EventMeta
	Number      int
	AuthorID    uint64
	AuthorLogin string
	HeadSHA     string
}

func (PRReopened) Kind() EventKind { return KindPRReopened }

func (e PRReopened) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	return validatePRHead(e.Number, e.AuthorID, e.HeadSHA)
}

// Approver identifies a user who approved a pull request.
type Approver struct {
	ID    uint64
	Login string
}

// PRClosed announces a pull request being closed, merged or not.
type PRClosed struct {
	EventMeta
	Number      int
	AuthorID    uint64
	AuthorLogin string
	Merged      bool

	// Approvers lists the distinct users whose reviews approved the PR,
	// provided by the transport at close time.
	Approvers []Approver
}

func (PRClosed) Kind() EventKind { return KindPRClosed }

func (e PRClosed) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Number <= 0 {
		return errors.New("missing pull request number")
	}
	return nil
}

// CommentCreated announces a new comment on a pull request. The body is
// inspected for the balance and re-check trigger tokens.
type CommentCreated struct {
	EventMeta
	Number    int
	CommentID uint64
	Body      string
}

func (CommentCreated) Kind() EventKind { return KindCommentCreated }

func (e CommentCreated) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Number <= 0 {
		return errors.New("missing pull request number")
	}
	if e.CommentID == 0 {
		return errors.New("missing comment id")
	}
	return nil
}

// ReviewSubmitted announces a submitted pull request review.
type ReviewSubmitted struct {
	EventMeta
	Number        int
	ReviewID      uint64
	ReviewerID    uint64
	ReviewerLogin string
	State         string
	SubmittedAt   time.Time

	// ChangedLines is the size of the reviewed diff, used for the
	// complexity bonus when enabled. Zero when the transport omits it.
	ChangedLines int64
}

func (ReviewSubmitted) Kind() EventKind { return KindReviewSubmitted }

func (e ReviewSubmitted) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Number <= 0 {
		return errors.New("missing pull request number")
	}
	if e.ReviewID == 0 {
		return errors.New("missing review id")
	}
	if e.ReviewerID == 0 {
		return errors.New("missing reviewer id")
	}
	return nil
}

// PRLabeled announces a label added to a pull request.
type PRLabeled struct {
	EventMeta
	Number int
	Label  string
}

func (PRLabeled) Kind() EventKind { return KindPRLabeled }

func (e PRLabeled) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Number <= 0 {
		return errors.New("missing pull request number")
	}
	if e.Label == "" {
		return errors.New("missing label name")
	}
	return nil
}

// PRUnlabeled announces a label removed from a pull request.
type PRUnlabeled struct {
	EventMeta
	Number int
	Label  string
}

func (PRUnlabeled) Kind() EventKind { return KindPRUnlabeled }

func (e PRUnlabeled) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Number <= 0 {
		return errors.New("missing pull request number")
	}
	if e.Label == "" {
		return errors.New("missing label name")
	}
	return nil
}

func validatePRHead(number int, authorID uint64, headSHA string) error {
	if number <= 0 {
		return errors.New("missing pull request number")
	}
	if authorID == 0 {
		return errors.New("missing author id")
	}
	if headSHA == "" {
		return errors.New("missing head commit")
	}
	return nil
}

// IsBot reports whether an actor login belongs to a host bot account.
// Bot activity never earns rewards.
func IsBot(login string) bool {
	return strings.HasSuffix(login, "[bot]")
}
