/*
Package gh defines the boundary to the version-control host.

PURPOSE:
  The core never talks to the host's REST API directly. It emits desired
  effects (post a comment, set a check run, add/remove a label) through
  the Sink interface and asks authorization questions through
  CapabilityLookup. The real transport (authentication, retries, rate
  limits) lives behind these interfaces and outside this repository.

IMPLEMENTATIONS:
  - LogSink:  logs effects instead of delivering them (dry-run default)
  - Recorder: records effects in memory, for tests
*/
package gh

import "context"

// RepoRef addresses a repository on the host.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string { return r.Owner + "/" + r.Name }

// CheckStatus is the lifecycle state of a check run.
type CheckStatus string

const (
	CheckInProgress CheckStatus = "in_progress"
	CheckCompleted  CheckStatus = "completed"
)

// CheckConclusion is the terminal verdict of a completed check run.
type CheckConclusion string

const (
	ConclusionNone    CheckConclusion = ""
	ConclusionSuccess CheckConclusion = "success"
	ConclusionFailure CheckConclusion = "failure"
)

// CheckRun is a desired check-run state for a commit.
type CheckRun struct {
	HeadSHA    string
	Status     CheckStatus
	Conclusion CheckConclusion
	Title      string
	Summary    string
}

// Sink delivers outbound effects to the host.
//
// Calls are potentially blocking I/O; the engine never holds its per-PR
// lock across a Sink call longer than necessary. A failed call is logged
// and the event dropped; there is no retry queue.
type Sink interface {
	PostComment(ctx context.Context, repo RepoRef, issueNumber int, body string) error
	SetCheckRun(ctx context.Context, repo RepoRef, check CheckRun) error
	AddLabel(ctx context.Context, repo RepoRef, issueNumber int, label string) error
	RemoveLabel(ctx context.Context, repo RepoRef, issueNumber int, label string) error
}

// CapabilityLookup answers whether an actor holds admin capability on a
// repository. Implementations combine, in precedence order: repo
// ownership, a stored admin role, and the host-reported permission.
type CapabilityLookup interface {
	IsAdmin(ctx context.Context, repo RepoRef, actorLogin string) (bool, error)
}

// StaticCapabilities is a fixed capability table, used in tests and for
// single-tenant deployments where the admin set is known up front.
type StaticCapabilities struct {
	// Admins maps "owner/name" to the set of admin logins.
	Admins map[string][]string
}

func (s StaticCapabilities) IsAdmin(_ context.Context, repo RepoRef, actorLogin string) (bool, error) {
	if actorLogin == repo.Owner {
		return true, nil
	}
	for _, login := range s.Admins[repo.String()] {
		if login == actorLogin {
			return true, nil
		}
	}
	return false, nil
}
