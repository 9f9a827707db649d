package gh

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// RECORDER - In-memory Sink (for tests)
// =============================================================================

// RecordedComment is a captured PostComment effect.
type RecordedComment struct {
	Repo   RepoRef
	Number int
	Body   string
}

// RecordedCheck is a captured SetCheckRun effect.
type RecordedCheck struct {
	Repo  RepoRef
	Check CheckRun
}

// RecordedLabel is a captured AddLabel/RemoveLabel effect.
type RecordedLabel struct {
	Repo    RepoRef
	Number  int
	Label   string
	Removed bool
}

// Recorder captures outbound effects instead of delivering them.
type Recorder struct {
	mu       sync.Mutex
	Comments []RecordedComment
	Checks   []RecordedCheck
	Labels   []RecordedLabel

	// Err, when set, is returned by every call to simulate an
	// unreachable host.
	Err error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) PostComment(_ context.Context, repo RepoRef, number int, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Comments = append(r.Comments, RecordedComment{Repo: repo, Number: number, Body: body})
	return nil
}

func (r *Recorder) SetCheckRun(_ context.Context, repo RepoRef, check CheckRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Checks = append(r.Checks, RecordedCheck{Repo: repo, Check: check})
	return nil
}

func (r *Recorder) AddLabel(_ context.Context, repo RepoRef, number int, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Labels = append(r.Labels, RecordedLabel{Repo: repo, Number: number, Label: label})
	return nil
}

func (r *Recorder) RemoveLabel(_ context.Context, repo RepoRef, number int, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Labels = append(r.Labels, RecordedLabel{Repo: repo, Number: number, Label: label, Removed: true})
	return nil
}

// LastCheck returns the most recent check-run effect, if any.
func (r *Recorder) LastCheck() (RecordedCheck, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Checks) == 0 {
		return RecordedCheck{}, false
	}
	return r.Checks[len(r.Checks)-1], true
}

// =============================================================================
// LOG SINK - Dry-run Sink logging effects
// =============================================================================

// LogSink logs effects instead of delivering them. It is the default
// sink for deployments without a host transport configured.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) PostComment(_ context.Context, repo RepoRef, number int, body string) error {
	s.Log.Info("would post comment",
		zap.String("repo", repo.String()),
		zap.Int("issue", number),
		zap.Int("bytes", len(body)))
	return nil
}

func (s LogSink) SetCheckRun(_ context.Context, repo RepoRef, check CheckRun) error {
	s.Log.Info("would set check run",
		zap.String("repo", repo.String()),
		zap.String("head", check.HeadSHA),
		zap.String("status", string(check.Status)),
		zap.String("conclusion", string(check.Conclusion)),
		zap.String("title", check.Title))
	return nil
}

func (s LogSink) AddLabel(_ context.Context, repo RepoRef, number int, label string) error {
	s.Log.Info("would add label",
		zap.String("repo", repo.String()),
		zap.Int("issue", number),
		zap.String("label", label))
	return nil
}

func (s LogSink) RemoveLabel(_ context.Context, repo RepoRef, number int, label string) error {
	s.Log.Info("would remove label",
		zap.String("repo", repo.String()),
		zap.Int("issue", number),
		zap.String("label", label))
	return nil
}
