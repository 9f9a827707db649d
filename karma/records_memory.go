// records_memory.go - In-memory RecordStore (for testing/dev)

package karma

import (
	"context"
	"sync"
)

// MemoryRecords is an in-memory RecordStore implementation.
type MemoryRecords struct {
	mu       sync.RWMutex
	repos    map[uint64]RepoConfig
	prs      map[prKey]PullRequestRecord
	reviews  map[uint64]ReviewRecord
	comments map[uint64]CommentRecord
}

type prKey struct {
	repoID uint64
	number int
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{
		repos:    make(map[uint64]RepoConfig),
		prs:      make(map[prKey]PullRequestRecord),
		reviews:  make(map[uint64]ReviewRecord),
		comments: make(map[uint64]CommentRecord),
	}
}

func (m *MemoryRecords) GetRepoConfig(_ context.Context, repoID uint64) (RepoConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.repos[repoID]
	if !ok {
		return RepoConfig{}, ErrRepoNotFound
	}
	return cfg, nil
}

func (m *MemoryRecords) PutRepoConfig(_ context.Context, cfg RepoConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[cfg.RepoID] = cfg
	return nil
}

func (m *MemoryRecords) GetPullRequest(_ context.Context, repoID uint64, number int) (PullRequestRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pr, ok := m.prs[prKey{repoID, number}]
	if !ok {
		return PullRequestRecord{}, ErrPullRequestNotFound
	}
	return pr, nil
}

func (m *MemoryRecords) PutPullRequest(_ context.Context, pr PullRequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prs[prKey{pr.RepoID, pr.Number}] = pr
	return nil
}

func (m *MemoryRecords) InsertReview(_ context.Context, r ReviewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[r.ReviewID]; ok {
		return ErrReviewExists
	}
	m.reviews[r.ReviewID] = r
	return nil
}

func (m *MemoryRecords) InsertComment(_ context.Context, c CommentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[c.CommentID]; ok {
		return ErrCommentExists
	}
	m.comments[c.CommentID] = c
	return nil
}
