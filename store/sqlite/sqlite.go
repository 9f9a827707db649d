/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store (accounts, transfers) and karma.RecordStore
  (repo configs, pull requests, reward facts) on one SQLite database. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The transfers table is append-only: no UPDATE, no DELETE. Account rows
  mutate only inside ApplyTransfer's transaction.

ATOMICITY:
  ApplyTransfer runs BEGIN IMMEDIATE .. COMMIT covering the duplicate
  check, the constraint check, both account updates, and the transfer
  insert. A rejected transfer rolls back and leaves both accounts
  untouched; no reader ever observes one leg without the other.

ID ENCODING:
  Ledger ids are uint64 derived from SHA-256 prefixes and may exceed
  the int64 range. They are stored as INTEGER via a lossless int64
  round-trip cast.

WAL MODE:
  The database is opened with WAL for better concurrency: readers don't
  block, a single writer at a time, better crash recovery.

SEE ALSO:
  - ledger/store.go:  interface definition + contract
  - karma/types.go:   RecordStore definition
  - ledger/store:     in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gitkarma/engine/karma"
	"github.com/gitkarma/engine/ledger"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements ledger.Store and karma.RecordStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes write transactions; SQLite allows one writer
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger accounts. Mutated only via ApplyTransfer.
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY,
		owner_kind INTEGER NOT NULL,
		scope_id INTEGER NOT NULL,
		debits_posted INTEGER NOT NULL DEFAULT 0,
		credits_posted INTEGER NOT NULL DEFAULT 0,
		constrained BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_scope
		ON accounts(scope_id);

	-- Transfers (append-only double-entry log).
	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY,
		debit_account INTEGER NOT NULL,
		credit_account INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		code INTEGER NOT NULL,
		scope_id INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_debit
		ON transfers(debit_account);
	CREATE INDEX IF NOT EXISTS idx_transfers_credit
		ON transfers(credit_account);
	CREATE INDEX IF NOT EXISTS idx_transfers_scope
		ON transfers(scope_id);

	-- Repo economy configuration.
	CREATE TABLE IF NOT EXISTS repos (
		repo_id INTEGER PRIMARY KEY,
		repo_name TEXT NOT NULL,
		repo_owner TEXT NOT NULL,
		account_id INTEGER NOT NULL DEFAULT 0,
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		initial_grant INTEGER NOT NULL,
		merge_penalty INTEGER NOT NULL,
		review_bonus INTEGER NOT NULL,
		comment_bonus INTEGER NOT NULL,
		complexity_bonus INTEGER NOT NULL,
		complexity_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		complexity_threshold INTEGER NOT NULL DEFAULT 0,
		timely_bonus INTEGER NOT NULL DEFAULT 0,
		timely_window_seconds INTEGER NOT NULL DEFAULT 0,
		timely_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		admin_override_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		recheck_token TEXT NOT NULL,
		admin_recheck_token TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Pull request funding state, one row per (repo, number).
	CREATE TABLE IF NOT EXISTS pull_requests (
		repo_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		author_login TEXT NOT NULL,
		head_sha TEXT NOT NULL,
		state TEXT NOT NULL,
		check_passed BOOLEAN NOT NULL DEFAULT FALSE,
		admin_approved BOOLEAN NOT NULL DEFAULT FALSE,
		bounty INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (repo_id, number)
	);

	-- Review facts (append-only, keyed by the host review id).
	CREATE TABLE IF NOT EXISTS reviews (
		review_id INTEGER PRIMARY KEY,
		repo_id INTEGER NOT NULL,
		pr_number INTEGER NOT NULL,
		reviewer_id INTEGER NOT NULL,
		reviewer_login TEXT NOT NULL,
		state TEXT NOT NULL,
		submitted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_pr
		ON reviews(repo_id, pr_number);

	-- Comment facts (append-only, keyed by the host comment id).
	CREATE TABLE IF NOT EXISTS comments (
		comment_id INTEGER PRIMARY KEY,
		repo_id INTEGER NOT NULL,
		pr_number INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		author_login TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER.STORE
// =============================================================================

func (s *Store) InsertAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_kind, scope_id, debits_posted, credits_posted, constrained, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(a.ID), int64(a.OwnerKind), int64(a.ScopeID),
		int64(a.DebitsPosted), int64(a.CreditsPosted), a.Constrained,
		a.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil && isUniqueViolation(err) {
		return ledger.ErrAccountExists
	}
	return err
}

func (s *Store) FetchAccount(ctx context.Context, id uint64) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_kind, scope_id, debits_posted, credits_posted, constrained, created_at
		FROM accounts WHERE id = ?`, int64(id))
	return scanAccount(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		a                       ledger.Account
		id, kind, scope, dp, cp int64
		createdAt               string
	)
	err := row.Scan(&id, &kind, &scope, &dp, &cp, &a.Constrained, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	a.ID = uint64(id)
	a.OwnerKind = ledger.OwnerKind(kind)
	a.ScopeID = uint64(scope)
	a.DebitsPosted = uint64(dp)
	a.CreditsPosted = uint64(cp)
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return a, nil
}

// ApplyTransfer posts both legs inside one SQL transaction.
func (s *Store) ApplyTransfer(ctx context.Context, t ledger.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM transfers WHERE id = ?`, int64(t.ID)).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ledger.ErrDuplicateTransfer
	}

	debit, err := scanAccount(tx.QueryRowContext(ctx, `
		SELECT id, owner_kind, scope_id, debits_posted, credits_posted, constrained, created_at
		FROM accounts WHERE id = ?`, int64(t.DebitAccount)))
	if err != nil {
		return err
	}
	credit, err := scanAccount(tx.QueryRowContext(ctx, `
		SELECT id, owner_kind, scope_id, debits_posted, credits_posted, constrained, created_at
		FROM accounts WHERE id = ?`, int64(t.CreditAccount)))
	if err != nil {
		return err
	}

	if credit.Constrained && credit.CreditsPosted+uint64(t.Amount) > credit.DebitsPosted {
		return &ledger.InsufficientFundsError{
			AccountID: credit.ID,
			Available: credit.Balance(),
			Requested: t.Amount,
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET debits_posted = debits_posted + ? WHERE id = ?`,
		t.Amount, int64(debit.ID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET credits_posted = credits_posted + ? WHERE id = ?`,
		t.Amount, int64(credit.ID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transfers (id, debit_account, credit_account, amount, code, scope_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(t.ID), int64(t.DebitAccount), int64(t.CreditAccount),
		t.Amount, int64(t.Code), int64(t.ScopeID),
		t.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) TransferExists(ctx context.Context, id uint64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM transfers WHERE id = ?`, int64(id)).Scan(&n)
	return n > 0, err
}

func (s *Store) TransfersByAccount(ctx context.Context, accountID uint64) ([]ledger.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, debit_account, credit_account, amount, code, scope_id, created_at
		FROM transfers
		WHERE debit_account = ? OR credit_account = ?
		ORDER BY created_at, id`,
		int64(accountID), int64(accountID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Transfer
	for rows.Next() {
		var (
			t                              ledger.Transfer
			id, debit, credit, code, scope int64
			createdAt                      string
		)
		if err := rows.Scan(&id, &debit, &credit, &t.Amount, &code, &scope, &createdAt); err != nil {
			return nil, err
		}
		t.ID = uint64(id)
		t.DebitAccount = uint64(debit)
		t.CreditAccount = uint64(credit)
		t.Code = ledger.TransferCode(code)
		t.ScopeID = uint64(scope)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, t)
	}
	return result, rows.Err()
}

// =============================================================================
// KARMA.RECORDSTORE
// =============================================================================

func (s *Store) GetRepoConfig(ctx context.Context, repoID uint64) (karma.RepoConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repo_id, repo_name, repo_owner, account_id, disabled,
		       initial_grant, merge_penalty, review_bonus, comment_bonus,
		       complexity_bonus, complexity_enabled, complexity_threshold,
		       timely_bonus, timely_window_seconds, timely_enabled,
		       admin_override_enabled, recheck_token, admin_recheck_token,
		       created_at, updated_at
		FROM repos WHERE repo_id = ?`, int64(repoID))

	var (
		cfg                  karma.RepoConfig
		id, acct             int64
		windowSecs           int64
		createdAt, updatedAt string
	)
	err := row.Scan(&id, &cfg.RepoName, &cfg.RepoOwner, &acct, &cfg.Disabled,
		&cfg.InitialGrant, &cfg.MergePenalty, &cfg.ReviewBonus, &cfg.CommentBonus,
		&cfg.ComplexityBonus, &cfg.ComplexityEnabled, &cfg.ComplexityThreshold,
		&cfg.TimelyReviewBonus, &windowSecs, &cfg.TimelyReviewEnabled,
		&cfg.AdminOverrideEnabled, &cfg.RecheckToken, &cfg.AdminRecheckToken,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return karma.RepoConfig{}, karma.ErrRepoNotFound
	}
	if err != nil {
		return karma.RepoConfig{}, err
	}
	cfg.RepoID = uint64(id)
	cfg.AccountID = uint64(acct)
	cfg.TimelyReviewWindow = time.Duration(windowSecs) * time.Second
	cfg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	cfg.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return cfg, nil
}

func (s *Store) PutRepoConfig(ctx context.Context, cfg karma.RepoConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repos (repo_id, repo_name, repo_owner, account_id, disabled,
			initial_grant, merge_penalty, review_bonus, comment_bonus,
			complexity_bonus, complexity_enabled, complexity_threshold,
			timely_bonus, timely_window_seconds, timely_enabled,
			admin_override_enabled, recheck_token, admin_recheck_token,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			repo_name = excluded.repo_name,
			repo_owner = excluded.repo_owner,
			account_id = excluded.account_id,
			disabled = excluded.disabled,
			initial_grant = excluded.initial_grant,
			merge_penalty = excluded.merge_penalty,
			review_bonus = excluded.review_bonus,
			comment_bonus = excluded.comment_bonus,
			complexity_bonus = excluded.complexity_bonus,
			complexity_enabled = excluded.complexity_enabled,
			complexity_threshold = excluded.complexity_threshold,
			timely_bonus = excluded.timely_bonus,
			timely_window_seconds = excluded.timely_window_seconds,
			timely_enabled = excluded.timely_enabled,
			admin_override_enabled = excluded.admin_override_enabled,
			recheck_token = excluded.recheck_token,
			admin_recheck_token = excluded.admin_recheck_token,
			updated_at = excluded.updated_at`,
		int64(cfg.RepoID), cfg.RepoName, cfg.RepoOwner, int64(cfg.AccountID), cfg.Disabled,
		cfg.InitialGrant, cfg.MergePenalty, cfg.ReviewBonus, cfg.CommentBonus,
		cfg.ComplexityBonus, cfg.ComplexityEnabled, cfg.ComplexityThreshold,
		cfg.TimelyReviewBonus, int64(cfg.TimelyReviewWindow/time.Second), cfg.TimelyReviewEnabled,
		cfg.AdminOverrideEnabled, cfg.RecheckToken, cfg.AdminRecheckToken,
		cfg.CreatedAt.UTC().Format(time.RFC3339Nano),
		cfg.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetPullRequest(ctx context.Context, repoID uint64, number int) (karma.PullRequestRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repo_id, number, author_id, author_login, head_sha, state,
		       check_passed, admin_approved, bounty, created_at, updated_at
		FROM pull_requests WHERE repo_id = ? AND number = ?`,
		int64(repoID), number)

	var (
		pr                   karma.PullRequestRecord
		rid, author          int64
		state                string
		bounty               sql.NullInt64
		createdAt, updatedAt string
	)
	err := row.Scan(&rid, &pr.Number, &author, &pr.AuthorLogin, &pr.HeadSHA, &state,
		&pr.CheckPassed, &pr.AdminApproved, &bounty, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return karma.PullRequestRecord{}, karma.ErrPullRequestNotFound
	}
	if err != nil {
		return karma.PullRequestRecord{}, err
	}
	pr.RepoID = uint64(rid)
	pr.AuthorID = uint64(author)
	pr.State = karma.PRState(state)
	if bounty.Valid {
		b := bounty.Int64
		pr.Bounty = &b
	}
	pr.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	pr.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return pr, nil
}

func (s *Store) PutPullRequest(ctx context.Context, pr karma.PullRequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bounty sql.NullInt64
	if pr.Bounty != nil {
		bounty = sql.NullInt64{Int64: *pr.Bounty, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pull_requests (repo_id, number, author_id, author_login, head_sha,
			state, check_passed, admin_approved, bounty, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, number) DO UPDATE SET
			author_id = excluded.author_id,
			author_login = excluded.author_login,
			head_sha = excluded.head_sha,
			state = excluded.state,
			check_passed = excluded.check_passed,
			admin_approved = excluded.admin_approved,
			bounty = excluded.bounty,
			updated_at = excluded.updated_at`,
		int64(pr.RepoID), pr.Number, int64(pr.AuthorID), pr.AuthorLogin, pr.HeadSHA,
		string(pr.State), pr.CheckPassed, pr.AdminApproved, bounty,
		pr.CreatedAt.UTC().Format(time.RFC3339Nano),
		pr.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) InsertReview(ctx context.Context, r karma.ReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (review_id, repo_id, pr_number, reviewer_id, reviewer_login, state, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(r.ReviewID), int64(r.RepoID), r.PRNumber, int64(r.ReviewerID),
		r.ReviewerLogin, r.State, r.SubmittedAt.UTC().Format(time.RFC3339Nano))
	if err != nil && isUniqueViolation(err) {
		return karma.ErrReviewExists
	}
	return err
}

func (s *Store) InsertComment(ctx context.Context, c karma.CommentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (comment_id, repo_id, pr_number, author_id, author_login, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(c.CommentID), int64(c.RepoID), c.PRNumber, int64(c.AuthorID),
		c.AuthorLogin, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil && isUniqueViolation(err) {
		return karma.ErrCommentExists
	}
	return err
}

// isUniqueViolation detects primary key / unique index conflicts without
// depending on driver error codes.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
