package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitkarma/engine/karma"
	"github.com/gitkarma/engine/ledger"
	"github.com/gitkarma/engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedLedgerAccounts(t *testing.T, s *sqlite.Store) (user, repo ledger.Account) {
	t.Helper()
	ctx := context.Background()

	repo = ledger.Account{
		ID:        ledger.NewRepoAccountID(),
		OwnerKind: ledger.OwnerRepo,
		ScopeID:   42,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertAccount(ctx, repo))

	user = ledger.Account{
		ID:          ledger.UserAccountID(7, 42),
		OwnerKind:   ledger.OwnerUser,
		ScopeID:     42,
		Constrained: true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.InsertAccount(ctx, user))
	return user, repo
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func TestSQLite_InsertAccount_DuplicateRejected(t *testing.T) {
	// GIVEN: An inserted account
	// WHEN: The same id is inserted again
	// THEN: ErrAccountExists

	s := newTestStore(t)
	ctx := context.Background()
	user, _ := seedLedgerAccounts(t, s)

	err := s.InsertAccount(ctx, user)
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestSQLite_FetchAccount_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, _ := seedLedgerAccounts(t, s)

	got, err := s.FetchAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, ledger.OwnerUser, got.OwnerKind)
	assert.Equal(t, uint64(42), got.ScopeID)
	assert.True(t, got.Constrained)

	_, err = s.FetchAccount(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestSQLite_ApplyTransfer_AtomicBothLegs(t *testing.T) {
	// GIVEN: A user granted 400 tokens
	// WHEN: A 100-token charge posts
	// THEN: Both accounts reflect the movement and the transfer exists

	s := newTestStore(t)
	ctx := context.Background()
	user, repo := seedLedgerAccounts(t, s)

	grant := ledger.Transfer{
		ID:            ledger.GrantTransferID(7, 42),
		DebitAccount:  user.ID,
		CreditAccount: repo.ID,
		Amount:        400,
		Code:          ledger.CodeGrant,
		ScopeID:       42,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.ApplyTransfer(ctx, grant))

	charge := ledger.Transfer{
		ID:            ledger.ChargeTransferID(42, 1, "head1"),
		DebitAccount:  repo.ID,
		CreditAccount: user.ID,
		Amount:        100,
		Code:          ledger.CodeCharge,
		ScopeID:       42,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.ApplyTransfer(ctx, charge))

	gotUser, err := s.FetchAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), gotUser.Balance())

	exists, err := s.TransferExists(ctx, charge.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLite_ApplyTransfer_DuplicateRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, repo := seedLedgerAccounts(t, s)

	grant := ledger.Transfer{
		ID:            ledger.GrantTransferID(7, 42),
		DebitAccount:  user.ID,
		CreditAccount: repo.ID,
		Amount:        400,
		Code:          ledger.CodeGrant,
		ScopeID:       42,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.ApplyTransfer(ctx, grant))

	err := s.ApplyTransfer(ctx, grant)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransfer)

	got, err := s.FetchAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), got.Balance(), "replay must not double-apply")
}

func TestSQLite_ApplyTransfer_OverdraftRollsBack(t *testing.T) {
	// GIVEN: A user holding 50 tokens
	// WHEN: A 100-token charge is attempted
	// THEN: InsufficientFundsError and neither account row changed

	s := newTestStore(t)
	ctx := context.Background()
	user, repo := seedLedgerAccounts(t, s)

	require.NoError(t, s.ApplyTransfer(ctx, ledger.Transfer{
		ID:            ledger.GrantTransferID(7, 42),
		DebitAccount:  user.ID,
		CreditAccount: repo.ID,
		Amount:        50,
		Code:          ledger.CodeGrant,
		ScopeID:       42,
		CreatedAt:     time.Now().UTC(),
	}))

	err := s.ApplyTransfer(ctx, ledger.Transfer{
		ID:            ledger.ChargeTransferID(42, 1, "head1"),
		DebitAccount:  repo.ID,
		CreditAccount: user.ID,
		Amount:        100,
		Code:          ledger.CodeCharge,
		ScopeID:       42,
		CreatedAt:     time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	gotUser, err := s.FetchAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), gotUser.Balance())
	gotRepo, err := s.FetchAccount(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), gotRepo.CreditsPosted, "repo leg must roll back too")

	exists, err := s.TransferExists(ctx, ledger.ChargeTransferID(42, 1, "head1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLite_TransfersByAccount_OrderedHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, repo := seedLedgerAccounts(t, s)

	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	for i, amount := range []int64{400, 100, 50} {
		code := ledger.CodeGrant
		debit, credit := user.ID, repo.ID
		if i == 1 {
			code = ledger.CodeCharge
			debit, credit = repo.ID, user.ID
		} else if i == 2 {
			code = ledger.CodeReward
		}
		require.NoError(t, s.ApplyTransfer(ctx, ledger.Transfer{
			ID:            uint64(1000 + i),
			DebitAccount:  debit,
			CreditAccount: credit,
			Amount:        amount,
			Code:          code,
			ScopeID:       42,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	history, err := s.TransfersByAccount(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ledger.CodeGrant, history[0].Code)
	assert.Equal(t, ledger.CodeCharge, history[1].Code)
	assert.Equal(t, ledger.CodeReward, history[2].Code)
}

// =============================================================================
// RECORD STORE
// =============================================================================

func TestSQLite_RepoConfig_UpsertRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRepoConfig(ctx, 42)
	assert.ErrorIs(t, err, karma.ErrRepoNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	cfg := karma.RepoConfig{
		RepoID:               42,
		RepoName:             "engine",
		RepoOwner:            "octocat",
		AccountID:            ledger.NewRepoAccountID(),
		InitialGrant:         400,
		MergePenalty:         100,
		ReviewBonus:          50,
		CommentBonus:         5,
		ComplexityBonus:      20,
		ComplexityEnabled:    true,
		ComplexityThreshold:  500,
		TimelyReviewBonus:    25,
		TimelyReviewWindow:   time.Hour,
		TimelyReviewEnabled:  true,
		AdminOverrideEnabled: true,
		RecheckToken:         "✨",
		AdminRecheckToken:    "🚀",
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, s.PutRepoConfig(ctx, cfg))

	got, err := s.GetRepoConfig(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, cfg.AccountID, got.AccountID)
	assert.Equal(t, time.Hour, got.TimelyReviewWindow)
	assert.Equal(t, "✨", got.RecheckToken)

	// Upsert: the penalty changes, everything else survives.
	cfg.MergePenalty = 250
	require.NoError(t, s.PutRepoConfig(ctx, cfg))
	got, err = s.GetRepoConfig(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.MergePenalty)
	assert.Equal(t, int64(400), got.InitialGrant)
}

func TestSQLite_PullRequest_UpsertAndBounty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetPullRequest(ctx, 42, 1)
	assert.ErrorIs(t, err, karma.ErrPullRequestNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	pr := karma.PullRequestRecord{
		RepoID:      42,
		Number:      1,
		AuthorID:    7,
		AuthorLogin: "alice",
		HeadSHA:     "head1",
		State:       karma.PRStateOpen,
		CheckPassed: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.PutPullRequest(ctx, pr))

	got, err := s.GetPullRequest(ctx, 42, 1)
	require.NoError(t, err)
	assert.True(t, got.CheckPassed)
	assert.Nil(t, got.Bounty)

	bounty := int64(75)
	pr.Bounty = &bounty
	pr.HeadSHA = "head2"
	require.NoError(t, s.PutPullRequest(ctx, pr))

	got, err = s.GetPullRequest(ctx, 42, 1)
	require.NoError(t, err)
	require.NotNil(t, got.Bounty)
	assert.Equal(t, int64(75), *got.Bounty)
	assert.Equal(t, "head2", got.HeadSHA)
}

func TestSQLite_ReviewAndCommentFacts_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	review := karma.ReviewRecord{
		RepoID:        42,
		PRNumber:      1,
		ReviewID:      501,
		ReviewerID:    8,
		ReviewerLogin: "bob",
		State:         "approved",
		SubmittedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.InsertReview(ctx, review))
	assert.ErrorIs(t, s.InsertReview(ctx, review), karma.ErrReviewExists)

	comment := karma.CommentRecord{
		RepoID:      42,
		PRNumber:    1,
		CommentID:   9001,
		AuthorID:    8,
		AuthorLogin: "bob",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.InsertComment(ctx, comment))
	assert.ErrorIs(t, s.InsertComment(ctx, comment), karma.ErrCommentExists)
}
