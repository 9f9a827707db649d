package karma_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gitkarma/engine/karma"
	"github.com/gitkarma/engine/ledger"
	"github.com/gitkarma/engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRewarder(t *testing.T) (*karma.Rewarder, *karma.Provisioner, *ledger.Ledger) {
	t.Helper()
	led := ledger.New(store.NewMemory())
	prov := karma.NewProvisioner(led, karma.NewMemoryRecords(), testDefaults, zaptest.NewLogger(t))
	return karma.NewRewarder(led, prov), prov, led
}

func reviewEvent(reviewID uint64, submittedAt time.Time, changedLines int64) karma.ReviewSubmitted {
	return karma.ReviewSubmitted{
		EventMeta:     testMeta(42),
		Number:        1,
		ReviewID:      reviewID,
		ReviewerID:    9,
		ReviewerLogin: "reviewer",
		State:         "approved",
		SubmittedAt:   submittedAt,
		ChangedLines:  changedLines,
	}
}

// =============================================================================
// REVIEW REWARDS
// =============================================================================

func TestRewardReview_BaseBonus(t *testing.T) {
	// GIVEN: A repo with a 50-token review bonus
	// WHEN: A review is rewarded
	// THEN: The reviewer's balance rises by exactly the base bonus

	rewarder, prov, led := newTestRewarder(t)
	ctx := context.Background()

	cfg, err := prov.ResolveRepoConfig(ctx, testMeta(42))
	require.NoError(t, err)

	pr := karma.PullRequestRecord{RepoID: 42, Number: 1, CreatedAt: time.Now().UTC()}
	reward, applied, err := rewarder.RewardReview(ctx, cfg, pr, reviewEvent(501, time.Now().UTC(), 0), 0)
	require.NoError(t, err)

	assert.True(t, applied)
	assert.Equal(t, int64(50), reward.Total())

	balance, err := led.Balance(ctx, ledger.UserAccountID(9, 42))
	require.NoError(t, err)
	assert.Equal(t, int64(450), balance, "grant + review bonus")
}

func TestRewardReview_Replay_PaysOnce(t *testing.T) {
	// GIVEN: A review already rewarded
	// WHEN: The event is redelivered
	// THEN: applied=false and the balance does not move again

	rewarder, prov, led := newTestRewarder(t)
	ctx := context.Background()

	cfg, err := prov.ResolveRepoConfig(ctx, testMeta(42))
	require.NoError(t, err)

	pr := karma.PullRequestRecord{RepoID: 42, Number: 1, CreatedAt: time.Now().UTC()}
	ev := reviewEvent(501, time.Now().UTC(), 0)

	_, applied, err := rewarder.RewardReview(ctx, cfg, pr, ev, 0)
	require.NoError(t, err)
	require.True(t, applied)

	_, applied, err = rewarder.RewardReview(ctx, cfg, pr, ev, 0)
	require.NoError(t, err)
	assert.False(t, applied, "replay must not pay twice")

	balance, err := led.Balance(ctx, ledger.UserAccountID(9, 42))
	require.NoError(t, err)
	assert.Equal(t, int64(450), balance)
}

func TestRewardReview_TimelyBonus_WithinWindow(t *testing.T) {
	// GIVEN: A one-hour timely window and a 25-token bonus
	// WHEN: The review lands 30 minutes after the PR opened
	// THEN: The timely bonus is included

	rewarder, prov, _ := newTestRewarder(t)
	ctx := context.Background()

	cfg, err := prov.ResolveRepoConfig(ctx, testMeta(42))
	require.NoError(t, err)
	cfg.TimelyReviewEnabled = true
	cfg.TimelyReviewBonus = 25
	cfg.TimelyReviewWindow = time.Hour

	opened := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	pr := karma.PullRequestRecord{RepoID: 42, Number: 1, CreatedAt: opened}

	reward, applied, err := rewarder.RewardReview(ctx, cfg, pr, reviewEvent(501, opened.Add(30*time.Minute), 0), 0)
	require.NoError(t, err)
	require.True(t, applied)

	assert.Equal(t, int64(50), reward.Base)
	assert.Equal(t, int64(25), reward.Timely)
	assert.Equal(t, int64(75), reward.Total())
}

func TestRewardReview_TimelyBonus_OutsideWindow(t *testing.T) {
	// GIVEN: A one-hour timely window
	// WHEN: The review lands two hours after the PR opened
	// THEN: No timely bonus

	rewarder, prov, _ := newTestRewarder(t)
	ctx := context.Background()

	cfg, err := prov.ResolveRepoConfig(ctx, testMeta(42))
	require.NoError(t, err)
	cfg.TimelyReviewEnabled = true
	cfg.TimelyReviewBonus = 25
	cfg.TimelyReviewWindow = time.Hour

	opened := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	pr := karma.PullRequestRecord{RepoID: 42, Number: 1, CreatedAt: opened}

	reward, _, err := rewarder.RewardReview(ctx, cfg, pr, reviewEvent(501, opened.Add(2*time.Hour), 0), 0)
	require.NoError(t, err)
	assert.Zero(t, reward.Timely)
}

func TestRewardReview_ComplexityBonus_Prorated(t *testing.T) {
	// GIVEN: A 20-token complexity bonus with a 500-line threshold
	// WHEN: Reviews of varying diff sizes are rewarded
	// THEN: The bonus scales with size, capped at the threshold

	rewarder, prov, _ := newTestRewarder(t)
	ctx := context.Background()

	cfg, err := prov.ResolveRepoConfig(ctx, testMeta(42))
	require.NoError(t, err)
	cfg.ComplexityEnabled = true
	cfg.ComplexityBonus = 20
	cfg.ComplexityThreshold = 500

	cases := []struct {
		name         string
		changedLines int64
		want         int64
	}{
		{"at threshold", 500, 20},
		{"above threshold", 2000, 20},
		{"half threshold", 250, 10},
		{"small diff", 25, 1},
		{"zero lines", 0, 0},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := reviewEvent(uint64(600+i), time.Now().UTC(), tc.changedLines)
			pr := karma.PullRequestRecord{RepoID: 42, Number: 1, CreatedAt: time.Now().UTC()}
			reward, _, err := rewarder.RewardReview(ctx, cfg, pr, ev, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, reward.Complexity)
		})
	}
}

func TestRewardReview_BountyClaimedAtomically(t *testing.T) {
	// GIVEN: A PR carrying a 75-token bounty
	// WHEN: The first review is rewarded
	// THEN: One transfer pays base + bounty together

	rewarder, prov, led := newTestRewarder(t)
	ctx := context.Background()

	cfg, err := prov.ResolveRepoConfig(ctx, testMeta(42))
	require.NoError(t, err)

	pr := karma.PullRequestRecord{RepoID: 42, Number: 1, CreatedAt: time.Now().UTC()}
	reward, applied, err := rewarder.RewardReview(ctx, cfg, pr, reviewEvent(501, time.Now().UTC(), 0), 75)
	require.NoError(t, err)
	require.True(t, applied)

	assert.Equal(t, int64(75), reward.Bounty)
	assert.Equal(t, int64(125), reward.Total())

	history, err := led.History(ctx, ledger.UserAccountID(9, 42))
	require.NoError(t, err)
	require.Len(t, history, 2) // grant + one combined reward
	assert.Equal(t, int64(125), history[1].Amount)
}

// =============================================================================
// COMMENT REWARDS
// =============================================================================

func TestRewardComment_PaysOncePerCommentID(t *testing.T) {
	// GIVEN: A repo paying 5 tokens per comment
	// WHEN: The same comment event is delivered twice
	// THEN: One payout

	rewarder, prov, led := newTestRewarder(t)
	ctx := context.Background()

	cfg, err := prov.ResolveRepoConfig(ctx, testMeta(42))
	require.NoError(t, err)

	ev := karma.CommentCreated{
		EventMeta: testMeta(42),
		Number:    1,
		CommentID: 9001,
		Body:      "looks good overall",
	}

	amount, applied, err := rewarder.RewardComment(ctx, cfg, ev)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(5), amount)

	_, applied, err = rewarder.RewardComment(ctx, cfg, ev)
	require.NoError(t, err)
	assert.False(t, applied)

	balance, err := led.Balance(ctx, ledger.UserAccountID(1, 42))
	require.NoError(t, err)
	assert.Equal(t, int64(405), balance)
}

func TestRewardComment_ZeroBonus_NoTransfer(t *testing.T) {
	// GIVEN: A repo with the comment bonus disabled (zero)
	// WHEN: A comment is rewarded
	// THEN: No payout, no account provisioning

	rewarder, prov, led := newTestRewarder(t)
	ctx := context.Background()

	cfg, err := prov.ResolveRepoConfig(ctx, testMeta(42))
	require.NoError(t, err)
	cfg.CommentBonus = 0

	_, applied, err := rewarder.RewardComment(ctx, cfg, karma.CommentCreated{
		EventMeta: testMeta(42), Number: 1, CommentID: 9001,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = led.GetAccount(ctx, ledger.UserAccountID(1, 42))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
