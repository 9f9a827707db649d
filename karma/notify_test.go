package karma_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gitkarma/engine/gh"
	"github.com/gitkarma/engine/karma"
)

func TestCheckFailed_ShortfallNeverNegative(t *testing.T) {
	// GIVEN: A balance above the penalty (race between read and render)
	// WHEN: The failed check is rendered
	// THEN: The shortfall clamps to zero instead of going negative

	check := karma.CheckFailed("head1", "alice", 150, 100)
	assert.Equal(t, gh.ConclusionFailure, check.Conclusion)
	assert.Contains(t, check.Summary, "Shortfall: 0")
}

func TestInsufficientFundsComment_NamesAllTriggers(t *testing.T) {
	// Every failure comment must tell the user how to recover: the
	// recheck token, the admin token, and the balance token.

	body := karma.InsufficientFundsComment("alice", 50, 100, "✨", "🚀")
	assert.Contains(t, body, "@alice")
	assert.Contains(t, body, "Shortfall: 50")
	assert.Contains(t, body, "✨")
	assert.Contains(t, body, "🚀")
	assert.Contains(t, body, karma.BalanceToken)
}

func TestReviewRewardComment_BreakdownOnlyWhenEarned(t *testing.T) {
	// A plain base reward renders without a breakdown section; composed
	// rewards itemize each component.

	plain := karma.ReviewRewardComment("bob", karma.ReviewReward{Base: 50})
	assert.Contains(t, plain, "**50 tokens**")
	assert.NotContains(t, plain, "Breakdown")

	composed := karma.ReviewRewardComment("bob", karma.ReviewReward{Base: 50, Timely: 25, Bounty: 75})
	assert.Contains(t, composed, "**150 tokens**")
	assert.Contains(t, composed, "Breakdown")
	assert.Contains(t, composed, "Timely review bonus: 25")
	assert.Contains(t, composed, "Bounty claimed: 75")
	assert.NotContains(t, composed, "Complexity")
}

func TestBountyLabel_RoundTrip(t *testing.T) {
	amount, ok := karma.ParseBountyLabel(karma.BountyLabel(75))
	assert.True(t, ok)
	assert.Equal(t, int64(75), amount)
}

func TestParseBountyLabel_RejectsNonBountyLabels(t *testing.T) {
	cases := []string{
		"bug",
		"bounty",
		"bounty: karma",
		"bounty: -5 karma",
		"bounty: 75 karma points",
		"Bounty: 75 karma",
		" bounty: 75 karma",
	}
	for _, name := range cases {
		_, ok := karma.ParseBountyLabel(name)
		assert.False(t, ok, "label %q must not parse as a bounty", name)
	}
}
