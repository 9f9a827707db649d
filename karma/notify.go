/*
notify.go - Rendering of user-visible outcomes

PURPOSE:
  Every terminal outcome of an evaluation (funded, insufficient,
  already funded, admin override) has a rendered comment body and a
  check-run title/summary. All functions here are pure: they format
  strings and hold no state. There is no silent failure path for a
  completed evaluation.
*/
package karma

import (
	"fmt"
	"strings"

	"github.com/gitkarma/engine/gh"
)

// Check-run titles.
const (
	CheckTitleInProgress    = "Karma Funds Check in Progress"
	CheckTitleCompleted     = "Karma Funds Check Completed"
	CheckTitleFailed        = "Karma Funds Check Failed"
	CheckTitleAdminApproved = "Karma Funds Check Approved by Admin"
)

// BalanceToken is the comment body that triggers a balance reply.
const BalanceToken = "💰"

// ─── Check runs ─────────────────────────────────────────────────────────────

func CheckInProgress(headSHA, login string, penalty int64) gh.CheckRun {
	return gh.CheckRun{
		HeadSHA: headSHA,
		Status:  gh.CheckInProgress,
		Title:   CheckTitleInProgress,
		Summary: fmt.Sprintf(
			"Verifying that @%s holds the %d tokens required to fund this pull request.",
			login, penalty),
	}
}

func CheckFunded(headSHA, login string, before, after, penalty int64) gh.CheckRun {
	return gh.CheckRun{
		HeadSHA:    headSHA,
		Status:     gh.CheckCompleted,
		Conclusion: gh.ConclusionSuccess,
		Title:      CheckTitleCompleted,
		Summary: fmt.Sprintf(`## ✅ Token Verification Complete

@%s had a balance of **%d** tokens, covering the required **%d**.

- Previous balance: %d
- Tokens deducted: %d
- New balance: %d`,
			login, before, penalty, before, penalty, after),
	}
}

func CheckFailed(headSHA, login string, balance, penalty int64) gh.CheckRun {
	shortfall := penalty - balance
	if shortfall < 0 {
		shortfall = 0
	}
	return gh.CheckRun{
		HeadSHA:    headSHA,
		Status:     gh.CheckCompleted,
		Conclusion: gh.ConclusionFailure,
		Title:      CheckTitleFailed,
		Summary: fmt.Sprintf(`## ❌ Funds Verification Failed

@%s holds **%d** tokens, below the required **%d** for this repository.

- Current balance: %d
- Required tokens: %d
- Shortfall: %d

Earn tokens by reviewing pull requests before attempting to merge.`,
			login, balance, penalty, balance, penalty, shortfall),
	}
}

func CheckAdminApproved(headSHA string) gh.CheckRun {
	return gh.CheckRun{
		HeadSHA:    headSHA,
		Status:     gh.CheckCompleted,
		Conclusion: gh.ConclusionSuccess,
		Title:      CheckTitleAdminApproved,
		Summary: `## ✅ Token Verification Complete - Admin Approved

This pull request was administratively approved, bypassing the token
verification. No tokens were deducted from the author's balance.`,
	}
}

func CheckBypassed(headSHA string) gh.CheckRun {
	return gh.CheckRun{
		HeadSHA:    headSHA,
		Status:     gh.CheckCompleted,
		Conclusion: gh.ConclusionSuccess,
		Title:      CheckTitleCompleted,
		Summary:    "Karma funding is disabled for this repository; the check passes unconditionally.",
	}
}

// ─── Comments ───────────────────────────────────────────────────────────────

func FundedComment(login string, newBalance int64, recheck, adminRecheck string) string {
	return fmt.Sprintf(`## ✅ PR Funding Check: Passed

Hi @%s! Your pull request has been funded.

### Current balance: %d tokens

Need to re-trigger the check?
- %s - re-run the funding check (all users)
- %s - bypass the check and pass directly (admin only)
- %s - view your current balance`,
		login, newBalance, recheck, adminRecheck, BalanceToken)
}

func InsufficientFundsComment(login string, balance, penalty int64, recheck, adminRecheck string) string {
	shortfall := penalty - balance
	if shortfall < 0 {
		shortfall = 0
	}
	return fmt.Sprintf(`## ❌ PR Funding Check: Insufficient Funds

Hi @%s! Your pull request could not be funded.

### Balance details
- Current balance: %d tokens
- Required balance: %d tokens
- Shortfall: %d tokens

### What to do next
- Earn tokens by reviewing and approving other pull requests
- %s - re-trigger the check after earning more tokens
- %s - bypass the check and pass directly (admin only)
- %s - view your current balance`,
		login, balance, penalty, shortfall, recheck, adminRecheck, BalanceToken)
}

func AlreadyFundedComment(number int) string {
	return fmt.Sprintf(`## ℹ️ PR #%d Already Funded

The check is already passing, so re-checking is unnecessary. No
additional tokens are required.`, number)
}

func AdminOverrideComment(admin string, number int) string {
	return fmt.Sprintf(`## 🔄 Admin Override Activated for PR #%d

Administrator @%s has manually approved this pull request, bypassing the
funds verification. No tokens were deducted. Only repository
administrators can perform this override.`, number, admin)
}

func BalanceComment(login string, balance int64) string {
	return fmt.Sprintf(`## 💰 Balance Check

Hello @%s! Your current balance is **%d tokens**.

Earn more by reviewing pull requests in repositories that use the karma
economy.`, login, balance)
}

func ReviewRewardComment(login string, reward ReviewReward) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 🎉 Review Submitted - Tokens Awarded!\n\n")
	fmt.Fprintf(&b, "Thank you @%s for your review. **%d tokens** have been added to your balance.\n", login, reward.Total())
	if reward.Timely > 0 || reward.Complexity > 0 || reward.Bounty > 0 {
		b.WriteString("\n### Breakdown\n")
		fmt.Fprintf(&b, "- Review bonus: %d\n", reward.Base)
		if reward.Timely > 0 {
			fmt.Fprintf(&b, "- Timely review bonus: %d\n", reward.Timely)
		}
		if reward.Complexity > 0 {
			fmt.Fprintf(&b, "- Complexity bonus: %d\n", reward.Complexity)
		}
		if reward.Bounty > 0 {
			fmt.Fprintf(&b, "- Bounty claimed: %d\n", reward.Bounty)
		}
	}
	return b.String()
}

func BountyAddedComment(amount int64) string {
	return fmt.Sprintf(`## 💎 Bounty Added

A bounty of **%d tokens** is attached to this pull request. The first
submitted review claims it on top of the regular review bonus.`, amount)
}

func BountyRemovedComment() string {
	return "## 💎 Bounty Removed\n\nThe bounty on this pull request has been withdrawn."
}

func MergedComment(author string, number int, approvers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 🎉 PR #%d Merged\n\nCongratulations @%s!\n", number, author)
	if len(approvers) > 0 {
		fmt.Fprintf(&b, "\nThanks to the reviewers who approved it: @%s.\n",
			strings.Join(approvers, ", @"))
	}
	return b.String()
}

func ClosedComment(author string, number int) string {
	return fmt.Sprintf(`## PR #%d Closed

@%s closed this pull request without merging. Spent tokens are not
refunded automatically; contact a repository administrator if the check
was charged in error.`, number, author)
}
