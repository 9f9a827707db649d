/*
ids.go - Deterministic id derivation from business keys

PURPOSE:
  Idempotency is the primary correctness property of the karma economy:
  the upstream event source only guarantees at-least-once, possibly
  reordered delivery. Instead of a dedup table, every externally
  triggered mutation is keyed by an id derived from stable business
  keys, so a replay regenerates the same id and collapses into a
  duplicate rejection.

ID KINDS:
  UserAccountID     (userID, repoID)               - regenerable without lookup
  NewRepoAccountID  fresh, random                  - persisted on the repo record
  GrantTransferID   (userID, repoID)               - exactly one initial grant
  ChargeTransferID  (repoID, prNumber, headSHA)    - one charge per funded head
  ReviewRewardID    (repoID, reviewID)             - one payout per review
  CommentRewardID   (repoID, commentID)            - one payout per comment

DERIVATION:
  SHA-256 over the decimal-rendered keys joined with a kind tag, first 8
  bytes big-endian. Pure function: same keys, same id, on any node.
*/
package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"github.com/google/uuid"
)

func deriveID(parts ...string) uint64 {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // separator so ("a","bc") != ("ab","c")
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// UserAccountID derives the account id for a user within a repo. The id
// can always be regenerated from the pair, so resolving a user account
// never requires an index lookup.
func UserAccountID(userID, repoID uint64) uint64 {
	return deriveID("account:user", u64(userID), u64(repoID))
}

// NewRepoAccountID generates a fresh id for a repo float account. Repo
// accounts are looked up via the persisted repo record, so the id does
// not need to be derivable.
func NewRepoAccountID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[8:])
}

// GrantTransferID derives the id of the one-time initial grant for a
// (user, repo) pair. Two racing provisioning attempts derive the same id
// and only one grant posts.
func GrantTransferID(userID, repoID uint64) uint64 {
	return deriveID("transfer:initial-grant", u64(userID), u64(repoID))
}

// ChargeTransferID derives the id of the merge-penalty charge for a
// pull request head. A redelivered funding event for the same head
// collapses; a new commit produces a new head and a new id.
func ChargeTransferID(repoID uint64, prNumber int, headSHA string) uint64 {
	return deriveID("transfer:charge", u64(repoID), strconv.Itoa(prNumber), headSHA)
}

// ReviewRewardID derives the id of the reward paid for a submitted
// review, keyed by the host's unique review id.
func ReviewRewardID(repoID, reviewID uint64) uint64 {
	return deriveID("transfer:review-reward", u64(repoID), u64(reviewID))
}

// CommentRewardID derives the id of the reward paid for a comment.
func CommentRewardID(repoID, commentID uint64) uint64 {
	return deriveID("transfer:comment-reward", u64(repoID), u64(commentID))
}
