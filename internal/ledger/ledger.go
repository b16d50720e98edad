package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Protocol timing parameters. These mirror the deployed VEIL token
// contract and must not be changed independently of it.
const (
	Cooldown     = 24 * time.Hour
	UnlockWindow = 24 * time.Hour

	// A commit can be revealed no earlier than the block after it was
	// mined and becomes unusable once it is older than CommitExpiry
	// blocks.
	CommitMinAge = 1
	CommitExpiry = 256
)

// FailureReason classifies a reveal that completed on the ledger but was
// rejected by protocol rules. These are defined outcomes, not errors.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonNoCommit
	ReasonCommitTooNew
	ReasonHashMismatch
	ReasonCommitExpired
	ReasonCooldownActive
	ReasonDrawFailed
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoCommit:
		return "no commit found"
	case ReasonCommitTooNew:
		return "commit too recent, wait one block"
	case ReasonHashMismatch:
		return "hash mismatch"
	case ReasonCommitExpired:
		return "commit expired"
	case ReasonCooldownActive:
		return "cooldown active"
	case ReasonDrawFailed:
		return "unlock draw failed"
	default:
		return "unknown"
	}
}

// UnlockStatus is a point-in-time snapshot of one account's unlock state
// on the ledger. It is immutable once produced; the unlocked flag is
// always derived from the snapshot fields, never stored.
type UnlockStatus struct {
	UnlockedUntil   int64  `json:"unlocked_until"`
	UnlockedAmount  string `json:"unlocked_amount"`
	NextAttemptTime int64  `json:"next_attempt_time"`
	HasCommit       bool   `json:"has_commit"`
}

// IsUnlockedAt reports whether the account's balance is transferable at
// the given instant.
func (s UnlockStatus) IsUnlockedAt(now time.Time) bool {
	if s.UnlockedUntil == 0 {
		return false
	}
	amt, ok := new(big.Int).SetString(s.UnlockedAmount, 10)
	if !ok {
		return false
	}
	return now.Unix() <= s.UnlockedUntil && amt.Sign() > 0
}

// IsUnlocked derives the transferability flag against the wall clock.
func (s UnlockStatus) IsUnlocked() bool {
	return s.IsUnlockedAt(time.Now())
}

// CommitReceipt describes a confirmed commit transaction.
type CommitReceipt struct {
	TxRef       string `json:"tx_ref"`
	BlockNumber uint64 `json:"block_number"`
}

// RevealOutcome is the result of a reveal that reached the ledger and
// completed. Success false means the protocol consumed the attempt and
// rejected it for Reason; it does not mean the call failed.
type RevealOutcome struct {
	Success bool          `json:"success"`
	TxRef   string        `json:"tx_ref"`
	Reason  FailureReason `json:"reason,omitempty"`
}

// Port is the capability interface over unlock-related ledger state.
// The live EVM backend and the simulated backend implement it with
// identical observable behavior so session logic stays backend-agnostic.
type Port interface {
	// QueryUnlockStatus reads all four underlying fields together and
	// combines them into one structurally consistent snapshot.
	QueryUnlockStatus(ctx context.Context, account string) (UnlockStatus, error)

	// Commit records the hash of a secret preimage for the account,
	// overwriting any outstanding commit slot.
	Commit(ctx context.Context, account string, preimageHash common.Hash) (CommitReceipt, error)

	// Reveal submits the preimage. A protocol rejection is reported in
	// the outcome, not as an error; errors are reserved for transport
	// failures and user aborts.
	Reveal(ctx context.Context, account string, preimage *big.Int) (RevealOutcome, error)

	// Transfer moves unlocked balance to another account and returns a
	// transaction reference.
	Transfer(ctx context.Context, account, to string, amount *big.Int) (string, error)

	// Balance returns the account's full token balance as a decimal
	// string.
	Balance(ctx context.Context, account string) (string, error)
}

// CommitHash derives the commit slot value for a preimage: keccak256 of
// the preimage encoded as a 32-byte big-endian word, matching the
// contract's commitHash function.
func CommitHash(preimage *big.Int) common.Hash {
	word := common.BigToHash(preimage)
	return crypto.Keccak256Hash(word.Bytes())
}
