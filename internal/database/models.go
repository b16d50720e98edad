package historydb

import (
	"time"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

// AttemptRecord is one commit, reveal or transfer attempt as the wallet
// observed it. Purely informational; the ledger stays authoritative.
type AttemptRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Account   string    `gorm:"index" json:"account"`
	Kind      string    `json:"kind"` // "commit", "reveal" or "transfer"
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	TxRef     string    `json:"tx_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusCache holds the last snapshot seen per account so the UI can
// show something before the first refresh completes after a restart.
type StatusCache struct {
	Account         string    `gorm:"primaryKey" json:"account"`
	UnlockedUntil   int64     `json:"unlocked_until"`
	UnlockedAmount  string    `json:"unlocked_amount"`
	NextAttemptTime int64     `json:"next_attempt_time"`
	HasCommit       bool      `json:"has_commit"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Snapshot converts the cached row back into a status snapshot.
func (c *StatusCache) Snapshot() ledger.UnlockStatus {
	return ledger.UnlockStatus{
		UnlockedUntil:   c.UnlockedUntil,
		UnlockedAmount:  c.UnlockedAmount,
		NextAttemptTime: c.NextAttemptTime,
		HasCommit:       c.HasCommit,
	}
}
