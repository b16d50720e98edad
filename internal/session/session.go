// Package session owns the commit-reveal state machine for one account.
// A session tracks exactly one account against one ledger backend; it is
// created when the account becomes active and destroyed when the account
// disconnects or switches. Sessions are never reused across accounts.
package session

import (
	"context"
	"errors"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

// State is derived from the latest snapshot plus the pending flag and
// the last-failure marker; it is never stored independently.
type State int

const (
	StateNoCommit State = iota
	StateCommitted
	StateCooldownNoCommit
	StateUnlocked
	StateAttemptFailed
)

func (s State) String() string {
	switch s {
	case StateNoCommit:
		return "no-commit"
	case StateCommitted:
		return "committed"
	case StateCooldownNoCommit:
		return "cooldown"
	case StateUnlocked:
		return "unlocked"
	case StateAttemptFailed:
		return "attempt-failed"
	default:
		return "unknown"
	}
}

// PendingOp is the one in-flight mutating operation a session allows.
type PendingOp int

const (
	OpIdle PendingOp = iota
	OpCommitting
	OpRevealing
	OpTransferring
)

var (
	// ErrBusy rejects a mutating call while another one is in flight
	// for the same session.
	ErrBusy = errors.New("another operation is already pending for this session")

	// ErrCommitOutstanding rejects a new commit while one is already
	// recorded; the check is local and never contacts the ledger.
	ErrCommitOutstanding = errors.New("a commit already exists for this account")

	// ErrCooldownActive rejects a commit before the next attempt time.
	ErrCooldownActive = errors.New("reveal cooldown has not elapsed")

	// ErrSessionClosed reports an operation against a destroyed
	// session. Late completions that hit it are discarded.
	ErrSessionClosed = errors.New("session is closed")
)

// Session is the unlock-session state machine for one account.
type Session struct {
	port       ledger.Port
	account    string
	generation uint64
	now        func() time.Time

	mu         sync.Mutex
	closed     bool
	status     ledger.UnlockStatus
	haveStatus bool
	pending    PendingOp
	failed     bool
	failReason ledger.FailureReason
}

// New creates a session for an account. generation tags results issued
// for this session so stale completions from a predecessor can never be
// applied (the account context increments it per session).
func New(port ledger.Port, account string, generation uint64) *Session {
	return &Session{
		port:       port,
		account:    account,
		generation: generation,
		now:        time.Now,
	}
}

// SetClock overrides the session clock. Tests use it to drive the
// passive unlocked-to-locked transition.
func (s *Session) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Session) Account() string    { return s.account }
func (s *Session) Generation() uint64 { return s.generation }

// Status returns the latest snapshot. The second return is false until
// the first refresh has completed.
func (s *Session) Status() (ledger.UnlockStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.haveStatus
}

// Pending reports the in-flight mutating operation, if any.
func (s *Session) Pending() PendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// State derives the current machine state from the snapshot, the
// pending flag and the failure marker.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deriveLocked()
}

func (s *Session) deriveLocked() State {
	if s.failed {
		return StateAttemptFailed
	}
	now := s.now()
	if s.status.IsUnlockedAt(now) {
		return StateUnlocked
	}
	if s.status.HasCommit {
		return StateCommitted
	}
	if s.status.NextAttemptTime > 0 && now.Unix() < s.status.NextAttemptTime {
		return StateCooldownNoCommit
	}
	return StateNoCommit
}

// LastFailure returns the reason for the most recent failed reveal
// while the session is in the attempt-failed state.
func (s *Session) LastFailure() (ledger.FailureReason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failReason, s.failed
}

// AcknowledgeFailure dismisses the attempt-failed marker, letting the
// state revert to no-commit or cooldown.
func (s *Session) AcknowledgeFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = false
	s.failReason = ledger.ReasonNone
}

// Refresh re-queries the ledger and replaces the snapshot. It is
// idempotent, side-effect-free on the ledger, and allowed to run while
// a mutation is pending; the result simply reflects ledger state at
// query time. A refresh completing after Close is discarded.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	status, err := s.port.QueryUnlockStatus(ctx, s.account)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.status = status
	s.haveStatus = true
	return nil
}

// Commit hashes the preimage and records it on the ledger. It rejects
// locally, without contacting the ledger, when another operation is
// pending, a commit is already outstanding, or the cooldown has not
// elapsed.
func (s *Session) Commit(ctx context.Context, preimage *big.Int) (ledger.CommitReceipt, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ledger.CommitReceipt{}, ErrSessionClosed
	}
	if s.pending != OpIdle {
		s.mu.Unlock()
		return ledger.CommitReceipt{}, ErrBusy
	}
	if s.status.HasCommit {
		s.mu.Unlock()
		return ledger.CommitReceipt{}, ErrCommitOutstanding
	}
	if s.status.NextAttemptTime > 0 && s.now().Unix() < s.status.NextAttemptTime {
		s.mu.Unlock()
		return ledger.CommitReceipt{}, ErrCooldownActive
	}
	s.pending = OpCommitting
	s.failed = false
	s.failReason = ledger.ReasonNone
	s.mu.Unlock()

	receipt, err := s.port.Commit(ctx, s.account, ledger.CommitHash(preimage))

	s.mu.Lock()
	if s.closed {
		// The session was destroyed while the call was in flight;
		// discard the completion.
		s.mu.Unlock()
		log.Printf("Discarding stale commit completion for %s (generation %d)", s.account, s.generation)
		return ledger.CommitReceipt{}, ErrSessionClosed
	}
	s.pending = OpIdle
	s.mu.Unlock()

	if err != nil {
		return ledger.CommitReceipt{}, err
	}
	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		log.Printf("Error refreshing after commit: %v", refreshErr)
	}
	return receipt, nil
}

// Reveal submits the preimage. Protocol rejections come back in the
// outcome and move the machine to attempt-failed; hard errors leave the
// snapshot untouched.
func (s *Session) Reveal(ctx context.Context, preimage *big.Int) (ledger.RevealOutcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ledger.RevealOutcome{}, ErrSessionClosed
	}
	if s.pending != OpIdle {
		s.mu.Unlock()
		return ledger.RevealOutcome{}, ErrBusy
	}
	s.pending = OpRevealing
	s.mu.Unlock()

	outcome, err := s.port.Reveal(ctx, s.account, preimage)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("Discarding stale reveal completion for %s (generation %d)", s.account, s.generation)
		return ledger.RevealOutcome{}, ErrSessionClosed
	}
	s.pending = OpIdle
	if err == nil && !outcome.Success {
		s.failed = true
		s.failReason = outcome.Reason
	}
	s.mu.Unlock()

	if err != nil {
		return ledger.RevealOutcome{}, err
	}
	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		log.Printf("Error refreshing after reveal: %v", refreshErr)
	}
	return outcome, nil
}

// Transfer delegates to the ledger. It shares the single in-flight slot
// with commit and reveal so the account's mutations stay serialized.
func (s *Session) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	if s.pending != OpIdle {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.pending = OpTransferring
	s.mu.Unlock()

	txRef, err := s.port.Transfer(ctx, s.account, to, amount)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("Discarding stale transfer completion for %s (generation %d)", s.account, s.generation)
		return "", ErrSessionClosed
	}
	s.pending = OpIdle
	s.mu.Unlock()

	if err != nil {
		return "", err
	}
	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		log.Printf("Error refreshing after transfer: %v", refreshErr)
	}
	return txRef, nil
}

// Close destroys the session. In-flight completions arriving afterwards
// are discarded; the session never applies a result once closed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether the session has been destroyed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
