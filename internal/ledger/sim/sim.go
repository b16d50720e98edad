// Package sim implements the ledger port against in-memory state so the
// wallet can run its full commit-reveal flow without a node or a
// deployed contract. State transitions mirror the VEIL token contract
// rule for rule; only confirmation latency and the unlock draw are
// modeled artificially.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

// blockTime is the simulated block interval. Block height is derived
// from the clock so that commit age and expiry behave like the chain.
const blockTime = 12 * time.Second

// Config controls the simulated ledger. Zero values get sensible
// defaults; tests inject Now and Seed for determinism.
type Config struct {
	Seed         int64
	ConfirmDelay time.Duration
	InitialGrant string
	Now          func() time.Time
}

type accountState struct {
	balance        *big.Int
	commitHash     common.Hash
	commitBlock    uint64
	unlockedUntil  int64
	unlockedAmount *big.Int
	lastAttempt    int64
}

// Ledger is the simulated backend. All methods are safe for concurrent
// use; every read combines the account fields under one lock hold so a
// snapshot can never mix two ledger states.
type Ledger struct {
	mu           sync.Mutex
	now          func() time.Time
	rng          *rand.Rand
	draw         func() bool
	confirmDelay time.Duration
	genesis      time.Time
	initialGrant *big.Int
	accounts     map[string]*accountState
	txSeq        uint64
	offline      bool
	rejectNext   bool
}

func NewLedger(cfg Config) *Ledger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	grant := new(big.Int)
	if cfg.InitialGrant != "" {
		if _, ok := grant.SetString(cfg.InitialGrant, 10); !ok {
			grant.SetInt64(0)
		}
	} else {
		grant.SetString("1000000000000000000000", 10) // 1000 VEIL
	}
	l := &Ledger{
		now:          now,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		confirmDelay: cfg.ConfirmDelay,
		genesis:      now(),
		initialGrant: grant,
		accounts:     make(map[string]*accountState),
	}
	// The contract unlocks when a value derived from the preimage is
	// divisible by 5; here the same 1-in-5 odds come from an explicit
	// uniform draw.
	l.draw = func() bool { return l.rng.Intn(5) == 0 }
	return l
}

// SetDraw replaces the unlock draw. Tests use it to force a known
// outcome for a scenario.
func (l *Ledger) SetDraw(draw func() bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.draw = draw
}

// SetOffline toggles simulated node unreachability. While offline every
// call fails with a TransportError, as the live backend would.
func (l *Ledger) SetOffline(offline bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = offline
}

// RejectNextWrite makes the next mutating call fail as a user abort,
// mirroring a declined wallet prompt on the live backend.
func (l *Ledger) RejectNextWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectNext = true
}

func (l *Ledger) blockNumber() uint64 {
	elapsed := l.now().Sub(l.genesis)
	if elapsed < 0 {
		elapsed = 0
	}
	return 1 + uint64(elapsed/blockTime)
}

// account returns the state for an address, seeding a demo balance on
// first touch.
func (l *Ledger) account(addr string) *accountState {
	st, ok := l.accounts[addr]
	if !ok {
		st = &accountState{
			balance:        new(big.Int).Set(l.initialGrant),
			unlockedAmount: new(big.Int),
		}
		l.accounts[addr] = st
	}
	return st
}

func (l *Ledger) nextTxRef(account string) string {
	l.txSeq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.txSeq)
	return crypto.Keccak256Hash([]byte(account), seq[:]).Hex()
}

func (l *Ledger) QueryUnlockStatus(ctx context.Context, account string) (ledger.UnlockStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return ledger.UnlockStatus{}, &ledger.TransportError{Op: "queryUnlockStatus", Err: fmt.Errorf("simulated node offline")}
	}
	st := l.account(account)
	return ledger.UnlockStatus{
		UnlockedUntil:   st.unlockedUntil,
		UnlockedAmount:  st.unlockedAmount.String(),
		NextAttemptTime: st.lastAttempt + int64(ledger.Cooldown/time.Second),
		HasCommit:       st.commitHash != (common.Hash{}),
	}, nil
}

func (l *Ledger) Commit(ctx context.Context, account string, preimageHash common.Hash) (ledger.CommitReceipt, error) {
	if err := l.confirm(ctx, "commit"); err != nil {
		return ledger.CommitReceipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.account(account)
	st.commitHash = preimageHash
	st.commitBlock = l.blockNumber()
	return ledger.CommitReceipt{
		TxRef:       l.nextTxRef(account),
		BlockNumber: st.commitBlock,
	}, nil
}

func (l *Ledger) Reveal(ctx context.Context, account string, preimage *big.Int) (ledger.RevealOutcome, error) {
	if err := l.confirm(ctx, "reveal"); err != nil {
		return ledger.RevealOutcome{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.account(account)
	now := l.now().Unix()
	block := l.blockNumber()
	txRef := l.nextTxRef(account)

	if reason, ok := l.revealRejection(st, preimage, now, block); ok {
		// The contract consumes the attempt regardless of outcome.
		st.commitHash = common.Hash{}
		st.commitBlock = 0
		st.lastAttempt = now
		return ledger.RevealOutcome{Success: false, TxRef: txRef, Reason: reason}, nil
	}

	st.commitHash = common.Hash{}
	st.commitBlock = 0
	st.lastAttempt = now
	st.unlockedUntil = now + int64(ledger.UnlockWindow/time.Second)
	st.unlockedAmount = new(big.Int).Set(st.balance)
	return ledger.RevealOutcome{Success: true, TxRef: txRef}, nil
}

// revealRejection applies the contract's reveal checks in order and
// returns the first failing rule.
func (l *Ledger) revealRejection(st *accountState, preimage *big.Int, now int64, block uint64) (ledger.FailureReason, bool) {
	if st.commitHash == (common.Hash{}) {
		return ledger.ReasonNoCommit, true
	}
	if block < st.commitBlock+ledger.CommitMinAge {
		return ledger.ReasonCommitTooNew, true
	}
	if ledger.CommitHash(preimage) != st.commitHash {
		return ledger.ReasonHashMismatch, true
	}
	if block > st.commitBlock+ledger.CommitExpiry {
		return ledger.ReasonCommitExpired, true
	}
	if st.lastAttempt != 0 && now < st.lastAttempt+int64(ledger.Cooldown/time.Second) {
		return ledger.ReasonCooldownActive, true
	}
	if !l.draw() {
		return ledger.ReasonDrawFailed, true
	}
	return ledger.ReasonNone, false
}

func (l *Ledger) Transfer(ctx context.Context, account, to string, amount *big.Int) (string, error) {
	if err := l.confirm(ctx, "transfer"); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.account(account)
	now := l.now().Unix()

	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}
	if st.unlockedUntil == 0 || now > st.unlockedUntil || st.unlockedAmount.Sign() == 0 {
		return "", fmt.Errorf("balance is locked")
	}
	if amount.Cmp(st.unlockedAmount) > 0 {
		return "", fmt.Errorf("amount exceeds unlocked balance")
	}
	if amount.Cmp(st.balance) > 0 {
		return "", fmt.Errorf("insufficient balance")
	}

	st.balance.Sub(st.balance, amount)
	st.unlockedAmount.Sub(st.unlockedAmount, amount)
	dst := l.account(to)
	dst.balance.Add(dst.balance, amount)
	return l.nextTxRef(account), nil
}

func (l *Ledger) Balance(ctx context.Context, account string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return "", &ledger.TransportError{Op: "balanceOf", Err: fmt.Errorf("simulated node offline")}
	}
	return l.account(account).balance.String(), nil
}

// confirm models transaction confirmation as a fixed artificial delay
// and applies the offline/reject toggles before any state changes.
func (l *Ledger) confirm(ctx context.Context, op string) error {
	l.mu.Lock()
	if l.offline {
		l.mu.Unlock()
		return &ledger.TransportError{Op: op, Err: fmt.Errorf("simulated node offline")}
	}
	if l.rejectNext {
		l.rejectNext = false
		l.mu.Unlock()
		return &ledger.RejectedByUser{Op: op}
	}
	delay := l.confirmDelay
	l.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return &ledger.TransportError{Op: op, Err: ctx.Err()}
	}
}
