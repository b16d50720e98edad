package account

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

const (
	chainID  = int64(11155111)
	accountA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	accountB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type fakeProvider struct {
	mu          sync.Mutex
	chain       int64
	accounts    []string
	switchedTo  []int64
	accountSubs []func([]string)
	chainSubs   []func(int64)
}

func newFakeProvider(chain int64, accounts ...string) *fakeProvider {
	return &fakeProvider{chain: chain, accounts: accounts}
}

func (p *fakeProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.accounts))
	copy(out, p.accounts)
	return out, nil
}

func (p *fakeProvider) CurrentChain(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chain, nil
}

func (p *fakeProvider) SwitchOrAddChain(ctx context.Context, chainID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.switchedTo = append(p.switchedTo, chainID)
	p.chain = chainID
	return nil
}

func (p *fakeProvider) OnAccountsChanged(cb func([]string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accountSubs = append(p.accountSubs, cb)
	return func() {}
}

func (p *fakeProvider) OnChainChanged(cb func(int64)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chainSubs = append(p.chainSubs, cb)
	return func() {}
}

func (p *fakeProvider) emitAccounts(accounts []string) {
	p.mu.Lock()
	p.accounts = accounts
	subs := append([]func([]string){}, p.accountSubs...)
	p.mu.Unlock()
	for _, cb := range subs {
		cb(accounts)
	}
}

func (p *fakeProvider) emitChain(chain int64) {
	p.mu.Lock()
	p.chain = chain
	subs := append([]func(int64){}, p.chainSubs...)
	p.mu.Unlock()
	for _, cb := range subs {
		cb(chain)
	}
}

type stubPort struct{}

func (stubPort) QueryUnlockStatus(ctx context.Context, account string) (ledger.UnlockStatus, error) {
	return ledger.UnlockStatus{UnlockedAmount: "0"}, nil
}

func (stubPort) Commit(ctx context.Context, account string, preimageHash common.Hash) (ledger.CommitReceipt, error) {
	return ledger.CommitReceipt{TxRef: "0x1", BlockNumber: 1}, nil
}

func (stubPort) Reveal(ctx context.Context, account string, preimage *big.Int) (ledger.RevealOutcome, error) {
	return ledger.RevealOutcome{Success: true, TxRef: "0x2"}, nil
}

func (stubPort) Transfer(ctx context.Context, account, to string, amount *big.Int) (string, error) {
	return "0x3", nil
}

func (stubPort) Balance(ctx context.Context, account string) (string, error) {
	return "1000", nil
}

func newConnectedContext(t *testing.T, provider *fakeProvider) *Context {
	t.Helper()
	c := NewContext(provider, stubPort{}, chainID, time.Hour)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnectCreatesSession(t *testing.T) {
	provider := newFakeProvider(chainID, accountA)
	c := newConnectedContext(t, provider)

	sess, err := c.Session()
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.Account() != accountA {
		t.Errorf("session account = %s, want %s", sess.Account(), accountA)
	}
	if c.Account() != accountA {
		t.Errorf("context account = %s, want %s", c.Account(), accountA)
	}
}

func TestConnectSwitchesToTargetChain(t *testing.T) {
	provider := newFakeProvider(1, accountA) // wrong chain at first
	c := newConnectedContext(t, provider)

	provider.mu.Lock()
	switched := append([]int64{}, provider.switchedTo...)
	provider.mu.Unlock()

	if len(switched) != 1 || switched[0] != chainID {
		t.Errorf("switch requests = %v, want one request for %d", switched, chainID)
	}
	if _, err := c.Session(); err != nil {
		t.Errorf("Session after switch: %v", err)
	}
}

func TestConnectWithoutAccounts(t *testing.T) {
	provider := newFakeProvider(chainID)
	c := NewContext(provider, stubPort{}, chainID, time.Hour)
	if err := c.Connect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Connect = %v, want ErrNotConnected", err)
	}
}

func TestAccountSwitchReplacesSession(t *testing.T) {
	provider := newFakeProvider(chainID, accountA)
	c := newConnectedContext(t, provider)

	oldSess, err := c.Session()
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	oldGen := oldSess.Generation()

	provider.emitAccounts([]string{accountB})

	newSess, err := c.Session()
	if err != nil {
		t.Fatalf("Session after switch: %v", err)
	}
	if !oldSess.Closed() {
		t.Error("previous session survived the account switch")
	}
	if newSess == oldSess {
		t.Error("session was reused across accounts")
	}
	if newSess.Account() != accountB {
		t.Errorf("new session account = %s, want %s", newSess.Account(), accountB)
	}
	if newSess.Generation() <= oldGen {
		t.Errorf("generation did not advance: %d -> %d", oldGen, newSess.Generation())
	}
}

func TestSameAccountEventIsIgnored(t *testing.T) {
	provider := newFakeProvider(chainID, accountA)
	c := newConnectedContext(t, provider)

	sess, _ := c.Session()
	provider.emitAccounts([]string{accountA})

	again, err := c.Session()
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if again != sess {
		t.Error("unchanged account event recreated the session")
	}
}

func TestEmptyAccountsDisconnects(t *testing.T) {
	provider := newFakeProvider(chainID, accountA)
	c := newConnectedContext(t, provider)

	sess, _ := c.Session()
	provider.emitAccounts(nil)

	if !sess.Closed() {
		t.Error("session survived wallet disconnect")
	}
	if _, err := c.Session(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Session after disconnect = %v, want ErrNotConnected", err)
	}
	if c.Account() != "" {
		t.Errorf("account = %q after disconnect, want empty", c.Account())
	}
}

func TestChainChangeRequiresReconnect(t *testing.T) {
	provider := newFakeProvider(chainID, accountA)
	c := newConnectedContext(t, provider)

	sess, _ := c.Session()
	provider.emitChain(1)

	if !sess.Closed() {
		t.Error("session survived a chain change")
	}
	if _, err := c.Session(); !errors.Is(err, ErrReconnectRequired) {
		t.Errorf("Session after chain change = %v, want ErrReconnectRequired", err)
	}

	// A fresh Connect restores service; the provider switches back to
	// the target chain.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if _, err := c.Session(); err != nil {
		t.Errorf("Session after reconnect: %v", err)
	}
}
