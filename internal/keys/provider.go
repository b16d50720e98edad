package keys

import (
	"context"
	"fmt"
	"sync"
)

// Provider adapts a local wallet to the wallet-provider capability the
// account context consumes. A local signer has no network switcher of
// its own; it is pinned to the chain the configured RPC node serves, so
// SwitchOrAddChain only accepts the pinned chain.
type Provider struct {
	chainID int64

	mu       sync.Mutex
	accounts []string
	nextSub  int
	accSubs  map[int]func([]string)
	chainSub map[int]func(int64)
}

func NewProvider(address string, chainID int64) *Provider {
	return &Provider{
		chainID:  chainID,
		accounts: []string{address},
		accSubs:  make(map[int]func([]string)),
		chainSub: make(map[int]func(int64)),
	}
}

func (p *Provider) RequestAccounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.accounts))
	copy(out, p.accounts)
	return out, nil
}

func (p *Provider) CurrentChain(ctx context.Context) (int64, error) {
	return p.chainID, nil
}

func (p *Provider) SwitchOrAddChain(ctx context.Context, chainID int64) error {
	if chainID != p.chainID {
		return fmt.Errorf("local wallet is pinned to chain %d, cannot switch to %d", p.chainID, chainID)
	}
	return nil
}

func (p *Provider) OnAccountsChanged(cb func(accounts []string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.accSubs[id] = cb
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.accSubs, id)
	}
}

func (p *Provider) OnChainChanged(cb func(chainID int64)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.chainSub[id] = cb
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.chainSub, id)
	}
}

// SetAccounts replaces the exposed account list and notifies
// subscribers. The demo flow uses it to model wallet-side account
// switches and disconnects.
func (p *Provider) SetAccounts(accounts []string) {
	p.mu.Lock()
	p.accounts = make([]string, len(accounts))
	copy(p.accounts, accounts)
	subs := make([]func([]string), 0, len(p.accSubs))
	for _, cb := range p.accSubs {
		subs = append(subs, cb)
	}
	p.mu.Unlock()

	for _, cb := range subs {
		cb(accounts)
	}
}

// EmitChainChanged notifies subscribers of a chain switch.
func (p *Provider) EmitChainChanged(chainID int64) {
	p.mu.Lock()
	subs := make([]func(int64), 0, len(p.chainSub))
	for _, cb := range p.chainSub {
		subs = append(subs, cb)
	}
	p.mu.Unlock()

	for _, cb := range subs {
		cb(chainID)
	}
}
