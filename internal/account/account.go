// Package account tracks the single active wallet account and drives
// unlock-session lifecycle: create on connect, destroy on disconnect or
// account switch, refresh on events and on a fixed polling interval.
package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
	"github.com/veilprotocol/veil-wallet/internal/session"
)

// WalletProvider is the capability contract consumed from the wallet
// adapter: account discovery, network control and change notifications.
type WalletProvider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	CurrentChain(ctx context.Context) (int64, error)
	SwitchOrAddChain(ctx context.Context, chainID int64) error
	OnAccountsChanged(cb func(accounts []string)) (unsubscribe func())
	OnChainChanged(cb func(chainID int64)) (unsubscribe func())
}

// ErrReconnectRequired is reported after a chain change invalidated the
// connection; the caller must Connect again.
var ErrReconnectRequired = errors.New("chain changed, reconnect required")

// ErrNotConnected is reported when no account is active.
var ErrNotConnected = errors.New("no account connected")

// Context owns the active account and its session.
type Context struct {
	provider     WalletProvider
	port         ledger.Port
	chainID      int64
	pollInterval time.Duration

	mu            sync.Mutex
	sess          *session.Session
	account       string
	generation    uint64
	needReconnect bool
	stopPoll      chan struct{}
	unsubAccounts func()
	unsubChain    func()
}

func NewContext(provider WalletProvider, port ledger.Port, chainID int64, pollInterval time.Duration) *Context {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Context{
		provider:     provider,
		port:         port,
		chainID:      chainID,
		pollInterval: pollInterval,
	}
}

// Connect requests accounts from the provider, enforces the target
// chain, subscribes to change notifications and activates a session for
// the first account.
func (c *Context) Connect(ctx context.Context) error {
	chain, err := c.provider.CurrentChain(ctx)
	if err != nil {
		return fmt.Errorf("error querying current chain: %v", err)
	}
	if chain != c.chainID {
		log.Printf("Connected to chain %d, switching to %d", chain, c.chainID)
		if err := c.provider.SwitchOrAddChain(ctx, c.chainID); err != nil {
			return fmt.Errorf("error switching to chain %d: %v", c.chainID, err)
		}
	}

	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		return fmt.Errorf("error requesting accounts: %v", err)
	}
	if len(accounts) == 0 {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.needReconnect = false
	if c.unsubAccounts == nil {
		c.unsubAccounts = c.provider.OnAccountsChanged(c.handleAccountsChanged)
		c.unsubChain = c.provider.OnChainChanged(c.handleChainChanged)
	}
	c.mu.Unlock()

	c.activate(accounts[0])
	return nil
}

// Session returns the active session, or an error when disconnected or
// a chain change requires reconnecting.
func (c *Context) Session() (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.needReconnect {
		return nil, ErrReconnectRequired
	}
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// Account returns the active account identifier, empty when none.
func (c *Context) Account() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// activate destroys the previous session and creates a fresh one for
// the account. Sessions are never reused across accounts; a bumped
// generation makes any in-flight completion from the predecessor stale.
func (c *Context) activate(account string) {
	c.mu.Lock()
	c.teardownLocked()
	c.generation++
	sess := session.New(c.port, account, c.generation)
	c.sess = sess
	c.account = account
	stop := make(chan struct{})
	c.stopPoll = stop
	c.mu.Unlock()

	log.Printf("Session %d created for account %s", sess.Generation(), account)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sess.Refresh(ctx); err != nil && !errors.Is(err, session.ErrSessionClosed) {
			log.Printf("Error on initial refresh for %s: %v", account, err)
		}
	}()

	go c.poll(sess, stop)
}

// poll refreshes the session on a fixed interval until its stop channel
// closes. The ticker belongs to one session; teardown closes the
// channel synchronously so no tick outlives its session.
func (c *Context) poll(sess *session.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.pollInterval)
			err := sess.Refresh(ctx)
			cancel()
			if err != nil && !errors.Is(err, session.ErrSessionClosed) {
				log.Printf("Error refreshing session for %s: %v", sess.Account(), err)
			}
		}
	}
}

func (c *Context) handleAccountsChanged(accounts []string) {
	if len(accounts) == 0 {
		log.Println("Wallet disconnected, destroying session")
		c.Disconnect()
		return
	}
	c.mu.Lock()
	current := c.account
	c.mu.Unlock()
	if accounts[0] == current {
		return
	}
	log.Printf("Active account changed to %s", accounts[0])
	c.activate(accounts[0])
}

// handleChainChanged treats any chain switch as a full reconnect
// requirement: the session is invalidated and the caller must Connect
// again.
func (c *Context) handleChainChanged(chainID int64) {
	log.Printf("Chain changed to %d, session invalidated", chainID)
	c.mu.Lock()
	c.teardownLocked()
	c.needReconnect = true
	c.mu.Unlock()
}

// Disconnect destroys the session and clears all cached state. Polling
// stops immediately.
func (c *Context) Disconnect() {
	c.mu.Lock()
	c.teardownLocked()
	if c.unsubAccounts != nil {
		c.unsubAccounts()
		c.unsubChain()
		c.unsubAccounts = nil
		c.unsubChain = nil
	}
	c.mu.Unlock()
}

func (c *Context) teardownLocked() {
	if c.stopPoll != nil {
		close(c.stopPoll)
		c.stopPoll = nil
	}
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}
	c.account = ""
}
