package wallet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/veilprotocol/veil-wallet/internal/account"
	historydb "github.com/veilprotocol/veil-wallet/internal/database"
	"github.com/veilprotocol/veil-wallet/internal/ipc"
	"github.com/veilprotocol/veil-wallet/internal/keys"
	"github.com/veilprotocol/veil-wallet/internal/ledger"
	"github.com/veilprotocol/veil-wallet/internal/ledger/sim"
	"github.com/veilprotocol/veil-wallet/internal/logger"
)

const testAccount = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// newTestServer wires a wallet server over the simulated ledger. The
// ledger starts offline so no refresh can replace cached state during
// the test.
func newTestServer(t *testing.T) (*WalletServer, *sim.Ledger) {
	t.Helper()
	if err := logger.Init(filepath.Join(t.TempDir(), "wallet.log")); err != nil {
		t.Fatalf("logger.Init: %v", err)
	}
	t.Cleanup(logger.Cleanup)
	if err := historydb.InitDB(filepath.Join(t.TempDir(), "history.db")); err != nil {
		t.Fatalf("InitDB: %v", err)
	}

	port := sim.NewLedger(sim.Config{InitialGrant: "1000"})
	port.SetOffline(true)

	provider := keys.NewProvider(testAccount, 11155111)
	acctCtx := account.NewContext(provider, port, 11155111, time.Hour)
	if err := acctCtx.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(acctCtx.Disconnect)

	return NewWalletServer(acctCtx, nil, "testwallet", false), port
}

func TestStatusResultFallsBackToCache(t *testing.T) {
	srv, _ := newTestServer(t)

	cached := ledger.UnlockStatus{
		UnlockedUntil:   1_700_000_000,
		UnlockedAmount:  "750",
		NextAttemptTime: 1_700_086_400,
		HasCommit:       true,
	}
	if err := historydb.SaveStatusCache(testAccount, cached); err != nil {
		t.Fatalf("SaveStatusCache: %v", err)
	}

	result, err := srv.statusResult()
	if err != nil {
		t.Fatalf("statusResult: %v", err)
	}
	fields, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type %T", result)
	}
	if fields["cached"] != true {
		t.Error("cached snapshot not marked as cached")
	}
	if fields["unlocked_amount"] != "750" || fields["has_commit"] != true {
		t.Errorf("cached snapshot not served: %v", fields)
	}
}

func TestStatusResultWithoutCache(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.statusResult()
	if err != nil {
		t.Fatalf("statusResult: %v", err)
	}
	fields := result.(map[string]interface{})
	if _, has := fields["cached"]; has {
		t.Error("empty cache reported as a cached snapshot")
	}
	if fields["account"] != testAccount {
		t.Errorf("account = %v", fields["account"])
	}
}

func TestPersistStatusSavesSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	update := ipc.StatusUpdate{
		Account: testAccount,
		State:   "committed",
		Status: ledger.UnlockStatus{
			UnlockedAmount:  "0",
			NextAttemptTime: 1_700_086_400,
			HasCommit:       true,
		},
	}
	srv.persistStatus(update)

	cache, err := historydb.GetStatusCache(testAccount)
	if err != nil {
		t.Fatalf("GetStatusCache: %v", err)
	}
	if got := cache.Snapshot(); got != update.Status {
		t.Errorf("persisted snapshot = %+v, want %+v", got, update.Status)
	}
}

func TestExitWalletClearsCacheAndDisconnects(t *testing.T) {
	srv, _ := newTestServer(t)

	if err := historydb.SaveStatusCache(testAccount, ledger.UnlockStatus{UnlockedAmount: "500"}); err != nil {
		t.Fatalf("SaveStatusCache: %v", err)
	}

	if err := srv.exitWallet(); err != nil {
		t.Fatalf("exitWallet: %v", err)
	}

	if _, err := historydb.GetStatusCache(testAccount); err == nil {
		t.Error("cached snapshot survived wallet exit")
	}
	if _, err := srv.Ctx.Session(); !errors.Is(err, account.ErrNotConnected) {
		t.Errorf("Session after exit = %v, want ErrNotConnected", err)
	}
}
