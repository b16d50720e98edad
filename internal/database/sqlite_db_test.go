package historydb

import (
	"path/filepath"
	"testing"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

const testAccount = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func setupDB(t *testing.T) {
	t.Helper()
	if err := InitDB(filepath.Join(t.TempDir(), "history.db")); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
}

func TestRecordAndGetHistory(t *testing.T) {
	setupDB(t)

	if err := RecordCommit(testAccount, "0xc1"); err != nil {
		t.Fatalf("RecordCommit: %v", err)
	}
	if err := RecordReveal(testAccount, ledger.RevealOutcome{
		Success: false,
		TxRef:   "0xr1",
		Reason:  ledger.ReasonDrawFailed,
	}); err != nil {
		t.Fatalf("RecordReveal: %v", err)
	}
	if err := RecordReveal(testAccount, ledger.RevealOutcome{Success: true, TxRef: "0xr2"}); err != nil {
		t.Fatalf("RecordReveal: %v", err)
	}
	if err := RecordTransfer(testAccount, "0xt1"); err != nil {
		t.Fatalf("RecordTransfer: %v", err)
	}
	// Another account's records must not leak in.
	if err := RecordCommit("0xbb", "0xother"); err != nil {
		t.Fatalf("RecordCommit other account: %v", err)
	}

	records, err := GetHistory(testAccount, 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	for _, rec := range records {
		if rec.Account != testAccount {
			t.Errorf("record for %s leaked into %s history", rec.Account, testAccount)
		}
	}

	kinds := map[string]int{}
	for _, rec := range records {
		kinds[rec.Kind]++
	}
	if kinds["commit"] != 1 || kinds["reveal"] != 2 || kinds["transfer"] != 1 {
		t.Errorf("kind counts = %v", kinds)
	}

	var failedReveal *AttemptRecord
	for i := range records {
		if records[i].Kind == "reveal" && !records[i].Success {
			failedReveal = &records[i]
		}
	}
	if failedReveal == nil {
		t.Fatal("failed reveal not recorded")
	}
	if failedReveal.Reason != ledger.ReasonDrawFailed.String() {
		t.Errorf("failure reason = %q, want draw failure", failedReveal.Reason)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	setupDB(t)

	for i := 0; i < 5; i++ {
		if err := RecordCommit(testAccount, "0xc"); err != nil {
			t.Fatalf("RecordCommit: %v", err)
		}
	}

	records, err := GetHistory(testAccount, 3)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want limit of 3", len(records))
	}

	// Non-positive limit falls back to the default.
	records, err = GetHistory(testAccount, 0)
	if err != nil {
		t.Fatalf("GetHistory with zero limit: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("got %d records with default limit, want 5", len(records))
	}
}

func TestStatusCacheLifecycle(t *testing.T) {
	setupDB(t)

	status := ledger.UnlockStatus{
		UnlockedUntil:   1_700_000_000,
		UnlockedAmount:  "500",
		NextAttemptTime: 1_700_086_400,
		HasCommit:       true,
	}
	if err := SaveStatusCache(testAccount, status); err != nil {
		t.Fatalf("SaveStatusCache: %v", err)
	}

	cache, err := GetStatusCache(testAccount)
	if err != nil {
		t.Fatalf("GetStatusCache: %v", err)
	}
	if cache.UnlockedUntil != status.UnlockedUntil ||
		cache.UnlockedAmount != status.UnlockedAmount ||
		cache.NextAttemptTime != status.NextAttemptTime ||
		cache.HasCommit != status.HasCommit {
		t.Errorf("cached snapshot %+v does not match %+v", cache, status)
	}

	// Upsert replaces, never duplicates.
	status.HasCommit = false
	if err := SaveStatusCache(testAccount, status); err != nil {
		t.Fatalf("second SaveStatusCache: %v", err)
	}
	cache, err = GetStatusCache(testAccount)
	if err != nil {
		t.Fatalf("GetStatusCache after upsert: %v", err)
	}
	if cache.HasCommit {
		t.Error("upsert did not replace the snapshot")
	}

	if err := ClearStatusCache(testAccount); err != nil {
		t.Fatalf("ClearStatusCache: %v", err)
	}
	if _, err := GetStatusCache(testAccount); err == nil {
		t.Error("snapshot survived ClearStatusCache")
	}
}
