package evm

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

func parsedABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(VeilTokenABI))
	if err != nil {
		t.Fatalf("contract ABI does not parse: %v", err)
	}
	return parsed
}

func TestContractABISurface(t *testing.T) {
	parsed := parsedABI(t)

	for _, method := range []string{
		"balanceOf", "commits", "snapshotUnlockedUntil", "unlockedTokenAmount",
		"snapshotLastUnlockAttempt", "commitUnlock", "revealAndUnlock", "transfer",
	} {
		if _, ok := parsed.Methods[method]; !ok {
			t.Errorf("ABI is missing method %s", method)
		}
	}
	for _, event := range []string{"Unlocked", "Transfer"} {
		if _, ok := parsed.Events[event]; !ok {
			t.Errorf("ABI is missing event %s", event)
		}
	}

	commits := parsed.Methods["commits"]
	if len(commits.Outputs) != 2 {
		t.Fatalf("commits returns %d values, want secretHash and blockNumber", len(commits.Outputs))
	}
	if commits.Outputs[0].Type.String() != "bytes32" || commits.Outputs[1].Type.String() != "uint256" {
		t.Errorf("commits output types = (%s, %s), want (bytes32, uint256)",
			commits.Outputs[0].Type, commits.Outputs[1].Type)
	}
}

func TestContractCallsPack(t *testing.T) {
	parsed := parsedABI(t)
	addr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	if _, err := parsed.Pack("commitUnlock", ledger.CommitHash(big.NewInt(42))); err != nil {
		t.Errorf("packing commitUnlock: %v", err)
	}
	if _, err := parsed.Pack("revealAndUnlock", big.NewInt(42)); err != nil {
		t.Errorf("packing revealAndUnlock: %v", err)
	}
	if _, err := parsed.Pack("transfer", addr, big.NewInt(100)); err != nil {
		t.Errorf("packing transfer: %v", err)
	}
	if _, err := parsed.Pack("commits", addr); err != nil {
		t.Errorf("packing commits: %v", err)
	}
}

func TestUnlockedEventDetection(t *testing.T) {
	parsed := parsedABI(t)
	contract := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	account := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	other := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	l := &Ledger{abi: parsed, contract: contract}
	unlockedID := parsed.Events["Unlocked"].ID

	makeReceipt := func(logs ...*types.Log) *types.Receipt {
		return &types.Receipt{Logs: logs}
	}
	unlockedLog := func(emitter common.Address, subject common.Address) *types.Log {
		return &types.Log{
			Address: emitter,
			Topics:  []common.Hash{unlockedID, common.BytesToHash(subject.Bytes())},
		}
	}

	if !l.unlockedEventPresent(makeReceipt(unlockedLog(contract, account)), account) {
		t.Error("event for the account not detected")
	}
	if l.unlockedEventPresent(makeReceipt(), account) {
		t.Error("event detected in an empty receipt")
	}
	if l.unlockedEventPresent(makeReceipt(unlockedLog(contract, other)), account) {
		t.Error("event for another account attributed to ours")
	}
	if l.unlockedEventPresent(makeReceipt(unlockedLog(other, account)), account) {
		t.Error("event from a foreign contract accepted")
	}

	transferID := parsed.Events["Transfer"].ID
	transferLog := &types.Log{
		Address: contract,
		Topics:  []common.Hash{transferID, common.BytesToHash(account.Bytes()), common.BytesToHash(other.Bytes())},
	}
	if l.unlockedEventPresent(makeReceipt(transferLog), account) {
		t.Error("Transfer event mistaken for Unlocked")
	}
}
