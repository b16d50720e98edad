// Package evm implements the ledger port against the deployed VEIL
// token contract over a JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

// ErrSigningDeclined is returned by a Signer when the user aborts the
// signing prompt. The ledger maps it to RejectedByUser.
var ErrSigningDeclined = errors.New("signing declined by user")

// Signer signs transactions for an account. The keystore-backed wallet
// implements it for the live backend.
type Signer interface {
	SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
}

// Ledger is the live backend bound to the deployed contract.
type Ledger struct {
	client   *ethclient.Client
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	signer   Signer
}

// Dial connects to the node, verifies the chain id matches the target
// network, and binds the contract address.
func Dial(ctx context.Context, cfg Config, signer Signer) (*Ledger, error) {
	parsed, err := abi.JSON(strings.NewReader(VeilTokenABI))
	if err != nil {
		return nil, fmt.Errorf("error parsing contract ABI: %v", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, &ledger.TransportError{Op: "dial", Err: err}
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, &ledger.TransportError{Op: "chainId", Err: err}
	}
	if chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, &ledger.TransportError{
			Op:  "chainId",
			Err: fmt.Errorf("connected to chain %d, expected %d: switch networks and reconnect", chainID.Int64(), cfg.ChainID),
		}
	}

	log.Printf("Connected to chain %d, contract %s", chainID.Int64(), cfg.ContractAddress)

	return &Ledger{
		client:   client,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  chainID,
		signer:   signer,
	}, nil
}

func (l *Ledger) Close() {
	l.client.Close()
}

// call performs a read against the contract pinned to a block. A nil
// block reads latest state.
func (l *Ledger) call(ctx context.Context, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("error packing %s call: %v", method, err)
	}
	out, err := l.client.CallContract(ctx, ethereum.CallMsg{To: &l.contract, Data: data}, block)
	if err != nil {
		return nil, &ledger.TransportError{Op: method, Err: err}
	}
	vals, err := l.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("error unpacking %s result: %v", method, err)
	}
	return vals, nil
}

// QueryUnlockStatus pins one block number and issues all four reads
// against it, so the snapshot can never mix two ledger states.
func (l *Ledger) QueryUnlockStatus(ctx context.Context, account string) (ledger.UnlockStatus, error) {
	bn, err := l.client.BlockNumber(ctx)
	if err != nil {
		return ledger.UnlockStatus{}, &ledger.TransportError{Op: "blockNumber", Err: err}
	}
	block := new(big.Int).SetUint64(bn)
	addr := common.HexToAddress(account)

	until, err := l.call(ctx, block, "snapshotUnlockedUntil", addr)
	if err != nil {
		return ledger.UnlockStatus{}, err
	}
	amount, err := l.call(ctx, block, "unlockedTokenAmount", addr)
	if err != nil {
		return ledger.UnlockStatus{}, err
	}
	lastAttempt, err := l.call(ctx, block, "snapshotLastUnlockAttempt", addr)
	if err != nil {
		return ledger.UnlockStatus{}, err
	}
	commitHash, _, err := l.commitAt(ctx, block, addr)
	if err != nil {
		return ledger.UnlockStatus{}, err
	}

	last := lastAttempt[0].(*big.Int).Int64()
	return ledger.UnlockStatus{
		UnlockedUntil:   until[0].(*big.Int).Int64(),
		UnlockedAmount:  amount[0].(*big.Int).String(),
		NextAttemptTime: last + int64(ledger.Cooldown.Seconds()),
		HasCommit:       commitHash != (common.Hash{}),
	}, nil
}

func (l *Ledger) commitAt(ctx context.Context, block *big.Int, addr common.Address) (common.Hash, uint64, error) {
	vals, err := l.call(ctx, block, "commits", addr)
	if err != nil {
		return common.Hash{}, 0, err
	}
	hash := common.Hash(vals[0].([32]byte))
	return hash, vals[1].(*big.Int).Uint64(), nil
}

func (l *Ledger) Commit(ctx context.Context, account string, preimageHash common.Hash) (ledger.CommitReceipt, error) {
	receipt, err := l.sendTx(ctx, common.HexToAddress(account), "commitUnlock", preimageHash)
	if err != nil {
		return ledger.CommitReceipt{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ledger.CommitReceipt{}, fmt.Errorf("commit transaction reverted: %s", receipt.TxHash.Hex())
	}
	return ledger.CommitReceipt{
		TxRef:       receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

func (l *Ledger) Reveal(ctx context.Context, account string, preimage *big.Int) (ledger.RevealOutcome, error) {
	addr := common.HexToAddress(account)

	// The contract consumes the attempt without reverting, so the
	// rejection rule has to be evaluated from the pre-state. The draw
	// itself is only knowable from the mined receipt.
	reason, err := l.classifyReveal(ctx, addr, preimage)
	if err != nil {
		return ledger.RevealOutcome{}, err
	}

	receipt, err := l.sendTx(ctx, addr, "revealAndUnlock", preimage)
	if err != nil {
		return ledger.RevealOutcome{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ledger.RevealOutcome{}, fmt.Errorf("reveal transaction reverted: %s", receipt.TxHash.Hex())
	}

	txRef := receipt.TxHash.Hex()
	if l.unlockedEventPresent(receipt, addr) {
		return ledger.RevealOutcome{Success: true, TxRef: txRef}, nil
	}
	if reason == ledger.ReasonNone {
		reason = ledger.ReasonDrawFailed
	}
	return ledger.RevealOutcome{Success: false, TxRef: txRef, Reason: reason}, nil
}

// classifyReveal mirrors the contract's reveal checks against current
// chain state. It predicts every rejection except the unlock draw.
func (l *Ledger) classifyReveal(ctx context.Context, addr common.Address, preimage *big.Int) (ledger.FailureReason, error) {
	bn, err := l.client.BlockNumber(ctx)
	if err != nil {
		return ledger.ReasonNone, &ledger.TransportError{Op: "blockNumber", Err: err}
	}
	block := new(big.Int).SetUint64(bn)

	commitHash, commitBlock, err := l.commitAt(ctx, block, addr)
	if err != nil {
		return ledger.ReasonNone, err
	}
	lastAttempt, err := l.call(ctx, block, "snapshotLastUnlockAttempt", addr)
	if err != nil {
		return ledger.ReasonNone, err
	}

	header, err := l.client.HeaderByNumber(ctx, block)
	if err != nil {
		return ledger.ReasonNone, &ledger.TransportError{Op: "headerByNumber", Err: err}
	}
	now := int64(header.Time)
	last := lastAttempt[0].(*big.Int).Int64()

	switch {
	case commitHash == (common.Hash{}):
		return ledger.ReasonNoCommit, nil
	case bn < commitBlock+ledger.CommitMinAge:
		return ledger.ReasonCommitTooNew, nil
	case ledger.CommitHash(preimage) != commitHash:
		return ledger.ReasonHashMismatch, nil
	case bn > commitBlock+ledger.CommitExpiry:
		return ledger.ReasonCommitExpired, nil
	case last != 0 && now < last+int64(ledger.Cooldown.Seconds()):
		return ledger.ReasonCooldownActive, nil
	}
	return ledger.ReasonNone, nil
}

func (l *Ledger) unlockedEventPresent(receipt *types.Receipt, addr common.Address) bool {
	unlockedID := l.abi.Events["Unlocked"].ID
	for _, entry := range receipt.Logs {
		if entry.Address != l.contract || len(entry.Topics) < 2 {
			continue
		}
		if entry.Topics[0] == unlockedID && common.BytesToAddress(entry.Topics[1].Bytes()) == addr {
			return true
		}
	}
	return false
}

func (l *Ledger) Transfer(ctx context.Context, account, to string, amount *big.Int) (string, error) {
	receipt, err := l.sendTx(ctx, common.HexToAddress(account), "transfer", common.HexToAddress(to), amount)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transfer reverted, balance is likely still locked: %s", receipt.TxHash.Hex())
	}
	return receipt.TxHash.Hex(), nil
}

func (l *Ledger) Balance(ctx context.Context, account string) (string, error) {
	vals, err := l.call(ctx, nil, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return "", err
	}
	return vals[0].(*big.Int).String(), nil
}

// sendTx builds, signs, broadcasts and waits out a contract write. User
// aborts and network failures are classified for the session layer.
func (l *Ledger) sendTx(ctx context.Context, from common.Address, method string, args ...interface{}) (*types.Receipt, error) {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("error packing %s transaction: %v", method, err)
	}

	nonce, err := l.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, &ledger.TransportError{Op: method, Err: err}
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &ledger.TransportError{Op: method, Err: err}
	}
	gasLimit, err := l.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &l.contract,
		Data: data,
	})
	if err != nil {
		return nil, &ledger.TransportError{Op: method, Err: err}
	}

	tx := types.NewTransaction(nonce, l.contract, new(big.Int), gasLimit, gasPrice, data)

	signed, err := l.signer.SignTx(ctx, from, tx, l.chainID)
	if err != nil {
		if errors.Is(err, ErrSigningDeclined) {
			return nil, &ledger.RejectedByUser{Op: method}
		}
		return nil, fmt.Errorf("error signing %s transaction: %v", method, err)
	}

	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return nil, &ledger.TransportError{Op: method, Err: err}
	}

	log.Printf("Broadcasted %s transaction %s, waiting for confirmation", method, signed.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, l.client, signed)
	if err != nil {
		return nil, &ledger.TransportError{Op: method, Err: err}
	}
	return receipt, nil
}
