// Package wallet runs the long-lived wallet server process: it owns the
// account context, serves the IPC command channel and the optional HTTP
// API, and accepts terminal commands in interactive mode.
package wallet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/veilprotocol/veil-wallet/internal/account"
	"github.com/veilprotocol/veil-wallet/internal/api"
	historydb "github.com/veilprotocol/veil-wallet/internal/database"
	"github.com/veilprotocol/veil-wallet/internal/ipc"
	"github.com/veilprotocol/veil-wallet/internal/ledger"
	"github.com/veilprotocol/veil-wallet/internal/logger"
	"github.com/veilprotocol/veil-wallet/internal/session"
)

const opTimeout = 5 * time.Minute

var (
	engaged bool
	exiting bool
)

type WalletServer struct {
	Ctx      *account.Context
	API      *api.API
	Name     string
	HttpMode bool
}

func NewWalletServer(ctx *account.Context, apiServer *api.API, name string, httpMode bool) *WalletServer {
	return &WalletServer{
		Ctx:      ctx,
		API:      apiServer,
		Name:     name,
		HttpMode: httpMode,
	}
}

// ServerLoop runs until the user exits. Session polling is owned by the
// account context; this loop only dispatches commands and pushes status
// updates to IPC subscribers.
func (s *WalletServer) ServerLoop() error {
	ipcServer, err := ipc.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create IPC server: %v", err)
	}
	defer ipcServer.Close()

	go s.handleIPCCommands(ipcServer)

	if s.HttpMode && s.API != nil {
		go func() {
			if err := s.API.StartServer(); err != nil {
				logger.Error("HTTP API server stopped: ", err)
			}
		}()
	}

	logger.Info("Wallet server initialized successfully for: ", s.Name)

	broadcastTicker := time.NewTicker(5 * time.Second)
	defer broadcastTicker.Stop()
	var lastBroadcast ipc.StatusUpdate

	userCommandChannel := make(chan string)
	if !s.HttpMode {
		go listenForUserCommands(userCommandChannel)
	}

	for {
		select {
		case <-broadcastTicker.C:
			update, ok := s.currentStatus()
			if ok && update != lastBroadcast {
				ipcServer.BroadcastStatus(update)
				s.persistStatus(update)
				lastBroadcast = update
			}

		case command := <-userCommandChannel:
			if err := s.handleCommand(command); err != nil {
				logger.Error("Error handling command: ", err)
			}

			if exiting {
				return nil // Exit the server loop if we're in the process of shutting down
			}
		}
	}
}

func (s *WalletServer) currentStatus() (ipc.StatusUpdate, bool) {
	sess, err := s.Ctx.Session()
	if err != nil {
		return ipc.StatusUpdate{}, false
	}
	snapshot, have := sess.Status()
	if !have {
		return ipc.StatusUpdate{}, false
	}
	return ipc.StatusUpdate{
		Account: sess.Account(),
		State:   sess.State().String(),
		Status:  snapshot,
	}, true
}

// persistStatus caches the last seen snapshot so the next startup can
// show something before its first refresh completes.
func (s *WalletServer) persistStatus(update ipc.StatusUpdate) {
	if err := historydb.SaveStatusCache(update.Account, update.Status); err != nil {
		logger.Error("Error caching status snapshot: ", err)
	}
}

// cachedStatus returns the snapshot persisted by a previous run, if one
// exists. Purely informational; protocol decisions always use a fresh
// ledger read.
func (s *WalletServer) cachedStatus(account string) (ledger.UnlockStatus, bool) {
	cache, err := historydb.GetStatusCache(account)
	if err != nil {
		return ledger.UnlockStatus{}, false
	}
	return cache.Snapshot(), true
}

func (s *WalletServer) handleIPCCommands(server *ipc.Server) {
	for cmd := range server.Commands() {
		var result interface{}
		var err error

		switch cmd.Command {
		case "unlock-status":
			result, err = s.statusResult()
		case "commit":
			if len(cmd.Args) < 1 {
				err = fmt.Errorf("commit requires a preimage argument")
			} else {
				result, err = s.commitResult(cmd.Args[0])
			}
		case "reveal":
			if len(cmd.Args) < 1 {
				err = fmt.Errorf("reveal requires a preimage argument")
			} else {
				result, err = s.revealResult(cmd.Args[0])
			}
		case "transfer":
			if len(cmd.Args) < 2 {
				err = fmt.Errorf("transfer requires recipient and amount arguments")
			} else {
				result, err = s.transferResult(cmd.Args[0], cmd.Args[1])
			}
		case "history":
			result, err = s.historyResult()
		default:
			err = fmt.Errorf("unknown command: %s", cmd.Command)
		}

		response := ipc.Response{ID: cmd.ID, Result: result}
		if err != nil {
			response.Error = err.Error()
		}
		server.SendResponse(cmd.ID, response)
	}
}

func (s *WalletServer) statusResult() (interface{}, error) {
	sess, err := s.Ctx.Session()
	if err != nil {
		return nil, err
	}
	snapshot, have := sess.Status()
	if !have {
		if cached, ok := s.cachedStatus(sess.Account()); ok {
			return map[string]interface{}{
				"account":           sess.Account(),
				"state":             sess.State().String(),
				"is_unlocked":       cached.IsUnlocked(),
				"unlocked_until":    cached.UnlockedUntil,
				"unlocked_amount":   cached.UnlockedAmount,
				"next_attempt_time": cached.NextAttemptTime,
				"has_commit":        cached.HasCommit,
				"cached":            true,
			}, nil
		}
	}
	return map[string]interface{}{
		"account":           sess.Account(),
		"state":             sess.State().String(),
		"is_unlocked":       snapshot.IsUnlocked(),
		"unlocked_until":    snapshot.UnlockedUntil,
		"unlocked_amount":   snapshot.UnlockedAmount,
		"next_attempt_time": snapshot.NextAttemptTime,
		"has_commit":        snapshot.HasCommit,
	}, nil
}

func (s *WalletServer) commitResult(preimageStr string) (interface{}, error) {
	preimage, ok := new(big.Int).SetString(preimageStr, 10)
	if !ok {
		return nil, fmt.Errorf("preimage must be a decimal number")
	}
	sess, err := s.Ctx.Session()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	receipt, err := sess.Commit(ctx, preimage)
	if err != nil {
		return nil, err
	}

	if dbErr := historydb.RecordCommit(sess.Account(), receipt.TxRef); dbErr != nil {
		logger.Error("Error recording commit in history: ", dbErr)
	}
	return map[string]interface{}{
		"tx_ref":       receipt.TxRef,
		"block_number": receipt.BlockNumber,
	}, nil
}

func (s *WalletServer) revealResult(preimageStr string) (interface{}, error) {
	preimage, ok := new(big.Int).SetString(preimageStr, 10)
	if !ok {
		return nil, fmt.Errorf("preimage must be a decimal number")
	}
	sess, err := s.Ctx.Session()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	outcome, err := sess.Reveal(ctx, preimage)
	if err != nil {
		return nil, err
	}

	if dbErr := historydb.RecordReveal(sess.Account(), outcome); dbErr != nil {
		logger.Error("Error recording reveal in history: ", dbErr)
	}
	result := map[string]interface{}{
		"success": outcome.Success,
		"tx_ref":  outcome.TxRef,
	}
	if !outcome.Success {
		result["reason"] = outcome.Reason.String()
	}
	return result, nil
}

func (s *WalletServer) transferResult(recipient, amountStr string) (interface{}, error) {
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be a positive decimal number")
	}
	sess, err := s.Ctx.Session()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	txRef, err := sess.Transfer(ctx, recipient, amount)
	if err != nil {
		return nil, err
	}

	if dbErr := historydb.RecordTransfer(sess.Account(), txRef); dbErr != nil {
		logger.Error("Error recording transfer in history: ", dbErr)
	}
	return map[string]interface{}{"tx_ref": txRef}, nil
}

func (s *WalletServer) historyResult() (interface{}, error) {
	sess, err := s.Ctx.Session()
	if err != nil {
		return nil, err
	}
	return historydb.GetHistory(sess.Account(), 50)
}

func listenForUserCommands(commandChannel chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if !engaged {
			fmt.Println("\nAvailable commands:")
			fmt.Println("- 'status': Show unlock status")
			fmt.Println("- 'commit': Commit a secret number")
			fmt.Println("- 'reveal': Reveal your secret number")
			fmt.Println("- 'tx': Transfer unlocked tokens")
			fmt.Println("- 'history': Show attempt history")
			fmt.Println("- 'exit': Close the wallet")
			fmt.Print("\nEnter command: ")
			scanner.Scan()
			command := strings.TrimSpace(scanner.Text())

			commandChannel <- command
		}
		time.Sleep(100 * time.Millisecond) // Add a small delay to reduce CPU usage
	}
}

func (s *WalletServer) handleCommand(command string) error {
	if s.HttpMode {
		return fmt.Errorf("terminal commands are not available in HTTP mode")
	}

	switch command {
	case "status":
		return s.printStatus()
	case "commit":
		return s.performCommit()
	case "reveal":
		return s.performReveal()
	case "tx":
		return s.performTransfer()
	case "history":
		return s.printHistory()
	case "exit":
		return s.exitWallet()
	case "":
		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (s *WalletServer) printStatus() error {
	sess, err := s.Ctx.Session()
	if err != nil {
		return err
	}

	engaged = true
	defer func() { engaged = false }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sess.Refresh(ctx); err != nil {
		logger.Error("Error refreshing status: ", err)
	}

	snapshot, have := sess.Status()
	if !have {
		cached, ok := s.cachedStatus(sess.Account())
		if !ok {
			fmt.Println("Status not loaded yet, try again shortly.")
			return nil
		}
		fmt.Println("Showing the last cached status; a live refresh has not completed yet.")
		snapshot = cached
	}

	fmt.Println("\nAccount: ", sess.Account())
	fmt.Println("State:   ", sess.State().String())
	if snapshot.IsUnlocked() {
		until := time.Unix(snapshot.UnlockedUntil, 0)
		fmt.Printf("Unlocked: %s VEIL transferable until %s\n", snapshot.UnlockedAmount, until.Format(time.RFC1123))
	} else if snapshot.HasCommit {
		fmt.Println("A commit is recorded. Reveal your secret number to attempt an unlock.")
	} else if next := time.Unix(snapshot.NextAttemptTime, 0); time.Now().Before(next) {
		fmt.Printf("In cooldown. Next attempt possible at %s\n", next.Format(time.RFC1123))
	} else {
		fmt.Println("No commit recorded. Commit a secret number to start an unlock attempt.")
	}
	if reason, failed := sess.LastFailure(); failed {
		fmt.Printf("Last reveal failed: %s\n", reason.String())
		sess.AcknowledgeFailure()
	}
	return nil
}

func (s *WalletServer) performCommit() error {
	sess, err := s.Ctx.Session()
	if err != nil {
		return err
	}

	engaged = true
	defer func() { engaged = false }()

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter a secret number to commit (remember it, it cannot be recovered): ")
	line, _ := reader.ReadString('\n')
	preimage, ok := new(big.Int).SetString(strings.TrimSpace(line), 10)
	if !ok {
		return fmt.Errorf("the secret must be a decimal number")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	receipt, err := sess.Commit(ctx, preimage)
	if err != nil {
		return describeOpError("commit", err)
	}

	if dbErr := historydb.RecordCommit(sess.Account(), receipt.TxRef); dbErr != nil {
		logger.Error("Error recording commit in history: ", dbErr)
	}

	fmt.Printf("Commit confirmed in block %d (tx %s).\n", receipt.BlockNumber, receipt.TxRef)
	fmt.Println("Wait at least one block, then reveal the same number.")
	return nil
}

func (s *WalletServer) performReveal() error {
	sess, err := s.Ctx.Session()
	if err != nil {
		return err
	}

	engaged = true
	defer func() { engaged = false }()

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter the secret number you committed: ")
	line, _ := reader.ReadString('\n')
	preimage, ok := new(big.Int).SetString(strings.TrimSpace(line), 10)
	if !ok {
		return fmt.Errorf("the secret must be a decimal number")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	outcome, err := sess.Reveal(ctx, preimage)
	if err != nil {
		return describeOpError("reveal", err)
	}

	if dbErr := historydb.RecordReveal(sess.Account(), outcome); dbErr != nil {
		logger.Error("Error recording reveal in history: ", dbErr)
	}

	if outcome.Success {
		snapshot, _ := sess.Status()
		fmt.Printf("Unlock succeeded! %s VEIL transferable until %s (tx %s).\n",
			snapshot.UnlockedAmount, time.Unix(snapshot.UnlockedUntil, 0).Format(time.RFC1123), outcome.TxRef)
	} else {
		fmt.Printf("Unlock attempt failed: %s (tx %s).\n", outcome.Reason.String(), outcome.TxRef)
		fmt.Println("The attempt is consumed; you can commit again after the cooldown.")
		sess.AcknowledgeFailure()
	}
	return nil
}

func (s *WalletServer) performTransfer() error {
	sess, err := s.Ctx.Session()
	if err != nil {
		return err
	}

	engaged = true
	defer func() { engaged = false }()

	snapshot, _ := sess.Status()
	if !snapshot.IsUnlocked() {
		fmt.Println("Balance is locked. Complete an unlock before transferring.")
		return nil
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Recipient address: ")
	recipient, _ := reader.ReadString('\n')
	recipient = strings.TrimSpace(recipient)

	fmt.Printf("Amount in base units (unlocked: %s): ", snapshot.UnlockedAmount)
	amountLine, _ := reader.ReadString('\n')
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountLine), 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be a positive decimal number")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	txRef, err := sess.Transfer(ctx, recipient, amount)
	if err != nil {
		return describeOpError("transfer", err)
	}

	if dbErr := historydb.RecordTransfer(sess.Account(), txRef); dbErr != nil {
		logger.Error("Error recording transfer in history: ", dbErr)
	}

	fmt.Printf("Transfer confirmed: %s\n", txRef)
	return nil
}

func (s *WalletServer) printHistory() error {
	sess, err := s.Ctx.Session()
	if err != nil {
		return err
	}

	records, err := historydb.GetHistory(sess.Account(), 20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No recorded attempts yet.")
		return nil
	}

	fmt.Println("\nRecent attempts:")
	for _, rec := range records {
		line := fmt.Sprintf("%s  %-8s", rec.CreatedAt.Format("2006-01-02 15:04"), rec.Kind)
		if rec.Success {
			line += "  ok"
		} else {
			line += "  failed: " + rec.Reason
		}
		if rec.TxRef != "" {
			line += "  " + rec.TxRef
		}
		fmt.Println(line)
	}
	return nil
}

func (s *WalletServer) exitWallet() error {
	exiting = true
	fmt.Println("Closing wallet. Goodbye!")
	if acct := s.Ctx.Account(); acct != "" {
		if err := historydb.ClearStatusCache(acct); err != nil {
			logger.Error("Error clearing cached status: ", err)
		}
	}
	s.Ctx.Disconnect()
	logger.Info("Wallet closed: ", s.Name)
	return nil
}

// describeOpError turns the classified failure taxonomy into a message
// the terminal user can act on. Classification itself stays with the
// ledger and session layers.
func describeOpError(op string, err error) error {
	var transport *ledger.TransportError
	var rejected *ledger.RejectedByUser
	switch {
	case errors.As(err, &transport):
		return fmt.Errorf("%s did not reach the network: %v (retry when connectivity is back)", op, err)
	case errors.As(err, &rejected):
		return fmt.Errorf("%s was cancelled at the signing prompt", op)
	case errors.Is(err, session.ErrBusy):
		return fmt.Errorf("another operation is still pending, wait for it to finish")
	case errors.Is(err, session.ErrCommitOutstanding):
		return fmt.Errorf("a commit already exists; reveal it or wait for it to expire")
	case errors.Is(err, session.ErrCooldownActive):
		return fmt.Errorf("cooldown is active; a new attempt is not allowed yet")
	default:
		return err
	}
}
