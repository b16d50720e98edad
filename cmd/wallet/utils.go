package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/viper"

	"github.com/veilprotocol/veil-wallet/internal/account"
	"github.com/veilprotocol/veil-wallet/internal/api"
	historydb "github.com/veilprotocol/veil-wallet/internal/database"
	"github.com/veilprotocol/veil-wallet/internal/keys"
	"github.com/veilprotocol/veil-wallet/internal/ledger"
	"github.com/veilprotocol/veil-wallet/internal/ledger/evm"
	"github.com/veilprotocol/veil-wallet/internal/ledger/sim"
	"github.com/veilprotocol/veil-wallet/internal/logger"
	"github.com/veilprotocol/veil-wallet/internal/wallet"
)

func keystoreDir(walletName string) string {
	return filepath.Join(viper.GetString("keystore_dir"), walletName)
}

// createWallet generates a wallet and writes an encrypted mnemonic
// backup next to the keystore.
func createWallet(walletName, password string) (string, string, error) {
	mnemonic, w, err := keys.CreateWallet(keystoreDir(walletName), password)
	if err != nil {
		return "", "", err
	}

	if err := keys.SaveBackup(viper.GetString("wallet_dir"), walletName, mnemonic, password); err != nil {
		return "", "", fmt.Errorf("wallet created but backup failed: %v", err)
	}

	return mnemonic, w.Address(), nil
}

// importWallet recreates a wallet from its mnemonic. The same mnemonic
// always yields the same address.
func importWallet(walletName, mnemonic, password string) (string, error) {
	w, err := keys.ImportWallet(keystoreDir(walletName), mnemonic, password)
	if err != nil {
		return "", err
	}

	if err := keys.SaveBackup(viper.GetString("wallet_dir"), walletName, mnemonic, password); err != nil {
		return "", fmt.Errorf("wallet imported but backup failed: %v", err)
	}

	return w.Address(), nil
}

// openWallet opens the keystore, connects the account context to the
// configured ledger backend and runs the wallet server until exit.
func openWallet(walletName, password string, httpMode bool) error {
	// Each wallet session starts a fresh log file.
	if err := logger.RotateLog(viper.GetString("log_file")); err != nil {
		log.Printf("Error rotating log file: %v", err)
	}
	defer logger.Cleanup()
	logger.Info("Starting wallet open operation for: ", walletName)

	w, err := keys.OpenWallet(keystoreDir(walletName), password)
	if err != nil {
		return err
	}
	log.Printf("Opened wallet %s (%s)", walletName, w.Address())

	if err := historydb.InitDB(viper.GetString("history_db_path")); err != nil {
		return fmt.Errorf("error initializing history database: %v", err)
	}

	chainID := viper.GetInt64("chain_id")

	var port ledger.Port
	if viper.GetBool("demo_mode") {
		log.Println("Running in demo mode against the simulated ledger")
		port = sim.NewLedger(sim.Config{
			Seed:         viper.GetInt64("demo_seed"),
			ConfirmDelay: viper.GetDuration("demo_confirm_delay"),
			InitialGrant: viper.GetString("demo_initial_grant"),
		})
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		live, err := evm.Dial(ctx, evm.Config{
			RPCURL:          viper.GetString("rpc_url"),
			ContractAddress: viper.GetString("contract_address"),
			ChainID:         chainID,
		}, w)
		if err != nil {
			return fmt.Errorf("error connecting to node: %v", err)
		}
		defer live.Close()
		port = live
	}

	provider := keys.NewProvider(w.Address(), chainID)
	acctCtx := account.NewContext(provider, port, chainID, viper.GetDuration("poll_interval"))

	connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := acctCtx.Connect(connectCtx); err != nil {
		return fmt.Errorf("error connecting account: %v", err)
	}
	defer acctCtx.Disconnect()

	var apiServer *api.API
	if httpMode {
		if err := api.EnsureJWTKey(walletName); err != nil {
			return fmt.Errorf("error initializing JWT key: %v", err)
		}
		apiServer = api.NewAPI(acctCtx, walletName, httpMode)
	}

	server := wallet.NewWalletServer(acctCtx, apiServer, walletName, httpMode)
	return server.ServerLoop()
}

func createWalletInteractive(reader *bufio.Reader) error {
	fmt.Print("Enter a name for the new wallet: ")
	walletName, _ := reader.ReadString('\n')
	walletName = strings.TrimSpace(walletName)
	if walletName == "" {
		return fmt.Errorf("wallet name cannot be empty")
	}

	fmt.Print("Enter a password for the new wallet: ")
	password, _ := reader.ReadString('\n')
	password = strings.TrimSpace(password)
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	mnemonic, address, err := createWallet(walletName, password)
	if err != nil {
		return err
	}

	fmt.Println("\nWallet created successfully!")
	fmt.Println("Address:", address)
	fmt.Println("\nWrite down your recovery phrase and keep it safe:")
	fmt.Println("\n    " + mnemonic)
	fmt.Println("\nAn encrypted backup was also stored in", viper.GetString("wallet_dir"))

	copyToClipboard("address", address, reader)
	return nil
}

func importWalletInteractive(reader *bufio.Reader) error {
	fmt.Print("Enter a name for the imported wallet: ")
	walletName, _ := reader.ReadString('\n')
	walletName = strings.TrimSpace(walletName)
	if walletName == "" {
		return fmt.Errorf("wallet name cannot be empty")
	}

	fmt.Print("Enter the recovery phrase: ")
	mnemonic, _ := reader.ReadString('\n')
	mnemonic = strings.TrimSpace(mnemonic)

	fmt.Print("Enter a password for the wallet: ")
	password, _ := reader.ReadString('\n')
	password = strings.TrimSpace(password)
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	address, err := importWallet(walletName, mnemonic, password)
	if err != nil {
		return err
	}

	fmt.Println("\nWallet imported successfully!")
	fmt.Println("Address:", address)

	copyToClipboard("address", address, reader)
	return nil
}

func openWalletInteractive(reader *bufio.Reader) error {
	fmt.Print("Enter the wallet name: ")
	walletName, _ := reader.ReadString('\n')
	walletName = strings.TrimSpace(walletName)

	fmt.Print("Enter the wallet password: ")
	password, _ := reader.ReadString('\n')
	password = strings.TrimSpace(password)

	return openWallet(walletName, password, viper.GetBool("server_mode") && viper.GetString("wallet_api_key") != "")
}

// copyToClipboard offers to place a value on the system clipboard.
// Clipboard access is best effort; headless machines simply decline.
func copyToClipboard(label, value string, reader *bufio.Reader) {
	fmt.Printf("Copy %s to clipboard? (y/n): ", label)
	answer, _ := reader.ReadString('\n')
	if strings.TrimSpace(strings.ToLower(answer)) != "y" {
		return
	}
	if err := clipboard.WriteAll(value); err != nil {
		log.Printf("Error copying to clipboard: %v", err)
		return
	}
	fmt.Printf("Copied %s to clipboard.\n", label)
}
