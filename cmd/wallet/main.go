package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veilprotocol/veil-wallet/internal/config"
	"github.com/veilprotocol/veil-wallet/internal/ipc"
	"github.com/veilprotocol/veil-wallet/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "veil-wallet",
	Short: "VEIL token unlock wallet CLI",
	Long:  `A wallet for the VEIL token with commit-reveal unlock, in both interactive and CLI modes.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(createWalletCmd)
	rootCmd.AddCommand(importWalletCmd)
	rootCmd.AddCommand(openWalletCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(revealCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(historyCmd)
}

func initConfig() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	err = viper.ReadInConfig()
	if err != nil {
		log.Printf("Error reading viper config: %s", err.Error())
	}

	baseDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("Error getting current directory: %v", err)
	}

	viper.Set("base_dir", baseDir)

	if err := logger.Init(viper.GetString("log_file")); err != nil {
		log.Printf("Error initializing logger: %v", err)
	}
}

func main() {
	initConfig()
	if len(os.Args) > 1 {
		// CLI mode
		if err := rootCmd.Execute(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	} else {
		// Interactive mode
		interactiveMode()
	}
}

func interactiveMode() {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nVEIL Wallet Manager")
		fmt.Println("1. Create a new wallet")
		fmt.Println("2. Import an existing wallet")
		fmt.Println("3. Open a wallet")
		fmt.Println("4. Exit")
		fmt.Print("\nEnter your choice (1, 2, 3, or 4): ")
		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(choice)

		switch choice {
		case "1":
			if err := createWalletInteractive(reader); err != nil {
				log.Printf("Error creating wallet: %s", err)
			}
		case "2":
			if err := importWalletInteractive(reader); err != nil {
				log.Printf("Error importing wallet: %s", err)
			}
		case "3":
			if err := openWalletInteractive(reader); err != nil {
				log.Printf("Error opening wallet: %s", err)
			}
		case "4":
			fmt.Println("Exiting program. Goodbye!")
			return
		default:
			fmt.Println("Invalid choice. Please try again.")
		}
	}
}

var createWalletCmd = &cobra.Command{
	Use:   "create [wallet-name] [password]",
	Short: "Create a new wallet",
	Long:  `Create a new wallet with the given name and password. The generated mnemonic is printed once.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		walletName := args[0]
		password := args[1]

		mnemonic, address, err := createWallet(walletName, password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating wallet: %v\n", err)
			os.Exit(1)
		}

		result := struct {
			WalletName string `json:"walletName"`
			Address    string `json:"address"`
			Mnemonic   string `json:"mnemonic"`
		}{
			WalletName: walletName,
			Address:    address,
			Mnemonic:   mnemonic,
		}

		json.NewEncoder(os.Stdout).Encode(result)
	},
}

var importWalletCmd = &cobra.Command{
	Use:   "import [wallet-name] [mnemonic] [password]",
	Short: "Import an existing wallet",
	Long:  `Import an existing wallet from its mnemonic phrase (quote the mnemonic).`,
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		walletName := args[0]
		mnemonic := args[1]
		password := args[2]

		address, err := importWallet(walletName, mnemonic, password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing wallet: %v\n", err)
			os.Exit(1)
		}

		result := struct {
			WalletName string `json:"walletName"`
			Address    string `json:"address"`
			Message    string `json:"message"`
		}{
			WalletName: walletName,
			Address:    address,
			Message:    "Wallet imported successfully",
		}

		json.NewEncoder(os.Stdout).Encode(result)
	},
}

var openWalletCmd = &cobra.Command{
	Use:   "open [wallet-name] [password]",
	Short: "Open a wallet and start the server",
	Long:  `Open a wallet and run the wallet server with IPC and HTTP interfaces.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		walletName := args[0]
		password := args[1]

		if err := openWallet(walletName, password, true); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening wallet: %v\n", err)
			os.Exit(1)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get the current unlock status",
	Long:  `Retrieve the unlock status of the opened wallet from the running server.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		result := sendIPC("unlock-status", nil)
		json.NewEncoder(os.Stdout).Encode(result)
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit [secret-number]",
	Short: "Commit a secret number",
	Long: `Commit the hash of a secret number to start an unlock attempt.
	Remember the number: it must be revealed later and cannot be recovered.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		result := sendIPC("commit", args)
		json.NewEncoder(os.Stdout).Encode(result)
	},
}

var revealCmd = &cobra.Command{
	Use:   "reveal [secret-number]",
	Short: "Reveal your committed secret number",
	Long:  `Reveal the previously committed secret number to attempt the unlock.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		result := sendIPC("reveal", args)
		json.NewEncoder(os.Stdout).Encode(result)
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer [recipient] [amount]",
	Short: "Transfer unlocked tokens",
	Long:  `Transfer unlocked tokens (amount in base units) to a recipient address.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		result := sendIPC("transfer", args)
		json.NewEncoder(os.Stdout).Encode(result)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Get attempt history",
	Long:  `Retrieve the commit/reveal/transfer history of the opened wallet.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		result := sendIPC("history", nil)
		json.NewEncoder(os.Stdout).Encode(result)
	},
}

func sendIPC(command string, args []string) interface{} {
	client, err := ipc.NewClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to wallet server: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	result, err := client.SendCommand(command, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running %s: %v\n", command, err)
		os.Exit(1)
	}
	return result
}
