package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// LoadConfig loads the configuration and sets default values for development/production
func LoadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".") // Path to look for the config file in

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create a default one
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	// Ensure we have sensible defaults in case they are not in the config file
	setDefaults()

	return nil
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	// Check the current environment (default is development)
	env := viper.GetString("ENV")
	if env == "" {
		env = "development"
		viper.Set("ENV", env)
	}

	// Set defaults for development and production environments
	if env == "development" {
		viper.SetDefault("rpc_url", "http://localhost:8545")
		viper.SetDefault("allowed_origin", "http://localhost:3000")
		viper.SetDefault("history_db_path", "./dev_history.db")
		viper.SetDefault("demo_mode", true)
		viper.SetDefault("log_level", "debug")
	} else if env == "production" {
		viper.SetDefault("rpc_url", "https://mainnet.infura.io/v3/YOUR_PROJECT_ID")
		viper.SetDefault("allowed_origin", "https://my-production-site.com")
		viper.SetDefault("history_db_path", "/var/lib/veil-wallet/history.db")
		viper.SetDefault("demo_mode", false)
		viper.SetDefault("log_level", "info")
	}

	// Common defaults for both environments
	viper.SetDefault("chain_id", 11155111) // Sepolia
	viper.SetDefault("contract_address", "")
	viper.SetDefault("demo_seed", 0)
	viper.SetDefault("demo_confirm_delay", "2s")
	viper.SetDefault("demo_initial_grant", "1000000000000000000000")
	viper.SetDefault("poll_interval", "30s")
	viper.SetDefault("wallet_dir", "./wallets")
	viper.SetDefault("keystore_dir", "./keystore")
	viper.SetDefault("api_port", 9003)
	viper.SetDefault("use_https", false)
	viper.SetDefault("cert_file", "server.crt")
	viper.SetDefault("key_file", "server.key")
	viper.SetDefault("jwt_keys_dir", "./jwtkeys")
	viper.SetDefault("wallet_api_key", "")
	viper.SetDefault("server_mode", true)
	viper.SetDefault("log_file", "./wallet.log")
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	setDefaults()

	// Write the default configuration to a file
	err := viper.SafeWriteConfig()
	if err != nil {
		if os.IsExist(err) {
			// If the config already exists, attempt to overwrite it
			err = viper.WriteConfig()
			if err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
		} else {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}
