// Package keys manages the local signing wallet: BIP39 mnemonic
// creation and import, a go-ethereum keystore for the derived key, and
// an encrypted mnemonic backup file.
package keys

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// Wallet wraps one keystore account and signs transactions for it.
type Wallet struct {
	ks       *keystore.KeyStore
	account  accounts.Account
	password string
}

// CreateWallet generates a fresh mnemonic, derives the signing key and
// stores it scrypt-encrypted in the keystore directory. The mnemonic is
// returned once for the user to write down.
func CreateWallet(keystoreDir, password string) (string, *Wallet, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", nil, fmt.Errorf("error generating entropy: %v", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("error generating mnemonic: %v", err)
	}

	w, err := ImportWallet(keystoreDir, mnemonic, password)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, w, nil
}

// ImportWallet derives the signing key from a BIP39 mnemonic and stores
// it in the keystore. Importing the same mnemonic always yields the
// same address.
func ImportWallet(keystoreDir, mnemonic, password string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic phrase")
	}
	seed := bip39.NewSeed(mnemonic, "")

	priv, err := crypto.ToECDSA(seed[:32])
	if err != nil {
		return nil, fmt.Errorf("error deriving private key: %v", err)
	}

	ks := keystore.NewKeyStore(keystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	if ks.HasAddress(addr) {
		acct, err := ks.Find(accounts.Account{Address: addr})
		if err != nil {
			return nil, fmt.Errorf("error finding existing keystore account: %v", err)
		}
		log.Printf("Keystore already holds %s, skipping import", addr.Hex())
		return &Wallet{ks: ks, account: acct, password: password}, nil
	}

	acct, err := ks.ImportECDSA(priv, password)
	if err != nil {
		return nil, fmt.Errorf("error importing key into keystore: %v", err)
	}
	log.Printf("Imported wallet %s into keystore", acct.Address.Hex())
	return &Wallet{ks: ks, account: acct, password: password}, nil
}

// OpenWallet opens the first account in the keystore directory and
// verifies the password by unlocking it.
func OpenWallet(keystoreDir, password string) (*Wallet, error) {
	ks := keystore.NewKeyStore(keystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	all := ks.Accounts()
	if len(all) == 0 {
		return nil, fmt.Errorf("no wallet found in %s", keystoreDir)
	}
	acct := all[0]

	if err := ks.Unlock(acct, password); err != nil {
		return nil, fmt.Errorf("error unlocking wallet: %v", err)
	}
	if err := ks.Lock(acct.Address); err != nil {
		log.Printf("Error re-locking wallet after verification: %v", err)
	}

	return &Wallet{ks: ks, account: acct, password: password}, nil
}

// Address returns the wallet's account address as a hex string.
func (w *Wallet) Address() string {
	return w.account.Address.Hex()
}

// SignTx signs a transaction for the wallet's account. It satisfies the
// live ledger's Signer interface.
func (w *Wallet) SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if account != w.account.Address {
		return nil, fmt.Errorf("account %s is not held by this wallet", account.Hex())
	}
	signed, err := w.ks.SignTxWithPassphrase(w.account, w.password, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("error signing transaction: %v", err)
	}
	return signed, nil
}
