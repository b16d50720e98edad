package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// EncryptMnemonic seals the mnemonic under a password-derived key. The
// output is salt:iv:ciphertext, each part base64.
func EncryptMnemonic(mnemonic, password string) (string, error) {
	key, salt, err := deriveKey(password, nil)
	if err != nil {
		return "", err
	}
	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("error generating nonce: %v", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("error creating cipher: %v", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("error creating GCM: %v", err)
	}
	ciphertext := aesgcm.Seal(nil, iv, []byte(mnemonic), nil)

	return base64.StdEncoding.EncodeToString(salt) + ":" +
		base64.StdEncoding.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptMnemonic reverses EncryptMnemonic.
func DecryptMnemonic(sealed, password string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid backup format")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid backup salt: %v", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid backup nonce: %v", err)
	}
	encrypted, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("invalid backup ciphertext: %v", err)
	}

	key, _, err := deriveKey(password, salt)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("error creating cipher: %v", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("error creating GCM: %v", err)
	}
	plaintext, err := aesgcm.Open(nil, iv, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("wrong password or corrupted backup: %v", err)
	}

	return string(plaintext), nil
}

func deriveKey(password string, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("error generating salt: %v", err)
		}
	}
	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, nil, fmt.Errorf("error deriving key: %v", err)
	}
	return key, salt, nil
}

// SaveBackup writes the encrypted mnemonic next to the keystore so the
// wallet can be recreated if the keystore file is lost.
func SaveBackup(walletDir, name, mnemonic, password string) error {
	if err := os.MkdirAll(walletDir, 0700); err != nil {
		return fmt.Errorf("error creating wallet directory: %v", err)
	}
	sealed, err := EncryptMnemonic(mnemonic, password)
	if err != nil {
		return err
	}
	path := filepath.Join(walletDir, fmt.Sprintf("%s_seed.bak", name))
	if err := os.WriteFile(path, []byte(sealed), 0600); err != nil {
		return fmt.Errorf("error writing backup file: %v", err)
	}
	return nil
}

// LoadBackup reads and decrypts a mnemonic backup.
func LoadBackup(walletDir, name, password string) (string, error) {
	path := filepath.Join(walletDir, fmt.Sprintf("%s_seed.bak", name))
	sealed, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading backup file: %v", err)
	}
	return DecryptMnemonic(string(sealed), password)
}
