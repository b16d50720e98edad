package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/viper"
)

// JWT Claims
type Claims struct {
	WalletName string `json:"wallet_name"`
	jwt.RegisteredClaims
}

var jwtKey []byte

func (a *API) CORSMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := viper.GetString("allowed_origin")
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (a *API) JWTMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Println("Authorization header missing.")
			http.Error(w, "Unauthorized: Authorization header missing", http.StatusUnauthorized)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			log.Println("Invalid Authorization header format.")
			http.Error(w, "Unauthorized: Invalid token format", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return GetJWTKey(), nil
		})

		if err != nil {
			if validationErr, ok := err.(*jwt.ValidationError); ok {
				if validationErr.Errors == jwt.ValidationErrorExpired {
					log.Println("Token expired.")
					http.Error(w, "Token expired", http.StatusUnauthorized)
					return
				}
			}
			log.Println("Invalid token:", err)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}

		if !token.Valid {
			log.Println("Token is not valid.")
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// GenerateJWTKey creates a fresh random signing key.
func GenerateJWTKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate JWT key: %v", err)
	}
	return key, nil
}

func SaveJWTKey(key []byte, walletName string) error {
	walletDir := filepath.Join(viper.GetString("jwt_keys_dir"), walletName)
	path := filepath.Join(walletDir, "jwt.key")
	return os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600)
}

func GetJWTKey() []byte {
	return jwtKey
}

// EnsureJWTKey generates and stores a fresh JWT signing key for the
// wallet. Called once at server startup.
func EnsureJWTKey(walletName string) error {
	walletDir := filepath.Join(viper.GetString("jwt_keys_dir"), walletName)

	if _, dirErr := os.Stat(walletDir); os.IsNotExist(dirErr) {
		log.Printf("Creating directory: %s", walletDir)
		if dirCreateErr := os.MkdirAll(walletDir, 0700); dirCreateErr != nil {
			return fmt.Errorf("failed to create directory for JWT key: %v", dirCreateErr)
		}
	}

	// Generate a new JWT key every time
	newKey, genErr := GenerateJWTKey()
	if genErr != nil {
		return fmt.Errorf("failed to generate new JWT key: %v", genErr)
	}

	if saveErr := SaveJWTKey(newKey, walletName); saveErr != nil {
		return fmt.Errorf("failed to save new JWT key: %v", saveErr)
	}

	jwtKey = newKey
	log.Printf("JWT key initialized for wallet: %s", walletName)

	return nil
}
