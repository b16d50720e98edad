package api

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// StartServer registers the unlock routes and serves them until the
// process exits. Mutating routes sit behind the JWT middleware; the
// challenge flow bootstraps tokens from the wallet API key.
func (a *API) StartServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/unlock-status", a.CORSMiddleware(a.JWTMiddleware(a.HandleUnlockStatus)))
	mux.HandleFunc("/commit", a.CORSMiddleware(a.JWTMiddleware(a.HandleCommit)))
	mux.HandleFunc("/reveal", a.CORSMiddleware(a.JWTMiddleware(a.HandleReveal)))
	mux.HandleFunc("/transfer", a.CORSMiddleware(a.JWTMiddleware(a.HandleTransfer)))
	mux.HandleFunc("/history", a.CORSMiddleware(a.JWTMiddleware(a.HandleHistory)))

	// Token bootstrap routes
	mux.HandleFunc("/challenge", a.CORSMiddleware(a.HandleChallengeRequest))
	mux.HandleFunc("/verify", a.CORSMiddleware(a.VerifyChallenge))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", viper.GetInt("api_port")),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if viper.GetBool("use_https") {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		log.Printf("Starting HTTPS API server on %s", server.Addr)
		return server.ListenAndServeTLS(viper.GetString("cert_file"), viper.GetString("key_file"))
	}

	log.Printf("Starting HTTP API server on %s", server.Addr)
	return server.ListenAndServe()
}
