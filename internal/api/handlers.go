package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/viper"

	historydb "github.com/veilprotocol/veil-wallet/internal/database"
	"github.com/veilprotocol/veil-wallet/internal/ledger"
	"github.com/veilprotocol/veil-wallet/internal/session"
)

var (
	challengeMu  sync.Mutex
	challenges   = make(map[string]time.Time)
	challengeTTL = 2 * time.Minute
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// classifyError maps a ledger or session error to an HTTP status and a
// user-facing message. Outcome failures never reach here; they are
// reported in the response body of a 200.
func classifyError(err error) (int, string) {
	var transport *ledger.TransportError
	var rejected *ledger.RejectedByUser
	switch {
	case errors.As(err, &transport):
		return http.StatusBadGateway, "network unavailable, try again: " + err.Error()
	case errors.As(err, &rejected):
		return http.StatusConflict, "signing was rejected in the wallet"
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrCommitOutstanding),
		errors.Is(err, session.ErrCooldownActive):
		return http.StatusConflict, err.Error()
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone, "session is no longer active"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (a *API) HandleUnlockStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Ctx.Session()
	if err != nil {
		status, msg := classifyError(err)
		http.Error(w, msg, status)
		return
	}

	snapshot, _ := sess.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Account:         sess.Account(),
		State:           sess.State().String(),
		IsUnlocked:      snapshot.IsUnlocked(),
		UnlockedUntil:   snapshot.UnlockedUntil,
		UnlockedAmount:  snapshot.UnlockedAmount,
		NextAttemptTime: snapshot.NextAttemptTime,
		HasCommit:       snapshot.HasCommit,
		Pending:         sess.Pending() != session.OpIdle,
	})
}

func (a *API) HandleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	preimage, ok := new(big.Int).SetString(req.Preimage, 10)
	if !ok {
		http.Error(w, "Preimage must be a decimal number", http.StatusBadRequest)
		return
	}

	sess, err := a.Ctx.Session()
	if err != nil {
		status, msg := classifyError(err)
		http.Error(w, msg, status)
		return
	}

	receipt, err := sess.Commit(r.Context(), preimage)
	if err != nil {
		status, msg := classifyError(err)
		writeJSON(w, status, CommitResponse{Status: "error", Message: msg})
		return
	}

	if dbErr := historydb.RecordCommit(sess.Account(), receipt.TxRef); dbErr != nil {
		log.Printf("Error recording commit in history: %v", dbErr)
	}

	writeJSON(w, http.StatusOK, CommitResponse{Status: "success", TxRef: receipt.TxRef})
}

func (a *API) HandleReveal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req RevealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	preimage, ok := new(big.Int).SetString(req.Preimage, 10)
	if !ok {
		http.Error(w, "Preimage must be a decimal number", http.StatusBadRequest)
		return
	}

	sess, err := a.Ctx.Session()
	if err != nil {
		status, msg := classifyError(err)
		http.Error(w, msg, status)
		return
	}

	outcome, err := sess.Reveal(r.Context(), preimage)
	if err != nil {
		status, msg := classifyError(err)
		writeJSON(w, status, RevealResponse{Status: "error", Message: msg})
		return
	}

	if dbErr := historydb.RecordReveal(sess.Account(), outcome); dbErr != nil {
		log.Printf("Error recording reveal in history: %v", dbErr)
	}

	if outcome.Success {
		writeJSON(w, http.StatusOK, RevealResponse{Status: "success", TxRef: outcome.TxRef})
		return
	}
	writeJSON(w, http.StatusOK, RevealResponse{
		Status: "failed",
		TxRef:  outcome.TxRef,
		Reason: outcome.Reason.String(),
	})
}

func (a *API) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		http.Error(w, "Amount must be a positive decimal number", http.StatusBadRequest)
		return
	}

	sess, err := a.Ctx.Session()
	if err != nil {
		status, msg := classifyError(err)
		http.Error(w, msg, status)
		return
	}

	txRef, err := sess.Transfer(r.Context(), req.Recipient, amount)
	if err != nil {
		status, msg := classifyError(err)
		writeJSON(w, status, TransferResponse{Status: "error", Message: msg})
		return
	}

	if dbErr := historydb.RecordTransfer(sess.Account(), txRef); dbErr != nil {
		log.Printf("Error recording transfer in history: %v", dbErr)
	}

	writeJSON(w, http.StatusOK, TransferResponse{Status: "success", TxRef: txRef})
}

func (a *API) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Ctx.Session()
	if err != nil {
		status, msg := classifyError(err)
		http.Error(w, msg, status)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	records, err := historydb.GetHistory(sess.Account(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleChallengeRequest issues a short-lived challenge to a caller
// presenting the wallet API key. The front end answers it in /verify to
// obtain a JWT.
func (a *API) HandleChallengeRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.APIKey == "" || req.APIKey != viper.GetString("wallet_api_key") {
		http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
		return
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		http.Error(w, "Failed to generate challenge", http.StatusInternalServerError)
		return
	}
	challenge := hex.EncodeToString(buf)

	challengeMu.Lock()
	challenges[challenge] = time.Now().Add(challengeTTL)
	challengeMu.Unlock()

	writeJSON(w, http.StatusOK, ChallengeResponse{Challenge: challenge})
}

// VerifyChallenge checks the HMAC answer to a previously issued
// challenge and returns a signed JWT on success.
func (a *API) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	challengeMu.Lock()
	expiry, exists := challenges[req.Challenge]
	if exists {
		delete(challenges, req.Challenge)
	}
	challengeMu.Unlock()

	if !exists || time.Now().After(expiry) {
		http.Error(w, "Unauthorized: unknown or expired challenge", http.StatusUnauthorized)
		return
	}

	mac := hmac.New(sha256.New, []byte(viper.GetString("wallet_api_key")))
	mac.Write([]byte(req.Challenge))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(req.Response)) {
		http.Error(w, "Unauthorized: invalid challenge response", http.StatusUnauthorized)
		return
	}

	claims := &Claims{
		WalletName: a.WalletName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(GetJWTKey())
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{Token: signed})
}
