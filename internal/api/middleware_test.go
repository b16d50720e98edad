package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/viper"
)

func setupAPI(t *testing.T) *API {
	t.Helper()
	viper.Set("jwt_keys_dir", t.TempDir())
	viper.Set("allowed_origin", "http://localhost:3000")
	viper.Set("wallet_api_key", "test-api-key")
	if err := EnsureJWTKey("testwallet"); err != nil {
		t.Fatalf("EnsureJWTKey: %v", err)
	}
	return NewAPI(nil, "testwallet", true)
}

func signedToken(t *testing.T, expiry time.Duration) string {
	t.Helper()
	claims := &Claims{
		WalletName: "testwallet",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(GetJWTKey())
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return token
}

func TestJWTMiddleware(t *testing.T) {
	a := setupAPI(t)

	called := false
	handler := a.JWTMiddleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantCalled bool
	}{
		{"missing header", "", http.StatusUnauthorized, false},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, false},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized, false},
		{"expired token", "Bearer " + signedToken(t, -time.Hour), http.StatusUnauthorized, false},
		{"valid token", "Bearer " + signedToken(t, time.Hour), http.StatusOK, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodGet, "/unlock-status", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if called != tc.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tc.wantCalled)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	a := setupAPI(t)
	handler := a.CORSMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/commit", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allowed origin = %q", got)
	}
}

func TestChallengeVerifyFlow(t *testing.T) {
	a := setupAPI(t)

	// Request a challenge with the API key.
	body, _ := json.Marshal(ChallengeRequest{APIKey: "test-api-key"})
	req := httptest.NewRequest(http.MethodPost, "/challenge", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.HandleChallengeRequest(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("challenge status = %d: %s", rec.Code, rec.Body.String())
	}
	var challengeResp ChallengeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &challengeResp); err != nil {
		t.Fatalf("decoding challenge: %v", err)
	}
	if challengeResp.Challenge == "" {
		t.Fatal("empty challenge issued")
	}

	// Answer with the keyed HMAC.
	mac := hmac.New(sha256.New, []byte("test-api-key"))
	mac.Write([]byte(challengeResp.Challenge))
	answer := hex.EncodeToString(mac.Sum(nil))

	body, _ = json.Marshal(VerifyRequest{Challenge: challengeResp.Challenge, Response: answer})
	req = httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	a.VerifyChallenge(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rec.Code, rec.Body.String())
	}
	var verifyResp VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &verifyResp); err != nil {
		t.Fatalf("decoding verify response: %v", err)
	}

	// The issued token must pass the middleware.
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(verifyResp.Token, claims, func(token *jwt.Token) (interface{}, error) {
		return GetJWTKey(), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.WalletName != "testwallet" {
		t.Errorf("token wallet = %q, want testwallet", claims.WalletName)
	}

	// Challenges are single use.
	req = httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	a.VerifyChallenge(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed challenge status = %d, want 401", rec.Code)
	}
}

func TestChallengeRejectsBadAPIKey(t *testing.T) {
	a := setupAPI(t)

	body, _ := json.Marshal(ChallengeRequest{APIKey: "wrong-key"})
	req := httptest.NewRequest(http.MethodPost, "/challenge", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.HandleChallengeRequest(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestVerifyRejectsWrongAnswer(t *testing.T) {
	a := setupAPI(t)

	body, _ := json.Marshal(ChallengeRequest{APIKey: "test-api-key"})
	req := httptest.NewRequest(http.MethodPost, "/challenge", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.HandleChallengeRequest(rec, req)
	var challengeResp ChallengeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &challengeResp); err != nil {
		t.Fatalf("decoding challenge: %v", err)
	}

	body, _ = json.Marshal(VerifyRequest{Challenge: challengeResp.Challenge, Response: "deadbeef"})
	req = httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	a.VerifyChallenge(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
