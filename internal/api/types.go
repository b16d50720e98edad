package api

import (
	"github.com/veilprotocol/veil-wallet/internal/account"
)

// API serves the wallet's unlock operations over HTTP for a browser
// front end. All session access goes through the account context.
type API struct {
	Ctx        *account.Context
	WalletName string
	HttpMode   bool
}

func NewAPI(ctx *account.Context, walletName string, httpMode bool) *API {
	return &API{
		Ctx:        ctx,
		WalletName: walletName,
		HttpMode:   httpMode,
	}
}

type StatusResponse struct {
	Account         string `json:"account"`
	State           string `json:"state"`
	IsUnlocked      bool   `json:"is_unlocked"`
	UnlockedUntil   int64  `json:"unlocked_until"`
	UnlockedAmount  string `json:"unlocked_amount"`
	NextAttemptTime int64  `json:"next_attempt_time"`
	HasCommit       bool   `json:"has_commit"`
	Pending         bool   `json:"pending"`
}

type CommitRequest struct {
	Preimage string `json:"preimage"`
}

type CommitResponse struct {
	Status  string `json:"status"`
	TxRef   string `json:"tx_ref,omitempty"`
	Message string `json:"message,omitempty"`
}

type RevealRequest struct {
	Preimage string `json:"preimage"`
}

type RevealResponse struct {
	Status  string `json:"status"` // "success", "failed" or "error"
	TxRef   string `json:"tx_ref,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

type TransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type TransferResponse struct {
	Status  string `json:"status"`
	TxRef   string `json:"tx_ref,omitempty"`
	Message string `json:"message,omitempty"`
}

type ChallengeRequest struct {
	APIKey string `json:"api_key"`
}

type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

type VerifyRequest struct {
	Challenge string `json:"challenge"`
	Response  string `json:"response"`
}

type VerifyResponse struct {
	Token string `json:"token"`
}
