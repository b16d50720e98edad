package ipc

import (
	"net"
	"sync"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

type Command struct {
	ID      int      `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type Response struct {
	ID     int         `json:"id"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// StatusUpdate is pushed to subscribed clients whenever the session
// snapshot or derived state changes.
type StatusUpdate struct {
	Account string              `json:"account"`
	State   string              `json:"state"`
	Status  ledger.UnlockStatus `json:"status"`
}

type Server struct {
	listener    net.Listener
	commands    chan Command
	mutex       sync.Mutex
	connections map[int]net.Conn // Maps command ID to the client connection
	subscribers map[net.Conn]bool
}

type Client struct {
	conn net.Conn
}
