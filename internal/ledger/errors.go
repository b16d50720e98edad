package ledger

import "fmt"

// TransportError means the call never reached or never completed on the
// ledger: the node was unreachable, the broadcast failed, or the
// response could not be read. Retrying is up to the caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedByUser means the user aborted signing in the wallet. The
// attempt is terminal; nothing was submitted.
type RejectedByUser struct {
	Op string
}

func (e *RejectedByUser) Error() string {
	return fmt.Sprintf("user rejected signing for %s", e.Op)
}
