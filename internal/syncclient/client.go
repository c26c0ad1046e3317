// Package syncclient is the boundary to the destination accounting system.
// A Client pushes one voucher and reports the outcome; it never retries.
package syncclient

import (
	"context"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// SendResult is the outcome of a single push.
type SendResult struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"externalId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed builds an unsuccessful result.
func Failed(reason string) SendResult {
	return SendResult{Success: false, Error: reason}
}

// Client pushes vouchers to the destination ledger.
type Client interface {
	Send(ctx context.Context, v model.LedgerVoucher) SendResult
}

// Pinger is implemented by clients that can check connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, v model.LedgerVoucher) SendResult

func (f ClientFunc) Send(ctx context.Context, v model.LedgerVoucher) SendResult {
	return f(ctx, v)
}
