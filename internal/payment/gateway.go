// Package payment is the external boundary to the payment provider. The
// core never talks to the provider directly: it hands an order reference
// and an amount to the Gateway and receives verified notifications back.
package payment

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// Status is the provider-side state of a transaction.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusNotPay  Status = "NOTPAY"
	StatusClosed  Status = "CLOSED"
	StatusError   Status = "PAYERROR"
)

// Intent holds the opaque parameters the client needs to invoke the
// provider's payment sheet.
type Intent struct {
	PrepayID  string `json:"prepayId"`
	Nonce     string `json:"nonceStr"`
	Timestamp string `json:"timeStamp"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// Notification is a verified payment event, either pushed by the provider
// or pulled via QueryStatus.
type Notification struct {
	OrderNo       string
	TransactionID string
	Status        Status
	AmountMinor   int64
	PaidAt        time.Time
}

// ErrUnavailable is returned when the gateway is not configured. Callers
// surface it as a retryable condition: the order stays pending.
var ErrUnavailable = errors.New("payment gateway not configured")

// ErrBadSignature is returned when a notification fails signature
// verification. Such requests must be rejected, never acked.
var ErrBadSignature = errors.New("notification signature mismatch")

// GatewayError wraps a provider-side failure. It is retryable by contract.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return "payment gateway: " + e.Op + ": " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Gateway abstracts the payment provider.
type Gateway interface {
	// Available reports whether the gateway has enough configuration to
	// create intents. When false, CreateIntent fails with ErrUnavailable.
	Available() bool
	// CreateIntent registers a payment for orderNo and returns the client
	// invocation parameters. The amount is in minor currency units.
	CreateIntent(ctx context.Context, orderNo string, amountMinor int64, payerRef string) (*Intent, error)
	// QueryStatus pulls the current transaction state for orderNo.
	QueryStatus(ctx context.Context, orderNo string) (*Notification, error)
	// ParseNotification verifies the transport signature of a pushed
	// notification and decodes it. A verification failure returns
	// ErrBadSignature and the event must not be processed.
	ParseNotification(header http.Header, body []byte) (*Notification, error)
}
