// Package engine defines the per-currency payment channel engine the broker
// drives, and the error types its swap primitives report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Engine is a payment channel network node for one currency.
type Engine interface {
	Symbol() string
	// SecondsPerBlock is the average block interval of the engine's chain.
	SecondsPerBlock() int64

	GetPublicKey(ctx context.Context) (string, error)
	GetPaymentChannelNetworkAddress(ctx context.Context) (string, error)

	CreateRefundInvoice(ctx context.Context, paymentRequest string) (string, error)
	PayInvoice(ctx context.Context, paymentRequest string) error

	CreateSwapHash(ctx context.Context, orderID string, amount decimal.Decimal) (string, error)
	ExecuteSwap(ctx context.Context, counterpartyAddress, hash string, amount decimal.Decimal) error
	PrepareSwap(ctx context.Context, hash string, amount decimal.Decimal, maxTimeLock time.Duration, timeout time.Time) error
	WaitForSwapCommitment(ctx context.Context, hash string) (time.Time, error)
	TranslateSwap(ctx context.Context, address, hash string, amount decimal.Decimal, deadline time.Time) (PaymentResult, error)
	IsPaymentPendingOrComplete(ctx context.Context, hash string) (bool, error)
	GetPaymentPreimage(ctx context.Context, hash string) (PaymentResult, error)
	GetSettledSwapPreimage(ctx context.Context, hash string) (string, error)
	SettleSwap(ctx context.Context, preimage string) error
	CancelSwap(ctx context.Context, hash string) error
}

// PaymentResult carries exactly one of a preimage or a permanent error message.
type PaymentResult struct {
	PaymentPreimage string `json:"paymentPreimage,omitempty"`
	PermanentError  string `json:"permanentError,omitempty"`
}

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Message string
}

func (e *PermanentError) Error() string { return e.Message }

func Permanent(format string, args ...any) error {
	return &PermanentError{Message: fmt.Sprintf(format, args...)}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// SettledSwapError is reported by WaitForSwapCommitment when the inbound
// leg for the hash has already been settled.
type SettledSwapError struct {
	Hash string
}

func (e *SettledSwapError) Error() string {
	return fmt.Sprintf("swap %s has already been settled", e.Hash)
}

func IsSettled(err error) bool {
	var s *SettledSwapError
	return errors.As(err, &s)
}
