// Package enginetest provides a configurable in-memory engine for tests.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
)

// Engine is a fake engine. Each method delegates to the matching func field
// when set and otherwise returns a harmless default. Every call is counted.
type Engine struct {
	Sym          string
	BlockSeconds int64

	GetPublicKeyFunc                    func(ctx context.Context) (string, error)
	GetPaymentChannelNetworkAddressFunc func(ctx context.Context) (string, error)
	CreateRefundInvoiceFunc             func(ctx context.Context, paymentRequest string) (string, error)
	PayInvoiceFunc                      func(ctx context.Context, paymentRequest string) error
	CreateSwapHashFunc                  func(ctx context.Context, orderID string, amount decimal.Decimal) (string, error)
	ExecuteSwapFunc                     func(ctx context.Context, address, hash string, amount decimal.Decimal) error
	PrepareSwapFunc                     func(ctx context.Context, hash string, amount decimal.Decimal, maxTimeLock time.Duration, timeout time.Time) error
	WaitForSwapCommitmentFunc           func(ctx context.Context, hash string) (time.Time, error)
	TranslateSwapFunc                   func(ctx context.Context, address, hash string, amount decimal.Decimal, deadline time.Time) (engine.PaymentResult, error)
	IsPaymentPendingOrCompleteFunc      func(ctx context.Context, hash string) (bool, error)
	GetPaymentPreimageFunc              func(ctx context.Context, hash string) (engine.PaymentResult, error)
	GetSettledSwapPreimageFunc          func(ctx context.Context, hash string) (string, error)
	SettleSwapFunc                      func(ctx context.Context, preimage string) error
	CancelSwapFunc                      func(ctx context.Context, hash string) error

	mu    sync.Mutex
	calls map[string]int
}

func New(symbol string) *Engine {
	return &Engine{Sym: symbol, BlockSeconds: 600}
}

func (e *Engine) record(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[name]++
}

// Calls returns how many times the named method was invoked.
func (e *Engine) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// TotalCalls returns the number of calls across all methods.
func (e *Engine) TotalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

func (e *Engine) Symbol() string         { return e.Sym }
func (e *Engine) SecondsPerBlock() int64 { return e.BlockSeconds }

func (e *Engine) GetPublicKey(ctx context.Context) (string, error) {
	e.record("GetPublicKey")
	if e.GetPublicKeyFunc != nil {
		return e.GetPublicKeyFunc(ctx)
	}
	return e.Sym + "-pubkey", nil
}

func (e *Engine) GetPaymentChannelNetworkAddress(ctx context.Context) (string, error) {
	e.record("GetPaymentChannelNetworkAddress")
	if e.GetPaymentChannelNetworkAddressFunc != nil {
		return e.GetPaymentChannelNetworkAddressFunc(ctx)
	}
	return e.Sym + ":address", nil
}

func (e *Engine) CreateRefundInvoice(ctx context.Context, paymentRequest string) (string, error) {
	e.record("CreateRefundInvoice")
	if e.CreateRefundInvoiceFunc != nil {
		return e.CreateRefundInvoiceFunc(ctx, paymentRequest)
	}
	return "refund-" + paymentRequest, nil
}

func (e *Engine) PayInvoice(ctx context.Context, paymentRequest string) error {
	e.record("PayInvoice")
	if e.PayInvoiceFunc != nil {
		return e.PayInvoiceFunc(ctx, paymentRequest)
	}
	return nil
}

func (e *Engine) CreateSwapHash(ctx context.Context, orderID string, amount decimal.Decimal) (string, error) {
	e.record("CreateSwapHash")
	if e.CreateSwapHashFunc != nil {
		return e.CreateSwapHashFunc(ctx, orderID, amount)
	}
	return "hash-" + orderID, nil
}

func (e *Engine) ExecuteSwap(ctx context.Context, address, hash string, amount decimal.Decimal) error {
	e.record("ExecuteSwap")
	if e.ExecuteSwapFunc != nil {
		return e.ExecuteSwapFunc(ctx, address, hash, amount)
	}
	return nil
}

func (e *Engine) PrepareSwap(ctx context.Context, hash string, amount decimal.Decimal, maxTimeLock time.Duration, timeout time.Time) error {
	e.record("PrepareSwap")
	if e.PrepareSwapFunc != nil {
		return e.PrepareSwapFunc(ctx, hash, amount, maxTimeLock, timeout)
	}
	return nil
}

func (e *Engine) WaitForSwapCommitment(ctx context.Context, hash string) (time.Time, error) {
	e.record("WaitForSwapCommitment")
	if e.WaitForSwapCommitmentFunc != nil {
		return e.WaitForSwapCommitmentFunc(ctx, hash)
	}
	return time.Now(), nil
}

func (e *Engine) TranslateSwap(ctx context.Context, address, hash string, amount decimal.Decimal, deadline time.Time) (engine.PaymentResult, error) {
	e.record("TranslateSwap")
	if e.TranslateSwapFunc != nil {
		return e.TranslateSwapFunc(ctx, address, hash, amount, deadline)
	}
	return engine.PaymentResult{PaymentPreimage: "preimage-" + hash}, nil
}

func (e *Engine) IsPaymentPendingOrComplete(ctx context.Context, hash string) (bool, error) {
	e.record("IsPaymentPendingOrComplete")
	if e.IsPaymentPendingOrCompleteFunc != nil {
		return e.IsPaymentPendingOrCompleteFunc(ctx, hash)
	}
	return false, nil
}

func (e *Engine) GetPaymentPreimage(ctx context.Context, hash string) (engine.PaymentResult, error) {
	e.record("GetPaymentPreimage")
	if e.GetPaymentPreimageFunc != nil {
		return e.GetPaymentPreimageFunc(ctx, hash)
	}
	return engine.PaymentResult{PaymentPreimage: "preimage-" + hash}, nil
}

func (e *Engine) GetSettledSwapPreimage(ctx context.Context, hash string) (string, error) {
	e.record("GetSettledSwapPreimage")
	if e.GetSettledSwapPreimageFunc != nil {
		return e.GetSettledSwapPreimageFunc(ctx, hash)
	}
	return "preimage-" + hash, nil
}

func (e *Engine) SettleSwap(ctx context.Context, preimage string) error {
	e.record("SettleSwap")
	if e.SettleSwapFunc != nil {
		return e.SettleSwapFunc(ctx, preimage)
	}
	return nil
}

func (e *Engine) CancelSwap(ctx context.Context, hash string) error {
	e.record("CancelSwap")
	if e.CancelSwapFunc != nil {
		return e.CancelSwapFunc(ctx, hash)
	}
	return nil
}

var _ engine.Engine = (*Engine)(nil)
