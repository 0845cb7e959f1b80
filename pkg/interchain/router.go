// Package interchain moves a hash-locked payment across two payment channel
// networks: the inbound leg is held while an equivalent outbound payment is
// made, and the preimage the outbound leg reveals settles the inbound one.
package interchain

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

// Time lock budget. The outbound leg must expire before the inbound leg so
// that a preimage learned at the last moment can still be used upstream.
const (
	DefaultMakerFwdDelta   = 86400 * time.Second
	DefaultRelayerFwdDelta = 86400 * time.Second
	DefaultMinFinalDelta   = 86400 * time.Second
	BlockBuffer            = 1200 * time.Second

	OutboundTimeLock = DefaultMinFinalDelta + BlockBuffer + DefaultRelayerFwdDelta
	InboundTimeLock  = OutboundTimeLock + DefaultMakerFwdDelta + BlockBuffer

	DefaultRetryDelay = 30 * time.Second
)

// Payment is one leg of a swap.
type Payment struct {
	Engine engine.Engine
	Amount decimal.Decimal
	// Address is the counterparty's payment channel network address. Only
	// the outbound leg needs one.
	Address string
}

type Router struct {
	retryDelay time.Duration
	clock      util.Clock
	logger     *zap.SugaredLogger
}

type Option func(*Router)

func WithRetryDelay(d time.Duration) Option {
	return func(r *Router) { r.retryDelay = d }
}

func WithClock(c util.Clock) Option {
	return func(r *Router) { r.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Router) { r.logger = l }
}

func NewRouter(opts ...Option) *Router {
	r := &Router{retryDelay: DefaultRetryDelay, clock: util.RealClock{}}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = util.OrNop(r.logger)
	return r
}

// PrepareSwap asks the inbound engine to accept a payment for hash, locked
// for at most InboundTimeLock and held until timeout.
func (r *Router) PrepareSwap(ctx context.Context, hash string, inbound Payment, timeout time.Time) error {
	r.logger.Infow("prepare_swap", "hash", hash, "symbol", inbound.Engine.Symbol(), "amount", inbound.Amount.String(), "timeout", timeout)
	return inbound.Engine.PrepareSwap(ctx, hash, inbound.Amount, InboundTimeLock, timeout)
}

// ForwardSwap completes the outbound leg of hash and uses the preimage to
// settle the inbound leg. It is safe to call again for a hash that is already
// in flight: a pending outbound payment is followed rather than repeated.
//
// A permanent outbound failure cancels the inbound swap and is returned.
// Transient failures are retried until ctx is done or the outbound deadline
// passes. Once the outbound leg has paid, only the inbound settle is retried
// and the inbound swap is never cancelled.
//
// The broker's preimage handler does not go through ForwardSwap: it calls
// TranslateSwap on the outbound engine itself and lets the inbound engine
// settle with the preimage it returns. Nothing in the daemon calls
// ForwardSwap; it drives both legs from one place for recovery tooling and
// tests.
func (r *Router) ForwardSwap(ctx context.Context, hash string, inbound, outbound Payment) (string, error) {
	var (
		deadline time.Time
		res      forwardResult
		paid     bool
	)
	attempt := func() error {
		if !paid {
			if !deadline.IsZero() && !r.clock.Now().Before(deadline) {
				return backoff.Permanent(engine.Permanent("outbound deadline %s for %s has passed", deadline.Format(time.RFC3339), hash))
			}
			out, err := r.forward(ctx, hash, inbound, outbound, &deadline)
			if err != nil {
				return retryable(ctx, err)
			}
			res, paid = out, true
		}
		if res.settled {
			return nil
		}
		if err := inbound.Engine.SettleSwap(ctx, res.preimage); err != nil {
			return retryable(ctx, fmt.Errorf("failed to settle inbound swap %s: %w", hash, err))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warnw("forward_swap_retry", "hash", hash, "paid", paid, "err", err, "delay", wait)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(r.retryDelay), ctx)
	if err := backoff.RetryNotifyWithTimer(attempt, b, notify, r.timer()); err != nil {
		if engine.IsPermanent(err) && !paid {
			r.logger.Errorw("forward_swap_failed", "hash", hash, "err", err)
			if cerr := r.cancelInbound(ctx, hash, inbound); cerr != nil {
				return "", fmt.Errorf("%w (cancel of inbound swap also failed: %v)", err, cerr)
			}
		}
		return "", err
	}

	r.logger.Infow("forward_swap_complete", "hash", hash)
	return res.preimage, nil
}

// retryable marks err permanent for backoff when it should end the retry loop.
func retryable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if engine.IsPermanent(err) {
		return backoff.Permanent(err)
	}
	return err
}

type forwardResult struct {
	preimage string
	// settled is set when the inbound leg was already settled.
	settled bool
}

func (r *Router) forward(ctx context.Context, hash string, inbound, outbound Payment, deadline *time.Time) (forwardResult, error) {
	pending, err := outbound.Engine.IsPaymentPendingOrComplete(ctx, hash)
	if err != nil {
		return forwardResult{}, fmt.Errorf("failed to check outbound payment %s: %w", hash, err)
	}
	if pending {
		r.logger.Infow("forward_swap_recovering", "hash", hash)
		preimage, err := r.paymentPreimage(ctx, hash, outbound)
		return forwardResult{preimage: preimage}, err
	}

	if deadline.IsZero() {
		committed, err := retryTransient(ctx, r, func() (time.Time, error) {
			return inbound.Engine.WaitForSwapCommitment(ctx, hash)
		})
		if engine.IsSettled(err) {
			preimage, err := inbound.Engine.GetSettledSwapPreimage(ctx, hash)
			if err != nil {
				return forwardResult{}, fmt.Errorf("failed to get settled preimage for %s: %w", hash, err)
			}
			return forwardResult{preimage: preimage, settled: true}, nil
		}
		if err != nil {
			return forwardResult{}, err
		}
		*deadline = OutboundDeadline(committed)
	}

	result, err := outbound.Engine.TranslateSwap(ctx, outbound.Address, hash, outbound.Amount, *deadline)
	if err != nil {
		return forwardResult{}, fmt.Errorf("failed to translate swap %s: %w", hash, err)
	}
	if result.PermanentError != "" {
		return forwardResult{}, engine.Permanent("%s", result.PermanentError)
	}
	return forwardResult{preimage: result.PaymentPreimage}, nil
}

// OutboundDeadline is the absolute expiry of the outbound leg for an inbound
// swap committed at committed. It always falls before the inbound expiry
// since OutboundTimeLock is less than InboundTimeLock.
func OutboundDeadline(committed time.Time) time.Time {
	return committed.Add(OutboundTimeLock)
}

func (r *Router) paymentPreimage(ctx context.Context, hash string, outbound Payment) (string, error) {
	res, err := retryTransient(ctx, r, func() (engine.PaymentResult, error) {
		return outbound.Engine.GetPaymentPreimage(ctx, hash)
	})
	if err != nil {
		return "", err
	}
	if res.PermanentError != "" {
		return "", engine.Permanent("%s", res.PermanentError)
	}
	return res.PaymentPreimage, nil
}

func (r *Router) cancelInbound(ctx context.Context, hash string, inbound Payment) error {
	_, err := retryTransient(ctx, r, func() (struct{}, error) {
		return struct{}{}, inbound.Engine.CancelSwap(ctx, hash)
	})
	if err == nil {
		r.logger.Infow("inbound_swap_cancelled", "hash", hash)
	}
	return err
}

// retryTransient retries op with exponential backoff until it succeeds,
// reports a permanent or settled error, or ctx is done.
func retryTransient[T any](ctx context.Context, r *Router, op func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.retryDelay / 30
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Millisecond
	}
	eb.MaxInterval = r.retryDelay
	eb.MaxElapsedTime = 0

	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && (engine.IsPermanent(err) || engine.IsSettled(err) || ctx.Err() != nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debugw("engine_call_retry", "err", err, "delay", wait)
	}
	return backoff.RetryNotifyWithTimerAndData(wrapped, backoff.WithContext(eb, ctx), notify, r.timer())
}

func (r *Router) timer() backoff.Timer {
	return &clockTimer{clock: r.clock}
}

// clockTimer drives backoff waits from the router's clock.
type clockTimer struct {
	clock util.Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.c = t.clock.After(d) }
func (t *clockTimer) Stop()                 {}
func (t *clockTimer) C() <-chan time.Time   { return t.c }
