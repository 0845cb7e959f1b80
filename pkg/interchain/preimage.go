package interchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/models"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

// ErrInvalidRequest marks a preimage request that could not be parsed.
var ErrInvalidRequest = errors.New("invalid preimage request")

// DefaultTimeLockMargin is kept back from the inbound time lock when
// computing how long the outbound leg may take.
const DefaultTimeLockMargin = BlockBuffer

// PreimageRequest is sent by an inbound engine when it receives a payment
// for a hash it does not know the preimage of. Numbers are decimal strings.
type PreimageRequest struct {
	PaymentHash string `json:"paymentHash"`
	Amount      string `json:"amount"`
	Symbol      string `json:"symbol"`
	TimeLock    string `json:"timeLock"`
	BestHeight  string `json:"bestHeight"`
}

// OrderLookup finds the routing entries for a swap hash.
type OrderLookup interface {
	OrdersByHash(hash string) ([]*models.Order, error)
}

// OrderLookupFunc adapts a function to OrderLookup.
type OrderLookupFunc func(hash string) ([]*models.Order, error)

func (f OrderLookupFunc) OrdersByHash(hash string) ([]*models.Order, error) { return f(hash) }

type PreimageHandler struct {
	orders  OrderLookup
	engines engine.Registry
	clock   util.Clock
	margin  time.Duration
	logger  *zap.SugaredLogger
}

type PreimageOption func(*PreimageHandler)

func WithTimeLockMargin(d time.Duration) PreimageOption {
	return func(h *PreimageHandler) { h.margin = d }
}

func WithPreimageClock(c util.Clock) PreimageOption {
	return func(h *PreimageHandler) { h.clock = c }
}

func WithPreimageLogger(l *zap.SugaredLogger) PreimageOption {
	return func(h *PreimageHandler) { h.logger = l }
}

func NewPreimageHandler(orders OrderLookup, engines engine.Registry, opts ...PreimageOption) *PreimageHandler {
	h := &PreimageHandler{
		orders:  orders,
		engines: engines,
		clock:   util.RealClock{},
		margin:  DefaultTimeLockMargin,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = util.OrNop(h.logger)
	return h
}

type parsedRequest struct {
	hash       string
	symbol     string
	amount     decimal.Decimal
	timeLock   decimal.Decimal
	bestHeight decimal.Decimal
}

func parseRequest(req PreimageRequest) (parsedRequest, error) {
	if req.PaymentHash == "" {
		return parsedRequest{}, fmt.Errorf("%w: paymentHash is required", ErrInvalidRequest)
	}
	if req.Symbol == "" {
		return parsedRequest{}, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	p := parsedRequest{hash: req.PaymentHash, symbol: req.Symbol}
	var err error
	if p.amount, err = models.ParseAmount("amount", req.Amount); err != nil {
		return parsedRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if p.timeLock, err = models.ParseAmount("timeLock", req.TimeLock); err != nil {
		return parsedRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if p.bestHeight, err = models.ParseAmount("bestHeight", req.BestHeight); err != nil {
		return parsedRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return p, nil
}

// GetPreimage forwards an inbound payment to the taker of the order it
// belongs to and returns the preimage, or the reason the payment must be
// refused. A returned error is either ErrInvalidRequest or a transient
// failure worth retrying.
func (h *PreimageHandler) GetPreimage(ctx context.Context, req PreimageRequest) (engine.PaymentResult, error) {
	p, err := parseRequest(req)
	if err != nil {
		return engine.PaymentResult{}, err
	}
	logger := h.logger.With("hash", p.hash)

	orders, err := h.orders.OrdersByHash(p.hash)
	if err != nil {
		return engine.PaymentResult{}, err
	}
	switch n := len(orders); {
	case n == 0:
		return refuse(logger, "No routing entry available for %s", p.hash), nil
	case n > 1:
		return refuse(logger, "Too many routing entries (%d) for %s, only expected one.", n, p.hash), nil
	}
	o := orders[0]

	outbound, err := h.engines.Get(o.OutboundSymbol())
	if err != nil {
		return refuse(logger, "No engine available for %s", o.OutboundSymbol()), nil
	}

	if p.symbol != o.InboundSymbol() {
		return refuse(logger, "Wrong currency paid in for %s. Expected %s, found %s", p.hash, o.InboundSymbol(), p.symbol), nil
	}
	if expected := o.InboundFillAmount(); p.amount.LessThan(expected) {
		return refuse(logger, "Insufficient currency paid in for %s. Expected %s, found %s", p.hash, expected.String(), p.amount.String()), nil
	}

	pending, err := outbound.IsPaymentPendingOrComplete(ctx, p.hash)
	if err != nil {
		return engine.PaymentResult{}, fmt.Errorf("failed to check outbound payment %s: %w", p.hash, err)
	}
	if pending {
		logger.Infow("preimage_request_in_flight")
		return outbound.GetPaymentPreimage(ctx, p.hash)
	}

	inbound, err := h.engines.Get(o.InboundSymbol())
	if err != nil {
		return refuse(logger, "No engine available for %s", o.InboundSymbol()), nil
	}
	remaining := RemainingTime(p.timeLock, p.bestHeight, inbound.SecondsPerBlock())
	if remaining <= h.margin {
		return refuse(logger, "Current block height (%s) is higher than the extended timelock (%s): time lock height is higher than allowed", p.bestHeight.String(), p.timeLock.String()), nil
	}

	deadline := h.clock.Now().Add(remaining - h.margin)
	logger.Infow("preimage_request_forwarding", "taker", o.TakerAddress, "amount", o.OutboundFillAmount().String(), "deadline", deadline)
	return outbound.TranslateSwap(ctx, o.TakerAddress, p.hash, o.OutboundFillAmount(), deadline)
}

// RemainingTime converts the blocks left before timeLock into time, assuming
// a constant block interval. The result is capped just above InboundTimeLock,
// which is the longest lock the broker ever asks for.
func RemainingTime(timeLock, bestHeight decimal.Decimal, secondsPerBlock int64) time.Duration {
	blocks := timeLock.Sub(bestHeight)
	if !blocks.IsPositive() || secondsPerBlock <= 0 {
		return 0
	}
	maxBlocks := decimal.NewFromInt(int64(InboundTimeLock/time.Second)/secondsPerBlock + 1)
	if blocks.GreaterThan(maxBlocks) {
		blocks = maxBlocks
	}
	return time.Duration(blocks.IntPart()*secondsPerBlock) * time.Second
}

func refuse(logger *zap.SugaredLogger, format string, args ...any) engine.PaymentResult {
	msg := fmt.Sprintf(format, args...)
	logger.Warnw("preimage_request_refused", "reason", msg)
	return engine.PaymentResult{PermanentError: msg}
}
