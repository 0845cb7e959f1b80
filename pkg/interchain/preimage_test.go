package interchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/engine/enginetest"
	"github.com/uhyunpark/sparkswap-broker/pkg/models"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

// filledOrder is a BID for 100000 BTC base units at 1000 LTC, half filled.
func filledOrder(t *testing.T) *models.Order {
	t.Helper()
	o, err := models.NewOrder("bo1", models.OrderParams{
		Side:          models.SideBid,
		BaseSymbol:    "BTC",
		CounterSymbol: "LTC",
		BaseAmount:    decimal.NewFromInt(100000),
		CounterAmount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	o.OrderID = "o1"
	require.NoError(t, o.SetFilledParams("h1", decimal.NewFromInt(50000), "taker-ltc"))
	return o
}

func newHandler(t *testing.T, orders ...*models.Order) (*PreimageHandler, *enginetest.Engine, *enginetest.Engine) {
	t.Helper()
	btc, ltc := enginetest.New("BTC"), enginetest.New("LTC")
	lookup := OrderLookupFunc(func(hash string) ([]*models.Order, error) {
		var out []*models.Order
		for _, o := range orders {
			if o.SwapHash == hash {
				out = append(out, o)
			}
		}
		return out, nil
	})
	h := NewPreimageHandler(lookup, engine.NewRegistry(btc, ltc), WithPreimageClock(util.FixedClock{T: commitTime}))
	return h, btc, ltc
}

func request(amount string) PreimageRequest {
	return PreimageRequest{PaymentHash: "h1", Amount: amount, Symbol: "BTC", TimeLock: "1000", BestHeight: "700"}
}

func TestGetPreimageInsufficientAmount(t *testing.T) {
	h, btc, ltc := newHandler(t, filledOrder(t))

	res, err := h.GetPreimage(context.Background(), request("49999"))
	require.NoError(t, err)
	assert.Contains(t, res.PermanentError, "Insufficient currency")
	assert.Equal(t, "Insufficient currency paid in for h1. Expected 50000, found 49999", res.PermanentError)
	assert.Empty(t, res.PaymentPreimage)
	assert.Zero(t, btc.TotalCalls())
	assert.Zero(t, ltc.TotalCalls())
}

func TestGetPreimageInFlight(t *testing.T) {
	h, _, ltc := newHandler(t, filledOrder(t))
	ltc.IsPaymentPendingOrCompleteFunc = func(context.Context, string) (bool, error) { return true, nil }
	ltc.GetPaymentPreimageFunc = func(context.Context, string) (engine.PaymentResult, error) {
		return engine.PaymentResult{PaymentPreimage: "X"}, nil
	}

	res, err := h.GetPreimage(context.Background(), request("50000"))
	require.NoError(t, err)
	assert.Equal(t, engine.PaymentResult{PaymentPreimage: "X"}, res)
	assert.Zero(t, ltc.Calls("TranslateSwap"))
}

func TestGetPreimageForwards(t *testing.T) {
	h, _, ltc := newHandler(t, filledOrder(t))
	var deadline time.Time
	ltc.TranslateSwapFunc = func(_ context.Context, address, hash string, amount decimal.Decimal, d time.Time) (engine.PaymentResult, error) {
		assert.Equal(t, "taker-ltc", address)
		assert.Equal(t, "h1", hash)
		assert.Equal(t, "500", amount.String())
		deadline = d
		return engine.PaymentResult{PaymentPreimage: "pre"}, nil
	}

	res, err := h.GetPreimage(context.Background(), request("50000"))
	require.NoError(t, err)
	assert.Equal(t, "pre", res.PaymentPreimage)
	// 300 blocks at 600s less the 1200s margin
	assert.Equal(t, 300*600*time.Second-DefaultTimeLockMargin, deadline.Sub(commitTime))
}

func TestGetPreimageRefusals(t *testing.T) {
	tests := []struct {
		name   string
		orders func(t *testing.T) []*models.Order
		req    PreimageRequest
		want   string
		// drop removes an engine from the registry.
		drop string
	}{
		{
			name:   "no routing entry",
			orders: func(*testing.T) []*models.Order { return nil },
			req:    request("50000"),
			want:   "No routing entry available for h1",
		},
		{
			name: "too many routing entries",
			orders: func(t *testing.T) []*models.Order {
				return []*models.Order{filledOrder(t), filledOrder(t)}
			},
			req:  request("50000"),
			want: "Too many routing entries (2) for h1, only expected one.",
		},
		{
			name:   "wrong currency",
			orders: func(t *testing.T) []*models.Order { return []*models.Order{filledOrder(t)} },
			req:    PreimageRequest{PaymentHash: "h1", Amount: "50000", Symbol: "LTC", TimeLock: "1000", BestHeight: "700"},
			want:   "Wrong currency paid in for h1. Expected BTC, found LTC",
		},
		{
			name:   "time lock exhausted",
			orders: func(t *testing.T) []*models.Order { return []*models.Order{filledOrder(t)} },
			req:    PreimageRequest{PaymentHash: "h1", Amount: "50000", Symbol: "BTC", TimeLock: "1000", BestHeight: "998"},
			want:   "Current block height (998) is higher than the extended timelock (1000): time lock height is higher than allowed",
		},
		{
			name:   "no outbound engine",
			orders: func(t *testing.T) []*models.Order { return []*models.Order{filledOrder(t)} },
			req:    request("50000"),
			want:   "No engine available for LTC",
			drop:   "LTC",
		},
		{
			name:   "no inbound engine",
			orders: func(t *testing.T) []*models.Order { return []*models.Order{filledOrder(t)} },
			req:    request("50000"),
			want:   "No engine available for BTC",
			drop:   "BTC",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _, ltc := newHandler(t, tc.orders(t)...)
			delete(h.engines, tc.drop)
			res, err := h.GetPreimage(context.Background(), tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.PermanentError)
			assert.Zero(t, ltc.Calls("TranslateSwap"))
		})
	}
}

func TestGetPreimageInvalidRequest(t *testing.T) {
	h, _, _ := newHandler(t, filledOrder(t))
	_, err := h.GetPreimage(context.Background(), PreimageRequest{PaymentHash: "h1", Amount: "ten", Symbol: "BTC", TimeLock: "1", BestHeight: "0"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.GetPreimage(context.Background(), PreimageRequest{Amount: "1", Symbol: "BTC", TimeLock: "1", BestHeight: "0"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGetPreimageTransientEngineError(t *testing.T) {
	h, _, ltc := newHandler(t, filledOrder(t))
	ltc.IsPaymentPendingOrCompleteFunc = func(context.Context, string) (bool, error) {
		return false, errors.New("engine unavailable")
	}
	_, err := h.GetPreimage(context.Background(), request("50000"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestRemainingTime(t *testing.T) {
	assert.Equal(t, 10*600*time.Second, RemainingTime(decimal.NewFromInt(110), decimal.NewFromInt(100), 600))
	assert.Zero(t, RemainingTime(decimal.NewFromInt(100), decimal.NewFromInt(120), 600))

	huge, err := decimal.NewFromString("100000000000000000000")
	require.NoError(t, err)
	capped := RemainingTime(huge, decimal.NewFromInt(700), 600)
	assert.Equal(t, 437*600*time.Second, capped)
	assert.Greater(t, capped, InboundTimeLock)
}

func TestGetPreimageHugeTimeLock(t *testing.T) {
	h, _, ltc := newHandler(t, filledOrder(t))
	var deadline time.Time
	ltc.TranslateSwapFunc = func(_ context.Context, _, _ string, _ decimal.Decimal, d time.Time) (engine.PaymentResult, error) {
		deadline = d
		return engine.PaymentResult{PaymentPreimage: "pre"}, nil
	}

	req := request("50000")
	req.TimeLock = "9223372036854775807000"
	res, err := h.GetPreimage(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.PermanentError)
	assert.Equal(t, "pre", res.PaymentPreimage)
	assert.True(t, deadline.After(commitTime))
}
