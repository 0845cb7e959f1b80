package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FillOrder is the reduced copy of the matched maker order a fill carries.
type FillOrder struct {
	OrderID       string          `json:"orderId"`
	BaseSymbol    string          `json:"baseSymbol"`
	CounterSymbol string          `json:"counterSymbol"`
	Side          Side            `json:"side"`
	BaseAmount    decimal.Decimal `json:"baseAmount"`
	CounterAmount decimal.Decimal `json:"counterAmount"`
}

// Fill is the taker side of a trade against one relayer order. Its inbound
// and outbound legs mirror the maker's.
type Fill struct {
	BlockOrderID string          `json:"-"`
	Order        FillOrder       `json:"order"`
	FillAmount   decimal.Decimal `json:"fillAmount"`

	FillID                string `json:"fillId,omitempty"`
	FeePaymentRequest     string `json:"feePaymentRequest,omitempty"`
	FeeRequired           bool   `json:"feeRequired,omitempty"`
	DepositPaymentRequest string `json:"depositPaymentRequest,omitempty"`
	DepositRequired       bool   `json:"depositRequired,omitempty"`

	SwapHash            string `json:"swapHash,omitempty"`
	TakerBaseAddress    string `json:"takerBaseAddress,omitempty"`
	TakerCounterAddress string `json:"takerCounterAddress,omitempty"`
	MakerAddress        string `json:"makerAddress,omitempty"`
}

func NewFill(blockOrderID string, order FillOrder, fillAmount decimal.Decimal) (*Fill, error) {
	if order.OrderID == "" {
		return nil, errors.New("fill requires an order id")
	}
	if order.Side != SideBid && order.Side != SideAsk {
		return nil, fmt.Errorf("invalid side %q", order.Side)
	}
	if !order.BaseAmount.IsPositive() || !order.CounterAmount.IsPositive() {
		return nil, errors.New("order amounts must be positive")
	}
	if !fillAmount.IsPositive() || fillAmount.GreaterThan(order.BaseAmount) {
		return nil, fmt.Errorf("fill amount %s is outside (0, %s]", fillAmount, order.BaseAmount)
	}
	return &Fill{BlockOrderID: blockOrderID, Order: order, FillAmount: fillAmount}, nil
}

// Key is "blockOrderId:fillId", or empty until the relayer assigns an ID.
func (f *Fill) Key() string {
	if f.BlockOrderID == "" || f.FillID == "" {
		return ""
	}
	return f.BlockOrderID + ":" + f.FillID
}

func (f *Fill) PlaceholderKey(id string) string {
	return f.BlockOrderID + ":" + PlaceholderPrefix + id
}

// FillFromObject rebuilds a fill from its storage key and value object.
func FillFromObject(key string, value json.RawMessage) (*Fill, error) {
	blockOrderID, fillID, ok := strings.Cut(key, ":")
	if !ok {
		return nil, fmt.Errorf("malformed fill key %q", key)
	}
	var f Fill
	if err := json.Unmarshal(value, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fill %s: %w", key, err)
	}
	f.BlockOrderID = blockOrderID
	if f.FillID == "" && !strings.HasPrefix(fillID, PlaceholderPrefix) {
		f.FillID = fillID
	}
	return &f, nil
}

func (f *Fill) CounterFillAmount() decimal.Decimal {
	return counterFillAmount(f.Order.BaseAmount, f.Order.CounterAmount, f.FillAmount)
}

func (f *Fill) InboundSymbol() string {
	if f.Order.Side == SideBid {
		return f.Order.CounterSymbol
	}
	return f.Order.BaseSymbol
}

func (f *Fill) OutboundSymbol() string {
	if f.Order.Side == SideBid {
		return f.Order.BaseSymbol
	}
	return f.Order.CounterSymbol
}

func (f *Fill) InboundAmount() decimal.Decimal {
	if f.Order.Side == SideBid {
		return f.CounterFillAmount()
	}
	return f.FillAmount
}

func (f *Fill) OutboundAmount() decimal.Decimal {
	if f.Order.Side == SideBid {
		return f.FillAmount
	}
	return f.CounterFillAmount()
}

func (f *Fill) SetCreatedParams(p CreatedParams) {
	f.FillID = p.ID
	f.FeePaymentRequest = p.FeePaymentRequest
	f.FeeRequired = p.FeeRequired
	f.DepositPaymentRequest = p.DepositPaymentRequest
	f.DepositRequired = p.DepositRequired
}

func (f *Fill) SetSwapHash(hash string) { f.SwapHash = hash }

func (f *Fill) SetExecuteParams(makerAddress string) error {
	if makerAddress == "" {
		return errors.New("execution is missing a maker address")
	}
	f.MakerAddress = makerAddress
	return nil
}
