package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Order is the maker side of a trade as registered on the relayer.
type Order struct {
	BlockOrderID        string          `json:"-"`
	BaseSymbol          string          `json:"baseSymbol"`
	CounterSymbol       string          `json:"counterSymbol"`
	Side                Side            `json:"side"`
	BaseAmount          decimal.Decimal `json:"baseAmount"`
	CounterAmount       decimal.Decimal `json:"counterAmount"`
	MakerBaseAddress    string          `json:"makerBaseAddress,omitempty"`
	MakerCounterAddress string          `json:"makerCounterAddress,omitempty"`

	OrderID               string `json:"orderId,omitempty"`
	FeePaymentRequest     string `json:"feePaymentRequest,omitempty"`
	FeeRequired           bool   `json:"feeRequired,omitempty"`
	DepositPaymentRequest string `json:"depositPaymentRequest,omitempty"`
	DepositRequired       bool   `json:"depositRequired,omitempty"`

	SwapHash     string          `json:"swapHash,omitempty"`
	FillAmount   decimal.Decimal `json:"fillAmount"`
	TakerAddress string          `json:"takerAddress,omitempty"`

	SwapPreimage string `json:"swapPreimage,omitempty"`
}

// OrderParams are the caller-supplied fields of a new order.
type OrderParams struct {
	Side          Side            `json:"side"`
	BaseSymbol    string          `json:"baseSymbol"`
	CounterSymbol string          `json:"counterSymbol"`
	BaseAmount    decimal.Decimal `json:"baseAmount"`
	CounterAmount decimal.Decimal `json:"counterAmount"`
}

func (p OrderParams) Validate() error {
	if p.Side != SideBid && p.Side != SideAsk {
		return fmt.Errorf("invalid side %q", p.Side)
	}
	if p.BaseSymbol == "" || p.CounterSymbol == "" {
		return errors.New("base and counter symbols are required")
	}
	if !p.BaseAmount.IsPositive() || !p.CounterAmount.IsPositive() {
		return errors.New("base and counter amounts must be positive")
	}
	return nil
}

func NewOrder(blockOrderID string, p OrderParams) (*Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Order{
		BlockOrderID:  blockOrderID,
		BaseSymbol:    p.BaseSymbol,
		CounterSymbol: p.CounterSymbol,
		Side:          p.Side,
		BaseAmount:    p.BaseAmount,
		CounterAmount: p.CounterAmount,
	}, nil
}

// Key is "blockOrderId:orderId", or empty until the relayer assigns an ID.
func (o *Order) Key() string {
	if o.BlockOrderID == "" || o.OrderID == "" {
		return ""
	}
	return o.BlockOrderID + ":" + o.OrderID
}

// PlaceholderKey is the key a rejected order is stored under when the relayer
// never assigned it an ID.
func (o *Order) PlaceholderKey(id string) string {
	return o.BlockOrderID + ":" + PlaceholderPrefix + id
}

// OrderFromObject rebuilds an order from its storage key and value object.
func OrderFromObject(key string, value json.RawMessage) (*Order, error) {
	blockOrderID, orderID, ok := strings.Cut(key, ":")
	if !ok {
		return nil, fmt.Errorf("malformed order key %q", key)
	}
	var o Order
	if err := json.Unmarshal(value, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", key, err)
	}
	o.BlockOrderID = blockOrderID
	if o.OrderID == "" && !strings.HasPrefix(orderID, PlaceholderPrefix) {
		o.OrderID = orderID
	}
	return &o, nil
}

func (o *Order) InboundSymbol() string {
	if o.Side == SideBid {
		return o.BaseSymbol
	}
	return o.CounterSymbol
}

func (o *Order) OutboundSymbol() string {
	if o.Side == SideBid {
		return o.CounterSymbol
	}
	return o.BaseSymbol
}

func (o *Order) InboundAmount() decimal.Decimal {
	if o.Side == SideBid {
		return o.BaseAmount
	}
	return o.CounterAmount
}

func (o *Order) OutboundAmount() decimal.Decimal {
	if o.Side == SideBid {
		return o.CounterAmount
	}
	return o.BaseAmount
}

func (o *Order) CounterFillAmount() decimal.Decimal {
	return counterFillAmount(o.BaseAmount, o.CounterAmount, o.FillAmount)
}

func (o *Order) InboundFillAmount() decimal.Decimal {
	if o.Side == SideBid {
		return o.FillAmount
	}
	return o.CounterFillAmount()
}

func (o *Order) OutboundFillAmount() decimal.Decimal {
	if o.Side == SideBid {
		return o.CounterFillAmount()
	}
	return o.FillAmount
}

// CreatedParams are what the relayer returns from order creation.
type CreatedParams struct {
	ID                    string
	FeePaymentRequest     string
	FeeRequired           bool
	DepositPaymentRequest string
	DepositRequired       bool
}

func (o *Order) SetCreatedParams(p CreatedParams) {
	o.OrderID = p.ID
	o.FeePaymentRequest = p.FeePaymentRequest
	o.FeeRequired = p.FeeRequired
	o.DepositPaymentRequest = p.DepositPaymentRequest
	o.DepositRequired = p.DepositRequired
}

func (o *Order) SetFilledParams(swapHash string, fillAmount decimal.Decimal, takerAddress string) error {
	if swapHash == "" {
		return errors.New("fill is missing a swap hash")
	}
	if !fillAmount.IsPositive() || fillAmount.GreaterThan(o.BaseAmount) {
		return fmt.Errorf("fill amount %s is outside (0, %s]", fillAmount, o.BaseAmount)
	}
	o.SwapHash = swapHash
	o.FillAmount = fillAmount
	o.TakerAddress = takerAddress
	return nil
}

func (o *Order) SetSettledParams(swapPreimage string) {
	o.SwapPreimage = swapPreimage
}
