package relayer

// Error codes the relayer reports inside a fillError.
const (
	CodeOrderNotPlaced = "ORDER_NOT_PLACED"
)

// Order statuses carried on the place order stream.
const (
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusFailed    = "FAILED"
)

// FillError is a relayer-side refusal of a fill. Its Error is the bare code
// so that callers can match on it after the message has been persisted.
type FillError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FillError) Error() string { return e.Code }

type CreateOrderRequest struct {
	BaseSymbol          string `json:"baseSymbol"`
	CounterSymbol       string `json:"counterSymbol"`
	Side                string `json:"side"`
	BaseAmount          string `json:"baseAmount"`
	CounterAmount       string `json:"counterAmount"`
	MakerBaseAddress    string `json:"makerBaseAddress"`
	MakerCounterAddress string `json:"makerCounterAddress"`
}

type CreateOrderResponse struct {
	OrderID               string `json:"orderId"`
	FeePaymentRequest     string `json:"feePaymentRequest"`
	FeeRequired           bool   `json:"feeRequired"`
	DepositPaymentRequest string `json:"depositPaymentRequest"`
	DepositRequired       bool   `json:"depositRequired"`
}

type PlaceOrderRequest struct {
	OrderID                     string        `json:"orderId"`
	OutboundSymbol              string        `json:"outboundSymbol"`
	FeeRefundPaymentRequest     string        `json:"feeRefundPaymentRequest,omitempty"`
	DepositRefundPaymentRequest string        `json:"depositRefundPaymentRequest,omitempty"`
	Authorization               Authorization `json:"authorization"`
}

// OrderFill describes the taker's side once an order is matched.
type OrderFill struct {
	SwapHash     string `json:"swapHash"`
	FillAmount   string `json:"fillAmount"`
	TakerAddress string `json:"takerAddress"`
}

type PlaceOrderUpdate struct {
	OrderStatus string     `json:"orderStatus"`
	Fill        *OrderFill `json:"fill,omitempty"`
}

type CancelOrderRequest struct {
	OrderID       string        `json:"orderId"`
	Authorization Authorization `json:"authorization"`
}

type ExecuteOrderRequest struct {
	OrderID       string        `json:"orderId"`
	Authorization Authorization `json:"authorization"`
}

type CompleteOrderRequest struct {
	OrderID       string        `json:"orderId"`
	SwapPreimage  string        `json:"swapPreimage"`
	Authorization Authorization `json:"authorization"`
}

type CreateFillRequest struct {
	OrderID             string        `json:"orderId"`
	SwapHash            string        `json:"swapHash"`
	FillAmount          string        `json:"fillAmount"`
	TakerBaseAddress    string        `json:"takerBaseAddress"`
	TakerCounterAddress string        `json:"takerCounterAddress"`
	Authorization       Authorization `json:"authorization"`
}

type CreateFillResponse struct {
	FillID                string     `json:"fillId"`
	FeePaymentRequest     string     `json:"feePaymentRequest"`
	FeeRequired           bool       `json:"feeRequired"`
	DepositPaymentRequest string     `json:"depositPaymentRequest"`
	DepositRequired       bool       `json:"depositRequired"`
	FillError             *FillError `json:"fillError,omitempty"`
}

type FillOrderRequest struct {
	FillID                      string        `json:"fillId"`
	FeeRefundPaymentRequest     string        `json:"feeRefundPaymentRequest,omitempty"`
	DepositRefundPaymentRequest string        `json:"depositRefundPaymentRequest,omitempty"`
	Authorization               Authorization `json:"authorization"`
}

type FillOrderResponse struct {
	FillError *FillError `json:"fillError,omitempty"`
}

type SubscribeExecuteRequest struct {
	FillID        string        `json:"fillId"`
	Authorization Authorization `json:"authorization"`
}

type ExecuteUpdate struct {
	MakerAddress string `json:"makerAddress"`
}
