package api

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Types
// ==============================

// CreateOrderRequest asks the broker to place a maker order. Amounts are
// integer strings in each currency's smallest unit.
type CreateOrderRequest struct {
	Side          string `json:"side"` // "BID" or "ASK"
	BaseSymbol    string `json:"baseSymbol"`
	CounterSymbol string `json:"counterSymbol"`
	BaseAmount    string `json:"baseAmount"`
	CounterAmount string `json:"counterAmount"`
}

type CreateOrderResponse struct {
	BlockOrderID string `json:"blockOrderId"`
	OrderID      string `json:"orderId"`
	State        string `json:"state"`
}

// FillOrderParams identifies the maker order a fill is taken against.
type FillOrderParams struct {
	OrderID       string `json:"orderId"`
	Side          string `json:"side"`
	BaseSymbol    string `json:"baseSymbol"`
	CounterSymbol string `json:"counterSymbol"`
	BaseAmount    string `json:"baseAmount"`
	CounterAmount string `json:"counterAmount"`
}

type CreateFillRequest struct {
	Order      FillOrderParams `json:"order"`
	FillAmount string          `json:"fillAmount"`
}

type CreateFillResponse struct {
	BlockOrderID string `json:"blockOrderId"`
	FillID       string `json:"fillId"`
	State        string `json:"state"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest is sent by clients to manage subscriptions
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "orders", "fills"
}

// StateUpdate is pushed on every order or fill state change
type StateUpdate struct {
	Type  string `json:"type"` // "order" or "fill"
	Key   string `json:"key"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}
