package relayer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelayer struct {
	router   *mux.Router
	upgrader websocket.Upgrader
	placed   chan PlaceOrderRequest
}

// newFakeRelayer serves the unary calls and a place order stream that sends
// the given frames and then closes normally.
func newFakeRelayer(t *testing.T, frames ...streamMessage) (*RemoteClient, *fakeRelayer) {
	t.Helper()
	f := &fakeRelayer{router: mux.NewRouter(), placed: make(chan PlaceOrderRequest, 1)}

	f.router.HandleFunc("/v1/maker/createOrder", func(w http.ResponseWriter, r *http.Request) {
		var req CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BaseSymbol == "XMR" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(errorResponse{Error: "invalid market", Message: "XMR/LTC"})
			return
		}
		json.NewEncoder(w).Encode(CreateOrderResponse{OrderID: "order-1", FeeRequired: true, FeePaymentRequest: "fee"})
	}).Methods("POST")

	f.router.HandleFunc("/v1/taker/fillOrder", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(FillOrderResponse{FillError: &FillError{Code: CodeOrderNotPlaced}})
	}).Methods("POST")

	f.router.HandleFunc("/v1/maker/placeOrder", func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req PlaceOrderRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.placed <- req
		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		// wait for the client to hang up
		conn.ReadMessage()
	})

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)
	return NewRemoteClient(srv.URL, "ws"+strings.TrimPrefix(srv.URL, "http"), nil), f
}

func TestRemoteClientUnary(t *testing.T) {
	c, _ := newFakeRelayer(t)

	resp, err := c.CreateOrder(context.Background(), CreateOrderRequest{BaseSymbol: "BTC", CounterSymbol: "LTC"})
	require.NoError(t, err)
	assert.Equal(t, CreateOrderResponse{OrderID: "order-1", FeeRequired: true, FeePaymentRequest: "fee"}, resp)

	_, err = c.CreateOrder(context.Background(), CreateOrderRequest{BaseSymbol: "XMR", CounterSymbol: "LTC"})
	assert.EqualError(t, err, "relayer maker/createOrder: invalid market: XMR/LTC")

	fill, err := c.FillOrder(context.Background(), FillOrderRequest{FillID: "fill-1"})
	require.NoError(t, err)
	require.NotNil(t, fill.FillError)
	assert.Equal(t, CodeOrderNotPlaced, fill.FillError.Code)

	err = c.CancelOrder(context.Background(), CancelOrderRequest{OrderID: "order-1"})
	assert.ErrorContains(t, err, "status 404")
}

func TestRemoteClientStream(t *testing.T) {
	update, err := json.Marshal(PlaceOrderUpdate{
		OrderStatus: OrderStatusFilled,
		Fill:        &OrderFill{SwapHash: "h1", FillAmount: "500", TakerAddress: "taker"},
	})
	require.NoError(t, err)
	// an empty keepalive frame precedes the data
	c, f := newFakeRelayer(t, streamMessage{}, streamMessage{Data: update})

	sub, err := c.PlaceOrder(context.Background(), PlaceOrderRequest{OrderID: "order-1", OutboundSymbol: "BTC"})
	require.NoError(t, err)
	assert.Equal(t, "order-1", (<-f.placed).OrderID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, got.OrderStatus)
	require.NotNil(t, got.Fill)
	assert.Equal(t, "h1", got.Fill.SwapHash)
}

func TestRemoteClientStreamOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		frames  []streamMessage
		wantErr string
	}{
		{"error frame", []streamMessage{{Error: "order not found"}}, "order not found"},
		{"closed without data", nil, ErrStreamEnded.Error()},
		{"malformed data", []streamMessage{{Data: json.RawMessage(`"nope"`)}}, "malformed frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f := newFakeRelayer(t, tt.frames...)
			sub, err := c.PlaceOrder(context.Background(), PlaceOrderRequest{OrderID: "order-1"})
			require.NoError(t, err)
			<-f.placed

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = sub.Wait(ctx)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRemoteClientStreamDialFailure(t *testing.T) {
	c := NewRemoteClient("http://127.0.0.1:1", "ws://127.0.0.1:1", nil)
	_, err := c.SubscribeExecute(context.Background(), SubscribeExecuteRequest{FillID: "fill-1"})
	assert.ErrorContains(t, err, "failed to open stream")
}
