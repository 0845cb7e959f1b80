package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/sparkswap-broker/pkg/blockorder"
	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/engine/enginetest"
	"github.com/uhyunpark/sparkswap-broker/pkg/interchain"
	"github.com/uhyunpark/sparkswap-broker/pkg/relayer"
	"github.com/uhyunpark/sparkswap-broker/pkg/relayer/relayertest"
	sm "github.com/uhyunpark/sparkswap-broker/pkg/statemachine"
	"github.com/uhyunpark/sparkswap-broker/pkg/storage"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

type preimageFunc func(ctx context.Context, req interchain.PreimageRequest) (engine.PaymentResult, error)

func (f preimageFunc) GetPreimage(ctx context.Context, req interchain.PreimageRequest) (engine.PaymentResult, error) {
	return f(ctx, req)
}

func newTestServer(t *testing.T, preimages PreimageService) (*Server, *relayertest.Relayer) {
	t.Helper()
	store, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rel := relayertest.New()
	// keep new orders in created so responses are deterministic
	rel.PlaceOrderFunc = func(ctx context.Context, _ relayer.PlaceOrderRequest) (*relayer.Subscription[relayer.PlaceOrderUpdate], error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	rel.FillOrderFunc = func(ctx context.Context, _ relayer.FillOrderRequest) (relayer.FillOrderResponse, error) {
		<-ctx.Done()
		return relayer.FillOrderResponse{}, ctx.Err()
	}

	clock := util.FixedClock{T: time.Date(2019, 6, 27, 1, 10, 36, 0, time.UTC)}
	w := blockorder.NewWorker(blockorder.Config{
		Store:    store,
		Engines:  engine.NewRegistry(enginetest.New("BTC"), enginetest.New("LTC")),
		Relayer:  rel,
		Identity: &relayertest.Authorizer{},
		Router:   interchain.NewRouter(interchain.WithClock(clock)),
		Clock:    clock,
	})
	t.Cleanup(w.Close)

	return NewServer(Config{Broker: w, Preimages: preimages}), rel
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetPreimage(t *testing.T) {
	tests := []struct {
		name     string
		result   engine.PaymentResult
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "preimage",
			result:   engine.PaymentResult{PaymentPreimage: "X"},
			wantCode: http.StatusOK,
			wantBody: `{"paymentPreimage":"X"}`,
		},
		{
			name:     "refused",
			result:   engine.PaymentResult{PermanentError: "No routing entry available for h1"},
			wantCode: http.StatusOK,
			wantBody: `{"permanentError":"No routing entry available for h1"}`,
		},
		{
			name:     "invalid",
			err:      fmt.Errorf("%w: amount is required", interchain.ErrInvalidRequest),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "transient",
			err:      fmt.Errorf("engine unreachable"),
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got interchain.PreimageRequest
			s, _ := newTestServer(t, preimageFunc(func(_ context.Context, req interchain.PreimageRequest) (engine.PaymentResult, error) {
				got = req
				return tt.result, tt.err
			}))

			req := interchain.PreimageRequest{PaymentHash: "h1", Amount: "500", Symbol: "BTC", TimeLock: "400", BestHeight: "100"}
			rec := do(t, s, http.MethodPost, "/api/v1/preimage", req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, req, got)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestGetPreimageBadBody(t *testing.T) {
	s, _ := newTestServer(t, preimageFunc(func(context.Context, interchain.PreimageRequest) (engine.PaymentResult, error) {
		t.Fatal("handler must not be called")
		return engine.PaymentResult{}, nil
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/preimage", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockOrderNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/v1/blockorders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "block order not found", resp.Error)
}

func TestCreateOrderAndGet(t *testing.T) {
	s, rel := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/blockorders/bo1/orders", CreateOrderRequest{
		Side:          "bid",
		BaseSymbol:    "BTC",
		CounterSymbol: "LTC",
		BaseAmount:    "100000",
		CounterAmount: "1000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created CreateOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, CreateOrderResponse{BlockOrderID: "bo1", OrderID: "order-1", State: "created"}, created)
	assert.Equal(t, 1, rel.Calls("CreateOrder"))

	rec = do(t, s, http.MethodGet, "/api/v1/blockorders/bo1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var bo struct {
		BlockOrderID         string           `json:"blockOrderId"`
		Orders               []map[string]any `json:"orders"`
		ActiveOutboundAmount string           `json:"activeOutboundAmount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bo))
	assert.Equal(t, "bo1", bo.BlockOrderID)
	require.Len(t, bo.Orders, 1)
	assert.Equal(t, "order-1", bo.Orders[0]["orderId"])
	assert.Equal(t, "1000", bo.ActiveOutboundAmount)
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateOrderRequest
	}{
		{"bad side", CreateOrderRequest{Side: "SELL", BaseSymbol: "BTC", CounterSymbol: "LTC", BaseAmount: "1", CounterAmount: "1"}},
		{"fractional amount", CreateOrderRequest{Side: "BID", BaseSymbol: "BTC", CounterSymbol: "LTC", BaseAmount: "1.5", CounterAmount: "1"}},
		{"zero amount", CreateOrderRequest{Side: "ASK", BaseSymbol: "BTC", CounterSymbol: "LTC", BaseAmount: "0", CounterAmount: "1"}},
		{"missing symbol", CreateOrderRequest{Side: "ASK", BaseSymbol: "BTC", BaseAmount: "1", CounterAmount: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rel := newTestServer(t, nil)
			rec := do(t, s, http.MethodPost, "/api/v1/blockorders/bo1/orders", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, rel.Calls("CreateOrder"))
		})
	}
}

func TestCreateOrderRelayerFailure(t *testing.T) {
	s, rel := newTestServer(t, nil)
	rel.CreateOrderFunc = func(context.Context, relayer.CreateOrderRequest) (relayer.CreateOrderResponse, error) {
		return relayer.CreateOrderResponse{}, fmt.Errorf("relayer down")
	}

	rec := do(t, s, http.MethodPost, "/api/v1/blockorders/bo1/orders", CreateOrderRequest{
		Side: "ASK", BaseSymbol: "BTC", CounterSymbol: "LTC", BaseAmount: "10", CounterAmount: "1",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/blockorders/bo1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateFill(t *testing.T) {
	s, rel := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/blockorders/bo2/fills", CreateFillRequest{
		Order: FillOrderParams{
			OrderID:       "maker-1",
			Side:          "ASK",
			BaseSymbol:    "BTC",
			CounterSymbol: "LTC",
			BaseAmount:    "20000",
			CounterAmount: "300",
		},
		FillAmount: "10000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created CreateFillResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, CreateFillResponse{BlockOrderID: "bo2", FillID: "fill-1", State: "created"}, created)
	assert.Equal(t, 1, rel.Calls("CreateFill"))

	rec = do(t, s, http.MethodPost, "/api/v1/blockorders/bo2/fills", CreateFillRequest{
		Order:      FillOrderParams{Side: "ASK", BaseSymbol: "BTC", CounterSymbol: "LTC", BaseAmount: "1", CounterAmount: "1"},
		FillAmount: "1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	s := NewServer(Config{AllowedOrigins: []string{"https://broker.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/preimage", nil)
	req.Header.Set("Origin", "https://broker.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://broker.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStateUpdates(t *testing.T) {
	s := NewServer(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"orders"}}))
	require.Eventually(t, func() bool { return s.Hub().Subscribers("orders") == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, s.Hub().Subscribers("fills"))

	// not subscribed
	s.Hub().Publish(sm.Snapshot{Kind: "fill", Key: "bo1:fill-1", State: "filled"})
	s.Hub().Publish(sm.Snapshot{Kind: "order", Key: "bo1:order-1", State: "rejected", Error: "boom"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update StateUpdate
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, StateUpdate{Type: "order", Key: "bo1:order-1", State: "rejected", Error: "boom"}, update)

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "unsubscribe", Channels: []string{"orders"}}))
	require.Eventually(t, func() bool { return s.Hub().Subscribers("orders") == 0 }, 2*time.Second, 5*time.Millisecond)
}
