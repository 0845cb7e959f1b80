// Package relayertest provides a configurable in-memory relayer for tests.
package relayertest

import (
	"context"
	"sync"

	"github.com/uhyunpark/sparkswap-broker/pkg/relayer"
)

// Relayer is a fake relayer client. Unset funcs succeed with zero values,
// except the streams, which return subscriptions the test can drive through
// PlaceSubs and ExecuteSubs.
type Relayer struct {
	CreateOrderFunc      func(ctx context.Context, req relayer.CreateOrderRequest) (relayer.CreateOrderResponse, error)
	PlaceOrderFunc       func(ctx context.Context, req relayer.PlaceOrderRequest) (*relayer.Subscription[relayer.PlaceOrderUpdate], error)
	CancelOrderFunc      func(ctx context.Context, req relayer.CancelOrderRequest) error
	ExecuteOrderFunc     func(ctx context.Context, req relayer.ExecuteOrderRequest) error
	CompleteOrderFunc    func(ctx context.Context, req relayer.CompleteOrderRequest) error
	CreateFillFunc       func(ctx context.Context, req relayer.CreateFillRequest) (relayer.CreateFillResponse, error)
	FillOrderFunc        func(ctx context.Context, req relayer.FillOrderRequest) (relayer.FillOrderResponse, error)
	SubscribeExecuteFunc func(ctx context.Context, req relayer.SubscribeExecuteRequest) (*relayer.Subscription[relayer.ExecuteUpdate], error)

	// Streams opened by the default PlaceOrder and SubscribeExecute.
	PlaceSubs   chan *relayer.Subscription[relayer.PlaceOrderUpdate]
	ExecuteSubs chan *relayer.Subscription[relayer.ExecuteUpdate]

	mu            sync.Mutex
	calls         map[string]int
	streamsClosed int
}

func New() *Relayer {
	return &Relayer{
		PlaceSubs:   make(chan *relayer.Subscription[relayer.PlaceOrderUpdate], 8),
		ExecuteSubs: make(chan *relayer.Subscription[relayer.ExecuteUpdate], 8),
	}
}

func (r *Relayer) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[name]++
}

func (r *Relayer) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *Relayer) StreamsClosed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamsClosed
}

func (r *Relayer) closed() {
	r.mu.Lock()
	r.streamsClosed++
	r.mu.Unlock()
}

func (r *Relayer) CreateOrder(ctx context.Context, req relayer.CreateOrderRequest) (relayer.CreateOrderResponse, error) {
	r.record("CreateOrder")
	if r.CreateOrderFunc != nil {
		return r.CreateOrderFunc(ctx, req)
	}
	return relayer.CreateOrderResponse{OrderID: "order-1"}, nil
}

func (r *Relayer) PlaceOrder(ctx context.Context, req relayer.PlaceOrderRequest) (*relayer.Subscription[relayer.PlaceOrderUpdate], error) {
	r.record("PlaceOrder")
	if r.PlaceOrderFunc != nil {
		return r.PlaceOrderFunc(ctx, req)
	}
	sub := relayer.NewSubscription[relayer.PlaceOrderUpdate](r.closed)
	r.PlaceSubs <- sub
	return sub, nil
}

func (r *Relayer) CancelOrder(ctx context.Context, req relayer.CancelOrderRequest) error {
	r.record("CancelOrder")
	if r.CancelOrderFunc != nil {
		return r.CancelOrderFunc(ctx, req)
	}
	return nil
}

func (r *Relayer) ExecuteOrder(ctx context.Context, req relayer.ExecuteOrderRequest) error {
	r.record("ExecuteOrder")
	if r.ExecuteOrderFunc != nil {
		return r.ExecuteOrderFunc(ctx, req)
	}
	return nil
}

func (r *Relayer) CompleteOrder(ctx context.Context, req relayer.CompleteOrderRequest) error {
	r.record("CompleteOrder")
	if r.CompleteOrderFunc != nil {
		return r.CompleteOrderFunc(ctx, req)
	}
	return nil
}

func (r *Relayer) CreateFill(ctx context.Context, req relayer.CreateFillRequest) (relayer.CreateFillResponse, error) {
	r.record("CreateFill")
	if r.CreateFillFunc != nil {
		return r.CreateFillFunc(ctx, req)
	}
	return relayer.CreateFillResponse{FillID: "fill-1"}, nil
}

func (r *Relayer) FillOrder(ctx context.Context, req relayer.FillOrderRequest) (relayer.FillOrderResponse, error) {
	r.record("FillOrder")
	if r.FillOrderFunc != nil {
		return r.FillOrderFunc(ctx, req)
	}
	return relayer.FillOrderResponse{}, nil
}

func (r *Relayer) SubscribeExecute(ctx context.Context, req relayer.SubscribeExecuteRequest) (*relayer.Subscription[relayer.ExecuteUpdate], error) {
	r.record("SubscribeExecute")
	if r.SubscribeExecuteFunc != nil {
		return r.SubscribeExecuteFunc(ctx, req)
	}
	sub := relayer.NewSubscription[relayer.ExecuteUpdate](r.closed)
	r.ExecuteSubs <- sub
	return sub, nil
}

// Authorizer is a no-op Authorizer recording the ids it was asked to sign.
type Authorizer struct {
	mu  sync.Mutex
	IDs []string
}

func (a *Authorizer) Authorize(id string) (relayer.Authorization, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.IDs = append(a.IDs, id)
	return relayer.Authorization{PublicKey: "test", Nonce: "n", Timestamp: "0", Signature: "sig-" + id}, nil
}

var _ relayer.Client = (*Relayer)(nil)
var _ relayer.Authorizer = (*Authorizer)(nil)
