// Package relayer is the broker's view of the central order-matching relayer:
// its RPCs, its notification streams and the identity that signs requests.
package relayer

import "context"

// Client is the set of relayer RPCs the state machines depend on.
type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Subscription[PlaceOrderUpdate], error)
	CancelOrder(ctx context.Context, req CancelOrderRequest) error
	ExecuteOrder(ctx context.Context, req ExecuteOrderRequest) error
	CompleteOrder(ctx context.Context, req CompleteOrderRequest) error

	CreateFill(ctx context.Context, req CreateFillRequest) (CreateFillResponse, error)
	FillOrder(ctx context.Context, req FillOrderRequest) (FillOrderResponse, error)
	SubscribeExecute(ctx context.Context, req SubscribeExecuteRequest) (*Subscription[ExecuteUpdate], error)
}

// Authorizer produces the signed authorization attached to mutating calls.
type Authorizer interface {
	Authorize(id string) (Authorization, error)
}
