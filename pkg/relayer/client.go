package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

// RemoteClient reaches the relayer over JSON/HTTP for unary calls and over
// websockets for the place order and execute notification streams.
type RemoteClient struct {
	httpURL string
	wsURL   string
	http    *resty.Client
	dialer  *websocket.Dialer
	logger  *zap.SugaredLogger
}

func NewRemoteClient(httpURL, wsURL string, logger *zap.SugaredLogger) *RemoteClient {
	return &RemoteClient{
		httpURL: strings.TrimRight(httpURL, "/"),
		wsURL:   strings.TrimRight(wsURL, "/"),
		http:    resty.New().SetTimeout(30 * time.Second),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  util.OrNop(logger),
	}
}

// streamMessage is one frame on a relayer stream.
type streamMessage struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *RemoteClient) post(ctx context.Context, path string, req, out any) error {
	var e errorResponse
	r := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetError(&e).
		ForceContentType("application/json")
	if out != nil {
		r.SetResult(out)
	}

	resp, err := r.Post(c.httpURL + "/v1/" + path)
	switch {
	case err != nil && (resp == nil || resp.RawResponse == nil):
		return fmt.Errorf("relayer %s: %w", path, err)
	case err != nil && resp.IsSuccess():
		return fmt.Errorf("relayer %s: failed to decode response: %w", path, err)
	case resp.StatusCode() >= 300:
		if e.Error != "" {
			return fmt.Errorf("relayer %s: %s: %s", path, e.Error, e.Message)
		}
		return fmt.Errorf("relayer %s: status %d", path, resp.StatusCode())
	case err != nil:
		return fmt.Errorf("relayer %s: %w", path, err)
	}
	return nil
}

// openStream dials path, sends req as the first frame and reads until the
// first data or error frame.
func openStream[T any](ctx context.Context, c *RemoteClient, path string, req any) (*Subscription[T], error) {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL+"/v1/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("relayer %s: failed to open stream: %w", path, err)
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relayer %s: failed to send request: %w", path, err)
	}

	sub := NewSubscription[T](func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})

	go func() {
		for {
			var msg streamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					sub.End()
				} else {
					sub.Fail(fmt.Errorf("relayer %s: %w", path, err))
				}
				return
			}
			if msg.Error != "" {
				sub.Fail(errors.New(msg.Error))
				return
			}
			if len(msg.Data) == 0 {
				continue
			}
			var data T
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				sub.Fail(fmt.Errorf("relayer %s: malformed frame: %w", path, err))
				return
			}
			sub.Deliver(data)
			return
		}
	}()

	c.logger.Debugw("relayer_stream_opened", "path", path)
	return sub, nil
}

func (c *RemoteClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error) {
	var out CreateOrderResponse
	err := c.post(ctx, "maker/createOrder", req, &out)
	return out, err
}

func (c *RemoteClient) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Subscription[PlaceOrderUpdate], error) {
	return openStream[PlaceOrderUpdate](ctx, c, "maker/placeOrder", req)
}

func (c *RemoteClient) CancelOrder(ctx context.Context, req CancelOrderRequest) error {
	return c.post(ctx, "maker/cancelOrder", req, nil)
}

func (c *RemoteClient) ExecuteOrder(ctx context.Context, req ExecuteOrderRequest) error {
	return c.post(ctx, "maker/executeOrder", req, nil)
}

func (c *RemoteClient) CompleteOrder(ctx context.Context, req CompleteOrderRequest) error {
	return c.post(ctx, "maker/completeOrder", req, nil)
}

func (c *RemoteClient) CreateFill(ctx context.Context, req CreateFillRequest) (CreateFillResponse, error) {
	var out CreateFillResponse
	err := c.post(ctx, "taker/createFill", req, &out)
	return out, err
}

func (c *RemoteClient) FillOrder(ctx context.Context, req FillOrderRequest) (FillOrderResponse, error) {
	var out FillOrderResponse
	err := c.post(ctx, "taker/fillOrder", req, &out)
	return out, err
}

func (c *RemoteClient) SubscribeExecute(ctx context.Context, req SubscribeExecuteRequest) (*Subscription[ExecuteUpdate], error) {
	return openStream[ExecuteUpdate](ctx, c, "taker/subscribeExecute", req)
}

var _ Client = (*RemoteClient)(nil)
