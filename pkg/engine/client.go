package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Client talks to a remote engine daemon over its JSON endpoints:
// POST <url>/v1/<method> with a JSON body, answered by an envelope
// {"result": ..., "error": "...", "code": "PERMANENT"|"SETTLED"}.
type Client struct {
	symbol          string
	baseURL         string
	secondsPerBlock int64
	http            *resty.Client
}

func NewClient(symbol, baseURL string, secondsPerBlock int64) *Client {
	return &Client{
		symbol:          symbol,
		baseURL:         strings.TrimRight(baseURL, "/"),
		secondsPerBlock: secondsPerBlock,
		http:            resty.New().SetTimeout(60 * time.Second),
	}
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Code   string          `json:"code"`
}

const (
	codePermanent = "PERMANENT"
	codeSettled   = "SETTLED"
)

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&env).
		SetError(&env).
		ForceContentType("application/json").
		Post(c.baseURL + "/v1/" + method)
	if err != nil {
		if resp == nil || resp.RawResponse == nil {
			return fmt.Errorf("%s engine %s: %w", c.symbol, method, err)
		}
		return fmt.Errorf("%s engine %s: status %d: %w", c.symbol, method, resp.StatusCode(), err)
	}
	if env.Error != "" {
		switch env.Code {
		case codePermanent:
			return &PermanentError{Message: env.Error}
		case codeSettled:
			return &SettledSwapError{}
		}
		return fmt.Errorf("%s engine %s: %s", c.symbol, method, env.Error)
	}
	if resp.IsError() {
		return fmt.Errorf("%s engine %s: status %d", c.symbol, method, resp.StatusCode())
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

func (c *Client) Symbol() string         { return c.symbol }
func (c *Client) SecondsPerBlock() int64 { return c.secondsPerBlock }

func (c *Client) GetPublicKey(ctx context.Context) (string, error) {
	var out string
	err := c.call(ctx, "getPublicKey", struct{}{}, &out)
	return out, err
}

func (c *Client) GetPaymentChannelNetworkAddress(ctx context.Context) (string, error) {
	var out string
	err := c.call(ctx, "getPaymentChannelNetworkAddress", struct{}{}, &out)
	return out, err
}

func (c *Client) CreateRefundInvoice(ctx context.Context, paymentRequest string) (string, error) {
	var out string
	err := c.call(ctx, "createRefundInvoice", map[string]string{"paymentRequest": paymentRequest}, &out)
	return out, err
}

func (c *Client) PayInvoice(ctx context.Context, paymentRequest string) error {
	return c.call(ctx, "payInvoice", map[string]string{"paymentRequest": paymentRequest}, nil)
}

func (c *Client) CreateSwapHash(ctx context.Context, orderID string, amount decimal.Decimal) (string, error) {
	var out string
	err := c.call(ctx, "createSwapHash", map[string]string{"orderId": orderID, "amount": amount.String()}, &out)
	return out, err
}

func (c *Client) ExecuteSwap(ctx context.Context, counterpartyAddress, hash string, amount decimal.Decimal) error {
	return c.call(ctx, "executeSwap", map[string]string{
		"address": counterpartyAddress,
		"hash":    hash,
		"amount":  amount.String(),
	}, nil)
}

func (c *Client) PrepareSwap(ctx context.Context, hash string, amount decimal.Decimal, maxTimeLock time.Duration, timeout time.Time) error {
	return c.call(ctx, "prepareSwap", map[string]any{
		"hash":               hash,
		"amount":             amount.String(),
		"maxTimeLockSeconds": int64(maxTimeLock / time.Second),
		"timeout":            timeout.UTC().Format(time.RFC3339),
	}, nil)
}

func (c *Client) WaitForSwapCommitment(ctx context.Context, hash string) (time.Time, error) {
	var out time.Time
	err := c.call(ctx, "waitForSwapCommitment", map[string]string{"hash": hash}, &out)
	var settled *SettledSwapError
	if errors.As(err, &settled) {
		settled.Hash = hash
	}
	return out, err
}

func (c *Client) TranslateSwap(ctx context.Context, address, hash string, amount decimal.Decimal, deadline time.Time) (PaymentResult, error) {
	var out PaymentResult
	err := c.call(ctx, "translateSwap", map[string]string{
		"address":  address,
		"hash":     hash,
		"amount":   amount.String(),
		"deadline": deadline.UTC().Format(time.RFC3339),
	}, &out)
	return out, err
}

func (c *Client) IsPaymentPendingOrComplete(ctx context.Context, hash string) (bool, error) {
	var out bool
	err := c.call(ctx, "isPaymentPendingOrComplete", map[string]string{"hash": hash}, &out)
	return out, err
}

func (c *Client) GetPaymentPreimage(ctx context.Context, hash string) (PaymentResult, error) {
	var out PaymentResult
	err := c.call(ctx, "getPaymentPreimage", map[string]string{"hash": hash}, &out)
	return out, err
}

func (c *Client) GetSettledSwapPreimage(ctx context.Context, hash string) (string, error) {
	var out string
	err := c.call(ctx, "getSettledSwapPreimage", map[string]string{"hash": hash}, &out)
	return out, err
}

func (c *Client) SettleSwap(ctx context.Context, preimage string) error {
	return c.call(ctx, "settleSwap", map[string]string{"preimage": preimage}, nil)
}

func (c *Client) CancelSwap(ctx context.Context, hash string) error {
	return c.call(ctx, "cancelSwap", map[string]string{"hash": hash}, nil)
}

var _ Engine = (*Client)(nil)
