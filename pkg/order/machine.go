// Package order drives a maker order through the relayer: creation,
// fee and deposit payment, placement, execution of the matched swap and
// completion once the inbound leg settles.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/interchain"
	"github.com/uhyunpark/sparkswap-broker/pkg/models"
	"github.com/uhyunpark/sparkswap-broker/pkg/relayer"
	sm "github.com/uhyunpark/sparkswap-broker/pkg/statemachine"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

const kind = "order"

// DefaultExecuteTimeout bounds how long a prepared inbound swap waits for the
// taker's payment.
const DefaultExecuteTimeout = 24 * time.Hour

// SwapPreparer registers the inbound side of a matched order.
type SwapPreparer interface {
	PrepareSwap(ctx context.Context, hash string, inbound interchain.Payment, timeout time.Time) error
}

type Deps struct {
	Store          sm.Store
	Engines        engine.Registry
	Relayer        relayer.Client
	Identity       relayer.Authorizer
	Router         SwapPreparer
	Logger         *zap.SugaredLogger
	Clock          util.Clock
	ExecuteTimeout time.Duration
	OnChange       func(sm.Snapshot)
}

type Machine struct {
	*sm.Machine
	deps Deps

	mu    sync.RWMutex
	order *models.Order
	sub   *relayer.Subscription[relayer.PlaceOrderUpdate]
}

func newMachine(deps Deps, o *models.Order) *Machine {
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.ExecuteTimeout <= 0 {
		deps.ExecuteTimeout = DefaultExecuteTimeout
	}
	m := &Machine{deps: deps, order: o}
	m.Machine = sm.New(sm.Config{
		Kind:     kind,
		Store:    deps.Store,
		Logger:   deps.Logger,
		Clock:    deps.Clock,
		Terminal: terminal,
		OnChange: deps.OnChange,
	}, m)
	return m
}

// Create registers a new order with the relayer and persists it in created.
// Nothing is stored if any step fails. Placement starts in the background.
func Create(ctx context.Context, deps Deps, blockOrderID string, params models.OrderParams) (*Machine, error) {
	o, err := models.NewOrder(blockOrderID, params)
	if err != nil {
		return nil, err
	}
	m := newMachine(deps, o)
	if err := m.Do(ctx, createTransition{}); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// FromStore rebuilds a machine from a stored record without side effects.
func FromStore(deps Deps, key string, value []byte) (*Machine, error) {
	rec, err := sm.ParseRecord(kind, value)
	if err != nil {
		return nil, err
	}
	o, err := models.OrderFromObject(key, rec.Object)
	if err != nil {
		return nil, err
	}
	m := newMachine(deps, o)
	m.Restore(rec)
	return m, nil
}

// GetAll rebuilds every order in the store.
func GetAll(deps Deps) ([]*Machine, error) {
	var out []*Machine
	err := deps.Store.Range("", func(key string, value []byte) error {
		m, err := FromStore(deps, key, value)
		if err != nil {
			return fmt.Errorf("failed to load order %s: %w", key, err)
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		for _, m := range out {
			m.Close()
		}
		return nil, err
	}
	return out, nil
}

// Order returns a copy of the machine's order.
func (m *Machine) Order() models.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.order
}

func (m *Machine) Object() sm.Object { return m.order }

// TriggerState resumes a rehydrated order. An executing order is completed;
// an order that never matched is cancelled.
func (m *Machine) TriggerState() {
	switch m.State() {
	case StateExecuting:
		m.TryTo(complete{})
	case StateCreated, StatePlaced:
		m.TryTo(cancel{})
	}
}

// Cancel schedules cancellation of an order that has not matched yet.
func (m *Machine) Cancel() { m.TryTo(cancel{}) }

func (m *Machine) Apply(ctx context.Context, t sm.Transition) error {
	switch t := t.(type) {
	case createTransition:
		return m.create(ctx)
	case place:
		return m.place(ctx)
	case cancel:
		return m.cancel(ctx, t)
	case execute:
		return m.execute(ctx, t)
	case complete:
		return m.complete(ctx)
	case fail:
		m.Logger().Warnw("order_failed", "key", m.order.Key(), "status", t.status)
		m.closeStream()
		return nil
	default:
		return fmt.Errorf("unknown transition %s", t.Name())
	}
}

func (m *Machine) After(t sm.Transition) {
	switch t.(type) {
	case createTransition:
		m.TryTo(place{})
	case place:
		m.mu.RLock()
		sub := m.sub
		m.mu.RUnlock()
		go m.watchPlacement(sub)
	case execute:
		m.TryTo(complete{})
	}
}

func (m *Machine) create(ctx context.Context) error {
	o := m.order
	base, err := m.deps.Engines.Get(o.BaseSymbol)
	if err != nil {
		return err
	}
	counter, err := m.deps.Engines.Get(o.CounterSymbol)
	if err != nil {
		return err
	}
	baseAddress, err := base.GetPaymentChannelNetworkAddress(ctx)
	if err != nil {
		return fmt.Errorf("failed to get %s address: %w", o.BaseSymbol, err)
	}
	counterAddress, err := counter.GetPaymentChannelNetworkAddress(ctx)
	if err != nil {
		return fmt.Errorf("failed to get %s address: %w", o.CounterSymbol, err)
	}

	res, err := m.deps.Relayer.CreateOrder(ctx, relayer.CreateOrderRequest{
		BaseSymbol:          o.BaseSymbol,
		CounterSymbol:       o.CounterSymbol,
		Side:                string(o.Side),
		BaseAmount:          o.BaseAmount.String(),
		CounterAmount:       o.CounterAmount.String(),
		MakerBaseAddress:    baseAddress,
		MakerCounterAddress: counterAddress,
	})
	if err != nil {
		return fmt.Errorf("relayer create order: %w", err)
	}
	if res.OrderID == "" {
		return errors.New("relayer returned no order id")
	}

	m.mu.Lock()
	o.MakerBaseAddress = baseAddress
	o.MakerCounterAddress = counterAddress
	o.SetCreatedParams(models.CreatedParams{
		ID:                    res.OrderID,
		FeePaymentRequest:     res.FeePaymentRequest,
		FeeRequired:           res.FeeRequired,
		DepositPaymentRequest: res.DepositPaymentRequest,
		DepositRequired:       res.DepositRequired,
	})
	m.mu.Unlock()
	return nil
}

func (m *Machine) place(ctx context.Context) error {
	o := m.order
	outbound, err := m.deps.Engines.Get(o.OutboundSymbol())
	if err != nil {
		return err
	}
	feeRefund, depositRefund, err := engine.PayFeeAndDeposit(ctx, outbound,
		engine.Invoice{PaymentRequest: o.FeePaymentRequest, Required: o.FeeRequired},
		engine.Invoice{PaymentRequest: o.DepositPaymentRequest, Required: o.DepositRequired},
	)
	if err != nil {
		return err
	}

	auth, err := m.deps.Identity.Authorize(o.OrderID)
	if err != nil {
		return err
	}
	sub, err := m.deps.Relayer.PlaceOrder(ctx, relayer.PlaceOrderRequest{
		OrderID:                     o.OrderID,
		OutboundSymbol:              o.OutboundSymbol(),
		FeeRefundPaymentRequest:     feeRefund,
		DepositRefundPaymentRequest: depositRefund,
		Authorization:               auth,
	})
	if err != nil {
		return fmt.Errorf("relayer place order: %w", err)
	}

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	return nil
}

// watchPlacement waits for the relayer to report what happened to a placed
// order and schedules the matching transition.
func (m *Machine) watchPlacement(sub *relayer.Subscription[relayer.PlaceOrderUpdate]) {
	update, err := sub.Wait(m.Context())
	if err != nil {
		if errors.Is(err, relayer.ErrClosed) || m.Context().Err() != nil {
			return
		}
		m.Reject(fmt.Errorf("place order stream: %w", err))
		return
	}

	m.Logger().Infow("order_update", "key", m.order.Key(), "status", update.OrderStatus)
	switch update.OrderStatus {
	case relayer.OrderStatusCancelled:
		m.TryTo(cancel{reported: true})
	case relayer.OrderStatusFailed:
		m.TryTo(fail{status: update.OrderStatus})
	default:
		if update.Fill == nil {
			m.Reject(fmt.Errorf("order update %q carries no fill", update.OrderStatus))
			return
		}
		m.TryTo(execute{fill: update.Fill})
	}
}

func (m *Machine) closeStream() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (m *Machine) cancel(ctx context.Context, t cancel) error {
	m.closeStream()
	o := m.order
	if o.OrderID == "" || t.reported {
		return nil
	}
	auth, err := m.deps.Identity.Authorize(o.OrderID)
	if err != nil {
		return err
	}
	if err := m.deps.Relayer.CancelOrder(ctx, relayer.CancelOrderRequest{OrderID: o.OrderID, Authorization: auth}); err != nil {
		return fmt.Errorf("relayer cancel order: %w", err)
	}
	return nil
}

func (m *Machine) execute(ctx context.Context, t execute) error {
	o := m.order
	fillAmount, err := models.ParseAmount("fillAmount", t.fill.FillAmount)
	if err != nil {
		return err
	}
	m.mu.Lock()
	err = o.SetFilledParams(t.fill.SwapHash, fillAmount, t.fill.TakerAddress)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	inbound, err := m.deps.Engines.Get(o.InboundSymbol())
	if err != nil {
		return err
	}
	timeout := m.deps.Clock.Now().Add(m.deps.ExecuteTimeout)
	payment := interchain.Payment{Engine: inbound, Amount: o.InboundFillAmount()}
	if err := m.deps.Router.PrepareSwap(ctx, o.SwapHash, payment, timeout); err != nil {
		return fmt.Errorf("failed to prepare swap %s: %w", o.SwapHash, err)
	}

	auth, err := m.deps.Identity.Authorize(o.OrderID)
	if err != nil {
		return err
	}
	if err := m.deps.Relayer.ExecuteOrder(ctx, relayer.ExecuteOrderRequest{OrderID: o.OrderID, Authorization: auth}); err != nil {
		return fmt.Errorf("relayer execute order: %w", err)
	}
	return nil
}

func (m *Machine) complete(ctx context.Context) error {
	o := m.order
	inbound, err := m.deps.Engines.Get(o.InboundSymbol())
	if err != nil {
		return err
	}
	preimage, err := inbound.GetSettledSwapPreimage(ctx, o.SwapHash)
	if err != nil {
		return fmt.Errorf("failed to get preimage for %s: %w", o.SwapHash, err)
	}
	m.mu.Lock()
	o.SetSettledParams(preimage)
	m.mu.Unlock()

	auth, err := m.deps.Identity.Authorize(o.OrderID)
	if err != nil {
		return err
	}
	err = m.deps.Relayer.CompleteOrder(ctx, relayer.CompleteOrderRequest{
		OrderID:       o.OrderID,
		SwapPreimage:  preimage,
		Authorization: auth,
	})
	if err != nil {
		return fmt.Errorf("relayer complete order: %w", err)
	}
	return nil
}

// Serialize renders an order for the block order view.
func (m *Machine) Serialize() map[string]any {
	o := m.Order()
	out := map[string]any{}
	if raw, err := json.Marshal(&o); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	out["blockOrderId"] = o.BlockOrderID
	out["orderStatus"] = strings.ToUpper(string(m.State()))
	out["dates"] = m.Dates()
	if e := m.Error(); e != "" {
		out["error"] = e
	}
	return out
}

// IndexByHash derives the order-by-hash index entry for a stored order record.
func IndexByHash(_ string, value []byte) (string, bool) {
	rec, err := sm.ParseRecord(kind, value)
	if err != nil {
		return "", false
	}
	var o struct {
		SwapHash string `json:"swapHash"`
	}
	if err := json.Unmarshal(rec.Object, &o); err != nil || o.SwapHash == "" {
		return "", false
	}
	return o.SwapHash, true
}

// Ranger iterates the records filed under one index value.
type Ranger interface {
	Range(indexKey string, fn func(key string, value []byte) error) error
}

// ByHash returns the orders whose swap hash is hash.
func ByHash(idx Ranger, hash string) ([]*models.Order, error) {
	var out []*models.Order
	err := idx.Range(hash, func(key string, value []byte) error {
		rec, err := sm.ParseRecord(kind, value)
		if err != nil {
			return err
		}
		o, err := models.OrderFromObject(key, rec.Object)
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up orders for %s: %w", hash, err)
	}
	return out, nil
}
