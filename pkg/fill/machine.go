// Package fill drives a taker fill: it registers the fill against a maker
// order on the relayer, pays the fee and deposit, waits for the relayer to
// report the maker's execution and then sends the outbound payment.
package fill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/models"
	"github.com/uhyunpark/sparkswap-broker/pkg/relayer"
	sm "github.com/uhyunpark/sparkswap-broker/pkg/statemachine"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

const kind = "fill"

type Deps struct {
	Store    sm.Store
	Engines  engine.Registry
	Relayer  relayer.Client
	Identity relayer.Authorizer
	Logger   *zap.SugaredLogger
	Clock    util.Clock
	OnChange func(sm.Snapshot)
}

type Machine struct {
	*sm.Machine
	deps Deps

	mu   sync.RWMutex
	fill *models.Fill
	sub  *relayer.Subscription[relayer.ExecuteUpdate]
}

func newMachine(deps Deps, f *models.Fill) *Machine {
	m := &Machine{deps: deps, fill: f}
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

// Create registers a fill of order with the relayer and persists it in
// created. Nothing is stored if any step fails. Filling starts in the
// background.
func Create(ctx context.Context, deps Deps, blockOrderID string, order models.FillOrder, fillAmount decimal.Decimal) (*Machine, error) {
	f, err := models.NewFill(blockOrderID, order, fillAmount)
	if err != nil {
		return nil, err
	}
	m := newMachine(deps, f)
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
	f, err := models.FillFromObject(key, rec.Object)
	if err != nil {
		return nil, err
	}
	m := newMachine(deps, f)
	m.Restore(rec)
	return m, nil
}

// GetAll rebuilds every fill in the store.
func GetAll(deps Deps) ([]*Machine, error) {
	var out []*Machine
	err := deps.Store.Range("", func(key string, value []byte) error {
		m, err := FromStore(deps, key, value)
		if err != nil {
			return fmt.Errorf("failed to load fill %s: %w", key, err)
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

// Fill returns a copy of the machine's fill.
func (m *Machine) Fill() models.Fill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.fill
}

func (m *Machine) Object() sm.Object { return m.fill }

// ShouldRetry reports whether the fill was rejected only because the maker
// order was not yet placed, in which case a new fill may succeed.
func (m *Machine) ShouldRetry() bool {
	return m.State() == sm.Rejected && m.Error() == relayer.CodeOrderNotPlaced
}

// TriggerState resumes a rehydrated fill. A fill that never reached the
// relayer's book is cancelled; one that did goes back to waiting for, or
// carrying out, the execution.
func (m *Machine) TriggerState() {
	switch m.State() {
	case StateCreated:
		m.TryTo(cancel{})
	case StateFilled:
		m.triggerExecute()
	case StateExecuting:
		m.TryTo(execute{})
	}
}

func (m *Machine) Cancel() { m.TryTo(cancel{}) }

func (m *Machine) Apply(ctx context.Context, t sm.Transition) error {
	switch t := t.(type) {
	case createTransition:
		return m.create(ctx)
	case fillOrder:
		return m.fillOrder(ctx)
	case cancel:
		m.closeStream()
		return nil
	case beginExecute:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.fill.SetExecuteParams(t.makerAddress)
	case execute:
		return m.execute(ctx)
	default:
		return fmt.Errorf("unknown transition %s", t.Name())
	}
}

func (m *Machine) After(t sm.Transition) {
	switch t.(type) {
	case createTransition:
		m.TryTo(fillOrder{})
	case fillOrder:
		m.triggerExecute()
	case beginExecute:
		m.TryTo(execute{})
	}
}

func (m *Machine) create(ctx context.Context) error {
	f := m.fill
	base, err := m.deps.Engines.Get(f.Order.BaseSymbol)
	if err != nil {
		return err
	}
	counter, err := m.deps.Engines.Get(f.Order.CounterSymbol)
	if err != nil {
		return err
	}
	inbound, err := m.deps.Engines.Get(f.InboundSymbol())
	if err != nil {
		return err
	}

	baseAddress, err := base.GetPaymentChannelNetworkAddress(ctx)
	if err != nil {
		return fmt.Errorf("failed to get %s address: %w", f.Order.BaseSymbol, err)
	}
	counterAddress, err := counter.GetPaymentChannelNetworkAddress(ctx)
	if err != nil {
		return fmt.Errorf("failed to get %s address: %w", f.Order.CounterSymbol, err)
	}
	swapHash, err := inbound.CreateSwapHash(ctx, f.Order.OrderID, f.InboundAmount())
	if err != nil {
		return fmt.Errorf("failed to create swap hash: %w", err)
	}

	auth, err := m.deps.Identity.Authorize(f.Order.OrderID)
	if err != nil {
		return err
	}
	res, err := m.deps.Relayer.CreateFill(ctx, relayer.CreateFillRequest{
		OrderID:             f.Order.OrderID,
		SwapHash:            swapHash,
		FillAmount:          f.FillAmount.String(),
		TakerBaseAddress:    baseAddress,
		TakerCounterAddress: counterAddress,
		Authorization:       auth,
	})
	if err != nil {
		return fmt.Errorf("relayer create fill: %w", err)
	}
	if res.FillError != nil {
		return res.FillError
	}
	if res.FillID == "" {
		return errors.New("relayer returned no fill id")
	}

	m.mu.Lock()
	f.TakerBaseAddress = baseAddress
	f.TakerCounterAddress = counterAddress
	f.SetSwapHash(swapHash)
	f.SetCreatedParams(models.CreatedParams{
		ID:                    res.FillID,
		FeePaymentRequest:     res.FeePaymentRequest,
		FeeRequired:           res.FeeRequired,
		DepositPaymentRequest: res.DepositPaymentRequest,
		DepositRequired:       res.DepositRequired,
	})
	m.mu.Unlock()
	return nil
}

func (m *Machine) fillOrder(ctx context.Context) error {
	f := m.fill
	outbound, err := m.deps.Engines.Get(f.OutboundSymbol())
	if err != nil {
		return err
	}
	feeRefund, depositRefund, err := engine.PayFeeAndDeposit(ctx, outbound,
		engine.Invoice{PaymentRequest: f.FeePaymentRequest, Required: f.FeeRequired},
		engine.Invoice{PaymentRequest: f.DepositPaymentRequest, Required: f.DepositRequired},
	)
	if err != nil {
		return err
	}

	auth, err := m.deps.Identity.Authorize(f.FillID)
	if err != nil {
		return err
	}
	res, err := m.deps.Relayer.FillOrder(ctx, relayer.FillOrderRequest{
		FillID:                      f.FillID,
		FeeRefundPaymentRequest:     feeRefund,
		DepositRefundPaymentRequest: depositRefund,
		Authorization:               auth,
	})
	if err != nil {
		return fmt.Errorf("relayer fill order: %w", err)
	}
	if res.FillError != nil {
		return res.FillError
	}
	return nil
}

// triggerExecute subscribes to the relayer's execution notice for the fill
// and schedules beginExecute when it arrives.
func (m *Machine) triggerExecute() {
	ctx := m.Context()
	fillID := m.Fill().FillID
	go func() {
		auth, err := m.deps.Identity.Authorize(fillID)
		if err != nil {
			m.Reject(err)
			return
		}
		sub, err := m.deps.Relayer.SubscribeExecute(ctx, relayer.SubscribeExecuteRequest{FillID: fillID, Authorization: auth})
		if err != nil {
			if ctx.Err() == nil {
				m.Reject(fmt.Errorf("relayer subscribe execute: %w", err))
			}
			return
		}
		m.mu.Lock()
		m.sub = sub
		m.mu.Unlock()
		if m.IsTerminal() {
			m.closeStream()
			return
		}

		update, err := sub.Wait(ctx)
		if err != nil {
			if errors.Is(err, relayer.ErrClosed) || ctx.Err() != nil {
				return
			}
			m.Reject(fmt.Errorf("execute stream: %w", err))
			return
		}
		m.Logger().Infow("fill_execute_received", "key", m.fill.Key(), "maker", update.MakerAddress)
		m.TryTo(beginExecute{makerAddress: update.MakerAddress})
	}()
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

func (m *Machine) execute(ctx context.Context) error {
	f := m.fill
	outbound, err := m.deps.Engines.Get(f.OutboundSymbol())
	if err != nil {
		return err
	}
	if err := outbound.ExecuteSwap(ctx, f.MakerAddress, f.SwapHash, f.OutboundAmount()); err != nil {
		return fmt.Errorf("failed to execute swap %s: %w", f.SwapHash, err)
	}
	return nil
}

// Serialize renders a fill as {...fill, fillStatus, dates, error}.
func (m *Machine) Serialize() map[string]any {
	f := m.Fill()
	out := map[string]any{}
	if raw, err := json.Marshal(&f); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	out["blockOrderId"] = f.BlockOrderID
	out["fillStatus"] = strings.ToUpper(string(m.State()))
	out["dates"] = m.Dates()
	if e := m.Error(); e != "" {
		out["error"] = e
	}
	return out
}
