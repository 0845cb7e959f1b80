package blockorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/fill"
	"github.com/uhyunpark/sparkswap-broker/pkg/interchain"
	"github.com/uhyunpark/sparkswap-broker/pkg/models"
	"github.com/uhyunpark/sparkswap-broker/pkg/order"
	"github.com/uhyunpark/sparkswap-broker/pkg/relayer"
	sm "github.com/uhyunpark/sparkswap-broker/pkg/statemachine"
	"github.com/uhyunpark/sparkswap-broker/pkg/storage"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

var ErrNotFound = errors.New("block order not found")

type Config struct {
	Store    *storage.Store
	Engines  engine.Registry
	Relayer  relayer.Client
	Identity relayer.Authorizer
	Router   *interchain.Router
	Logger   *zap.SugaredLogger
	Clock    util.Clock

	ExecuteTimeout time.Duration
	// RetryDelay is the pause before a fill refused with ORDER_NOT_PLACED is
	// created again.
	RetryDelay        time.Duration
	FillRetryAttempts int

	// OnChange observes every order and fill state change.
	OnChange func(sm.Snapshot)
}

// Worker owns the live order and fill machines, indexed by block order.
type Worker struct {
	cfg       Config
	logger    *zap.SugaredLogger
	orderDeps order.Deps
	fillDeps  fill.Deps
	hashIndex *storage.Index

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	orders map[string][]*order.Machine
	fills  map[string][]*fill.Machine
	// attempts counts how often the fill stored under a key has been created.
	attempts map[string]int
	retrying map[string]bool
}

func NewWorker(cfg Config) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = interchain.DefaultRetryDelay
	}
	logger := util.OrNop(cfg.Logger)
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		cfg:      cfg,
		logger:   logger.With("component", "blockorder"),
		ctx:      ctx,
		cancel:   cancel,
		orders:   make(map[string][]*order.Machine),
		fills:    make(map[string][]*fill.Machine),
		attempts: make(map[string]int),
		retrying: make(map[string]bool),
	}

	orders := cfg.Store.Bucket(storage.PrefixOrders)
	w.hashIndex = orders.AddIndex(storage.IndexOrdersByHash, order.IndexByHash)
	w.orderDeps = order.Deps{
		Store:          orders,
		Engines:        cfg.Engines,
		Relayer:        cfg.Relayer,
		Identity:       cfg.Identity,
		Router:         cfg.Router,
		Logger:         logger,
		Clock:          cfg.Clock,
		ExecuteTimeout: cfg.ExecuteTimeout,
		OnChange:       cfg.OnChange,
	}
	w.fillDeps = fill.Deps{
		Store:    cfg.Store.Bucket(storage.PrefixFills),
		Engines:  cfg.Engines,
		Relayer:  cfg.Relayer,
		Identity: cfg.Identity,
		Logger:   logger,
		Clock:    cfg.Clock,
		OnChange: w.fillChanged,
	}
	return w
}

// Initialize rebuilds the indexes, loads every stored machine and resumes
// those left in flight by the last run.
func (w *Worker) Initialize() error {
	if err := w.hashIndex.Rebuild(); err != nil {
		return err
	}
	orders, err := order.GetAll(w.orderDeps)
	if err != nil {
		return err
	}
	fills, err := fill.GetAll(w.fillDeps)
	if err != nil {
		for _, m := range orders {
			m.Close()
		}
		return err
	}

	w.mu.Lock()
	for _, m := range orders {
		o := m.Order()
		w.orders[o.BlockOrderID] = append(w.orders[o.BlockOrderID], m)
	}
	for _, m := range fills {
		f := m.Fill()
		w.fills[f.BlockOrderID] = append(w.fills[f.BlockOrderID], m)
	}
	w.mu.Unlock()

	resumed := 0
	for _, m := range orders {
		if inStates(m.State(), order.Indeterminate) {
			m.TriggerState()
			resumed++
		}
	}
	for _, m := range fills {
		if inStates(m.State(), fill.Indeterminate) {
			m.TriggerState()
			resumed++
		}
	}
	w.logger.Infow("block_orders_loaded", "orders", len(orders), "fills", len(fills), "resumed", resumed)
	return nil
}

func inStates(s sm.State, states []sm.State) bool {
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}

func (w *Worker) CreateOrder(ctx context.Context, blockOrderID string, params models.OrderParams) (*order.Machine, error) {
	m, err := order.Create(ctx, w.orderDeps, blockOrderID, params)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.orders[blockOrderID] = append(w.orders[blockOrderID], m)
	w.mu.Unlock()
	return m, nil
}

func (w *Worker) CreateFill(ctx context.Context, blockOrderID string, o models.FillOrder, fillAmount decimal.Decimal) (*fill.Machine, error) {
	return w.createFill(ctx, blockOrderID, o, fillAmount, 1)
}

func (w *Worker) createFill(ctx context.Context, blockOrderID string, o models.FillOrder, fillAmount decimal.Decimal, attempt int) (*fill.Machine, error) {
	var (
		m   *fill.Machine
		err error
	)
	for {
		m, err = fill.Create(ctx, w.fillDeps, blockOrderID, o, fillAmount)
		if err == nil {
			break
		}
		var fe *relayer.FillError
		if !errors.As(err, &fe) || fe.Code != relayer.CodeOrderNotPlaced || attempt >= w.cfg.FillRetryAttempts {
			return nil, err
		}
		w.logger.Warnw("fill_create_retry", "order_id", o.OrderID, "attempt", attempt, "err", err)
		if serr := util.Sleep(ctx, w.cfg.Clock, w.cfg.RetryDelay); serr != nil {
			return nil, err
		}
		attempt++
	}

	f := m.Fill()
	key := f.Key()
	w.mu.Lock()
	w.fills[blockOrderID] = append(w.fills[blockOrderID], m)
	w.attempts[key] = attempt
	w.mu.Unlock()

	// A rejection that landed before registration found nothing to retry.
	if m.ShouldRetry() {
		go w.retryFill(key)
	}
	return m, nil
}

func (w *Worker) fillChanged(s sm.Snapshot) {
	if w.cfg.OnChange != nil {
		w.cfg.OnChange(s)
	}
	if s.State == sm.Rejected {
		go w.retryFill(s.Key)
	}
}

// retryFill re-creates a fill the relayer refused because the maker order
// was not placed yet. Each key is retried at most once.
func (w *Worker) retryFill(key string) {
	w.mu.Lock()
	m := w.findFill(key)
	if m == nil || w.retrying[key] || !m.ShouldRetry() {
		w.mu.Unlock()
		return
	}
	w.retrying[key] = true
	attempt := w.attempts[key]
	w.mu.Unlock()

	if attempt >= w.cfg.FillRetryAttempts {
		w.logger.Warnw("fill_retry_exhausted", "key", key, "attempts", attempt)
		return
	}
	if err := util.Sleep(w.ctx, w.cfg.Clock, w.cfg.RetryDelay); err != nil {
		return
	}

	f := m.Fill()
	next, err := w.createFill(w.ctx, f.BlockOrderID, f.Order, f.FillAmount, attempt+1)
	if err != nil {
		w.logger.Errorw("fill_retry_failed", "key", key, "attempt", attempt+1, "err", err)
		return
	}
	nf := next.Fill()
	w.logger.Infow("fill_retried", "key", key, "new_key", nf.Key(), "attempt", attempt+1)
}

func (w *Worker) findFill(key string) *fill.Machine {
	for _, fills := range w.fills {
		for _, m := range fills {
			f := m.Fill()
			if f.Key() == key {
				return m
			}
		}
	}
	return nil
}

// OrdersByHash returns the orders committed to a swap hash.
func (w *Worker) OrdersByHash(hash string) ([]*models.Order, error) {
	return order.ByHash(w.hashIndex, hash)
}

// Get returns the block order view for id.
func (w *Worker) Get(id string) (BlockOrder, error) {
	w.mu.RLock()
	orders := append([]*order.Machine(nil), w.orders[id]...)
	fills := append([]*fill.Machine(nil), w.fills[id]...)
	w.mu.RUnlock()

	if len(orders) == 0 && len(fills) == 0 {
		return BlockOrder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	bo := BlockOrder{
		ID:                   id,
		Orders:               make([]map[string]any, 0, len(orders)),
		Fills:                make([]map[string]any, 0, len(fills)),
		ActiveOutboundAmount: ActiveOutboundAmount(orders, fills),
		ActiveInboundAmount:  ActiveInboundAmount(orders, fills),
	}
	for _, m := range orders {
		bo.Orders = append(bo.Orders, m.Serialize())
	}
	for _, m := range fills {
		bo.Fills = append(bo.Fills, m.Serialize())
	}
	sortByID(bo.Orders, "orderId")
	sortByID(bo.Fills, "fillId")
	return bo, nil
}

func sortByID(items []map[string]any, field string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := items[i][field].(string)
		b, _ := items[j][field].(string)
		return a < b
	})
}

// Close stops every machine. Their stored state is left for the next Initialize.
func (w *Worker) Close() {
	w.cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, orders := range w.orders {
		for _, m := range orders {
			m.Close()
		}
	}
	for _, fills := range w.fills {
		for _, m := range fills {
			m.Close()
		}
	}
}
