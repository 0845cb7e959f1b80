// Package statemachine is a durable finite state machine: every transition is
// persisted to an ordered key-value store before the next one runs, and a
// machine can be rebuilt from its stored record after a restart.
package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

type State string

const (
	None     State = "none"
	Rejected State = "rejected"
)

var (
	ErrNoKey    = errors.New("statemachine: object has no storage key")
	ErrTerminal = errors.New("statemachine: machine is in a terminal state")
)

// Transition is one member of a machine's closed set of moves. Concrete
// machines declare each move as its own type and dispatch on it with a
// type switch.
type Transition interface {
	Name() string
	From() []State
	To() State
}

// Object is the domain value a machine owns.
type Object interface {
	// Key is the storage key, or "" before one has been assigned.
	Key() string
	// PlaceholderKey derives a unique key from id, used to persist a
	// rejection before Key is known.
	PlaceholderKey(id string) string
}

// Handler supplies a concrete machine's behaviour.
type Handler interface {
	// Apply performs the side effects of t. It must not call Reject.
	Apply(ctx context.Context, t Transition) error
	// After runs once t has been applied and persisted; it may schedule
	// follow-up transitions with TryTo.
	After(t Transition)
	Object() Object
}

// Store is the durable backing for machine records.
type Store interface {
	Put(key string, value []byte) error
	Range(prefix string, fn func(key string, value []byte) error) error
}

// Snapshot is a point-in-time view of a machine, passed to change hooks.
type Snapshot struct {
	Kind  string
	Key   string
	State State
	Error string
}

type Config struct {
	// Kind names the record field holding the domain object.
	Kind     string
	Store    Store
	Logger   *zap.SugaredLogger
	Clock    util.Clock
	Terminal []State
	OnChange func(Snapshot)
}

type Machine struct {
	cfg     Config
	handler Handler
	logger  *zap.SugaredLogger
	clock   util.Clock

	ctx    context.Context
	cancel context.CancelFunc

	// runMu serializes transitions on this machine.
	runMu sync.Mutex

	mu      sync.RWMutex
	state   State
	dates   map[State]time.Time
	errMsg  string
	changed chan struct{}

	qmu       sync.Mutex
	pending   []Transition
	wake      chan struct{}
	startOnce sync.Once
}

func New(cfg Config, h Handler) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		cfg:     cfg,
		handler: h,
		logger:  util.OrNop(cfg.Logger).With("machine", cfg.Kind),
		clock:   cfg.Clock,
		ctx:     ctx,
		cancel:  cancel,
		state:   None,
		dates:   make(map[State]time.Time),
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Error is the message recorded by the last rejection, if any.
func (m *Machine) Error() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

func (m *Machine) Dates() map[State]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[State]time.Time, len(m.dates))
	for k, v := range m.dates {
		out[k] = v
	}
	return out
}

func (m *Machine) IsTerminal() bool {
	return m.isTerminal(m.State())
}

func (m *Machine) isTerminal(s State) bool {
	if s == Rejected {
		return true
	}
	for _, t := range m.cfg.Terminal {
		if s == t {
			return true
		}
	}
	return false
}

// Goto forces the in-memory state without persisting or running side effects.
func (m *Machine) Goto(s State) {
	m.mu.Lock()
	m.state = s
	m.signalLocked()
	m.mu.Unlock()
}

// Restore applies a stored record's state, trail and error.
func (m *Machine) Restore(rec Record) {
	m.mu.Lock()
	m.dates = make(map[State]time.Time, len(rec.Dates))
	for k, v := range rec.Dates {
		m.dates[k] = v
	}
	m.errMsg = rec.Error
	m.mu.Unlock()
	m.Goto(rec.State)
}

func (m *Machine) signalLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Machine) enter(s State, at time.Time, errMsg string) {
	m.mu.Lock()
	m.state = s
	m.dates[s] = at
	m.errMsg = errMsg
	m.signalLocked()
	m.mu.Unlock()
}

// Record builds the persisted form of the machine.
func (m *Machine) Record() (Record, error) {
	m.mu.RLock()
	s, errMsg := m.state, m.errMsg
	m.mu.RUnlock()
	return m.recordAs(s, time.Time{}, errMsg)
}

// recordAs builds the record the machine will have once it enters s at at.
// A zero at leaves the dates as they are.
func (m *Machine) recordAs(s State, at time.Time, errMsg string) (Record, error) {
	obj, err := json.Marshal(m.handler.Object())
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal %s: %w", m.cfg.Kind, err)
	}
	m.mu.RLock()
	dates := make(map[State]time.Time, len(m.dates)+1)
	for k, v := range m.dates {
		dates[k] = v
	}
	m.mu.RUnlock()
	if !at.IsZero() {
		dates[s] = at
	}
	return Record{Kind: m.cfg.Kind, State: s, Dates: dates, Error: errMsg, Object: obj}, nil
}

// Persist writes the record under key.
func (m *Machine) Persist(key string) error {
	rec, err := m.Record()
	if err != nil {
		return err
	}
	return m.write(key, rec)
}

func (m *Machine) write(key string, rec Record) error {
	if key == "" {
		return ErrNoKey
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", m.cfg.Kind, err)
	}
	if err := m.cfg.Store.Put(key, data); err != nil {
		return fmt.Errorf("failed to persist %s %s: %w", m.cfg.Kind, key, err)
	}
	return nil
}

func (m *Machine) snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Kind: m.cfg.Kind, Key: m.handler.Object().Key(), State: m.state, Error: m.errMsg}
}

func (m *Machine) notify() {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(m.snapshot())
	}
}

// Do runs t synchronously on the caller's goroutine. On any failure the
// machine's state is left untouched and nothing is persisted.
func (m *Machine) Do(ctx context.Context, t Transition) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.apply(ctx, t)
}

func (m *Machine) apply(ctx context.Context, t Transition) error {
	from := m.State()
	if m.isTerminal(from) {
		return fmt.Errorf("%w: cannot %s from %s", ErrTerminal, t.Name(), from)
	}
	if !allowed(t, from) {
		return fmt.Errorf("invalid transition %s from %s", t.Name(), from)
	}

	if err := m.handler.Apply(ctx, t); err != nil {
		return err
	}

	// The record is written before the new state becomes visible, so anyone
	// who observes a state can rely on it being durable.
	at := m.clock.Now().UTC()
	rec, err := m.recordAs(t.To(), at, "")
	if err != nil {
		return err
	}
	if err := m.write(m.handler.Object().Key(), rec); err != nil {
		return err
	}
	m.enter(t.To(), at, "")

	m.logger.Debugw("state_machine_transition", "key", m.handler.Object().Key(), "transition", t.Name(), "from", from, "to", t.To())
	m.notify()
	m.handler.After(t)
	return nil
}

func allowed(t Transition, from State) bool {
	for _, s := range t.From() {
		if s == from {
			return true
		}
	}
	return false
}

// TryTo schedules t on the machine's worker. Transitions run one at a time
// in the order they were scheduled; a failing transition rejects the machine.
func (m *Machine) TryTo(t Transition) {
	m.qmu.Lock()
	m.pending = append(m.pending, t)
	m.qmu.Unlock()

	m.startOnce.Do(func() { go m.work() })
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Machine) work() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}
		for {
			t, ok := m.pop()
			if !ok {
				break
			}
			m.run(t)
		}
	}
}

func (m *Machine) pop() (Transition, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if len(m.pending) == 0 {
		return nil, false
	}
	t := m.pending[0]
	m.pending = m.pending[1:]
	return t, true
}

func (m *Machine) run(t Transition) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.ctx.Err() != nil {
		return
	}
	if err := m.apply(m.ctx, t); err != nil {
		if m.ctx.Err() != nil {
			// Interrupted by Close; the machine resumes from its stored state.
			m.logger.Infow("state_machine_transition_interrupted", "key", m.handler.Object().Key(), "transition", t.Name(), "err", err)
			return
		}
		if errors.Is(err, ErrTerminal) {
			m.logger.Warnw("state_machine_transition_ignored", "key", m.handler.Object().Key(), "transition", t.Name(), "err", err)
			return
		}
		m.rejectLocked(err)
	}
}

// Reject moves the machine to rejected and persists the error. It never
// fails: without a key the record is written under a placeholder key. A
// machine that is already terminal is left as it is.
func (m *Machine) Reject(err error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.rejectLocked(err)
}

func (m *Machine) rejectLocked(err error) {
	if err == nil {
		err = errors.New("rejected without error")
	}
	obj := m.handler.Object()
	if from := m.State(); m.isTerminal(from) {
		m.logger.Warnw("state_machine_reject_ignored", "key", obj.Key(), "state", from, "err", err)
		return
	}

	key := obj.Key()
	if key == "" {
		key = obj.PlaceholderKey(uuid.NewString())
	}
	at := m.clock.Now().UTC()
	m.logger.Errorw("state_machine_rejected", "key", key, "err", err.Error())
	rec, rerr := m.recordAs(Rejected, at, err.Error())
	if rerr == nil {
		rerr = m.write(key, rec)
	}
	if rerr != nil {
		m.logger.Errorw("state_machine_reject_persist_failed", "key", key, "err", rerr)
	}
	m.enter(Rejected, at, err.Error())
	m.notify()
}

// WaitFor blocks until the machine is in one of states.
func (m *Machine) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		m.mu.RLock()
		s, ch := m.state, m.changed
		m.mu.RUnlock()
		for _, want := range states {
			if s == want {
				return s, nil
			}
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Context is cancelled when the machine is closed. Long-lived work started
// by a transition should stop with it.
func (m *Machine) Context() context.Context { return m.ctx }

// Logger returns the machine's logger.
func (m *Machine) Logger() *zap.SugaredLogger { return m.logger }

// Close stops the worker. Scheduled transitions that have not started are dropped.
func (m *Machine) Close() {
	m.cancel()
}
