package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/sparkswap-broker/pkg/storage"
)

type widget struct {
	Group string   `json:"-"`
	ID    string   `json:"id,omitempty"`
	Steps []string `json:"steps,omitempty"`
}

func (w *widget) Key() string {
	if w.ID == "" {
		return ""
	}
	return w.Group + ":" + w.ID
}

func (w *widget) PlaceholderKey(id string) string { return w.Group + ":NO_ASSIGNED_ID_" + id }

const (
	stateCreated State = "created"
	stateRunning State = "running"
	stateDone    State = "done"
)

type create struct{ id string }
type start struct{ fail error }
type finish struct{}
type bogus struct{}

func (create) Name() string  { return "create" }
func (create) From() []State { return []State{None} }
func (create) To() State     { return stateCreated }
func (start) Name() string   { return "start" }
func (start) From() []State  { return []State{stateCreated} }
func (start) To() State      { return stateRunning }
func (finish) Name() string  { return "finish" }
func (finish) From() []State { return []State{stateRunning} }
func (finish) To() State     { return stateDone }
func (bogus) Name() string   { return "bogus" }
func (bogus) From() []State  { return []State{stateCreated} }
func (bogus) To() State      { return stateDone }

type widgetHandler struct {
	mu    sync.Mutex
	w     *widget
	m     *Machine
	chain bool
}

func (h *widgetHandler) Object() Object { return h.w }

func (h *widgetHandler) Apply(ctx context.Context, t Transition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch t := t.(type) {
	case create:
		if t.id == "" {
			return errors.New("no id")
		}
		h.w.ID = t.id
	case start:
		if t.fail != nil {
			return t.fail
		}
	case finish:
	default:
		return errors.New("unknown transition " + t.Name())
	}
	h.w.Steps = append(h.w.Steps, t.Name())
	return nil
}

func (h *widgetHandler) After(t Transition) {
	if _, ok := t.(start); ok && h.chain {
		h.m.TryTo(finish{})
	}
}

func newWidgetMachine(t *testing.T, store Store) (*Machine, *widgetHandler) {
	t.Helper()
	h := &widgetHandler{w: &widget{Group: "g1"}}
	m := New(Config{Kind: "widget", Store: store, Terminal: []State{stateDone}}, h)
	h.m = m
	t.Cleanup(m.Close)
	return m, h
}

func newBucket(t *testing.T) *storage.Bucket {
	t.Helper()
	s, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.Bucket("w:")
}

func waitState(t *testing.T, m *Machine, states ...State) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := m.WaitFor(ctx, states...)
	require.NoError(t, err, "machine stuck in %s", s)
	return s
}

func TestDoCreatePersists(t *testing.T) {
	b := newBucket(t)
	m, _ := newWidgetMachine(t, b)

	require.NoError(t, m.Do(context.Background(), create{id: "w1"}))
	assert.Equal(t, stateCreated, m.State())

	raw, err := b.Get("g1:w1")
	require.NoError(t, err)
	require.NotNil(t, raw)

	rec, err := ParseRecord("widget", raw)
	require.NoError(t, err)
	assert.Equal(t, stateCreated, rec.State)
	assert.Contains(t, rec.Dates, stateCreated)
	assert.JSONEq(t, `{"id":"w1","steps":["create"]}`, string(rec.Object))
}

func TestDoFailureLeavesMachineUntouched(t *testing.T) {
	b := newBucket(t)
	m, _ := newWidgetMachine(t, b)

	err := m.Do(context.Background(), create{})
	require.Error(t, err)
	assert.Equal(t, None, m.State())

	n := 0
	require.NoError(t, b.Range("", func(string, []byte) error { n++; return nil }))
	assert.Zero(t, n)
}

func TestTryToRunsInOrder(t *testing.T) {
	b := newBucket(t)
	m, h := newWidgetMachine(t, b)
	require.NoError(t, m.Do(context.Background(), create{id: "w1"}))

	m.TryTo(start{})
	m.TryTo(finish{})
	waitState(t, m, stateDone)

	assert.Equal(t, []string{"create", "start", "finish"}, h.w.Steps)
	dates := m.Dates()
	assert.False(t, dates[stateRunning].After(dates[stateDone]))
}

func TestAfterSchedulesFollowUp(t *testing.T) {
	m, h := newWidgetMachine(t, newBucket(t))
	h.chain = true
	require.NoError(t, m.Do(context.Background(), create{id: "w1"}))

	m.TryTo(start{})
	waitState(t, m, stateDone)
}

func TestFailedTransitionRejects(t *testing.T) {
	b := newBucket(t)
	m, _ := newWidgetMachine(t, b)
	require.NoError(t, m.Do(context.Background(), create{id: "w1"}))

	m.TryTo(start{fail: errors.New("engine down")})
	waitState(t, m, Rejected)
	assert.Equal(t, "engine down", m.Error())

	raw, err := b.Get("g1:w1")
	require.NoError(t, err)
	rec, err := ParseRecord("widget", raw)
	require.NoError(t, err)
	assert.Equal(t, Rejected, rec.State)
	assert.Equal(t, "engine down", rec.Error)
}

func TestInvalidAndUnknownTransitionsReject(t *testing.T) {
	m, _ := newWidgetMachine(t, newBucket(t))
	require.NoError(t, m.Do(context.Background(), create{id: "w1"}))
	m.TryTo(finish{})
	waitState(t, m, Rejected)
	assert.Contains(t, m.Error(), "invalid transition finish from created")

	m2, _ := newWidgetMachine(t, newBucket(t))
	require.NoError(t, m2.Do(context.Background(), create{id: "w2"}))
	m2.TryTo(bogus{})
	waitState(t, m2, Rejected)
	assert.Contains(t, m2.Error(), "unknown transition bogus")
}

func TestRejectWithoutKeyUsesPlaceholder(t *testing.T) {
	b := newBucket(t)
	m, _ := newWidgetMachine(t, b)

	m.Reject(errors.New("relayer unreachable"))
	assert.Equal(t, Rejected, m.State())

	var keys []string
	require.NoError(t, b.Range("", func(k string, v []byte) error {
		keys = append(keys, k)
		assert.Contains(t, string(v), `"state":"rejected"`)
		assert.Contains(t, string(v), "relayer unreachable")
		return nil
	}))
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "g1:NO_ASSIGNED_ID_"), keys[0])
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m, _ := newWidgetMachine(t, newBucket(t))
	require.NoError(t, m.Do(context.Background(), create{id: "w1"}))
	m.TryTo(start{})
	m.TryTo(finish{})
	waitState(t, m, stateDone)

	m.Reject(errors.New("late failure"))
	assert.Equal(t, stateDone, m.State())
	assert.Empty(t, m.Error())

	err := m.Do(context.Background(), start{})
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestPersistWithoutKey(t *testing.T) {
	m, _ := newWidgetMachine(t, newBucket(t))
	assert.ErrorIs(t, m.Persist(""), ErrNoKey)
}

func TestOnChangeSeesEveryState(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	h := &widgetHandler{w: &widget{Group: "g1"}}
	m := New(Config{
		Kind:     "widget",
		Store:    newBucket(t),
		Terminal: []State{stateDone},
		OnChange: func(s Snapshot) {
			mu.Lock()
			seen = append(seen, s.State)
			mu.Unlock()
		},
	}, h)
	defer m.Close()

	require.NoError(t, m.Do(context.Background(), create{id: "w1"}))
	m.TryTo(start{})
	m.TryTo(finish{})
	waitState(t, m, stateDone)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{stateCreated, stateRunning, stateDone}, seen)
}

func TestRecordRoundTrip(t *testing.T) {
	b := newBucket(t)
	m, _ := newWidgetMachine(t, b)
	require.NoError(t, m.Do(context.Background(), create{id: "w1"}))
	m.TryTo(start{})
	waitState(t, m, stateRunning)

	raw, err := b.Get("g1:w1")
	require.NoError(t, err)
	rec, err := ParseRecord("widget", raw)
	require.NoError(t, err)

	w := &widget{Group: "g1"}
	require.NoError(t, json.Unmarshal(rec.Object, w))
	restored := New(Config{Kind: "widget", Store: b, Terminal: []State{stateDone}}, &widgetHandler{w: w})
	defer restored.Close()
	restored.Restore(rec)

	assert.Equal(t, stateRunning, restored.State())
	want, got := m.Dates(), restored.Dates()
	require.Len(t, got, len(want))
	for state, at := range want {
		assert.True(t, at.Equal(got[state]), "date for %s", state)
	}
	assert.Equal(t, "g1:w1", w.Key())
}

func TestParseRecordAcceptsHistory(t *testing.T) {
	rec, err := ParseRecord("order", []byte(`{"state":"placed","history":["created","placed"],"order":{"orderId":"o1"}}`))
	require.NoError(t, err)
	assert.Equal(t, State("placed"), rec.State)
	require.Len(t, rec.Dates, 2)
	assert.True(t, rec.Dates["created"].IsZero())

	_, err = ParseRecord("order", []byte(`{"state":"placed","fill":{}}`))
	assert.Error(t, err)
	_, err = ParseRecord("order", []byte(`{"order":{}}`))
	assert.Error(t, err)
}
