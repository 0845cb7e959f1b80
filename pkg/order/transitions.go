package order

import (
	"github.com/uhyunpark/sparkswap-broker/pkg/relayer"
	sm "github.com/uhyunpark/sparkswap-broker/pkg/statemachine"
)

const (
	StateCreated   sm.State = "created"
	StatePlaced    sm.State = "placed"
	StateCancelled sm.State = "cancelled"
	StateExecuting sm.State = "executing"
	StateCompleted sm.State = "completed"
	StateFailed    sm.State = "failed"
)

// Indeterminate states are resumed by TriggerState after a restart.
var Indeterminate = []sm.State{StateCreated, StatePlaced, StateExecuting}

var terminal = []sm.State{StateCompleted, StateCancelled, StateFailed}

type (
	createTransition struct{}
	place            struct{}
	cancel           struct{ reported bool }
	execute          struct{ fill *relayer.OrderFill }
	complete         struct{}
	fail             struct{ status string }
)

func (createTransition) Name() string     { return "create" }
func (createTransition) From() []sm.State { return []sm.State{sm.None} }
func (createTransition) To() sm.State     { return StateCreated }

func (place) Name() string     { return "place" }
func (place) From() []sm.State { return []sm.State{StateCreated} }
func (place) To() sm.State     { return StatePlaced }

func (cancel) Name() string     { return "cancel" }
func (cancel) From() []sm.State { return []sm.State{StateCreated, StatePlaced} }
func (cancel) To() sm.State     { return StateCancelled }

func (execute) Name() string     { return "execute" }
func (execute) From() []sm.State { return []sm.State{StatePlaced} }
func (execute) To() sm.State     { return StateExecuting }

func (complete) Name() string     { return "complete" }
func (complete) From() []sm.State { return []sm.State{StateExecuting} }
func (complete) To() sm.State     { return StateCompleted }

func (fail) Name() string     { return "fail" }
func (fail) From() []sm.State { return []sm.State{StateCreated, StatePlaced, StateExecuting} }
func (fail) To() sm.State     { return StateFailed }
