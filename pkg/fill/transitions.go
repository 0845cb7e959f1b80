package fill

import (
	sm "github.com/uhyunpark/sparkswap-broker/pkg/statemachine"
)

const (
	StateCreated   sm.State = "created"
	StateFilled    sm.State = "filled"
	StateCancelled sm.State = "cancelled"
	StateExecuting sm.State = "executing"
	StateExecuted  sm.State = "executed"
)

// Indeterminate states are resumed by TriggerState after a restart.
var Indeterminate = []sm.State{StateCreated, StateFilled, StateExecuting}

var terminal = []sm.State{StateExecuted, StateCancelled}

type (
	createTransition struct{}
	fillOrder        struct{}
	cancel           struct{}
	beginExecute     struct{ makerAddress string }
	execute          struct{}
)

func (createTransition) Name() string     { return "create" }
func (createTransition) From() []sm.State { return []sm.State{sm.None} }
func (createTransition) To() sm.State     { return StateCreated }

func (fillOrder) Name() string     { return "fillOrder" }
func (fillOrder) From() []sm.State { return []sm.State{StateCreated} }
func (fillOrder) To() sm.State     { return StateFilled }

func (cancel) Name() string     { return "cancel" }
func (cancel) From() []sm.State { return []sm.State{StateCreated, StateFilled} }
func (cancel) To() sm.State     { return StateCancelled }

func (beginExecute) Name() string     { return "beginExecute" }
func (beginExecute) From() []sm.State { return []sm.State{StateFilled} }
func (beginExecute) To() sm.State     { return StateExecuting }

func (execute) Name() string     { return "execute" }
func (execute) From() []sm.State { return []sm.State{StateExecuting} }
func (execute) To() sm.State     { return StateExecuted }
