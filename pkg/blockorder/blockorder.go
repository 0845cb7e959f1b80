// Package blockorder groups the orders and fills placed on behalf of one
// trader intent and accounts for the funds they hold.
package blockorder

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/sparkswap-broker/pkg/fill"
	"github.com/uhyunpark/sparkswap-broker/pkg/order"
)

type BlockOrder struct {
	ID                   string           `json:"blockOrderId"`
	Orders               []map[string]any `json:"orders"`
	Fills                []map[string]any `json:"fills"`
	ActiveOutboundAmount decimal.Decimal  `json:"activeOutboundAmount"`
	ActiveInboundAmount  decimal.Decimal  `json:"activeInboundAmount"`
}

// ActiveOutboundAmount is the amount the block order may still send. An
// executing order only holds its filled part.
func ActiveOutboundAmount(orders []*order.Machine, fills []*fill.Machine) decimal.Decimal {
	total := decimal.Zero
	for _, m := range orders {
		o := m.Order()
		switch m.State() {
		case order.StateCreated, order.StatePlaced:
			total = total.Add(o.OutboundAmount())
		case order.StateExecuting:
			total = total.Add(o.OutboundFillAmount())
		}
	}
	for _, m := range fills {
		switch m.State() {
		case fill.StateCreated, fill.StateFilled:
			f := m.Fill()
			total = total.Add(f.OutboundAmount())
		}
	}
	return total
}

// ActiveInboundAmount is the amount the block order may still receive.
func ActiveInboundAmount(orders []*order.Machine, fills []*fill.Machine) decimal.Decimal {
	total := decimal.Zero
	for _, m := range orders {
		o := m.Order()
		switch m.State() {
		case order.StateCreated, order.StatePlaced:
			total = total.Add(o.InboundAmount())
		case order.StateExecuting:
			total = total.Add(o.InboundFillAmount())
		}
	}
	for _, m := range fills {
		switch m.State() {
		case fill.StateCreated, fill.StateFilled:
			f := m.Fill()
			total = total.Add(f.InboundAmount())
		}
	}
	return total
}
