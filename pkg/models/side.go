// Package models holds the broker's trade records: maker Orders, taker Fills
// and the BlockOrder accounting built on top of them.
package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PlaceholderPrefix marks the storage key of a record rejected before the
// relayer assigned it an ID.
const PlaceholderPrefix = "NO_ASSIGNED_ID_"

type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToUpper(s)); side {
	case SideBid, SideAsk:
		return side, nil
	default:
		return "", fmt.Errorf("invalid side %q", s)
	}
}

// ParseAmount parses an integer amount in a currency's smallest unit.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("invalid %s %q: must be an integer", field, s)
	}
	return d, nil
}

// counterFillAmount scales fillAmount into counter units, truncating toward
// zero on the integer currency unit.
func counterFillAmount(baseAmount, counterAmount, fillAmount decimal.Decimal) decimal.Decimal {
	if baseAmount.IsZero() {
		return decimal.Zero
	}
	q, _ := counterAmount.Mul(fillAmount).QuoRem(baseAmount, 0)
	return q
}
