package model

import "strings"

// EventKind tags a contract event variant.
type EventKind string

const (
	KindMarketCreated    EventKind = "MarketCreated"
	KindSharesBought     EventKind = "SharesBought"
	KindSharesSold       EventKind = "SharesSold"
	KindLiquidityAdded   EventKind = "LiquidityAdded"
	KindLiquidityRemoved EventKind = "LiquidityRemoved"
	KindMarketResolved   EventKind = "MarketResolved"
	KindWinningsClaimed  EventKind = "WinningsClaimed"
)

// AllEventKinds lists every tracked contract event, in subscription order.
var AllEventKinds = []EventKind{
	KindMarketCreated,
	KindSharesBought,
	KindSharesSold,
	KindLiquidityAdded,
	KindLiquidityRemoved,
	KindMarketResolved,
	KindWinningsClaimed,
}

// ParseEventKind maps a case-insensitive event name to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	name = strings.TrimSpace(name)
	for _, kind := range AllEventKinds {
		if strings.EqualFold(string(kind), name) {
			return kind, true
		}
	}
	return "", false
}

// Outcome is one of the two resolvable sides of a market.
type Outcome uint8

const (
	OutcomeYes Outcome = 0
	OutcomeNo  Outcome = 1
)

func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	default:
		return "unknown"
	}
}

// TradeSide distinguishes share purchases from sales.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// LiquidityDirection distinguishes liquidity deposits from withdrawals.
type LiquidityDirection string

const (
	LiquidityAdd    LiquidityDirection = "add"
	LiquidityRemove LiquidityDirection = "remove"
)
