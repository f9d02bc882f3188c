package model

// Payload is a decoded contract event. The set of implementations is closed:
// one struct per EventKind.
type Payload interface {
	Kind() EventKind
	// MarketKey identifies the aggregate the event mutates.
	MarketKey() string
}

// MarketCreated is the decoded MarketCreated event payload.
type MarketCreated struct {
	MarketID         string `json:"market_id"`
	Creator          string `json:"creator"`
	Question         string `json:"question"`
	EndTime          uint64 `json:"end_time"`
	InitialLiquidity string `json:"initial_liquidity"`
}

func (MarketCreated) Kind() EventKind     { return KindMarketCreated }
func (p MarketCreated) MarketKey() string { return p.MarketID }

// ShareTrade is the decoded SharesBought or SharesSold payload.
type ShareTrade struct {
	MarketID string    `json:"market_id"`
	Trader   string    `json:"trader"`
	Side     TradeSide `json:"side"`
	Outcome  Outcome   `json:"outcome"`
	Shares   string    `json:"shares"`
	// Amount is collateral paid (buy) or received (sell).
	Amount   string `json:"amount"`
	YesPrice string `json:"yes_price"`
	NoPrice  string `json:"no_price"`
}

func (p ShareTrade) Kind() EventKind {
	if p.Side == SideSell {
		return KindSharesSold
	}
	return KindSharesBought
}

func (p ShareTrade) MarketKey() string { return p.MarketID }

// LiquidityChange is the decoded LiquidityAdded or LiquidityRemoved payload.
type LiquidityChange struct {
	MarketID  string             `json:"market_id"`
	Provider  string             `json:"provider"`
	Direction LiquidityDirection `json:"direction"`
	Amount    string             `json:"amount"`
	LPTokens  string             `json:"lp_tokens"`
}

func (p LiquidityChange) Kind() EventKind {
	if p.Direction == LiquidityRemove {
		return KindLiquidityRemoved
	}
	return KindLiquidityAdded
}

func (p LiquidityChange) MarketKey() string { return p.MarketID }

// MarketResolved is the decoded MarketResolved payload.
type MarketResolved struct {
	MarketID       string  `json:"market_id"`
	WinningOutcome Outcome `json:"winning_outcome"`
}

func (MarketResolved) Kind() EventKind     { return KindMarketResolved }
func (p MarketResolved) MarketKey() string { return p.MarketID }

// WinningsClaimed is the decoded WinningsClaimed payload.
type WinningsClaimed struct {
	MarketID string `json:"market_id"`
	User     string `json:"user"`
	Amount   string `json:"amount"`
}

func (WinningsClaimed) Kind() EventKind     { return KindWinningsClaimed }
func (p WinningsClaimed) MarketKey() string { return p.MarketID }
