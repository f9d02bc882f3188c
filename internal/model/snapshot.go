package model

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"
)

// MarketSnapshot is the point-in-time market state sent on subscribe.
type MarketSnapshot struct {
	MarketID       string       `json:"market_id"`
	Question       string       `json:"question"`
	Creator        string       `json:"creator"`
	Status         MarketStatus `json:"status"`
	EndTime        uint64       `json:"end_time"`
	YesPrice       string       `json:"yes_price"`
	NoPrice        string       `json:"no_price"`
	Volume         string       `json:"volume"`
	Liquidity      string       `json:"liquidity"`
	TradeCount     uint64       `json:"trade_count"`
	WinningOutcome *Outcome     `json:"winning_outcome,omitempty"`
	// UpdatedBlock is the highest block of any event applied to the market,
	// claims included.
	UpdatedBlock   uint64       `json:"updated_block"`
}

// TokenMeta captures ERC20 metadata of the collateral token.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// TransactionRecord is one applied trade, liquidity or claim row.
type TransactionRecord struct {
	EventID     string    `json:"event_id"`
	Kind        EventKind `json:"kind"`
	MarketID    string    `json:"market_id"`
	Account     string    `json:"account"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
	Amount      string    `json:"amount"`
	Shares      string    `json:"shares,omitempty"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint64    `json:"log_index"`
}

// PricePoint is one row of a market's price history.
type PricePoint struct {
	EventID     string `json:"event_id"`
	MarketID    string `json:"market_id"`
	YesPrice    string `json:"yes_price"`
	NoPrice     string `json:"no_price"`
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint64 `json:"log_index"`
	Timestamp   uint64 `json:"timestamp"`
}

// Position is one account's holdings in a market.
type Position struct {
	MarketID  string `json:"market_id"`
	Account   string `json:"account"`
	YesShares string `json:"yes_shares"`
	NoShares  string `json:"no_shares"`
	LPTokens  string `json:"lp_tokens"`
	Claimed   string `json:"claimed"`
}
