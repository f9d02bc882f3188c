// Package markettest builds ABI-encoded market contract logs for tests.
package markettest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"marketIndexer/internal/market"
	"marketIndexer/internal/model"
)

// Contract is the market contract address used by fixtures.
var Contract = common.HexToAddress("0x1111111111111111111111111111111111111111")

// Pos positions a fixture log in the ledger.
type Pos struct {
	Block    uint64
	TxHash   string
	LogIndex uint64
}

// At returns a position with a deterministic tx hash derived from block and index.
func At(block, logIndex uint64) Pos {
	return Pos{
		Block:    block,
		TxHash:   common.BigToHash(new(big.Int).SetUint64(block*1000 + logIndex)).Hex(),
		LogIndex: logIndex,
	}
}

// MarketCreated encodes a MarketCreated log.
func MarketCreated(pos Pos, marketID int64, creator common.Address, question string) model.RawEvent {
	return build(pos, model.KindMarketCreated,
		[]common.Hash{topicInt(marketID), topicAddress(creator)},
		question, big.NewInt(1_900_000_000), big.NewInt(1_000_000),
	)
}

// SharesBought encodes a SharesBought log. Prices are 1e18 fixed point.
func SharesBought(pos Pos, marketID int64, buyer common.Address, outcome uint8, shares, cost, yesPrice, noPrice *big.Int) model.RawEvent {
	return build(pos, model.KindSharesBought,
		[]common.Hash{topicInt(marketID), topicAddress(buyer)},
		outcome, shares, cost, yesPrice, noPrice,
	)
}

// SharesSold encodes a SharesSold log.
func SharesSold(pos Pos, marketID int64, seller common.Address, outcome uint8, shares, payout, yesPrice, noPrice *big.Int) model.RawEvent {
	return build(pos, model.KindSharesSold,
		[]common.Hash{topicInt(marketID), topicAddress(seller)},
		outcome, shares, payout, yesPrice, noPrice,
	)
}

// LiquidityAdded encodes a LiquidityAdded log.
func LiquidityAdded(pos Pos, marketID int64, provider common.Address, amount, lpTokens *big.Int) model.RawEvent {
	return build(pos, model.KindLiquidityAdded,
		[]common.Hash{topicInt(marketID), topicAddress(provider)},
		amount, lpTokens,
	)
}

// LiquidityRemoved encodes a LiquidityRemoved log.
func LiquidityRemoved(pos Pos, marketID int64, provider common.Address, amount, lpTokens *big.Int) model.RawEvent {
	return build(pos, model.KindLiquidityRemoved,
		[]common.Hash{topicInt(marketID), topicAddress(provider)},
		amount, lpTokens,
	)
}

// MarketResolved encodes a MarketResolved log.
func MarketResolved(pos Pos, marketID int64, winning uint8) model.RawEvent {
	return build(pos, model.KindMarketResolved,
		[]common.Hash{topicInt(marketID)},
		winning,
	)
}

// WinningsClaimed encodes a WinningsClaimed log.
func WinningsClaimed(pos Pos, marketID int64, user common.Address, amount *big.Int) model.RawEvent {
	return build(pos, model.KindWinningsClaimed,
		[]common.Hash{topicInt(marketID), topicAddress(user)},
		amount,
	)
}

// Wei scales a whole number to 18 decimals.
func Wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// Price converts a percentage into a 1e18 fixed-point price.
func Price(percent int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(percent), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))
}

func build(pos Pos, kind model.EventKind, indexed []common.Hash, args ...interface{}) model.RawEvent {
	parsed, err := market.MarketABI()
	if err != nil {
		panic(fmt.Sprintf("market abi: %v", err))
	}
	event := parsed.Events[string(kind)]
	data, err := event.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", kind, err))
	}

	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, event.ID.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	return model.RawEvent{
		ChainID:     31337,
		BlockNumber: pos.Block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(pos.Block)).Hex(),
		TxHash:      pos.TxHash,
		LogIndex:    pos.LogIndex,
		Address:     Contract.Hex(),
		EventName:   string(kind),
		Topics:      topics,
		Data:        hexutil.Encode(data),
		Timestamp:   1_700_000_000 + pos.Block*2,
	}
}

func topicAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func topicInt(value int64) common.Hash {
	return common.BigToHash(big.NewInt(value))
}
