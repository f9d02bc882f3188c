package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"marketIndexer/internal/market"
	"marketIndexer/internal/model"
)

// ErrSubscriptionClosed is reported when the node ends a log subscription without an error.
var ErrSubscriptionClosed = errors.New("log subscription closed by node")

// Ledger adapts Client to the ingestion pipeline: it filters the market
// contract's logs and converts them into raw events.
type Ledger struct {
	client   *Client
	decoder  *market.Decoder
	chainID  uint64
	contract common.Address
	logger   *zap.Logger
}

func NewLedger(client *Client, decoder *market.Decoder, chainID uint64, contract common.Address, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		client:   client,
		decoder:  decoder,
		chainID:  chainID,
		contract: contract,
		logger:   logger.Named("ledger"),
	}
}

func (l *Ledger) ChainID(ctx context.Context) (uint64, error) {
	return l.client.ChainID(ctx)
}

// CurrentHeight returns the latest block number, unconfirmed.
func (l *Ledger) CurrentHeight(ctx context.Context) (uint64, error) {
	return l.client.LatestBlockNumber(ctx)
}

// QueryLogs returns the contract's logs of the given kinds in [from, to], in ledger order.
func (l *Ledger) QueryLogs(ctx context.Context, from, to uint64, kinds []model.EventKind) ([]model.RawEvent, error) {
	topics, err := l.topics(kinds)
	if err != nil {
		return nil, err
	}
	logs, err := l.client.FilterLogs(ctx, from, to, LogFilter{Addresses: []common.Address{l.contract}, Topic0: topics})
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	events := make([]model.RawEvent, 0, len(logs))
	for _, lg := range logs {
		ts, err := l.client.BlockTimestamp(ctx, lg.BlockNumber)
		if err != nil {
			return nil, err
		}
		events = append(events, l.buildRawEvent(lg, ts))
	}
	return events, nil
}

// Subscribe streams new logs of kind into sink until the subscription is
// cancelled or the node connection fails. Failures surface on Err().
func (l *Ledger) Subscribe(ctx context.Context, kind model.EventKind, sink chan<- model.RawEvent) (ethereum.Subscription, error) {
	topics, err := l.topics([]model.EventKind{kind})
	if err != nil {
		return nil, err
	}

	logs := make(chan types.Log, 64)
	upstream, err := l.client.SubscribeLogs(ctx, LogFilter{Addresses: []common.Address{l.contract}, Topic0: topics}, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer upstream.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-upstream.Err():
				if err == nil {
					err = ErrSubscriptionClosed
				}
				return fmt.Errorf("%s subscription: %w", kind, err)
			case lg := <-logs:
				ts, err := l.client.BlockTimestamp(ctx, lg.BlockNumber)
				if err != nil {
					// Handlers fall back to processing time.
					l.logger.Warn("block timestamp unavailable", zap.Uint64("block", lg.BlockNumber), zap.Error(err))
					ts = 0
				}
				select {
				case sink <- l.buildRawEvent(lg, ts):
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

// CallContract lets the ledger serve token metadata lookups.
func (l *Ledger) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return l.client.CallContract(ctx, msg, blockNumber)
}

func (l *Ledger) topics(kinds []model.EventKind) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(kinds))
	for _, kind := range kinds {
		topic, ok := l.decoder.Topic0(kind)
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", kind)
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func (l *Ledger) buildRawEvent(lg types.Log, timestamp uint64) model.RawEvent {
	topics := make([]string, 0, len(lg.Topics))
	for _, topic := range lg.Topics {
		topics = append(topics, topic.Hex())
	}

	var name string
	if len(topics) > 0 {
		if kind, ok := l.decoder.KindOf(topics[0]); ok {
			name = string(kind)
		}
	}

	return model.RawEvent{
		ChainID:     l.chainID,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      strings.ToLower(lg.TxHash.Hex()),
		LogIndex:    uint64(lg.Index),
		Address:     lg.Address.Hex(),
		EventName:   name,
		Topics:      topics,
		Data:        hexutil.Encode(lg.Data),
		Timestamp:   timestamp,
		Removed:     lg.Removed,
	}
}
