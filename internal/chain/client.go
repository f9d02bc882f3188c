package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
)

// timestampCacheSize bounds the block timestamp cache. Live delivery only
// touches recent blocks, and a backfill chunk rarely spans more.
const timestampCacheSize = 4096

// LogFilter selects contract logs. Topic0 matches any of the given hashes.
type LogFilter struct {
	Addresses []common.Address
	Topic0    []common.Hash
}

func (f LogFilter) query() ethereum.FilterQuery {
	q := ethereum.FilterQuery{Addresses: f.Addresses}
	if len(f.Topic0) > 0 {
		q.Topics = [][]common.Hash{f.Topic0}
	}
	return q
}

// Client is a go-ethereum connection. Log subscriptions need a ws:// or ipc
// endpoint.
type Client struct {
	rpcClient  *rpc.Client
	eth        *ethclient.Client
	timestamps *lru.Cache[uint64, uint64]
}

func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	timestamps, err := lru.New[uint64, uint64](timestampCacheSize)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	return &Client{
		rpcClient:  rpcClient,
		eth:        ethclient.NewClient(rpcClient),
		timestamps: timestamps,
	}, nil
}

func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("query chain id: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id overflow: %s", id)
	}
	return id.Uint64(), nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BlockTimestamp returns the header time of block number.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.timestamps.Get(number); ok {
		return ts, nil
	}
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}
	c.timestamps.Add(number, header.Time)
	return header.Time, nil
}

// FilterLogs returns logs matching filter in [from, to].
func (c *Client) FilterLogs(ctx context.Context, from, to uint64, filter LogFilter) ([]types.Log, error) {
	q := filter.query()
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)
	return c.eth.FilterLogs(ctx, q)
}

// SubscribeLogs pushes new logs matching filter into sink.
func (c *Client) SubscribeLogs(ctx context.Context, filter LogFilter, sink chan<- types.Log) (ethereum.Subscription, error) {
	return c.eth.SubscribeFilterLogs(ctx, filter.query(), sink)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}
