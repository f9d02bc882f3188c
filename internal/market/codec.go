package market

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"marketIndexer/internal/model"
)

// ErrUndecodable marks a log that can never be decoded. Retrying it is pointless.
var ErrUndecodable = errors.New("undecodable event")

// Decoder decodes prediction market contract logs into typed payloads.
type Decoder struct {
	marketABI abi.ABI
	byTopic   map[string]model.EventKind
	events    map[model.EventKind]abi.Event
}

// NewDecoder builds a decoder covering every tracked event kind.
func NewDecoder() (*Decoder, error) {
	parsed, err := MarketABI()
	if err != nil {
		return nil, fmt.Errorf("parse market abi: %w", err)
	}

	d := &Decoder{
		marketABI: parsed,
		byTopic:   make(map[string]model.EventKind, len(model.AllEventKinds)),
		events:    make(map[model.EventKind]abi.Event, len(model.AllEventKinds)),
	}
	for _, kind := range model.AllEventKinds {
		event, ok := parsed.Events[string(kind)]
		if !ok {
			return nil, fmt.Errorf("market abi missing event %s", kind)
		}
		d.events[kind] = event
		d.byTopic[strings.ToLower(event.ID.Hex())] = kind
	}
	return d, nil
}

// Topic0 returns the event signature hash of kind.
func (d *Decoder) Topic0(kind model.EventKind) (common.Hash, bool) {
	event, ok := d.events[kind]
	if !ok {
		return common.Hash{}, false
	}
	return event.ID, true
}

// KindOf maps a topic0 hash to its event kind.
func (d *Decoder) KindOf(topic0 string) (model.EventKind, bool) {
	kind, ok := d.byTopic[strings.ToLower(topic0)]
	return kind, ok
}

// Decode converts a raw event into its typed form. Errors wrap ErrUndecodable.
func (d *Decoder) Decode(raw model.RawEvent) (model.Event, error) {
	payload, err := d.decodePayload(raw)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %s: %v", ErrUndecodable, raw.ID(), err)
	}
	return model.Event{Raw: raw, Payload: payload}, nil
}

func (d *Decoder) decodePayload(raw model.RawEvent) (model.Payload, error) {
	if len(raw.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	kind, ok := d.KindOf(raw.Topics[0])
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", raw.Topics[0])
	}
	if raw.EventName != "" && !strings.EqualFold(raw.EventName, string(kind)) {
		return nil, fmt.Errorf("event name %s does not match topic0 %s", raw.EventName, kind)
	}

	switch kind {
	case model.KindMarketCreated:
		return d.decodeMarketCreated(raw)
	case model.KindSharesBought:
		return d.decodeTrade(raw, model.SideBuy)
	case model.KindSharesSold:
		return d.decodeTrade(raw, model.SideSell)
	case model.KindLiquidityAdded:
		return d.decodeLiquidity(raw, model.LiquidityAdd)
	case model.KindLiquidityRemoved:
		return d.decodeLiquidity(raw, model.LiquidityRemove)
	case model.KindMarketResolved:
		return d.decodeResolved(raw)
	case model.KindWinningsClaimed:
		return d.decodeClaim(raw)
	default:
		return nil, fmt.Errorf("unsupported event name: %s", kind)
	}
}

func (d *Decoder) decodeMarketCreated(raw model.RawEvent) (model.Payload, error) {
	event := d.events[model.KindMarketCreated]
	var indexed struct {
		MarketId *big.Int
		Creator  common.Address
	}
	if err := parseIndexed(event, raw.Topics, &indexed); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, raw.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected market created values: %d", len(values))
	}

	question, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("unsupported question type %T", values[0])
	}
	endTime, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	liquidity, err := asBigInt(values[2])
	if err != nil {
		return nil, err
	}
	if !endTime.IsUint64() {
		return nil, fmt.Errorf("end time overflow: %s", endTime)
	}

	return model.MarketCreated{
		MarketID:         indexed.MarketId.String(),
		Creator:          normalizeAddress(indexed.Creator),
		Question:         question,
		EndTime:          endTime.Uint64(),
		InitialLiquidity: liquidity.String(),
	}, nil
}

func (d *Decoder) decodeTrade(raw model.RawEvent, side model.TradeSide) (model.Payload, error) {
	kind := model.KindSharesBought
	if side == model.SideSell {
		kind = model.KindSharesSold
	}
	event := d.events[kind]

	// The trader argument is named buyer or seller depending on the event.
	var indexed struct {
		MarketId *big.Int
		Buyer    common.Address
		Seller   common.Address
	}
	if err := parseIndexed(event, raw.Topics, &indexed); err != nil {
		return nil, err
	}
	trader := indexed.Buyer
	if side == model.SideSell {
		trader = indexed.Seller
	}

	values, err := unpackNonIndexed(event, raw.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("unexpected trade values: %d", len(values))
	}

	outcome, err := asOutcome(values[0])
	if err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, 0, 4)
	for _, value := range values[1:] {
		amount, err := asBigInt(value)
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, amount)
	}

	return model.ShareTrade{
		MarketID: indexed.MarketId.String(),
		Trader:   normalizeAddress(trader),
		Side:     side,
		Outcome:  outcome,
		Shares:   amounts[0].String(),
		Amount:   amounts[1].String(),
		YesPrice: amounts[2].String(),
		NoPrice:  amounts[3].String(),
	}, nil
}

func (d *Decoder) decodeLiquidity(raw model.RawEvent, direction model.LiquidityDirection) (model.Payload, error) {
	kind := model.KindLiquidityAdded
	if direction == model.LiquidityRemove {
		kind = model.KindLiquidityRemoved
	}
	event := d.events[kind]

	var indexed struct {
		MarketId *big.Int
		Provider common.Address
	}
	if err := parseIndexed(event, raw.Topics, &indexed); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, raw.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected liquidity values: %d", len(values))
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	lpTokens, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}

	return model.LiquidityChange{
		MarketID:  indexed.MarketId.String(),
		Provider:  normalizeAddress(indexed.Provider),
		Direction: direction,
		Amount:    amount.String(),
		LPTokens:  lpTokens.String(),
	}, nil
}

func (d *Decoder) decodeResolved(raw model.RawEvent) (model.Payload, error) {
	event := d.events[model.KindMarketResolved]
	var indexed struct {
		MarketId *big.Int
	}
	if err := parseIndexed(event, raw.Topics, &indexed); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, raw.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected resolved values: %d", len(values))
	}
	outcome, err := asOutcome(values[0])
	if err != nil {
		return nil, err
	}

	return model.MarketResolved{
		MarketID:       indexed.MarketId.String(),
		WinningOutcome: outcome,
	}, nil
}

func (d *Decoder) decodeClaim(raw model.RawEvent) (model.Payload, error) {
	event := d.events[model.KindWinningsClaimed]
	var indexed struct {
		MarketId *big.Int
		User     common.Address
	}
	if err := parseIndexed(event, raw.Topics, &indexed); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, raw.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected claim values: %d", len(values))
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}

	return model.WinningsClaimed{
		MarketID: indexed.MarketId.String(),
		User:     normalizeAddress(indexed.User),
		Amount:   amount.String(),
	}, nil
}

func parseIndexed(event abi.Event, topics []string, out interface{}) error {
	indexedTopics, err := parseIndexedTopics(event, topics)
	if err != nil {
		return err
	}
	if err := abi.ParseTopics(out, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func asOutcome(value interface{}) (model.Outcome, error) {
	raw, err := asUint8(value)
	if err != nil {
		return 0, err
	}
	outcome := model.Outcome(raw)
	if !outcome.Valid() {
		return 0, fmt.Errorf("invalid outcome %d", raw)
	}
	return outcome, nil
}

func normalizeAddress(address common.Address) string {
	return strings.ToLower(address.Hex())
}
