package model

import (
	"strconv"
	"strings"
	"time"
)

// RawEvent is a contract log as delivered by the ledger, before decoding.
type RawEvent struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	EventName   string   `json:"event_name"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Timestamp   uint64   `json:"timestamp"`
	Removed     bool     `json:"removed"`
}

// ID returns the event identity "<txHash>:<logIndex>".
func (e RawEvent) ID() string {
	return EventID(e.TxHash, e.LogIndex)
}

// EventID builds an event identity. Hashes are compared case-insensitively.
func EventID(txHash string, logIndex uint64) string {
	return strings.ToLower(txHash) + ":" + strconv.FormatUint(logIndex, 10)
}

// EventMeta is the identity and position of an applied event, passed to the
// state store alongside the decoded payload.
type EventMeta struct {
	ID          string
	ChainID     uint64
	TxHash      string
	LogIndex    uint64
	BlockNumber uint64
	Timestamp   uint64
}

// Meta extracts the store-facing metadata of a raw event.
func (e RawEvent) Meta() EventMeta {
	return EventMeta{
		ID:          e.ID(),
		ChainID:     e.ChainID,
		TxHash:      strings.ToLower(e.TxHash),
		LogIndex:    e.LogIndex,
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp,
	}
}

// BlockTime converts the block timestamp, falling back to fallback when the
// ledger did not provide one.
func (m EventMeta) BlockTime(fallback time.Time) time.Time {
	if m.Timestamp == 0 {
		return fallback.UTC()
	}
	return time.Unix(int64(m.Timestamp), 0).UTC()
}

// Before reports whether m precedes other in ledger order.
func (m EventMeta) Before(other EventMeta) bool {
	if m.BlockNumber != other.BlockNumber {
		return m.BlockNumber < other.BlockNumber
	}
	return m.LogIndex < other.LogIndex
}

// Event is a raw event decoded into its typed payload.
type Event struct {
	Raw     RawEvent
	Payload Payload
}

// Kind returns the payload kind.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}
