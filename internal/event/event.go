package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EventType is the canonical, provider-independent event classification.
type EventType string

const (
	TypeCreated              EventType = "created"
	TypeRegistered           EventType = "registered"
	TypeFilled               EventType = "filled"
	TypeSettled              EventType = "settled"
	TypeRefunded             EventType = "refunded"
	TypeWithdrawalClaimed    EventType = "withdrawal_claimed"
	TypeRootSynced           EventType = "root_synced"
	TypeFillRootSynced       EventType = "fill_root_synced"
	TypeCommitmentRootSynced EventType = "commitment_root_synced"
)

// Record is the provider's nested new-row payload. Values keep the shapes the
// JSON decoder produced (string, json.Number, bool, map, slice).
type Record map[string]any

// RawEvent is the provider's delivery envelope. ID is stable across
// redeliveries of the same logical on-chain event and is the dedup key.
type RawEvent struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Op         string `json:"op"`
	New        Record `json:"new"`
	DataSource string `json:"data_source"`
}

// CanonicalEvent is the normalized representation posted to the relayer.
type CanonicalEvent struct {
	EventType       EventType      `json:"event_type"`
	Chain           string         `json:"chain"`
	ChainID         uint64         `json:"chain_id"`
	TransactionHash string         `json:"transaction_hash"`
	BlockNumber     uint64         `json:"block_number"`
	LogIndex        *uint          `json:"log_index,omitempty"`
	ContractAddress string         `json:"contract_address"`
	EventData       map[string]any `json:"event_data"`
	Timestamp       string         `json:"timestamp"`
}

// DeliveryKey builds the relayer-side idempotency key for an event. Roll-up
// events without a log index use index 0 so the key stays well-formed.
func (c *CanonicalEvent) DeliveryKey() string {
	idx := uint(0)
	if c.LogIndex != nil {
		idx = *c.LogIndex
	}
	return fmt.Sprintf("%s-%d", c.TransactionHash, idx)
}

// String fetches a string field from the record; non-string values are
// rendered via their decoded form.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprintf("%v", v)
}

// Uint64 parses a numeric field that providers deliver either as a JSON
// number or as a decimal string. Returns ok=false when absent or unparseable.
func (r Record) Uint64(key string) (uint64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		return u, err == nil
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		u, err := strconv.ParseUint(s, 10, 64)
		return u, err == nil
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

// LogIndex returns the log index if the record carries one. Roll-up events
// (root synchronizations) are not anchored to a single log and omit it.
func (r Record) LogIndex() *uint {
	u, ok := r.Uint64("log_index")
	if !ok {
		return nil
	}
	idx := uint(u)
	return &idx
}

// ContractAddress returns the emitting contract, checking the field names
// providers use interchangeably.
func (r Record) ContractAddress() string {
	if s := r.String("contract_id"); s != "" {
		return s
	}
	return r.String("address")
}

// Validate checks the minimal structural shape required before enqueue.
func (e *RawEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	if len(e.New) == 0 {
		return fmt.Errorf("new record is required")
	}
	return nil
}
