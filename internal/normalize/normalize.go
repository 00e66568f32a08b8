package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/intentbridge/relay/internal/chains"
	"github.com/intentbridge/relay/internal/event"
)

// Rejection sentinels. Rejected events are acknowledged and never retried.
var (
	ErrUnsupportedEntity = errors.New("unsupported entity")
	ErrUnsupportedChain  = errors.New("unsupported chain")
)

// transform reshapes the provider record into canonical event_data.
type transform func(event.Record) map[string]any

// entityTable is the closed mapping from provider entity names to canonical
// event types plus the transform applied to their payload. Adding an event
// type means adding a row here.
var entityTable = map[string]struct {
	Type      event.EventType
	Transform transform
}{
	"intent_created":         {event.TypeCreated, logEventData},
	"intent_registered":      {event.TypeRegistered, logEventData},
	"intent_filled":          {event.TypeFilled, logEventData},
	"intent_settled":         {event.TypeSettled, logEventData},
	"intent_refunded":        {event.TypeRefunded, logEventData},
	"withdrawal_claimed":     {event.TypeWithdrawalClaimed, logEventData},
	"root_synced":            {event.TypeRootSynced, rollupEventData},
	"fill_root_synced":       {event.TypeFillRootSynced, rollupEventData},
	"commitment_root_synced": {event.TypeCommitmentRootSynced, rollupEventData},
}

// envelopeFields are provider bookkeeping columns, not event arguments.
var envelopeFields = map[string]struct{}{
	"id":               {},
	"vid":              {},
	"chain_id":         {},
	"contract_id":      {},
	"address":          {},
	"transaction_hash": {},
	"block_number":     {},
	"log_index":        {},
	"timestamp":        {},
}

// SupportedEntity reports whether the entity maps to a canonical event type.
// Used by the ingress pre-filter; Normalize re-checks authoritatively.
func SupportedEntity(entity string) bool {
	_, ok := entityTable[entity]
	return ok
}

// Normalizer converts raw provider events into canonical events.
type Normalizer struct {
	registry *chains.Registry
	nowFunc  func() time.Time
}

func New(registry *chains.Registry) *Normalizer {
	return &Normalizer{registry: registry, nowFunc: time.Now}
}

// Normalize maps the entity through the closed table, classifies the source
// chain, and reshapes the payload. Unsupported entities and chains come back
// as rejection sentinels; everything else that goes wrong is a malformed
// record error.
func (n *Normalizer) Normalize(raw *event.RawEvent) (*event.CanonicalEvent, error) {
	entry, ok := entityTable[raw.Entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntity, raw.Entity)
	}

	chain, ok := n.registry.Classify(raw)
	if !ok {
		return nil, fmt.Errorf("%w: event %s", ErrUnsupportedChain, raw.ID)
	}

	txHash := raw.New.String("transaction_hash")
	if txHash == "" {
		return nil, fmt.Errorf("event %s: missing transaction_hash", raw.ID)
	}
	blockNumber, _ := raw.New.Uint64("block_number")

	contract := raw.New.ContractAddress()
	if common.IsHexAddress(contract) {
		contract = common.HexToAddress(contract).Hex()
	}

	ts := raw.New.String("timestamp")
	if ts == "" {
		ts = n.nowFunc().UTC().Format(time.RFC3339)
	}

	return &event.CanonicalEvent{
		EventType:       entry.Type,
		Chain:           chain.Name,
		ChainID:         chain.ChainID,
		TransactionHash: txHash,
		BlockNumber:     blockNumber,
		LogIndex:        raw.New.LogIndex(),
		ContractAddress: contract,
		EventData:       entry.Transform(raw.New),
		Timestamp:       ts,
	}, nil
}

// logEventData keeps every non-envelope argument, normalized.
func logEventData(rec event.Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if _, skip := envelopeFields[k]; skip {
			continue
		}
		out[k] = NormalizeValue(v)
	}
	return out
}

// rollupEventData is logEventData for roll-up events, which carry root
// material rather than log arguments. Kept separate as the table's extension
// point for roll-up specific shaping.
func rollupEventData(rec event.Record) map[string]any {
	return logEventData(rec)
}

// NormalizeValue converts provider value encodings into stable string forms:
// arbitrary-precision integers become canonical decimal strings and BigNumber
// wrapper objects become 0x-prefixed hex. The conversion is total; unknown
// shapes pass through untouched.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		// Numbers that fit a machine integer or float keep their shape;
		// only arbitrary-precision integers get stringified.
		if _, err := val.Int64(); err == nil {
			return val
		}
		if i, ok := new(big.Int).SetString(val.String(), 10); ok {
			return i.String()
		}
		return val
	case map[string]any:
		if hex, ok := bigNumberHex(val); ok {
			return hex
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = NormalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = NormalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// bigNumberHex recognizes {"type": "BigNumber", "hex": "0x..."} wrappers and
// re-encodes them as canonical hex. Wrapper hex may carry leading zero digits,
// which hexutil.DecodeBig rejects, so the digits are parsed directly.
func bigNumberHex(m map[string]any) (string, bool) {
	typ, _ := m["type"].(string)
	hexStr, _ := m["hex"].(string)
	if typ != "BigNumber" || hexStr == "" {
		return "", false
	}

	digits := hexStr
	negative := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "0x")
	digits = strings.TrimPrefix(digits, "0X")

	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return "", false
	}
	if negative {
		n.Neg(n)
	}
	return hexutil.EncodeBig(n), true
}
