package chains

import (
	"encoding/json"
	"testing"

	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/event"
)

const (
	mantlePool     = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	sepoliaPool    = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	unknownAddress = "0x000000000000000000000000000000000000dEaD"
)

func testRegistry() *Registry {
	return NewRegistry([]config.Chain{
		{Name: "mantle", ChainID: 5003, Contracts: []string{mantlePool}, Aliases: []string{"mantle"}},
		{Name: "ethereum", ChainID: 11155111, Contracts: []string{sepoliaPool}, Aliases: []string{"ethereum", "sepolia"}},
	})
}

func TestClassifyPrecedence(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name   string
		raw    event.RawEvent
		want   string
		wantOK bool
	}{
		{
			name: "explicit_chain_id_wins_over_contradicting_address",
			raw: event.RawEvent{New: event.Record{
				"chain_id":    json.Number("11155111"),
				"contract_id": mantlePool,
			}},
			want:   "ethereum",
			wantOK: true,
		},
		{
			name: "address_wins_over_heuristic",
			raw: event.RawEvent{
				DataSource: "sepolia-pipeline",
				New:        event.Record{"contract_id": mantlePool},
			},
			want:   "mantle",
			wantOK: true,
		},
		{
			name: "address_case_insensitive",
			raw: event.RawEvent{New: event.Record{
				"contract_id": "0x5fbdb2315678afecb367f032d93f642f64180aa3",
			}},
			want:   "mantle",
			wantOK: true,
		},
		{
			name: "data_source_heuristic",
			raw: event.RawEvent{
				DataSource: "sepolia-intents",
				New:        event.Record{"contract_id": unknownAddress},
			},
			want:   "ethereum",
			wantOK: true,
		},
		{
			name: "entity_heuristic",
			raw: event.RawEvent{
				Entity: "mantle_intent_filled",
				New:    event.Record{"transaction_hash": "0x1"},
			},
			want:   "mantle",
			wantOK: true,
		},
		{
			name: "unsupported_explicit_id_does_not_fall_through",
			raw: event.RawEvent{New: event.Record{
				"chain_id":    json.Number("42"),
				"contract_id": mantlePool,
			}},
			wantOK: false,
		},
		{
			name:   "no_signal",
			raw:    event.RawEvent{New: event.Record{"transaction_hash": "0x1"}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, ok := r.Classify(&tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && ch.Name != tt.want {
				t.Fatalf("chain = %q, want %q", ch.Name, tt.want)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	r := testRegistry()
	if !r.Supported(5003) {
		t.Fatalf("5003 should be supported")
	}
	if r.Supported(1) {
		t.Fatalf("1 should not be supported")
	}
}
