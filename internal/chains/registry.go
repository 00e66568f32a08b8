package chains

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/event"
)

// Chain is a resolved supported chain.
type Chain struct {
	Name    string
	ChainID uint64
}

// Registry maps classification signals (numeric ids, contract deployments,
// name fragments) to supported chains. Built once at startup from config and
// never mutated afterwards.
type Registry struct {
	byID      map[uint64]Chain
	byAddress map[common.Address]Chain
	aliases   []aliasEntry
}

type aliasEntry struct {
	fragment string
	chain    Chain
}

// NewRegistry builds a registry from the configured chain table.
func NewRegistry(cfgChains []config.Chain) *Registry {
	r := &Registry{
		byID:      make(map[uint64]Chain, len(cfgChains)),
		byAddress: make(map[common.Address]Chain),
	}
	for _, c := range cfgChains {
		ch := Chain{Name: c.Name, ChainID: c.ChainID}
		r.byID[c.ChainID] = ch
		for _, addr := range c.Contracts {
			r.byAddress[common.HexToAddress(addr)] = ch
		}
		fragments := c.Aliases
		if len(fragments) == 0 {
			fragments = []string{c.Name}
		}
		for _, f := range fragments {
			r.aliases = append(r.aliases, aliasEntry{fragment: strings.ToLower(f), chain: ch})
		}
	}
	return r
}

// Classify derives the source chain for a raw event. Signals are tried in
// strict priority order; ok=false means the event belongs to no supported
// chain and should be ignored, not treated as an error.
func (r *Registry) Classify(raw *event.RawEvent) (Chain, bool) {
	// 1. Explicit chain id field, when the provider populated one.
	if id, ok := raw.New.Uint64("chain_id"); ok && id != 0 {
		if ch, ok := r.byID[id]; ok {
			return ch, true
		}
		return Chain{}, false
	}

	// 2. Contract deployment address. Tied to the deployment itself, so it
	// beats any text-based signal.
	if addr := raw.New.ContractAddress(); addr != "" && common.IsHexAddress(addr) {
		if ch, ok := r.byAddress[common.HexToAddress(addr)]; ok {
			return ch, true
		}
	}

	// 3. Name fragments in the data-source label or entity name.
	haystack := strings.ToLower(raw.DataSource + " " + raw.Entity)
	for _, a := range r.aliases {
		if strings.Contains(haystack, a.fragment) {
			return a.chain, true
		}
	}

	return Chain{}, false
}

// Supported reports whether the given numeric chain id is configured.
func (r *Registry) Supported(chainID uint64) bool {
	_, ok := r.byID[chainID]
	return ok
}
