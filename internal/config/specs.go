package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// DEXSpecs converts the [[dex]] tables into domain specs keyed by name.
func (c *Config) DEXSpecs() map[string]domain.DEXSpec {
	out := make(map[string]domain.DEXSpec, len(c.DEXes))
	for _, d := range c.DEXes {
		out[d.Name] = domain.DEXSpec{
			Name:    d.Name,
			Type:    domain.DEXType(strings.ToLower(d.Type)),
			Router:  common.HexToAddress(d.Router),
			Factory: common.HexToAddress(d.Factory),
			Quoter:  common.HexToAddress(d.Quoter),
			FeeBps:  d.FeeBps,
		}
	}
	return out
}

// PairSpecs resolves the [[pair]] tables against the [[token]] tables.
func (c *Config) PairSpecs() ([]domain.PairSpec, error) {
	tokens := make(map[string]domain.Token, len(c.Tokens))
	for _, t := range c.Tokens {
		tokens[t.Symbol] = domain.Token{
			Symbol:   t.Symbol,
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
		}
	}

	out := make([]domain.PairSpec, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		base, ok := tokens[p.Base]
		if !ok {
			return nil, fmt.Errorf("config: pair %s: unknown base token %q", p.ID(), p.Base)
		}
		quote, ok := tokens[p.Quote]
		if !ok {
			return nil, fmt.Errorf("config: pair %s: unknown quote token %q", p.ID(), p.Quote)
		}
		out = append(out, domain.PairSpec{
			ID:            p.ID(),
			Base:          base,
			Quote:         quote,
			GasTokenPrice: p.GasTokenPrice,
		})
	}
	return out, nil
}

// PairDEXes returns the DEX names that quote pairID, in configuration order.
func (c *Config) PairDEXes(pairID string) []string {
	for _, p := range c.Pairs {
		if p.ID() != pairID {
			continue
		}
		if len(p.Dexes) > 0 {
			return append([]string(nil), p.Dexes...)
		}
		break
	}
	names := make([]string, 0, len(c.DEXes))
	for _, d := range c.DEXes {
		names = append(names, d.Name)
	}
	return names
}
