// Package cost prices transcript token usage and attributes spend to
// sessions, skill runs, and acceptance criteria.
package cost

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// ModelPrice holds dollar rates per million tokens for one model.
type ModelPrice struct {
	Input        float64 `json:"input"`
	Output       float64 `json:"output"`
	CacheWrite5m float64 `json:"cache_write_5m"`
	CacheWrite1h float64 `json:"cache_write_1h"`
	CacheRead    float64 `json:"cache_read"`
}

// Pricing is the model rate catalog persisted at .tusk/pricing.json.
type Pricing struct {
	Models    map[string]ModelPrice `json:"models"`
	Aliases   map[string]string     `json:"aliases,omitempty"`
	UpdatedAt string                `json:"updated_at,omitempty"`

	warned map[string]bool
}

// DefaultPricing returns the seeded catalog used until a pricing-update
// replaces it.
func DefaultPricing() *Pricing {
	return &Pricing{
		Models: map[string]ModelPrice{
			"claude-opus-4": {
				Input: 15, Output: 75,
				CacheWrite5m: 18.75, CacheWrite1h: 30, CacheRead: 1.5,
			},
			"claude-sonnet-4": {
				Input: 3, Output: 15,
				CacheWrite5m: 3.75, CacheWrite1h: 6, CacheRead: 0.3,
			},
			"claude-haiku-3-5": {
				Input: 0.8, Output: 4,
				CacheWrite5m: 1, CacheWrite1h: 1.6, CacheRead: 0.08,
			},
		},
		Aliases: map[string]string{
			"opus":   "claude-opus-4",
			"sonnet": "claude-sonnet-4",
			"haiku":  "claude-haiku-3-5",
		},
	}
}

// LoadPricing reads the catalog; a missing file yields the defaults.
func LoadPricing(path string) (*Pricing, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPricing(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pricing: %w", err)
	}
	var p Pricing
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pricing %s: %w", path, err)
	}
	if len(p.Models) == 0 {
		return nil, fmt.Errorf("pricing %s lists no models", path)
	}
	return &p, nil
}

// Save writes the catalog, stamping updated_at.
func (p *Pricing) Save(path string) error {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Lookup resolves a model id to its rates: exact match, then alias,
// then longest matching prefix. Unknown models price at zero with a
// one-time warning; a missing rate must never block attribution.
func (p *Pricing) Lookup(model string) ModelPrice {
	if mp, ok := p.Models[model]; ok {
		return mp
	}
	if target, ok := p.Aliases[model]; ok {
		if mp, ok := p.Models[target]; ok {
			return mp
		}
	}

	names := make([]string, 0, len(p.Models))
	for name := range p.Models {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for _, name := range names {
		if strings.HasPrefix(model, name) {
			return p.Models[name]
		}
	}

	if p.warned == nil {
		p.warned = make(map[string]bool)
	}
	if model != "" && !p.warned[model] {
		p.warned[model] = true
		slog.Warn("no pricing for model, costing at zero", "model", model)
	}
	return ModelPrice{}
}
