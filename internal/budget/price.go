package budget

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Price is the cost of a model in USD per million tokens.
type Price struct {
	InputPerMillion  float64 `json:"input"`
	OutputPerMillion float64 `json:"output"`
	ContextLimit     int     `json:"context_limit,omitempty"`
}

// PriceTable converts token counts into cost.
type PriceTable struct {
	prices   map[string]Price
	fallback Price
}

// NewPriceTable builds a table. fallback prices unknown models.
func NewPriceTable(prices map[string]Price, fallback Price) *PriceTable {
	pt := &PriceTable{prices: make(map[string]Price, len(prices)), fallback: fallback}
	for k, v := range prices {
		pt.prices[strings.ToLower(k)] = v
	}
	return pt
}

// DefaultPriceTable covers the models the bundled providers default to.
func DefaultPriceTable() *PriceTable {
	return NewPriceTable(map[string]Price{
		"gpt-4o":                     {InputPerMillion: 2.50, OutputPerMillion: 10.00, ContextLimit: 128000},
		"gpt-4o-mini":                {InputPerMillion: 0.15, OutputPerMillion: 0.60, ContextLimit: 128000},
		"claude-3-5-sonnet-20241022": {InputPerMillion: 3.00, OutputPerMillion: 15.00, ContextLimit: 200000},
		"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00, ContextLimit: 200000},
		"heuristic":                  {},
		"scripted":                   {},
	}, Price{InputPerMillion: 3.00, OutputPerMillion: 15.00})
}

// Lookup finds the price of model, trying "provider/model" then the bare model id.
func (pt *PriceTable) Lookup(model string) (Price, bool) {
	key := strings.ToLower(strings.TrimSpace(model))
	if p, ok := pt.prices[key]; ok {
		return p, true
	}
	if i := strings.LastIndex(key, "/"); i >= 0 {
		if p, ok := pt.prices[key[i+1:]]; ok {
			return p, true
		}
	}
	return pt.fallback, false
}

// Cost converts a call's token usage into USD.
func (pt *PriceTable) Cost(model string, promptTokens, completionTokens int) float64 {
	p, _ := pt.Lookup(model)
	return (float64(promptTokens)*p.InputPerMillion + float64(completionTokens)*p.OutputPerMillion) / 1e6
}

// Models lists the known model keys in sorted order.
func (pt *PriceTable) Models() []string {
	out := make([]string, 0, len(pt.prices))
	for k := range pt.prices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type catalogModel struct {
	ID   string `json:"id"`
	Cost struct {
		Input  float64 `json:"input"`
		Output float64 `json:"output"`
	} `json:"cost"`
	Limit struct {
		Context int `json:"context"`
	} `json:"limit"`
}

type catalogProvider struct {
	ID     string                  `json:"id"`
	Models map[string]catalogModel `json:"models"`
}

// LoadPriceTable reads a models.dev style catalog: provider id to provider,
// each with a models map carrying cost.input/cost.output per million tokens.
// Models are indexed as "provider/model" and as the bare id; for a bare id
// listed by several providers the first provider in sorted order wins.
func LoadPriceTable(r io.Reader, fallback Price) (*PriceTable, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode price catalog: %w", err)
	}

	providerIDs := make([]string, 0, len(raw))
	for id := range raw {
		providerIDs = append(providerIDs, id)
	}
	sort.Strings(providerIDs)

	prices := make(map[string]Price)
	for _, pid := range providerIDs {
		var prov catalogProvider
		if err := json.Unmarshal(raw[pid], &prov); err != nil {
			// Catalogs carry non-provider entries; skip anything that is not an object of models.
			continue
		}
		for mid, m := range prov.Models {
			id := m.ID
			if id == "" {
				id = mid
			}
			p := Price{InputPerMillion: m.Cost.Input, OutputPerMillion: m.Cost.Output, ContextLimit: m.Limit.Context}
			prices[pid+"/"+id] = p
			if _, seen := prices[id]; !seen {
				prices[id] = p
			}
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("decode price catalog: no models found")
	}
	return NewPriceTable(prices, fallback), nil
}
