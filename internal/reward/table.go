package reward

import (
	"fmt"
	"math"
	"sort"

	"boarcore.com/pkg/xerr"
)

// TierID indexes a tier in the order it was configured.
type TierID int

// DrawSource names what is asking for a draw; tiers opt in per source.
type DrawSource uint8

const (
	FromAny DrawSource = iota
	FromDaily
)

type TierConfig struct {
	Name      string   `mapstructure:"name" json:"name"`
	Weight    float64  `mapstructure:"weight" json:"weight"`
	Score     int64    `mapstructure:"score" json:"score"`
	FromDaily bool     `mapstructure:"from_daily" json:"fromDaily"`
	Items     []string `mapstructure:"items" json:"items"`
}

type ItemConfig struct {
	Name        string `mapstructure:"name" json:"name"`
	Blacklisted bool   `mapstructure:"blacklisted" json:"blacklisted"`
	// Exclusive items only drop in contexts that allow them.
	Exclusive bool `mapstructure:"exclusive" json:"exclusive"`
	// Limited items are numbered: every copy in circulation has its own edition.
	Limited bool `mapstructure:"limited" json:"limited"`
}

type Tier struct {
	ID        TierID
	Name      string
	Weight    float64
	Score     int64
	FromDaily bool
	Items     []string
}

// Table is the validated, immutable tier configuration.
type Table struct {
	tiers  []Tier
	items  map[string]ItemConfig
	tierOf map[string]TierID
	rank   []int // rank[id]: 1 = most common
}

// NewTable validates the configuration: weights must be finite and
// non-negative, every tier member must be a configured item, and every item
// must belong to exactly one tier.
func NewTable(tiers []TierConfig, items map[string]ItemConfig) (*Table, error) {
	if len(tiers) == 0 {
		return nil, integrityErr("no reward tiers configured")
	}
	t := &Table{
		tiers:  make([]Tier, len(tiers)),
		items:  make(map[string]ItemConfig, len(items)),
		tierOf: make(map[string]TierID, len(items)),
		rank:   make([]int, len(tiers)),
	}
	for id, it := range items {
		t.items[id] = it
	}

	for i, tc := range tiers {
		if math.IsNaN(tc.Weight) || math.IsInf(tc.Weight, 0) || tc.Weight < 0 {
			return nil, integrityErr(fmt.Sprintf("tier %q has invalid weight %v", tc.Name, tc.Weight))
		}
		if tc.Score < 0 {
			return nil, integrityErr(fmt.Sprintf("tier %q has negative score %d", tc.Name, tc.Score))
		}
		members := make([]string, len(tc.Items))
		copy(members, tc.Items)
		for _, itemID := range members {
			if _, ok := t.items[itemID]; !ok {
				return nil, integrityErr(fmt.Sprintf("tier %q references unknown item %q", tc.Name, itemID))
			}
			if prev, dup := t.tierOf[itemID]; dup {
				return nil, integrityErr(fmt.Sprintf("item %q is in tiers %q and %q", itemID, tiers[prev].Name, tc.Name))
			}
			t.tierOf[itemID] = TierID(i)
		}
		t.tiers[i] = Tier{
			ID:        TierID(i),
			Name:      tc.Name,
			Weight:    tc.Weight,
			Score:     tc.Score,
			FromDaily: tc.FromDaily,
			Items:     members,
		}
	}
	for itemID := range t.items {
		if _, ok := t.tierOf[itemID]; !ok {
			return nil, integrityErr(fmt.Sprintf("item %q is in no tier", itemID))
		}
	}

	byWeight := make([]int, len(t.tiers))
	for i := range byWeight {
		byWeight[i] = i
	}
	sort.SliceStable(byWeight, func(a, b int) bool {
		return t.tiers[byWeight[a]].Weight > t.tiers[byWeight[b]].Weight
	})
	for r, id := range byWeight {
		t.rank[id] = r + 1
	}
	return t, nil
}

func integrityErr(msg string) error {
	return xerr.New(xerr.DataIntegrity, msg)
}

func (t *Table) Len() int { return len(t.tiers) }

func (t *Table) Tier(id TierID) (Tier, bool) {
	if id < 0 || int(id) >= len(t.tiers) {
		return Tier{}, false
	}
	return t.tiers[id], true
}

func (t *Table) Item(itemID string) (ItemConfig, bool) {
	it, ok := t.items[itemID]
	return it, ok
}

// Items lists every configured item id, sorted.
func (t *Table) Items() []string {
	out := make([]string, 0, len(t.items))
	for id := range t.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TierOf returns the tier holding itemID.
func (t *Table) TierOf(itemID string) (TierID, bool) {
	id, ok := t.tierOf[itemID]
	return id, ok
}

// Rank orders an item's tier from most common (1) to rarest; 0 if the item is unknown.
func (t *Table) Rank(itemID string) int {
	id, ok := t.tierOf[itemID]
	if !ok {
		return 0
	}
	return t.rank[id]
}

// BaseWeights is the configured weight of every tier eligible for src, zero otherwise.
func (t *Table) BaseWeights(src DrawSource) []float64 {
	weights := make([]float64, len(t.tiers))
	for i, tier := range t.tiers {
		if src == FromDaily && !tier.FromDaily {
			continue
		}
		weights[i] = tier.Weight
	}
	return weights
}
