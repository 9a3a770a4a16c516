package reward

import (
	"sync"
	"time"

	"golang.org/x/exp/rand"

	"boarcore.com/pkg/metrics"
	"boarcore.com/pkg/xerr"
)

// Rand is the uniform source a Sampler draws from.
type Rand interface {
	Float64() float64
}

// Drawn is one item handed out by a draw.
type Drawn struct {
	Tier     TierID `json:"tier"`
	TierName string `json:"tierName"`
	Item     string `json:"item"`
	Score    int64  `json:"score"`
	// Edition is assigned by the caller for limited items.
	Edition int64 `json:"edition,omitempty"`
}

// Outcome is what a reward command produced, for the reply renderer.
type Outcome struct {
	Items      []Drawn `json:"items"`
	Multiplier float64 `json:"multiplier"`
	Score      int64   `json:"score"`
}

type Sampler struct {
	table *Table
	mu    sync.Mutex
	rng   Rand
}

// NewSampler draws from table using rng; a nil rng gets a time-seeded source.
func NewSampler(table *Table, rng Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	}
	return &Sampler{table: table, rng: rng}
}

func (s *Sampler) Table() *Table { return s.table }

func (s *Sampler) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Draw rolls a tier from weights and then an item inside it.
func (s *Sampler) Draw(weights []float64, filter Filter) (Drawn, bool) {
	id := DrawTier(weights, s.float())
	itemID, ok := s.table.DrawItem(id, filter, s.float())
	if !ok {
		return Drawn{}, false
	}
	tier, _ := s.table.Tier(id)
	metrics.RewardDraws.WithLabelValues(tier.Name).Inc()
	return Drawn{Tier: id, TierName: tier.Name, Item: itemID, Score: tier.Score}, true
}

// DrawMany makes one base draw plus one more for every extra chance (a
// percentage in [0,100]) whose independent roll lands below it. A failed base
// draw is an error; failed extra draws are dropped.
func (s *Sampler) DrawMany(weights []float64, filter Filter, extraChances []float64) ([]Drawn, error) {
	n := 1
	for _, pct := range extraChances {
		if s.float()*100 < pct {
			n++
		}
	}

	out := make([]Drawn, 0, n)
	base, ok := s.Draw(weights, filter)
	if !ok {
		return nil, xerr.New(xerr.DataIntegrity, "no eligible item for this draw")
	}
	out = append(out, base)
	for i := 1; i < n; i++ {
		if d, ok := s.Draw(weights, filter); ok {
			out = append(out, d)
		}
	}
	return out, nil
}
