package engine

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"boarcore.com/internal/market"
	"boarcore.com/pkg/xerr"
)

type Config struct {
	Market market.Config `mapstructure:"market"`
	// LuckK controls how fast a luck multiplier pulls weight toward rare tiers.
	LuckK float64 `mapstructure:"luck_k"`
	// ExtraChances are percentages, each one an independent roll for another daily draw.
	ExtraChances    []float64 `mapstructure:"extra_chances"`
	StartingBalance int64     `mapstructure:"starting_balance"`
	DailyCoins      int64     `mapstructure:"daily_coins"`
	// AllowExclusive lets exclusive items drop from the default daily filter.
	AllowExclusive bool `mapstructure:"allow_exclusive"`
	// RateLimit is commands per second per user; zero disables limiting.
	RateLimit   float64 `mapstructure:"rate_limit"`
	RateBurst   int     `mapstructure:"rate_burst"`
	EventBuffer int     `mapstructure:"event_buffer"`
	// LeaderboardSize is how many top scores the leaderboard keeps.
	LeaderboardSize int `mapstructure:"leaderboard_size"`
}

const (
	DefaultLuckK           = 100
	DefaultLeaderboardSize = 100
)

// Validate fills defaults and rejects values the engine can't run with.
func (c *Config) Validate() error {
	if c.LuckK == 0 {
		c.LuckK = DefaultLuckK
	}
	if c.LuckK < 0 || math.IsNaN(c.LuckK) || math.IsInf(c.LuckK, 0) {
		return fmt.Errorf("engine: luck_k must be positive, got %v", c.LuckK)
	}
	for _, pct := range c.ExtraChances {
		if pct < 0 || pct > 100 || math.IsNaN(pct) {
			return fmt.Errorf("engine: extra chance %v outside [0,100]", pct)
		}
	}
	if c.StartingBalance < 0 || c.DailyCoins < 0 {
		return fmt.Errorf("engine: balances can't be negative")
	}
	if c.Market.OrderTTL < 0 {
		return fmt.Errorf("engine: market.order_ttl can't be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("engine: rate_limit can't be negative")
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.LeaderboardSize < 0 {
		return fmt.Errorf("engine: leaderboard_size can't be negative")
	}
	if c.LeaderboardSize == 0 {
		c.LeaderboardSize = DefaultLeaderboardSize
	}
	return nil
}

// User is the persisted record of one player.
type User struct {
	ID      string  `json:"id"`
	Balance int64   `json:"balance"`
	Score   int64   `json:"score"`
	Luck    float64 `json:"luck"`
	// Items counts fungible holdings.
	Items map[string]int64 `json:"items"`
	// Editions lists the numbered copies held of each limited item.
	Editions  map[string][]int64 `json:"editions,omitempty"`
	LastDaily time.Time          `json:"lastDaily"`

	// committed is set once a market task has saved this record.
	committed bool
}

func newUser(id string, balance int64) *User {
	return &User{ID: id, Balance: balance, Luck: 1, Items: map[string]int64{}, Editions: map[string][]int64{}}
}

func (u *User) clone() *User {
	c := *u
	c.Items = maps.Clone(u.Items)
	c.Editions = make(map[string][]int64, len(u.Editions))
	for item, eds := range u.Editions {
		c.Editions[item] = slices.Clone(eds)
	}
	return &c
}

// credit adds n coins, refusing a balance that would overflow.
func (u *User) credit(n int64) error {
	if n < 0 || u.Balance > math.MaxInt64-n {
		return validation("That would overflow your coin balance.")
	}
	u.Balance += n
	return nil
}

func (u *User) addScore(n int64) error {
	if n < 0 || u.Score > math.MaxInt64-n {
		return validation("That would overflow your score.")
	}
	u.Score += n
	return nil
}

// Holds reports whether u owns qty of item, or the given edition of it.
func (u *User) Holds(item string, edition, qty int64) bool {
	if edition > 0 {
		return qty == 1 && slices.Contains(u.Editions[item], edition)
	}
	return u.Items[item] >= qty
}

func (u *User) grant(item string, edition, qty int64) {
	if edition > 0 {
		if u.Editions == nil {
			u.Editions = map[string][]int64{}
		}
		u.Editions[item] = append(u.Editions[item], edition)
		slices.Sort(u.Editions[item])
		return
	}
	if u.Items == nil {
		u.Items = map[string]int64{}
	}
	u.Items[item] += qty
}

func (u *User) take(item string, edition, qty int64) {
	if edition > 0 {
		eds := u.Editions[item]
		if i := slices.Index(eds, edition); i >= 0 {
			u.Editions[item] = slices.Delete(eds, i, i+1)
		}
		if len(u.Editions[item]) == 0 {
			delete(u.Editions, item)
		}
		return
	}
	u.Items[item] -= qty
	if u.Items[item] <= 0 {
		delete(u.Items, item)
	}
}

// OrderRequest lists a resting order.
type OrderRequest struct {
	User     string
	Item     string
	Side     market.Side
	Price    int64
	Quantity int64
	Edition  int64
}

// TradeRequest trades immediately against the book. Quote is the total the
// user was shown; when non-zero the trade is refused if the book moved
// against them since.
type TradeRequest struct {
	User     string
	Item     string
	Quantity int64
	Edition  int64
	Quote    int64
}

type ClaimResult struct {
	Order market.Order `json:"order"`
	// Coins or Items collected; exactly one is non-zero.
	Coins int64 `json:"coins"`
	Items int64 `json:"items"`
}

func validation(msg string) error { return xerr.New(xerr.Validation, msg) }
