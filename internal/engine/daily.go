package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"boarcore.com/internal/reward"
	"boarcore.com/pkg/logger"
)

// Daily draws user's daily reward. A nil filter uses the engine's default
// eligibility (no blacklisted items, exclusive ones only if configured).
func (e *Engine) Daily(ctx context.Context, user string, filter reward.Filter) (*reward.Outcome, error) {
	if err := e.allow(user); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = reward.Eligible(e.cfg.AllowExclusive)
	}

	var (
		out   *reward.Outcome
		score int64
	)
	err := e.withUser(ctx, "daily", user, func(ctx context.Context, u *User) error {
		now := e.now()
		if !reward.DailyAvailable(u.LastDaily, now) {
			wait := reward.NextDailyReset(now).Sub(now).Round(time.Minute)
			return validation(fmt.Sprintf("You already took today's reward. Come back in %s.", wait))
		}

		weights := reward.Reshape(e.table.BaseWeights(reward.FromDaily), u.Luck, e.cfg.LuckK)
		drawn, err := e.sampler.DrawMany(weights, filter, e.cfg.ExtraChances)
		if err != nil {
			return err
		}
		o := &reward.Outcome{Multiplier: u.Luck}
		for i := range drawn {
			d := &drawn[i]
			if it, _ := e.table.Item(d.Item); it.Limited {
				ed, err := e.nextEdition(ctx, d.Item)
				if err != nil {
					return err
				}
				d.Edition = ed
			}
			u.grant(d.Item, d.Edition, 1)
			o.Score += d.Score
		}
		o.Items = drawn
		if err := u.addScore(o.Score); err != nil {
			return err
		}
		if err := u.credit(e.cfg.DailyCoins); err != nil {
			return err
		}
		u.LastDaily = now
		out, score = o, u.Score

		logger.Info(ctx, "daily granted", zap.Int("items", len(drawn)), zap.Int64("score", o.Score))
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range out.Items {
		e.publish(Event{Type: EvDaily, User: user, Item: d.Item, Edition: d.Edition, Quantity: 1})
	}
	e.rank(ctx, user, score)
	return out, nil
}

// SetLuck sets the user's luck multiplier. Values below 1 are refused.
func (e *Engine) SetLuck(ctx context.Context, user string, multiplier float64) error {
	if multiplier < 1 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return validation("Luck must be at least 1.")
	}
	return e.withUser(ctx, "set_luck", user, func(_ context.Context, u *User) error {
		u.Luck = multiplier
		return nil
	})
}

// Grant gives user items outside the reward flow (admin gifts, migrations).
// Limited items get fresh editions, one per copy. Each copy adds its tier's
// score, as a drawn one would.
func (e *Engine) Grant(ctx context.Context, user, item string, qty int64) ([]int64, error) {
	it, ok := e.table.Item(item)
	if !ok {
		return nil, validation("That item doesn't exist.")
	}
	if qty <= 0 {
		return nil, validation("Quantity must be a positive whole number.")
	}
	var gain int64
	if id, ok := e.table.TierOf(item); ok {
		if tier, _ := e.table.Tier(id); tier.Score > 0 {
			if !mulFits(tier.Score, qty) {
				return nil, validation("That grant is too large.")
			}
			gain = tier.Score * qty
		}
	}
	var (
		editions []int64
		score    int64
	)
	err := e.withUser(ctx, "grant", user, func(ctx context.Context, u *User) error {
		if err := u.addScore(gain); err != nil {
			return err
		}
		score = u.Score
		if !it.Limited {
			u.grant(item, 0, qty)
			return nil
		}
		for i := int64(0); i < qty; i++ {
			ed, err := e.nextEdition(ctx, item)
			if err != nil {
				return err
			}
			u.grant(item, ed, 1)
			editions = append(editions, ed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if gain > 0 {
		e.rank(ctx, user, score)
	}
	return editions, nil
}
