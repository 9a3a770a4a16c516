package engine

import (
	"context"

	"go.uber.org/zap"

	"boarcore.com/internal/journal"
	"boarcore.com/internal/market"
	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/xerr"
)

// PlaceOrder rests an order and escrows what it could cost: coins for a buy,
// the items for a sell. Cancel refunds the unfilled remainder.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (*market.Order, error) {
	if req.Side != market.Buy && req.Side != market.Sell {
		return nil, validation("Choose buy or sell.")
	}
	if err := e.checkItem(req.Item, req.Edition, req.Quantity); err != nil {
		return nil, err
	}
	if !mulFits(req.Price, req.Quantity) {
		return nil, validation("Price must be a positive whole number.")
	}
	if err := e.allow(req.User); err != nil {
		return nil, err
	}

	var placed *market.Order
	err := e.withUser(ctx, "place_order", req.User, func(ctx context.Context, u *User) error {
		cost := req.Price * req.Quantity
		switch req.Side {
		case market.Buy:
			if u.Balance < cost {
				return validation("You don't have enough coins for that order.")
			}
		case market.Sell:
			if !u.Holds(req.Item, req.Edition, req.Quantity) {
				return validation("You don't have that many to sell.")
			}
		}
		err := e.withMarket(ctx, req.Item, u, func(context.Context) error {
			o, err := e.book.Submit(req.Item, req.Side, req.Price, req.Quantity, req.User, req.Edition)
			if err != nil {
				return err
			}
			if req.Side == market.Buy {
				u.Balance -= cost
			} else {
				u.take(req.Item, req.Edition, req.Quantity)
			}
			placed = o
			return nil
		})
		if err != nil {
			return err
		}
		logger.Info(ctx, "order placed", zap.String("item", req.Item), zap.Stringer("side", req.Side),
			zap.Uint64("order_id", placed.ID), zap.Int64("price", req.Price), zap.Int64("qty", req.Quantity))
		e.publish(Event{Type: EvListed, User: req.User, Item: req.Item, Side: req.Side.String(), Edition: req.Edition,
			OrderID: placed.ID, Quantity: req.Quantity})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// InstaBuy buys req.Quantity at the best asks. The whole quantity fills or
// nothing changes.
func (e *Engine) InstaBuy(ctx context.Context, req TradeRequest) (*market.MatchResult, error) {
	return e.trade(ctx, market.Buy, req)
}

// InstaSell sells req.Quantity into the best bids, all or nothing.
func (e *Engine) InstaSell(ctx context.Context, req TradeRequest) (*market.MatchResult, error) {
	return e.trade(ctx, market.Sell, req)
}

func (e *Engine) trade(ctx context.Context, taker market.Side, req TradeRequest) (*market.MatchResult, error) {
	if err := e.checkItem(req.Item, req.Edition, req.Quantity); err != nil {
		return nil, err
	}
	if req.Quote < 0 {
		return nil, validation("Quoted price can't be negative.")
	}
	if err := e.allow(req.User); err != nil {
		return nil, err
	}

	var res *market.MatchResult
	err := e.withUser(ctx, "insta_"+taker.String(), req.User, func(ctx context.Context, u *User) error {
		if taker == market.Sell && !u.Holds(req.Item, req.Edition, req.Quantity) {
			return validation("You don't have that many to sell.")
		}
		err := e.withMarket(ctx, req.Item, u, func(ctx context.Context) error {
			if taker == market.Buy {
				plan, err := e.book.Plan(req.Item, taker, req.Quantity, req.Edition)
				if err != nil {
					return err
				}
				if req.Quote > 0 && plan.TotalCost > req.Quote {
					return xerr.NewErrCode(xerr.PriceMoved)
				}
				if plan.TotalCost > u.Balance {
					return validation("You don't have enough coins for that.")
				}
			}
			r, err := e.book.MatchLimit(req.Item, taker, req.Quantity, req.Edition, req.Quote)
			if err != nil {
				return err
			}
			if taker == market.Buy {
				u.Balance -= r.TotalCost
				u.grant(req.Item, req.Edition, req.Quantity)
			} else {
				if err := u.credit(r.TotalCost); err != nil {
					return err
				}
				u.take(req.Item, req.Edition, req.Quantity)
			}
			res = r
			return nil
		})
		if err != nil {
			return err
		}
		e.record(ctx, req.User, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// record journals a committed match and announces it. A journal failure is
// logged; the match is already saved.
func (e *Engine) record(ctx context.Context, user string, res *market.MatchResult) {
	var seq uint64
	if e.journal != nil {
		var err error
		if seq, err = e.journal.Append(journal.FromMatch(user, res, e.now())); err == nil {
			err = e.journal.Flush()
		}
		if err != nil {
			logger.Error(ctx, "journal append failed", zap.Error(err), zap.Int64("total_cost", res.TotalCost))
		}
	}
	logger.Info(ctx, "match executed", zap.Stringer("taker", res.Taker), zap.Int64("qty", res.Quantity),
		zap.Int64("total_cost", res.TotalCost), zap.String("avg_price", res.AvgPrice().StringFixed(2)),
		zap.Int("fills", len(res.Fills)))
	e.publish(Event{Type: EvTrade, User: user, Item: res.Item, Side: res.Taker.String(), Edition: res.Edition,
		Quantity: res.Quantity, Amount: res.TotalCost, Seq: seq})
}

// Claim collects everything filled but not yet collected on one of user's
// orders: coins for a sell, items for a buy. Settled orders leave the book.
func (e *Engine) Claim(ctx context.Context, user, item string, orderID uint64) (*ClaimResult, error) {
	if _, ok := e.table.Item(item); !ok {
		return nil, validation("That item doesn't exist.")
	}
	if err := e.allow(user); err != nil {
		return nil, err
	}
	var out ClaimResult
	err := e.withUser(ctx, "claim", user, func(ctx context.Context, u *User) error {
		err := e.withMarket(ctx, item, u, func(context.Context) error {
			o, ok := e.book.Order(item, orderID)
			if !ok || o.Owner != user {
				return xerr.NewErrCode(xerr.NotFound)
			}
			amount := o.Unclaimed()
			if amount == 0 {
				return validation("Nothing to claim on that order yet.")
			}
			claimed, err := e.book.Claim(item, orderID, amount)
			if err != nil {
				return err
			}
			e.book.Prune(item)
			out.Order = claimed
			if claimed.Side == market.Sell {
				if !mulFits(claimed.Price, amount) {
					return validation("That order is too large to settle.")
				}
				out.Coins = claimed.Price * amount
				return u.credit(out.Coins)
			}
			out.Items = amount
			u.grant(item, claimed.Edition, amount)
			return nil
		})
		if err != nil {
			return err
		}
		e.publish(Event{Type: EvClaimed, User: user, Item: item, Edition: out.Order.Edition,
			OrderID: orderID, Quantity: out.Items, Amount: out.Coins})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel withdraws one of user's orders and refunds its unfilled remainder.
// Orders with unclaimed fills must be claimed first.
func (e *Engine) Cancel(ctx context.Context, user, item string, orderID uint64) (*market.Order, error) {
	if _, ok := e.table.Item(item); !ok {
		return nil, validation("That item doesn't exist.")
	}
	if err := e.allow(user); err != nil {
		return nil, err
	}
	var removed market.Order
	err := e.withUser(ctx, "cancel", user, func(ctx context.Context, u *User) error {
		var left int64
		err := e.withMarket(ctx, item, u, func(context.Context) error {
			o, err := e.book.Cancel(item, orderID, user)
			if err != nil {
				return err
			}
			removed, left = o, o.Remaining()
			if o.Side == market.Sell {
				if left > 0 {
					u.grant(item, o.Edition, left)
				}
				return nil
			}
			if left > 0 && !mulFits(o.Price, left) {
				return validation("That order is too large to refund.")
			}
			return u.credit(o.Price * left)
		})
		if err != nil {
			return err
		}
		e.publish(Event{Type: EvCancelled, User: user, Item: item, Edition: removed.Edition,
			OrderID: orderID, Quantity: left})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}
