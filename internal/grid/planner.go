package grid

import (
	"math"
	"sort"
	"time"

	"binance-regime-grid-go/internal/indicators"
	"binance-regime-grid-go/internal/models"
)

// ActionKind is the kind of venue call an action needs.
type ActionKind string

const (
	ActionPlace      ActionKind = "place"
	ActionCancel     ActionKind = "cancel"
	ActionMarketSell ActionKind = "market_sell"
)

// Action is one order change the reconciler wants to make.
type Action struct {
	Kind          ActionKind
	Level         int // -1 for orders not tied to a level
	Side          models.Side
	Price         float64
	Quantity      float64
	OrderID       int64
	ClientOrderID string
	Reason        string
}

// Observation is the exchange view of one tick.
type Observation struct {
	Now           time.Time
	Price         float64
	Snapshot      indicators.Snapshot
	Stats         *models.Stats24h
	Rules         models.SymbolRules
	OpenOrders    []models.Order
	OpenKnown     bool                    // false when the open-order fetch failed
	Resolved      map[int64]*models.Order // tracked orders missing from OpenOrders, looked up by id
	Missing       map[int64]bool          // tracked orders the venue does not know
	QuoteFree     float64
	BaseFree      float64
	EntriesPaused bool
	RulesStale    bool // rules lookup failed, Rules is the last good copy
	PriceStale    bool // Price is the last known price, not this tick's
}

// canPlace reports whether the tick may put new orders on the venue. Stale
// inputs still drive guards and cancels.
func (o Observation) canPlace() bool {
	return o.OpenKnown && !o.RulesStale && !o.PriceStale
}

// Params are the per-grid knobs Reconcile needs.
type Params struct {
	Guards       models.GuardConfig
	Grid         models.GridConfig
	MakerFeeRate float64
}

// Report summarises what a tick did besides the actions.
type Report struct {
	Guards     GuardResult
	Transition Transition
	Stopped    bool
	FeesPaid   float64
	Fills      []models.Order
}

// Reconcile computes the next grid state and the actions that move the venue
// towards it. It does no I/O; prev is not modified.
func Reconcile(prev *models.GridState, obs Observation, p Params) (*models.GridState, []Action, Report) {
	next := prev.Clone()
	var rep Report
	if next.Status == models.GridStopped {
		return next, nil, rep
	}

	var actions []Action
	if obs.OpenKnown {
		rep.FeesPaid, rep.Fills = syncOrders(next, obs, p.MakerFeeRate)
		actions = append(actions, adoptOrders(next, obs)...)
	}

	var volume *float64
	if obs.Stats != nil {
		v := obs.Stats.QuoteVolume
		volume = &v
	}
	in := GuardInput{Price: obs.Price, Snapshot: obs.Snapshot, QuoteVolume: volume}
	if obs.PriceStale {
		in.Price = 0
	}
	guards, trending := EvaluateGuards(next, in, p.Guards)
	if !obs.PriceStale {
		next.BreakdownTicks = guards.BreakdownTicks
	}
	next.Trending = trending
	rep.Guards = guards
	// a tick without fresh prices never counts towards a resume
	if !obs.PriceStale || guards.Any() {
		rep.Transition = ApplyPause(next, guards, obs.Now, p.Guards)
	}

	if !obs.PriceStale && BreakoutStop(next, obs.Price, p.Grid.StopOnBreakoutPct) {
		rep.Stopped = true
		actions = append(actions, stopGrid(next, obs, p)...)
		finish(next, prev, actions, obs.Now)
		return next, actions, rep
	}

	if next.BuyPaused {
		actions = append(actions, cancelBuys(next)...)
	}
	if obs.canPlace() {
		actions = append(actions, placements(next, obs, p)...)
	}
	finish(next, prev, actions, obs.Now)
	return next, actions, rep
}

func finish(next, prev *models.GridState, actions []Action, now time.Time) {
	if len(actions) > 0 || next.BuyPaused != prev.BuyPaused || next.PauseReason != prev.PauseReason ||
		next.Status != prev.Status || next.Performance != prev.Performance {
		next.UpdatedAt = now
	}
}

// syncOrders drops tracked orders that are no longer open, booking any fills.
func syncOrders(g *models.GridState, obs Observation, feeRate float64) (float64, []models.Order) {
	open := make(map[int64]bool, len(obs.OpenOrders))
	for _, o := range obs.OpenOrders {
		open[o.OrderID] = true
	}

	var fees float64
	var fills []models.Order
	for i := range g.Levels {
		lvl := &g.Levels[i]
		for _, side := range []models.Side{models.Buy, models.Sell} {
			tracked := lvl.Order(side)
			if tracked == nil || open[tracked.OrderID] {
				continue
			}
			if obs.Missing[tracked.OrderID] {
				lvl.SetOrder(side, nil)
				continue
			}
			resolved, ok := obs.Resolved[tracked.OrderID]
			if !ok || resolved == nil || resolved.Status.IsOpen() {
				// lookup failed or the snapshot raced the fill; try again next tick
				continue
			}
			if resolved.ExecutedQty > 0 {
				fees += bookFill(&g.Performance, side, resolved.ExecutedQty, resolved.AvgFillPrice(), feeRate)
				fills = append(fills, *resolved)
			}
			lvl.SetOrder(side, nil)
		}
	}
	return fees, fills
}

func bookFill(perf *models.GridPerformance, side models.Side, qty, price, feeRate float64) float64 {
	fee := qty * price * feeRate
	perf.Fees += fee
	if side == models.Buy {
		perf.BuyFills++
		perf.InventoryQty += qty
		perf.InventoryCost += qty*price + fee
		return fee
	}
	perf.SellFills++
	if perf.InventoryQty > 0 {
		sold := math.Min(qty, perf.InventoryQty)
		avg := perf.InventoryCost / perf.InventoryQty
		perf.RealizedPnL += sold * (price - avg)
		perf.InventoryCost -= sold * avg
		perf.InventoryQty -= sold
	}
	perf.RealizedPnL -= fee
	return fee
}

// adoptOrders attaches untracked open orders that belong to the grid and
// cancels duplicates on an already occupied level.
func adoptOrders(g *models.GridState, obs Observation) []Action {
	tracked := make(map[int64]bool)
	for _, o := range g.OpenOrders() {
		tracked[o.OrderID] = true
	}
	tag := GridTag(g.ID)

	var actions []Action
	for _, o := range obs.OpenOrders {
		if tracked[o.OrderID] || !o.Status.IsOpen() || o.Type == models.OrderTypeMarket {
			continue
		}
		idx, ours := levelFor(g, o, tag, obs.Rules)
		if idx < 0 {
			continue
		}
		lvl := &g.Levels[idx]
		if lvl.Order(o.Side) == nil {
			lvl.SetOrder(o.Side, &models.GridOrder{
				OrderID:       o.OrderID,
				ClientOrderID: o.ClientOrderID,
				Side:          o.Side,
				Price:         o.Price,
				Quantity:      o.Quantity - o.ExecutedQty,
				PlacedAt:      o.Time,
			})
			tracked[o.OrderID] = true
			continue
		}
		if ours {
			actions = append(actions, Action{
				Kind: ActionCancel, Level: idx, Side: o.Side, Price: o.Price,
				Quantity: o.Quantity, OrderID: o.OrderID, ClientOrderID: o.ClientOrderID,
				Reason: "duplicate",
			})
		}
	}
	return actions
}

// levelFor maps an open order to a level, by client id first and price second.
// Price matching only considers orders placed by a grid or without a client
// id, so manual orders on the symbol are never taken over.
func levelFor(g *models.GridState, o models.Order, tag string, rules models.SymbolRules) (int, bool) {
	t, level, side, parsed := ParseClientOrderID(o.ClientOrderID)
	if parsed && t == tag && side == o.Side {
		if level >= 0 && level < len(g.Levels) {
			return level, true
		}
		return -1, true
	}
	if !parsed && o.ClientOrderID != "" {
		return -1, false
	}
	price := rules.RoundPrice(o.Price)
	for i := range g.Levels {
		if g.Levels[i].Price == price {
			return i, false
		}
	}
	return -1, false
}

func cancelBuys(g *models.GridState) []Action {
	var out []Action
	for _, lvl := range g.Levels {
		if o := lvl.Buy; o != nil {
			out = append(out, cancelAction(lvl.Index, o, "buy_paused"))
		}
	}
	return out
}

func cancelAction(level int, o *models.GridOrder, reason string) Action {
	return Action{
		Kind: ActionCancel, Level: level, Side: o.Side, Price: o.Price,
		Quantity: o.Quantity, OrderID: o.OrderID, ClientOrderID: o.ClientOrderID,
		Reason: reason,
	}
}

// stopGrid marks the grid stopped and emits the liquidation actions.
func stopGrid(g *models.GridState, obs Observation, p Params) []Action {
	action := models.LiquidationAction(p.Grid.Liquidation)
	if action == "" {
		action = models.LiquidateCancelOnly
	}
	g.Status = models.GridStopped
	g.StopReason = "breakout"
	g.Liquidation = action

	var out []Action
	switch action {
	case models.LiquidateCancelOnly, models.LiquidateMarketSell:
		for _, lvl := range g.Levels {
			for _, o := range []*models.GridOrder{lvl.Buy, lvl.Sell} {
				if o != nil {
					out = append(out, cancelAction(lvl.Index, o, "breakout"))
				}
			}
		}
	}
	if action == models.LiquidateMarketSell && !obs.RulesStale {
		// locked base is released by the cancels above
		base := obs.BaseFree
		for _, lvl := range g.Levels {
			if lvl.Sell != nil {
				base += lvl.Sell.Quantity
			}
		}
		qty := obs.Rules.FloorQty(base)
		if qty > 0 && qty >= obs.Rules.MinQty && qty*obs.Price >= obs.Rules.MinNotional {
			out = append(out, Action{Kind: ActionMarketSell, Level: -1, Side: models.Sell, Quantity: qty, Reason: "breakout"})
		}
	}
	return out
}

// placements fills empty levels: BUY strictly below price while quote lasts,
// SELL strictly above price while base lasts, nearest levels first.
func placements(g *models.GridState, obs Observation, p Params) []Action {
	if !validPrice(obs.Price) {
		return nil
	}
	var below, above []int
	for i, lvl := range g.Levels {
		switch {
		case lvl.Price < obs.Price:
			below = append(below, i)
		case lvl.Price > obs.Price:
			above = append(above, i)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(below)))

	var out []Action
	if !g.BuyPaused && !obs.EntriesPaused {
		budget := obs.QuoteFree
		for _, i := range below {
			lvl := &g.Levels[i]
			if lvl.Buy != nil {
				continue
			}
			qty, ok := levelQty(lvl.Price, p.Grid.OrderNotional, obs.Rules)
			if !ok || qty*lvl.Price > budget {
				continue
			}
			budget -= qty * lvl.Price
			out = append(out, placeAction(g, lvl, models.Buy, qty))
		}
	}

	inventory := obs.BaseFree
	for _, i := range above {
		lvl := &g.Levels[i]
		if lvl.Sell != nil {
			continue
		}
		qty, ok := levelQty(lvl.Price, p.Grid.OrderNotional, obs.Rules)
		if !ok || qty > inventory {
			continue
		}
		inventory -= qty
		out = append(out, placeAction(g, lvl, models.Sell, qty))
	}
	return out
}

func placeAction(g *models.GridState, lvl *models.GridLevel, side models.Side, qty float64) Action {
	g.Generation++
	return Action{
		Kind:          ActionPlace,
		Level:         lvl.Index,
		Side:          side,
		Price:         lvl.Price,
		Quantity:      qty,
		ClientOrderID: ClientOrderID(g.ID, g.Generation, lvl.Index, side),
	}
}

func levelQty(price, notional float64, rules models.SymbolRules) (float64, bool) {
	if price <= 0 || notional <= 0 {
		return 0, false
	}
	qty := rules.FloorQty(notional / price)
	if qty <= 0 || qty < rules.MinQty || qty*price < rules.MinNotional {
		return 0, false
	}
	return qty, true
}
