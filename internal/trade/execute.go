package trade

import (
	"fmt"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/economy"
)

// Proposal is a trade offered by Proposer to Target.
type Proposal struct {
	Proposer agents.AgentID  `json:"proposer"`
	Target   agents.AgentID  `json:"target"`
	Offer    candy.Inventory `json:"offer"`   // What the proposer gives
	Request  candy.Inventory `json:"request"` // What the proposer receives
	Tick     uint64          `json:"tick"`
}

// Validate checks the proposal's shape without touching inventories.
func (p Proposal) Validate() error {
	if p.Proposer == p.Target {
		return ErrSelfTrade
	}
	if p.Offer.HasNegative() || p.Request.HasNegative() {
		return ErrNegativeQuantity
	}
	if p.Offer.IsEmpty() && p.Request.IsEmpty() {
		return ErrEmptyTrade
	}
	return nil
}

// Result describes a completed trade.
type Result struct {
	Proposal
	ProposerProfit float64              `json:"proposer_profit"`
	TargetProfit   float64              `json:"target_profit"`
	Prices         []economy.PricePoint `json:"prices"`
	Internal       bool                 `json:"internal"` // Both parties in the same bloc
}

// Execute swaps inventories between proposer a and target b. Inventories
// are re-validated here because they may have changed since evaluation; on
// failure neither agent is modified. On success both histories and belief
// tables are updated and the trade's prices are recorded in the economy.
func Execute(eco *economy.Economy, a, b *agents.Agent, p Proposal) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if a.ID != p.Proposer || b.ID != p.Target {
		return Result{}, fmt.Errorf("proposal %d->%d applied to agents %d,%d", p.Proposer, p.Target, a.ID, b.ID)
	}
	if !a.CanCover(p.Offer) {
		return Result{}, fmt.Errorf("proposer %d: %w", a.ID, agents.ErrInsufficientInventory)
	}
	if !b.CanCover(p.Request) {
		return Result{}, fmt.Errorf("target %d: %w", b.ID, agents.ErrInsufficientInventory)
	}

	aFresh, bFresh := a.Freshness, b.Freshness
	prices := economy.TradePrices(p.Offer, p.Request, a.Beliefs, b.Beliefs, p.Tick)

	// Both sides were checked above, so neither Give can fail.
	_ = a.Give(p.Offer)
	_ = b.Give(p.Request)
	a.Receive(p.Request, bFresh)
	b.Receive(p.Offer, aFresh)

	values := eco.RealValues()
	aProfit := p.Request.Value(values) - p.Offer.Value(values)
	res := Result{
		Proposal:       p,
		ProposerProfit: aProfit,
		TargetProfit:   -aProfit,
		Prices:         prices,
		Internal:       agents.InBloc(a, b),
	}

	agents.RecordTrade(a, agents.TradeOutcome{Tick: p.Tick, Partner: b.ID, Gave: p.Offer, Got: p.Request, Profit: aProfit})
	agents.RecordTrade(b, agents.TradeOutcome{Tick: p.Tick, Partner: a.ID, Gave: p.Request, Got: p.Offer, Profit: -aProfit})
	eco.UpdateBeliefsFromTrade(a, p.Offer, p.Request)
	eco.UpdateBeliefsFromTrade(b, p.Request, p.Offer)
	eco.RecordTrade(prices...)

	a.AdjustTrust(b.ID, 0.02)
	b.AdjustTrust(a.ID, 0.02)
	return res, nil
}
