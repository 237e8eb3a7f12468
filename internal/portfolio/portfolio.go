// Package portfolio implements Portfolio (C2): balance/position/holdings
// state transitions with invariant-preserving operations. Every
// operation here is applied to a types.Sector snapshot and returns the
// updated snapshot (or an error), without touching storage —
// the caller (ExecutionEngine) persists the result atomically alongside
// a PriceModel update.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/sector-deliberation-engine/internal/errs"
	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// ApplyBuy debits balance and credits position by amount.
func ApplyBuy(s types.Sector, amount decimal.Decimal) (types.Sector, error) {
	if amount.GreaterThan(s.Balance) {
		return s, errs.InvariantViolation("insufficient_balance")
	}
	s.Balance = s.Balance.Sub(amount)
	s.Position = s.Position.Add(amount)
	return s, nil
}

// ApplySell credits balance and debits position by amount.
func ApplySell(s types.Sector, amount decimal.Decimal) (types.Sector, error) {
	if amount.GreaterThan(s.Position) {
		return s, errs.InvariantViolation("insufficient_position")
	}
	s.Position = s.Position.Sub(amount)
	s.Balance = s.Balance.Add(amount)
	return s, nil
}

// ApplyHold is a no-op, present so callers can dispatch uniformly on
// ActionType.
func ApplyHold(s types.Sector) (types.Sector, error) {
	return s, nil
}

// ApplyRebalance redistributes balance+position+sum(holdings) to targetAllocation
// (fraction of total value held as position, 0..1), leftover returning
// to balance. Idempotent: calling it twice in a row with the same
// target is a no-op the second time, since the sector is already
// balanced after the first call.
func ApplyRebalance(s types.Sector, targetAllocation float64) (types.Sector, error) {
	if targetAllocation < 0 || targetAllocation > 1 {
		return s, errs.Validation("target_allocation_out_of_range")
	}

	total := s.Balance.Add(s.Position)
	for _, v := range s.Holdings {
		total = total.Add(v)
	}
	if total.IsZero() {
		return s, nil
	}

	targetPosition := total.Mul(decimal.NewFromFloat(targetAllocation))
	s.Balance = total.Sub(targetPosition)
	s.Position = targetPosition
	// Rebalance consolidates named holdings into the sector's single
	// position/balance pair; per-symbol holdings are cleared.
	s.Holdings = map[string]decimal.Decimal{}
	return s, nil
}

// Apply dispatches to the operation matching actionType, using amount
// for BUY/SELL and allocationPercent (as a 0..1 fraction) for REBALANCE.
func Apply(s types.Sector, actionType types.ActionType, amount decimal.Decimal, allocationPercent float64) (types.Sector, error) {
	switch actionType {
	case types.ActionBuy:
		return ApplyBuy(s, amount)
	case types.ActionSell:
		return ApplySell(s, amount)
	case types.ActionHold:
		return ApplyHold(s)
	case types.ActionRebalance:
		return ApplyRebalance(s, allocationPercent/100.0)
	default:
		return s, errs.Validation("unknown_action_type")
	}
}
