/*
retainers.go - Retainer credit allocation

PURPOSE:
  A customer can hold several retainers or prepayments at once. When a new
  invoice has charges, credit is drawn from them in a fixed order until the
  charges are covered or the credit runs out.

ORDERING:
  billing.ActiveRetainers decides the order: the retainer opened first is
  drained first, ties broken by chain id. The order is a property of the
  sequence type, not of how the rows were loaded.

EXAMPLE:
  Retainer A holds 100, retainer B holds 300, the invoice needs 250:
    A: 100 → 0     (allocation 100)
    B: 300 → 150   (allocation 150)
  RetainersTotal on the invoice is -250.

  Each step becomes a billing.RetainerAllocation row plus a new version of
  the retainer chain, so every draw is auditable and keyed by
  (retainer chain, invoice).
*/
package invoicing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
)

// RetainerStep is one draw from one retainer.
type RetainerStep struct {
	Chain  billing.RetainerChain
	Amount decimal.Decimal // positive credit consumed

	// BalanceBefore and BalanceAfter are signed current amounts, so credit
	// is negative and moves toward zero.
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// AllocationPlan is the result of spreading a charge over retainers.
type AllocationPlan struct {
	Requested decimal.Decimal
	Consumed  decimal.Decimal
	Shortfall decimal.Decimal // charge left for the customer to pay
	Steps     []RetainerStep
}

// Total returns the signed amount to record as TotalRetainers.
func (p AllocationPlan) Total() decimal.Decimal { return p.Consumed.Neg() }

// RetainerAllocator spreads charges across active retainers.
type RetainerAllocator struct{}

// Allocate drains active retainers in order until amount is covered.
// A non-positive amount consumes nothing.
func (ra *RetainerAllocator) Allocate(chains []billing.RetainerChain, amount decimal.Decimal) AllocationPlan {
	plan := AllocationPlan{Requested: amount, Consumed: decimal.Zero, Shortfall: decimal.Zero}
	if !amount.IsPositive() {
		return plan
	}

	byChain := make(map[billing.RetainerID]billing.RetainerChain, len(chains))
	for _, c := range chains {
		byChain[c.ID()] = c
	}

	remaining := amount
	active := billing.ActiveRetainers(chains)
	for i := 0; i < active.Len(); i++ {
		if remaining.IsZero() {
			break
		}
		head := active.At(i)
		take := decimal.Min(remaining, head.Credit())

		plan.Steps = append(plan.Steps, RetainerStep{
			Chain:         byChain[head.ChainID],
			Amount:        take,
			BalanceBefore: head.CurrentAmount,
			BalanceAfter:  head.CurrentAmount.Add(take),
		})
		plan.Consumed = plan.Consumed.Add(take)
		remaining = remaining.Sub(take)
	}

	plan.Shortfall = remaining
	return plan
}

// Versions builds the retainer rows that record each step.
func (p AllocationPlan) Versions(now time.Time) []billing.Retainer {
	out := make([]billing.Retainer, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Chain.NextVersion(s.BalanceAfter, now))
	}
	return out
}
