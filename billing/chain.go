/*
chain.go - Invoice and retainer version chains

PURPOSE:
  A billing event is a chain: the root invoice plus every child row that
  later recorded a payment or write-off against it. Retainers follow the
  same pattern. Chains are keyed by (ChainID, Sequence); the head (highest
  Sequence) carries the authoritative current balance.

KEY CONCEPTS:
  Sorted[T]:
    An immutable sequence whose order is fixed when it is built. Callers
    read it; they cannot reorder it, so "this slice must stay descending"
    never has to be a convention.

  Chain:
    Rows ordered by Sequence ascending. Root() is index 0, Head() is last.

  BalanceAsOf:
    The remaining balance of the last row created at or before a point in
    time. The calculator uses it to carry a chain's balance into a new
    invoice as it stood at the previous invoice date.

SEE ALSO:
  - types.go: Invoice and Retainer rows
  - invoicing/resolver.go: Decides which chains are still outstanding
*/
package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SORTED SEQUENCE
// =============================================================================

// Sorted is a read-only sequence in a fixed order.
type Sorted[T any] struct {
	items []T
}

// SortBy copies items and sorts the copy with less (stable).
func SortBy[T any](items []T, less func(a, b T) bool) Sorted[T] {
	cp := make([]T, len(items))
	copy(cp, items)
	sort.SliceStable(cp, func(i, j int) bool { return less(cp[i], cp[j]) })
	return Sorted[T]{items: cp}
}

func (s Sorted[T]) Len() int      { return len(s.items) }
func (s Sorted[T]) At(i int) T    { return s.items[i] }
func (s Sorted[T]) IsEmpty() bool { return len(s.items) == 0 }

// Items returns a copy of the sequence.
func (s Sorted[T]) Items() []T {
	cp := make([]T, len(s.items))
	copy(cp, s.items)
	return cp
}

// First returns the first element, if any.
func (s Sorted[T]) First() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	return s.items[0], true
}

// Last returns the last element, if any.
func (s Sorted[T]) Last() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// Filter returns the elements matching keep, preserving order.
func (s Sorted[T]) Filter(keep func(T) bool) Sorted[T] {
	var out []T
	for _, it := range s.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return Sorted[T]{items: out}
}

// NewestFirst orders invoices by invoice date descending, breaking ties on
// chain and sequence so the order is total.
func NewestFirst(invoices []Invoice) Sorted[Invoice] {
	return SortBy(invoices, func(a, b Invoice) bool {
		if !a.InvoiceDate.Equal(b.InvoiceDate) {
			return a.InvoiceDate.After(b.InvoiceDate)
		}
		if a.ChainID != b.ChainID {
			return a.ChainID > b.ChainID
		}
		return a.Sequence > b.Sequence
	})
}

// =============================================================================
// INVOICE CHAIN
// =============================================================================

// Chain is a root invoice and its children in sequence order.
type Chain struct {
	rows Sorted[Invoice]
}

// NewChain builds a chain from rows sharing a ChainID.
func NewChain(rows []Invoice) (Chain, error) {
	if len(rows) == 0 {
		return Chain{}, fmt.Errorf("empty invoice chain")
	}
	sorted := SortBy(rows, func(a, b Invoice) bool { return a.Sequence < b.Sequence })
	root := sorted.At(0)
	if !root.IsRoot() || root.Sequence != 0 {
		return Chain{}, fmt.Errorf("invoice chain %d has no root row", root.ChainID)
	}
	for i := 0; i < sorted.Len(); i++ {
		row := sorted.At(i)
		if row.ChainID != root.ChainID {
			return Chain{}, fmt.Errorf("invoice %d belongs to chain %d, not %d", row.ID, row.ChainID, root.ChainID)
		}
		if row.Sequence != i {
			return Chain{}, fmt.Errorf("invoice chain %d has a gap at sequence %d", root.ChainID, i)
		}
	}
	return Chain{rows: sorted}, nil
}

// GroupChains splits a flat list of invoice rows into chains.
func GroupChains(rows []Invoice) ([]Chain, error) {
	byChain := make(map[InvoiceID][]Invoice)
	var order []InvoiceID
	for _, r := range rows {
		if _, ok := byChain[r.ChainID]; !ok {
			order = append(order, r.ChainID)
		}
		byChain[r.ChainID] = append(byChain[r.ChainID], r)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	chains := make([]Chain, 0, len(order))
	for _, id := range order {
		c, err := NewChain(byChain[id])
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}
	return chains, nil
}

func (c Chain) ID() InvoiceID   { return c.Root().ID }
func (c Chain) Root() Invoice   { return c.rows.At(0) }
func (c Chain) Head() Invoice   { return c.rows.At(c.rows.Len() - 1) }
func (c Chain) Len() int        { return c.rows.Len() }
func (c Chain) Rows() []Invoice { return c.rows.Items() }

// Children returns every row after the root, newest first.
func (c Chain) Children() []Invoice {
	out := make([]Invoice, 0, c.rows.Len()-1)
	for i := c.rows.Len() - 1; i >= 1; i-- {
		out = append(out, c.rows.At(i))
	}
	return out
}

// Contains reports whether id is one of the chain's rows.
func (c Chain) Contains(id InvoiceID) bool {
	for i := 0; i < c.rows.Len(); i++ {
		if c.rows.At(i).ID == id {
			return true
		}
	}
	return false
}

// Outstanding returns the current remaining balance.
func (c Chain) Outstanding() decimal.Decimal { return c.Head().RemainingBalance }

// BalanceAsOf returns the remaining balance of the newest row created at
// or before t. A chain that did not exist yet at t contributes zero.
func (c Chain) BalanceAsOf(t time.Time) decimal.Decimal {
	balance := decimal.Zero
	for i := 0; i < c.rows.Len(); i++ {
		row := c.rows.At(i)
		if row.CreatedAt.After(t) {
			break
		}
		balance = row.RemainingBalance
	}
	return balance
}

// NextChild builds the row that supersedes the head. The caller sets the
// remaining balance with WithRemaining.
func (c Chain) NextChild(now time.Time) Invoice {
	head := c.Head()
	rootID := c.Root().ID
	child := head
	child.ID = 0
	child.ParentInvoiceID = &rootID
	child.ChainID = rootID
	child.Sequence = head.Sequence + 1
	child.CreatedAt = now
	return child
}

// =============================================================================
// RETAINER CHAIN
// =============================================================================

// RetainerChain is a retainer's versions in sequence order.
type RetainerChain struct {
	rows Sorted[Retainer]
}

func NewRetainerChain(rows []Retainer) (RetainerChain, error) {
	if len(rows) == 0 {
		return RetainerChain{}, fmt.Errorf("empty retainer chain")
	}
	sorted := SortBy(rows, func(a, b Retainer) bool { return a.Sequence < b.Sequence })
	first := sorted.At(0)
	for i := 0; i < sorted.Len(); i++ {
		if sorted.At(i).ChainID != first.ChainID {
			return RetainerChain{}, fmt.Errorf("retainer %d does not belong to chain %d", sorted.At(i).ID, first.ChainID)
		}
	}
	return RetainerChain{rows: sorted}, nil
}

// GroupRetainerChains splits retainer versions into chains ordered by ChainID.
func GroupRetainerChains(rows []Retainer) ([]RetainerChain, error) {
	byChain := make(map[RetainerID][]Retainer)
	var order []RetainerID
	for _, r := range rows {
		if _, ok := byChain[r.ChainID]; !ok {
			order = append(order, r.ChainID)
		}
		byChain[r.ChainID] = append(byChain[r.ChainID], r)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	chains := make([]RetainerChain, 0, len(order))
	for _, id := range order {
		c, err := NewRetainerChain(byChain[id])
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}
	return chains, nil
}

func (c RetainerChain) ID() RetainerID   { return c.rows.At(0).ChainID }
func (c RetainerChain) First() Retainer  { return c.rows.At(0) }
func (c RetainerChain) Head() Retainer   { return c.rows.At(c.rows.Len() - 1) }
func (c RetainerChain) Rows() []Retainer { return c.rows.Items() }

// NextVersion builds the version that records a new current amount.
func (c RetainerChain) NextVersion(current decimal.Decimal, now time.Time) Retainer {
	head := c.Head()
	chainID := c.ID()
	next := head
	next.ID = 0
	next.ParentRetainerID = &chainID
	next.Sequence = head.Sequence + 1
	next.CurrentAmount = current
	next.IsActive = current.IsNegative()
	next.CreatedAt = now
	return next
}

// ActiveRetainers returns the heads holding credit, ordered by when each
// retainer was opened and then by chain id. This order decides which
// retainer is drained first.
func ActiveRetainers(chains []RetainerChain) Sorted[Retainer] {
	ordered := SortBy(chains, func(a, b RetainerChain) bool {
		fa, fb := a.First().CreatedAt, b.First().CreatedAt
		if !fa.Equal(fb) {
			return fa.Before(fb)
		}
		return a.ID() < b.ID()
	})
	var heads []Retainer
	for i := 0; i < ordered.Len(); i++ {
		if h := ordered.At(i).Head(); h.HasCredit() {
			heads = append(heads, h)
		}
	}
	return Sorted[Retainer]{items: heads}
}
