package invoicing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/invoicing"
)

// buildChain makes an in-memory chain: the root carries balances[0] at
// times[0], each child the next balance at the next time.
func buildChain(t *testing.T, id billing.InvoiceID, balances []string, times []time.Time) billing.Chain {
	t.Helper()
	require.Equal(t, len(balances), len(times))
	rows := make([]billing.Invoice, len(balances))
	for i := range balances {
		row := billing.Invoice{
			ID:          id + billing.InvoiceID(i),
			ChainID:     id,
			Sequence:    i,
			InvoiceDate: billing.Day(times[0]),
			CreatedAt:   times[i],
		}.WithRemaining(dec(balances[i]), times[i])
		if i > 0 {
			parent := id
			row.ParentInvoiceID = &parent
		}
		rows[i] = row
	}
	c, err := billing.NewChain(rows)
	require.NoError(t, err)
	return c
}

func TestResolve_Rules(t *testing.T) {
	last := t0
	before := t0.Add(-48 * time.Hour)
	after := t0.Add(24 * time.Hour)

	tests := []struct {
		name     string
		balances []string
		times    []time.Time
		last     *time.Time
		want     bool
	}{
		{
			name:     "root with balance and no children",
			balances: []string{"500"},
			times:    []time.Time{before},
			last:     &last,
			want:     true,
		},
		{
			name:     "paid root with no children",
			balances: []string{"0"},
			times:    []time.Time{before},
			last:     &last,
			want:     false,
		},
		{
			name:     "root holding a credit",
			balances: []string{"-200"},
			times:    []time.Time{before},
			last:     &last,
			want:     true,
		},
		{
			name:     "newest child still owes",
			balances: []string{"500", "300"},
			times:    []time.Time{before, before.Add(time.Hour)},
			last:     &last,
			want:     true,
		},
		{
			name:     "settled after the last invoice",
			balances: []string{"500", "0"},
			times:    []time.Time{before, after},
			last:     &last,
			want:     true,
		},
		{
			name:     "settled before the last invoice",
			balances: []string{"500", "0"},
			times:    []time.Time{before, before.Add(time.Hour)},
			last:     &last,
			want:     false,
		},
		{
			name:     "settled with no previous invoice date",
			balances: []string{"500", "0"},
			times:    []time.Time{before, before.Add(time.Hour)},
			last:     nil,
			want:     true,
		},
		{
			name:     "older child owed but newest settled earlier",
			balances: []string{"500", "200", "0"},
			times:    []time.Time{before, before.Add(time.Hour), before.Add(2 * time.Hour)},
			last:     &last,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := buildChain(t, 10, tt.balances, tt.times)

			got := invoicing.Resolve([]billing.Chain{c}, tt.last)

			assert.Equal(t, tt.want, len(got) == 1)
		})
	}
}

func TestResolve_CustomerWithoutInvoices(t *testing.T) {
	assert.Empty(t, invoicing.Resolve(nil, nil))
}

func TestCarriedBalance_UsesBalanceAtLastInvoice(t *testing.T) {
	// GIVEN: 500 billed before the last invoice, paid down to 300 after it
	c := buildChain(t, 1, []string{"500", "300"}, []time.Time{t0.Add(-time.Hour), t0.Add(time.Hour)})

	// THEN: The new invoice carries 500; the chain currently owes 300
	assertAmount(t, "500", invoicing.CarriedBalance(c, &t0))
	assertAmount(t, "300", invoicing.CarriedBalance(c, nil))
	assertAmount(t, "300", c.Outstanding())
}

func TestOutstandingHeads_NewestFirst(t *testing.T) {
	older := buildChain(t, 1, []string{"100"}, []time.Time{t0.Add(-48 * time.Hour)})
	newer := buildChain(t, 5, []string{"40"}, []time.Time{t0})
	paid := buildChain(t, 9, []string{"70", "0"}, []time.Time{t0, t0.Add(time.Hour)})
	credit := buildChain(t, 20, []string{"-30"}, []time.Time{t0.Add(-24 * time.Hour)})

	heads := invoicing.OutstandingHeads([]billing.Chain{older, paid, newer, credit})

	require.Len(t, heads, 3)
	assert.Equal(t, billing.InvoiceID(5), heads[0].ChainID)
	assert.Equal(t, billing.InvoiceID(20), heads[1].ChainID)
	assert.Equal(t, billing.InvoiceID(1), heads[2].ChainID)
}

// =============================================================================
// INVOICE NUMBERS
// =============================================================================

func TestInvoiceNumbers_FormatAndParse(t *testing.T) {
	assert.Equal(t, "INV-2026-00042", invoicing.FormatInvoiceNumber("INV", 2026, 42))
	assert.Equal(t, "INV-2026-00007", invoicing.FormatInvoiceNumber("", 2026, 7))

	prefix, year, n, ok := invoicing.ParseInvoiceNumber("WARP-LEGAL-2025-00310")
	require.True(t, ok)
	assert.Equal(t, "WARP-LEGAL", prefix)
	assert.Equal(t, 2025, year)
	assert.Equal(t, int64(310), n)

	for _, bad := range []string{"", "INV", "INV-26-1", "INV-2026-x", "LEGACY7"} {
		_, _, _, ok := invoicing.ParseInvoiceNumber(bad)
		assert.False(t, ok, bad)
	}
}

func TestMemoryNumbers_ReserveNeverRepeats(t *testing.T) {
	ctx := context.Background()
	numbers := invoicing.NewMemoryNumbers()

	peek, err := numbers.PeekInvoiceNumber(ctx, account, 2026, 41)
	require.NoError(t, err)
	assert.Equal(t, int64(42), peek)

	first, err := numbers.ReserveInvoiceNumbers(ctx, account, 2026, 3, 41)
	require.NoError(t, err)
	assert.Equal(t, int64(42), first)

	next, err := numbers.ReserveInvoiceNumbers(ctx, account, 2026, 1, 41)
	require.NoError(t, err)
	assert.Equal(t, int64(45), next)

	fresh, err := numbers.ReserveInvoiceNumbers(ctx, account, 2027, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh)

	_, err = numbers.ReserveInvoiceNumbers(ctx, account, 2027, 0, 0)
	assert.Error(t, err)
}

// =============================================================================
// RETAINER ALLOCATION
// =============================================================================

func retainerChain(t *testing.T, id billing.RetainerID, credit string, opened time.Time) billing.RetainerChain {
	t.Helper()
	held := dec(credit).Neg()
	c, err := billing.NewRetainerChain([]billing.Retainer{{
		ID:             id,
		ChainID:        id,
		StartingAmount: held,
		CurrentAmount:  held,
		IsActive:       held.IsNegative(),
		CreatedAt:      opened,
	}})
	require.NoError(t, err)
	return c
}

func TestRetainerAllocator_RollsOverInOpeningOrder(t *testing.T) {
	// GIVEN: B was opened before A even though its id is higher
	a := retainerChain(t, 1, "300", t0)
	b := retainerChain(t, 2, "100", t0.Add(-time.Hour))
	empty := retainerChain(t, 3, "0", t0.Add(-2*time.Hour))

	var ra invoicing.RetainerAllocator
	plan := ra.Allocate([]billing.RetainerChain{a, b, empty}, dec("250"))

	// THEN: B is drained first, A covers the rest, the empty one is skipped
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, billing.RetainerID(2), plan.Steps[0].Chain.ID())
	assertAmount(t, "100", plan.Steps[0].Amount)
	assertAmount(t, "0", plan.Steps[0].BalanceAfter)
	assert.Equal(t, billing.RetainerID(1), plan.Steps[1].Chain.ID())
	assertAmount(t, "150", plan.Steps[1].Amount)
	assertAmount(t, "-150", plan.Steps[1].BalanceAfter)
	assertAmount(t, "-250", plan.Total())
	assertAmount(t, "0", plan.Shortfall)

	versions := plan.Versions(t0)
	require.Len(t, versions, 2)
	assert.False(t, versions[0].IsActive)
	assert.Equal(t, 1, versions[1].Sequence)
}

func TestRetainerAllocator_Shortfall(t *testing.T) {
	var ra invoicing.RetainerAllocator

	plan := ra.Allocate([]billing.RetainerChain{retainerChain(t, 1, "50", t0)}, decimal.NewFromInt(80))

	assertAmount(t, "50", plan.Consumed)
	assertAmount(t, "30", plan.Shortfall)

	none := ra.Allocate([]billing.RetainerChain{retainerChain(t, 1, "50", t0)}, decimal.NewFromInt(-10))
	assert.Empty(t, none.Steps)
	assertAmount(t, "0", none.Total())
}
