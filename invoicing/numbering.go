package invoicing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/warp/invoice-engine/billing"
)

// =============================================================================
// INVOICE NUMBERS - PREFIX-YYYY-NNNNN
// =============================================================================

// NumberSource hands out invoice sequence values per account and year.
// Reserve consumes values in its own committed unit so a value is never
// reused, even when the insert that wanted it fails. seed is the highest
// value already in use; counters start above it.
type NumberSource interface {
	PeekInvoiceNumber(ctx context.Context, accountID billing.AccountID, year int, seed int64) (int64, error)
	ReserveInvoiceNumbers(ctx context.Context, accountID billing.AccountID, year, n int, seed int64) (int64, error)
}

// FormatInvoiceNumber renders e.g. INV-2026-00042.
func FormatInvoiceNumber(prefix string, year int, n int64) string {
	if prefix == "" {
		prefix = billing.DefaultInvoicePrefix
	}
	return fmt.Sprintf("%s-%04d-%05d", prefix, year, n)
}

// ParseInvoiceNumber splits an invoice number into its parts. The prefix
// may itself contain dashes.
func ParseInvoiceNumber(s string) (prefix string, year int, n int64, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) < 3 {
		return "", 0, 0, false
	}
	y, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || y < 1000 {
		return "", 0, 0, false
	}
	seq, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil || seq < 0 {
		return "", 0, 0, false
	}
	return strings.Join(parts[:len(parts)-2], "-"), y, seq, true
}

// numberSeed returns the highest sequence value for year found among the
// given invoice numbers.
func numberSeed(year int, numbers ...string) int64 {
	var seed int64
	for _, s := range numbers {
		if _, y, n, ok := ParseInvoiceNumber(s); ok && y == year && n > seed {
			seed = n
		}
	}
	return seed
}

// MemoryNumbers is an in-process NumberSource for tests and single-node
// CLI runs.
type MemoryNumbers struct {
	mu   sync.Mutex
	last map[numberKey]int64
}

type numberKey struct {
	account billing.AccountID
	year    int
}

func NewMemoryNumbers() *MemoryNumbers {
	return &MemoryNumbers{last: make(map[numberKey]int64)}
}

func (m *MemoryNumbers) PeekInvoiceNumber(_ context.Context, accountID billing.AccountID, year int, seed int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return max(m.last[numberKey{accountID, year}], seed) + 1, nil
}

func (m *MemoryNumbers) ReserveInvoiceNumbers(_ context.Context, accountID billing.AccountID, year, n int, seed int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve invoice numbers: n must be positive, got %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := numberKey{accountID, year}
	first := max(m.last[key], seed) + 1
	m.last[key] = first + int64(n) - 1
	return first, nil
}
