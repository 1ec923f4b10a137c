/*
scheduler.go - Periodic eligibility scan

PURPOSE:
  Runs the invoice eligibility scanner for a fixed set of accounts on an
  interval and logs who needs an invoice. It never creates invoices;
  operators still review and submit selections.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Scans immediately on start, then on every tick
  - Keeps the latest result per account for inspection

CONFIGURATION:
  - SCAN_INTERVAL: How often to scan (0 disables the scheduler)
  - SCAN_ACCOUNTS: Comma-separated account ids

USAGE:
  s := NewEligibilityScheduler(engine, accounts, time.Hour, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: FindEligible endpoint (manual scan)
  - invoicing/eligibility.go: The scanner rules
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/invoicing"
)

// Scanner finds customers that need an invoice.
type Scanner interface {
	FindCustomersNeedingInvoices(ctx context.Context, accountID billing.AccountID) ([]invoicing.EligibleCustomer, error)
}

// ScanResult is the outcome of the latest scan for one account.
type ScanResult struct {
	At       time.Time
	Eligible []invoicing.EligibleCustomer
	Err      error
}

// EligibilityScheduler scans accounts on an interval.
type EligibilityScheduler struct {
	Scanner       Scanner
	Accounts      []billing.AccountID
	CheckInterval time.Duration
	Log           zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	results map[billing.AccountID]ScanResult
}

// NewEligibilityScheduler creates a new scheduler.
func NewEligibilityScheduler(scanner Scanner, accounts []billing.AccountID, interval time.Duration, log zerolog.Logger) *EligibilityScheduler {
	return &EligibilityScheduler{
		Scanner:       scanner,
		Accounts:      accounts,
		CheckInterval: interval,
		Log:           log,
		results:       make(map[billing.AccountID]ScanResult),
	}
}

// Start begins scanning. It does nothing when the interval is not positive
// or the scheduler is already running.
func (s *EligibilityScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CheckInterval <= 0 {
		s.Log.Info().Msg("eligibility scheduler disabled")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)

	s.Log.Info().Dur("interval", s.CheckInterval).Int("accounts", len(s.Accounts)).Msg("eligibility scheduler started")
}

// Stop stops the scheduler and waits for an in-flight scan.
func (s *EligibilityScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.Log.Info().Msg("eligibility scheduler stopped")
}

func (s *EligibilityScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow scans every account once.
func (s *EligibilityScheduler) RunNow(ctx context.Context) {
	for _, accountID := range s.Accounts {
		if ctx.Err() != nil {
			return
		}
		eligible, err := s.Scanner.FindCustomersNeedingInvoices(ctx, accountID)

		s.mu.Lock()
		s.results[accountID] = ScanResult{At: time.Now().UTC(), Eligible: eligible, Err: err}
		s.mu.Unlock()

		if err != nil {
			s.Log.Error().Err(err).Int64("account_id", int64(accountID)).Msg("eligibility scan failed")
			continue
		}
		evt := s.Log.Info().Int64("account_id", int64(accountID)).Int("eligible", len(eligible))
		if len(eligible) > 0 {
			ids := make([]int64, len(eligible))
			for i, e := range eligible {
				ids[i] = int64(e.Customer.ID)
			}
			evt = evt.Ints64("customer_ids", ids)
		}
		evt.Msg("customers need invoices")
	}
}

// Last returns the latest scan for an account.
func (s *EligibilityScheduler) Last(accountID billing.AccountID) (ScanResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[accountID]
	return r, ok
}
