/*
Package documents stores the rendered invoice documents.

PURPOSE:
  The invoice engine hands each customer's rendered document to a Store
  before the invoice row is written and gets back a location string that
  is saved on the invoice. Producing the bytes is the renderer's job
  (invoicing/render.go); this package only moves them.

INTERFACES:
  Store:     Save a document, delete it again when the insert rolls back
  Archiver:  Copy a committed document to long-term storage

IMPLEMENTATIONS:
  Local   files under a directory (development, CLI runs)
  GCS     Google Cloud Storage bucket
  Memory  map in memory (tests)

SEE ALSO:
  - invoicing/orchestrator.go: Save before insert, Delete on rollback,
    Archive after commit
*/
package documents

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/warp/invoice-engine/billing"
)

// ErrNotFound is returned when deleting or reading a missing document.
var ErrNotFound = errors.New("document not found")

// Rendered is one document produced for one customer.
type Rendered struct {
	CustomerID  billing.CustomerID
	Name        string // file name, e.g. INV-2026-00042.json
	ContentType string
	Body        []byte
}

// Store persists rendered documents.
type Store interface {
	// Save writes the document and returns its location.
	Save(ctx context.Context, accountID billing.AccountID, doc Rendered) (string, error)

	// Delete removes a document by the location Save returned.
	Delete(ctx context.Context, location string) error
}

// Archiver copies a committed document to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, location string) error
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey builds accounts/{account}/invoices/{name}.
func objectKey(accountID billing.AccountID, name string) string {
	clean := unsafeName.ReplaceAllString(strings.TrimSpace(name), "_")
	if clean == "" || clean == "." || clean == ".." {
		clean = "invoice"
	}
	return path.Join("accounts", fmt.Sprint(int64(accountID)), "invoices", clean)
}
