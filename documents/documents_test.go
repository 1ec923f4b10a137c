package documents_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/documents"
)

func sample(name string) documents.Rendered {
	return documents.Rendered{
		CustomerID:  3,
		Name:        name,
		ContentType: "application/json",
		Body:        []byte(`{"invoice_number":"INV-2026-00001"}`),
	}
}

func TestMemory_SaveDeleteArchive(t *testing.T) {
	ctx := context.Background()
	m := documents.NewMemory()

	loc, err := m.Save(ctx, billing.AccountID(9), sample("INV-2026-00001.json"))
	require.NoError(t, err)
	assert.Equal(t, "memory://accounts/9/invoices/INV-2026-00001.json", loc)

	doc, ok := m.Get(loc)
	require.True(t, ok)
	assert.Equal(t, "application/json", doc.ContentType)

	require.NoError(t, m.Archive(ctx, loc))
	assert.True(t, m.Archived(loc))

	require.NoError(t, m.Delete(ctx, loc))
	assert.Equal(t, 0, m.Len())
	assert.ErrorIs(t, m.Delete(ctx, loc), documents.ErrNotFound)
	assert.ErrorIs(t, m.Archive(ctx, loc), documents.ErrNotFound)
}

func TestLocal_SaveDeleteArchive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := documents.NewLocal(dir)
	require.NoError(t, err)

	// GIVEN: A saved document
	loc, err := l.Save(ctx, billing.AccountID(9), sample("INV-2026-00001.json"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "accounts", "9", "invoices", "INV-2026-00001.json"), loc)
	body, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Contains(t, string(body), "INV-2026-00001")

	// WHEN: Archiving
	require.NoError(t, l.Archive(ctx, loc))

	// THEN: A copy lives under archive/
	archived, err := os.ReadFile(filepath.Join(dir, "archive", "accounts", "9", "invoices", "INV-2026-00001.json"))
	require.NoError(t, err)
	assert.Equal(t, body, archived)

	// AND: Deleting removes the original only once
	require.NoError(t, l.Delete(ctx, loc))
	assert.ErrorIs(t, l.Delete(ctx, loc), documents.ErrNotFound)
}

func TestLocal_NamesCannotEscapeTheDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := documents.NewLocal(dir)
	require.NoError(t, err)

	loc, err := l.Save(ctx, billing.AccountID(1), sample("../../etc/passwd"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc, dir))

	err = l.Delete(ctx, filepath.Join(dir, "..", "elsewhere.json"))
	assert.Error(t, err)
}
