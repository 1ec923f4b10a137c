package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/warp/invoice-engine/billing"
)

// Local stores documents as files under Dir. Archive copies a file into
// Dir/archive.
type Local struct {
	Dir string
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	return &Local{Dir: dir}, nil
}

func (l *Local) Save(_ context.Context, accountID billing.AccountID, doc Rendered) (string, error) {
	full := filepath.Join(l.Dir, filepath.FromSlash(objectKey(accountID, doc.Name)))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	if err := os.WriteFile(full, doc.Body, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return full, nil
}

func (l *Local) Delete(_ context.Context, location string) error {
	if err := l.within(location); err != nil {
		return err
	}
	err := os.Remove(location)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (l *Local) Archive(_ context.Context, location string) error {
	if err := l.within(location); err != nil {
		return err
	}
	rel, err := filepath.Rel(l.Dir, location)
	if err != nil {
		return err
	}
	dst := filepath.Join(l.Dir, "archive", rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	src, err := os.Open(location)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// within rejects locations outside Dir.
func (l *Local) within(location string) error {
	rel, err := filepath.Rel(l.Dir, location)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("document %q is outside %q", location, l.Dir)
	}
	return nil
}
