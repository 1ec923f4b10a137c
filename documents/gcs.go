package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/warp/invoice-engine/billing"
	"google.golang.org/api/option"
)

// GCS stores documents in a Google Cloud Storage bucket. Locations are
// gs://bucket/object URLs; Archive copies the object under archive/.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS opens a client. With an empty credentialsFile the client uses
// application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %w", bucket, err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Close() error { return g.client.Close() }

// Save uploads the document. A uuid prefix keeps retried runs from
// overwriting each other's objects.
func (g *GCS) Save(ctx context.Context, accountID billing.AccountID, doc Rendered) (string, error) {
	name := uuid.NewString() + "-" + doc.Name
	object := objectKey(accountID, name)

	w := g.client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	w.ContentType = doc.ContentType
	w.Metadata = map[string]string{"customer_id": fmt.Sprint(int64(doc.CustomerID))}
	if _, err := w.Write(doc.Body); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return "gs://" + g.bucket + "/" + object, nil
}

func (g *GCS) Delete(ctx context.Context, location string) error {
	object, err := g.object(location)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucket).Object(object).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}

func (g *GCS) Archive(ctx context.Context, location string) error {
	object, err := g.object(location)
	if err != nil {
		return err
	}
	bucket := g.client.Bucket(g.bucket)
	_, err = bucket.Object("archive/" + object).CopierFrom(bucket.Object(object)).Run(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}

func (g *GCS) object(location string) (string, error) {
	prefix := "gs://" + g.bucket + "/"
	if !strings.HasPrefix(location, prefix) {
		return "", fmt.Errorf("document %q is not in bucket %q", location, g.bucket)
	}
	return strings.TrimPrefix(location, prefix), nil
}
