package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

// Presigner issues time-limited read URLs for stored objects.
type Presigner interface {
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Bucket is read access to the GCS bucket holding rulings and their metadata.
type Bucket struct {
	client *storage.Client
	name   string
}

func clientOptions(cfg config.StorageConfig) []option.ClientOption {
	creds := strings.TrimSpace(cfg.CredentialsFile)
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadOnly)}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		return append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	return append(opts, option.WithCredentialsFile(creds))
}

func NewBucket(ctx context.Context, cfg config.StorageConfig) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is required")
	}
	client, err := storage.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Bucket{client: client, name: cfg.Bucket}, nil
}

// Get downloads the object at key. A missing object is ErrNotFound.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := b.client.Bucket(b.name).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("object %q: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// List returns every key under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.client.Bucket(b.name).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

// Presign returns a V4 signed GET URL for key valid for ttl.
func (b *Bucket) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	return b.client.Bucket(b.name).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
}

func (b *Bucket) Close() error {
	return b.client.Close()
}
