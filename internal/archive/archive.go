// Package archive keeps uploaded statement files so ingestion jobs can be
// retried from the original bytes.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dvloznov/spendtrack/internal/config"
	"github.com/google/uuid"
)

// Store saves uploads and reads them back by URI.
type Store interface {
	// Put writes r under name and returns the URI it can be opened with.
	Put(ctx context.Context, name string, r io.Reader) (string, error)

	// Open returns a reader for a URI previously returned by Put.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// ObjectName returns a unique archive name for an uploaded file,
// e.g. "2024-05-01/6f1c...-statement.csv".
func ObjectName(filename string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload.csv"
	}
	return fmt.Sprintf("%s/%s-%s", now.UTC().Format("2006-01-02"), uuid.New().String(), base)
}

// ParseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI extracts the last path element of an archive URI.
// e.g., "gs://bucket/folder/file.csv" → "file.csv"
func FilenameFromURI(uri string) string {
	trimmed := uri
	for _, scheme := range []string{"gs://", "file://"} {
		trimmed = strings.TrimPrefix(trimmed, scheme)
	}
	if strings.HasPrefix(uri, "gs://") {
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		trimmed = parts[1]
	}
	return path.Base(trimmed)
}

// NewFromConfig builds the configured backend. The returned close func
// releases backend clients.
func NewFromConfig(ctx context.Context, cfg config.ArchiveConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "", "local":
		s, err := NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case "gcs":
		s, err := NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("archive: unknown backend %q", cfg.Backend)
	}
}
