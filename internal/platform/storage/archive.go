package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const archiveContentType = "application/json"

var (
	errNoClient      = errors.New("storage: client is required")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidKey    = errors.New("storage: archive key is required")
	errEmptyPayload  = errors.New("storage: payload is empty")
)

// CallbackArchiver persists raw gateway callback payloads so disputed
// payments can be audited against exactly what the gateway sent.
type CallbackArchiver struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// ArchiverOption customises archiver behaviour.
type ArchiverOption func(*CallbackArchiver)

// WithArchiverClock injects a custom clock (useful for tests).
func WithArchiverClock(clock func() time.Time) ArchiverOption {
	return func(a *CallbackArchiver) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewCallbackArchiver constructs an archiver writing to the given bucket.
func NewCallbackArchiver(client *storage.Client, bucket string, opts ...ArchiverOption) (*CallbackArchiver, error) {
	if client == nil {
		return nil, errNoClient
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}

	archiver := &CallbackArchiver{
		client: client,
		bucket: bucket,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(archiver)
		}
	}
	return archiver, nil
}

// Archive writes the payload under gateway/date/key.json and returns the
// object name. Keys repeat across gateway retries; the last write wins, which
// is acceptable because retried payloads are byte-identical.
func (a *CallbackArchiver) Archive(ctx context.Context, gateway, key string, payload []byte) (string, error) {
	if a == nil || a.client == nil {
		return "", errNoClient
	}
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	if gateway == "" {
		gateway = "unknown"
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errInvalidKey
	}
	if len(payload) == 0 {
		return "", errEmptyPayload
	}

	object := fmt.Sprintf("%s/%s/%s.json", gateway, a.now().UTC().Format("2006/01/02"), key)

	writer := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = archiveContentType
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage: write archive object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: close archive object %s: %w", object, err)
	}
	return object, nil
}
