// Package store defines the two backing-service contracts the gateway sits
// on: a record store holding accounts keyed by username, and a blob store
// holding uploaded files under string keys. Concrete adapters live in the
// sub-packages dynamo, mysqlstore, s3blob and memstore.
package store

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/nammalwarsai/skill3-cie/internal/model"
)

// ErrAlreadyExists is returned by conditional writes when the key is taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrNotFound is returned by point reads when the key is absent.
var ErrNotFound = errors.New("not found")

// RecordStore is the key-value contract for account records.
type RecordStore interface {
	// PutIfAbsent inserts the account unless its username already exists.
	// Implementations must rely on the backend's conditional write, never
	// on a separate existence check.
	PutIfAbsent(ctx context.Context, acct model.Account) error
	// Get returns the account stored under username or ErrNotFound.
	Get(ctx context.Context, username string) (model.Account, error)
	// ScanAll returns every account. Backends page internally.
	ScanAll(ctx context.Context) ([]model.Account, error)
}

// BlobStore is the object-storage contract for uploaded files.
type BlobStore interface {
	// PutIfAbsent writes size bytes from body under key, failing with
	// ErrAlreadyExists if an object is already stored there.
	PutIfAbsent(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	// ListByPrefix returns all objects whose key starts with prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]model.FileObject, error)
	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// SignedGetURL issues a time-limited read URL for key.
	SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// FileNameFromKey recovers the original file name from an object key of the
// form users/<prefix>/<stamp>_<name>. Keys without a stamp return their last
// segment unchanged.
func FileNameFromKey(key string) string {
	name := key
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '_'); i > 0 {
		return name[i+1:]
	}
	return name
}
