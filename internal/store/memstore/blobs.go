package memstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nammalwarsai/skill3-cie/internal/model"
	"github.com/nammalwarsai/skill3-cie/internal/store"
)

// ErrBadSignature is returned by Verify for tampered or expired links.
var ErrBadSignature = errors.New("invalid or expired signature")

type blob struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Blobs keeps objects in memory and issues HMAC-signed links pointing at
// BaseURL. The links are served by the handler registered for the memory
// backend, which checks them with Verify.
type Blobs struct {
	mu      sync.RWMutex
	objects map[string]blob
	baseURL string
	secret  []byte
	now     func() time.Time

	failMu   sync.Mutex
	failures []error
}

// NewBlobs builds an empty blob store. baseURL is the public address the
// signed links point to, e.g. http://localhost:8080/v1/blobs.
func NewBlobs(baseURL string, secret []byte) *Blobs {
	return &Blobs{
		objects: make(map[string]blob),
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		now:     time.Now,
	}
}

// FailWith queues errors to be returned by the next calls, one per call.
func (b *Blobs) FailWith(errs ...error) {
	b.failMu.Lock()
	defer b.failMu.Unlock()
	b.failures = append(b.failures, errs...)
}

func (b *Blobs) injected() error {
	b.failMu.Lock()
	defer b.failMu.Unlock()
	if len(b.failures) == 0 {
		return nil
	}
	err := b.failures[0]
	b.failures = b.failures[1:]
	return err
}

// PutIfAbsent stores the body under key unless the key is taken.
func (b *Blobs) PutIfAbsent(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.injected(); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("body length %d does not match declared size %d", len(data), size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; ok {
		return store.ErrAlreadyExists
	}
	b.objects[key] = blob{data: data, contentType: contentType, modified: b.now().UTC()}
	return nil
}

// ListByPrefix returns matching objects in lexical key order, which is the
// order S3 uses as well.
func (b *Blobs) ListByPrefix(ctx context.Context, prefix string) ([]model.FileObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.injected(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	out := make([]model.FileObject, 0)
	for k, o := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, model.FileObject{
				Key:          k,
				Name:         store.FileNameFromKey(k),
				Size:         int64(len(o.data)),
				LastModified: o.modified,
			})
		}
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Exists reports whether key is stored.
func (b *Blobs) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := b.injected(); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

// SignedGetURL returns <base>?key=<key>&expires=<unix>&sig=<hmac>.
func (b *Blobs) SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := b.injected(); err != nil {
		return "", err
	}
	exp := b.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("key", key)
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("sig", b.sign(key, exp))
	return b.baseURL + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedGetURL.
func (b *Blobs) Verify(key, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if b.now().Unix() > exp {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(b.sign(key, exp))) {
		return ErrBadSignature
	}
	return nil
}

// Open returns the stored bytes and content type for key.
func (b *Blobs) Open(key string) (io.Reader, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.objects[key]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return bytes.NewReader(o.data), o.contentType, nil
}

func (b *Blobs) sign(key string, exp int64) string {
	m := hmac.New(sha256.New, b.secret)
	m.Write([]byte(key))
	m.Write([]byte{0})
	m.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(m.Sum(nil))
}
