// Package memstore provides in-process implementations of the record and
// blob stores. They back the "memory" backends used for local development
// and serve as test doubles for the gateway and HTTP handlers.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/nammalwarsai/skill3-cie/internal/model"
	"github.com/nammalwarsai/skill3-cie/internal/store"
)

// Records is a mutex-guarded map of accounts keyed by username.
type Records struct {
	mu    sync.RWMutex
	items map[string]model.Account

	// queued errors handed out one per call, see FailWith
	failMu   sync.Mutex
	failures []error
}

// NewRecords returns an empty record store.
func NewRecords() *Records {
	return &Records{items: make(map[string]model.Account)}
}

// FailWith queues errors to be returned by the next calls, one per call.
func (r *Records) FailWith(errs ...error) {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	r.failures = append(r.failures, errs...)
}

func (r *Records) injected() error {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	if len(r.failures) == 0 {
		return nil
	}
	err := r.failures[0]
	r.failures = r.failures[1:]
	return err
}

// PutIfAbsent inserts acct unless the username is already present. The
// check and the insert happen under one lock.
func (r *Records) PutIfAbsent(ctx context.Context, acct model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.injected(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[acct.Username]; ok {
		return store.ErrAlreadyExists
	}
	r.items[acct.Username] = acct
	return nil
}

// Get returns the account for username or store.ErrNotFound.
func (r *Records) Get(ctx context.Context, username string) (model.Account, error) {
	if err := ctx.Err(); err != nil {
		return model.Account{}, err
	}
	if err := r.injected(); err != nil {
		return model.Account{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[username]
	if !ok {
		return model.Account{}, store.ErrNotFound
	}
	return a, nil
}

// ScanAll returns a snapshot of all accounts ordered by username.
func (r *Records) ScanAll(ctx context.Context) ([]model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.injected(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]model.Account, 0, len(r.items))
	for _, a := range r.items {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Len returns the number of stored accounts.
func (r *Records) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
