// Package storage provides the locked-document primitive every store in this
// service is built on: one JSON document per logical resource, guarded by an
// inter-process file lock, replaced atomically on write.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrLockTimeout is returned when the per-document lock could not be
	// acquired within the configured attempt budget. Callers must treat it
	// as transient and must not assume the mutation applied.
	ErrLockTimeout = errors.New("storage: lock acquisition timed out")

	errLockHeld = errors.New("storage: lock held")
)

// Store hands out exclusive access to the JSON documents under one data
// directory. Locks are scoped per resource id, so operations on different
// documents never contend.
type Store struct {
	dir         string
	retryBase   time.Duration
	maxAttempts uint64
}

func New(dir string, retryBase time.Duration, maxAttempts uint64) (*Store, error) {
	if retryBase <= 0 {
		retryBase = 10 * time.Millisecond
	}
	if maxAttempts == 0 {
		maxAttempts = 8
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure data dir: %w", err)
	}
	return &Store{dir: dir, retryBase: retryBase, maxAttempts: maxAttempts}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) docPath(resource string) string {
	return filepath.Join(s.dir, resource+".json")
}

func (s *Store) lockPath(resource string) string {
	return filepath.Join(s.dir, resource+".lock")
}

// acquire takes the exclusive lock for resource, retrying with jittered
// exponential backoff until the attempt budget is spent.
func (s *Store) acquire(ctx context.Context, resource string) (*flock.Flock, error) {
	fl := flock.New(s.lockPath(resource))
	backoff := retry.WithMaxRetries(s.maxAttempts, retry.WithJitterPercent(20, retry.NewExponential(s.retryBase)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := fl.TryLock()
		if err != nil {
			return retry.RetryableError(err)
		}
		if !ok {
			return retry.RetryableError(errLockHeld)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("storage: lock %s: %w", resource, err)
	}
	return fl, nil
}

// Update runs one read-modify-write cycle against the resource's document
// under its exclusive lock. The document is seeded from seed() when the file
// does not exist yet. mutate reports whether the document changed; only then
// is it persisted, via a temp file renamed over the target so a crash
// mid-write never leaves a partial document behind. The lock is released on
// every exit path.
func Update[D any, R any](ctx context.Context, s *Store, resource string, seed func() *D, mutate func(doc *D) (dirty bool, out R, err error)) (R, error) {
	var zero R
	fl, err := s.acquire(ctx, resource)
	if err != nil {
		return zero, err
	}
	defer func() { _ = fl.Unlock() }()

	doc, err := load(s.docPath(resource), seed)
	if err != nil {
		return zero, err
	}
	dirty, out, err := mutate(doc)
	if err != nil {
		return zero, err
	}
	if !dirty {
		return out, nil
	}
	if err := replace(s.docPath(resource), doc); err != nil {
		return zero, err
	}
	return out, nil
}

// View is Update without write-back, for read-only access under the lock.
func View[D any, R any](ctx context.Context, s *Store, resource string, seed func() *D, read func(doc *D) (R, error)) (R, error) {
	return Update(ctx, s, resource, seed, func(doc *D) (bool, R, error) {
		out, err := read(doc)
		return false, out, err
	})
}

func load[D any](path string, seed func() *D) (*D, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return seed(), nil
		}
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	doc := seed()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return doc, nil
}

func replace(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", path, err)
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: replace %s: %w", path, err)
	}
	return nil
}
