// ABOUTME: Pebble implementation of the snapshot Backend
// ABOUTME: Documents live under the snapshot/ key prefix with synced writes

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "snapshot/"

// PebbleBackend implements Backend on an embedded Pebble database
type PebbleBackend struct {
	db     *pebble.DB
	closed atomic.Bool
	logger *slog.Logger
}

// NewPebbleBackend opens (or creates) a Pebble database in dir.
func NewPebbleBackend(dir string) (*PebbleBackend, error) {
	logger := slog.Default().With("component", "store")

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %s: %w", dir, err)
	}

	logger.Info("pebble store initialized", "path", dir)
	return &PebbleBackend{db: db, logger: logger}, nil
}

// Get returns the stored body of the named document
func (p *PebbleBackend) Get(_ context.Context, name string) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	value, closer, err := p.db.Get([]byte(pebbleKeyPrefix + name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", name, err)
	}
	defer closer.Close()

	// value is only valid until closer is closed
	return append([]byte(nil), value...), nil
}

// Put replaces the body of the named document
func (p *PebbleBackend) Put(_ context.Context, name string, data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.db.Set([]byte(pebbleKeyPrefix+name), data, pebble.Sync); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", name, err)
	}
	return nil
}

// Close flushes and closes the database. Later calls return ErrClosed
// instead of reaching pebble, which panics on a closed DB.
func (p *PebbleBackend) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return p.db.Close()
}
