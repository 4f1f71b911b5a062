// ABOUTME: JSON encoding of snapshot documents and the background document Writer
// ABOUTME: Persistence failures are logged here and never surface to callers

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWriteTimeout bounds a single document write.
const DefaultWriteTimeout = 5 * time.Second

// Load decodes the named document into v.
// It reports false with a nil error when the document does not exist yet.
func Load(ctx context.Context, backend Backend, name string, v any) (bool, error) {
	data, err := backend.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", name, err)
	}
	return true, nil
}

// Writer persists one document in the background. Components call Notify
// after every mutation; the writer goroutine then asks the bound source for
// the current encoding and stores it. Notifications that arrive while a write
// is in flight collapse into one more write, so the stored document always
// converges on the latest state.
//
// A nil *Writer discards everything, which keeps components usable without
// persistence in tests.
type Writer struct {
	backend Backend
	name    string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex // serializes writes and guards source
	source func() ([]byte, error)

	dirty     atomic.Bool
	closed    atomic.Bool
	wake      chan struct{}
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once

	// OnError is called after a failed write, if set
	OnError func(name string, err error)
}

// NewWriter creates a Writer for the named document and starts its
// goroutine. Close stops it.
func NewWriter(backend Backend, name string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		backend:  backend,
		name:     name,
		timeout:  DefaultWriteTimeout,
		logger:   logger.With("component", "store", "document", name),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Bind sets the function that encodes the document. It is called from the
// writer goroutine, so it must take whatever lock guards the state.
func (w *Writer) Bind(source func() ([]byte, error)) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.source = source
	w.mu.Unlock()
}

// BindJSON binds a source that JSON-encodes snapshot() under lock.
func (w *Writer) BindJSON(lock sync.Locker, snapshot func() any) {
	w.Bind(func() ([]byte, error) {
		lock.Lock()
		defer lock.Unlock()
		return json.Marshal(snapshot())
	})
}

// Notify marks the document as changed. It never blocks.
func (w *Writer) Notify() {
	if w == nil || w.closed.Load() {
		return
	}
	w.dirty.Store(true)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Flush writes the document now if it changed since the last write.
// It must not be called while holding the lock the source takes.
func (w *Writer) Flush() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() || w.source == nil || !w.dirty.Swap(false) {
		return
	}

	data, err := w.source()
	if err != nil {
		w.fail(fmt.Errorf("encoding: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.backend.Put(ctx, w.name, data); err != nil {
		w.fail(err)
	}
}

// Close writes any pending change and stops the writer. Notifications after
// Close are dropped. Close must run before the backend is closed.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		close(w.done)
		<-w.finished
		w.Flush()
		w.closed.Store(true)
	})
}

func (w *Writer) loop() {
	defer close(w.finished)
	for {
		select {
		case <-w.wake:
			w.Flush()
		case <-w.done:
			return
		}
	}
}

func (w *Writer) fail(err error) {
	w.logger.Error("failed to persist document", "error", err)
	if w.OnError != nil {
		w.OnError(w.name, err)
	}
}
