// ABOUTME: Snapshot storage contract for parlor-gateway persistence
// ABOUTME: Named JSON documents on a pluggable key/value backend

package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested document does not exist
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by a backend used after Close
var ErrClosed = errors.New("store closed")

// ErrUnknownDriver is returned by Open for an unsupported database driver
var ErrUnknownDriver = errors.New("unknown database driver")

// Document names. Each delivery component owns exactly one.
const (
	DocConversations = "conversations"
	DocGroups        = "groups"
	DocOffline       = "offline"
	DocBotConfigs    = "bot_configs"
)

// AllDocuments lists every document loaded at startup.
var AllDocuments = []string{DocConversations, DocGroups, DocOffline, DocBotConfigs}

// Backend stores opaque document bodies by name
type Backend interface {
	// Get returns ErrNotFound when the document was never written
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error

	// Close releases any resources held by the backend
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
	DriverMemory = "memory"
)

// Open creates the backend selected by driver.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteBackend(path)
	case DriverPebble:
		return NewPebbleBackend(path)
	case DriverMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
