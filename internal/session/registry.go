// ABOUTME: Maps chat identities to their live connection and reconciles reconnects.
// ABOUTME: Presence questions (who is online, send to whom) are answered here.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/protocol"
)

// DefaultMaxNameLength is the longest display name accepted, in runes.
const DefaultMaxNameLength = 20

var (
	// ErrNameTaken indicates the identity is live under a different reconnect token.
	ErrNameTaken = errors.New("username is already in use")

	// ErrEmptyName indicates a blank display name.
	ErrEmptyName = errors.New("username must not be empty")

	// ErrNameTooLong indicates a display name over the configured length.
	ErrNameTooLong = errors.New("username is too long")

	// ErrReservedName indicates an attempt to claim the bot identity.
	ErrReservedName = errors.New("username is reserved")

	// ErrInvalidName indicates a display name containing control characters.
	ErrInvalidName = errors.New("username contains invalid characters")

	// ErrNotLive indicates the identity has no live connection.
	ErrNotLive = errors.New("identity is not connected")
)

// Conn is a live transport endpoint owned by the registry while registered.
type Conn interface {
	// ID uniquely identifies the underlying transport connection
	ID() string

	// Send delivers one frame; an error means it was not delivered
	Send(ctx context.Context, frame protocol.Outbound) error

	// Close tears down the transport
	Close()
}

// Registration describes an accepted register call.
type Registration struct {
	// Identity is the normalized display name that was bound
	Identity string

	// Others is a point-in-time copy of every other live identity, sorted
	Others []string

	// Replaced is true when an existing connection for the same token was displaced
	Replaced bool
}

// Options configures a Registry.
type Options struct {
	MaxNameLength int
	BotIdentity   string
	Logger        *slog.Logger
}

// Registry tracks which identity is bound to which live connection.
type Registry struct {
	conns  map[string]Conn
	tokens map[string]string
	mu     sync.RWMutex

	maxNameLength int
	botIdentity   string
	logger        *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLen := opts.MaxNameLength
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	return &Registry{
		conns:         make(map[string]Conn),
		tokens:        make(map[string]string),
		maxNameLength: maxLen,
		botIdentity:   opts.BotIdentity,
		logger:        logger.With("component", "session"),
	}
}

// Validate normalizes a requested display name and checks the naming rules.
func (r *Registry) Validate(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", ErrEmptyName
	case utf8.RuneCountInString(name) > r.maxNameLength:
		return "", fmt.Errorf("%w: at most %d characters", ErrNameTooLong, r.maxNameLength)
	case r.botIdentity != "" && strings.EqualFold(name, r.botIdentity):
		return "", ErrReservedName
	case !chat.ValidIdentity(name):
		return "", ErrInvalidName
	}
	return name, nil
}

// Register binds identity to conn.
// A live identity is only taken over when the same non-empty token is presented;
// the displaced connection is closed.
func (r *Registry) Register(identity, token string, conn Conn) (Registration, error) {
	identity, err := r.Validate(identity)
	if err != nil {
		return Registration{}, err
	}

	r.mu.Lock()
	var replaced Conn
	if existing, live := r.conns[identity]; live {
		if token == "" || r.tokens[identity] != token {
			r.mu.Unlock()
			return Registration{}, ErrNameTaken
		}
		replaced = existing
	}

	r.conns[identity] = conn
	if token != "" {
		r.tokens[identity] = token
	}
	others := r.othersLocked(identity)
	total := len(r.conns)
	r.mu.Unlock()

	if replaced != nil && replaced.ID() != conn.ID() {
		replaced.Close()
	}

	r.logger.Info("=== USER CONNECTED ===",
		"identity", identity,
		"conn_id", conn.ID(),
		"reconnect", replaced != nil,
		"total_users", total,
	)

	return Registration{
		Identity: identity,
		Others:   others,
		Replaced: replaced != nil,
	}, nil
}

// Unregister removes the binding if conn is still the current connection for
// identity. It reports whether the identity actually went offline.
func (r *Registry) Unregister(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[identity]
	if !ok || current.ID() != conn.ID() {
		return false
	}

	delete(r.conns, identity)
	r.logger.Info("=== USER DISCONNECTED ===",
		"identity", identity,
		"conn_id", conn.ID(),
		"total_users", len(r.conns),
	)
	return true
}

// IsLive reports whether identity currently has a connection.
func (r *Registry) IsLive(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[identity]
	return ok
}

// IsCurrent reports whether conn is the live connection for identity.
func (r *Registry) IsCurrent(identity string, conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.conns[identity]
	return ok && current.ID() == conn.ID()
}

// Send delivers frame to identity's live connection.
// The connection is looked up under the lock but written to outside it.
func (r *Registry) Send(ctx context.Context, identity string, frame protocol.Outbound) error {
	r.mu.RLock()
	conn, ok := r.conns[identity]
	r.mu.RUnlock()

	if !ok {
		return ErrNotLive
	}
	if err := conn.Send(ctx, frame); err != nil {
		return fmt.Errorf("sending %s to %s: %w", frame.OutboundType(), identity, err)
	}
	return nil
}

// LiveIdentities returns a sorted copy of every live identity.
func (r *Registry) LiveIdentities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.othersLocked("")
}

// Count returns the number of live identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// othersLocked must be called with mu held.
func (r *Registry) othersLocked(exclude string) []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
