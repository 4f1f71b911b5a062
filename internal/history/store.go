// ABOUTME: Ordered, mutable conversation logs keyed by conversation key
// ABOUTME: Handles read receipts, group read state, recall and history replay

package history

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/store"
)

var (
	// ErrNotFound indicates no message matched the reference.
	ErrNotFound = errors.New("message not found")

	// ErrNotSender indicates a recall by someone other than the original sender.
	ErrNotSender = errors.New("only the sender may recall a message")
)

// MessageRef locates a message inside one log.
// ID wins when set; otherwise Timestamp is used.
type MessageRef struct {
	ID        string
	Timestamp int64
}

// Store owns every conversation log. Insertion order is the log order.
type Store struct {
	logs   map[string][]chat.Message
	mu     sync.RWMutex
	writer *store.Writer
	logger *slog.Logger
}

// NewStore creates an empty Store. writer may be nil.
func NewStore(writer *store.Writer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logs:   make(map[string][]chat.Message),
		writer: writer,
		logger: logger.With("component", "history"),
	}
	writer.BindJSON(s.mu.RLocker(), func() any { return s.logs })
	return s
}

// Load replaces the in-memory logs with the persisted conversations document.
func (s *Store) Load(ctx context.Context, backend store.Backend) error {
	logs := make(map[string][]chat.Message)
	if _, err := store.Load(ctx, backend, store.DocConversations, &logs); err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = logs

	total := 0
	for _, log := range logs {
		total += len(log)
	}
	s.logger.Info("conversations loaded", "conversations", len(logs), "messages", total)
	return nil
}

// Append adds msg to the end of the log for key.
func (s *Store) Append(key string, msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[key] = append(s.logs[key], msg.Clone())
	s.persistLocked()
}

// MarkRead flips the read flag on every unread message sender addressed to
// reader. It returns how many messages changed.
func (s *Store) MarkRead(reader, sender string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[chat.ConversationKey(reader, sender)]
	changed := 0
	for i := range log {
		m := &log[i]
		if m.From == sender && m.To == reader && !m.Read && !m.Recalled {
			m.Read = true
			changed++
		}
	}
	if changed > 0 {
		s.persistLocked()
	}
	return changed
}

// MarkGroupMessageRead moves reader from the unread set to the read set of
// the referenced group message. Read state is initialized from members when
// the message predates tracking. changed is false when reader had already
// read the message or was never a recipient.
func (s *Store) MarkGroupMessageRead(groupID string, ref MessageRef, reader string, members []string) (state chat.ReadState, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[chat.GroupKey(groupID)]
	idx := findByRef(log, ref, "")
	if idx < 0 || log[idx].Recalled {
		return chat.ReadState{}, false, ErrNotFound
	}

	m := &log[idx]
	if !m.ReadTracked {
		InitReadState(m, members)
		changed = true
	}

	if pos := slices.Index(m.Unread, reader); pos >= 0 {
		m.Unread = slices.Delete(m.Unread, pos, pos+1)
		if !slices.Contains(m.ReadBy, reader) {
			m.ReadBy = append(m.ReadBy, reader)
		}
		changed = true
	}

	if changed {
		s.persistLocked()
	}
	return readStateOf(*m), changed, nil
}

// AddGroupReaders adds newly joined members to the unread set of every
// tracked, unrecalled message in the group's log.
func (s *Store) AddGroupReaders(groupID string, added []string) {
	if len(added) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[chat.GroupKey(groupID)]
	changed := false
	for i := range log {
		m := &log[i]
		if !m.ReadTracked || m.Recalled {
			continue
		}
		for _, id := range added {
			if id == m.From || slices.Contains(m.Unread, id) || slices.Contains(m.ReadBy, id) {
				continue
			}
			m.Unread = append(m.Unread, id)
			changed = true
		}
	}
	if changed {
		s.persistLocked()
	}
}

// Recall replaces requester's referenced message with its tombstone, keeping
// its position in the log. It returns the original message.
func (s *Store) Recall(key, requester string, ref MessageRef) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[key]

	var idx int
	if ref.ID != "" {
		idx = findByRef(log, ref, "")
		if idx >= 0 && log[idx].From != requester {
			return chat.Message{}, ErrNotSender
		}
	} else {
		idx = findByRef(log, ref, requester)
	}
	if idx < 0 || log[idx].Recalled {
		return chat.Message{}, ErrNotFound
	}

	original := log[idx].Clone()
	log[idx] = original.Tombstone()
	s.persistLocked()

	s.logger.Debug("message recalled", "key", key, "message_id", original.ID, "from", requester)
	return original, nil
}

// Conversation returns a copy of the log for key.
func (s *Store) Conversation(key string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneLog(s.logs[key])
}

// HistoryFor returns every message visible to identity: pairwise logs it
// participates in and group logs isMember accepts, ordered by timestamp.
// Messages with equal timestamps keep their log order. exclude drops messages
// by id; it may be nil.
func (s *Store) HistoryFor(identity string, isMember func(groupID string) bool, exclude map[string]bool) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.logs))
	for key := range s.logs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []chat.Message
	for _, key := range keys {
		if a, b, ok := chat.Participants(key); ok {
			if a != identity && b != identity {
				continue
			}
		} else if isMember == nil || !isMember(key) {
			continue
		}
		for _, m := range s.logs[key] {
			if exclude[m.ID] {
				continue
			}
			out = append(out, m.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b chat.Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return out
}

// InitReadState starts read tracking on a group message: every member except
// the sender has not read it yet.
func InitReadState(m *chat.Message, members []string) {
	m.ReadTracked = true
	m.ReadBy = []string{}
	m.Unread = make([]string, 0, len(members))
	for _, id := range members {
		if id != m.From {
			m.Unread = append(m.Unread, id)
		}
	}
}

// persistLocked must be called with mu held.
func (s *Store) persistLocked() {
	s.writer.Notify()
}

// findByRef returns the index of the first message matching ref, or -1.
// When sender is set, timestamp matches are restricted to that sender.
func findByRef(log []chat.Message, ref MessageRef, sender string) int {
	for i, m := range log {
		if ref.ID != "" {
			if m.ID == ref.ID {
				return i
			}
			continue
		}
		if m.Timestamp == ref.Timestamp && (sender == "" || m.From == sender) && !m.Recalled {
			return i
		}
	}
	return -1
}

func readStateOf(m chat.Message) chat.ReadState {
	return chat.ReadState{
		MessageID: m.ID,
		Timestamp: m.Timestamp,
		ReadBy:    append([]string{}, m.ReadBy...),
		Unread:    append([]string{}, m.Unread...),
	}
}

func cloneLog(log []chat.Message) []chat.Message {
	if len(log) == 0 {
		return nil
	}
	out := make([]chat.Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out
}
