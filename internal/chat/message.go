// ABOUTME: Core chat data types shared by every delivery component
// ABOUTME: Defines Message, Quote, Group, read state and content kinds

package chat

import (
	"slices"
	"time"
)

// Content kinds understood by the server. Unknown kinds are stored and relayed
// as-is; only the bot cares about the distinction.
const (
	KindText     = "text"
	KindImage    = "image"
	KindAudio    = "audio"
	KindFile     = "file"
	KindRecalled = "recalled"
)

// Quote is the client-supplied reference to an earlier message.
type Quote struct {
	ID          string `json:"id,omitempty"`
	From        string `json:"from"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// Message is a single entry in a conversation log.
//
// Pairwise messages set To and use Read. Group messages set GroupID and use
// ReadBy/Unread once ReadTracked is set; untracked group messages are
// initialized from group membership on first read.
type Message struct {
	ID          string   `json:"id"`
	From        string   `json:"from"`
	To          string   `json:"to,omitempty"`
	GroupID     string   `json:"group_id,omitempty"`
	Content     string   `json:"content"`
	ContentType string   `json:"content_type"`
	Duration    *float64 `json:"duration,omitempty"`
	Timestamp   int64    `json:"timestamp"`
	Quoted      *Quote   `json:"quoted_message,omitempty"`

	Read        bool     `json:"read"`
	ReadTracked bool     `json:"read_tracked,omitempty"`
	ReadBy      []string `json:"read_by,omitempty"`
	Unread      []string `json:"unread_by,omitempty"`
	Recalled    bool     `json:"recalled,omitempty"`
}

// IsGroup reports whether the message belongs to a group conversation.
func (m Message) IsGroup() bool {
	return m.GroupID != ""
}

// Clone returns a deep copy so callers can hand messages across goroutines
// without sharing the read-state slices.
func (m Message) Clone() Message {
	out := m
	if m.Duration != nil {
		d := *m.Duration
		out.Duration = &d
	}
	if m.Quoted != nil {
		q := *m.Quoted
		out.Quoted = &q
	}
	out.ReadBy = slices.Clone(m.ReadBy)
	out.Unread = slices.Clone(m.Unread)
	return out
}

// Tombstone returns the recall notice that replaces m in its log.
func (m Message) Tombstone() Message {
	return Message{
		ID:          m.ID,
		From:        m.From,
		To:          m.To,
		GroupID:     m.GroupID,
		ContentType: KindRecalled,
		Timestamp:   m.Timestamp,
		Read:        m.Read,
		Recalled:    true,
	}
}

// ReadState is the group read-receipt view of one message.
type ReadState struct {
	MessageID string   `json:"message_id"`
	Timestamp int64    `json:"timestamp"`
	ReadBy    []string `json:"read_by"`
	Unread    []string `json:"unread_by"`
}

// Group is a named set of members. Members are kept sorted.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Creator string   `json:"creator"`
	Members []string `json:"members"`
}

// Clone returns a copy whose member slice is not shared.
func (g Group) Clone() Group {
	g.Members = slices.Clone(g.Members)
	return g
}

// HasMember reports whether identity belongs to the group.
func (g Group) HasMember(identity string) bool {
	return slices.Contains(g.Members, identity)
}

// NowMillis is the default client timestamp for frames that omit one.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
