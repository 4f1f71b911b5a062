// ABOUTME: Inbound WebSocket frames as a closed set of Go types
// ABOUTME: Decode turns a raw JSON frame into exactly one Inbound value

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/parlor-gateway/internal/chat"
)

// Inbound frame tags.
const (
	TypeRegister             = "register"
	TypeSendMessage          = "send_message"
	TypeSendGroupMessage     = "send_group_message"
	TypeMarkAsRead           = "mark_as_read"
	TypeMarkGroupMessageRead = "mark_group_message_read"
	TypeRecallMessage        = "recall_message"
	TypeCreateGroup          = "create_group"
	TypeAddGroupMembers      = "add_group_members"
)

// ErrMalformed is returned when a frame is not a JSON object with a type tag.
var ErrMalformed = errors.New("malformed frame")

// ErrUnknownType is returned for a well-formed frame with an unrecognized tag.
var ErrUnknownType = errors.New("unknown frame type")

// Inbound is implemented only by the frame types in this file, so a type
// switch over it can enumerate every case.
type Inbound interface {
	FrameType() string
	sealed()
}

// Register claims a display name for the connection.
type Register struct {
	Username       string `json:"username"`
	ReconnectToken string `json:"reconnectToken"`
	// UserID is the legacy name for ReconnectToken.
	UserID string `json:"userId"`
}

// Token returns the reconnect token, preferring the current field name.
func (r *Register) Token() string {
	if r.ReconnectToken != "" {
		return r.ReconnectToken
	}
	return r.UserID
}

// Payload carries the fields shared by pairwise and group sends.
type Payload struct {
	Content     string      `json:"content"`
	ContentType string      `json:"content_type"`
	Timestamp   *int64      `json:"timestamp"`
	Quoted      *chat.Quote `json:"quoted_message"`
	Duration    *float64    `json:"duration"`
	// ClientMsgID is an optional idempotency key chosen by the client.
	ClientMsgID string `json:"client_msg_id"`
}

// SendMessage is a pairwise send.
type SendMessage struct {
	To string `json:"to"`
	Payload
}

// SendGroupMessage is a group send.
type SendGroupMessage struct {
	GroupID string `json:"group_id"`
	Payload
}

// MarkAsRead marks everything From sent to the caller as read.
type MarkAsRead struct {
	From string `json:"from"`
}

// MarkGroupMessageRead records that the caller read one group message.
type MarkGroupMessageRead struct {
	GroupID   string `json:"group_id"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id"`
}

// RecallMessage withdraws one of the caller's own messages.
// Exactly one of To and GroupID addresses the conversation.
type RecallMessage struct {
	To        string `json:"to"`
	GroupID   string `json:"group_id"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id"`
}

// CreateGroup creates a group with the caller as creator.
type CreateGroup struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// AddGroupMembers extends an existing group's membership.
type AddGroupMembers struct {
	GroupID string   `json:"group_id"`
	Members []string `json:"members"`
}

func (*Register) FrameType() string             { return TypeRegister }
func (*SendMessage) FrameType() string          { return TypeSendMessage }
func (*SendGroupMessage) FrameType() string     { return TypeSendGroupMessage }
func (*MarkAsRead) FrameType() string           { return TypeMarkAsRead }
func (*MarkGroupMessageRead) FrameType() string { return TypeMarkGroupMessageRead }
func (*RecallMessage) FrameType() string        { return TypeRecallMessage }
func (*CreateGroup) FrameType() string          { return TypeCreateGroup }
func (*AddGroupMembers) FrameType() string      { return TypeAddGroupMembers }

func (*Register) sealed()             {}
func (*SendMessage) sealed()          {}
func (*SendGroupMessage) sealed()     {}
func (*MarkAsRead) sealed()           {}
func (*MarkGroupMessageRead) sealed() {}
func (*RecallMessage) sealed()        {}
func (*CreateGroup) sealed()          {}
func (*AddGroupMembers) sealed()      {}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one inbound frame.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var in Inbound
	switch env.Type {
	case TypeRegister:
		in = &Register{}
	case TypeSendMessage:
		in = &SendMessage{}
	case TypeSendGroupMessage:
		in = &SendGroupMessage{}
	case TypeMarkAsRead:
		in = &MarkAsRead{}
	case TypeMarkGroupMessageRead:
		in = &MarkGroupMessageRead{}
	case TypeRecallMessage:
		in = &RecallMessage{}
	case TypeCreateGroup:
		in = &CreateGroup{}
	case TypeAddGroupMembers:
		in = &AddGroupMembers{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return in, nil
}
