// ABOUTME: Outbound frames pushed to clients over their live connection
// ABOUTME: Every frame carries a "type" tag mirroring the inbound table

package protocol

import "github.com/2389/parlor-gateway/internal/chat"

// Outbound frame tags.
const (
	TypeRegisterSuccess        = "register_success"
	TypeRegisterError          = "register_error"
	TypeNewMessage             = "new_message"
	TypeHistoryMessage         = "history_message"
	TypeNewGroupMessage        = "new_group_message"
	TypeHistoryGroupMessage    = "history_group_message"
	TypeMessageSent            = "message_sent"
	TypeMessageRead            = "message_read"
	TypeGroupMessageReadUpdate = "group_message_read_update"
	TypeMessageRecalled        = "message_recalled"
	TypeUserOnline             = "user_online"
	TypeUserOffline            = "user_offline"
	TypeGroupCreated           = "group_created"
	TypeGroupUpdated           = "group_updated"
	TypeGroupList              = "group_list"
	TypeError                  = "error"
)

// Outbound is any frame that can be written to a client.
type Outbound interface {
	OutboundType() string
}

type header struct {
	Type string `json:"type"`
}

func (h header) OutboundType() string { return h.Type }

// RegisterSuccess confirms a registration.
type RegisterSuccess struct {
	header
	Username string   `json:"username"`
	Users    []string `json:"users"`
	Bot      string   `json:"bot"`
}

// RegisterError rejects a registration.
type RegisterError struct {
	header
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageFrame carries a full message: new, history, pairwise or group.
type MessageFrame struct {
	header
	chat.Message
}

// MessageSent acknowledges a stored send to its sender with the server id.
type MessageSent struct {
	header
	ClientMsgID string `json:"client_msg_id,omitempty"`
	chat.Message
}

// MessageRead tells a sender that User has read their messages.
type MessageRead struct {
	header
	User string `json:"user"`
}

// GroupReadUpdate broadcasts the new read state of one group message.
type GroupReadUpdate struct {
	header
	GroupID string `json:"group_id"`
	Reader  string `json:"reader"`
	chat.ReadState
}

// MessageRecalled announces that a message was withdrawn.
type MessageRecalled struct {
	header
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Presence is user_online / user_offline.
type Presence struct {
	header
	Username string `json:"username"`
}

// GroupFrame is group_created / group_updated.
type GroupFrame struct {
	header
	GroupID string   `json:"group_id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Creator string   `json:"creator"`
}

// GroupList lists the groups an identity belongs to.
type GroupList struct {
	header
	Groups []chat.Group `json:"groups"`
}

// Error reports a protocol or validation problem to the originating client.
type Error struct {
	header
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewRegisterSuccess builds a register_success frame.
func NewRegisterSuccess(username string, users []string, bot string) *RegisterSuccess {
	return &RegisterSuccess{header: header{TypeRegisterSuccess}, Username: username, Users: users, Bot: bot}
}

// NewRegisterError builds a register_error frame.
func NewRegisterError(code, message string) *RegisterError {
	return &RegisterError{header: header{TypeRegisterError}, Code: code, Message: message}
}

// NewMessage builds the live-delivery frame for msg.
func NewMessage(msg chat.Message) *MessageFrame {
	if msg.IsGroup() {
		return &MessageFrame{header: header{TypeNewGroupMessage}, Message: msg}
	}
	return &MessageFrame{header: header{TypeNewMessage}, Message: msg}
}

// NewHistoryMessage builds the replay frame for msg.
func NewHistoryMessage(msg chat.Message) *MessageFrame {
	if msg.IsGroup() {
		return &MessageFrame{header: header{TypeHistoryGroupMessage}, Message: msg}
	}
	return &MessageFrame{header: header{TypeHistoryMessage}, Message: msg}
}

// NewMessageSent builds the sender's acknowledgement for msg.
func NewMessageSent(clientMsgID string, msg chat.Message) *MessageSent {
	return &MessageSent{header: header{TypeMessageSent}, ClientMsgID: clientMsgID, Message: msg}
}

// NewMessageRead builds a message_read frame.
func NewMessageRead(reader string) *MessageRead {
	return &MessageRead{header: header{TypeMessageRead}, User: reader}
}

// NewGroupReadUpdate builds a group_message_read_update frame.
func NewGroupReadUpdate(groupID, reader string, state chat.ReadState) *GroupReadUpdate {
	return &GroupReadUpdate{header: header{TypeGroupMessageReadUpdate}, GroupID: groupID, Reader: reader, ReadState: state}
}

// NewMessageRecalled builds a message_recalled frame for the recalled message.
func NewMessageRecalled(msg chat.Message) *MessageRecalled {
	return &MessageRecalled{
		header:    header{TypeMessageRecalled},
		MessageID: msg.ID,
		From:      msg.From,
		To:        msg.To,
		GroupID:   msg.GroupID,
		Timestamp: msg.Timestamp,
	}
}

// NewUserOnline builds a user_online frame.
func NewUserOnline(username string) *Presence {
	return &Presence{header: header{TypeUserOnline}, Username: username}
}

// NewUserOffline builds a user_offline frame.
func NewUserOffline(username string) *Presence {
	return &Presence{header: header{TypeUserOffline}, Username: username}
}

// NewGroupCreated builds a group_created frame.
func NewGroupCreated(g chat.Group) *GroupFrame {
	return &GroupFrame{header: header{TypeGroupCreated}, GroupID: g.ID, Name: g.Name, Members: g.Members, Creator: g.Creator}
}

// NewGroupUpdated builds a group_updated frame.
func NewGroupUpdated(g chat.Group) *GroupFrame {
	return &GroupFrame{header: header{TypeGroupUpdated}, GroupID: g.ID, Name: g.Name, Members: g.Members, Creator: g.Creator}
}

// NewGroupList builds a group_list frame.
func NewGroupList(groups []chat.Group) *GroupList {
	if groups == nil {
		groups = []chat.Group{}
	}
	return &GroupList{header: header{TypeGroupList}, Groups: groups}
}

// NewError builds an error frame.
func NewError(code, message string) *Error {
	return &Error{header: header{TypeError}, Code: code, Message: message}
}
