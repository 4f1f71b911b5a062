// ABOUTME: Client-side state for parlor-chat: current conversation, known users and groups
// ABOUTME: Turns typed input into outbound frames and incoming frames into display lines

package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/protocol"
)

const maxPreview = 200

// target is the conversation plain input is sent to.
type target struct {
	to      string
	groupID string
}

func (t target) key() string {
	if t.groupID != "" {
		return "#" + t.groupID
	}
	return "@" + t.to
}

type chatClient struct {
	mu       sync.Mutex
	self     string
	bot      string
	current  target
	users    map[string]bool
	groups   map[string]chat.Group
	lastSent map[string]chat.Message // conversation key -> our latest acknowledged message
	lastSeen map[string]chat.Message // conversation key -> latest incoming group message
}

func newChatClient(self string) *chatClient {
	return &chatClient{
		self:     self,
		users:    make(map[string]bool),
		groups:   make(map[string]chat.Group),
		lastSent: make(map[string]chat.Message),
		lastSeen: make(map[string]chat.Message),
	}
}

// command interprets one line of input. It returns the frame to send (nil
// for local-only commands), a line to print and whether the user asked to quit.
func (c *chatClient) command(input string) (map[string]any, string, bool) {
	if input == "" {
		return nil, "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasPrefix(input, "/") {
		return c.textFrame(input)
	}

	fields := strings.Fields(input)
	args := fields[1:]

	switch fields[0] {
	case "/quit", "/exit":
		return nil, "", true

	case "/help":
		return nil, helpText(), false

	case "/to":
		if len(args) != 1 {
			return nil, "Usage: /to <name>", false
		}
		c.current = target{to: args[0]}
		return nil, fmt.Sprintf("Now talking to %s", args[0]), false

	case "/group":
		if len(args) != 1 {
			return nil, "Usage: /group <id>", false
		}
		g, ok := c.groups[args[0]]
		if !ok {
			return nil, fmt.Sprintf("Unknown group: %s (see /groups)", args[0]), false
		}
		c.current = target{groupID: g.ID}
		return nil, fmt.Sprintf("Now talking in %s (%s)", g.Name, g.ID), false

	case "/users":
		users := make([]string, 0, len(c.users))
		for u := range c.users {
			users = append(users, u)
		}
		slices.Sort(users)
		if len(users) == 0 {
			return nil, "Nobody else is online.", false
		}
		return nil, "Online: " + strings.Join(users, ", "), false

	case "/groups":
		if len(c.groups) == 0 {
			return nil, "No groups yet. Create one with /create <name> <member> <member>", false
		}
		ids := make([]string, 0, len(c.groups))
		for id := range c.groups {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		var b strings.Builder
		b.WriteString("Groups:")
		for _, id := range ids {
			g := c.groups[id]
			fmt.Fprintf(&b, "\n  %s  %s  [%s]", g.ID, g.Name, strings.Join(g.Members, ", "))
		}
		return nil, b.String(), false

	case "/create":
		if len(args) < 3 {
			return nil, "Usage: /create <name> <member> <member> [...]", false
		}
		return map[string]any{
			"type":    protocol.TypeCreateGroup,
			"name":    args[0],
			"members": args[1:],
		}, "", false

	case "/add":
		if len(args) < 2 {
			return nil, "Usage: /add <group id> <member> [...]", false
		}
		return map[string]any{
			"type":     protocol.TypeAddGroupMembers,
			"group_id": args[0],
			"members":  args[1:],
		}, "", false

	case "/say":
		text := strings.TrimSpace(strings.TrimPrefix(input, "/say"))
		if text == "" {
			return nil, "Usage: /say <text>", false
		}
		return c.textFrame(text)

	case "/read":
		return c.readFrame()

	case "/recall":
		last, ok := c.lastSent[c.current.key()]
		if !ok {
			return nil, "Nothing to recall in this conversation.", false
		}
		return map[string]any{
			"type":       protocol.TypeRecallMessage,
			"to":         last.To,
			"group_id":   last.GroupID,
			"timestamp":  last.Timestamp,
			"message_id": last.ID,
		}, "", false

	default:
		return nil, fmt.Sprintf("Unknown command: %s (try /help)", fields[0]), false
	}
}

func (c *chatClient) textFrame(text string) (map[string]any, string, bool) {
	frame := map[string]any{
		"content":       text,
		"content_type":  chat.KindText,
		"client_msg_id": uuid.NewString(),
	}
	switch {
	case c.current.groupID != "":
		frame["type"] = protocol.TypeSendGroupMessage
		frame["group_id"] = c.current.groupID
	case c.current.to != "":
		frame["type"] = protocol.TypeSendMessage
		frame["to"] = c.current.to
	default:
		return nil, "No conversation selected. Use /to <name> or /group <id>.", false
	}
	return frame, "", false
}

func (c *chatClient) readFrame() (map[string]any, string, bool) {
	switch {
	case c.current.groupID != "":
		last, ok := c.lastSeen[c.current.key()]
		if !ok {
			return nil, "Nothing to mark read in this group.", false
		}
		return map[string]any{
			"type":       protocol.TypeMarkGroupMessageRead,
			"group_id":   last.GroupID,
			"timestamp":  last.Timestamp,
			"message_id": last.ID,
		}, "", false
	case c.current.to != "":
		return map[string]any{"type": protocol.TypeMarkAsRead, "from": c.current.to}, "", false
	default:
		return nil, "No conversation selected.", false
	}
}

// observe updates client state from an incoming frame and returns the line
// to display, or "" when the frame has nothing to show.
func (c *chatClient) observe(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return color.RedString("! unreadable frame: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch head.Type {
	case protocol.TypeRegisterSuccess:
		var f protocol.RegisterSuccess
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		c.bot = f.Bot
		for _, u := range f.Users {
			if u != c.self {
				c.users[u] = true
			}
		}
		return color.GreenString("✓ registered as %s", f.Username) +
			color.HiBlackString(" (%d online, bot: %s)", len(c.users), f.Bot)

	case protocol.TypeRegisterError, protocol.TypeError:
		var f protocol.Error
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		if f.Code != "" {
			return color.RedString("! %s: %s", f.Code, f.Message)
		}
		return color.RedString("! %s", f.Message)

	case protocol.TypeNewMessage, protocol.TypeHistoryMessage,
		protocol.TypeNewGroupMessage, protocol.TypeHistoryGroupMessage:
		var f protocol.MessageFrame
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		if f.IsGroup() && f.From != c.self {
			c.lastSeen["#"+f.GroupID] = f.Message
		}
		return c.formatMessage(f.Message, strings.HasPrefix(head.Type, "history"))

	case protocol.TypeMessageSent:
		var f protocol.MessageSent
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		key := target{to: f.To, groupID: f.GroupID}.key()
		c.lastSent[key] = f.Message
		return color.HiBlackString("  ✓ sent %s", f.ID)

	case protocol.TypeMessageRead:
		var f protocol.MessageRead
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		return color.HiBlackString("  ✓✓ %s read your messages", f.User)

	case protocol.TypeGroupMessageReadUpdate:
		var f protocol.GroupReadUpdate
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		return color.HiBlackString("  ✓✓ %s read a message in %s", f.Reader, c.groupLabel(f.GroupID))

	case protocol.TypeMessageRecalled:
		var f protocol.MessageRecalled
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		if f.From == c.self {
			key := target{to: f.To, groupID: f.GroupID}.key()
			if last, ok := c.lastSent[key]; ok && last.ID == f.MessageID {
				delete(c.lastSent, key)
			}
		}
		return color.YellowString("  ↺ %s recalled a message", f.From)

	case protocol.TypeUserOnline:
		var f protocol.Presence
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		c.users[f.Username] = true
		return color.GreenString("● %s is online", f.Username)

	case protocol.TypeUserOffline:
		var f protocol.Presence
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		delete(c.users, f.Username)
		return color.HiBlackString("○ %s went offline", f.Username)

	case protocol.TypeGroupCreated, protocol.TypeGroupUpdated:
		var f protocol.GroupFrame
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		c.groups[f.GroupID] = chat.Group{ID: f.GroupID, Name: f.Name, Creator: f.Creator, Members: f.Members}
		verb := "created"
		if head.Type == protocol.TypeGroupUpdated {
			verb = "updated"
		}
		return color.CyanString("# group %s %s", f.Name, verb) +
			color.HiBlackString(" (%s: %s)", f.GroupID, strings.Join(f.Members, ", "))

	case protocol.TypeGroupList:
		var f protocol.GroupList
		if json.Unmarshal(data, &f) != nil {
			return ""
		}
		for _, g := range f.Groups {
			c.groups[g.ID] = g
		}
		if len(f.Groups) == 0 {
			return ""
		}
		return color.HiBlackString("  member of %d group(s), see /groups", len(f.Groups))

	default:
		return color.HiBlackString("  [%s]", head.Type)
	}
}

func (c *chatClient) groupLabel(id string) string {
	if g, ok := c.groups[id]; ok {
		return g.Name
	}
	return id
}

func (c *chatClient) formatMessage(m chat.Message, history bool) string {
	var b strings.Builder

	b.WriteString(color.HiBlackString(time.UnixMilli(m.Timestamp).Format("15:04 ")))
	if m.IsGroup() {
		b.WriteString(color.CyanString("[%s] ", c.groupLabel(m.GroupID)))
	}

	switch m.From {
	case c.self:
		b.WriteString(color.New(color.FgBlue, color.Bold).Sprint("you"))
		if !m.IsGroup() {
			b.WriteString(color.HiBlackString(" → %s", m.To))
		}
	case c.bot:
		b.WriteString(color.MagentaString(m.From))
	default:
		b.WriteString(color.New(color.Bold).Sprint(m.From))
	}
	b.WriteString(": ")

	switch m.ContentType {
	case chat.KindRecalled:
		b.WriteString(color.YellowString("(recalled)"))
	case chat.KindImage, chat.KindAudio, chat.KindFile:
		b.WriteString(color.HiBlackString("[%s]", m.ContentType))
	default:
		b.WriteString(truncate(strings.ReplaceAll(m.Content, "\n", " "), maxPreview))
	}

	if history {
		b.WriteString(color.HiBlackString(" (history)"))
	}
	return b.String()
}

func helpText() string {
	return `Commands:
  /to <name>                    Talk to a user (or the bot)
  /group <id>                   Talk in a group
  /users                        List who is online
  /groups                       List your groups
  /create <name> <m1> <m2> ...  Create a group with at least two other members
  /add <id> <m1> ...            Add members to a group
  /read                         Mark the current conversation as read
  /recall                       Recall your last message in this conversation
  /say <text>                   Send text verbatim, even if it starts with /
  /help                         Show this help
  /quit                         Exit

Anything else is sent to the current conversation. When talking to the bot,
"/say /setprompt <text>" changes your summary instructions.`
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
