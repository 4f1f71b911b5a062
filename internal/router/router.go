// ABOUTME: Delivery router: dispatches every inbound frame to its handler
// ABOUTME: Records first, then pushes live, queues offline or fans out to members

package router

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/2389/parlor-gateway/internal/bot"
	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/dedupe"
	"github.com/2389/parlor-gateway/internal/groups"
	"github.com/2389/parlor-gateway/internal/history"
	"github.com/2389/parlor-gateway/internal/mailbox"
	"github.com/2389/parlor-gateway/internal/metrics"
	"github.com/2389/parlor-gateway/internal/protocol"
	"github.com/2389/parlor-gateway/internal/session"
)

// Error codes sent in error and register_error frames.
const (
	CodeNotRegistered     = "not_registered"
	CodeAlreadyRegistered = "already_registered"
	CodeNameTaken         = "name_taken"
	CodeEmptyName         = "empty_name"
	CodeNameTooLong       = "name_too_long"
	CodeReservedName      = "reserved_name"
	CodeInvalidName       = "invalid_name"
	CodeGroupInvalid      = "group_invalid"
	CodeGroupNotFound     = "group_not_found"
	CodeNotMember         = "not_member"
	CodeRecallNotFound    = "recall_not_found"
	CodeRecallForbidden   = "recall_forbidden"
)

// Peer is one transport connection as seen by the router. Identity is empty
// until a register frame succeeds. A Peer is only touched by the goroutine
// reading its connection.
type Peer struct {
	Conn     session.Conn
	Identity string
}

// Options wires the router to the stores it coordinates.
type Options struct {
	Sessions *session.Registry
	History  *history.Store
	Groups   *groups.Directory
	Mailbox  *mailbox.Mailbox
	Bot      *bot.Gateway
	IDs      chat.IDGenerator

	// Dedupe and Metrics are optional
	Dedupe  *dedupe.Cache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Router applies inbound frames to the stores and delivers the results.
type Router struct {
	sessions *session.Registry
	history  *history.Store
	groups   *groups.Directory
	mailbox  *mailbox.Mailbox
	bot      *bot.Gateway
	ids      chat.IDGenerator
	dedupe   *dedupe.Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		sessions: opts.Sessions,
		history:  opts.History,
		groups:   opts.Groups,
		mailbox:  opts.Mailbox,
		bot:      opts.Bot,
		ids:      opts.IDs,
		dedupe:   opts.Dedupe,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "router"),
	}
}

// Handle applies one decoded frame from peer.
func (r *Router) Handle(ctx context.Context, peer *Peer, frame protocol.Inbound) {
	r.metrics.FrameReceived(frame.FrameType())

	if f, ok := frame.(*protocol.Register); ok {
		r.handleRegister(ctx, peer, f)
		return
	}

	if peer.Identity == "" {
		r.reply(ctx, peer, protocol.NewError(CodeNotRegistered, "register before sending "+frame.FrameType()))
		return
	}
	if !r.sessions.IsCurrent(peer.Identity, peer.Conn) {
		// replaced by a reconnect; the connection is already closing
		return
	}

	from := peer.Identity
	switch f := frame.(type) {
	case *protocol.SendMessage:
		r.handleSendMessage(ctx, peer, f)
	case *protocol.SendGroupMessage:
		r.handleSendGroupMessage(ctx, peer, f)
	case *protocol.MarkAsRead:
		r.handleMarkAsRead(ctx, from, f)
	case *protocol.MarkGroupMessageRead:
		r.handleMarkGroupMessageRead(ctx, from, f)
	case *protocol.RecallMessage:
		r.handleRecall(ctx, peer, f)
	case *protocol.CreateGroup:
		r.handleCreateGroup(ctx, peer, f)
	case *protocol.AddGroupMembers:
		r.handleAddGroupMembers(ctx, peer, f)
	}
}

// Disconnect releases peer's identity when its connection closes and tells
// everyone else it went offline.
func (r *Router) Disconnect(ctx context.Context, peer *Peer) {
	if peer.Identity == "" {
		return
	}
	if !r.sessions.Unregister(peer.Identity, peer.Conn) {
		return
	}
	r.broadcast(ctx, r.sessions.LiveIdentities(), peer.Identity, protocol.NewUserOffline(peer.Identity))
}

func (r *Router) handleRegister(ctx context.Context, peer *Peer, f *protocol.Register) {
	if peer.Identity != "" {
		r.reply(ctx, peer, protocol.NewError(CodeAlreadyRegistered, "this connection is already registered as "+peer.Identity))
		return
	}

	reg, err := r.sessions.Register(f.Username, f.Token(), peer.Conn)
	if err != nil {
		r.logger.Debug("registration rejected", "username", f.Username, "error", err)
		r.reply(ctx, peer, protocol.NewRegisterError(registerErrorCode(err), err.Error()))
		return
	}
	peer.Identity = reg.Identity
	identity := reg.Identity

	users := append(slices.Clone(reg.Others), r.bot.Identity())
	if err := peer.Conn.Send(ctx, protocol.NewRegisterSuccess(identity, users, r.bot.Identity())); err != nil {
		r.logger.Warn("failed to confirm registration", "identity", identity, "error", err)
		return
	}

	if err := peer.Conn.Send(ctx, protocol.NewGroupList(r.groups.ListFor(identity))); err != nil {
		return
	}

	// queued messages are also in history; they go out once, as new messages
	queued := r.mailbox.Drain(identity)
	pending := make(map[string]bool, len(queued))
	for _, msg := range queued {
		pending[msg.ID] = true
	}

	isMember := func(groupID string) bool { return r.groups.IsMember(groupID, identity) }
	for _, msg := range r.history.HistoryFor(identity, isMember, pending) {
		if err := peer.Conn.Send(ctx, protocol.NewHistoryMessage(msg)); err != nil {
			r.logger.Warn("history replay interrupted", "identity", identity, "error", err)
			r.mailbox.Requeue(identity, queued)
			return
		}
	}

	r.deliverQueued(ctx, peer, queued)

	if !reg.Replaced {
		r.broadcast(ctx, reg.Others, identity, protocol.NewUserOnline(identity))
	}
}

// deliverQueued pushes drained mailbox messages in order; whatever could not
// be sent goes back to the front of the queue.
func (r *Router) deliverQueued(ctx context.Context, peer *Peer, queued []chat.Message) {
	for i, msg := range queued {
		if err := peer.Conn.Send(ctx, protocol.NewMessage(msg)); err != nil {
			r.logger.Warn("offline delivery interrupted",
				"identity", peer.Identity,
				"delivered", i,
				"remaining", len(queued)-i,
				"error", err,
			)
			r.mailbox.Requeue(peer.Identity, queued[i:])
			return
		}
		r.metrics.Delivery(metrics.DeliveredLive)
	}
	if len(queued) > 0 {
		r.logger.Info("offline messages delivered", "identity", peer.Identity, "count", len(queued))
	}
}

func (r *Router) handleSendMessage(ctx context.Context, peer *Peer, f *protocol.SendMessage) {
	from := peer.Identity
	if f.To == "" || f.Content == "" {
		r.logger.Debug("dropping incomplete send", "from", from)
		return
	}
	if r.isDuplicate(from, f.ClientMsgID) {
		return
	}

	msg := r.newMessage(from, f.Payload)
	msg.To = f.To
	r.history.Append(chat.ConversationKey(from, f.To), msg)
	r.ack(ctx, peer, f.ClientMsgID, msg)

	if f.To == r.bot.Identity() {
		r.answerWithBot(ctx, msg)
		return
	}
	r.deliverDirect(ctx, msg)
}

// answerWithBot computes the bot's reply to msg and sends it back to the
// original sender through the ordinary pairwise path.
func (r *Router) answerWithBot(ctx context.Context, msg chat.Message) {
	start := time.Now()
	text := r.bot.Reply(ctx, msg.From, msg.Content, msg.ContentType)
	r.metrics.BotReply(time.Since(start))

	r.history.MarkRead(r.bot.Identity(), msg.From)

	reply := chat.Message{
		ID:          r.ids.NewID(),
		From:        r.bot.Identity(),
		To:          msg.From,
		Content:     text,
		ContentType: chat.KindText,
		Timestamp:   chat.NowMillis(),
		Quoted: &chat.Quote{
			ID:          msg.ID,
			From:        msg.From,
			Content:     msg.Content,
			ContentType: msg.ContentType,
			Timestamp:   msg.Timestamp,
		},
	}
	r.history.Append(chat.ConversationKey(reply.From, reply.To), reply)
	r.deliverDirect(ctx, reply)
}

// deliverDirect pushes msg to its recipient, queueing it if the recipient is
// offline or the push fails.
func (r *Router) deliverDirect(ctx context.Context, msg chat.Message) {
	err := r.sessions.Send(ctx, msg.To, protocol.NewMessage(msg))
	if err == nil {
		r.metrics.Delivery(metrics.DeliveredLive)
		return
	}
	if !errors.Is(err, session.ErrNotLive) {
		r.metrics.Delivery(metrics.DeliveryFail)
		r.logger.Warn("live delivery failed, queueing", "to", msg.To, "message_id", msg.ID, "error", err)
	}
	r.mailbox.Enqueue(msg.To, msg)
	r.metrics.Delivery(metrics.DeliveredMail)
}

func (r *Router) handleSendGroupMessage(ctx context.Context, peer *Peer, f *protocol.SendGroupMessage) {
	from := peer.Identity
	if f.GroupID == "" || f.Content == "" {
		r.logger.Debug("dropping incomplete group send", "from", from)
		return
	}

	members, ok := r.groups.Members(f.GroupID)
	if !ok || !slices.Contains(members, from) {
		r.logger.Debug("dropping group send from non-member", "from", from, "group_id", f.GroupID)
		return
	}
	if r.isDuplicate(from, f.ClientMsgID) {
		return
	}

	msg := r.newMessage(from, f.Payload)
	msg.GroupID = f.GroupID
	history.InitReadState(&msg, members)
	r.history.Append(chat.GroupKey(f.GroupID), msg)
	r.ack(ctx, peer, f.ClientMsgID, msg)

	frame := protocol.NewMessage(msg)
	for _, member := range members {
		if member == from {
			continue
		}
		r.sendLive(ctx, member, frame)
	}
}

func (r *Router) handleMarkAsRead(ctx context.Context, reader string, f *protocol.MarkAsRead) {
	if f.From == "" {
		return
	}
	r.history.MarkRead(reader, f.From)
	r.sendLive(ctx, f.From, protocol.NewMessageRead(reader))
}

func (r *Router) handleMarkGroupMessageRead(ctx context.Context, reader string, f *protocol.MarkGroupMessageRead) {
	members, ok := r.groups.Members(f.GroupID)
	if !ok || !slices.Contains(members, reader) {
		return
	}

	ref := history.MessageRef{ID: f.MessageID, Timestamp: f.Timestamp}
	state, changed, err := r.history.MarkGroupMessageRead(f.GroupID, ref, reader, members)
	if err != nil {
		r.logger.Debug("group read for unknown message", "group_id", f.GroupID, "reader", reader, "error", err)
		return
	}
	if !changed {
		return
	}

	r.broadcast(ctx, members, "", protocol.NewGroupReadUpdate(f.GroupID, reader, state))
}

func (r *Router) handleRecall(ctx context.Context, peer *Peer, f *protocol.RecallMessage) {
	requester := peer.Identity
	ref := history.MessageRef{ID: f.MessageID, Timestamp: f.Timestamp}

	var (
		key        string
		recipients []string
	)
	switch {
	case f.GroupID != "":
		members, ok := r.groups.Members(f.GroupID)
		if !ok || !slices.Contains(members, requester) {
			r.reply(ctx, peer, protocol.NewError(CodeNotMember, "not a member of "+f.GroupID))
			return
		}
		key, recipients = chat.GroupKey(f.GroupID), members
	case f.To != "":
		key, recipients = chat.ConversationKey(requester, f.To), []string{requester, f.To}
	default:
		return
	}

	original, err := r.history.Recall(key, requester, ref)
	switch {
	case errors.Is(err, history.ErrNotSender):
		r.reply(ctx, peer, protocol.NewError(CodeRecallForbidden, err.Error()))
		return
	case err != nil:
		r.reply(ctx, peer, protocol.NewError(CodeRecallNotFound, err.Error()))
		return
	}

	if !original.IsGroup() {
		r.mailbox.Remove(original.To, original.ID)
	}

	r.logger.Info("message recalled", "from", requester, "message_id", original.ID, "key", key)
	r.broadcast(ctx, recipients, "", protocol.NewMessageRecalled(original))
}

func (r *Router) handleCreateGroup(ctx context.Context, peer *Peer, f *protocol.CreateGroup) {
	group, err := r.groups.Create(f.Name, peer.Identity, f.Members)
	if err != nil {
		r.reply(ctx, peer, protocol.NewError(CodeGroupInvalid, err.Error()))
		return
	}
	r.broadcast(ctx, group.Members, "", protocol.NewGroupCreated(group))
}

func (r *Router) handleAddGroupMembers(ctx context.Context, peer *Peer, f *protocol.AddGroupMembers) {
	group, added, err := r.groups.AddMembers(f.GroupID, peer.Identity, f.Members)
	switch {
	case errors.Is(err, groups.ErrNotFound):
		r.reply(ctx, peer, protocol.NewError(CodeGroupNotFound, err.Error()))
		return
	case errors.Is(err, groups.ErrNotMember):
		r.reply(ctx, peer, protocol.NewError(CodeNotMember, err.Error()))
		return
	case err != nil:
		r.reply(ctx, peer, protocol.NewError(CodeGroupInvalid, err.Error()))
		return
	}

	r.history.AddGroupReaders(group.ID, added)
	r.broadcast(ctx, group.Members, "", protocol.NewGroupUpdated(group))
}

// broadcast sends frame to every live identity in targets except exclude.
// targets must be a copy owned by the caller; one failed send never stops the loop.
func (r *Router) broadcast(ctx context.Context, targets []string, exclude string, frame protocol.Outbound) {
	for _, id := range targets {
		if id == exclude {
			continue
		}
		r.sendLive(ctx, id, frame)
	}
}

// sendLive pushes frame if identity is online. Failures are logged and dropped.
func (r *Router) sendLive(ctx context.Context, identity string, frame protocol.Outbound) {
	err := r.sessions.Send(ctx, identity, frame)
	if err == nil || errors.Is(err, session.ErrNotLive) {
		return
	}
	r.logger.Debug("live push failed", "to", identity, "type", frame.OutboundType(), "error", err)
}

// reply answers the connection that sent a frame, registered or not.
func (r *Router) reply(ctx context.Context, peer *Peer, frame protocol.Outbound) {
	if err := peer.Conn.Send(ctx, frame); err != nil {
		r.logger.Debug("reply failed", "conn_id", peer.Conn.ID(), "type", frame.OutboundType(), "error", err)
	}
}

func (r *Router) ack(ctx context.Context, peer *Peer, clientMsgID string, msg chat.Message) {
	r.reply(ctx, peer, protocol.NewMessageSent(clientMsgID, msg))
}

func (r *Router) isDuplicate(from, clientMsgID string) bool {
	if r.dedupe == nil || !r.dedupe.Seen(from, clientMsgID) {
		return false
	}
	r.metrics.DuplicateSend()
	r.logger.Debug("dropping duplicate send", "from", from, "client_msg_id", clientMsgID)
	return true
}

func (r *Router) newMessage(from string, p protocol.Payload) chat.Message {
	msg := chat.Message{
		ID:          r.ids.NewID(),
		From:        from,
		Content:     p.Content,
		ContentType: p.ContentType,
		Duration:    p.Duration,
		Quoted:      p.Quoted,
	}
	if msg.ContentType == "" {
		msg.ContentType = chat.KindText
	}
	if p.Timestamp != nil {
		msg.Timestamp = *p.Timestamp
	} else {
		msg.Timestamp = chat.NowMillis()
	}
	return msg
}

func registerErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNameTaken):
		return CodeNameTaken
	case errors.Is(err, session.ErrEmptyName):
		return CodeEmptyName
	case errors.Is(err, session.ErrNameTooLong):
		return CodeNameTooLong
	case errors.Is(err, session.ErrReservedName):
		return CodeReservedName
	default:
		return CodeInvalidName
	}
}
