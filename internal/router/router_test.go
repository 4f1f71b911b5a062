// ABOUTME: Tests for the delivery router wired to real stores and fake connections
// ABOUTME: Covers registration, pairwise and group delivery, reads, recall, groups and the bot

package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parlor-gateway/internal/bot"
	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/dedupe"
	"github.com/2389/parlor-gateway/internal/groups"
	"github.com/2389/parlor-gateway/internal/history"
	"github.com/2389/parlor-gateway/internal/mailbox"
	"github.com/2389/parlor-gateway/internal/protocol"
	"github.com/2389/parlor-gateway/internal/session"
)

var errConnClosed = errors.New("connection closed")

// fakeConn records every frame pushed to it.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []protocol.Outbound
	closed bool
	// failAfter makes sends fail once this many frames were accepted; <0 disables
	failAfter int
	onSend    func(protocol.Outbound)
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id, failAfter: -1} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, frame protocol.Outbound) error {
	c.mu.Lock()
	if c.closed || (c.failAfter >= 0 && len(c.frames) >= c.failAfter) {
		c.mu.Unlock()
		return errConnClosed
	}
	c.frames = append(c.frames, frame)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.OutboundType()
	}
	return out
}

func (c *fakeConn) ofType(frameType string) []protocol.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Outbound
	for _, f := range c.frames {
		if f.OutboundType() == frameType {
			out = append(out, f)
		}
	}
	return out
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("m%d", s.n)
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, instruction, text string) (string, error) {
	f.calls++
	return "summary of: " + text, nil
}

type harness struct {
	router   *Router
	sessions *session.Registry
	history  *history.Store
	groups   *groups.Directory
	mailbox  *mailbox.Mailbox
	summary  *fakeSummarizer
	ctx      context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sessions: session.NewRegistry(session.Options{BotIdentity: bot.DefaultIdentity}),
		history:  history.NewStore(nil, nil),
		groups:   groups.NewDirectory(nil, nil),
		mailbox:  mailbox.New(nil, nil),
		summary:  &fakeSummarizer{},
		ctx:      context.Background(),
	}
	cache := dedupe.New(0, 0)
	t.Cleanup(cache.Close)

	h.router = New(Options{
		Sessions: h.sessions,
		History:  h.history,
		Groups:   h.groups,
		Mailbox:  h.mailbox,
		Bot:      bot.NewGateway(bot.Options{Summarizer: h.summary}),
		IDs:      &seqIDs{},
		Dedupe:   cache,
	})
	return h
}

var connSeq atomic.Int64

func (h *harness) connect(t *testing.T, name, token string) (*Peer, *fakeConn) {
	t.Helper()
	conn := newFakeConn(fmt.Sprintf("%s-conn-%d", name, connSeq.Add(1)))
	peer := &Peer{Conn: conn}
	h.router.Handle(h.ctx, peer, &protocol.Register{Username: name, ReconnectToken: token})
	require.Equal(t, name, peer.Identity, "registration of %s failed: %v", name, conn.types())
	return peer, conn
}

func (h *harness) send(peer *Peer, to, content string) {
	h.router.Handle(h.ctx, peer, &protocol.SendMessage{To: to, Payload: protocol.Payload{Content: content}})
}

func ts(v int64) *int64 { return &v }

func TestRegister_SequenceAndPresence(t *testing.T) {
	h := newHarness(t)
	_, bobConn := h.connect(t, "bob", "tb")

	_, aliceConn := h.connect(t, "alice", "ta")

	types := aliceConn.types()
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, protocol.TypeRegisterSuccess, types[0])
	assert.Equal(t, protocol.TypeGroupList, types[1])

	success := aliceConn.frames[0].(*protocol.RegisterSuccess)
	assert.Equal(t, "alice", success.Username)
	assert.Equal(t, []string{"bob", bot.DefaultIdentity}, success.Users)
	assert.Equal(t, bot.DefaultIdentity, success.Bot)

	online := bobConn.ofType(protocol.TypeUserOnline)
	require.Len(t, online, 1)
	assert.Equal(t, "alice", online[0].(*protocol.Presence).Username)
	assert.Empty(t, aliceConn.ofType(protocol.TypeUserOnline), "no presence event about yourself")
}

func TestRegister_Rejections(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice", "t1")

	conn := newFakeConn("intruder")
	peer := &Peer{Conn: conn}
	h.router.Handle(h.ctx, peer, &protocol.Register{Username: "alice", ReconnectToken: "t2"})
	assert.Empty(t, peer.Identity)

	rejected := conn.ofType(protocol.TypeRegisterError)
	require.Len(t, rejected, 1)
	assert.Equal(t, CodeNameTaken, rejected[0].(*protocol.RegisterError).Code)

	h.router.Handle(h.ctx, peer, &protocol.Register{Username: bot.DefaultIdentity})
	assert.Equal(t, CodeReservedName, conn.ofType(protocol.TypeRegisterError)[1].(*protocol.RegisterError).Code)
}

func TestReconnect_SameTokenNoPresenceAndStaleCloseIgnored(t *testing.T) {
	h := newHarness(t)
	_, bobConn := h.connect(t, "bob", "tb")
	oldPeer, oldConn := h.connect(t, "alice", "ta")
	bobConn.reset()

	newPeer, _ := h.connect(t, "alice", "ta")
	assert.True(t, oldConn.closed)
	assert.Empty(t, bobConn.ofType(protocol.TypeUserOnline), "a reconnect is not a fresh arrival")

	h.router.Disconnect(h.ctx, oldPeer)
	assert.True(t, h.sessions.IsLive("alice"))
	assert.Empty(t, bobConn.ofType(protocol.TypeUserOffline))

	h.router.Disconnect(h.ctx, newPeer)
	assert.False(t, h.sessions.IsLive("alice"))
	assert.Len(t, bobConn.ofType(protocol.TypeUserOffline), 1)
}

func TestUnregisteredFramesGetError(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn("anon")
	peer := &Peer{Conn: conn}

	h.router.Handle(h.ctx, peer, &protocol.SendMessage{To: "bob", Payload: protocol.Payload{Content: "hi"}})

	errs := conn.ofType(protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeNotRegistered, errs[0].(*protocol.Error).Code)
	assert.Empty(t, h.history.Conversation(chat.ConversationKey("", "bob")))
}

func TestSendMessage_LiveRecipient(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")
	_, bobConn := h.connect(t, "bob", "tb")

	h.router.Handle(h.ctx, alice, &protocol.SendMessage{To: "bob", Payload: protocol.Payload{
		Content: "hello", Timestamp: ts(1700), ClientMsgID: "c1",
	}})

	got := bobConn.ofType(protocol.TypeNewMessage)
	require.Len(t, got, 1)
	msg := got[0].(*protocol.MessageFrame).Message
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "bob", msg.To)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, chat.KindText, msg.ContentType)
	assert.Equal(t, int64(1700), msg.Timestamp)
	assert.NotEmpty(t, msg.ID)

	acks := aliceConn.ofType(protocol.TypeMessageSent)
	require.Len(t, acks, 1)
	assert.Equal(t, msg.ID, acks[0].(*protocol.MessageSent).ID)
	assert.Equal(t, "c1", acks[0].(*protocol.MessageSent).ClientMsgID)

	assert.Equal(t, 0, h.mailbox.Pending("bob"))
	assert.Len(t, h.history.Conversation(chat.ConversationKey("alice", "bob")), 1)
}

func TestSendMessage_OfflineQueuedThenDrainedInOrder(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "alice", "ta")

	h.send(alice, "bob", "one")
	h.send(alice, "bob", "two")
	h.send(alice, "bob", "three")
	assert.Equal(t, 3, h.mailbox.Pending("bob"))

	_, bobConn := h.connect(t, "bob", "tb")
	assert.Equal(t, 0, h.mailbox.Pending("bob"))

	var contents []string
	for _, f := range bobConn.ofType(protocol.TypeNewMessage) {
		contents = append(contents, f.(*protocol.MessageFrame).Content)
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)
	assert.Empty(t, bobConn.ofType(protocol.TypeHistoryMessage), "queued messages are not replayed as history too")
}

func TestRegister_ReplaysDeliveredButNotQueued(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "alice", "ta")
	bob, _ := h.connect(t, "bob", "tb")
	h.send(alice, "bob", "seen live")
	h.router.Disconnect(h.ctx, bob)
	h.send(alice, "bob", "waiting")

	_, bobConn := h.connect(t, "bob", "tb")

	history := bobConn.ofType(protocol.TypeHistoryMessage)
	require.Len(t, history, 1)
	assert.Equal(t, "seen live", history[0].(*protocol.MessageFrame).Content)

	fresh := bobConn.ofType(protocol.TypeNewMessage)
	require.Len(t, fresh, 1)
	assert.Equal(t, "waiting", fresh[0].(*protocol.MessageFrame).Content)
}

func TestSendMessage_FailedLiveSendFallsBackToMailbox(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "alice", "ta")
	_, bobConn := h.connect(t, "bob", "tb")

	bobConn.mu.Lock()
	bobConn.failAfter = len(bobConn.frames)
	bobConn.mu.Unlock()

	h.send(alice, "bob", "are you there")
	assert.Equal(t, 1, h.mailbox.Pending("bob"))
}

func TestDrain_RequeuesRemainderOnFailure(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "alice", "ta")
	h.send(alice, "bob", "one")
	h.send(alice, "bob", "two")

	conn := newFakeConn("bob-flaky")
	// register_success, group_list, then one queued message
	conn.failAfter = 3
	peer := &Peer{Conn: conn}
	h.router.Handle(h.ctx, peer, &protocol.Register{Username: "bob", ReconnectToken: "tb"})

	remaining := h.mailbox.Drain("bob")
	require.Len(t, remaining, 1)
	assert.Equal(t, "two", remaining[0].Content)
}

func TestSendMessage_DuplicateClientMsgIDDropped(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "alice", "ta")

	frame := &protocol.SendMessage{To: "bob", Payload: protocol.Payload{Content: "once", ClientMsgID: "c-1"}}
	h.router.Handle(h.ctx, alice, frame)
	h.router.Handle(h.ctx, alice, frame)

	assert.Len(t, h.history.Conversation(chat.ConversationKey("alice", "bob")), 1)
	assert.Equal(t, 1, h.mailbox.Pending("bob"))
}

func TestSendMessage_MissingFieldsIgnored(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")
	aliceConn.reset()

	h.send(alice, "", "hi")
	h.send(alice, "bob", "")

	assert.Empty(t, aliceConn.types())
	assert.Equal(t, 0, h.mailbox.Pending("bob"))
}

func TestMarkAsRead(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")
	bob, _ := h.connect(t, "bob", "tb")

	h.send(alice, "bob", "hi")
	h.router.Handle(h.ctx, bob, &protocol.MarkAsRead{From: "alice"})

	reads := aliceConn.ofType(protocol.TypeMessageRead)
	require.Len(t, reads, 1)
	assert.Equal(t, "bob", reads[0].(*protocol.MessageRead).User)
	assert.True(t, h.history.Conversation(chat.ConversationKey("alice", "bob"))[0].Read)
}

func TestGroupFlow(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")
	bob, bobConn := h.connect(t, "bob", "tb")
	_, carolConn := h.connect(t, "carol", "tc")

	h.router.Handle(h.ctx, alice, &protocol.CreateGroup{Name: "team", Members: []string{"bob", "carol"}})
	for _, c := range []*fakeConn{aliceConn, bobConn, carolConn} {
		created := c.ofType(protocol.TypeGroupCreated)
		require.Len(t, created, 1)
		assert.Equal(t, []string{"alice", "bob", "carol"}, created[0].(*protocol.GroupFrame).Members)
	}
	groupID := aliceConn.ofType(protocol.TypeGroupCreated)[0].(*protocol.GroupFrame).GroupID

	h.router.Handle(h.ctx, alice, &protocol.SendGroupMessage{GroupID: groupID, Payload: protocol.Payload{Content: "standup", Timestamp: ts(42)}})
	assert.Empty(t, aliceConn.ofType(protocol.TypeNewGroupMessage), "sender does not get its own group message")
	require.Len(t, bobConn.ofType(protocol.TypeNewGroupMessage), 1)
	require.Len(t, carolConn.ofType(protocol.TypeNewGroupMessage), 1)

	sent := bobConn.ofType(protocol.TypeNewGroupMessage)[0].(*protocol.MessageFrame).Message
	assert.ElementsMatch(t, []string{"bob", "carol"}, sent.Unread)

	h.router.Handle(h.ctx, bob, &protocol.MarkGroupMessageRead{GroupID: groupID, Timestamp: 42})
	updates := carolConn.ofType(protocol.TypeGroupMessageReadUpdate)
	require.Len(t, updates, 1)
	update := updates[0].(*protocol.GroupReadUpdate)
	assert.Equal(t, "bob", update.Reader)
	assert.Equal(t, []string{"bob"}, update.ReadBy)
	assert.Equal(t, []string{"carol"}, update.Unread)

	h.router.Handle(h.ctx, bob, &protocol.MarkGroupMessageRead{GroupID: groupID, Timestamp: 42})
	assert.Len(t, carolConn.ofType(protocol.TypeGroupMessageReadUpdate), 1, "repeat read is a no-op")
}

func TestGroupSend_NonMemberIgnored(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice", "ta")
	_, bobConn := h.connect(t, "bob", "tb")
	mallory, _ := h.connect(t, "mallory", "tm")

	group, err := h.groups.Create("team", "alice", []string{"bob", "carol"})
	require.NoError(t, err)

	h.router.Handle(h.ctx, mallory, &protocol.SendGroupMessage{GroupID: group.ID, Payload: protocol.Payload{Content: "spam"}})
	assert.Empty(t, bobConn.ofType(protocol.TypeNewGroupMessage))
	assert.Empty(t, h.history.Conversation(group.ID))
}

func TestGroupFanOut_SurvivesMemberDroppingMidLoop(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "alice", "ta")

	names := []string{"m1", "m2", "m3", "m4", "m5"}
	conns := map[string]*fakeConn{}
	peers := map[string]*Peer{}
	for _, n := range names {
		peers[n], conns[n] = h.connect(t, n, "t")
	}
	group, err := h.groups.Create("big", "alice", names)
	require.NoError(t, err)

	// m2 tears down m3's connection as soon as it receives the group message
	conns["m2"].onSend = func(f protocol.Outbound) {
		if f.OutboundType() == protocol.TypeNewGroupMessage {
			conns["m3"].Close()
			h.router.Disconnect(h.ctx, peers["m3"])
		}
	}

	assert.NotPanics(t, func() {
		h.router.Handle(h.ctx, alice, &protocol.SendGroupMessage{GroupID: group.ID, Payload: protocol.Payload{Content: "hi all"}})
	})

	for _, n := range []string{"m1", "m2", "m4", "m5"} {
		assert.Len(t, conns[n].ofType(protocol.TypeNewGroupMessage), 1, "member %s", n)
	}
}

func TestAddGroupMembers(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")
	_, daveConn := h.connect(t, "dave", "td")
	group, err := h.groups.Create("team", "alice", []string{"bob", "carol"})
	require.NoError(t, err)

	h.router.Handle(h.ctx, alice, &protocol.SendGroupMessage{GroupID: group.ID, Payload: protocol.Payload{Content: "before"}})
	h.router.Handle(h.ctx, alice, &protocol.AddGroupMembers{GroupID: group.ID, Members: []string{"dave"}})

	updated := daveConn.ofType(protocol.TypeGroupUpdated)
	require.Len(t, updated, 1)
	assert.Contains(t, updated[0].(*protocol.GroupFrame).Members, "dave")
	assert.Len(t, aliceConn.ofType(protocol.TypeGroupUpdated), 1)

	log := h.history.Conversation(group.ID)
	assert.Contains(t, log[0].Unread, "dave")
}

func TestAddGroupMembers_NonMemberRejected(t *testing.T) {
	h := newHarness(t)
	mallory, malloryConn := h.connect(t, "mallory", "tm")
	group, err := h.groups.Create("team", "alice", []string{"bob", "carol"})
	require.NoError(t, err)

	h.router.Handle(h.ctx, mallory, &protocol.AddGroupMembers{GroupID: group.ID, Members: []string{"mallory"}})

	errs := malloryConn.ofType(protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeNotMember, errs[0].(*protocol.Error).Code)
	assert.False(t, h.groups.IsMember(group.ID, "mallory"))
}

func TestCreateGroup_TooFewMembers(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")

	h.router.Handle(h.ctx, alice, &protocol.CreateGroup{Name: "pair", Members: []string{"bob"}})

	errs := aliceConn.ofType(protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeGroupInvalid, errs[0].(*protocol.Error).Code)
	assert.Empty(t, h.groups.ListFor("alice"))
}

func TestRecall_Pairwise(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")
	bob, bobConn := h.connect(t, "bob", "tb")

	h.router.Handle(h.ctx, alice, &protocol.SendMessage{To: "bob", Payload: protocol.Payload{Content: "oops", Timestamp: ts(99)}})

	h.router.Handle(h.ctx, bob, &protocol.RecallMessage{To: "alice", Timestamp: 99})
	errs := bobConn.ofType(protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeRecallNotFound, errs[0].(*protocol.Error).Code)

	h.router.Handle(h.ctx, alice, &protocol.RecallMessage{To: "bob", Timestamp: 99})
	for _, c := range []*fakeConn{aliceConn, bobConn} {
		recalled := c.ofType(protocol.TypeMessageRecalled)
		require.Len(t, recalled, 1)
		assert.Equal(t, int64(99), recalled[0].(*protocol.MessageRecalled).Timestamp)
	}

	log := h.history.Conversation(chat.ConversationKey("alice", "bob"))
	require.Len(t, log, 1)
	assert.True(t, log[0].Recalled)
}

func TestRecall_ByIDFromOtherSenderForbidden(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")
	bob, bobConn := h.connect(t, "bob", "tb")

	h.send(alice, "bob", "mine")
	id := aliceConn.ofType(protocol.TypeMessageSent)[0].(*protocol.MessageSent).ID

	h.router.Handle(h.ctx, bob, &protocol.RecallMessage{To: "alice", MessageID: id})
	errs := bobConn.ofType(protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeRecallForbidden, errs[0].(*protocol.Error).Code)
}

func TestRecall_RemovesQueuedCopy(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")

	h.send(alice, "bob", "regret")
	require.Equal(t, 1, h.mailbox.Pending("bob"))
	id := aliceConn.ofType(protocol.TypeMessageSent)[0].(*protocol.MessageSent).ID

	h.router.Handle(h.ctx, alice, &protocol.RecallMessage{To: "bob", MessageID: id})
	assert.Equal(t, 0, h.mailbox.Pending("bob"))
}

func TestBot_SetPromptRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")

	h.send(alice, bot.DefaultIdentity, "/setprompt Summarize briefly")

	replies := aliceConn.ofType(protocol.TypeNewMessage)
	require.Len(t, replies, 1)
	reply := replies[0].(*protocol.MessageFrame).Message
	assert.Equal(t, bot.DefaultIdentity, reply.From)
	assert.Equal(t, "alice", reply.To)
	assert.Contains(t, reply.Content, "Summarize briefly")
	assert.Equal(t, 0, h.summary.calls)

	log := h.history.Conversation(chat.ConversationKey("alice", bot.DefaultIdentity))
	require.Len(t, log, 2)
	assert.True(t, log[0].Read, "the bot reads what it answers")
}

func TestBot_FreeTextSummarized(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")

	h.send(alice, bot.DefaultIdentity, "a long discussion")

	replies := aliceConn.ofType(protocol.TypeNewMessage)
	require.Len(t, replies, 1)
	assert.Equal(t, "summary of: a long discussion", replies[0].(*protocol.MessageFrame).Content)
	assert.Equal(t, 1, h.summary.calls)
}

func TestBot_ReplyQueuedWhenSenderGone(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.connect(t, "alice", "ta")

	aliceConn.mu.Lock()
	aliceConn.failAfter = len(aliceConn.frames) + 1 // the ack goes through, the reply does not
	aliceConn.mu.Unlock()

	h.send(alice, bot.DefaultIdentity, "/help")
	assert.Equal(t, 1, h.mailbox.Pending("alice"))
}

func TestHistoryReplayOnRegister(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "alice", "ta")
	_, _ = h.connect(t, "bob", "tb")
	h.send(alice, "bob", "first")
	group, err := h.groups.Create("team", "alice", []string{"bob", "carol"})
	require.NoError(t, err)
	h.router.Handle(h.ctx, alice, &protocol.SendGroupMessage{GroupID: group.ID, Payload: protocol.Payload{Content: "hello team"}})

	_, carolConn := h.connect(t, "carol", "tc")

	assert.Empty(t, carolConn.ofType(protocol.TypeHistoryMessage), "carol was not part of alice and bob's chat")
	groupHistory := carolConn.ofType(protocol.TypeHistoryGroupMessage)
	require.Len(t, groupHistory, 1)
	assert.Equal(t, "hello team", groupHistory[0].(*protocol.MessageFrame).Content)

	lists := carolConn.ofType(protocol.TypeGroupList)
	require.Len(t, lists, 1)
	require.Len(t, lists[0].(*protocol.GroupList).Groups, 1)
	assert.Equal(t, group.ID, lists[0].(*protocol.GroupList).Groups[0].ID)
}
