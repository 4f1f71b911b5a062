// ABOUTME: Tests for the Gateway HTTP surface and WebSocket transport
// ABOUTME: Uses real WebSocket clients against an httptest server

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parlor-gateway/internal/config"
	"github.com/2389/parlor-gateway/internal/llm"
	"github.com/2389/parlor-gateway/internal/pdftext/pdftexttest"
	"github.com/2389/parlor-gateway/internal/store"
)

// testConfig creates a minimal in-memory config with defaults applied.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: store.DriverMemory},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSummarizer struct {
	mu          sync.Mutex
	instruction string
	text        string
	err         error
}

func (f *fakeSummarizer) Summarize(_ context.Context, instruction, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instruction, f.text = instruction, text
	if f.err != nil {
		return "", f.err
	}
	return "SUMMARY", nil
}

// startGateway serves a gateway over httptest and tears both down with the test.
func startGateway(t *testing.T, cfg *config.Config, summarizer llm.Summarizer) (*Gateway, *httptest.Server) {
	t.Helper()

	backend, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	require.NoError(t, err)

	gw, err := newGateway(cfg, backend, summarizer, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, srv
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return &client{t: t, conn: conn}
}

func (c *client) send(frame map[string]any) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, wsjson.Write(ctx, c.conn, frame))
}

func (c *client) sendRaw(data string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, []byte(data)))
}

// waitFor reads frames until one of the given type arrives.
func (c *client) waitFor(frameType string) map[string]any {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
			c.t.Fatalf("waiting for %s: %v", frameType, err)
		}
		if frame["type"] == frameType {
			return frame
		}
	}
}

func (c *client) register(name string) map[string]any {
	c.t.Helper()
	c.send(map[string]any{"type": "register", "username": name, "reconnectToken": name + "-token"})
	return c.waitFor("register_success")
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := startGateway(t, testConfig(t), nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "0 users online")
}

func TestWebSocket_DirectMessageRoundTrip(t *testing.T) {
	_, srv := startGateway(t, testConfig(t), nil)

	bob := dial(t, srv)
	bob.register("bob")

	alice := dial(t, srv)
	success := alice.register("alice")
	assert.Equal(t, "alice", success["username"])
	assert.Equal(t, []any{"bob", "Assistant"}, success["users"])

	online := bob.waitFor("user_online")
	assert.Equal(t, "alice", online["username"])

	alice.send(map[string]any{"type": "send_message", "to": "bob", "content": "hello bob", "client_msg_id": "c1"})

	ack := alice.waitFor("message_sent")
	assert.Equal(t, "c1", ack["client_msg_id"])

	msg := bob.waitFor("new_message")
	assert.Equal(t, "alice", msg["from"])
	assert.Equal(t, "hello bob", msg["content"])
	assert.Equal(t, ack["id"], msg["id"])
}

func TestWebSocket_OfflineMessageDeliveredOnRegister(t *testing.T) {
	_, srv := startGateway(t, testConfig(t), nil)

	alice := dial(t, srv)
	alice.register("alice")
	alice.send(map[string]any{"type": "send_message", "to": "carol", "content": "see you later"})
	alice.waitFor("message_sent")

	carol := dial(t, srv)
	carol.register("carol")
	msg := carol.waitFor("new_message")
	assert.Equal(t, "see you later", msg["content"])
}

func TestWebSocket_DisconnectBroadcastsOffline(t *testing.T) {
	gw, srv := startGateway(t, testConfig(t), nil)

	bob := dial(t, srv)
	bob.register("bob")
	alice := dial(t, srv)
	alice.register("alice")
	bob.waitFor("user_online")

	require.NoError(t, alice.conn.Close(websocket.StatusNormalClosure, "bye"))

	offline := bob.waitFor("user_offline")
	assert.Equal(t, "alice", offline["username"])
	assert.Eventually(t, func() bool { return !gw.sessions.IsLive("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ProtocolErrors(t *testing.T) {
	_, srv := startGateway(t, testConfig(t), nil)
	c := dial(t, srv)

	c.sendRaw("{not json")
	assert.Equal(t, CodeMalformed, c.waitFor("error")["code"])

	c.send(map[string]any{"type": "teleport"})
	assert.Equal(t, CodeUnknownType, c.waitFor("error")["code"])

	c.send(map[string]any{"type": "send_message", "to": "bob", "content": "hi"})
	assert.Equal(t, "not_registered", c.waitFor("error")["code"])

	c.send(map[string]any{"type": "register", "username": "Assistant"})
	assert.Equal(t, "reserved_name", c.waitFor("register_error")["code"])
}

func TestWebSocket_RateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.FrameRate = 0.001
	cfg.Sessions.FrameBurst = 1
	_, srv := startGateway(t, cfg, nil)

	c := dial(t, srv)
	c.register("alice")
	c.send(map[string]any{"type": "mark_as_read", "from": "bob"})

	assert.Equal(t, CodeRateLimited, c.waitFor("error")["code"])
}

func TestWebSocket_BotReply(t *testing.T) {
	summarizer := &fakeSummarizer{}
	_, srv := startGateway(t, testConfig(t), summarizer)

	c := dial(t, srv)
	c.register("alice")
	c.send(map[string]any{"type": "send_message", "to": "Assistant", "content": "long meeting notes"})

	reply := c.waitFor("new_message")
	assert.Equal(t, "Assistant", reply["from"])
	assert.Equal(t, "SUMMARY", reply["content"])
	assert.Equal(t, "long meeting notes", summarizer.text)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := startGateway(t, testConfig(t), nil)

	c := dial(t, srv)
	c.register("alice")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `parlor_frames_received_total{type="register"} 1`)
	assert.Contains(t, string(body), "parlor_live_sessions 1")
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Driver: store.DriverSQLite, Path: filepath.Join(t.TempDir(), "parlor.db")}

	backend, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	require.NoError(t, err)
	first, err := newGateway(cfg, backend, nil, testLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(first.Handler())

	alice := dial(t, srv)
	alice.register("alice")
	alice.send(map[string]any{"type": "create_group", "name": "team", "members": []string{"bob", "carol"}})
	alice.waitFor("group_created")
	alice.send(map[string]any{"type": "send_message", "to": "bob", "content": "queued across restart"})
	alice.waitFor("message_sent")

	require.NoError(t, first.Shutdown(context.Background()))
	srv.Close()

	_, srv2 := startGateway(t, cfg, nil)
	bob := dial(t, srv2)
	bob.register("bob")

	groups := bob.waitFor("group_list")["groups"].([]any)
	require.Len(t, groups, 1)
	assert.Equal(t, "team", groups[0].(map[string]any)["name"])

	assert.Equal(t, "queued across restart", bob.waitFor("new_message")["content"])
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for k, data := range files {
		fw, err := mw.CreateFormFile(k, k+".pdf")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postSummarize(t *testing.T, srv *httptest.Server, fields map[string]string, files map[string][]byte) (int, map[string]string) {
	t.Helper()
	body, contentType := multipartBody(t, fields, files)
	resp, err := http.Post(srv.URL+"/api/summarize_chat", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestSummarizeChat_Text(t *testing.T) {
	summarizer := &fakeSummarizer{}
	_, srv := startGateway(t, testConfig(t), summarizer)

	status, out := postSummarize(t, srv, map[string]string{
		"content":       "alice: ship it\nbob: ok",
		"custom_prompt": "One line please",
	}, nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SUMMARY", out["summary"])
	assert.Equal(t, "One line please", summarizer.instruction)
	assert.Equal(t, "alice: ship it\nbob: ok", summarizer.text)
}

func TestSummarizeChat_PDFWithBackground(t *testing.T) {
	summarizer := &fakeSummarizer{}
	_, srv := startGateway(t, testConfig(t), summarizer)

	status, out := postSummarize(t, srv, nil, map[string][]byte{
		"content_pdf": pdftexttest.Document("Hello meeting notes"),
		"context_pdf": pdftexttest.Document("Quarterly planning"),
	})

	require.Equal(t, http.StatusOK, status, out["error"])
	assert.Equal(t, "SUMMARY", out["summary"])
	assert.Equal(t, "Background:\nQuarterly planning\n\nChat record:\nHello meeting notes", summarizer.text)
}

func TestSummarizeChat_PDFReplacesContentField(t *testing.T) {
	summarizer := &fakeSummarizer{}
	_, srv := startGateway(t, testConfig(t), summarizer)

	status, out := postSummarize(t, srv,
		map[string]string{"content": "typed text"},
		map[string][]byte{"content_pdf": pdftexttest.Document("Hello meeting notes")},
	)

	require.Equal(t, http.StatusOK, status, out["error"])
	assert.Equal(t, "Hello meeting notes", summarizer.text)
}

func TestSummarizeChat_BackgroundWithTypedContent(t *testing.T) {
	summarizer := &fakeSummarizer{}
	_, srv := startGateway(t, testConfig(t), summarizer)

	status, _ := postSummarize(t, srv,
		map[string]string{"content": "alice: ship it"},
		map[string][]byte{"context_pdf": pdftexttest.Document("Release checklist")},
	)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Background:\nRelease checklist\n\nChat record:\nalice: ship it", summarizer.text)
}

func TestSummarizeChat_DefaultPrompt(t *testing.T) {
	summarizer := &fakeSummarizer{}
	cfg := testConfig(t)
	cfg.Bot.DefaultPrompt = "Summarize for a manager"
	_, srv := startGateway(t, cfg, summarizer)

	status, _ := postSummarize(t, srv, map[string]string{"content": "notes"}, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Summarize for a manager", summarizer.instruction)
}

func TestSummarizeChat_Rejections(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bot.MaxPDFBytes = 1 << 20
	_, srv := startGateway(t, cfg, &fakeSummarizer{})

	status, out := postSummarize(t, srv, map[string]string{"custom_prompt": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["error"], "content")

	status, out = postSummarize(t, srv, nil, map[string][]byte{"content_pdf": bytes.Repeat([]byte("x"), 1<<20+1)})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["error"], "must not exceed 1MB")

	status, _ = postSummarize(t, srv, nil, map[string][]byte{"content_pdf": []byte("definitely not a pdf")})
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := http.Get(srv.URL + "/api/summarize_chat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSummarizeChat_SummarizerFailures(t *testing.T) {
	failing := &fakeSummarizer{err: &llm.StatusError{Code: 500, Err: errors.New("boom")}}
	_, srv := startGateway(t, testConfig(t), failing)

	status, out := postSummarize(t, srv, map[string]string{"content": "notes"}, nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, out["error"], "500")

	_, unconfigured := startGateway(t, testConfig(t), nil)
	status, _ = postSummarize(t, unconfigured, map[string]string{"content": "notes"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

// heldSummarizer blocks every call until release is closed.
type heldSummarizer struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *heldSummarizer) Summarize(_ context.Context, _, _ string) (string, error) {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return "late summary", nil
}

func TestShutdown_WaitsForInFlightBotReply(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(t.TempDir(), "pebble")
	cfg.Database = config.DatabaseConfig{Driver: store.DriverPebble, Path: dir}

	backend, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	require.NoError(t, err)
	summarizer := &heldSummarizer{entered: make(chan struct{}), release: make(chan struct{})}
	gw, err := newGateway(cfg, backend, summarizer, testLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	alice := dial(t, srv)
	alice.register("alice")
	alice.send(map[string]any{"type": "send_message", "to": "Assistant", "content": "notes to summarize"})

	select {
	case <-summarizer.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("summarizer was never called")
	}

	// keep reading so the close handshake completes promptly
	go func() {
		for {
			if _, _, err := alice.conn.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- gw.Shutdown(ctx) }()

	select {
	case err := <-shutdownErr:
		t.Fatalf("shutdown returned while a reply was in flight: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(summarizer.release)
	require.NoError(t, <-shutdownErr)

	reopened, err := store.NewPebbleBackend(dir)
	require.NoError(t, err)
	defer reopened.Close()
	doc, err := reopened.Get(context.Background(), store.DocConversations)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "late summary")
}
