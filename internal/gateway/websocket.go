// ABOUTME: WebSocket transport: one reader loop and one writer goroutine per client
// ABOUTME: Decodes inbound frames for the router and serializes outbound frames

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/parlor-gateway/internal/protocol"
	"github.com/2389/parlor-gateway/internal/router"
)

// Transport-level error codes sent in error frames.
const (
	CodeMalformed   = "malformed_frame"
	CodeUnknownType = "unknown_type"
	CodeBinary      = "binary_frame"
	CodeRateLimited = "rate_limited"
)

var (
	// ErrConnClosed is returned when sending on a connection that has shut down.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendTimeout is returned when a frame could not be queued in time.
	ErrSendTimeout = errors.New("send timed out")
)

// wsConn adapts a WebSocket to session.Conn. Frames are queued on send and
// written by a single goroutine, so Send may be called from any goroutine.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	finished     chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

func newWSConn(ws *websocket.Conn, buffer int, writeTimeout, pingInterval time.Duration, logger *slog.Logger) *wsConn {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	return &wsConn{
		id:           id,
		ws:           ws,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		finished:     make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger.With("conn_id", id),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues frame for writing. It blocks while the queue is full, up to the
// write timeout; a client that cannot keep up is disconnected.
func (c *wsConn) Send(ctx context.Context, frame protocol.Outbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", frame.OutboundType(), err)
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.logger.Warn("client too slow, closing connection", "type", frame.OutboundType())
		c.Close()
		return ErrSendTimeout
	}
}

// Close stops the connection. The writer finishes the close handshake.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writeLoop owns every write to the socket, including pings and the close frame.
func (c *wsConn) writeLoop(ctx context.Context) {
	defer close(c.finished)

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.send:
			if err := c.write(ctx, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close()
				_ = c.ws.CloseNow()
				return
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				_ = c.ws.CloseNow()
				return
			}
		case <-c.done:
			_ = c.ws.Close(websocket.StatusNormalClosure, "")
			return
		case <-ctx.Done():
			_ = c.ws.CloseNow()
			return
		}
	}
}

func (c *wsConn) write(ctx context.Context, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, data)
}

// handleWebSocket upgrades the request and runs the connection until it closes.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	cfg := g.config.Sessions

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: cfg.AllowedOrigins,
	})
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(cfg.MaxFrameBytes)

	// the connection outlives the request's context once hijacked
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newWSConn(ws, cfg.SendBuffer, cfg.WriteTimeout, cfg.PingInterval, g.logger)
	if !g.track(conn) {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer g.handlers.Done()
	go conn.writeLoop(ctx)

	g.logger.Debug("websocket connected", "conn_id", conn.ID(), "remote_addr", r.RemoteAddr)

	peer := &router.Peer{Conn: conn}
	defer func() {
		g.router.Disconnect(ctx, peer)
		conn.Close()
		<-conn.finished
		g.untrack(conn)
	}()

	g.readLoop(ctx, conn, peer)
}

// readLoop decodes frames until the socket fails or closes.
func (g *Gateway) readLoop(ctx context.Context, conn *wsConn, peer *router.Peer) {
	cfg := g.config.Sessions
	limit := rate.Inf
	if cfg.FrameRate > 0 {
		limit = rate.Limit(cfg.FrameRate)
	}
	limiter := rate.NewLimiter(limit, cfg.FrameBurst)

	for {
		typ, data, err := conn.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				g.logger.Debug("websocket closed", "conn_id", conn.ID(), "identity", peer.Identity)
			} else {
				g.logger.Debug("websocket read ended", "conn_id", conn.ID(), "identity", peer.Identity, "error", err)
			}
			return
		}

		if typ != websocket.MessageText {
			g.sendError(ctx, conn, CodeBinary, "binary frames are not supported")
			continue
		}
		if !limiter.Allow() {
			g.sendError(ctx, conn, CodeRateLimited, "too many frames, slow down")
			continue
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			code := CodeMalformed
			if errors.Is(err, protocol.ErrUnknownType) {
				code = CodeUnknownType
			}
			g.sendError(ctx, conn, code, err.Error())
			continue
		}

		g.router.Handle(ctx, peer, frame)
	}
}

func (g *Gateway) sendError(ctx context.Context, conn *wsConn, code, message string) {
	if err := conn.Send(ctx, protocol.NewError(code, message)); err != nil {
		g.logger.Debug("failed to send error frame", "conn_id", conn.ID(), "error", err)
	}
}

// track registers conn and counts its handler. It reports false once
// shutdown has begun.
func (g *Gateway) track(conn *wsConn) bool {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	if g.stopping {
		return false
	}
	g.conns[conn.ID()] = conn
	g.handlers.Add(1)
	return true
}

func (g *Gateway) untrack(conn *wsConn) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	delete(g.conns, conn.ID())
}

// closeConns asks every open WebSocket to close and refuses new ones.
func (g *Gateway) closeConns() {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	g.stopping = true
	for _, conn := range g.conns {
		conn.Close()
	}
}

// waitHandlers blocks until every connection handler has returned, so no
// frame is still being applied to the stores, or until ctx ends.
func (g *Gateway) waitHandlers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection handlers still running: %w", ctx.Err())
	}
}
