// Package gateway wires the parlor-gateway components together and serves them.
//
// # Overview
//
// The gateway package owns the running server: the snapshot store, the
// session registry, the delivery router with its stores, the bot and the
// HTTP server that exposes them. New opens the configured store, restores
// every persisted document and builds the router; Run serves until the
// context is canceled.
//
// # HTTP Routes
//
//   - GET /ws - WebSocket endpoint carrying JSON frames in both directions
//   - POST /api/summarize_chat - summarize pasted text or an uploaded PDF
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store reachable)
//   - GET /metrics - Prometheus metrics, when metrics.enabled is set
//
// # WebSocket Connections
//
// Each connection gets a uuid, a reader loop running in the HTTP handler and
// a writer goroutine that owns every write to the socket:
//
//	client ──frame──▶ readLoop ──▶ rate limiter ──▶ protocol.Decode ──▶ router.Handle
//	client ◀──frame── writeLoop ◀── send queue ◀── wsConn.Send ◀── router / registry
//
// Sends block for at most sessions.write_timeout when the queue is full; a
// client that stays behind longer is disconnected. The writer pings every
// sessions.ping_interval. Undecodable frames are answered with an error frame
// and the connection stays open.
//
// # Summarize API
//
// /api/summarize_chat accepts a multipart form with either a content text
// field or a content_pdf file, an optional context_pdf used as background and
// an optional custom_prompt. Responses:
//
//	200 {"summary": "..."}
//	400 {"error": "..."}   missing content, oversized or unreadable PDF
//	502 {"error": "..."}   the summarizer failed
//	503 {"error": "..."}   no summarizer is configured
//
// # Tailscale
//
// With tailscale.enabled the server listens on a tsnet node instead of
// server.http_addr: plain HTTP on :80, HTTPS with Tailscale certificates on
// :443 when tailscale.https is set, or a public Funnel with tailscale.funnel.
package gateway
