// ABOUTME: Terminal chat client for parlor-gateway over its WebSocket endpoint
// ABOUTME: Provides readline-style input with slash commands and colorized incoming frames

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// loadToken returns the reconnect token for name, creating one on first use.
// Tokens live in ~/.config/parlor/tokens/<name> so a restarted client can
// take over its own session.
func loadToken(name string) string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return uuid.NewString()
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	path := filepath.Join(configDir, "parlor", "tokens", name)
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}

	token := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err == nil {
		_ = os.WriteFile(path, []byte(token+"\n"), 0600)
	}
	return token
}

func main() {
	server := flag.String("server", "ws://localhost:8080/ws", "Gateway WebSocket URL")
	name := flag.String("name", "", "Display name to register")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: parlor-chat -name <display name> [-server ws://host:port/ws]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *server, *name, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, server, name string, in io.Reader, out io.Writer) error {
	conn, _, err := websocket.Dial(ctx, server, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", server, err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(32 << 20)

	client := newChatClient(name)

	register := map[string]any{"type": "register", "username": name, "reconnectToken": loadToken(name)}
	if err := wsjson.Write(ctx, conn, register); err != nil {
		return fmt.Errorf("registering: %w", err)
	}

	fmt.Fprintf(out, "parlor-chat connected to %s as %s\n", server, name)
	fmt.Fprintln(out, "Pick a conversation with /to <name> or /group <id>. /help for commands. Ctrl+C to quit.")
	fmt.Fprintln(out)

	readErr := make(chan error, 1)
	go func() {
		for {
			var frame json.RawMessage
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				readErr <- err
				return
			}
			if line := client.observe(frame); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return nil

		case err := <-readErr:
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)

		case input, ok := <-lines:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
				return nil
			}

			frame, note, quit := client.command(strings.TrimSpace(input))
			if quit {
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
				return nil
			}
			if note != "" {
				fmt.Fprintln(out, note)
			}
			if frame == nil {
				continue
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return fmt.Errorf("sending %v: %w", frame["type"], err)
			}
		}
	}
}
