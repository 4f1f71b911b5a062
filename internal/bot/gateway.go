// ABOUTME: The reserved bot identity: command grammar plus summarization
// ABOUTME: Always produces a reply string; collaborator failures become text

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/llm"
)

// DefaultIdentity is the bot's display name when none is configured.
const DefaultIdentity = "Assistant"

// DefaultPrompt is the summarization instruction for users who never set one.
const DefaultPrompt = "Summarize the following chat content concisely, keeping the key points and decisions."

const (
	cmdSetPrompt = "/setprompt"
	cmdGetPrompt = "/getprompt"
	cmdHelp      = "/help"
)

const helpText = `Send me any text and I will summarize it.
Commands:
  /setprompt <text>  set the instruction used for your summaries
  /getprompt         show your current instruction
  /help              show this message`

// Options configures a Gateway.
type Options struct {
	Identity      string
	DefaultPrompt string
	Summarizer    llm.Summarizer
	Prompts       *Prompts
	Logger        *slog.Logger
}

// Gateway answers messages addressed to the bot identity.
type Gateway struct {
	identity      string
	defaultPrompt string
	summarizer    llm.Summarizer
	prompts       *Prompts
	logger        *slog.Logger
}

// NewGateway creates a Gateway, filling in defaults for empty options.
func NewGateway(opts Options) *Gateway {
	if opts.Identity == "" {
		opts.Identity = DefaultIdentity
	}
	if opts.DefaultPrompt == "" {
		opts.DefaultPrompt = DefaultPrompt
	}
	if opts.Prompts == nil {
		opts.Prompts = NewPrompts(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		identity:      opts.Identity,
		defaultPrompt: opts.DefaultPrompt,
		summarizer:    opts.Summarizer,
		prompts:       opts.Prompts,
		logger:        opts.Logger.With("component", "bot"),
	}
}

// Identity is the reserved name the bot is addressed by.
func (g *Gateway) Identity() string {
	return g.identity
}

// Reply computes the bot's answer to content sent by requester.
func (g *Gateway) Reply(ctx context.Context, requester, content, contentType string) string {
	if contentType != "" && contentType != chat.KindText {
		return fmt.Sprintf("Sorry, %s messages are not supported yet. Send me text to summarize.", contentType)
	}

	switch {
	case content == cmdHelp:
		return helpText

	case content == cmdGetPrompt:
		return "Your current prompt: " + g.prompts.Prompt(requester, g.defaultPrompt)

	case content == cmdSetPrompt || strings.HasPrefix(content, cmdSetPrompt+" "):
		prompt := strings.TrimSpace(strings.TrimPrefix(content, cmdSetPrompt))
		if prompt == "" {
			return "The prompt cannot be empty. Usage: /setprompt <text>"
		}
		g.prompts.SetPrompt(requester, prompt)
		g.logger.Info("bot prompt updated", "identity", requester)
		return "Prompt updated: " + prompt
	}

	return g.summarize(ctx, requester, content)
}

func (g *Gateway) summarize(ctx context.Context, requester, content string) string {
	if g.summarizer == nil {
		return describeError(llm.ErrNotConfigured)
	}

	summary, err := g.summarizer.Summarize(ctx, g.prompts.Prompt(requester, g.defaultPrompt), content)
	if err != nil {
		g.logger.Warn("summarization failed", "identity", requester, "error", err)
		return describeError(err)
	}
	return summary
}

// describeError turns a summarizer failure into a reply for the user.
func describeError(err error) string {
	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		return "Summarization is not available: the service has not been configured."
	case errors.Is(err, llm.ErrTimeout):
		return "Summarization timed out. Please try again with shorter text."
	case errors.As(err, &statusErr):
		return fmt.Sprintf("Summarization failed: the service responded with status %d.", statusErr.Code)
	case errors.Is(err, llm.ErrEmptyResponse):
		return "Summarization failed: the service returned an empty answer."
	default:
		return "Summarization failed: could not reach the service."
	}
}
