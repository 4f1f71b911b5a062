// ABOUTME: Per-identity bot settings persisted as the bot_configs document
// ABOUTME: Currently holds the summarization prompt each user has chosen

package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389/parlor-gateway/internal/store"
)

// Settings is one identity's bot configuration.
type Settings struct {
	Prompt string `json:"prompt"`
}

// Prompts stores Settings by identity.
type Prompts struct {
	settings map[string]Settings
	mu       sync.RWMutex
	writer   *store.Writer
}

// NewPrompts creates an empty settings store. writer may be nil.
func NewPrompts(writer *store.Writer) *Prompts {
	p := &Prompts{
		settings: make(map[string]Settings),
		writer:   writer,
	}
	writer.BindJSON(p.mu.RLocker(), func() any { return p.settings })
	return p
}

// Load replaces the settings with the persisted bot_configs document.
func (p *Prompts) Load(ctx context.Context, backend store.Backend) error {
	settings := make(map[string]Settings)
	if _, err := store.Load(ctx, backend, store.DocBotConfigs, &settings); err != nil {
		return fmt.Errorf("loading bot configs: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = settings
	return nil
}

// Prompt returns identity's prompt, or fallback when none is set.
func (p *Prompts) Prompt(identity, fallback string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if s, ok := p.settings[identity]; ok && s.Prompt != "" {
		return s.Prompt
	}
	return fallback
}

// SetPrompt records identity's prompt.
func (p *Prompts) SetPrompt(identity, prompt string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.settings[identity]
	s.Prompt = prompt
	p.settings[identity] = s
	p.writer.Notify()
}
