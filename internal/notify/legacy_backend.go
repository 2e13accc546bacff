package notify

import (
	"context"
	"fmt"
	"sync"
)

// EmailJob is the payload of the host mailer's generic "send template
// email" queue.  The host looks the template up by key and substitutes
// Data into its own copy of the subject and body.
type EmailJob struct {
	Template string            `json:"template"`
	Email    string            `json:"email"`
	Name     string            `json:"name,omitempty"`
	Data     map[string]string `json:"data"`
	Test     bool              `json:"test,omitempty"`
}

// Publisher hands jobs to the host mailer.
type Publisher interface {
	PublishEmail(ctx context.Context, job EmailJob) error
}

// LegacyEntry is one row of the flat template registry.
type LegacyEntry struct {
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Description string `json:"description"`
	HelpText    string `json:"help_text"`
}

// LegacyBackend keeps only the flat key/value registry and leaves
// rendering and delivery to the host mailer.
type LegacyBackend struct {
	pub      Publisher
	siteName string

	mu       sync.RWMutex
	registry map[string]LegacyEntry
}

func NewLegacyBackend(pub Publisher, siteName string) *LegacyBackend {
	return &LegacyBackend{
		pub:      pub,
		siteName: siteName,
		registry: map[string]LegacyEntry{},
	}
}

func (b *LegacyBackend) Name() string { return "legacy" }

func (b *LegacyBackend) Register(templates []Template) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range templates {
		if t.Key == "" {
			return fmt.Errorf("notify: template without key")
		}
		b.registry[t.Key] = LegacyEntry{
			Subject:     t.DefaultSubject(b.siteName),
			Body:        t.Body,
			Description: t.Name,
			HelpText:    t.HelpText,
		}
	}
	return nil
}

// Entries returns a copy of the registry.
func (b *LegacyBackend) Entries() map[string]LegacyEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]LegacyEntry, len(b.registry))
	for k, v := range b.registry {
		out[k] = v
	}
	return out
}

func (b *LegacyBackend) Deliver(ctx context.Context, email Email) error {
	if email.To == "" {
		return ErrNoRecipient
	}
	b.mu.RLock()
	_, ok := b.registry[email.Template]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, email.Template)
	}
	return b.pub.PublishEmail(ctx, EmailJob{
		Template: email.Template,
		Email:    email.To,
		Name:     email.ToName,
		Data:     email.Data,
		Test:     email.Test,
	})
}
