package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const testNotice = "<p><strong>This is a test email.</strong> The values below come from a sample downgrade.</p>\n"

// TemplateBackend keeps the full template objects and renders them
// itself, handing the result to a Sender.
type TemplateBackend struct {
	sender   Sender
	siteName string

	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateBackend(sender Sender, siteName string) *TemplateBackend {
	return &TemplateBackend{
		sender:    sender,
		siteName:  siteName,
		templates: map[string]Template{},
	}
}

func (b *TemplateBackend) Name() string { return "templates" }

func (b *TemplateBackend) Register(templates []Template) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range templates {
		if t.Key == "" {
			return errors.New("notify: template without key")
		}
		b.templates[t.Key] = t
	}
	return nil
}

// Templates lists the registered templates ordered by key.
func (b *TemplateBackend) Templates() []Template {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Template, 0, len(b.templates))
	for _, t := range b.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Compose renders email without sending it.
func (b *TemplateBackend) Compose(email Email) (Message, error) {
	b.mu.RLock()
	t, ok := b.templates[email.Template]
	b.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, email.Template)
	}
	body := Render(t.Body, email.Data)
	if email.Test {
		body = testNotice + body
	}
	return Message{
		To:      email.To,
		ToName:  email.ToName,
		Subject: Render(t.DefaultSubject(b.siteName), email.Data),
		HTML:    body,
	}, nil
}

func (b *TemplateBackend) Deliver(ctx context.Context, email Email) error {
	if email.To == "" {
		return ErrNoRecipient
	}
	msg, err := b.Compose(email)
	if err != nil {
		return err
	}
	return b.sender.Send(ctx, msg)
}
