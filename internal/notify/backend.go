// Package notify sends the downgrade emails.  A Notifier resolves
// recipients and substitution variables; a Backend owns the template
// registry and delivery.  Exactly one Backend is chosen at startup.
package notify

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnknownTemplate is returned when a key was never registered.
	ErrUnknownTemplate = errors.New("notify: unknown template")
	// ErrNoRecipient is returned when an email has no address.
	ErrNoRecipient = errors.New("notify: no recipient address")
)

// Email is one rendered-or-to-be-rendered message.  Data holds variable
// values keyed by name without the surrounding "!!" markers.
type Email struct {
	Template string
	To       string
	ToName   string
	Data     map[string]string
	Test     bool
}

// Backend registers templates and delivers emails built from them.
type Backend interface {
	Name() string
	Register(templates []Template) error
	Deliver(ctx context.Context, email Email) error
}

// Render replaces every !!name!! token in s with data[name].  Unknown
// tokens are left as they are.
func Render(s string, data map[string]string) string {
	if len(data) == 0 {
		return s
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "!!"+k+"!!", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
