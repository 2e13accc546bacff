package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/membership-downgrades/internal/host"
	"github.com/iliyamo/membership-downgrades/internal/metrics"
	"github.com/iliyamo/membership-downgrades/internal/model"
)

const (
	defaultAdminName  = "Admin"
	defaultMemberName = "User"
)

// Site carries the site-wide values every email needs.
type Site struct {
	Name       string
	AdminEmail string
	LoginURL   string
	// AdminURL is the absolute URL of the host's admin.php page.
	AdminURL string
}

// Notifier picks recipients and variables for each downgrade event and
// hands the emails to its Backend.
type Notifier struct {
	backend Backend
	users   host.Users
	site    Site
	metrics *metrics.Metrics
}

func NewNotifier(backend Backend, users host.Users, site Site, m *metrics.Metrics) *Notifier {
	return &Notifier{backend: backend, users: users, site: site, metrics: m}
}

func (n *Notifier) Backend() Backend { return n.backend }

// EditDowngradeURL links to the downgrades panel of a member's admin page.
func (n *Notifier) EditDowngradeURL(userID uint64) string {
	base := strings.TrimRight(n.site.AdminURL, "?")
	return fmt.Sprintf("%s?page=pmpro-member&user_id=%d&pmpro_member_edit_panel=pmprorate-downgrades", base, userID)
}

// variables returns the substitution values for key.  Both backends
// receive exactly this map.
func (n *Notifier) variables(key string, d model.Downgrade, memberName, text string) map[string]string {
	vars := map[string]string{
		"display_name": memberName,
		"sitename":     n.site.Name,
	}
	switch key {
	case KeyScheduled:
		vars["pmprorate_downgrade_text"] = text
		vars["login_url"] = n.site.LoginURL
	case KeyProcessed:
		vars["login_url"] = n.site.LoginURL
		vars["edit_member_downgrade_url"] = n.EditDowngradeURL(d.UserID)
	default:
		vars["edit_member_downgrade_url"] = n.EditDowngradeURL(d.UserID)
	}
	return vars
}

func memberName(u model.User) string {
	if u.DisplayName == "" {
		return defaultMemberName
	}
	return u.DisplayName
}

// adminName is the display name of the host user owning the admin
// address, or "Admin".
func (n *Notifier) adminName(ctx context.Context) string {
	if n.site.AdminEmail == "" {
		return defaultAdminName
	}
	u, err := n.users.GetUserByEmail(ctx, n.site.AdminEmail)
	if err != nil || u.DisplayName == "" {
		return defaultAdminName
	}
	return u.DisplayName
}

func (n *Notifier) member(ctx context.Context, d model.Downgrade) (model.User, error) {
	u, err := n.users.GetUser(ctx, d.UserID)
	if err != nil {
		return model.User{}, fmt.Errorf("load user %d: %w", d.UserID, err)
	}
	return u, nil
}

func (n *Notifier) deliver(ctx context.Context, email Email) error {
	err := n.backend.Deliver(ctx, email)
	n.metrics.Notification(email.Template, err)
	if err != nil {
		log.Error().Err(err).
			Str("template", email.Template).
			Str("backend", n.backend.Name()).
			Msg("downgrade email not sent")
		return fmt.Errorf("send %s: %w", email.Template, err)
	}
	log.Debug().
		Str("template", email.Template).
		Str("backend", n.backend.Name()).
		Bool("test", email.Test).
		Msg("downgrade email sent")
	return nil
}

func (n *Notifier) toMember(ctx context.Context, key string, d model.Downgrade, u model.User, text string) error {
	return n.deliver(ctx, Email{
		Template: key,
		To:       u.Email,
		ToName:   memberName(u),
		Data:     n.variables(key, d, memberName(u), text),
	})
}

func (n *Notifier) toAdmin(ctx context.Context, key string, d model.Downgrade, u model.User) error {
	return n.deliver(ctx, Email{
		Template: key,
		To:       n.site.AdminEmail,
		ToName:   n.adminName(ctx),
		Data:     n.variables(key, d, memberName(u), ""),
	})
}

// Scheduled sends the member and admin "scheduled" emails.  text is the
// downgrade description shown to the member.
func (n *Notifier) Scheduled(ctx context.Context, d model.Downgrade, text string) error {
	u, err := n.member(ctx, d)
	if err != nil {
		return err
	}
	return errors.Join(
		n.toMember(ctx, KeyScheduled, d, u, text),
		n.toAdmin(ctx, KeyScheduledAdmin, d, u),
	)
}

// Processed sends the member and admin "processed" emails.
func (n *Notifier) Processed(ctx context.Context, d model.Downgrade) error {
	u, err := n.member(ctx, d)
	if err != nil {
		return err
	}
	return errors.Join(
		n.toMember(ctx, KeyProcessed, d, u, ""),
		n.toAdmin(ctx, KeyProcessedAdmin, d, u),
	)
}

// Error sends the admin error email.  A missing member still produces
// the email, addressed with the fallback name.
func (n *Notifier) Error(ctx context.Context, d model.Downgrade) error {
	u, err := n.member(ctx, d)
	if err != nil {
		log.Warn().Err(err).Uint64("downgrade_id", d.ID).Msg("error email without member details")
		u = model.User{ID: d.UserID}
	}
	return n.toAdmin(ctx, KeyErrorAdmin, d, u)
}

// SendTest sends template key to address using the sample downgrade d.
func (n *Notifier) SendTest(ctx context.Context, key, address string, d model.Downgrade, text string) error {
	if _, ok := Lookup(key); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
	}
	if address == "" {
		return ErrNoRecipient
	}
	name := defaultMemberName
	if u, err := n.users.GetUserByEmail(ctx, address); err == nil && u.DisplayName != "" {
		name = u.DisplayName
	} else if err != nil && !errors.Is(err, host.ErrNotFound) {
		log.Debug().Err(err).Str("email", address).Msg("test email recipient lookup failed")
	}
	return n.deliver(ctx, Email{
		Template: key,
		To:       address,
		ToName:   name,
		Data:     n.variables(key, d, name, text),
		Test:     true,
	})
}
