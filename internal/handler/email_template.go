package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/membership-downgrades/internal/middleware"
	"github.com/iliyamo/membership-downgrades/internal/notify"
	"github.com/iliyamo/membership-downgrades/internal/service"
)

// EmailTemplateHandler lists the downgrade email templates as registered
// with the active backend and sends test copies.
type EmailTemplateHandler struct {
	Notifier *notify.Notifier
	Service  *service.DowngradeService
	SiteName string
}

func NewEmailTemplateHandler(n *notify.Notifier, svc *service.DowngradeService, siteName string) *EmailTemplateHandler {
	return &EmailTemplateHandler{Notifier: n, Service: svc, SiteName: siteName}
}

type templateResp struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	HelpText    string            `json:"help_text"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Recipient   string            `json:"recipient"`
	Variables   map[string]string `json:"variables"`
	Registered  bool              `json:"registered"`
}

// registered reports the subject and body each template key has in the
// backend's own registry.  Backends without a readable registry get nil.
func registered(b notify.Backend, siteName string) map[string][2]string {
	out := map[string][2]string{}
	switch b := b.(type) {
	case *notify.TemplateBackend:
		for _, t := range b.Templates() {
			out[t.Key] = [2]string{t.DefaultSubject(siteName), t.Body}
		}
	case *notify.LegacyBackend:
		for key, e := range b.Entries() {
			out[key] = [2]string{e.Subject, e.Body}
		}
	default:
		return nil
	}
	return out
}

type testEmailReq struct {
	Email string `json:"email"`
}

// List: GET /v1/email-templates
func (h *EmailTemplateHandler) List(c echo.Context) error {
	backend := h.Notifier.Backend()
	reg := registered(backend, h.SiteName)
	out := make([]templateResp, 0, 5)
	for _, t := range notify.Templates() {
		recipient := "member"
		if t.Recipient == notify.RecipientAdmin {
			recipient = "admin"
		}
		item := templateResp{
			Key:         t.Key,
			Name:        t.Name,
			Description: t.Description,
			HelpText:    t.HelpText,
			Subject:     t.DefaultSubject(h.SiteName),
			Body:        t.Body,
			Recipient:   recipient,
			Variables:   t.Variables,
			Registered:  reg == nil,
		}
		if r, ok := reg[t.Key]; ok {
			item.Subject, item.Body, item.Registered = r[0], r[1], true
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, echo.Map{"backend": backend.Name(), "items": out})
}

// SendTest: POST /v1/email-templates/:key/test sends the template filled
// from the sample downgrade.  The address defaults to the caller's.
func (h *EmailTemplateHandler) SendTest(c echo.Context) error {
	key := c.Param("key")
	if _, ok := notify.Lookup(key); !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown template"})
	}
	var req testEmailReq
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		}
	}
	address := strings.TrimSpace(req.Email)
	if address == "" {
		address = middleware.Subject(c)
	}
	if !strings.Contains(address, "@") {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()
	if err := h.Service.SendTestEmail(ctx, key, address); err != nil {
		if errors.Is(err, notify.ErrUnknownTemplate) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown template"})
		}
		log.Error().Err(err).Str("template", key).Msg("send test email")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "send failed"})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"template": key, "email": address})
}
