package handler // handler defines http handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/membership-downgrades/internal/host"
	"github.com/iliyamo/membership-downgrades/internal/model"
	"github.com/iliyamo/membership-downgrades/internal/queue"
	"github.com/iliyamo/membership-downgrades/internal/repository"
	"github.com/iliyamo/membership-downgrades/internal/service"
)

// ProcessQueue hands a downgrade to the background consumer.
type ProcessQueue interface {
	PublishProcess(ctx context.Context, ev queue.ProcessDowngradeEvent) error
}

// DowngradeHandler serves the admin downgrade endpoints.  Queue is
// optional; without it Enqueue answers 503.
type DowngradeHandler struct {
	Repo    *repository.DowngradeRepo
	Service *service.DowngradeService
	Orders  host.Orders
	Queue   ProcessQueue
}

func NewDowngradeHandler(repo *repository.DowngradeRepo, svc *service.DowngradeService, orders host.Orders) *DowngradeHandler {
	if repo == nil || svc == nil || orders == nil {
		panic("nil dependency passed to NewDowngradeHandler")
	}
	return &DowngradeHandler{Repo: repo, Service: svc, Orders: orders}
}

type downgradeResp struct {
	model.Downgrade
	StatusText string `json:"status_text"`
}

func toResp(d model.Downgrade) downgradeResp {
	return downgradeResp{Downgrade: d, StatusText: d.StatusText()}
}

type createDowngradeReq struct {
	UserID           int64 `json:"user_id"`
	OriginalLevelID  int64 `json:"original_level_id"`
	NewLevelID       int64 `json:"new_level_id"`
	DowngradeOrderID int64 `json:"downgrade_order_id"`
}

type processReq struct {
	RenewalOrderID uint64 `json:"renewal_order_id"`
}

type statusReq struct {
	Status string `json:"status"`
}

func parseID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// queryUint reads an optional unsigned query parameter.
func queryUint(c echo.Context, name string) (*uint64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (h *DowngradeHandler) load(ctx context.Context, c echo.Context) (model.Downgrade, error) {
	id, ok := parseID(c)
	if !ok {
		return model.Downgrade{}, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	d, err := h.Repo.Find(ctx, id)
	if errors.Is(err, repository.ErrDowngradeNotFound) {
		return model.Downgrade{}, c.JSON(http.StatusNotFound, echo.Map{"error": "downgrade not found"})
	}
	if err != nil {
		log.Error().Err(err).Uint64("downgrade_id", id).Msg("load downgrade")
		return model.Downgrade{}, c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return d, nil
}

// List: GET /v1/downgrades?user_id=&original_level_id=&new_level_id=&downgrade_order_id=&status=&orderby=&limit=
func (h *DowngradeHandler) List(c echo.Context) error {
	var q repository.DowngradeQuery
	var err error
	for name, dst := range map[string]**uint64{
		"id":                 &q.ID,
		"user_id":            &q.UserID,
		"original_level_id":  &q.OriginalLevelID,
		"new_level_id":       &q.NewLevelID,
		"downgrade_order_id": &q.DowngradeOrderID,
	} {
		if *dst, err = queryUint(c, name); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid " + name})
		}
	}
	if s := strings.TrimSpace(c.QueryParam("status")); s != "" {
		st := model.Status(s)
		if !st.IsValid() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
		}
		q.Status = &st
	}
	q.OrderBy = c.QueryParam("orderby")
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		q.Limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Repo.List(ctx, q)
	if errors.Is(err, repository.ErrUnsafeOrderBy) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid orderby", "items": []downgradeResp{}})
	}
	if err != nil {
		log.Error().Err(err).Msg("list downgrades")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]downgradeResp, 0, len(items))
	for _, d := range items {
		out = append(out, toResp(d))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out, "count": len(out)})
}

// Get: GET /v1/downgrades/:id
func (h *DowngradeHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	d, err := h.load(ctx, c)
	if err != nil || d.ID == 0 {
		return err
	}
	return c.JSON(http.StatusOK, toResp(d))
}

// Create: POST /v1/downgrades schedules a downgrade and sends the
// "scheduled" emails.
func (h *DowngradeHandler) Create(c echo.Context) error {
	var req createDowngradeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	d, err := h.Service.Schedule(ctx, req.UserID, req.OriginalLevelID, req.NewLevelID, req.DowngradeOrderID)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, toResp(d))
	case errors.Is(err, repository.ErrInvalidDowngrade):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id, original_level_id and downgrade_order_id must be positive; new_level_id must not be negative"})
	case errors.Is(err, repository.ErrDowngradeExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "a downgrade already exists for this order"})
	case errors.Is(err, service.ErrOrderNotFound):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error(), "downgrade": toResp(d)})
	}
	log.Error().Err(err).Msg("schedule downgrade")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "schedule failed"})
}

// Process: POST /v1/downgrades/:id/process runs the downgrade now.  An
// optional renewal_order_id marks it as a renewal.
func (h *DowngradeHandler) Process(c echo.Context) error {
	var req processReq
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	d, err := h.load(ctx, c)
	if err != nil || d.ID == 0 {
		return err
	}

	var renewal *model.Order
	if req.RenewalOrderID != 0 {
		o, err := h.Orders.GetOrder(ctx, req.RenewalOrderID)
		if errors.Is(err, host.ErrNotFound) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "renewal order not found"})
		}
		if err != nil {
			log.Error().Err(err).Uint64("order_id", req.RenewalOrderID).Msg("load renewal order")
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "host unavailable"})
		}
		renewal = &o
	}

	err = h.Service.Process(ctx, &d, renewal)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, toResp(d))
	case errors.Is(err, service.ErrAlreadyProcessed), errors.Is(err, service.ErrProcessInFlight):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "downgrade": toResp(d)})
	}
	log.Warn().Err(err).Uint64("downgrade_id", d.ID).Msg("process downgrade")
	return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error(), "downgrade": toResp(d)})
}

// Enqueue: POST /v1/downgrades/:id/enqueue publishes a process event for
// the consumer instead of processing inline.
func (h *DowngradeHandler) Enqueue(c echo.Context) error {
	if h.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "queue not configured"})
	}
	var req processReq
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	d, err := h.load(ctx, c)
	if err != nil || d.ID == 0 {
		return err
	}
	if d.Status.Processed() {
		return c.JSON(http.StatusConflict, echo.Map{"error": service.ErrAlreadyProcessed.Error(), "downgrade": toResp(d)})
	}
	ev := queue.ProcessDowngradeEvent{DowngradeID: d.ID, RenewalOrderID: req.RenewalOrderID}
	if err := h.Queue.PublishProcess(ctx, ev); err != nil {
		log.Error().Err(err).Uint64("downgrade_id", d.ID).Msg("enqueue downgrade")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "publish failed"})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"id": d.ID, "queued": true})
}

// Text: GET /v1/downgrades/:id/text returns the member-facing
// description.  A missing order moves the record to error.
func (h *DowngradeHandler) Text(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()
	d, err := h.load(ctx, c)
	if err != nil || d.ID == 0 {
		return err
	}
	text, err := h.Service.Describe(ctx, &d)
	if errors.Is(err, service.ErrOrderNotFound) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error(), "downgrade": toResp(d)})
	}
	if err != nil {
		log.Error().Err(err).Uint64("downgrade_id", d.ID).Msg("describe downgrade")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "host unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"id": d.ID, "text": text})
}

// SetStatus: PUT /v1/downgrades/:id/status.  pending is only ever set by
// Create.
func (h *DowngradeHandler) SetStatus(c echo.Context) error {
	var req statusReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	status := model.Status(strings.TrimSpace(req.Status))
	if !status.IsValid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	if status == model.StatusPending {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a downgrade cannot be moved back to pending"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()
	d, err := h.load(ctx, c)
	if err != nil || d.ID == 0 {
		return err
	}
	if err := h.Service.SetStatus(ctx, &d, status); err != nil {
		log.Error().Err(err).Uint64("downgrade_id", d.ID).Msg("set downgrade status")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, toResp(d))
}
