// Package service implements the downgrade lifecycle: status changes
// with their notifications, processing against the membership host, and
// the member-facing description of a pending downgrade.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/membership-downgrades/internal/host"
	"github.com/iliyamo/membership-downgrades/internal/metrics"
	"github.com/iliyamo/membership-downgrades/internal/model"
	"github.com/iliyamo/membership-downgrades/internal/notify"
)

const (
	DefaultDateLayout = "January 2, 2006"
	DefaultLockTTL    = 2 * time.Minute
)

// Store is the persistence the service needs.  *repository.DowngradeRepo
// satisfies it.
type Store interface {
	Find(ctx context.Context, id uint64) (model.Downgrade, error)
	Create(ctx context.Context, userID, originalLevelID, newLevelID, downgradeOrderID int64) (model.Downgrade, error)
	UpdateStatus(ctx context.Context, id uint64, status model.Status) error
}

// Options tunes a DowngradeService.  Zero values pick the defaults.
type Options struct {
	// DateLayout is the Go time layout used by Describe.
	DateLayout string
	// LockTTL bounds how long one Process call may hold the record lock.
	LockTTL  time.Duration
	Location *time.Location
}

// DowngradeService runs the downgrade lifecycle.
type DowngradeService struct {
	store    Store
	platform host.Platform
	notifier *notify.Notifier
	locker   Locker
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	dateLayout string
	lockTTL    time.Duration
	loc        *time.Location
}

func NewDowngradeService(store Store, platform host.Platform, notifier *notify.Notifier, locker Locker, m *metrics.Metrics, opts Options) *DowngradeService {
	if opts.DateLayout == "" {
		opts.DateLayout = DefaultDateLayout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &DowngradeService{
		store:      store,
		platform:   platform,
		notifier:   notifier,
		locker:     locker,
		metrics:    m,
		tracer:     otel.Tracer("downgrades/service"),
		dateLayout: opts.DateLayout,
		lockTTL:    opts.LockTTL,
		loc:        opts.Location,
	}
}

// Find loads one record.
func (s *DowngradeService) Find(ctx context.Context, id uint64) (model.Downgrade, error) {
	return s.store.Find(ctx, id)
}

// SetStatus persists status on d.  Values outside the five known
// statuses are ignored, as is a move back to pending.  Moving to error
// notifies the admin before returning; delivery problems are logged only.
func (s *DowngradeService) SetStatus(ctx context.Context, d *model.Downgrade, status model.Status) error {
	ctx, span := s.tracer.Start(ctx, "downgrade.set_status",
		trace.WithAttributes(
			attribute.Int64("downgrade.id", int64(d.ID)),
			attribute.String("downgrade.status", string(status)),
		),
	)
	defer span.End()

	if !status.IsValid() {
		log.Debug().Uint64("downgrade_id", d.ID).Str("status", string(status)).Msg("ignoring unknown downgrade status")
		return nil
	}
	if status == model.StatusPending && d.Status != model.StatusPending {
		log.Debug().Uint64("downgrade_id", d.ID).Str("from", string(d.Status)).Msg("ignoring transition back to pending")
		return nil
	}
	if err := s.store.UpdateStatus(ctx, d.ID, status); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update status")
		return fmt.Errorf("update downgrade %d status: %w", d.ID, err)
	}
	prev := d.Status
	d.Status = status
	s.metrics.Transition(string(status))
	log.Info().
		Uint64("downgrade_id", d.ID).
		Str("from", string(prev)).
		Str("to", string(status)).
		Msg("downgrade status changed")

	if status == model.StatusError {
		if err := s.notifier.Error(ctx, *d); err != nil {
			log.Warn().Err(err).Uint64("downgrade_id", d.ID).Msg("downgrade error email failed")
		}
	}
	return nil
}

// fail moves d to error and returns cause.
func (s *DowngradeService) fail(ctx context.Context, d *model.Downgrade, cause error) error {
	if err := s.SetStatus(ctx, d, model.StatusError); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Process applies the downgrade.  renewal is the renewal order when the
// downgrade happens on a renewal payment, nil on expiration.
func (s *DowngradeService) Process(ctx context.Context, d *model.Downgrade, renewal *model.Order) (err error) {
	trigger := "expiration"
	if renewal != nil {
		trigger = "renewal"
	}
	ctx, span := s.tracer.Start(ctx, "downgrade.process",
		trace.WithAttributes(
			attribute.Int64("downgrade.id", int64(d.ID)),
			attribute.String("downgrade.trigger", trigger),
		),
	)
	defer span.End()

	outcome := "error"
	defer func() {
		s.metrics.ProcessRun(trigger, outcome)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
	}()

	if d.Status.Processed() {
		outcome = "skipped"
		return ErrAlreadyProcessed
	}
	release, err := s.locker.Acquire(ctx, processLockKey(d.ID), s.lockTTL)
	if errors.Is(err, ErrProcessInFlight) {
		outcome = "in_flight"
		return err
	}
	if err != nil {
		log.Warn().Err(err).Uint64("downgrade_id", d.ID).Msg("process lock unavailable, continuing unlocked")
		release = func() {}
	}
	defer release()

	// d may be a stale copy; another worker can have finished it while we
	// waited for the lock.
	cur, err := s.store.Find(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("reload downgrade %d: %w", d.ID, err)
	}
	*d = cur
	if d.Status.Processed() {
		outcome = "skipped"
		return ErrAlreadyProcessed
	}

	order, err := s.platform.GetOrder(ctx, d.DowngradeOrderID)
	if errors.Is(err, host.ErrNotFound) {
		return s.fail(ctx, d, ErrOrderNotFound)
	}
	if err != nil {
		return s.fail(ctx, d, fmt.Errorf("load order %d: %w", d.DowngradeOrderID, err))
	}

	level, err := s.platform.CheckoutLevel(ctx, order)
	if errors.Is(err, host.ErrNotFound) || (err == nil && level.ID == 0) {
		return s.fail(ctx, d, ErrTargetLevelNotFound)
	}
	if err != nil {
		return s.fail(ctx, d, fmt.Errorf("checkout level for order %d: %w", order.ID, err))
	}

	working := order
	if renewal != nil {
		working = *renewal
	}
	if err := s.applyLevel(ctx, &working, level); err != nil {
		return s.fail(ctx, d, err)
	}

	if err := s.completeCheckout(ctx, working); err != nil {
		log.Error().Err(err).Uint64("downgrade_id", d.ID).Uint64("order_id", working.ID).Msg("async checkout failed")
		return s.fail(ctx, d, fmt.Errorf("%w: %v", ErrCheckoutFailed, err))
	}

	done := model.StatusDowngradedOnExpiration
	if renewal != nil {
		done = model.StatusDowngradedOnRenewal
	}
	if err := s.SetStatus(ctx, d, done); err != nil {
		return err
	}
	outcome = "processed"

	if err := s.notifier.Processed(ctx, *d); err != nil {
		log.Warn().Err(err).Uint64("downgrade_id", d.ID).Msg("downgrade processed emails failed")
	}
	return nil
}

// completeCheckout runs the host's asynchronous checkout for order with
// checkout emails suppressed.
func (s *DowngradeService) completeCheckout(ctx context.Context, order model.Order) error {
	restore := s.platform.SuppressCheckoutEmails()
	defer restore()
	return s.platform.CompleteAsyncCheckout(ctx, order)
}

// applyLevel points the subscription behind order, every order in it,
// and order itself at level.  Orders outside a subscription are saved
// directly.
func (s *DowngradeService) applyLevel(ctx context.Context, order *model.Order, level model.Level) error {
	sub, err := s.platform.GetSubscription(ctx, *order)
	if errors.Is(err, host.ErrNotFound) {
		order.MembershipID = level.ID
		if err := s.platform.SaveOrder(ctx, *order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription for order %d: %w", order.ID, err)
	}

	sub.MembershipLevelID = level.ID
	if err := s.platform.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription %d: %w", sub.ID, err)
	}
	orders, err := s.platform.ListSubscriptionOrders(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("list subscription %d orders: %w", sub.ID, err)
	}
	for _, o := range orders {
		o.MembershipID = level.ID
		if err := s.platform.SaveOrder(ctx, o); err != nil {
			return fmt.Errorf("save order %d: %w", o.ID, err)
		}
	}
	order.MembershipID = level.ID
	return nil
}

// Describe returns the member-facing sentence for d, e.g.
// "Downgrading to Bronze on March 3, 2026.".  A missing downgrade order
// moves the record to error.
func (s *DowngradeService) Describe(ctx context.Context, d *model.Downgrade) (string, error) {
	ctx, span := s.tracer.Start(ctx, "downgrade.describe",
		trace.WithAttributes(attribute.Int64("downgrade.id", int64(d.ID))),
	)
	defer span.End()

	name, err := s.levelName(ctx, d.NewLevelID)
	if err != nil {
		return "", err
	}

	order, err := s.platform.GetOrder(ctx, d.DowngradeOrderID)
	if errors.Is(err, host.ErrNotFound) {
		span.SetStatus(codes.Error, "order not found")
		return "", s.fail(ctx, d, ErrOrderNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load order %d: %w", d.DowngradeOrderID, err)
	}

	var next, end *time.Time
	sub, err := s.platform.GetSubscription(ctx, order)
	switch {
	case err == nil:
		next = sub.NextPaymentDate
	case !errors.Is(err, host.ErrNotFound):
		return "", fmt.Errorf("load subscription for order %d: %w", order.ID, err)
	}
	ml, err := s.platform.GetMemberLevel(ctx, order.UserID, order.MembershipID)
	switch {
	case err == nil:
		end = ml.EndDate
	case !errors.Is(err, host.ErrNotFound):
		return "", fmt.Errorf("load member level %d for user %d: %w", order.MembershipID, order.UserID, err)
	}

	when := earliest(next, end)
	if when == nil {
		return fmt.Sprintf("Downgrading to %s.", name), nil
	}
	return fmt.Sprintf("Downgrading to %s on %s.", name, when.In(s.loc).Format(s.dateLayout)), nil
}

func (s *DowngradeService) levelName(ctx context.Context, id uint64) (string, error) {
	level, err := s.platform.GetLevel(ctx, id)
	if errors.Is(err, host.ErrNotFound) {
		return fmt.Sprintf("[deleted level #%d]", id), nil
	}
	if err != nil {
		return "", fmt.Errorf("load level %d: %w", id, err)
	}
	return level.Name, nil
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil || a.IsZero():
		if b == nil || b.IsZero() {
			return nil
		}
		return b
	case b == nil || b.IsZero():
		return a
	case b.Before(*a):
		return b
	}
	return a
}

// Schedule records a pending downgrade and sends the "scheduled" emails.
func (s *DowngradeService) Schedule(ctx context.Context, userID, originalLevelID, newLevelID, downgradeOrderID int64) (model.Downgrade, error) {
	ctx, span := s.tracer.Start(ctx, "downgrade.schedule",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int64("order.id", downgradeOrderID),
		),
	)
	defer span.End()

	d, err := s.store.Create(ctx, userID, originalLevelID, newLevelID, downgradeOrderID)
	if err != nil {
		span.RecordError(err)
		return model.Downgrade{}, err
	}
	s.metrics.Transition(string(d.Status))
	log.Info().
		Uint64("downgrade_id", d.ID).
		Uint64("user_id", d.UserID).
		Uint64("new_level_id", d.NewLevelID).
		Msg("downgrade scheduled")

	text, err := s.Describe(ctx, &d)
	if errors.Is(err, ErrOrderNotFound) {
		return d, err
	}
	if err != nil {
		log.Warn().Err(err).Uint64("downgrade_id", d.ID).Msg("describe failed, sending scheduled emails without a date")
		text = s.datelessText(ctx, d.NewLevelID)
	}
	if err := s.notifier.Scheduled(ctx, d, text); err != nil {
		log.Warn().Err(err).Uint64("downgrade_id", d.ID).Msg("downgrade scheduled emails failed")
	}
	return d, nil
}

// TestDowngrade is the sample record used for template test sends.
func TestDowngrade() model.Downgrade {
	return model.Downgrade{
		ID:               1,
		UserID:           1,
		OriginalLevelID:  1,
		NewLevelID:       2,
		DowngradeOrderID: 1,
		Status:           model.StatusPending,
	}
}

// SendTestEmail sends template key to address filled from TestDowngrade.
// The sample order rarely exists on the host, so the description has no
// date.
func (s *DowngradeService) SendTestEmail(ctx context.Context, key, address string) error {
	d := TestDowngrade()
	return s.notifier.SendTest(ctx, key, address, d, s.datelessText(ctx, d.NewLevelID))
}

// datelessText is the description used when the host cannot supply the
// downgrade dates.
func (s *DowngradeService) datelessText(ctx context.Context, levelID uint64) string {
	name, err := s.levelName(ctx, levelID)
	if err != nil {
		log.Warn().Err(err).Uint64("level_id", levelID).Msg("level lookup failed")
		name = fmt.Sprintf("level #%d", levelID)
	}
	return fmt.Sprintf("Downgrading to %s.", name)
}
