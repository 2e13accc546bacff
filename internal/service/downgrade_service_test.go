package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/membership-downgrades/internal/model"
	"github.com/iliyamo/membership-downgrades/internal/notify"
)

func TestSetStatusPersists(t *testing.T) {
	fx := newFixture(t)
	d := fx.create(t)

	require.NoError(t, fx.svc.SetStatus(context.Background(), &d, model.StatusLostOriginalLevel))
	assert.Equal(t, model.StatusLostOriginalLevel, d.Status)
	assert.Equal(t, model.StatusLostOriginalLevel, fx.stored(t, d.ID).Status)
	assert.Empty(t, fx.outbox.emails)
}

func TestSetStatusIgnoresUnknownValues(t *testing.T) {
	fx := newFixture(t)
	d := fx.create(t)

	for _, s := range []model.Status{"", "done", "PENDING", "error "} {
		require.NoError(t, fx.svc.SetStatus(context.Background(), &d, s))
	}
	assert.Equal(t, model.StatusPending, d.Status)
	assert.Equal(t, model.StatusPending, fx.stored(t, d.ID).Status)
	assert.Empty(t, fx.outbox.emails)
}

func TestSetStatusNeverReturnsToPending(t *testing.T) {
	fx := newFixture(t)
	d := fx.create(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.SetStatus(ctx, &d, model.StatusPending))
	assert.Equal(t, model.StatusPending, fx.stored(t, d.ID).Status)

	require.NoError(t, fx.svc.SetStatus(ctx, &d, model.StatusError))
	require.NoError(t, fx.svc.SetStatus(ctx, &d, model.StatusPending))
	assert.Equal(t, model.StatusError, d.Status)
	assert.Equal(t, model.StatusError, fx.stored(t, d.ID).Status)

	require.NoError(t, fx.svc.SetStatus(ctx, &d, model.StatusDowngradedOnRenewal))
	require.NoError(t, fx.svc.SetStatus(ctx, &d, model.StatusPending))
	assert.Equal(t, model.StatusDowngradedOnRenewal, fx.stored(t, d.ID).Status)
}

func TestSetStatusErrorNotifiesAdminOnce(t *testing.T) {
	fx := newFixture(t)
	d := fx.create(t)

	require.NoError(t, fx.svc.SetStatus(context.Background(), &d, model.StatusError))
	require.Len(t, fx.outbox.emails, 1)
	e := fx.outbox.emails[0]
	assert.Equal(t, notify.KeyErrorAdmin, e.Template)
	assert.Equal(t, "admin@example.com", e.To)
	assert.Equal(t, "Jamie", e.Data["display_name"])
}

func TestSetStatusErrorIgnoresDeliveryFailure(t *testing.T) {
	fx := newFixture(t)
	fx.outbox.err = errors.New("relay down")
	d := fx.create(t)

	require.NoError(t, fx.svc.SetStatus(context.Background(), &d, model.StatusError))
	assert.Equal(t, model.StatusError, fx.stored(t, d.ID).Status)
}

func TestSetStatusStoreFailure(t *testing.T) {
	fx := newFixture(t)
	d := fx.create(t)
	fx.svc.store = failingStore{Store: fx.repo}

	err := fx.svc.SetStatus(context.Background(), &d, model.StatusError)
	require.Error(t, err)
	assert.Equal(t, model.StatusPending, d.Status)
	assert.Empty(t, fx.outbox.emails)
}

func TestProcessMissingOrder(t *testing.T) {
	fx := newFixture(t)
	d := fx.create(t)

	err := fx.svc.Process(context.Background(), &d, nil)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, model.StatusError, fx.stored(t, d.ID).Status)
	assert.Empty(t, fx.platform.completed, "checkout must not run")
	assert.Equal(t, 1, fx.outbox.count(notify.KeyErrorAdmin))
}

func TestProcessMissingTargetLevel(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	delete(fx.platform.checkoutLevels, 9)
	d := fx.create(t)

	err := fx.svc.Process(context.Background(), &d, nil)
	assert.ErrorIs(t, err, ErrTargetLevelNotFound)
	assert.Equal(t, model.StatusError, fx.stored(t, d.ID).Status)
	assert.Empty(t, fx.platform.completed)
	assert.Empty(t, fx.platform.savedOrders)
}

func TestProcessOnExpiration(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	d := fx.create(t)

	require.NoError(t, fx.svc.Process(context.Background(), &d, nil))
	assert.Equal(t, model.StatusDowngradedOnExpiration, d.Status)
	assert.Equal(t, model.StatusDowngradedOnExpiration, fx.stored(t, d.ID).Status)

	require.Len(t, fx.platform.savedOrders, 1)
	assert.Equal(t, uint64(3), fx.platform.savedOrders[0].MembershipID)
	require.Len(t, fx.platform.completed, 1)
	assert.Equal(t, uint64(9), fx.platform.completed[0].ID)
	assert.Equal(t, uint64(3), fx.platform.completed[0].MembershipID)
	assert.Equal(t, []bool{true}, fx.platform.suppressedDuringCheckout)
	assert.Zero(t, fx.platform.suppressed, "checkout emails are restored")

	assert.Equal(t, 1, fx.outbox.count(notify.KeyProcessed))
	assert.Equal(t, 1, fx.outbox.count(notify.KeyProcessedAdmin))
	assert.Len(t, fx.outbox.emails, 2)
}

func TestProcessOnRenewalWithSubscription(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	fx.platform.subscriptions[40] = model.Subscription{ID: 40, UserID: 5, MembershipLevelID: 2}
	fx.platform.orders[20] = model.Order{ID: 20, UserID: 5, MembershipID: 2, SubscriptionID: 40}
	fx.platform.orders[21] = model.Order{ID: 21, UserID: 5, MembershipID: 2, SubscriptionID: 40}
	renewal := model.Order{ID: 22, UserID: 5, MembershipID: 2, SubscriptionID: 40}
	d := fx.create(t)

	require.NoError(t, fx.svc.Process(context.Background(), &d, &renewal))
	assert.Equal(t, model.StatusDowngradedOnRenewal, fx.stored(t, d.ID).Status)

	require.Len(t, fx.platform.savedSubscriptions, 1)
	assert.Equal(t, uint64(3), fx.platform.savedSubscriptions[0].MembershipLevelID)
	assert.Equal(t, uint64(3), fx.platform.orders[20].MembershipID)
	assert.Equal(t, uint64(3), fx.platform.orders[21].MembershipID)
	assert.Equal(t, uint64(2), fx.platform.orders[9].MembershipID, "downgrade order is outside the subscription")

	require.Len(t, fx.platform.completed, 1)
	assert.Equal(t, uint64(22), fx.platform.completed[0].ID)
	assert.Equal(t, uint64(3), fx.platform.completed[0].MembershipID)

	assert.Equal(t, 1, fx.outbox.count(notify.KeyProcessed))
	assert.Equal(t, 1, fx.outbox.count(notify.KeyProcessedAdmin))
}

func TestProcessCheckoutFailure(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	fx.platform.checkoutErr = errors.New("gateway declined")
	d := fx.create(t)

	err := fx.svc.Process(context.Background(), &d, nil)
	assert.ErrorIs(t, err, ErrCheckoutFailed)
	assert.Equal(t, model.StatusError, fx.stored(t, d.ID).Status)
	assert.Zero(t, fx.platform.suppressed, "checkout emails are restored on failure")
	assert.Equal(t, 0, fx.outbox.count(notify.KeyProcessed))
	assert.Equal(t, 1, fx.outbox.count(notify.KeyErrorAdmin))
}

func TestProcessSaveFailureRecordsError(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	fx.platform.saveErr = errors.New("host unavailable")
	d := fx.create(t)

	err := fx.svc.Process(context.Background(), &d, nil)
	require.Error(t, err)
	assert.Equal(t, model.StatusError, fx.stored(t, d.ID).Status)
	assert.Empty(t, fx.platform.completed)
}

func TestProcessRetryFromError(t *testing.T) {
	fx := newFixture(t)
	d := fx.create(t)
	require.ErrorIs(t, fx.svc.Process(context.Background(), &d, nil), ErrOrderNotFound)

	fx.seedOrder(0)
	require.NoError(t, fx.svc.Process(context.Background(), &d, nil))
	assert.Equal(t, model.StatusDowngradedOnExpiration, fx.stored(t, d.ID).Status)
}

func TestProcessRefusesProcessedRecord(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	d := fx.create(t)
	require.NoError(t, fx.svc.Process(context.Background(), &d, nil))

	err := fx.svc.Process(context.Background(), &d, nil)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Len(t, fx.platform.completed, 1)
}

func TestProcessStaleCopyRunsOnce(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	first := fx.create(t)
	second := first

	require.NoError(t, fx.svc.Process(context.Background(), &first, nil))
	err := fx.svc.Process(context.Background(), &second, nil)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, model.StatusDowngradedOnExpiration, second.Status)

	assert.Len(t, fx.platform.completed, 1)
	assert.Equal(t, 1, fx.outbox.count(notify.KeyProcessed))
	assert.Equal(t, 1, fx.outbox.count(notify.KeyProcessedAdmin))
}

func TestProcessRestoresCheckoutEmailsAfterPanic(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	fx.platform.checkoutPanic = true
	d := fx.create(t)

	assert.Panics(t, func() { _ = fx.svc.Process(context.Background(), &d, nil) })
	assert.Equal(t, []bool{true}, fx.platform.suppressedDuringCheckout)
	assert.Zero(t, fx.platform.suppressed)
}

func TestProcessHonoursLock(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	d := fx.create(t)

	release, err := fx.svc.locker.Acquire(context.Background(), processLockKey(d.ID), time.Minute)
	require.NoError(t, err)

	err = fx.svc.Process(context.Background(), &d, nil)
	assert.ErrorIs(t, err, ErrProcessInFlight)
	assert.Empty(t, fx.platform.completed)
	assert.Equal(t, model.StatusPending, fx.stored(t, d.ID).Status)

	release()
	require.NoError(t, fx.svc.Process(context.Background(), &d, nil))
}

func TestDescribeWithoutDates(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	d := fx.create(t)

	text, err := fx.svc.Describe(context.Background(), &d)
	require.NoError(t, err)
	assert.Equal(t, "Downgrading to Bronze.", text)
}

func TestDescribeDeletedLevel(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	delete(fx.platform.levels, 3)
	d := fx.create(t)

	text, err := fx.svc.Describe(context.Background(), &d)
	require.NoError(t, err)
	assert.Contains(t, text, "[deleted level #3]")
	assert.Equal(t, "Downgrading to [deleted level #3].", text)
}

func TestDescribeMissingOrderSetsError(t *testing.T) {
	fx := newFixture(t)
	d := fx.create(t)

	_, err := fx.svc.Describe(context.Background(), &d)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, model.StatusError, fx.stored(t, d.ID).Status)
	assert.Equal(t, 1, fx.outbox.count(notify.KeyErrorAdmin))
}

func TestDescribeDates(t *testing.T) {
	cases := []struct {
		name string
		next *time.Time
		end  *time.Time
		want string
	}{
		{"next payment only", date(2026, time.November, 1), nil, "Downgrading to Bronze on November 1, 2026."},
		{"end date only", nil, date(2026, time.December, 24), "Downgrading to Bronze on December 24, 2026."},
		{"next payment earlier", date(2026, time.November, 1), date(2026, time.December, 24), "Downgrading to Bronze on November 1, 2026."},
		{"end date earlier", date(2027, time.January, 5), date(2026, time.December, 24), "Downgrading to Bronze on December 24, 2026."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			var subID uint64
			if tc.next != nil {
				subID = 40
				fx.platform.subscriptions[40] = model.Subscription{ID: 40, UserID: 5, MembershipLevelID: 2, NextPaymentDate: tc.next}
			}
			fx.seedOrder(subID)
			if tc.end != nil {
				fx.platform.memberLevels[[2]uint64{5, 2}] = model.MemberLevel{UserID: 5, LevelID: 2, EndDate: tc.end}
			}
			d := fx.create(t)

			text, err := fx.svc.Describe(context.Background(), &d)
			require.NoError(t, err)
			assert.Equal(t, tc.want, text)
		})
	}
}

func TestDescribeCustomLayout(t *testing.T) {
	fx := newFixture(t)
	fx.svc.dateLayout = "2006-01-02"
	fx.seedOrder(0)
	fx.platform.memberLevels[[2]uint64{5, 2}] = model.MemberLevel{UserID: 5, LevelID: 2, EndDate: date(2026, time.March, 3)}
	d := fx.create(t)

	text, err := fx.svc.Describe(context.Background(), &d)
	require.NoError(t, err)
	assert.Equal(t, "Downgrading to Bronze on 2026-03-03.", text)
}

func TestScheduleSendsScheduledEmails(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)

	d, err := fx.svc.Schedule(context.Background(), 5, 2, 3, 9)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, d.Status)
	assert.Positive(t, d.ID)

	require.Len(t, fx.outbox.emails, 2)
	assert.Equal(t, notify.KeyScheduled, fx.outbox.emails[0].Template)
	assert.Equal(t, "Downgrading to Bronze.", fx.outbox.emails[0].Data["pmprorate_downgrade_text"])
	assert.Equal(t, notify.KeyScheduledAdmin, fx.outbox.emails[1].Template)
}

func TestScheduleSendsEmailsWhenHostFails(t *testing.T) {
	fx := newFixture(t)
	fx.seedOrder(0)
	fx.platform.orderErr = errors.New("host timeout")

	d, err := fx.svc.Schedule(context.Background(), 5, 2, 3, 9)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, fx.stored(t, d.ID).Status)

	require.Len(t, fx.outbox.emails, 2)
	assert.Equal(t, "Downgrading to Bronze.", fx.outbox.emails[0].Data["pmprorate_downgrade_text"])
	assert.Equal(t, notify.KeyScheduledAdmin, fx.outbox.emails[1].Template)
}

func TestScheduleMissingOrderSetsError(t *testing.T) {
	fx := newFixture(t)

	d, err := fx.svc.Schedule(context.Background(), 5, 2, 3, 9)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, model.StatusError, fx.stored(t, d.ID).Status)
	assert.Zero(t, fx.outbox.count(notify.KeyScheduled))
}

func TestScheduleRejectsInvalidInput(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Schedule(context.Background(), 0, 2, 3, 9)
	require.Error(t, err)
	assert.Empty(t, fx.outbox.emails)
}

func TestSendTestEmail(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.svc.SendTestEmail(context.Background(), notify.KeyScheduled, "admin@example.com"))
	require.Len(t, fx.outbox.emails, 1)
	e := fx.outbox.emails[0]
	assert.True(t, e.Test)
	assert.Equal(t, "Downgrading to Gold.", e.Data["pmprorate_downgrade_text"])
	assert.Contains(t, e.Data["pmprorate_downgrade_text"], "Gold")
}

func TestTestDowngradeFixture(t *testing.T) {
	d := TestDowngrade()
	assert.Equal(t, model.Downgrade{ID: 1, UserID: 1, OriginalLevelID: 1, NewLevelID: 2, DowngradeOrderID: 1, Status: model.StatusPending}, d)
}
