package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/membership-downgrades/internal/database"
	"github.com/iliyamo/membership-downgrades/internal/host"
	"github.com/iliyamo/membership-downgrades/internal/model"
	"github.com/iliyamo/membership-downgrades/internal/notify"
	"github.com/iliyamo/membership-downgrades/internal/repository"
)

// fakePlatform is an in-memory membership host.
type fakePlatform struct {
	mu sync.Mutex

	orders        map[uint64]model.Order
	subscriptions map[uint64]model.Subscription
	levels        map[uint64]model.Level
	memberLevels  map[[2]uint64]model.MemberLevel
	users         map[uint64]model.User
	// checkoutLevels maps an order id to the level its checkout grants.
	checkoutLevels map[uint64]model.Level

	checkoutErr   error
	saveErr       error
	orderErr      error
	checkoutPanic bool

	savedOrders        []model.Order
	savedSubscriptions []model.Subscription
	completed          []model.Order
	// suppressedDuringCheckout records the suppression state seen by
	// each CompleteAsyncCheckout call.
	suppressedDuringCheckout []bool
	suppressed               int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		orders:         map[uint64]model.Order{},
		subscriptions:  map[uint64]model.Subscription{},
		levels:         map[uint64]model.Level{},
		memberLevels:   map[[2]uint64]model.MemberLevel{},
		users:          map[uint64]model.User{},
		checkoutLevels: map[uint64]model.Level{},
	}
}

var _ host.Platform = (*fakePlatform)(nil)

func (f *fakePlatform) GetOrder(_ context.Context, id uint64) (model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return model.Order{}, f.orderErr
	}
	o, ok := f.orders[id]
	if !ok {
		return model.Order{}, host.ErrNotFound
	}
	return o, nil
}

func (f *fakePlatform) GetSubscription(_ context.Context, order model.Order) (model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[order.SubscriptionID]
	if order.SubscriptionID == 0 || !ok {
		return model.Subscription{}, host.ErrNotFound
	}
	return s, nil
}

func (f *fakePlatform) ListSubscriptionOrders(_ context.Context, subscriptionID uint64) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Order
	for _, o := range f.orders {
		if o.SubscriptionID == subscriptionID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakePlatform) SaveOrder(_ context.Context, order model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.orders[order.ID] = order
	f.savedOrders = append(f.savedOrders, order)
	return nil
}

func (f *fakePlatform) SaveSubscription(_ context.Context, sub model.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.subscriptions[sub.ID] = sub
	f.savedSubscriptions = append(f.savedSubscriptions, sub)
	return nil
}

func (f *fakePlatform) CheckoutLevel(_ context.Context, order model.Order) (model.Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.checkoutLevels[order.ID]
	if !ok {
		return model.Level{}, host.ErrNotFound
	}
	return l, nil
}

func (f *fakePlatform) CompleteAsyncCheckout(_ context.Context, order model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, order)
	f.suppressedDuringCheckout = append(f.suppressedDuringCheckout, f.suppressed > 0)
	if f.checkoutPanic {
		panic("checkout plugin crashed")
	}
	return f.checkoutErr
}

func (f *fakePlatform) SuppressCheckoutEmails() func() {
	f.mu.Lock()
	f.suppressed++
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.suppressed--
			f.mu.Unlock()
		})
	}
}

func (f *fakePlatform) GetUser(_ context.Context, id uint64) (model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return model.User{}, host.ErrNotFound
	}
	return u, nil
}

func (f *fakePlatform) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, host.ErrNotFound
}

func (f *fakePlatform) GetLevel(_ context.Context, id uint64) (model.Level, error) {
	l, ok := f.levels[id]
	if !ok {
		return model.Level{}, host.ErrNotFound
	}
	return l, nil
}

func (f *fakePlatform) GetMemberLevel(_ context.Context, userID, levelID uint64) (model.MemberLevel, error) {
	ml, ok := f.memberLevels[[2]uint64{userID, levelID}]
	if !ok {
		return model.MemberLevel{}, host.ErrNotFound
	}
	return ml, nil
}

// outbox is a notify.Backend that records deliveries.
type outbox struct {
	mu     sync.Mutex
	emails []notify.Email
	err    error
}

func (o *outbox) Name() string                     { return "outbox" }
func (o *outbox) Register([]notify.Template) error { return nil }
func (o *outbox) Deliver(_ context.Context, e notify.Email) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails = append(o.emails, e)
	return o.err
}

func (o *outbox) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.emails {
		if e.Template == key {
			n++
		}
	}
	return n
}

// failingStore wraps a Store and fails UpdateStatus.
type failingStore struct {
	Store
}

func (failingStore) UpdateStatus(context.Context, uint64, model.Status) error {
	return errors.New("disk full")
}

type fixture struct {
	svc      *DowngradeService
	repo     *repository.DowngradeRepo
	platform *fakePlatform
	outbox   *outbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "downgrades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))

	repo := repository.NewDowngradeRepo(db)
	p := newFakePlatform()
	p.users[5] = model.User{ID: 5, Email: "member@example.com", DisplayName: "Jamie"}
	p.users[1] = model.User{ID: 1, Email: "admin@example.com", DisplayName: "Site Owner"}
	p.levels[2] = model.Level{ID: 2, Name: "Gold"}
	p.levels[3] = model.Level{ID: 3, Name: "Bronze"}

	ob := &outbox{}
	n := notify.NewNotifier(ob, p, notify.Site{
		Name:       "Example Club",
		AdminEmail: "admin@example.com",
		LoginURL:   "https://example.com/login",
		AdminURL:   "https://example.com/wp-admin/admin.php",
	}, nil)

	svc := NewDowngradeService(repo, p, n, NewMemoryLocker(), nil, Options{})
	return &fixture{svc: svc, repo: repo, platform: p, outbox: ob}
}

// seedOrder stores order 9 for user 5 at level 2 whose checkout grants
// level 3.
func (fx *fixture) seedOrder(subscriptionID uint64) model.Order {
	o := model.Order{ID: 9, UserID: 5, MembershipID: 2, SubscriptionID: subscriptionID}
	fx.platform.orders[o.ID] = o
	fx.platform.checkoutLevels[o.ID] = model.Level{ID: 3, Name: "Bronze"}
	return o
}

func (fx *fixture) create(t *testing.T) model.Downgrade {
	t.Helper()
	d, err := fx.repo.Create(context.Background(), 5, 2, 3, 9)
	require.NoError(t, err)
	return d
}

func (fx *fixture) stored(t *testing.T, id uint64) model.Downgrade {
	t.Helper()
	d, err := fx.repo.Find(context.Background(), id)
	require.NoError(t, err)
	return d
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	return &t
}
