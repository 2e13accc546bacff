package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iliyamo/membership-downgrades/internal/host"
	"github.com/iliyamo/membership-downgrades/internal/model"
)

// HostClient talks to the membership platform's REST API and implements
// host.Platform.
type HostClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	suppressed atomic.Int32
}

// NewHostClient returns a client for the API rooted at baseURL.  token is
// sent as a bearer credential when non-empty.
func NewHostClient(baseURL, token string) *HostClient {
	return &HostClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

var _ host.Platform = (*HostClient)(nil)

func (c *HostClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return host.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status code: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HostClient) GetOrder(ctx context.Context, id uint64) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", id), nil, &o)
	return o, err
}

func (c *HostClient) GetSubscription(ctx context.Context, order model.Order) (model.Subscription, error) {
	var s model.Subscription
	if order.SubscriptionID == 0 {
		return s, host.ErrNotFound
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/subscriptions/%d", order.SubscriptionID), nil, &s)
	return s, err
}

func (c *HostClient) ListSubscriptionOrders(ctx context.Context, subscriptionID uint64) ([]model.Order, error) {
	var orders []model.Order
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/subscriptions/%d/orders", subscriptionID), nil, &orders)
	return orders, err
}

func (c *HostClient) SaveOrder(ctx context.Context, order model.Order) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/orders/%d", order.ID), order, nil)
}

func (c *HostClient) SaveSubscription(ctx context.Context, sub model.Subscription) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/subscriptions/%d", sub.ID), sub, nil)
}

func (c *HostClient) CheckoutLevel(ctx context.Context, order model.Order) (model.Level, error) {
	var l model.Level
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d/checkout-level", order.ID), nil, &l)
	if err == nil && l.ID == 0 {
		return l, host.ErrNotFound
	}
	return l, err
}

// CompleteAsyncCheckout asks the host to finish the stored checkout for
// order.  While suppression is active the host is told not to send its
// checkout emails.
func (c *HostClient) CompleteAsyncCheckout(ctx context.Context, order model.Order) error {
	q := url.Values{}
	q.Set("send_checkout_emails", "true")
	if c.suppressed.Load() > 0 {
		q.Set("send_checkout_emails", "false")
	}
	path := fmt.Sprintf("/orders/%d/complete-checkout?%s", order.ID, q.Encode())
	return c.do(ctx, http.MethodPost, path, order, nil)
}

func (c *HostClient) SuppressCheckoutEmails() func() {
	c.suppressed.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			c.suppressed.Add(-1)
		}
	}
}

func (c *HostClient) GetUser(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &u)
	return u, err
}

func (c *HostClient) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, "/users?email="+url.QueryEscape(email), nil, &u)
	return u, err
}

func (c *HostClient) GetLevel(ctx context.Context, id uint64) (model.Level, error) {
	var l model.Level
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/levels/%d", id), nil, &l)
	return l, err
}

func (c *HostClient) GetMemberLevel(ctx context.Context, userID, levelID uint64) (model.MemberLevel, error) {
	var ml model.MemberLevel
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d/levels/%d", userID, levelID), nil, &ml)
	return ml, err
}
