package kinguin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

// Observer receives one call per request attempt. outcome is "ok",
// "transport_error", "decode_error" or the HTTP status code.
type Observer interface {
	ObserveRequest(op, outcome string, elapsed time.Duration)
}

type validator interface {
	validate() error
}

// Client talks to the Kinguin e-commerce gateway. It keeps no mutable state
// between calls, so one Client may be shared by concurrent goroutines.
type Client struct {
	credential Credential
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	client     *resty.Client
	log        *logrus.Entry
	observer   Observer
	now        func() time.Time
}

type Option func(*Client)

// WithTimeout bounds each request attempt. It defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient swaps the underlying transport. The request timeout still
// comes from WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) {
		c.log = log
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithClock replaces the source of request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(cred Credential, opts ...Option) (*Client, error) {
	if cred.APIKey == "" {
		return nil, &ConfigurationError{Reason: "api key is required"}
	}
	env, err := ParseEnvironment(string(cred.Environment))
	if err != nil {
		return nil, err
	}
	cred.Environment = env

	baseURL, err := BaseURL(env, cred.BaseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		credential: cred,
		baseURL:    baseURL,
		timeout:    defaultTimeout,
		log:        logrus.NewEntry(logrus.StandardLogger()),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient != nil {
		c.client = resty.NewWithClient(c.httpClient)
	} else {
		c.client = resty.New()
	}
	c.client.SetTimeout(c.timeout)

	c.log = c.log.WithField("component", "kinguin")
	c.client.
		SetLogger(c.log).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "kinguin-bot/1.0")

	return c, nil
}

// BaseURL is the gateway root every request path is appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Signing reports whether requests carry a signature.
func (c *Client) Signing() bool {
	return c.credential.APISecret != ""
}

// AuthHeaders composes the authentication headers for one request attempt.
// target is the path plus encoded query as it goes on the wire.
func AuthHeaders(cred Credential, target, method string, body []byte, timestamp string) (map[string]string, error) {
	headers := map[string]string{HeaderAPIKey: cred.APIKey}
	if cred.APISecret == "" {
		return headers, nil
	}

	signature, err := Sign(target, method, string(body), cred.APISecret, timestamp)
	if err != nil {
		return nil, err
	}
	headers[HeaderSignature] = signature
	headers[HeaderTimestamp] = timestamp
	return headers, nil
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	// lookup turns a 404 into NotFoundError.
	lookup bool
}

func (cl call) target() string {
	if len(cl.query) == 0 {
		return cl.path
	}
	return cl.path + "?" + cl.query.Encode()
}

func (c *Client) do(ctx context.Context, cl call, out any) error {
	target := cl.target()

	var body []byte
	if cl.body != nil {
		var err error
		body, err = json.Marshal(cl.body)
		if err != nil {
			return errors.Wrapf(err, "kinguin: encode %s request", cl.op)
		}
	}

	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	// The timestamp is taken right before sending so it cannot go stale
	// while the caller prepares the request.
	headers, err := AuthHeaders(c.credential, target, cl.method, body, Timestamp(c.now()))
	if err != nil {
		return err
	}
	req.SetHeaders(headers)

	start := time.Now()
	resp, err := req.Execute(cl.method, c.baseURL+target)
	elapsed := time.Since(start)

	entry := c.log.WithFields(logrus.Fields{
		"op":          cl.op,
		"method":      cl.method,
		"path":        cl.path,
		"duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		c.observe(cl.op, "transport_error", elapsed)
		entry.WithError(err).Warn("kinguin request failed")
		return &TransportError{Op: cl.op, Method: cl.method, Path: cl.path, Err: err}
	}

	status := resp.StatusCode()
	entry = entry.WithField("status", status)
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		c.observe(cl.op, strconv.Itoa(status), elapsed)
		apiErr := classifyStatus(status, resp.Body(), cl.lookup)
		entry.WithError(apiErr).Warn("kinguin request rejected")
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			c.observe(cl.op, "decode_error", elapsed)
			return errors.Wrapf(err, "kinguin: decode %s response", cl.op)
		}
		if v, ok := out.(validator); ok {
			if err := v.validate(); err != nil {
				c.observe(cl.op, "decode_error", elapsed)
				return errors.Wrapf(err, "kinguin: decode %s response", cl.op)
			}
		}
	}

	c.observe(cl.op, "ok", elapsed)
	entry.Debug("kinguin request")
	return nil
}

func (c *Client) observe(op, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(op, outcome, elapsed)
	}
}

// SearchQuery renders the filters that are set; unset ones are omitted.
func SearchQuery(f SearchFilters) url.Values {
	q := url.Values{}
	if f.Name != "" {
		q.Set("name", f.Name)
	}
	if f.KinguinID > 0 {
		q.Set("kinguinId", strconv.Itoa(f.KinguinID))
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.SortBy != "" {
		q.Set("sortBy", string(f.SortBy))
	}
	if f.SortType != "" {
		q.Set("sortType", string(f.SortType))
	}
	if f.PriceFrom != nil {
		q.Set("priceFrom", f.PriceFrom.String())
	}
	if f.PriceTo != nil {
		q.Set("priceTo", f.PriceTo.String())
	}
	if f.Platform != "" {
		q.Set("platform", f.Platform)
	}
	if f.Region != "" {
		q.Set("region", f.Region)
	}
	return q
}

func (c *Client) SearchProducts(ctx context.Context, filters SearchFilters) (*ProductPage, error) {
	page := &ProductPage{}
	err := c.do(ctx, call{
		op:     "search_products",
		method: http.MethodGet,
		path:   "/products",
		query:  SearchQuery(filters),
	}, page)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) GetProduct(ctx context.Context, kinguinID int) (*Product, error) {
	if kinguinID <= 0 {
		return nil, errors.Newf("kinguin: invalid kinguinId %d", kinguinID)
	}

	product := &Product{}
	err := c.do(ctx, call{
		op:     "get_product",
		method: http.MethodGet,
		path:   "/products/" + strconv.Itoa(kinguinID),
		lookup: true,
	}, product)
	if err != nil {
		return nil, err
	}
	return product, nil
}

// CreateOrder places an order. It is never retried here: a repeated call
// may buy twice.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreatedOrder, error) {
	if err := req.validate(); err != nil {
		return nil, errors.Wrap(err, "kinguin")
	}

	order := &CreatedOrder{}
	err := c.do(ctx, call{
		op:     "create_order",
		method: http.MethodPost,
		path:   "/order",
		body:   req,
	}, order)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, errors.New("kinguin: order id is required")
	}

	order := &Order{}
	err := c.do(ctx, call{
		op:     "get_order",
		method: http.MethodGet,
		path:   "/order/" + url.PathEscape(orderID),
		lookup: true,
	}, order)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// OrdersQuery renders order list filters; dates are sent as YYYY-MM-DD.
func OrdersQuery(f OrderFilters) url.Values {
	q := url.Values{}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.DateFrom != nil {
		q.Set("dateFrom", f.DateFrom.Format(dateLayout))
	}
	if f.DateTo != nil {
		q.Set("dateTo", f.DateTo.Format(dateLayout))
	}
	return q
}

func (c *Client) GetOrders(ctx context.Context, filters OrderFilters) (*OrderPage, error) {
	page := &OrderPage{}
	err := c.do(ctx, call{
		op:     "get_orders",
		method: http.MethodGet,
		path:   "/order",
		query:  OrdersQuery(filters),
	}, page)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetOrderKeys fetches the keys of a completed order. Any non-2xx answer is
// an error; an empty result says nothing about completion.
func (c *Client) GetOrderKeys(ctx context.Context, orderID string) ([]OrderKey, error) {
	if orderID == "" {
		return nil, errors.New("kinguin: order id is required")
	}

	var keys keysPayload
	err := c.do(ctx, call{
		op:     "get_order_keys",
		method: http.MethodGet,
		path:   "/order/" + url.PathEscape(orderID) + "/keys",
		lookup: true,
	}, &keys)
	if err != nil {
		return nil, err
	}
	return []OrderKey(keys), nil
}

func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var payload balancePayload
	err := c.do(ctx, call{
		op:     "get_balance",
		method: http.MethodGet,
		path:   "/user/balance",
	}, &payload)
	if err != nil {
		return nil, err
	}
	return &Balance{Balance: *payload.Balance, Currency: payload.Currency}, nil
}

// AwaitCompletion polls this client's GetOrder; see AwaitCompletion.
func (c *Client) AwaitCompletion(ctx context.Context, orderID string, maxAttempts int, interval time.Duration) (*Order, bool, error) {
	return AwaitCompletion(ctx, c, orderID, PollOptions{
		MaxAttempts: maxAttempts,
		Interval:    interval,
		Logger:      c.log,
	})
}
