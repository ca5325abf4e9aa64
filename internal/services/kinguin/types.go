package kinguin

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

const (
	SandboxBaseURL    = "https://gateway.sandbox.kinguin.net/esa/api/v1"
	ProductionBaseURL = "https://gateway.kinguin.net/esa/api/v2"
)

// ParseEnvironment accepts "sandbox" or "production" in any case.
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(s))); env {
	case Sandbox, Production:
		return env, nil
	default:
		return "", &ConfigurationError{Reason: fmt.Sprintf("unknown environment %q", s)}
	}
}

// BaseURL picks the gateway root. A non-empty override wins regardless of env.
func BaseURL(env Environment, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	switch env {
	case Sandbox:
		return SandboxBaseURL, nil
	case Production:
		return ProductionBaseURL, nil
	default:
		return "", &ConfigurationError{Reason: fmt.Sprintf("unknown environment %q", string(env))}
	}
}

// Credential is fixed for the lifetime of a Client. An empty APISecret
// turns request signing off.
type Credential struct {
	APIKey      string
	APISecret   string
	Environment Environment
	BaseURL     string
}

func (c Credential) String() string {
	secret := "<none>"
	if c.APISecret != "" {
		secret = "<redacted>"
	}
	return fmt.Sprintf("Credential{env=%s key=%s secret=%s}", c.Environment, maskKey(c.APIKey), secret)
}

func (c Credential) GoString() string { return c.String() }

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

type OrderStatus string

const (
	StatusNew        OrderStatus = "new"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal statuses never change again.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

// Date is a calendar day as sent by the catalog ("2006-01-02").
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return errors.Wrapf(err, "parse date %q", s)
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

type Product struct {
	KinguinID   int             `json:"kinguinId"`
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Qty         int             `json:"qty"`
	Platform    string          `json:"platform"`
	Region      string          `json:"region"`
	IsPreorder  bool            `json:"isPreorder"`
	ReleaseDate *Date           `json:"releaseDate,omitempty"`
	OfferID     string          `json:"offerId,omitempty"`
}

// UnmarshalJSON rejects a product without a price; a zero value would be
// sent back as the asserted unit price of an order.
func (p *Product) UnmarshalJSON(data []byte) error {
	type plain Product
	aux := struct {
		*plain
		Price *decimal.Decimal `json:"price"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Price == nil {
		return errors.Newf("product %d: missing price", p.KinguinID)
	}
	p.Price = *aux.Price
	return nil
}

func (p *Product) validate() error {
	if p.KinguinID == 0 {
		return errors.New("product: missing kinguinId")
	}
	if p.Name == "" {
		return errors.Newf("product %d: missing name", p.KinguinID)
	}
	if p.Qty < 0 {
		return errors.Newf("product %d: negative qty %d", p.KinguinID, p.Qty)
	}
	return nil
}

type ProductPage struct {
	Results   []Product `json:"results"`
	ItemCount int       `json:"item_count"`
}

func (p *ProductPage) validate() error {
	for i := range p.Results {
		if err := p.Results[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

type SortField string

const (
	SortByName  SortField = "name"
	SortByPrice SortField = "price"
	SortByQty   SortField = "qty"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SearchFilters are all optional; zero values are left out of the query.
type SearchFilters struct {
	Name      string
	KinguinID int
	Page      int
	Limit     int
	SortBy    SortField
	SortType  SortOrder
	PriceFrom *decimal.Decimal
	PriceTo   *decimal.Decimal
	Platform  string
	Region    string
}

type OrderLineRequest struct {
	KinguinID int
	Qty       int
	Price     decimal.Decimal
	Name      string
	OfferID   string
}

// MarshalJSON sends price as a JSON number, which is what the gateway expects.
func (l OrderLineRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		KinguinID int         `json:"kinguinId"`
		Qty       int         `json:"qty"`
		Price     json.Number `json:"price"`
		Name      string      `json:"name"`
		OfferID   string      `json:"offerId,omitempty"`
	}{
		KinguinID: l.KinguinID,
		Qty:       l.Qty,
		Price:     json.Number(l.Price.String()),
		Name:      l.Name,
		OfferID:   l.OfferID,
	})
}

type CreateOrderRequest struct {
	Products        []OrderLineRequest `json:"products"`
	OrderExternalID string             `json:"orderExternalId,omitempty"`
	CouponCode      string             `json:"couponCode,omitempty"`
}

func (r CreateOrderRequest) validate() error {
	if len(r.Products) == 0 {
		return errors.New("create order: at least one product line is required")
	}
	for i, line := range r.Products {
		if line.KinguinID <= 0 {
			return errors.Newf("create order: line %d: invalid kinguinId %d", i, line.KinguinID)
		}
		if line.Qty < 1 {
			return errors.Newf("create order: line %d: qty must be at least 1", i)
		}
	}
	return nil
}

type CreatedOrder struct {
	OrderID    string          `json:"orderId"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Status     OrderStatus     `json:"status"`
}

func (o *CreatedOrder) UnmarshalJSON(data []byte) error {
	type plain CreatedOrder
	aux := struct {
		*plain
		TotalPrice *decimal.Decimal `json:"totalPrice"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.TotalPrice == nil {
		return errors.Newf("order %s: missing totalPrice", o.OrderID)
	}
	o.TotalPrice = *aux.TotalPrice
	return nil
}

func (o *CreatedOrder) validate() error {
	return checkOrderHeader(o.OrderID, o.Status)
}

func checkOrderHeader(orderID string, status OrderStatus) error {
	if orderID == "" {
		return errors.New("order: missing orderId")
	}
	if status == "" {
		return errors.Newf("order %s: missing status", orderID)
	}
	if !status.Valid() {
		return errors.Newf("order %s: unknown status %q", orderID, status)
	}
	return nil
}

type OrderLine struct {
	KinguinID int             `json:"kinguinId"`
	ProductID string          `json:"productId"`
	OfferID   string          `json:"offerId,omitempty"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

// OrderKey.Serial is the redeemable secret.
type OrderKey struct {
	Serial    string `json:"serial"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	KinguinID int    `json:"kinguinId"`
}

type Order struct {
	OrderID         string          `json:"orderId"`
	OrderExternalID string          `json:"orderExternalId,omitempty"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	Status          OrderStatus     `json:"status"`
	Products        []OrderLine     `json:"products"`
	Keys            []OrderKey      `json:"keys,omitempty"`
	CreatedAt       *time.Time      `json:"createdAt,omitempty"`
	DispatchedAt    *time.Time      `json:"dispatchedAt,omitempty"`
}

func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	aux := struct {
		*plain
		TotalPrice *decimal.Decimal `json:"totalPrice"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.TotalPrice == nil {
		return errors.Newf("order %s: missing totalPrice", o.OrderID)
	}
	o.TotalPrice = *aux.TotalPrice
	return nil
}

// validate also enforces that keys only travel with completed orders.
func (o *Order) validate() error {
	if err := checkOrderHeader(o.OrderID, o.Status); err != nil {
		return err
	}
	if o.Status != StatusCompleted {
		o.Keys = nil
	}
	return nil
}

type OrderPage struct {
	Results   []Order `json:"results"`
	ItemCount int     `json:"item_count"`
}

func (p *OrderPage) validate() error {
	for i := range p.Results {
		if err := p.Results[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

type OrderFilters struct {
	Page     int
	Limit    int
	DateFrom *time.Time
	DateTo   *time.Time
}

type Balance struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// keysPayload accepts both a bare array and {"keys": [...]}.
type keysPayload []OrderKey

func (k *keysPayload) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var keys []OrderKey
		if err := json.Unmarshal(data, &keys); err != nil {
			return err
		}
		*k = keys
		return nil
	}
	var wrapped struct {
		Keys *[]OrderKey `json:"keys"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.Keys == nil {
		return errors.New("order keys: missing keys field")
	}
	*k = *wrapped.Keys
	return nil
}

func (k *keysPayload) validate() error {
	for i, key := range *k {
		if key.Serial == "" {
			return errors.Newf("order keys: key %d has no serial", i)
		}
	}
	return nil
}

type balancePayload struct {
	Balance  *decimal.Decimal `json:"balance"`
	Currency string           `json:"currency"`
}

func (b *balancePayload) validate() error {
	if b.Balance == nil {
		return errors.New("balance: missing balance field")
	}
	if b.Currency == "" {
		return errors.New("balance: missing currency field")
	}
	return nil
}
