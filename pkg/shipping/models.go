package shipping

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// CallSite identifies who is asking for rates.
type CallSite string

const (
	CallSiteStorefront CallSite = "storefront"
	CallSiteAdmin      CallSite = "admin"
	CallSiteOrder      CallSite = "order"
)

// ContextKind selects the collaborator a context is built from.
type ContextKind string

const (
	ContextCart  ContextKind = "cart"
	ContextOrder ContextKind = "order"
)

// Address is the shipping destination.
type Address struct {
	Country  string `json:"country" yaml:"country"`
	State    string `json:"state,omitempty" yaml:"state"`
	Zip      string `json:"zip,omitempty" yaml:"zip"`
	City     string `json:"city,omitempty" yaml:"city"`
	Business bool   `json:"business,omitempty" yaml:"business"`
}

// Hash returns a stable digest over every address field.
func (a Address) Hash() string {
	parts := []string{
		strings.ToUpper(strings.TrimSpace(a.Country)),
		strings.ToUpper(strings.TrimSpace(a.State)),
		strings.ToUpper(strings.TrimSpace(a.Zip)),
		strings.ToLower(strings.TrimSpace(a.City)),
		strconv.FormatBool(a.Business),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ShippableItem is one cart or order line as seen by shipping.
type ShippableItem struct {
	ProductID    string          `json:"product_id" yaml:"product_id"`
	SKU          string          `json:"sku" yaml:"sku"`
	Quantity     int             `json:"quantity" yaml:"quantity"`
	UnitWeight   decimal.Decimal `json:"unit_weight" yaml:"unit_weight"`
	UnitVolume   decimal.Decimal `json:"unit_volume" yaml:"unit_volume"`
	UnitPrice    decimal.Decimal `json:"unit_price" yaml:"unit_price"`
	FreeShipping bool            `json:"free_shipping,omitempty" yaml:"free_shipping"`
}

// Weight returns the line weight (unit weight times quantity).
func (i ShippableItem) Weight() decimal.Decimal {
	return i.UnitWeight.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OptionConfig is an administrator-configured shipping option.
type OptionConfig struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	EnabledStorefront bool              `json:"enabled_storefront" yaml:"enabled_storefront"`
	EnabledAdmin      bool              `json:"enabled_admin" yaml:"enabled_admin"`
	MinWeight         *decimal.Decimal  `json:"min_weight,omitempty" yaml:"min_weight"`
	MaxWeight         *decimal.Decimal  `json:"max_weight,omitempty" yaml:"max_weight"`
	Countries         []string          `json:"countries,omitempty" yaml:"countries"`
	CustomerGroups    []string          `json:"customer_groups,omitempty" yaml:"customer_groups"`
	HandlingFee       *decimal.Decimal  `json:"handling_fee,omitempty" yaml:"handling_fee"`
	Taxable           bool              `json:"taxable" yaml:"taxable"`
	ProviderType      string            `json:"provider_type" yaml:"provider_type"`
	Settings          map[string]string `json:"settings,omitempty" yaml:"settings"`
	Position          int               `json:"position" yaml:"position"`
}

// RawRate is a single service price as returned by a provider.
type RawRate struct {
	ServiceID   string          `json:"service_id"`
	ServiceName string          `json:"service_name"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ShippingQuote is the finished, user-facing price for one service.
type ShippingQuote struct {
	OptionID            string           `json:"option_id"`
	ServiceID           string           `json:"service_id,omitempty"`
	ServiceName         string           `json:"service_name,omitempty"`
	PriceBeforeDiscount decimal.Decimal  `json:"price_before_discount"`
	Discount            decimal.Decimal  `json:"discount"`
	PriceAfterDiscount  decimal.Decimal  `json:"price_after_discount"`
	TaxInclusivePrice   *decimal.Decimal `json:"tax_inclusive_price,omitempty"`
	Currency            string           `json:"currency"`
	Free                bool             `json:"free"`
	// FreeByRule is set when a free-shipping rule granted Free, as opposed to
	// a zero price. It keeps Free when a later price change lifts the price.
	FreeByRule bool   `json:"free_by_rule,omitempty"`
	QuoteID    string `json:"quote_id"`
}

// ConsistentPrice reports whether PriceAfterDiscount equals
// max(PriceBeforeDiscount - Discount, 0).
func (q ShippingQuote) ConsistentPrice() bool {
	return q.PriceAfterDiscount.Equal(discountedPrice(q.PriceBeforeDiscount, q.Discount))
}

const quoteIDSeparator = ":"

// QuoteID builds the form/API token for an option and optional service.
func QuoteID(optionID, serviceID string) string {
	if serviceID == "" {
		return optionID
	}
	return optionID + quoteIDSeparator + serviceID
}

// ParseQuoteID splits a quote id into option id and service id.
func ParseQuoteID(id string) (optionID, serviceID string) {
	optionID, serviceID, _ = strings.Cut(id, quoteIDSeparator)
	return optionID, serviceID
}

// Totals are aggregates over the quotable items of a context.
type Totals struct {
	Price     decimal.Decimal `json:"price"`
	Weight    decimal.Decimal `json:"weight"`
	Volume    decimal.Decimal `json:"volume"`
	ItemCount int             `json:"item_count"`
	// ActualWeight covers every item, including free-shipping ones.
	ActualWeight decimal.Decimal `json:"actual_weight"`
}

// EvaluationContext is the parameter bag shared by every option evaluated
// in one pass for the same cart or order.
type EvaluationContext struct {
	Kind       ContextKind
	CartName   string
	OrderID    string
	PendingKey string

	Items    []ShippableItem
	Quotable []ShippableItem
	AllFree  bool

	Address       Address
	CustomerID    string
	CustomerGroup string
	PaymentMethod string
	CouponCode    string
	Totals        Totals
	Currency      string
	HandlingFee   *decimal.Decimal

	Custom      map[string]string
	CacheFields []string
}

// CallSite derives the provider call site from the context kind.
func (ec EvaluationContext) CallSite(admin bool) CallSite {
	switch {
	case ec.Kind == ContextOrder:
		return CallSiteOrder
	case admin:
		return CallSiteAdmin
	default:
		return CallSiteStorefront
	}
}

func (ec EvaluationContext) clone() EvaluationContext {
	out := ec
	out.Items = append([]ShippableItem(nil), ec.Items...)
	out.Quotable = append([]ShippableItem(nil), ec.Quotable...)
	out.CacheFields = append([]string(nil), ec.CacheFields...)
	if ec.Custom != nil {
		out.Custom = make(map[string]string, len(ec.Custom))
		for k, v := range ec.Custom {
			out.Custom[k] = v
		}
	}
	return out
}

// EligibleOption is an option that passed eligibility, with its quotes or
// the reason it could not be quoted.
type EligibleOption struct {
	Option    OptionConfig    `json:"option"`
	Quotes    []ShippingQuote `json:"quotes"`
	ErrorHint string          `json:"error_hint,omitempty"`
}

func discountedPrice(price, discount decimal.Decimal) decimal.Decimal {
	return decimal.Max(price.Sub(discount), decimal.Zero)
}
