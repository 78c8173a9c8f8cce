package app

import (
	"net/url"
	"strconv"
	"strings"

	gateway "github.com/eugener/marketgate/internal"
)

// Request is a generic gateway call. Params are merged over the class
// defaults; ID is only used by per-resource classes.
type Request struct {
	Class  EndpointClass
	ID     string
	Params url.Values
}

// Upstream page size limits.
const (
	maxPerPage   = 250
	maxNewsLimit = 100
)

// MarketsQuery selects rows of the markets listing. Zero fields fall back to
// vs_currency=usd, order=market_cap_desc, per_page=100, page=1.
type MarketsQuery struct {
	VsCurrency            string
	Order                 string
	PerPage               int
	Page                  int
	IDs                   []string
	Category              string
	PriceChangePercentage string
}

// Validate checks the query before any cache or network access.
func (q MarketsQuery) Validate() error {
	if err := validatePaging(q.PerPage, q.Page); err != nil {
		return err
	}
	if len(q.IDs) > maxPerPage {
		return gateway.InvalidInput("at most %d ids, got %d", maxPerPage, len(q.IDs))
	}
	return nil
}

// Request builds the gateway request for the query.
func (q MarketsQuery) Request() Request {
	v := url.Values{}
	setString(v, "vs_currency", q.VsCurrency)
	setString(v, "order", q.Order)
	setInt(v, "per_page", q.PerPage)
	setInt(v, "page", q.Page)
	setString(v, "ids", strings.Join(q.IDs, ","))
	setString(v, "category", q.Category)
	setString(v, "price_change_percentage", q.PriceChangePercentage)
	return Request{Class: ClassMarkets, Params: v}
}

// SimplePriceQuery asks for prices of IDs in VsCurrencies (default usd).
type SimplePriceQuery struct {
	IDs          []string
	VsCurrencies []string
}

// Validate requires at least one id.
func (q SimplePriceQuery) Validate() error {
	if normalizeList(strings.Join(q.IDs, ",")) == "" {
		return gateway.InvalidInput("ids is required")
	}
	return nil
}

// Request builds the gateway request for the query.
func (q SimplePriceQuery) Request() Request {
	v := url.Values{}
	setString(v, "ids", strings.Join(q.IDs, ","))
	setString(v, "vs_currencies", strings.Join(q.VsCurrencies, ","))
	return Request{Class: ClassSimplePrice, Params: v}
}

// MarketChartQuery selects a coin's price history. Zero fields fall back to
// vs_currency=usd, days=30.
type MarketChartQuery struct {
	VsCurrency string
	Days       string // positive number of days or "max"
	Interval   string
}

// Validate checks Days when set.
func (q MarketChartQuery) Validate() error {
	if q.Days == "" || q.Days == "max" {
		return nil
	}
	if d, err := strconv.ParseFloat(q.Days, 64); err != nil || d <= 0 {
		return gateway.InvalidInput("days must be a positive number or \"max\", got %q", q.Days)
	}
	return nil
}

// Request builds the gateway request for coinID.
func (q MarketChartQuery) Request(coinID string) Request {
	v := url.Values{}
	setString(v, "vs_currency", q.VsCurrency)
	setString(v, "days", q.Days)
	setString(v, "interval", q.Interval)
	return Request{Class: ClassMarketChart, ID: coinID, Params: v}
}

// NFTListQuery selects rows of the NFT collection listing. Order defaults to
// market_cap_usd_desc.
type NFTListQuery struct {
	Order   string
	PerPage int
	Page    int
}

// Validate checks paging bounds.
func (q NFTListQuery) Validate() error { return validatePaging(q.PerPage, q.Page) }

// Request builds the gateway request for the query.
func (q NFTListQuery) Request() Request {
	v := url.Values{}
	setString(v, "order", q.Order)
	setInt(v, "per_page", q.PerPage)
	setInt(v, "page", q.Page)
	return Request{Class: ClassNFTList, Params: v}
}

// ExchangesQuery pages the exchanges listing.
type ExchangesQuery struct {
	PerPage int
	Page    int
}

// Validate checks paging bounds.
func (q ExchangesQuery) Validate() error { return validatePaging(q.PerPage, q.Page) }

// Request builds the gateway request for the query.
func (q ExchangesQuery) Request() Request {
	v := url.Values{}
	setInt(v, "per_page", q.PerPage)
	setInt(v, "page", q.Page)
	return Request{Class: ClassExchanges, Params: v}
}

// NewsQuery selects articles from the news feed. Zero fields fall back to
// lang=EN, limit=4.
type NewsQuery struct {
	Lang              string
	Limit             int
	Categories        string
	ExcludeCategories string
	ToTimestamp       int64 // lTs: only articles published before this unix time
}

// Validate checks the limit and timestamp bounds.
func (q NewsQuery) Validate() error {
	if q.Limit < 0 || q.Limit > maxNewsLimit {
		return gateway.InvalidInput("limit must be between 1 and %d, got %d", maxNewsLimit, q.Limit)
	}
	if q.ToTimestamp < 0 {
		return gateway.InvalidInput("lTs must not be negative")
	}
	return nil
}

// Request builds the gateway request for the query.
func (q NewsQuery) Request() Request {
	v := url.Values{}
	setString(v, "lang", q.Lang)
	setInt(v, "limit", q.Limit)
	setString(v, "categories", q.Categories)
	setString(v, "exclude_categories", q.ExcludeCategories)
	if q.ToTimestamp > 0 {
		v.Set("lTs", strconv.FormatInt(q.ToTimestamp, 10))
	}
	return Request{Class: ClassNews, Params: v}
}

func validatePaging(perPage, page int) error {
	if perPage < 0 || perPage > maxPerPage {
		return gateway.InvalidInput("per_page must be between 1 and %d, got %d", maxPerPage, perPage)
	}
	if page < 0 {
		return gateway.InvalidInput("page must be >= 1, got %d", page)
	}
	return nil
}

func setString(v url.Values, key, val string) {
	if val = strings.TrimSpace(val); val != "" {
		v.Set(key, val)
	}
}

func setInt(v url.Values, key string, n int) {
	if n > 0 {
		v.Set(key, strconv.Itoa(n))
	}
}
