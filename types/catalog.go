// Package types defines core domain types for the catalogsync engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Offer is one location's price, cost and stock for a SKU.
// Nil pointer fields mean the location did not report that value,
// which is distinct from a reported zero.
type Offer struct {
	LocationID   string           `json:"location_id"`
	LocationName *string          `json:"location_name,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Cost         *decimal.Decimal `json:"cost,omitempty"`
	Stock        *int64           `json:"stock,omitempty"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
}

// DisplayName returns the location name, or "Location #<id>" when the
// backend did not report one.
func (o Offer) DisplayName() string {
	if o.LocationName != nil && strings.TrimSpace(*o.LocationName) != "" {
		return strings.TrimSpace(*o.LocationName)
	}
	if o.LocationID == "" {
		return "Location #?"
	}
	return "Location #" + o.LocationID
}

// Product is the aggregate of all offers for a single SKU.
// Offers keep the order the server returned them in.
type Product struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Brand       *string `json:"brand,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
	Offers      []Offer `json:"offers"`
}

// TotalStock sums the stock reported across offers.
// The second return is false when no offer reported stock at all.
func (p Product) TotalStock() (int64, bool) {
	var total int64
	reported := false
	for _, o := range p.Offers {
		if o.Stock != nil {
			total += *o.Stock
			reported = true
		}
	}
	return total, reported
}

// PagedResult is one page of a server-side paginated listing.
type PagedResult[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// PageCount returns the number of pages, never less than 1.
func (r PagedResult[T]) PageCount() int {
	return PageCount(r.Total, r.PageSize)
}

// IsLastPage reports whether no page follows this one.
func (r PagedResult[T]) IsLastPage() bool {
	return r.Page*r.PageSize >= r.Total
}

// Validate checks the structural invariants of a page.
func (r PagedResult[T]) Validate() error {
	if r.Page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", r.Page)
	}
	if r.PageSize < 1 {
		return fmt.Errorf("page_size must be >= 1, got %d", r.PageSize)
	}
	if r.Total < 0 {
		return fmt.Errorf("total must be >= 0, got %d", r.Total)
	}
	if len(r.Items) > r.PageSize {
		return fmt.Errorf("page holds %d items, exceeds page_size %d", len(r.Items), r.PageSize)
	}
	return nil
}

// PageCount returns max(1, ceil(total/pageSize)).
func PageCount(total, pageSize int) int {
	if pageSize < 1 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// CatalogPage is a page of aggregated products.
type CatalogPage = PagedResult[Product]

// QueryKey identifies one cached catalog page.
// Query is already normalized; the empty string means no filter.
type QueryKey struct {
	Page     int
	PageSize int
	Query    string
}

// String renders the key for logs.
func (k QueryKey) String() string {
	return fmt.Sprintf("page=%d page_size=%d q=%q", k.Page, k.PageSize, k.Query)
}
