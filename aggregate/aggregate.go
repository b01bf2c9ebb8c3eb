// Package aggregate merges raw backend catalog rows into products.
//
// Backends of different vintages emit either rows already grouped by SKU
// with an embedded offer list, or one flat row per (SKU, location). Field
// names vary too. Aggregate normalizes both shapes to types.Product with a
// documented precedence list per field; the first non-null key wins and
// synonyms are resolved per row, never across rows.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/catalogsync/types"
)

// Key precedence lists. The first key holding a non-null value wins.
var (
	locationIDKeys = []string{"store_id", "location_id", "bodega_id"}
	// groupedLocationNameKeys applies inside an embedded offer, where
	// "name" can only mean the location.
	groupedLocationNameKeys = []string{"store_name", "name", "location_name", "bodega"}
	// flatLocationNameKeys applies to flat rows, where "name" is the product.
	flatLocationNameKeys = []string{"store_name", "location_name", "bodega"}
	priceKeys            = []string{"price", "precio"}
	costKeys             = []string{"cost", "costo"}
	stockKeys            = []string{"stock", "existencia"}
	updatedAtKeys        = []string{"updated_at", "updatedAt", "last_update", "last_seen_at"}

	offerListKeys   = []string{"offers", "stores"}
	productNameKeys = []string{"name", "product_name"}
	imageURLKeys    = []string{"image_url", "imageUrl"}
)

// ValidationError records one field that could not be coerced.
// The field is left absent; the rest of the record is kept.
type ValidationError struct {
	SKU    string
	Field  string
	Value  any
	Reason string
}

func (e ValidationError) Error() string {
	if e.SKU == "" {
		return fmt.Sprintf("%s: %s (value %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("sku %s: %s: %s (value %v)", e.SKU, e.Field, e.Reason, e.Value)
}

// Report collects the non-fatal problems found during aggregation.
type Report struct {
	Errors      []ValidationError
	DroppedRows int
}

// OK reports whether aggregation found nothing to complain about.
func (r Report) OK() bool {
	return len(r.Errors) == 0 && r.DroppedRows == 0
}

func (r *Report) add(sku, field string, value any, reason string) {
	r.Errors = append(r.Errors, ValidationError{SKU: sku, Field: field, Value: value, Reason: reason})
}

// Aggregate merges raw rows into products, discarding the report.
func Aggregate(rows []map[string]any) []types.Product {
	products, _ := AggregateWithReport(rows)
	return products
}

// AggregateWithReport merges raw rows into products.
//
// Products appear in first-seen SKU order. Offers append in row order and
// keep the order the server sent them in. Rows without a SKU are dropped
// and counted in the report.
func AggregateWithReport(rows []map[string]any) ([]types.Product, Report) {
	var report Report
	index := make(map[string]int, len(rows))
	products := make([]types.Product, 0, len(rows))

	for _, row := range rows {
		sku := skuOf(row)
		if sku == "" {
			report.DroppedRows++
			report.add("", "sku", row["sku"], "missing sku, row dropped")
			continue
		}

		offers := rowOffers(sku, row, &report)

		i, seen := index[sku]
		if !seen {
			index[sku] = len(products)
			products = append(products, types.Product{SKU: sku, Offers: []types.Offer{}})
			i = len(products) - 1
		}
		p := &products[i]
		mergeScalars(p, row)
		p.Offers = append(p.Offers, offers...)
	}

	return products, report
}

// rowOffers extracts the offers a single row contributes.
func rowOffers(sku string, row map[string]any, report *Report) []types.Offer {
	listKey, list, grouped := offerList(row)
	if !grouped {
		return []types.Offer{buildOffer(sku, row, flatLocationNameKeys, report)}
	}

	offers := make([]types.Offer, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			report.add(sku, fmt.Sprintf("%s[%d]", listKey, i), item, "offer is not an object")
			continue
		}
		offers = append(offers, buildOffer(sku, m, groupedLocationNameKeys, report))
	}
	return offers
}

// offerList returns the embedded offer array, if the row carries one.
func offerList(row map[string]any) (string, []any, bool) {
	for _, k := range offerListKeys {
		if list, ok := row[k].([]any); ok {
			return k, list, true
		}
	}
	return "", nil, false
}

func buildOffer(sku string, m map[string]any, nameKeys []string, report *Report) types.Offer {
	offer := types.Offer{}

	if key, v, ok := first(m, locationIDKeys); ok {
		id, valid := coerceID(v)
		if !valid {
			report.add(sku, key, v, "unsupported location id")
		}
		offer.LocationID = id
	}
	if _, v, ok := first(m, nameKeys); ok {
		offer.LocationName = optionalString(v)
	}
	if key, v, ok := first(m, priceKeys); ok {
		offer.Price = coerceDecimal(sku, key, v, report)
	}
	if key, v, ok := first(m, costKeys); ok {
		offer.Cost = coerceDecimal(sku, key, v, report)
	}
	if key, v, ok := first(m, stockKeys); ok {
		offer.Stock = coerceInt(sku, key, v, report)
	}
	if key, v, ok := first(m, updatedAtKeys); ok {
		offer.UpdatedAt = coerceTime(sku, key, v, report)
	}
	return offer
}

// mergeScalars fills product fields that are still empty.
func mergeScalars(p *types.Product, row map[string]any) {
	if p.Name == "" {
		if _, v, ok := first(row, productNameKeys); ok {
			if s := optionalString(v); s != nil {
				p.Name = *s
			}
		}
	}
	if p.Brand == nil {
		p.Brand = optionalString(row["brand"])
	}
	if p.Description == nil {
		p.Description = optionalString(row["description"])
	}
	if p.ImageURL == nil {
		if _, v, ok := first(row, imageURLKeys); ok {
			p.ImageURL = optionalString(v)
		}
	}
}

func skuOf(row map[string]any) string {
	id, _ := coerceID(row["sku"])
	return id
}

// first returns the first key in keys whose value is present and non-null.
func first(m map[string]any, keys []string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

// optionalString returns a trimmed non-empty string, or nil.
func optionalString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
