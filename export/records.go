package export

import (
	"time"

	"github.com/pithecene-io/catalogsync/types"
)

// RecordKindOffer is the record_kind of every exported row.
const RecordKindOffer = "offer"

// unknownLocation is the partition value for offers without a location id.
const unknownLocation = "unknown"

// DeriveDay computes the partition day from the export time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// OfferRecord is the storage format of one offer, flattened with its
// product. Money values are decimal strings; absent values are omitted.
type OfferRecord struct {
	RecordKind string `json:"record_kind"`

	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Brand        *string `json:"brand,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
	LocationName string  `json:"location_name"`
	Price        *string `json:"price,omitempty"`
	Cost         *string `json:"cost,omitempty"`
	Stock        *int64  `json:"stock,omitempty"`
	UpdatedAt    *string `json:"updated_at,omitempty"`

	Query      string `json:"query"`
	ExportedAt string `json:"exported_at"`
	SessionID  string `json:"session_id,omitempty"`

	// Partition keys (used by Lode HiveLayout)
	Day        string `json:"day"`
	LocationID string `json:"location_id"`
}

// Meta stamps every record of one export.
type Meta struct {
	Query      string
	ExportedAt time.Time
	SessionID  string
}

// Flatten turns products into offer rows, one per offer, in product then
// offer order. A product without offers yields no rows.
func Flatten(products []types.Product, meta Meta) []OfferRecord {
	day := DeriveDay(meta.ExportedAt)
	exportedAt := meta.ExportedAt.UTC().Format(time.RFC3339)

	var out []OfferRecord
	for _, p := range products {
		for _, o := range p.Offers {
			r := OfferRecord{
				RecordKind:   RecordKindOffer,
				SKU:          p.SKU,
				Name:         p.Name,
				Brand:        p.Brand,
				ImageURL:     p.ImageURL,
				LocationName: o.DisplayName(),
				Stock:        o.Stock,
				Query:        meta.Query,
				ExportedAt:   exportedAt,
				SessionID:    meta.SessionID,
				Day:          day,
				LocationID:   o.LocationID,
			}
			if r.LocationID == "" {
				r.LocationID = unknownLocation
			}
			if o.Price != nil {
				s := o.Price.StringFixed(2)
				r.Price = &s
			}
			if o.Cost != nil {
				s := o.Cost.StringFixed(2)
				r.Cost = &s
			}
			if o.UpdatedAt != nil {
				s := o.UpdatedAt.UTC().Format(time.RFC3339)
				r.UpdatedAt = &s
			}
			out = append(out, r)
		}
	}
	return out
}

// toRecordMap converts a record to the map form Lode's JSONL codec and
// Hive layout consume.
func toRecordMap(r OfferRecord) map[string]any {
	m := map[string]any{
		"record_kind":   r.RecordKind,
		"sku":           r.SKU,
		"name":          r.Name,
		"location_name": r.LocationName,
		"query":         r.Query,
		"exported_at":   r.ExportedAt,
		"day":           r.Day,
		"location_id":   r.LocationID,
	}
	if r.SessionID != "" {
		m["session_id"] = r.SessionID
	}
	if r.Brand != nil {
		m["brand"] = *r.Brand
	}
	if r.ImageURL != nil {
		m["image_url"] = *r.ImageURL
	}
	if r.Price != nil {
		m["price"] = *r.Price
	}
	if r.Cost != nil {
		m["cost"] = *r.Cost
	}
	if r.Stock != nil {
		m["stock"] = *r.Stock
	}
	if r.UpdatedAt != nil {
		m["updated_at"] = *r.UpdatedAt
	}
	return m
}
