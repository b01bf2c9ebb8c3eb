package aggregate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pithecene-io/catalogsync/types"
)

// coerceDecimal accepts JSON numbers and plain numeric strings.
// Thousands separators and currency symbols are malformed.
func coerceDecimal(sku, field string, v any, report *Report) *decimal.Decimal {
	var (
		d   decimal.Decimal
		err error
	)
	switch n := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(n.String())
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			report.add(sku, field, v, "not a finite number")
			return nil
		}
		d = decimal.NewFromFloat(n)
	case int:
		d = decimal.NewFromInt(int64(n))
	case int64:
		d = decimal.NewFromInt(n)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		d, err = decimal.NewFromString(s)
	default:
		report.add(sku, field, v, "not a number")
		return nil
	}
	if err != nil {
		report.add(sku, field, v, "malformed number")
		return nil
	}
	return &d
}

// coerceInt accepts whole JSON numbers and whole numeric strings.
// "5.0" is accepted; "5.5" is malformed.
func coerceInt(sku, field string, v any, report *Report) *int64 {
	d := coerceDecimal(sku, field, v, report)
	if d == nil {
		return nil
	}
	if !d.Equal(d.Truncate(0)) {
		report.add(sku, field, v, "not a whole number")
		return nil
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		report.add(sku, field, v, "out of range")
		return nil
	}
	n := d.IntPart()
	return &n
}

func coerceTime(sku, field string, v any, report *Report) *time.Time {
	s, ok := v.(string)
	if !ok {
		report.add(sku, field, v, "timestamp is not a string")
		return nil
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := types.ParseTimestamp(s)
	if err != nil {
		report.add(sku, field, v, "unparseable timestamp")
		return nil
	}
	return &t
}

// coerceID normalizes numeric and string identifiers to their decimal
// string form. The second return is false for unsupported types.
func coerceID(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(id), true
	case json.Number:
		if d, err := decimal.NewFromString(id.String()); err == nil {
			return d.String(), true
		}
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}
