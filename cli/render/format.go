package render

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Absent is printed for any value the backend did not report.
const Absent = "—"

// TimeLayout is the layout used for rendered timestamps.
const TimeLayout = "2006-01-02 15:04"

// Display holds locale-like rendering choices.
type Display struct {
	// Currency is printed before money values, e.g. "₡".
	Currency string
	// Location is the zone timestamps are rendered in (default: local).
	Location *time.Location
}

// Money renders d with two decimals and thousands separators, or Absent.
func (d Display) Money(v *decimal.Decimal) string {
	if v == nil {
		return Absent
	}
	s := v.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	return sign + d.Currency + groupThousands(whole) + "." + frac
}

// Stock renders a stock count, or Absent.
func (d Display) Stock(v *int64) string {
	if v == nil {
		return Absent
	}
	return strconv.FormatInt(*v, 10)
}

// Time renders t in the display zone, or Absent.
func (d Display) Time(t *time.Time) string {
	if t == nil {
		return Absent
	}
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}

// Text renders an optional string, or Absent when nil or blank.
func (d Display) Text(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return Absent
	}
	return *s
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
