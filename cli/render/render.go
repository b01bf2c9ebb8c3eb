// Package render provides centralized output rendering for the catalogsync CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// --no-color affects table output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/catalogsync/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	display Display
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
func NewRenderer(c *cli.Context, display Display) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isTTY(f)
	}
	if format == "" {
		if tty {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color") || !tty,
		display: display,
		out:     out,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, display Display, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		display: display,
		out:     out,
	}
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// Display returns the display settings.
func (r *Renderer) Display() Display { return r.display }

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderPage outputs a catalog page. Tables get one row per offer and a
// paging footer; json and yaml get the page as is.
func (r *Renderer) RenderPage(page types.CatalogPage) error {
	if r.format != FormatTable {
		return r.Render(page)
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return r.pageFooter(page)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	r.header(w, "SKU", "NAME", "LOCATION", "PRICE", "STOCK", "UPDATED")
	for _, p := range page.Items {
		if len(p.Offers) == 0 {
			fmt.Fprintln(w, strings.Join([]string{p.SKU, p.Name, Absent, Absent, Absent, Absent}, "\t"))
			continue
		}
		for i, o := range p.Offers {
			sku, name := p.SKU, p.Name
			if i > 0 {
				sku, name = "", ""
			}
			fmt.Fprintln(w, strings.Join([]string{
				sku,
				name,
				o.DisplayName(),
				r.display.Money(o.Price),
				r.display.Stock(o.Stock),
				r.display.Time(o.UpdatedAt),
			}, "\t"))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return r.pageFooter(page)
}

func (r *Renderer) pageFooter(page types.CatalogPage) error {
	_, err := fmt.Fprintf(r.out, "\nPage %d of %d · %d products\n", page.Page, page.PageCount(), page.Total)
	return err
}

// RenderStatus outputs an ingest status.
func (r *Renderer) RenderStatus(st types.IngestStatus) error {
	view := StatusView{
		Phase:         string(st.Phase),
		Status:        st.RawStatus,
		Busy:          st.Busy,
		StartedAt:     r.display.Time(st.StartedAt),
		LastSuccessAt: r.display.Time(st.LastSuccessAt),
	}
	return r.Render(view)
}

// StatusView is the rendered form of an ingest status.
type StatusView struct {
	Phase         string `json:"phase" yaml:"phase"`
	Status        string `json:"status" yaml:"status"`
	Busy          bool   `json:"busy" yaml:"busy"`
	StartedAt     string `json:"started_at" yaml:"started_at"`
	LastSuccessAt string `json:"last_success_at" yaml:"last_success_at"`
}

// Println writes a plain line, used for progress output.
func (r *Renderer) Println(a ...any) {
	fmt.Fprintln(r.out, a...)
}

func (r *Renderer) header(w io.Writer, cols ...string) {
	line := strings.Join(cols, "\t")
	if !r.noColor {
		styled := make([]string, len(cols))
		for i, c := range cols {
			styled[i] = headerStyle.Render(c)
		}
		line = strings.Join(styled, "\t")
	}
	fmt.Fprintln(w, line)
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Renderer) renderTable(data any) error {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice {
		return r.renderSliceTable(v)
	}
	return r.renderStructTable(data)
}

func (r *Renderer) renderSliceTable(v reflect.Value) error {
	if v.Len() == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headers := r.getHeaders(v.Index(0))
	r.header(w, headers...)
	for i := 0; i < v.Len(); i++ {
		fmt.Fprintln(w, strings.Join(r.getRowValues(v.Index(i), headers), "\t"))
	}
	return nil
}

func (r *Renderer) renderStructTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", r.getFieldName(field), r.formatValue(v.Field(i)))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), r.formatValue(iter.Value()))
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
	return nil
}

func (r *Renderer) getHeaders(v reflect.Value) []string {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	var headers []string
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				headers = append(headers, r.getFieldName(t.Field(i)))
			}
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			headers = append(headers, fmt.Sprintf("%v", key.Interface()))
		}
	}
	return headers
}

func (r *Renderer) getRowValues(v reflect.Value, headers []string) []string {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	var values []string
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				values = append(values, r.formatValue(v.Field(i)))
			}
		}
	case reflect.Map:
		for _, h := range headers {
			if val := v.MapIndex(reflect.ValueOf(h)); val.IsValid() {
				values = append(values, r.formatValue(val))
			} else {
				values = append(values, Absent)
			}
		}
	}
	return values
}

func (r *Renderer) getFieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

var timeType = reflect.TypeOf(time.Time{})

func (r *Renderer) formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return Absent
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return Absent
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if v.Type() == timeType {
			t := v.Interface().(time.Time)
			return r.display.Time(&t)
		}
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// isTTY returns true if the file is a terminal.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
