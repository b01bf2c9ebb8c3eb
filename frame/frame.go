// Package frame implements the catalog product stream: length-prefixed
// msgpack frames, one per product, closed by a trailer frame.
//
// Wire layout of every frame is a 4-byte big-endian payload length
// followed by a msgpack map carrying a "type" discriminant.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/catalogsync/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Type discriminants.
const (
	ProductType = "product"
	TrailerType = "trailer"
)

// ErrorKind classifies frame errors.
type ErrorKind int

const (
	// ErrorPartial indicates a truncated or incomplete frame.
	ErrorPartial ErrorKind = iota
	// ErrorTooLarge indicates a frame exceeding MaxFrameSize.
	ErrorTooLarge
	// ErrorDecode indicates a msgpack decoding error.
	ErrorDecode
	// ErrorEncode indicates a value that could not be encoded.
	ErrorEncode
)

// Error is a frame codec error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the stream cannot continue past this error.
// Partial and oversized frames are fatal; a single undecodable payload is not.
func (e *Error) IsFatal() bool {
	return e.Kind == ErrorPartial || e.Kind == ErrorTooLarge
}

// IsFatalError returns true if err is a fatal frame error.
func IsFatalError(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.IsFatal()
	}
	return false
}

// OfferFrame is the wire form of types.Offer. Money values travel as
// decimal strings so no precision is lost.
type OfferFrame struct {
	LocationID   string     `msgpack:"location_id"`
	LocationName *string    `msgpack:"location_name,omitempty"`
	Price        *string    `msgpack:"price,omitempty"`
	Cost         *string    `msgpack:"cost,omitempty"`
	Stock        *int64     `msgpack:"stock,omitempty"`
	UpdatedAt    *time.Time `msgpack:"updated_at,omitempty"`
}

// ProductFrame is the wire form of types.Product.
type ProductFrame struct {
	Type        string       `msgpack:"type"`
	SKU         string       `msgpack:"sku"`
	Name        string       `msgpack:"name"`
	Brand       *string      `msgpack:"brand,omitempty"`
	Description *string      `msgpack:"description,omitempty"`
	ImageURL    *string      `msgpack:"image_url,omitempty"`
	Offers      []OfferFrame `msgpack:"offers"`
}

// TrailerFrame closes a stream. Count is the number of product frames
// written; Total is the backend's total for the query.
type TrailerFrame struct {
	Type  string `msgpack:"type"`
	Count int    `msgpack:"count"`
	Total int    `msgpack:"total"`
	Query string `msgpack:"query,omitempty"`
}

// NewProductFrame converts a product to its wire form.
func NewProductFrame(p types.Product) *ProductFrame {
	f := &ProductFrame{
		Type:        ProductType,
		SKU:         p.SKU,
		Name:        p.Name,
		Brand:       p.Brand,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Offers:      make([]OfferFrame, 0, len(p.Offers)),
	}
	for _, o := range p.Offers {
		f.Offers = append(f.Offers, OfferFrame{
			LocationID:   o.LocationID,
			LocationName: o.LocationName,
			Price:        decimalString(o.Price),
			Cost:         decimalString(o.Cost),
			Stock:        o.Stock,
			UpdatedAt:    o.UpdatedAt,
		})
	}
	return f
}

// Product converts the frame back to a domain product.
func (f *ProductFrame) Product() (types.Product, error) {
	p := types.Product{
		SKU:         f.SKU,
		Name:        f.Name,
		Brand:       f.Brand,
		Description: f.Description,
		ImageURL:    f.ImageURL,
		Offers:      make([]types.Offer, 0, len(f.Offers)),
	}
	for i, o := range f.Offers {
		price, err := parseDecimal(o.Price)
		if err != nil {
			return types.Product{}, fmt.Errorf("offers[%d].price: %w", i, err)
		}
		cost, err := parseDecimal(o.Cost)
		if err != nil {
			return types.Product{}, fmt.Errorf("offers[%d].cost: %w", i, err)
		}
		p.Offers = append(p.Offers, types.Offer{
			LocationID:   o.LocationID,
			LocationName: o.LocationName,
			Price:        price,
			Cost:         cost,
			Stock:        o.Stock,
			UpdatedAt:    o.UpdatedAt,
		})
	}
	return p, nil
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Encoder writes frames to a stream. Not safe for concurrent use.
type Encoder struct {
	w     *bufio.Writer
	count int
}

// NewEncoder creates an encoder writing to w. Call Flush or WriteTrailer
// to push buffered frames out.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// WriteProduct writes one product frame.
func (e *Encoder) WriteProduct(p types.Product) error {
	if err := e.write(NewProductFrame(p)); err != nil {
		return err
	}
	e.count++
	return nil
}

// WriteTrailer writes the closing frame and flushes.
func (e *Encoder) WriteTrailer(total int, query string) error {
	if err := e.write(&TrailerFrame{Type: TrailerType, Count: e.count, Total: total, Query: query}); err != nil {
		return err
	}
	return e.Flush()
}

// Count returns the number of product frames written.
func (e *Encoder) Count() int { return e.count }

// Flush writes any buffered frames to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

func (e *Encoder) write(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return &Error{Kind: ErrorEncode, Msg: "failed to encode frame", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return &Error{
			Kind: ErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := e.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = e.w.Write(payload)
	return err
}

// Decoder reads length-prefixed frames from a stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder creates a new frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// ReadFrame reads a single frame and returns its msgpack payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *Error with Kind=ErrorPartial: incomplete frame (fatal)
//   - *Error with Kind=ErrorTooLarge: frame exceeds limit (fatal)
func (d *Decoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &Error{Kind: ErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &Error{
			Kind: ErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &Error{Kind: ErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// Next reads and decodes the next frame: *ProductFrame or *TrailerFrame.
func (d *Decoder) Next() (any, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// typeProbe peeks at the type field without a full decode.
type typeProbe struct {
	Type string `msgpack:"type"`
}

// Decode decodes a payload by its type discriminant.
func Decode(payload []byte) (any, error) {
	var probe typeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &Error{Kind: ErrorDecode, Msg: "failed to decode frame type", Err: err}
	}

	switch probe.Type {
	case ProductType:
		var f ProductFrame
		if err := msgpack.Unmarshal(payload, &f); err != nil {
			return nil, &Error{Kind: ErrorDecode, Msg: "failed to decode product", Err: err}
		}
		return &f, nil
	case TrailerType:
		var f TrailerFrame
		if err := msgpack.Unmarshal(payload, &f); err != nil {
			return nil, &Error{Kind: ErrorDecode, Msg: "failed to decode trailer", Err: err}
		}
		return &f, nil
	default:
		return nil, &Error{Kind: ErrorDecode, Msg: fmt.Sprintf("unknown frame type %q", probe.Type)}
	}
}
