// Package iox provides I/O helpers for response bodies and resource cleanup.
package iox

import "io"

// maxDrain bounds how much of an unread response body DrainClose consumes
// before giving up on connection reuse.
const maxDrain = 64 << 10

// DiscardClose closes c and discards the error.
//
//	defer iox.DiscardClose(client)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads up to 64 KiB of rc and closes it, so the HTTP transport
// can reuse the connection. Errors are discarded.
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxDrain))
	_ = rc.Close()
}

// ReadLimited reads at most limit bytes from r.
// It returns ErrTooLarge when r holds more than limit bytes.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// ErrTooLarge is returned by ReadLimited when the input exceeds the limit.
var ErrTooLarge = tooLargeError{}

type tooLargeError struct{}

func (tooLargeError) Error() string { return "payload exceeds read limit" }

// CloseFunc returns a cleanup function that closes c, for t.Cleanup.
//
//	t.Cleanup(iox.CloseFunc(store))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}
