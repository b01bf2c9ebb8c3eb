package types

import (
	"errors"
	"net/url"

	"github.com/google/uuid"
)

// SessionMeta identifies one client session against a backend.
// Every log line and published event carries it.
type SessionMeta struct {
	// SessionID is unique per process start.
	SessionID string
	// BaseURL is the backend API root.
	BaseURL string
	// ClientVersion is the catalogsync version.
	ClientVersion string
}

// NewSessionMeta creates session metadata with a fresh session ID.
func NewSessionMeta(baseURL string) *SessionMeta {
	return &SessionMeta{
		SessionID:     uuid.NewString(),
		BaseURL:       baseURL,
		ClientVersion: Version,
	}
}

// Validate checks that the session has an ID and an absolute http(s) base URL.
func (s *SessionMeta) Validate() error {
	if s.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	if s.BaseURL == "" {
		return errors.New("base_url must be non-empty")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return errors.New("base_url is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("base_url must use http or https")
	}
	if u.Host == "" {
		return errors.New("base_url must include a host")
	}
	return nil
}
