// Package adapter defines the boundary for announcing catalog refreshes.
//
// When the coordinator observes an ingest completion it invalidates its
// cache and publishes a CatalogRefreshedEvent so other consumers (another
// terminal, a dashboard, a chat hook) can refresh too. Publishing is best
// effort: a failed publish is logged and counted, never fatal.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/catalogsync/types"
)

// EventTypeCatalogRefreshed is the event_type of every published event.
const EventTypeCatalogRefreshed = "catalog_refreshed"

// CatalogRefreshedEvent is the payload published on ingest completion.
type CatalogRefreshedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "catalog_refreshed"
	SessionID       string `json:"session_id"`
	BaseURL         string `json:"base_url"`
	Phase           string `json:"phase"`  // idle or error
	Status          string `json:"status"` // raw backend status
	StartedAt       string `json:"started_at,omitempty"`
	LastSuccessAt   string `json:"last_success_at,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	Query           string `json:"query,omitempty"`
	Page            int    `json:"page"`
	PageSize        int    `json:"page_size"`
}

// NewCatalogRefreshedEvent builds the event for a completion observation.
func NewCatalogRefreshedEvent(meta *types.SessionMeta, status types.IngestStatus, key types.QueryKey, at time.Time) *CatalogRefreshedEvent {
	e := &CatalogRefreshedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeCatalogRefreshed,
		Phase:           string(status.Phase),
		Status:          status.RawStatus,
		Timestamp:       at.UTC().Format(time.RFC3339),
		Query:           key.Query,
		Page:            key.Page,
		PageSize:        key.PageSize,
	}
	if meta != nil {
		e.SessionID = meta.SessionID
		e.BaseURL = meta.BaseURL
	}
	if status.StartedAt != nil {
		e.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	if status.LastSuccessAt != nil {
		e.LastSuccessAt = status.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	return e
}

// Adapter publishes catalog refresh events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *CatalogRefreshedEvent) error

	// Close releases adapter resources.
	Close() error
}
