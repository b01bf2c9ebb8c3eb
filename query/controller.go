// Package query owns the user's current view of the catalog: page, page
// size and search text. It never touches the network; it only derives the
// cache key the rest of the engine fetches.
package query

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pithecene-io/catalogsync/types"
)

const (
	// DefaultPageSize is the catalog view's initial page size.
	DefaultPageSize = 50
	// MaxPageSize matches the backend's page_size validation.
	MaxPageSize = 100
)

// State is the single source of truth for what the user wants to see.
type State struct {
	Page     int
	PageSize int
	Query    string
}

// Key returns the fetch key for s.
func (s State) Key() types.QueryKey {
	return types.QueryKey{Page: s.Page, PageSize: s.PageSize, Query: s.Query}
}

// Controller mutates State under the paging rules.
// Safe for concurrent use.
type Controller struct {
	mu    sync.Mutex
	state State
	total int
	known bool
}

// NewController creates a controller on page 1 with no filter.
// pageSize < 1 selects DefaultPageSize; larger than MaxPageSize is clamped.
func NewController(pageSize int) *Controller {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Controller{state: State{Page: 1, PageSize: min(pageSize, MaxPageSize)}}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Key returns the derived fetch key.
func (c *Controller) Key() types.QueryKey {
	return c.State().Key()
}

// SetQuery replaces the search text and resets to page 1.
// Whitespace is trimmed and internal runs collapse to one space.
func (c *Controller) SetQuery(text string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Query = NormalizeQuery(text)
	c.state.Page = 1
	return c.state
}

// SetPageSize changes the page size and resets to page 1.
func (c *Controller) SetPageSize(n int) (State, error) {
	if n < 1 {
		return c.State(), fmt.Errorf("page size must be >= 1, got %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PageSize = min(n, MaxPageSize)
	c.state.Page = 1
	return c.state, nil
}

// SetPage moves to page n, clamped to [1, last page] using the most
// recently observed total. Before any total is known only the lower bound
// applies. The clamp is advisory: the total may be stale while a fetch is
// pending.
func (c *Controller) SetPage(n int) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Page = c.clamp(n)
	return c.state
}

// NextPage advances one page, clamped.
func (c *Controller) NextPage() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Page = c.clamp(c.state.Page + 1)
	return c.state
}

// PrevPage goes back one page, clamped.
func (c *Controller) PrevPage() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Page = c.clamp(c.state.Page - 1)
	return c.state
}

// ObserveTotal records the latest known total. The current page is not
// moved; the next SetPage clamps against it.
func (c *Controller) ObserveTotal(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = max(total, 0)
	c.known = true
}

// LastPage returns the last valid page for the known total, or 0 when no
// total has been observed yet.
func (c *Controller) LastPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known {
		return 0
	}
	return types.PageCount(c.total, c.state.PageSize)
}

func (c *Controller) clamp(n int) int {
	n = max(n, 1)
	if !c.known {
		return n
	}
	return min(n, types.PageCount(c.total, c.state.PageSize))
}

// NormalizeQuery trims and collapses whitespace. Empty means no filter.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
