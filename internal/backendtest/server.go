// Package backendtest is a scriptable in-process catalog backend for tests.
//
// It serves the four endpoints the engine consumes, enforces bearer auth,
// filters and paginates a product list the way the real backend does, and
// simulates an ingest job that reports running for a configurable number
// of status polls before finishing.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Defaults for a fresh server.
const (
	DefaultEmail    = "staff@example.com"
	DefaultPassword = "secret"
	DefaultToken    = "test-token"
	maxPageSize     = 100
)

// Server is a fake backend. All setters are safe to call while requests
// are in flight.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	token       string
	rows        []map[string]any
	pending     []map[string]any
	jobPolls    int
	jobOutcome  string
	running     bool
	remaining   int
	lastStatus  string
	lastSuccess *time.Time
	startedAt   *time.Time
	productFail int
	statusFail  int

	triggers    int
	statusPolls int
	listCalls   []Query
}

// Query records one GET /products call.
type Query struct {
	Page     int
	PageSize int
	Q        string
}

// New starts a server that is shut down when t ends.
// The job reports running for two polls by default and then finishes "ok".
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		token:      DefaultToken,
		jobPolls:   2,
		jobOutcome: "ok",
		lastStatus: "idle",
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auth/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/products", s.handleProducts)
		r.Post("/ingest/run", s.handleRun)
		r.Post("/ingest/run-all", s.handleRun)
		r.Get("/ingest/status", s.handleStatus)
	})
	return r
}

// --- Scripting ---

// SetRows replaces the catalog. Rows are served as given: grouped rows
// carry an offers array, flat rows do not.
func (s *Server) SetRows(rows []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

// SetRowsAfterIngest stages a catalog that replaces the current one when
// the next ingest job finishes.
func (s *Server) SetRowsAfterIngest(rows []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = rows
}

// SetJob configures how many status polls a job reports running for and
// the status it ends with ("ok", "error: ...").
func (s *Server) SetJob(polls int, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobPolls = polls
	s.jobOutcome = outcome
}

// StartJob marks a job running as if another client had triggered it.
func (s *Server) StartJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

// RevokeToken makes every protected call answer 401.
func (s *Server) RevokeToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// FailProducts makes GET /products answer code until reset with 0.
func (s *Server) FailProducts(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productFail = code
}

// FailStatus makes GET /ingest/status answer code until reset with 0.
func (s *Server) FailStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFail = code
}

// Triggers returns the number of accepted trigger calls.
func (s *Server) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers
}

// StatusPolls returns the number of status calls served.
func (s *Server) StatusPolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusPolls
}

// ListCalls returns every GET /products call served, in order.
func (s *Server) ListCalls() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.listCalls...)
}

// --- Handlers ---

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()

		if token == "" || r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}
	if body.Email != DefaultEmail || body.Password != DefaultPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}

	s.mu.Lock()
	s.token = DefaultToken
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"access_token": DefaultToken, "token_type": "bearer"})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	page, err1 := strconv.Atoi(r.URL.Query().Get("page"))
	size, err2 := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err1 != nil || err2 != nil || page < 1 || size < 1 || size > maxPageSize {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid paging"})
		return
	}
	q := r.URL.Query().Get("q")

	s.mu.Lock()
	s.listCalls = append(s.listCalls, Query{Page: page, PageSize: size, Q: q})
	if s.productFail != 0 {
		code := s.productFail
		s.mu.Unlock()
		writeJSON(w, code, map[string]string{"detail": "products unavailable"})
		return
	}
	matched := filterRows(s.rows, q)
	s.mu.Unlock()

	start := min((page-1)*size, len(matched))
	end := min(start+size, len(matched))
	items := matched[start:end]
	if items == nil {
		items = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"page":      page,
		"page_size": size,
		"total":     len(matched),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "Ingest already running"})
		return
	}
	s.triggers++
	s.startLocked()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusPolls++

	if s.statusFail != 0 {
		writeJSON(w, s.statusFail, map[string]string{"detail": "status unavailable"})
		return
	}

	if s.running {
		if s.remaining > 0 {
			s.remaining--
		} else {
			s.finishLocked()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"busy":            s.running,
		"status":          s.lastStatus,
		"started_at":      formatTime(s.startedAt),
		"last_success_at": formatTime(s.lastSuccess),
	})
}

// Must be called with s.mu held.
func (s *Server) startLocked() {
	now := time.Now().UTC()
	s.running = true
	s.remaining = s.jobPolls
	s.lastStatus = "running"
	s.startedAt = &now
}

// Must be called with s.mu held.
func (s *Server) finishLocked() {
	s.running = false
	s.lastStatus = s.jobOutcome
	if !strings.HasPrefix(s.jobOutcome, "error") {
		now := time.Now().UTC()
		s.lastSuccess = &now
		if s.pending != nil {
			s.rows = s.pending
			s.pending = nil
		}
	}
}

// filterRows ANDs the words of q against sku, name and brand.
func filterRows(rows []map[string]any, q string) []map[string]any {
	words := strings.Fields(strings.ToLower(q))
	if len(words) == 0 {
		return rows
	}
	var out []map[string]any
	for _, row := range rows {
		hay := strings.ToLower(fmt.Sprint(row["sku"], " ", row["name"], " ", row["brand"]))
		match := true
		for _, w := range words {
			if !strings.Contains(hay, w) {
				match = false
				break
			}
		}
		if match {
			out = append(out, row)
		}
	}
	return out
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Products builds n grouped rows with two offers each. SKUs are
// "<prefix>-001", "<prefix>-002", ...
func Products(prefix string, n int) []map[string]any {
	rows := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, map[string]any{
			"sku":   fmt.Sprintf("%s-%03d", prefix, i),
			"name":  fmt.Sprintf("Product %d", i),
			"brand": "Ortho",
			"offers": []any{
				map[string]any{"store_id": 1, "store_name": "Central", "price": 1000 + i, "stock": i},
				map[string]any{"store_id": 2, "precio": "950.50", "existencia": nil},
			},
		})
	}
	return rows
}
