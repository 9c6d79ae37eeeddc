package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/query-cache/pkg/cache"
	"github.com/Sternrassler/query-cache/pkg/client"
	"github.com/Sternrassler/query-cache/pkg/metrics"
	"github.com/Sternrassler/query-cache/pkg/query"
	"github.com/Sternrassler/query-cache/pkg/retry"
	"github.com/rs/zerolog"
)

// Response headers describing how a resource was served.
const (
	headerStale     = "X-Query-Stale"
	headerFetchedAt = "X-Query-Fetched-At"
	headerError     = "X-Query-Error"
)

// server serves upstream resources through one query unit per resource.
type server struct {
	queries  *query.Client
	upstream *client.Client
	options  func(key string) query.Options
	logger   zerolog.Logger

	mu    sync.Mutex
	units map[string]*query.Unit[*client.Response]
}

// newServer creates the proxy server. Units whose resource has left the
// cache are released after every sweep.
func newServer(queries *query.Client, upstream *client.Client, options func(key string) query.Options, logger zerolog.Logger) *server {
	s := &server{
		queries:  queries,
		upstream: upstream,
		options:  options,
		logger:   logger,
		units:    make(map[string]*query.Unit[*client.Response]),
	}
	queries.Sweeper().OnSweep(func(int) { s.releaseIdle() })
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/q/", s.queryHandler)
	mux.HandleFunc("/invalidate/", s.invalidateHandler)
	mux.HandleFunc("/focus", s.focusHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// resourceKey maps a request to its cache key and upstream path.
func resourceKey(r *http.Request, prefix string) (key, path string) {
	path = "/" + strings.TrimPrefix(r.URL.Path, prefix)
	key = cache.Key{Resource: path, Query: r.URL.Query()}.String()
	return key, path
}

// unitLocked returns the query unit for key, creating it on first use.
// Requires s.mu.
func (s *server) unitLocked(r *http.Request, key, path string) (*query.Unit[*client.Response], error) {
	if u, ok := s.units[key]; ok {
		return u, nil
	}

	u, err := query.New(s.queries, s.options(key), s.upstream.Fetcher(path, r.URL.Query()))
	if err != nil {
		return nil, err
	}
	s.units[key] = u
	return u, nil
}

// queryHandler serves GET /q/<path>. Cached values are served at once,
// stale ones flagged with X-Query-Stale while they revalidate.
func (s *server) queryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, path := resourceKey(r, "/q/")

	// Lookup and fetch share one critical section so releaseIdle cannot
	// close the unit in between. A load already in flight is joined rather
	// than superseded. The lifecycle outlives the request so background
	// revalidation completes after a stale response was written.
	s.mu.Lock()
	u, err := s.unitLocked(r, key, path)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !u.IsLoading() {
		u.Fetch(context.WithoutCancel(r.Context()), false)
	}
	state := u.State()
	s.mu.Unlock()

	if !state.HasValue {
		if err := waitSettled(r.Context(), u); err != nil {
			return
		}
		state = u.State()
	}

	switch {
	case state.HasValue && state.Value != nil:
		writeResource(w, state)
	case state.Err != nil:
		writeError(w, state.Err)
	default:
		http.Error(w, "no value", http.StatusServiceUnavailable)
	}
}

// waitSettled blocks until u is no longer loading or ctx ends.
func waitSettled[T any](ctx context.Context, u *query.Unit[T]) error {
	settled := make(chan struct{}, 1)
	unsubscribe := u.Subscribe(func(s query.State[T]) {
		if !s.Loading {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if !u.IsLoading() {
		return nil
	}

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeResource(w http.ResponseWriter, state query.State[*client.Response]) {
	resp := state.Value
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(headerStale, strconv.FormatBool(state.IsStale))
	w.Header().Set(headerFetchedAt, state.LastFetchAt.UTC().Format(time.RFC1123))
	if state.Err != nil {
		w.Header().Set(headerError, state.Err.Error())
	}
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway

	var upErr *client.UpstreamError
	if errors.As(err, &upErr) && upErr.ErrorClass == client.ErrorClassClient {
		status = upErr.StatusCode
	}
	http.Error(w, fmt.Sprintf("upstream request failed: %v", retry.Cause(err)), status)
}

// invalidateHandler serves POST /invalidate/<path>.
func (s *server) invalidateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, _ := resourceKey(r, "/invalidate/")
	s.queries.Invalidate(context.WithoutCancel(r.Context()), key)

	s.logger.Info().Str("key", key).Msg("Invalidated resource")
	w.WriteHeader(http.StatusNoContent)
}

// focusHandler serves POST /focus.
func (s *server) focusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.queries.Focus(context.WithoutCancel(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// releaseIdle closes the units of resources that are no longer cached and
// not loading, so per-request keys do not accumulate. A later request for
// the same resource creates a new unit.
func (s *server) releaseIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	store := s.queries.Store()
	released := 0
	for key, u := range s.units {
		if u.IsLoading() {
			continue
		}
		if _, ok := store.Get(key); ok {
			continue
		}
		u.Close()
		delete(s.units, key)
		released++
	}

	if released > 0 {
		s.logger.Debug().
			Int("released", released).
			Int("remaining", len(s.units)).
			Msg("Released idle query units")
	}
	return released
}

// close releases every unit.
func (s *server) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, u := range s.units {
		u.Close()
		delete(s.units, key)
	}
}
