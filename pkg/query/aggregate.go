package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Member is the view of a Unit an Aggregate needs. *Unit[T] implements it.
type Member interface {
	Snapshot() Snapshot
	Refetch(ctx context.Context) <-chan struct{}
}

// Aggregate combines independently keyed Units into one load, error and
// success view.
type Aggregate struct {
	mu      sync.RWMutex
	members map[string]Member
	limit   int
}

// NewAggregate creates an empty Aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{
		members: make(map[string]Member),
		limit:   -1,
	}
}

// Add registers m under name. Names must be unique and non-empty.
func (a *Aggregate) Add(name string, m Member) error {
	if name == "" {
		return fmt.Errorf("%w: member name is required", ErrInvalidOptions)
	}
	if m == nil {
		return fmt.Errorf("%w: member %q is nil", ErrInvalidOptions, name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.members[name]; ok {
		return fmt.Errorf("%w: duplicate member %q", ErrInvalidOptions, name)
	}
	a.members[name] = m
	return nil
}

// SetLimit bounds how many member refetches RefetchAll runs at once.
// Zero or a negative value removes the limit.
func (a *Aggregate) SetLimit(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = n
}

// Names returns member names in sorted order.
func (a *Aggregate) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.members))
	for name := range a.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *Aggregate) snapshots() map[string]Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]Snapshot, len(a.members))
	for name, m := range a.members {
		out[name] = m.Snapshot()
	}
	return out
}

// IsLoading reports whether any member is loading.
func (a *Aggregate) IsLoading() bool {
	for _, s := range a.snapshots() {
		if s.IsLoading() {
			return true
		}
	}
	return false
}

// IsError reports whether any member failed.
func (a *Aggregate) IsError() bool {
	for _, s := range a.snapshots() {
		if s.IsError() {
			return true
		}
	}
	return false
}

// IsSuccess reports whether every member succeeded. An empty Aggregate
// is successful.
func (a *Aggregate) IsSuccess() bool {
	for _, s := range a.snapshots() {
		if !s.IsSuccess() {
			return false
		}
	}
	return true
}

// Data maps each member holding a value to that value.
func (a *Aggregate) Data() map[string]any {
	data := make(map[string]any)
	for name, s := range a.snapshots() {
		if s.HasValue {
			data[name] = s.Value
		}
	}
	return data
}

// Errors maps each failed member to its error.
func (a *Aggregate) Errors() map[string]error {
	errs := make(map[string]error)
	for name, s := range a.snapshots() {
		if s.Err != nil {
			errs[name] = s.Err
		}
	}
	return errs
}

// RefetchAll refetches every member concurrently and waits for all of them.
// Members are independent: one failing does not cancel the others. The
// returned error joins the member errors, or is ctx.Err() if ctx ended
// first.
func (a *Aggregate) RefetchAll(ctx context.Context) error {
	a.mu.RLock()
	members := make(map[string]Member, len(a.members))
	for name, m := range a.members {
		members[name] = m
	}
	limit := a.limit
	a.mu.RUnlock()

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, m := range members {
		m := m
		g.Go(func() error {
			select {
			case <-m.Refetch(ctx):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	var errs []error
	for _, name := range sortedKeys(members) {
		if err := members[name].Snapshot().Err; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]Member) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
