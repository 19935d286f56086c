package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"habitsync/internal/core"
	"habitsync/internal/summary"
)

// Ensure interface conformance
var (
	_ summary.Store  = (*Store)(nil)
	_ summary.Reader = (*Store)(nil)
)

type resource struct {
	parent  string
	title   string
	columns []string
	entries map[core.Month]core.MonthlyRow
}

// Store keeps summary resources in process memory.
type Store struct {
	mu        sync.Mutex
	title     string
	resources map[string]*resource
	order     []string
	writes    int
}

func New(title string) *Store {
	if strings.TrimSpace(title) == "" {
		title = summary.DefaultTitle
	}
	return &Store{title: title, resources: map[string]*resource{}}
}

// FindOrCreate matches resources by parent and case-insensitive title.
func (s *Store) FindOrCreate(_ context.Context, parentID string, habits []string) (string, error) {
	if strings.TrimSpace(parentID) == "" {
		return "", &core.ConfigurationError{Field: "parent id", Reason: "is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		r := s.resources[id]
		if r.parent == parentID && strings.EqualFold(strings.TrimSpace(r.title), s.title) {
			r.columns = mergeColumns(r.columns, habits)
			return id, nil
		}
	}
	id := fmt.Sprintf("mem:%d", len(s.order)+1)
	s.resources[id] = &resource{
		parent:  parentID,
		title:   s.title,
		columns: mergeColumns(nil, habits),
		entries: map[core.Month]core.MonthlyRow{},
	}
	s.order = append(s.order, id)
	s.writes++
	return id, nil
}

func (s *Store) EnsureSchema(_ context.Context, resourceID string, habits []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(resourceID)
	if err != nil {
		return err
	}
	r.columns = mergeColumns(r.columns, habits)
	return nil
}

func (s *Store) Upsert(_ context.Context, resourceID string, row core.MonthlyRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(resourceID)
	if err != nil {
		return err
	}
	avgs := make(map[string]float64, len(row.Averages))
	for k, v := range row.Averages {
		avgs[k] = v
	}
	r.entries[row.Month] = core.MonthlyRow{Month: row.Month, Averages: avgs, Count: row.Count}
	r.columns = mergeColumns(r.columns, sortedKeys(avgs))
	s.writes++
	return nil
}

// ListMonths returns the stored rows ordered by month.
func (s *Store) ListMonths(_ context.Context, resourceID string) ([]core.MonthlyRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(resourceID)
	if err != nil {
		return nil, err
	}
	out := make([]core.MonthlyRow, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

// Columns returns the habit columns of a resource.
func (s *Store) Columns(resourceID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resources[resourceID]; ok {
		return append([]string(nil), r.columns...)
	}
	return nil
}

// Writes counts mutating operations, including resource creation.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) lookup(id string) (*resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return nil, &core.RemoteAccessError{Op: "memory lookup " + id, StatusCode: 404, Err: core.ErrNotFound}
	}
	return r, nil
}

func mergeColumns(existing, habits []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(existing)+len(habits))
	for _, v := range append(append([]string(nil), existing...), habits...) {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
