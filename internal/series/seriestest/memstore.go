// Package seriestest provides an in-memory domain.SeriesStore for tests.
package seriestest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

// AddCall records one Add invocation.
type AddCall struct {
	Key   string
	Point domain.Point
	Opts  domain.SeriesOptions
}

type series struct {
	opts   domain.SeriesOptions
	points []domain.Point
}

// MemStore mimics TS.ADD with a last-write-wins duplicate policy.
type MemStore struct {
	mu      sync.Mutex
	series  map[string]*series
	adds    []AddCall
	keyScan []string
	deleted []string
	failAdd map[string]error
	failAll error
}

var _ domain.SeriesStore = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		series:  make(map[string]*series),
		failAdd: make(map[string]error),
	}
}

// FailKey makes every Add to key return err.
func (m *MemStore) FailKey(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAdd[key] = err
}

// FailAll makes every Add return err; nil restores normal behaviour.
func (m *MemStore) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// Add implements domain.SeriesStore.
func (m *MemStore) Add(_ context.Context, key string, p domain.Point, opts domain.SeriesOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.adds = append(m.adds, AddCall{Key: key, Point: p, Opts: opts})
	if m.failAll != nil {
		return m.failAll
	}
	if err, ok := m.failAdd[key]; ok {
		return err
	}

	s, ok := m.series[key]
	if !ok {
		s = &series{opts: opts}
		m.series[key] = s
	}
	for i := range s.points {
		if s.points[i].TimestampMs == p.TimestampMs {
			s.points[i] = p
			return nil
		}
	}
	s.points = append(s.points, p)
	sort.SliceStable(s.points, func(i, j int) bool { return s.points[i].TimestampMs < s.points[j].TimestampMs })
	return nil
}

// Latest implements domain.SeriesStore.
func (m *MemStore) Latest(_ context.Context, key string) (domain.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[key]
	if !ok || len(s.points) == 0 {
		return domain.Point{}, fmt.Errorf("memstore: %s: %w", key, domain.ErrNotFound)
	}
	return s.points[len(s.points)-1], nil
}

// Keys implements domain.SeriesStore using path.Match, which shares the
// Redis glob syntax for the patterns used here.
func (m *MemStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keyScan = append(m.keyScan, pattern)
	var keys []string
	for k := range m.series {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements domain.SeriesStore.
func (m *MemStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.series, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

// Seed creates key with the given points and labels.
func (m *MemStore) Seed(key string, labels domain.Labels, points ...domain.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[key] = &series{opts: domain.SeriesOptions{Labels: labels}, points: points}
}

// Adds returns every Add call so far, including failed ones.
func (m *MemStore) Adds() []AddCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AddCall(nil), m.adds...)
}

// Scans returns the patterns passed to Keys.
func (m *MemStore) Scans() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keyScan...)
}

// Deleted returns the keys removed with Delete.
func (m *MemStore) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Labels returns the labels key was created with.
func (m *MemStore) Labels(key string) domain.Labels {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.series[key]; ok {
		return s.opts.Labels
	}
	return nil
}

// Has reports whether key exists.
func (m *MemStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.series[key]
	return ok
}
