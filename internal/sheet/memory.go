package sheet

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Document. It is safe for concurrent use and is the
// store used by tests and by callers that only need the cache and index layer.
type Memory struct {
	mu     sync.Mutex
	order  []string
	sheets map[string]*Grid
	locks  map[string]*memLock
	copies map[string]*Memory
}

// NewMemory returns an empty in-memory document.
func NewMemory() *Memory {
	return &Memory{
		sheets: make(map[string]*Grid),
		locks:  make(map[string]*memLock),
		copies: make(map[string]*Memory),
	}
}

// Set creates or replaces the sheet name with rows.
func (m *Memory) Set(name string, rows [][]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := &Grid{}
	_ = g.Write(1, 1, rows)
	if _, ok := m.sheets[name]; !ok {
		m.order = append(m.order, name)
	}
	m.sheets[name] = g
}

// Rows returns a copy of the used area of the sheet name, or nil.
func (m *Memory) Rows(name string) [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.sheets[name]
	if !ok {
		return nil
	}
	out, _ := g.Read(1, 1, g.LastRow(), g.LastColumn())
	return out
}

// Copy returns the document stored by a previous CopyTo(dest), or nil.
func (m *Memory) Copy(dest string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copies[dest]
}

// Sheets implements Document.
func (m *Memory) Sheets(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order), nil
}

// Sheet implements Document.
func (m *Memory) Sheet(_ context.Context, name string) (Sheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[name]; !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrSheetNotFound)
	}
	return &memSheet{doc: m, name: name}, nil
}

// CopyTo implements Document. The copy is retrievable with Copy.
func (m *Memory) CopyTo(_ context.Context, dest string) error {
	if dest == "" {
		return fmt.Errorf("empty copy destination")
	}
	cp := NewMemory()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.order {
		g := m.sheets[name].Clone()
		cp.order = append(cp.order, name)
		cp.sheets[name] = &g
	}
	m.copies[dest] = cp
	return nil
}

// Lock implements Document.
func (m *Memory) Lock(name string) Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &memLock{ch: make(chan struct{}, 1)}
		m.locks[name] = l
	}
	return l
}

type memSheet struct {
	doc  *Memory
	name string
}

func (s *memSheet) Name() string {
	return s.name
}

// grid must be called with doc.mu held.
func (s *memSheet) grid() (*Grid, error) {
	g, ok := s.doc.sheets[s.name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", s.name, ErrSheetNotFound)
	}
	return g, nil
}

func (s *memSheet) ReadRange(_ context.Context, row, col, rows, cols int) ([][]any, error) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	g, err := s.grid()
	if err != nil {
		return nil, err
	}
	return g.Read(row, col, rows, cols)
}

func (s *memSheet) WriteRange(_ context.Context, row, col int, values [][]any) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	g, err := s.grid()
	if err != nil {
		return err
	}
	return g.Write(row, col, values)
}

func (s *memSheet) AppendRow(_ context.Context, values []any) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	g, err := s.grid()
	if err != nil {
		return err
	}
	return g.Append(values)
}

func (s *memSheet) LastRow(context.Context) (int, error) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	g, err := s.grid()
	if err != nil {
		return 0, err
	}
	return g.LastRow(), nil
}

func (s *memSheet) LastColumn(context.Context) (int, error) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	g, err := s.grid()
	if err != nil {
		return 0, err
	}
	return g.LastColumn(), nil
}

func (s *memSheet) ClearRows(_ context.Context, row, n int) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	g, err := s.grid()
	if err != nil {
		return err
	}
	return g.Clear(row, n)
}

func (s *memSheet) DeleteRows(_ context.Context, row, n int) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	g, err := s.grid()
	if err != nil {
		return err
	}
	return g.Delete(row, n)
}

func (s *memSheet) Find(_ context.Context, query string, opts FindOptions) ([]Cell, error) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	g, err := s.grid()
	if err != nil {
		return nil, err
	}
	return g.Find(query, opts)
}

// memLock is a process-local named lock.
type memLock struct {
	ch chan struct{}
}

func (l *memLock) TryLock(ctx context.Context, wait time.Duration) (bool, error) {
	select {
	case l.ch <- struct{}{}:
		return true, nil
	default:
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case l.ch <- struct{}{}:
		return true, nil
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (l *memLock) Unlock(context.Context) error {
	select {
	case <-l.ch:
		return nil
	default:
		return fmt.Errorf("unlock of unlocked lock")
	}
}
