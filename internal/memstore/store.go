// Package memstore implements types.DataStore in memory.
//
// Records are kept per class in maps keyed by identity string. Writes take a
// write lock and touch one map entry; reads copy the matching records under
// a read lock and filter, sort, and page the copies outside it.
package memstore

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Store is an in-memory DataStore. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	classes map[string]map[string]types.Record

	seqMu sync.Mutex
	seqs  map[string]*atomic.Int64
}

var _ types.DataStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		classes: make(map[string]map[string]types.Record),
		seqs:    make(map[string]*atomic.Int64),
	}
}

func classKey(class string) string { return types.FoldName(class) }

func checkRecord(rec types.Record) error {
	if rec.Class == "" {
		return fmt.Errorf("record without class: %w", types.ErrUnknownClass)
	}
	if rec.Key == "" {
		return fmt.Errorf("%s record without key: %w", rec.Class, types.ErrInvalidKey)
	}
	return nil
}

// Find returns the record with the given key.
func (s *Store) Find(class, key string) (types.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.classes[classKey(class)][key]
	if !ok {
		return types.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

// snapshot copies the records of class that match c.
func (s *Store) snapshot(class string, c criteria.Criteria) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Record
	for _, rec := range s.classes[classKey(class)] {
		ok, err := criteria.Match(c, rec)
		if err != nil {
			return nil, fmt.Errorf("%s where %s: %w", class, c, err)
		}
		if ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// FindOne returns the single record matching c. More than one match returns
// ErrAmbiguousMatch.
func (s *Store) FindOne(class string, c criteria.Criteria) (types.Record, bool, error) {
	recs, err := s.snapshot(class, c)
	if err != nil {
		return types.Record{}, false, err
	}
	switch len(recs) {
	case 0:
		return types.Record{}, false, nil
	case 1:
		return recs[0], true, nil
	}
	return types.Record{}, false, fmt.Errorf("%s where %s matched %d records: %w", class, c, len(recs), types.ErrAmbiguousMatch)
}

// FindAll returns matching records ordered by order, then by key so that
// results are deterministic, and windowed by page.
func (s *Store) FindAll(class string, c criteria.Criteria, order criteria.OrderBy, page types.Page) ([]types.Record, error) {
	if page.First < 0 {
		return nil, fmt.Errorf("first %d: %w", page.First, types.ErrIndexOutOfRange)
	}
	recs, err := s.snapshot(class, c)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(recs, func(a, b types.Record) int { return strings.Compare(a.Key, b.Key) })
	if err := criteria.Sort(recs, order); err != nil {
		return nil, fmt.Errorf("%s order by %s: %w", class, order, err)
	}

	if page.First >= len(recs) {
		return []types.Record{}, nil
	}
	end := len(recs)
	if page.Limit > 0 && page.First+page.Limit < end {
		end = page.First + page.Limit
	}
	return recs[page.First:end], nil
}

// Count returns the number of records matching c.
func (s *Store) Count(class string, c criteria.Criteria) (int, error) {
	if c == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.classes[classKey(class)]), nil
	}
	recs, err := s.snapshot(class, c)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Insert adds a record. Returns ErrDuplicateIdentity if the key exists.
func (s *Store) Insert(rec types.Record) error {
	return s.Apply([]types.Change{{Op: types.OpInsert, Record: rec}})
}

// Update replaces a record. Returns ErrRecordNotFound if absent.
func (s *Store) Update(rec types.Record) error {
	return s.Apply([]types.Change{{Op: types.OpUpdate, Record: rec}})
}

// Remove deletes a record. Returns ErrRecordNotFound if absent.
func (s *Store) Remove(class, key string) error {
	return s.Apply([]types.Change{{Op: types.OpDelete, Record: types.Record{Class: class, Key: key}}})
}

// Check validates changes against the current contents without applying
// them.
func (s *Store) Check(changes []types.Change) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkLocked(changes)
}

func (s *Store) checkLocked(changes []types.Change) error {
	// present tracks keys inserted or removed earlier in the batch.
	present := make(map[string]bool)
	exists := func(rec types.Record) bool {
		id := classKey(rec.Class) + "\x00" + rec.Key
		if v, ok := present[id]; ok {
			return v
		}
		_, ok := s.classes[classKey(rec.Class)][rec.Key]
		return ok
	}
	mark := func(rec types.Record, v bool) {
		present[classKey(rec.Class)+"\x00"+rec.Key] = v
	}

	for i, ch := range changes {
		fail := func(err error) error {
			return &types.ChangeError{Index: i, Change: ch, Err: err}
		}
		if err := checkRecord(ch.Record); err != nil {
			return fail(err)
		}
		switch ch.Op {
		case types.OpInsert:
			if exists(ch.Record) {
				return fail(types.ErrDuplicateIdentity)
			}
			mark(ch.Record, true)
		case types.OpUpdate:
			if !exists(ch.Record) {
				return fail(types.ErrRecordNotFound)
			}
		case types.OpDelete:
			if !exists(ch.Record) {
				return fail(types.ErrRecordNotFound)
			}
			mark(ch.Record, false)
		default:
			return fail(fmt.Errorf("unknown operation %q", ch.Op))
		}
	}
	return nil
}

// Apply validates the whole batch, then applies it. If any change is
// rejected nothing is written and the error is a *types.ChangeError.
func (s *Store) Apply(changes []types.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(changes); err != nil {
		return err
	}
	for _, ch := range changes {
		ck := classKey(ch.Record.Class)
		switch ch.Op {
		case types.OpInsert, types.OpUpdate:
			recs, ok := s.classes[ck]
			if !ok {
				recs = make(map[string]types.Record)
				s.classes[ck] = recs
			}
			recs[ch.Record.Key] = ch.Record.Clone()
		case types.OpDelete:
			delete(s.classes[ck], ch.Record.Key)
		}
	}
	return nil
}

func (s *Store) counter(class string) *atomic.Int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	ck := classKey(class)
	c, ok := s.seqs[ck]
	if !ok {
		c = new(atomic.Int64)
		s.seqs[ck] = c
	}
	return c
}

// NextAutoIncrement returns the next value of the class counter, starting
// at 1.
func (s *Store) NextAutoIncrement(class string) (int64, error) {
	return s.counter(class).Add(1), nil
}

// SeedAutoIncrement raises the class counter to at least value, so the next
// value handed out is greater than value.
func (s *Store) SeedAutoIncrement(class string, value int64) {
	c := s.counter(class)
	for {
		cur := c.Load()
		if cur >= value || c.CompareAndSwap(cur, value) {
			return
		}
	}
}

// Counters returns the current value of every class counter.
func (s *Store) Counters() map[string]int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	out := make(map[string]int64, len(s.seqs))
	for class, c := range s.seqs {
		out[class] = c.Load()
	}
	return out
}

// Records returns every record ordered by class and key.
func (s *Store) Records() []types.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Record
	for _, recs := range s.classes {
		for _, rec := range recs {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b types.Record) int {
		if c := strings.Compare(a.Class, b.Class); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

// Reset removes every record and counter.
func (s *Store) Reset() {
	s.mu.Lock()
	clear(s.classes)
	s.mu.Unlock()

	s.seqMu.Lock()
	clear(s.seqs)
	s.seqMu.Unlock()
}
