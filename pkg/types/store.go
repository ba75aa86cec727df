package types

import (
	"fmt"

	"github.com/mesh-intelligence/larder/pkg/criteria"
)

// Record is the unit a DataStore holds: a snapshot of one object's persisted
// property values, indexed by class and primary key. Values are in canonical
// form (string, int64, float64, bool, time.Time, uuid.UUID, or nil).
type Record struct {
	Class  string         `json:"class"`
	Key    string         `json:"key"`
	Values map[string]any `json:"values"`
}

var _ criteria.Source = Record{}

// PropertyValue returns the named value. An exact match is tried first, then
// a case-insensitive one.
func (r Record) PropertyValue(name string) (any, error) {
	if v, ok := r.Values[name]; ok {
		return v, nil
	}
	folded := FoldName(name)
	for k, v := range r.Values {
		if FoldName(k) == folded {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%s.%s: %w", r.Class, name, ErrUnknownProperty)
}

// Clone returns a copy whose Values map is independent of r's.
func (r Record) Clone() Record {
	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Record{Class: r.Class, Key: r.Key, Values: values}
}

// ChangeOp names the kind of write in a Change.
type ChangeOp string

// Change operations.
const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is one write in a batch passed to DataStore.Apply.
type Change struct {
	Op     ChangeOp
	Record Record
}

// Page selects a window of an ordered result. First is the zero-based index
// of the first record; Limit of zero means no limit.
type Page struct {
	First int
	Limit int
}

// CommitResult counts the writes a committed unit of work performed.
type CommitResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
}

// DataStore is the persistence boundary of the runtime. Implementations must
// be safe for concurrent use; results are snapshots the caller may keep.
type DataStore interface {
	// Find returns the record with the given key. The boolean is false when
	// no such record exists.
	Find(class, key string) (Record, bool, error)

	// FindOne returns the single record of class matching c. The boolean is
	// false on zero matches; more than one match returns ErrAmbiguousMatch.
	FindOne(class string, c criteria.Criteria) (Record, bool, error)

	// FindAll returns the records of class matching c, sorted by order and
	// windowed by page. A negative page.First returns ErrIndexOutOfRange; a
	// page.First beyond the match count returns an empty slice.
	FindAll(class string, c criteria.Criteria, order criteria.OrderBy, page Page) ([]Record, error)

	// Count returns the number of records of class matching c.
	Count(class string, c criteria.Criteria) (int, error)

	// Insert adds a record. Returns ErrDuplicateIdentity if the key exists.
	Insert(rec Record) error

	// Update replaces a record. Returns ErrRecordNotFound if absent.
	Update(rec Record) error

	// Remove deletes a record. Returns ErrRecordNotFound if absent.
	Remove(class, key string) error

	// Apply performs a batch of changes atomically: either every change is
	// applied or none is. A rejected change is reported as *ChangeError.
	Apply(changes []Change) error

	// NextAutoIncrement returns the next value of the per-class counter.
	NextAutoIncrement(class string) (int64, error)
}
