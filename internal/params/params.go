// Package params keeps an editable set of named, typed sketch parameters
// reconciled against the declarations the server prints while re-running a
// sketch. It is pure data; terminal widgets are bound by the app layer.
package params

import (
	"math/rand"
	"strconv"
	"strings"
)

// WidgetKind selects the editing affordance for a parameter.
type WidgetKind int

const (
	// KindText is a free-text editor. Seed parameters always get this so
	// their values survive beyond integer-editing precision.
	KindText WidgetKind = iota
	// KindInt is a numeric editor stepping by 1.
	KindInt
	// KindFloat is a numeric editor stepping by 0.1.
	KindFloat
)

// An Entry is one editable parameter. Value is string-encoded whether it
// came from the scanner, the user, or the randomizer.
type Entry struct {
	Name  string
	Type  string
	Value string

	// used marks the entry as re-confirmed in the current generation.
	// Only Set methods touch it.
	used bool
}

// Kind returns the widget kind for this entry's name and type tag.
func (e *Entry) Kind() WidgetKind {
	return KindFor(e.Name, e.Type)
}

// Seed reports whether this entry follows the random-seed naming convention.
func (e *Entry) Seed() bool {
	return IsSeedName(e.Name)
}

// KindFor implements the widget selection policy: numeric editing for type
// tags carrying a 32- or 64-bit size marker, fractional stepping for
// float-like tags, and free text for everything else. Seed-named parameters
// are always free text regardless of type.
func KindFor(name, typ string) WidgetKind {
	if IsSeedName(name) {
		return KindText
	}
	if !strings.Contains(typ, "32") && !strings.Contains(typ, "64") {
		return KindText
	}
	if strings.HasPrefix(typ, "f") {
		return KindFloat
	}
	return KindInt
}

// Step returns the increment granularity for a widget kind. Text widgets
// have no stepping and return 0.
func Step(kind WidgetKind) float64 {
	switch kind {
	case KindInt:
		return 1
	case KindFloat:
		return 0.1
	default:
		return 0
	}
}

// IsSeedName reports whether a parameter name marks it as a randomization
// seed.
func IsSeedName(name string) bool {
	return strings.Contains(name, "SEED")
}

// RandomSeedValue draws a seed value uniformly from [0, 1_000_000_000).
func RandomSeedValue() string {
	return strconv.Itoa(rand.Intn(1_000_000_000))
}

// A Set owns the full parameter collection, ordered by first insertion.
// Name is a unique key: at most one live entry per name.
type Set struct {
	order  []string
	byName map[string]*Entry
}

func NewSet() *Set {
	return &Set{byName: map[string]*Entry{}}
}

// Insert registers a scanned declaration. A previously-unseen name creates
// an entry; an existing one has its type and value refreshed in place.
// Either way the entry leaves marked used for the current generation.
// The return value tells the caller whether a new UI binding is needed.
func (s *Set) Insert(name, typ, value string) (created bool) {
	if entry, ok := s.byName[name]; ok {
		entry.Type = typ
		entry.Value = value
		entry.used = true
		return false
	}
	entry := &Entry{Name: name, Type: typ, Value: value, used: true}
	s.byName[name] = entry
	s.order = append(s.order, name)
	return true
}

// SetValue overwrites an entry's value on the user-edit path. It does not
// touch used: edits only influence what a future generation redeclares.
func (s *Set) SetValue(name, value string) bool {
	entry, ok := s.byName[name]
	if !ok {
		return false
	}
	entry.Value = value
	return true
}

// Sweep garbage-collects entries not re-declared since the previous sweep.
// Retained entries have used reset to false, so an entry must be
// re-declared in every generation to survive the sweep after the one
// following its last appearance. Removed names are returned so the caller
// can tear down their UI bindings.
func (s *Set) Sweep() (removed []string) {
	retained := s.order[:0]
	for _, name := range s.order {
		entry := s.byName[name]
		if entry.used {
			entry.used = false
			retained = append(retained, name)
			continue
		}
		delete(s.byName, name)
		removed = append(removed, name)
	}
	s.order = retained
	return removed
}

// Get returns the live entry for name, if any.
func (s *Set) Get(name string) (*Entry, bool) {
	entry, ok := s.byName[name]
	return entry, ok
}

// Entries returns the live entries in insertion order.
func (s *Set) Entries() []*Entry {
	entries := make([]*Entry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, s.byName[name])
	}
	return entries
}

// Len returns the number of live entries.
func (s *Set) Len() int {
	return len(s.order)
}

// Values collects name→value for every entry with a non-empty value.
// Empty values are omitted, meaning "use the sketch default".
func (s *Set) Values() map[string]string {
	values := make(map[string]string, len(s.order))
	for _, name := range s.order {
		entry := s.byName[name]
		if strings.TrimSpace(entry.Value) == "" {
			continue
		}
		values[name] = entry.Value
	}
	return values
}
