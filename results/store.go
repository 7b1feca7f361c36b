// Package results keeps exactly one terminal outcome per phone number for a run
// and derives every read view (ordering, bank grouping, counts, search) from it.
package results

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/input"
	"github.com/teranos/upilookup/lookup"
)

// Entry is one recorded outcome.
type Entry struct {
	PhoneNumber   string         `json:"phone_number"`
	SequenceIndex int            `json:"sequence_index"`
	Outcome       lookup.Outcome `json:"outcome"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

// BankName returns the bank for a successful entry, or "" otherwise.
func (e Entry) BankName() string {
	if e.Outcome.Kind != lookup.KindSuccess || e.Outcome.Record == nil {
		return ""
	}
	return e.Outcome.Record.BankName
}

// BankGroup is the successful entries for one bank.
type BankGroup struct {
	Bank    string  `json:"bank"`
	Entries []Entry `json:"entries"`
}

// BankCount is one row of the bank distribution.
type BankCount struct {
	Bank  string `json:"bank"`
	Count int    `json:"count"`
}

// Counts tallies entries by outcome kind.
type Counts struct {
	Total     int `json:"total"`
	Success   int `json:"success"`
	NotFound  int `json:"not_found"`
	Transient int `json:"transient_error"`
	Fatal     int `json:"fatal_error"`
	Cancelled int `json:"cancelled"`
}

// Failures returns the number of entries that count as failed lookups.
func (c Counts) Failures() int {
	return c.NotFound + c.Transient + c.Fatal
}

// Store holds the outcomes of one run. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	byPhone map[string]int // phone -> index into entries
	entries []Entry        // completion order
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byPhone: make(map[string]int),
		now:     time.Now,
	}
}

// Record stores the outcome for item. A second outcome for the same phone
// number is rejected with ErrDuplicateOutcome.
func (s *Store) Record(item input.WorkItem, outcome lookup.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPhone[item.PhoneNumber]; exists {
		return errors.Wrapf(errors.ErrDuplicateOutcome, "phone %s already has an outcome", item.PhoneNumber)
	}

	s.byPhone[item.PhoneNumber] = len(s.entries)
	s.entries = append(s.entries, Entry{
		PhoneNumber:   item.PhoneNumber,
		SequenceIndex: item.SequenceIndex,
		Outcome:       outcome,
		RecordedAt:    s.now(),
	})
	return nil
}

// Get returns the entry for phone.
func (s *Store) Get(phone string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byPhone[phone]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Len returns the number of recorded entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns entries in completion order.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// BySequence returns entries in input order.
func (s *Store) BySequence() []Entry {
	out := s.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SequenceIndex < out[j].SequenceIndex
	})
	return out
}

// ByKind returns entries with any of kinds, in completion order.
func (s *Store) ByKind(kinds ...lookup.OutcomeKind) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[lookup.OutcomeKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	var out []Entry
	for _, e := range s.entries {
		if want[e.Outcome.Kind] {
			out = append(out, e)
		}
	}
	return out
}

// ByBank returns successful entries for bank, in completion order.
func (s *Store) ByBank(bank string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.BankName() == bank {
			out = append(out, e)
		}
	}
	return out
}

// GroupByBank groups successful entries by bank. Banks appear in the order
// of their first success.
func (s *Store) GroupByBank() []BankGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := make(map[string]int)
	var groups []BankGroup
	for _, e := range s.entries {
		bank := e.BankName()
		if bank == "" {
			continue
		}
		i, ok := index[bank]
		if !ok {
			i = len(groups)
			index[bank] = i
			groups = append(groups, BankGroup{Bank: bank})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}

// BankDistribution returns success counts per bank, most common first.
// Ties keep first-success order.
func (s *Store) BankDistribution() []BankCount {
	groups := s.GroupByBank()
	out := make([]BankCount, len(groups))
	for i, g := range groups {
		out[i] = BankCount{Bank: g.Bank, Count: len(g.Entries)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

// Counts tallies entries by kind.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Counts{Total: len(s.entries)}
	for _, e := range s.entries {
		switch e.Outcome.Kind {
		case lookup.KindSuccess:
			c.Success++
		case lookup.KindNotFound:
			c.NotFound++
		case lookup.KindTransient:
			c.Transient++
		case lookup.KindFatal:
			c.Fatal++
		case lookup.KindCancelled:
			c.Cancelled++
		}
	}
	return c
}

// Search returns entries whose phone number, account holder, bank or UPI id
// contains term, case-insensitively. An empty term matches everything.
func (s *Store) Search(term string) []Entry {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return s.All()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if strings.Contains(searchText(e), term) {
			out = append(out, e)
		}
	}
	return out
}

func searchText(e Entry) string {
	parts := []string{e.PhoneNumber}
	if r := e.Outcome.Record; r != nil {
		parts = append(parts, r.AccountHolderName, r.BankName, r.UpiID)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Reset discards every entry.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byPhone = make(map[string]int)
	s.entries = nil
}
