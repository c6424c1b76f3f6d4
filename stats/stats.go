// Package stats accumulates what an archive, restore or unload run did to
// each index it touched.
package stats

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// DocStats counts document operations for a single index.
type DocStats struct {
	Archived int `json:"archived"`
	Indexed  int `json:"indexed"`
	Rejected int `json:"rejected"`
}

// IndexStats is the per-index entry of a run.
type IndexStats struct {
	Skipped  bool     `json:"skipped"`
	Deleted  bool     `json:"deleted"`
	Created  bool     `json:"created"`
	Archived bool     `json:"archived"`
	Docs     DocStats `json:"docs"`
}

// Totals are the run-wide counters. They only ever increase.
type Totals struct {
	ArchivedIndex int `json:"archivedIndex"`
	ArchivedDoc   int `json:"archivedDoc"`
	CreatedIndex  int `json:"createdIndex"`
	DeletedIndex  int `json:"deletedIndex"`
	SkippedIndex  int `json:"skippedIndex"`
	IndexedDoc    int `json:"indexedDoc"`
	RejectedDoc   int `json:"rejectedDoc"`
}

// Stats is scoped to one run. Stages of a pipeline overlap in time, so every
// method is safe for concurrent use.
type Stats struct {
	mu      sync.Mutex
	indices map[string]*IndexStats
	totals  Totals
}

// New returns an empty Stats.
func New() *Stats {
	return &Stats{indices: make(map[string]*IndexStats)}
}

func (s *Stats) entry(index string) *IndexStats {
	e, ok := s.indices[index]
	if !ok {
		e = &IndexStats{}
		s.indices[index] = e
	}
	return e
}

func (s *Stats) SkippedIndex(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(index).Skipped = true
	s.totals.SkippedIndex++
}

func (s *Stats) DeletedIndex(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(index).Deleted = true
	s.totals.DeletedIndex++
}

func (s *Stats) CreatedIndex(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(index).Created = true
	s.totals.CreatedIndex++
}

func (s *Stats) ArchivedIndex(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(index).Archived = true
	s.totals.ArchivedIndex++
}

func (s *Stats) ArchivedDoc(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(index).Docs.Archived++
	s.totals.ArchivedDoc++
}

// IndexedDocs records n documents accepted by the store for index.
func (s *Stats) IndexedDocs(index string, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(index).Docs.Indexed += n
	s.totals.IndexedDoc += n
}

func (s *Stats) RejectedDoc(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(index).Docs.Rejected++
	s.totals.RejectedDoc++
}

// Totals returns a snapshot of the run-wide counters.
func (s *Stats) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// Index returns a copy of the entry for index and whether it exists.
func (s *Stats) Index(index string) (IndexStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.indices[index]
	if !ok {
		return IndexStats{}, false
	}
	return *e, true
}

// ForEachIndex calls fn for every index in name order.
func (s *Stats) ForEachIndex(fn func(name string, st IndexStats)) {
	s.mu.Lock()
	names := make([]string, 0, len(s.indices))
	snapshot := make(map[string]IndexStats, len(s.indices))
	for name, e := range s.indices {
		names = append(names, name)
		snapshot[name] = *e
	}
	s.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		fn(name, snapshot[name])
	}
}

// Log writes one line per index plus a summary line.
func (s *Stats) Log(logger logrus.FieldLogger) {
	s.ForEachIndex(func(name string, st IndexStats) {
		logger.WithFields(logrus.Fields{
			"index":        name,
			"archived":     st.Archived,
			"created":      st.Created,
			"deleted":      st.Deleted,
			"skipped":      st.Skipped,
			"docsArchived": st.Docs.Archived,
			"docsIndexed":  st.Docs.Indexed,
			"docsRejected": st.Docs.Rejected,
		}).Debug("index summary")
	})

	t := s.Totals()
	logger.WithFields(logrus.Fields{
		"archivedIndex": t.ArchivedIndex,
		"archivedDoc":   t.ArchivedDoc,
		"createdIndex":  t.CreatedIndex,
		"deletedIndex":  t.DeletedIndex,
		"skippedIndex":  t.SkippedIndex,
		"indexedDoc":    t.IndexedDoc,
		"rejectedDoc":   t.RejectedDoc,
	}).Info("run summary")
}
