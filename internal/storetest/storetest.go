// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

// Index is the state of one in-memory index.
type Index struct {
	Settings map[string]interface{}
	Mappings map[string]interface{}
	Aliases  map[string]interface{}
	Docs     map[string]map[string]interface{}

	order []string
}

func (i *Index) put(id string, source map[string]interface{}) {
	if _, ok := i.Docs[id]; !ok {
		i.order = append(i.order, id)
	}
	i.Docs[id] = source
}

// Store is a concurrency-safe fake cluster. Calls to every method are
// counted, and errors can be queued per method with FailNext.
type Store struct {
	// Reject, if set, is consulted for every bulk item; a non-nil cause
	// rejects the item with status 400.
	Reject func(item store.BulkItem) *store.ErrorCause
	// Throttle, if set, is consulted before Reject; true answers the item
	// with 429 as a cluster under write pressure does.
	Throttle func(item store.BulkItem) bool

	mu       sync.Mutex
	indices  map[string]*Index
	scrolls  map[string][]store.Hit
	pageSize map[string]int
	nextID   int
	failures map[string][]error
	calls    map[string]int
	cleared  []string
	searches []store.SearchRequest
	batches  [][]store.BulkItem
	refresh  [][]string
}

func New() *Store {
	return &Store{
		indices:  map[string]*Index{},
		scrolls:  map[string][]store.Hit{},
		pageSize: map[string]int{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

// NotFound returns the error the cluster reports for a missing index.
func NotFound(name string) error {
	return &store.ResponseError{
		Status:     http.StatusNotFound,
		ErrorCause: store.ErrorCause{Type: "index_not_found_exception", Reason: "no such index [" + name + "]"},
	}
}

// AlreadyExists returns the error the cluster reports when creating an
// index that exists.
func AlreadyExists(name string) error {
	return &store.ResponseError{
		Status:     http.StatusBadRequest,
		ErrorCause: store.ErrorCause{Type: "resource_already_exists_exception", Reason: "index [" + name + "] already exists"},
	}
}

// SnapshotInProgress returns the error the cluster reports when deleting an
// index that is being snapshotted.
func SnapshotInProgress(name string) error {
	return &store.ResponseError{
		Status:     http.StatusBadRequest,
		ErrorCause: store.ErrorCause{Type: "snapshot_in_progress_exception", Reason: "Cannot delete indices that are being snapshotted: [" + name + "]"},
	}
}

// Unavailable returns a 503.
func Unavailable() error {
	return &store.ResponseError{
		Status:     http.StatusServiceUnavailable,
		ErrorCause: store.ErrorCause{Type: "unavailable_shards_exception", Reason: "primary shard is not active"},
	}
}

// AddIndex creates or replaces an index.
func (s *Store) AddIndex(name string, settings, mappings, aliases map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[name] = newIndex(settings, mappings, aliases)
}

func newIndex(settings, mappings, aliases map[string]interface{}) *Index {
	if aliases == nil {
		aliases = map[string]interface{}{}
	}
	return &Index{
		Settings: copyMap(settings),
		Mappings: copyMap(mappings),
		Aliases:  copyMap(aliases),
		Docs:     map[string]map[string]interface{}{},
	}
}

// AddDocument stores a document, creating an empty index if needed.
func (s *Store) AddDocument(index, id string, source map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[index]
	if !ok {
		idx = newIndex(nil, nil, nil)
		s.indices[index] = idx
	}
	idx.put(id, copyMap(source))
}

// Index returns a copy of the named index.
func (s *Store) Index(name string) (Index, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		return Index{}, false
	}
	docs := make(map[string]map[string]interface{}, len(idx.Docs))
	for id, src := range idx.Docs {
		docs[id] = copyMap(src)
	}
	return Index{
		Settings: copyMap(idx.Settings),
		Mappings: copyMap(idx.Mappings),
		Aliases:  copyMap(idx.Aliases),
		Docs:     docs,
		order:    append([]string(nil), idx.order...),
	}, true
}

// IndexNames returns the sorted names of all indices.
func (s *Store) IndexNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailNext queues errors returned by the next calls of method, one per call.
func (s *Store) FailNext(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], errs...)
}

// Calls returns how often method was called.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// ClearedScrolls returns the scroll ids passed to ClearScroll.
func (s *Store) ClearedScrolls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cleared...)
}

// Searches returns every search request received.
func (s *Store) Searches() []store.SearchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.SearchRequest(nil), s.searches...)
}

// Batches returns the items of every bulk request received, including
// failed ones.
func (s *Store) Batches() [][]store.BulkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]store.BulkItem(nil), s.batches...)
}

// Refreshed returns the names passed to every Refresh call.
func (s *Store) Refreshed() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.refresh...)
}

// call records a call to method and pops a queued failure. s.mu must be held.
func (s *Store) call(method string) error {
	s.calls[method]++
	queue := s.failures[method]
	if len(queue) == 0 {
		return nil
	}
	s.failures[method] = queue[1:]
	return queue[0]
}

// resolve returns the sorted concrete indices matched by an index name,
// alias or wildcard pattern. s.mu must be held.
func (s *Store) resolve(nameOrAlias string) []string {
	var names []string
	for name, idx := range s.indices {
		if ok, _ := path.Match(nameOrAlias, name); ok {
			names = append(names, name)
			continue
		}
		for alias := range idx.Aliases {
			if ok, _ := path.Match(nameOrAlias, alias); ok {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

func (s *Store) GetIndices(_ context.Context, nameOrAlias string) (map[string]store.IndexMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("GetIndices"); err != nil {
		return nil, err
	}

	names := s.resolve(nameOrAlias)
	if len(names) == 0 {
		return nil, NotFound(nameOrAlias)
	}
	out := make(map[string]store.IndexMetadata, len(names))
	for _, name := range names {
		idx := s.indices[name]
		out[name] = store.IndexMetadata{Settings: copyMap(idx.Settings), Mappings: copyMap(idx.Mappings)}
	}
	return out, nil
}

func (s *Store) GetAliases(_ context.Context, index string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("GetAliases"); err != nil {
		return nil, err
	}

	idx, ok := s.indices[index]
	if !ok {
		return nil, NotFound(index)
	}
	return copyMap(idx.Aliases), nil
}

func (s *Store) ResolveIndices(_ context.Context, nameOrAlias string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("ResolveIndices"); err != nil {
		return nil, err
	}
	return s.resolve(nameOrAlias), nil
}

func (s *Store) DeleteIndices(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("DeleteIndices"); err != nil {
		return err
	}
	for _, name := range names {
		delete(s.indices, name)
	}
	return nil
}

func (s *Store) CreateIndex(_ context.Context, name string, settings, mappings map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("CreateIndex"); err != nil {
		return err
	}
	if _, ok := s.indices[name]; ok {
		return AlreadyExists(name)
	}
	s.indices[name] = newIndex(settings, mappings, nil)
	return nil
}

func (s *Store) PutAliases(_ context.Context, index string, aliases map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("PutAliases"); err != nil {
		return err
	}
	idx, ok := s.indices[index]
	if !ok {
		return NotFound(index)
	}
	for name, opts := range aliases {
		idx.Aliases[name] = opts
	}
	return nil
}

func (s *Store) Bulk(_ context.Context, items []store.BulkItem) ([]store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]store.BulkItem(nil), items...))
	if err := s.call("Bulk"); err != nil {
		return nil, err
	}

	results := make([]store.BulkResult, len(items))
	for i, item := range items {
		results[i] = s.apply(item)
	}
	return results, nil
}

// apply performs one bulk item. s.mu must be held.
func (s *Store) apply(item store.BulkItem) store.BulkResult {
	res := store.BulkResult{Index: item.Index, ID: item.ID, Status: http.StatusCreated}
	if s.Throttle != nil && s.Throttle(item) {
		res.Status = http.StatusTooManyRequests
		res.Error = &store.ErrorCause{
			Type:   "es_rejected_execution_exception",
			Reason: "rejected execution of coordinating operation",
		}
		return res
	}
	if s.Reject != nil {
		if cause := s.Reject(item); cause != nil {
			res.Status = http.StatusBadRequest
			res.Error = cause
			return res
		}
	}

	var source map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(item.Source))
	dec.UseNumber()
	if err := dec.Decode(&source); err != nil {
		res.Status = http.StatusBadRequest
		res.Error = &store.ErrorCause{Type: "mapper_parsing_exception", Reason: err.Error()}
		return res
	}

	idx, ok := s.indices[item.Index]
	if !ok {
		idx = newIndex(nil, nil, nil)
		s.indices[item.Index] = idx
	}
	if res.ID == "" {
		s.nextID++
		res.ID = "auto-" + strconv.Itoa(s.nextID)
	}
	if _, exists := idx.Docs[res.ID]; exists {
		if item.Action == store.ActionCreate {
			res.Status = http.StatusConflict
			res.Error = &store.ErrorCause{
				Type:   "version_conflict_engine_exception",
				Reason: fmt.Sprintf("[%s]: version conflict, document already exists", res.ID),
			}
			return res
		}
		res.Status = http.StatusOK
	}
	idx.put(res.ID, source)
	return res
}

func (s *Store) Search(_ context.Context, req store.SearchRequest) (*store.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, req)
	if err := s.call("Search"); err != nil {
		return nil, err
	}

	names := s.resolve(req.Index)
	if len(names) == 0 {
		return nil, NotFound(req.Index)
	}

	var hits []store.Hit
	for _, name := range names {
		idx := s.indices[name]
		for _, id := range idx.order {
			if src, ok := idx.Docs[id]; ok {
				hits = append(hits, store.Hit{Index: name, ID: id, Source: copyMap(src)})
			}
		}
	}

	s.nextID++
	scrollID := "scroll-" + strconv.Itoa(s.nextID)
	s.scrolls[scrollID] = hits
	s.pageSize[scrollID] = req.Size
	return s.nextPage(scrollID), nil
}

// nextPage pops the next page of a scroll. s.mu must be held.
func (s *Store) nextPage(scrollID string) *store.Page {
	hits := s.scrolls[scrollID]
	n := s.pageSize[scrollID]
	if n <= 0 || n > len(hits) {
		n = len(hits)
	}
	s.scrolls[scrollID] = hits[n:]
	return &store.Page{ScrollID: scrollID, Hits: hits[:n:n]}
}

func (s *Store) Scroll(_ context.Context, scrollID string, _ time.Duration) (*store.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Scroll"); err != nil {
		return nil, err
	}
	if _, ok := s.scrolls[scrollID]; !ok {
		return nil, &store.ResponseError{
			Status:     http.StatusNotFound,
			ErrorCause: store.ErrorCause{Type: "search_context_missing_exception", Reason: "No search context found for id [" + scrollID + "]"},
		}
	}
	return s.nextPage(scrollID), nil
}

func (s *Store) ClearScroll(_ context.Context, scrollID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, scrollID)
	if err := s.call("ClearScroll"); err != nil {
		return err
	}
	delete(s.scrolls, scrollID)
	delete(s.pageSize, scrollID)
	return nil
}

func (s *Store) Refresh(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = append(s.refresh, append([]string(nil), names...))
	return s.call("Refresh")
}

var _ store.Store = (*Store)(nil)

// copyMap deep-copies nested maps and slices so callers never share state
// with the fake.
func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		return copyMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// IDs returns the document ids in insertion order.
func (i Index) IDs() []string {
	ids := make([]string, 0, len(i.order))
	for _, id := range i.order {
		if _, ok := i.Docs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
