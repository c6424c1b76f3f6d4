// Package store is the boundary between the archiver and the search cluster.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the set of cluster operations the archive and restore pipelines
// need.
type Store interface {
	// GetIndices returns settings and mappings of every concrete index
	// matched by nameOrAlias, keyed by concrete index name.
	GetIndices(ctx context.Context, nameOrAlias string) (map[string]IndexMetadata, error)
	// GetAliases returns the aliases of a concrete index.
	GetAliases(ctx context.Context, index string) (map[string]interface{}, error)
	// ResolveIndices returns the concrete indices behind nameOrAlias, or
	// nothing when it does not exist.
	ResolveIndices(ctx context.Context, nameOrAlias string) ([]string, error)
	DeleteIndices(ctx context.Context, names []string) error
	CreateIndex(ctx context.Context, name string, settings, mappings map[string]interface{}) error
	// PutAliases points every alias in aliases at index. Alias values hold
	// alias options such as filter or routing.
	PutAliases(ctx context.Context, index string, aliases map[string]interface{}) error
	// Bulk writes items in one request and reports the outcome of each.
	Bulk(ctx context.Context, items []BulkItem) ([]BulkResult, error)
	// Search opens a scroll over req.Index and returns its first page.
	Search(ctx context.Context, req SearchRequest) (*Page, error)
	Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*Page, error)
	ClearScroll(ctx context.Context, scrollID string) error
	Refresh(ctx context.Context, names []string) error
}

// IndexMetadata is the portable definition of a concrete index.
type IndexMetadata struct {
	Settings map[string]interface{} `json:"settings"`
	Mappings map[string]interface{} `json:"mappings"`
}

// SearchRequest opens a scroll.
type SearchRequest struct {
	Index string
	// Query is the body of the "query" clause; nil matches everything.
	Query     map[string]interface{}
	Size      int
	KeepAlive time.Duration
}

// Hit is one document of a page.
type Hit struct {
	Index  string                 `json:"_index"`
	Type   string                 `json:"_type,omitempty"`
	ID     string                 `json:"_id"`
	Source map[string]interface{} `json:"_source"`
}

// Page is one batch of scroll results. An empty page ends the scroll.
type Page struct {
	ScrollID string
	Hits     []Hit
}

// BulkAction is the bulk API operation used for a document.
type BulkAction string

const (
	ActionIndex  BulkAction = "index"
	ActionCreate BulkAction = "create"
)

// BulkItem is one document of a bulk request. Source is the serialized
// document body.
type BulkItem struct {
	Action BulkAction
	Index  string
	ID     string
	Source json.RawMessage
}

// BulkResult is the store's answer for one BulkItem.
type BulkResult struct {
	Index  string
	ID     string
	Status int
	// Error is nil when the item was accepted.
	Error *ErrorCause
}

// ErrorCause is the type and reason the cluster gives for a failure.
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
