package esarchiver

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kurakura967/go-elasticsearch-archiver/archive"
	"github.com/kurakura967/go-elasticsearch-archiver/docs"
	"github.com/kurakura967/go-elasticsearch-archiver/indices"
	"github.com/kurakura967/go-elasticsearch-archiver/internal/retry"
)

// Option configures the Archiver.
type Option func(*Archiver) error

// WithLogger sets the logger for progress and warnings.
// If not set, the logrus standard logger is used.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *Archiver) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		a.logger = logger
		return nil
	}
}

// WithCompression sets how archive data files are compressed on Save and
// Convert.
func WithCompression(level archive.CompressionLevel) Option {
	return func(a *Archiver) error {
		a.compression = level
		return nil
	}
}

// WithRenamer sets which system indices are saved under a canonical name.
func WithRenamer(r indices.Renamer) Option {
	return func(a *Archiver) error {
		a.renamer = r
		return nil
	}
}

// WithPageSize sets the number of documents read per scroll page.
func WithPageSize(n int) Option {
	return func(a *Archiver) error {
		if n <= 0 {
			return errors.New("page size must be positive")
		}
		a.pageSize = n
		return nil
	}
}

// WithScrollTimeout sets how long the cluster keeps a scroll open between
// pages.
func WithScrollTimeout(d time.Duration) Option {
	return func(a *Archiver) error {
		if d < 0 {
			return errors.New("scroll timeout must not be negative")
		}
		a.scrollTimeout = d
		return nil
	}
}

// WithQuery restricts the saved documents to those matching query, the body
// of a search "query" clause. Index definitions are saved regardless.
func WithQuery(query map[string]interface{}) Option {
	return func(a *Archiver) error {
		a.query = query
		return nil
	}
}

// WithBatchLimits bounds one bulk request by document count and encoded
// size. Zero keeps the default for that limit.
func WithBatchLimits(maxDocs, maxBytes int) Option {
	return func(a *Archiver) error {
		if maxDocs < 0 || maxBytes < 0 {
			return errors.New("batch limits must not be negative")
		}
		a.maxBatchDocs = maxDocs
		a.maxBatchBytes = maxBytes
		return nil
	}
}

// WithBulkRetry sets the retry policy for bulk requests that fail as a
// whole.
func WithBulkRetry(p retry.Policy) Option {
	return func(a *Archiver) error {
		a.bulkRetry = p
		return nil
	}
}

// WithIndexRetries sets the retry policies for recreating an index whose
// deletion has not finished, and for deleting an index that is being
// snapshotted.
func WithIndexRetries(create, del retry.Policy) Option {
	return func(a *Archiver) error {
		a.createRetry = create
		a.deleteRetry = del
		return nil
	}
}

// SkipExisting leaves indices that already exist untouched on Load. Their
// archived documents are dropped.
func SkipExisting() Option {
	return func(a *Archiver) error {
		a.skipExisting = true
		return nil
	}
}

// UseCreate writes documents with the bulk create action, so a document
// that already exists is rejected rather than overwritten.
func UseCreate() Option {
	return func(a *Archiver) error {
		a.useCreate = true
		return nil
	}
}

// WithoutRefresh skips the refresh of restored indices at the end of Load.
func WithoutRefresh() Option {
	return func(a *Archiver) error {
		a.refresh = false
		return nil
	}
}

// OnReject registers fn to be called for every document the store rejects.
func OnReject(fn func(*docs.DocumentRejectedError)) Option {
	return func(a *Archiver) error {
		a.onReject = fn
		return nil
	}
}
