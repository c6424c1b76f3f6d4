package docs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kurakura967/go-elasticsearch-archiver/internal/retry"
	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
	"github.com/kurakura967/go-elasticsearch-archiver/stats"
	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

const (
	DefaultMaxBatchDocs  = 1000
	DefaultMaxBatchBytes = 5 << 20
)

// DefaultRetry is the bulk retry policy used when WriteOptions.Retry is zero.
var DefaultRetry = retry.Policy{Retries: 5, Interval: 500 * time.Millisecond, MaxInterval: 30 * time.Second}

// DocumentRejectedError describes one document the store refused. It is
// counted and reported, never returned.
type DocumentRejectedError struct {
	Index  string
	ID     string
	Status int
	Cause  store.ErrorCause
}

func (e *DocumentRejectedError) Error() string {
	return fmt.Sprintf("document %q of %q rejected [%d]: %s: %s", e.ID, e.Index, e.Status, e.Cause.Type, e.Cause.Reason)
}

// BulkTransportError is returned when a whole batch could not be written.
type BulkTransportError struct {
	Docs     int
	Attempts int
	Err      error
}

func (e *BulkTransportError) Error() string {
	return fmt.Sprintf("writing batch of %d documents failed after %d attempts: %v", e.Docs, e.Attempts, e.Err)
}

func (e *BulkTransportError) Unwrap() error { return e.Err }

// WriteOptions configures Write.
type WriteOptions struct {
	// MaxBatchDocs and MaxBatchBytes bound one bulk request; a batch is
	// sent as soon as either is reached.
	MaxBatchDocs  int
	MaxBatchBytes int
	// Retry applies to transport failures, 429 and 5xx responses, and to
	// the documents of a batch the store answers with 429.
	Retry retry.Policy
	// UseCreate writes with the create action, so documents that already
	// exist are rejected instead of overwritten.
	UseCreate bool
	// OnReject, if set, is called for every rejected document.
	OnReject func(*DocumentRejectedError)
	Logger   logrus.FieldLogger
}

func (o WriteOptions) withDefaults() WriteOptions {
	if o.MaxBatchDocs <= 0 {
		o.MaxBatchDocs = DefaultMaxBatchDocs
	}
	if o.MaxBatchBytes <= 0 {
		o.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if o.Retry == (retry.Policy{}) {
		o.Retry = DefaultRetry
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Write sends every DocumentRecord received on in to the store in bulk
// batches and returns once in is closed and the last batch is written.
// Index records are ignored.
func Write(ctx context.Context, st store.Store, s *stats.Stats, in <-chan record.Record, opts WriteOptions) error {
	w := &writer{st: st, stats: s, opts: opts.withDefaults()}

	for {
		r, ok, err := stream.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		doc, isDoc := r.(*record.DocumentRecord)
		if !isDoc {
			continue
		}
		if err := w.add(ctx, doc); err != nil {
			return err
		}
	}

	return w.flush(ctx)
}

type writer struct {
	st    store.Store
	stats *stats.Stats
	opts  WriteOptions
	batch []store.BulkItem
	size  int
}

func (w *writer) add(ctx context.Context, doc *record.DocumentRecord) error {
	source := doc.Source
	if source == nil {
		source = map[string]interface{}{}
	}
	body, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("encoding document %q of %q: %w", doc.ID, doc.Index, err)
	}

	item := store.BulkItem{Action: store.ActionIndex, Index: doc.Index, ID: doc.ID, Source: body}
	if w.opts.UseCreate {
		item.Action = store.ActionCreate
	}
	size := item.EncodedSize()

	if len(w.batch) > 0 && w.size+size > w.opts.MaxBatchBytes {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}

	w.batch = append(w.batch, item)
	w.size += size

	if len(w.batch) >= w.opts.MaxBatchDocs || w.size >= w.opts.MaxBatchBytes {
		return w.flush(ctx)
	}
	return nil
}

// ThrottledError is the last per-item 429 answer of a batch whose throttled
// documents were still throttled when the retry policy ran out.
type ThrottledError struct {
	Docs  int
	Cause store.ErrorCause
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%d documents throttled: %s: %s", e.Docs, e.Cause.Type, e.Cause.Reason)
}

// flush writes the batch. Items answered with 429 are sent again under the
// same retry policy; only what the store accepts or refuses for good is
// counted.
func (w *writer) flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	logger := w.opts.Logger.WithFields(logrus.Fields{"docs": len(w.batch), "bytes": w.size})

	pending := w.batch
	attempts := 0
	err := w.opts.Retry.Do(ctx, func() error {
		attempts++
		results, err := w.st.Bulk(ctx, pending)
		if err != nil {
			if !store.IsTransient(err) {
				return retry.Permanent(err)
			}
			return err
		}

		throttled, cause := w.record(pending, results)
		if len(throttled) > 0 {
			pending = throttled
			return &ThrottledError{Docs: len(throttled), Cause: cause}
		}
		return nil
	}, func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{"attempt": attempts, "wait": wait}).Warn("retrying bulk request")
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &BulkTransportError{Docs: len(pending), Attempts: attempts, Err: err}
	}
	logger.Debug("wrote batch")

	w.batch = w.batch[:0]
	w.size = 0
	return nil
}

// record counts the results of one bulk request for items and returns the
// items the store throttled, with the cause of the last one.
func (w *writer) record(items []store.BulkItem, results []store.BulkResult) ([]store.BulkItem, store.ErrorCause) {
	var (
		throttled []store.BulkItem
		cause     store.ErrorCause
	)
	indexed := map[string]int{}
	for i, res := range results {
		index := res.Index
		if index == "" {
			index = items[i].Index
		}
		if res.Error == nil {
			indexed[index]++
			continue
		}
		if res.Status == http.StatusTooManyRequests {
			throttled = append(throttled, items[i])
			cause = *res.Error
			continue
		}

		rejected := &DocumentRejectedError{Index: index, ID: res.ID, Status: res.Status, Cause: *res.Error}
		w.stats.RejectedDoc(index)
		w.opts.Logger.WithFields(logrus.Fields{"index": index, "id": res.ID}).WithError(rejected).Warn("document rejected")
		if w.opts.OnReject != nil {
			w.opts.OnReject(rejected)
		}
	}
	for index, n := range indexed {
		w.stats.IndexedDocs(index, n)
	}
	return throttled, cause
}
