// Package docs archives documents page by page and restores them in bulk
// batches.
package docs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kurakura967/go-elasticsearch-archiver/indices"
	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
	"github.com/kurakura967/go-elasticsearch-archiver/stats"
	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

const (
	DefaultPageSize      = 1000
	DefaultScrollTimeout = time.Minute
)

// GenerateOptions configures GenerateRecords.
type GenerateOptions struct {
	PageSize      int
	ScrollTimeout time.Duration
	// Query restricts the archived documents; nil archives all of them.
	Query map[string]interface{}
	// Renamer must match the one used for index records so documents
	// follow their index. It defaults to indices.DefaultRenamer.
	Renamer indices.Renamer
	Logger  logrus.FieldLogger
}

func (o GenerateOptions) withDefaults() GenerateOptions {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.ScrollTimeout <= 0 {
		o.ScrollTimeout = DefaultScrollTimeout
	}
	if o.Renamer.IsZero() {
		o.Renamer = indices.DefaultRenamer
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// GenerateRecords scrolls through every concrete index behind each name
// received on names and emits one DocumentRecord per document. Each
// concrete index is read once even when several names resolve to it. out
// is closed once names is closed.
func GenerateRecords(ctx context.Context, st store.Store, s *stats.Stats, names <-chan string, out chan<- record.Record, opts GenerateOptions) error {
	opts = opts.withDefaults()
	seen := map[string]bool{}

	for {
		name, ok, err := stream.Receive(ctx, names)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		resolved, err := st.ResolveIndices(ctx, name)
		if err != nil {
			return fmt.Errorf("resolving %q: %w", name, err)
		}
		if len(resolved) == 0 {
			opts.Logger.WithField("index", name).Warn("no index to archive documents from")
		}
		for _, index := range resolved {
			if seen[index] {
				continue
			}
			seen[index] = true
			if err := scrollIndex(ctx, st, s, index, out, opts); err != nil {
				return err
			}
		}
	}

	close(out)
	return nil
}

// scrollIndex emits the documents of one concrete index, holding one page
// at a time.
func scrollIndex(ctx context.Context, st store.Store, s *stats.Stats, index string, out chan<- record.Record, opts GenerateOptions) error {
	logger := opts.Logger.WithField("index", index)

	page, err := st.Search(ctx, store.SearchRequest{
		Index:     index,
		Query:     opts.Query,
		Size:      opts.PageSize,
		KeepAlive: opts.ScrollTimeout,
	})
	if err != nil {
		return fmt.Errorf("reading documents of %q: %w", index, err)
	}

	scrollID := page.ScrollID
	defer func() {
		if scrollID == "" {
			return
		}
		if err := st.ClearScroll(context.WithoutCancel(ctx), scrollID); err != nil {
			logger.WithError(err).Warn("failed to clear scroll")
		}
	}()

	count := 0
	for len(page.Hits) > 0 {
		for _, hit := range page.Hits {
			from := hit.Index
			if from == "" {
				from = index
			}
			source := hit.Source
			if source == nil {
				source = map[string]interface{}{}
			}
			doc := &record.DocumentRecord{
				Index:  opts.Renamer.Rename(from),
				Type:   hit.Type,
				ID:     hit.ID,
				Source: source,
			}
			if err := stream.Send(ctx, out, record.Record(doc)); err != nil {
				return err
			}
			s.ArchivedDoc(from)
			count++
		}

		page, err = st.Scroll(ctx, scrollID, opts.ScrollTimeout)
		if err != nil {
			return fmt.Errorf("reading documents of %q after %d documents: %w", index, count, err)
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}

	logger.WithField("docs", count).Info("archived documents")
	return nil
}
