// Package esarchiver saves Elasticsearch indices (settings, mappings, aliases
// and documents) to an archive and restores them from it.
//
// Every operation runs as a pipeline of stages connected by unbuffered
// channels, so memory stays bounded by one page of documents or one bulk
// batch no matter how large the archive is.
package esarchiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kurakura967/go-elasticsearch-archiver/archive"
	"github.com/kurakura967/go-elasticsearch-archiver/docs"
	"github.com/kurakura967/go-elasticsearch-archiver/fixture"
	"github.com/kurakura967/go-elasticsearch-archiver/indices"
	"github.com/kurakura967/go-elasticsearch-archiver/internal/retry"
	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
	"github.com/kurakura967/go-elasticsearch-archiver/stats"
	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

// Archiver saves indices to archives and restores them.
type Archiver struct {
	store  store.Store
	logger logrus.FieldLogger

	compression   archive.CompressionLevel
	renamer       indices.Renamer
	pageSize      int
	scrollTimeout time.Duration
	query         map[string]interface{}

	maxBatchDocs  int
	maxBatchBytes int
	bulkRetry     retry.Policy
	createRetry   retry.Policy
	deleteRetry   retry.Policy
	skipExisting  bool
	useCreate     bool
	refresh       bool
	onReject      func(*docs.DocumentRejectedError)
}

// New creates a new Archiver for the given store and options.
func New(st store.Store, opts ...Option) (*Archiver, error) {
	if st == nil {
		return nil, errors.New("esarchiver: store must not be nil")
	}

	a := &Archiver{
		store:   st,
		logger:  logrus.StandardLogger(),
		renamer: indices.DefaultRenamer,
		refresh: true,
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("esarchiver: applying option: %w", err)
		}
	}

	return a, nil
}

func (a *Archiver) generateOptions() (indices.GenerateOptions, docs.GenerateOptions) {
	return indices.GenerateOptions{Renamer: a.renamer, Logger: a.logger},
		docs.GenerateOptions{
			PageSize:      a.pageSize,
			ScrollTimeout: a.scrollTimeout,
			Query:         a.query,
			Renamer:       a.renamer,
			Logger:        a.logger,
		}
}

// Save archives the indices behind names into storage: all index records
// go to the mappings file, then every document to the data file. Nothing
// is left in storage when Save fails.
func (a *Archiver) Save(ctx context.Context, storage archive.Storage, names []string) (*stats.Stats, error) {
	if len(names) == 0 {
		return nil, errors.New("esarchiver: no index to save")
	}

	s := stats.New()
	indexOpts, docOpts := a.generateOptions()

	g, ctx := errgroup.WithContext(ctx)
	indexNames := make(chan string)
	docNames := make(chan string)
	indexRecords := make(chan record.Record)
	docRecords := make(chan record.Record)
	all := make(chan record.Record)
	indicesDone := make(chan struct{})

	g.Go(func() error { return stream.FromSlice(ctx, names, indexNames) })
	g.Go(func() error {
		if err := indices.GenerateRecords(ctx, a.store, s, indexNames, indexRecords, indexOpts); err != nil {
			return err
		}
		close(indicesDone)
		return nil
	})
	// document scrolls start only after every index record is written
	g.Go(func() error {
		select {
		case <-indicesDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		return stream.FromSlice(ctx, names, docNames)
	})
	g.Go(func() error { return docs.GenerateRecords(ctx, a.store, s, docNames, docRecords, docOpts) })
	g.Go(func() error { return stream.Concat(ctx, all, indexRecords, docRecords) })
	g.Go(func() error {
		return archive.WriteDir(ctx, storage, all, archive.WriteOptions{Compression: a.compression})
	})

	if err := g.Wait(); err != nil {
		return s, fmt.Errorf("esarchiver: saving %q: %w", names, err)
	}

	s.Log(a.logger)
	return s, nil
}

// Load restores the archive in storage. Every archived index is deleted
// and recreated, unless SkipExisting is set, and its documents are written
// in bulk. Restored indices are refreshed at the end.
func (a *Archiver) Load(ctx context.Context, storage archive.Storage) (*stats.Stats, error) {
	s, err := a.restore(ctx, func(ctx context.Context, out chan<- record.Record) error {
		return archive.ReadDir(ctx, storage, out)
	})
	if err != nil {
		return s, fmt.Errorf("esarchiver: loading archive: %w", err)
	}
	return s, nil
}

// LoadFixtures restores a fixtures directory (see package fixture) the same
// way Load restores an archive.
func (a *Archiver) LoadFixtures(ctx context.Context, dir string) (*stats.Stats, error) {
	fixtures, err := fixture.Parse(dir)
	if err != nil {
		return nil, fmt.Errorf("esarchiver: %w", err)
	}

	s, err := a.restore(ctx, func(ctx context.Context, out chan<- record.Record) error {
		return fixture.GenerateRecords(ctx, fixtures, out)
	})
	if err != nil {
		return s, fmt.Errorf("esarchiver: loading fixtures: %w", err)
	}
	return s, nil
}

func (a *Archiver) restore(ctx context.Context, source func(context.Context, chan<- record.Record) error) (*stats.Stats, error) {
	s := stats.New()

	g, gctx := errgroup.WithContext(ctx)
	records := make(chan record.Record)
	documents := make(chan record.Record)

	g.Go(func() error { return source(gctx, records) })
	g.Go(func() error {
		return indices.Create(gctx, a.store, s, records, documents, indices.CreateOptions{
			SkipExisting: a.skipExisting,
			CreateRetry:  a.createRetry,
			DeleteRetry:  a.deleteRetry,
			Logger:       a.logger,
		})
	})
	g.Go(func() error {
		return docs.Write(gctx, a.store, s, documents, docs.WriteOptions{
			MaxBatchDocs:  a.maxBatchDocs,
			MaxBatchBytes: a.maxBatchBytes,
			Retry:         a.bulkRetry,
			UseCreate:     a.useCreate,
			OnReject:      a.onReject,
			Logger:        a.logger,
		})
	})

	if err := g.Wait(); err != nil {
		return s, err
	}

	if a.refresh {
		if err := a.store.Refresh(ctx, restoredIndices(s)); err != nil {
			return s, err
		}
	}

	s.Log(a.logger)
	return s, nil
}

// restoredIndices returns the indices a restore created or wrote to.
func restoredIndices(s *stats.Stats) []string {
	var names []string
	s.ForEachIndex(func(name string, st stats.IndexStats) {
		if st.Created || st.Docs.Indexed > 0 {
			names = append(names, name)
		}
	})
	return names
}

// Unload deletes every index the archive in storage describes.
func (a *Archiver) Unload(ctx context.Context, storage archive.Storage) (*stats.Stats, error) {
	s, err := a.unload(ctx, func(ctx context.Context, out chan<- record.Record) error {
		return archive.ReadDir(ctx, storage, out)
	})
	if err != nil {
		return s, fmt.Errorf("esarchiver: unloading archive: %w", err)
	}
	return s, nil
}

// UnloadFixtures deletes every index of a fixtures directory.
func (a *Archiver) UnloadFixtures(ctx context.Context, dir string) (*stats.Stats, error) {
	fixtures, err := fixture.Parse(dir)
	if err != nil {
		return nil, fmt.Errorf("esarchiver: %w", err)
	}

	s, err := a.unload(ctx, func(ctx context.Context, out chan<- record.Record) error {
		return fixture.GenerateRecords(ctx, fixtures, out)
	})
	if err != nil {
		return s, fmt.Errorf("esarchiver: cleaning up: %w", err)
	}
	return s, nil
}

func (a *Archiver) unload(ctx context.Context, source func(context.Context, chan<- record.Record) error) (*stats.Stats, error) {
	s := stats.New()

	g, ctx := errgroup.WithContext(ctx)
	records := make(chan record.Record)
	g.Go(func() error { return source(ctx, records) })
	g.Go(func() error {
		return indices.Delete(ctx, a.store, s, records, indices.DeleteOptions{DeleteRetry: a.deleteRetry, Logger: a.logger})
	})
	if err := g.Wait(); err != nil {
		return s, err
	}

	s.Log(a.logger)
	return s, nil
}

// Convert writes the fixtures in dir as an archive into storage without
// touching the store.
func (a *Archiver) Convert(ctx context.Context, dir string, storage archive.Storage) error {
	fixtures, err := fixture.Parse(dir)
	if err != nil {
		return fmt.Errorf("esarchiver: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	records := make(chan record.Record)
	g.Go(func() error { return fixture.GenerateRecords(ctx, fixtures, records) })
	g.Go(func() error {
		return archive.WriteDir(ctx, storage, records, archive.WriteOptions{Compression: a.compression})
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("esarchiver: converting fixtures in %q: %w", dir, err)
	}
	return nil
}
