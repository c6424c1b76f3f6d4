// Package indices archives and restores index definitions: settings,
// mappings and aliases.
package indices

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
	"github.com/kurakura967/go-elasticsearch-archiver/stats"
	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

// GenerateOptions configures GenerateRecords.
type GenerateOptions struct {
	// Renamer defaults to DefaultRenamer.
	Renamer Renamer
	Logger  logrus.FieldLogger
}

func (o GenerateOptions) withDefaults() GenerateOptions {
	if o.Renamer.IsZero() {
		o.Renamer = DefaultRenamer
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// GenerateRecords emits one IndexRecord per concrete index behind each
// name received on names, in sorted order per name, and closes out once
// names is closed.
//
// A name is archived all or nothing: every concrete index it resolves to
// is described before any of its records is emitted.
func GenerateRecords(ctx context.Context, st store.Store, s *stats.Stats, names <-chan string, out chan<- record.Record, opts GenerateOptions) error {
	opts = opts.withDefaults()
	g := &generator{st: st, stats: s, opts: opts, sources: map[string]string{}}

	for {
		name, ok, err := stream.Receive(ctx, names)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		records, err := g.describe(ctx, name)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := stream.Send(ctx, out, record.Record(r)); err != nil {
				return err
			}
		}
	}

	close(out)
	return nil
}

type generator struct {
	st    store.Store
	stats *stats.Stats
	opts  GenerateOptions
	// sources maps an archived name to the source index it came from.
	sources map[string]string
}

func (g *generator) describe(ctx context.Context, name string) ([]*record.IndexRecord, error) {
	metadata, err := g.st.GetIndices(ctx, name)
	if err != nil {
		return nil, &MetadataQueryError{Name: name, Err: err}
	}

	indexNames := make([]string, 0, len(metadata))
	for index := range metadata {
		indexNames = append(indexNames, index)
	}
	sort.Strings(indexNames)

	pending := map[string]string{}
	var records []*record.IndexRecord
	for _, index := range indexNames {
		target := g.opts.Renamer.Rename(index)
		logger := g.opts.Logger.WithFields(logrus.Fields{"index": index, "name": name})

		source, ok := g.sources[target]
		if !ok {
			source, ok = pending[target]
		}
		if ok {
			if source == index {
				logger.Debug("index already archived")
				continue
			}
			return nil, &DuplicateNameError{Name: target, Sources: []string{source, index}}
		}

		aliases, err := g.st.GetAliases(ctx, index)
		if err != nil {
			return nil, &MetadataQueryError{Name: index, Err: err}
		}

		meta := metadata[index]
		mappings := meta.Mappings
		if mappings == nil {
			mappings = map[string]interface{}{}
		}
		if aliases == nil {
			aliases = map[string]interface{}{}
		}
		records = append(records, &record.IndexRecord{
			Index:    target,
			Settings: FilterSettings(meta.Settings),
			Mappings: mappings,
			Aliases:  aliases,
		})
		pending[target] = index

		if target != index {
			logger = logger.WithField("archived_as", target)
		}
		logger.Debug("archiving index")
	}

	for target, index := range pending {
		g.sources[target] = index
		g.stats.ArchivedIndex(index)
	}
	return records, nil
}
