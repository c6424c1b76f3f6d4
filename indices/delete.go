package indices

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kurakura967/go-elasticsearch-archiver/internal/retry"
	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
	"github.com/kurakura967/go-elasticsearch-archiver/stats"
	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

// DeleteOptions configures Delete.
type DeleteOptions struct {
	DeleteRetry retry.Policy
	Logger      logrus.FieldLogger
}

// Delete removes every index named by an IndexRecord received on in,
// together with the indices an alias of that name points to. Documents are
// ignored. Missing indices are not an error.
func Delete(ctx context.Context, st store.Store, s *stats.Stats, in <-chan record.Record, opts DeleteOptions) error {
	if opts.DeleteRetry == (retry.Policy{}) {
		opts.DeleteRetry = DefaultDeleteRetry
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	for {
		r, ok, err := stream.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		rec, isIndex := r.(*record.IndexRecord)
		if !isIndex {
			continue
		}

		logger := opts.Logger.WithField("index", rec.Index)
		names, err := st.ResolveIndices(ctx, rec.Index)
		if err != nil {
			return &IndexCreationError{Index: rec.Index, State: Deleting, Err: err}
		}
		if len(names) == 0 {
			logger.Debug("index not found, nothing to delete")
			continue
		}
		if err := deleteIndices(ctx, st, s, names, opts.DeleteRetry, logger); err != nil {
			return &IndexCreationError{Index: rec.Index, State: Deleting, Err: err}
		}
	}
}

// deleteIndices deletes names, waiting out snapshots that hold them.
func deleteIndices(ctx context.Context, st store.Store, s *stats.Stats, names []string, policy retry.Policy, logger logrus.FieldLogger) error {
	err := policy.Do(ctx, func() error {
		err := st.DeleteIndices(ctx, names)
		if err != nil && !store.IsSnapshotInProgress(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, wait time.Duration) {
		logger.WithError(err).WithField("wait", wait).Warn("index is being snapshotted, waiting to delete")
	})
	if err != nil {
		return err
	}

	for _, name := range names {
		s.DeletedIndex(name)
		logger.WithField("deleted", name).Info("deleted index")
	}
	return nil
}
