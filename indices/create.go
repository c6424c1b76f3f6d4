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

// State is a step of restoring one index.
type State int

const (
	Pending State = iota
	Deleting
	Creating
	AliasApplying
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Deleting:
		return "deleting"
	case Creating:
		return "creating"
	case AliasApplying:
		return "applying aliases"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var (
	// DefaultCreateRetry bounds retries of a create that races with the
	// deletion of the previous index.
	DefaultCreateRetry = retry.Policy{Retries: 3, Interval: 100 * time.Millisecond, MaxInterval: time.Second}
	// DefaultDeleteRetry bounds retries of a delete refused because the
	// index is being snapshotted.
	DefaultDeleteRetry = retry.Policy{Retries: 5, Interval: time.Second, MaxInterval: 10 * time.Second}
)

// CreateOptions configures Create. Zero policies use the defaults above.
type CreateOptions struct {
	// SkipExisting leaves existing indices untouched and drops their
	// documents instead of replacing them.
	SkipExisting bool
	CreateRetry  retry.Policy
	DeleteRetry  retry.Policy
	Logger       logrus.FieldLogger
}

func (o CreateOptions) withDefaults() CreateOptions {
	if o.CreateRetry == (retry.Policy{}) {
		o.CreateRetry = DefaultCreateRetry
	}
	if o.DeleteRetry == (retry.Policy{}) {
		o.DeleteRetry = DefaultDeleteRetry
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Create replaces the index described by every IndexRecord received on in
// and forwards DocumentRecords to out, so each index exists before its
// documents move on. A document whose index had no IndexRecord before it is
// an error. out is closed once in is closed.
func Create(ctx context.Context, st store.Store, s *stats.Stats, in <-chan record.Record, out chan<- record.Record, opts CreateOptions) error {
	opts = opts.withDefaults()
	skipped := map[string]bool{}

	for {
		r, ok, err := stream.Receive(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		switch r := r.(type) {
		case *record.IndexRecord:
			c := &creation{st: st, stats: s, rec: r, opts: opts, logger: opts.Logger.WithField("index", r.Index)}
			created, err := c.run(ctx)
			if err != nil {
				return err
			}
			skipped[r.Index] = !created
		case *record.DocumentRecord:
			skip, known := skipped[r.Index]
			if !known {
				return &MissingIndexRecordError{Index: r.Index, ID: r.ID}
			}
			if skip {
				continue
			}
			if err := stream.Send(ctx, out, record.Record(r)); err != nil {
				return err
			}
		}
	}

	close(out)
	return nil
}

// creation walks one index through Pending, Deleting, Creating,
// AliasApplying and Done, or ends in Failed.
type creation struct {
	st     store.Store
	stats  *stats.Stats
	rec    *record.IndexRecord
	opts   CreateOptions
	logger logrus.FieldLogger
	state  State
}

func (c *creation) transition(to State) {
	c.logger.WithFields(logrus.Fields{"from": c.state, "to": to}).Debug("index state")
	c.state = to
}

func (c *creation) fail(err error) error {
	failed := c.state
	c.transition(Failed)
	return &IndexCreationError{Index: c.rec.Index, State: failed, Err: err}
}

// run reports whether the index was created; false means it was skipped.
func (c *creation) run(ctx context.Context) (bool, error) {
	name := c.rec.Index

	existing, err := c.st.ResolveIndices(ctx, name)
	if err != nil {
		return false, c.fail(err)
	}
	if len(existing) > 0 && c.opts.SkipExisting {
		c.stats.SkippedIndex(name)
		c.logger.Info("skipped existing index")
		c.transition(Done)
		return false, nil
	}

	attempt := 0
	err = c.opts.CreateRetry.Do(ctx, func() error {
		attempt++
		if len(existing) > 0 {
			c.transition(Deleting)
			if err := deleteIndices(ctx, c.st, c.stats, existing, c.opts.DeleteRetry, c.logger); err != nil {
				return retry.Permanent(err)
			}
		}

		c.transition(Creating)
		createErr := c.st.CreateIndex(ctx, name, c.rec.Settings, c.rec.Mappings)
		if createErr == nil {
			return nil
		}
		if !store.IsAlreadyExists(createErr) {
			return retry.Permanent(createErr)
		}
		// the previous index has not gone away yet, or something else
		// recreated it; delete whatever answers to the name again.
		resolved, err := c.st.ResolveIndices(ctx, name)
		if err != nil {
			return retry.Permanent(err)
		}
		existing = resolved
		if len(existing) == 0 {
			existing = []string{name}
		}
		return createErr
	}, func(err error, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).Warn("retrying index creation")
	})
	if err != nil {
		return false, c.fail(err)
	}

	c.transition(AliasApplying)
	if err := c.st.PutAliases(ctx, name, c.rec.Aliases); err != nil {
		return false, c.fail(err)
	}

	c.stats.CreatedIndex(name)
	c.transition(Done)
	c.logger.Info("created index")
	return true, nil
}
