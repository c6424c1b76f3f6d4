// Package retry builds the backoff policies used for store calls that may
// fail transiently.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	// Retries is the number of attempts after the first one.
	Retries int `yaml:"retries"`
	// Interval is the first wait; it grows exponentially up to MaxInterval.
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// Backoff returns a fresh backoff for one operation. It stops after
// p.Retries retries or when ctx is done.
func (p Policy) Backoff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Interval <= 0 {
		b = backoff.NewConstantBackOff(0)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Interval
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		eb.MaxElapsedTime = 0
		b = eb
	}

	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, or the policy is
// exhausted. notify, if not nil, is called before every wait.
func (p Policy) Do(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(op, p.Backoff(ctx), notify)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
