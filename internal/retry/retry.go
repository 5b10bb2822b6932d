// Package retry wraps every network call the pipeline makes (engagement
// database, coding tool, and source adapters) with bounded exponential
// backoff, per spec.md §5: "every network call ... retried with bounded
// exponential backoff on transient errors." Grounded on
// github.com/cenkalti/backoff/v4, the ecosystem's standard retry library
// (not used directly by the teacher, which instead leans on
// nats.RetryOnFailedConnect for its one retryable call; this pipeline has
// many more network seams, so backoff is pulled in for all of them rather
// than hand-rolling a retry loop per package).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/pipelineerr"
)

// DefaultDeadline is the per-call network deadline spec.md §5 names ("every
// network call has a deadline (implementation default: 60 s)"), used as the
// backoff policy's overall elapsed-time cap so a wedged backend can't retry
// forever.
const DefaultDeadline = 60 * time.Second

// Do retries fn with bounded exponential backoff, retrying only errors that
// are a pipelineerr.Error of KindTransientBackend; any other error
// (including one not built with pipelineerr) stops the retry at once. It
// gives up after DefaultDeadline of total elapsed retrying.
func Do(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = DefaultDeadline
	policy := backoff.WithContext(b, ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !pipelineerr.Is(err, pipelineerr.KindTransientBackend) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
