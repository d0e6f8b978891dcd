package sync

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "bnpl/pkg/domain-errors"
)

var (
	shardLockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bnpl_shard_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a per-user shard lock",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	shardLockAcquisitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bnpl_shard_lock_acquisitions_total",
		Help: "Total number of shard lock acquisitions",
	})
)

// DefaultTxTimeout matches the database transaction timeout.
const DefaultTxTimeout = 5 * time.Second

// RunLocked is the in-memory stand-in for a row-locked transaction: it holds
// key's shard for the duration of fn. There is no rollback; fn must validate
// before it writes.
func RunLocked(ctx context.Context, mu *ShardedMutex, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	lockStart := time.Now()
	mu.Lock(key)
	shardLockWaitDuration.Observe(time.Since(lockStart).Seconds())
	shardLockAcquisitions.Inc()
	defer mu.Unlock(key)

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}
