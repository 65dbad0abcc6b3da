package repairqueue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/object"
	"github.com/openendpoint/replicator/pkg/util"
)

// ThrottlePolicy bounds the background drain loop's batch size and poll
// interval — the "load-aware throttle / watchdog subsystem" spec.md §1
// places out of scope and models only as an external policy knob. This
// queue has no opinion on host load; it only clamps to whatever bounds
// the policy currently holds, so an external watchdog can narrow them
// under pressure without this loop's cooperation.
type ThrottlePolicy struct {
	MaxBatchSize  int
	MinInterval   time.Duration
	MaxInterval   time.Duration
}

// Handler processes one drained batch of repair entries for a single
// error kind, e.g. by re-driving the write against the redundancy map.
type Handler func(ctx context.Context, entries []Entry) error

// RunDrainLoop repeatedly drains kind in batches of at most
// policy.MaxBatchSize until ctx is done. The poll interval backs off
// toward policy.MaxInterval when a drain comes back empty and halves back
// toward policy.MinInterval whenever there is work, always clamped
// inside [MinInterval, MaxInterval] (see nextInterval).
func RunDrainLoop(ctx context.Context, q *Queue, kind object.ErrorKind, policy ThrottlePolicy, handle Handler, logger *zap.Logger) {
	interval := policy.MinInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		entries, err := q.Drain(kind, policy.MaxBatchSize)
		if err != nil {
			logger.Warn("repair queue drain failed", zap.String("kind", string(kind)), zap.Error(err))
		} else if len(entries) > 0 {
			if err := handle(ctx, entries); err != nil {
				logger.Warn("repair batch handler failed",
					zap.String("kind", string(kind)),
					zap.Int("count", len(entries)),
					zap.Error(err))
			} else {
				logger.Debug("repair batch processed",
					zap.String("kind", string(kind)),
					zap.Int("count", len(entries)),
					zap.String("interval", util.FormatDuration(interval)))
			}
		}

		interval = nextInterval(interval, len(entries), policy)
		timer.Reset(interval)
	}
}

// nextInterval halves the interval back toward MinInterval whenever
// there was work to do, and doubles it toward MaxInterval on an empty
// drain, clamped to the policy's bounds throughout.
func nextInterval(current time.Duration, drained int, policy ThrottlePolicy) time.Duration {
	minMS := int(policy.MinInterval / time.Millisecond)
	maxMS := int(policy.MaxInterval / time.Millisecond)
	curMS := int(current / time.Millisecond)

	if drained > 0 {
		curMS = util.Clamp(curMS/2, minMS, maxMS)
	} else {
		curMS = util.Clamp(curMS*2, minMS, maxMS)
	}
	return time.Duration(curMS) * time.Millisecond
}
