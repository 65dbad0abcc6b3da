package repairqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/object"
)

func TestRunDrainLoopProcessesPublishedEntries(t *testing.T) {
	q := newTestQueue(t)
	q.Publish(object.ErrReplicate, 1, []byte("a"))
	q.Publish(object.ErrReplicate, 2, []byte("b"))

	var mu sync.Mutex
	var seen []Entry

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	policy := ThrottlePolicy{MaxBatchSize: 10, MinInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}
	go RunDrainLoop(ctx, q, object.ErrReplicate, policy, func(_ context.Context, entries []Entry) error {
		mu.Lock()
		seen = append(seen, entries...)
		mu.Unlock()
		return nil
	}, zap.NewNop())

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
}

func TestNextIntervalBacksOffWhenEmptyAndHalvesOnWork(t *testing.T) {
	policy := ThrottlePolicy{MaxBatchSize: 5, MinInterval: 10 * time.Millisecond, MaxInterval: 80 * time.Millisecond}

	grown := nextInterval(10*time.Millisecond, 0, policy)
	require.Equal(t, 20*time.Millisecond, grown)

	grownAgain := nextInterval(grown, 0, policy)
	require.Equal(t, 40*time.Millisecond, grownAgain)

	cappedAtMax := nextInterval(policy.MaxInterval, 0, policy)
	require.Equal(t, policy.MaxInterval, cappedAtMax)

	shrunk := nextInterval(40*time.Millisecond, 3, policy)
	require.Equal(t, 20*time.Millisecond, shrunk)

	flooredAtMin := nextInterval(policy.MinInterval, 1, policy)
	require.Equal(t, policy.MinInterval, flooredAtMin)
}
