package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/incentive/store"
)

func TestBatchScheduler_NextRunTimeFollowsLastTick(t *testing.T) {
	// GIVEN: A scheduler with a fixed clock and a 30 minute interval
	now := wednesday
	backend := store.NewMemory()
	bs := NewBatchScheduler(backend, &incentive.Processor{Store: backend, Writer: &incentive.Writer{}}, nil)
	bs.Clock = func() time.Time { return now }
	bs.CheckInterval = 30 * time.Minute

	// WHEN: A tick runs and the clock moves on
	bs.tick()
	now = now.Add(10 * time.Minute)

	// THEN: The next check is one interval after the tick, not after now
	assert.Equal(t, wednesday.Add(30*time.Minute), bs.NextRunTime())

	// AND: The tick recorded a run
	runs, err := backend.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
}
