package workflow

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RegisterGetRemove(t *testing.T) {
	s := NewScheduler()
	ctx := NewExecutionContext("wf", "run-1")

	assert.Nil(t, s.Register("wf", ctx))
	got, ok := s.Get("wf")
	require.True(t, ok)
	assert.Same(t, ctx, got)
	assert.True(t, s.IsRunning("wf"))
	assert.Equal(t, []string{"wf"}, s.Active())

	s.Remove("wf")
	_, ok = s.Get("wf")
	assert.False(t, ok)
	assert.False(t, s.IsRunning("wf"))
}

func TestScheduler_LastWriterWins(t *testing.T) {
	s := NewScheduler()
	first := NewExecutionContext("wf", "run-1")
	second := NewExecutionContext("wf", "run-2")

	s.Register("wf", first)
	prev := s.Register("wf", second)
	assert.Same(t, first, prev)

	// the older run finishing must not untrack the newer one
	assert.False(t, s.RemoveIf("wf", first))
	got, ok := s.Get("wf")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, s.RemoveIf("wf", second))
	assert.Empty(t, s.Active())
}

func TestScheduler_CancelUnknownIsNoop(t *testing.T) {
	s := NewScheduler()
	assert.False(t, s.Cancel("missing"))
	assert.False(t, s.IsRunning("missing"))
}

func TestScheduler_CancelFlipsFlag(t *testing.T) {
	s := NewScheduler()
	ctx := NewExecutionContext("wf", "run-1")
	s.Register("wf", ctx)

	assert.True(t, s.Cancel("wf"))
	assert.True(t, s.Cancel("wf"), "cancel is idempotent")
	assert.False(t, ctx.IsRunning())
	assert.False(t, s.IsRunning("wf"))

	// still tracked until the run itself ends
	_, ok := s.Get("wf")
	assert.True(t, ok)
}

func TestScheduler_ConcurrentAccess(t *testing.T) {
	s := NewScheduler()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("wf-%d", i%5)
			ctx := NewExecutionContext(key, fmt.Sprintf("run-%d", i))
			s.Register(key, ctx)
			s.IsRunning(key)
			s.Cancel(key)
			s.RemoveIf(key, ctx)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, len(s.Active()), 5)
}

func TestProperty_SchedulerCancelOnlyAffectsItsKey(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("cancelling one workflow leaves the others running", prop.ForAll(
		func(total int, cancelIdx int) bool {
			s := NewScheduler()
			for i := 0; i < total; i++ {
				key := fmt.Sprintf("wf-%d", i)
				s.Register(key, NewExecutionContext(key, "run"))
			}

			target := cancelIdx % total
			s.Cancel(fmt.Sprintf("wf-%d", target))

			for i := 0; i < total; i++ {
				running := s.IsRunning(fmt.Sprintf("wf-%d", i))
				if i == target && running {
					return false
				}
				if i != target && !running {
					return false
				}
			}
			return len(s.Active()) == total
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
