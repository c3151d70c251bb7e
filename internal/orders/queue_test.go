package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecex/internal/events"
)

// recordingSubmitter records the admission time of every payload
type recordingSubmitter struct {
	mu       sync.Mutex
	times    []time.Time
	ids      []string
	failIDs  map[string]error
	batchErr error
}

func (r *recordingSubmitter) Submit(ctx context.Context, payloads []*Payload) []events.BatchOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	outcomes := make([]events.BatchOutcome, 0, len(payloads))
	for _, p := range payloads {
		r.times = append(r.times, now)
		r.ids = append(r.ids, p.ClientID())

		outcome := events.BatchOutcome{OrderID: p.ClientID()}
		if r.batchErr != nil {
			outcome.Err = r.batchErr
		} else if err, exists := r.failIDs[p.ClientID()]; exists {
			outcome.Err = err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (r *recordingSubmitter) submitted() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	times := make([]time.Time, len(r.times))
	copy(times, r.times)
	return times
}

func makePayloads(n int) []*Payload {
	payloads := make([]*Payload, 0, n)
	for i := 0; i < n; i++ {
		p := NewPayload()
		p.Set("symbol", "BTCUSDT")
		p.Set("newClientOrderId", fmt.Sprintf("id-%d", i))
		payloads = append(payloads, p)
	}
	return payloads
}

func testQueueConfig() QueueConfig {
	return QueueConfig{
		Window10:  200 * time.Millisecond,
		Cap10:     4,
		Window60:  time.Second,
		Cap60:     8,
		BatchSize: 2,
	}
}

func TestQueue_SubmitsEverything(t *testing.T) {
	submitter := &recordingSubmitter{}
	emitter := events.New(zerolog.Nop())
	q := NewQueueWithConfig(submitter, emitter, zerolog.Nop(), testQueueConfig())
	defer q.Dispose()

	q.Enqueue(makePayloads(6))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	results := q.DrainResults()
	assert.Len(t, results, 6)
	assert.False(t, q.IsProcessing())

	t.Run("drain clears atomically", func(t *testing.T) {
		assert.Empty(t, q.DrainResults())
	})
}

func TestQueue_HonorsRateWindows(t *testing.T) {
	cfg := testQueueConfig()
	submitter := &recordingSubmitter{}
	emitter := events.New(zerolog.Nop())
	q := NewQueueWithConfig(submitter, emitter, zerolog.Nop(), cfg)
	defer q.Dispose()

	start := time.Now()
	q.Enqueue(makePayloads(12))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	times := submitter.submitted()
	require.Len(t, times, 12)

	// No trailing short window may hold more than Cap10 submissions
	for i := range times {
		count := 0
		for j := range times {
			if !times[j].Before(times[i]) && times[j].Sub(times[i]) < cfg.Window10 {
				count++
			}
		}
		assert.LessOrEqual(t, count, cfg.Cap10, "short window overflow at %d", i)
	}

	// The long window cap forces the tail past one full window
	assert.Greater(t, time.Since(start), cfg.Window60,
		"12 payloads with a cap of 8 per long window must outlast the window")
}

func TestQueue_BatchResolvedCarriesFailures(t *testing.T) {
	submitter := &recordingSubmitter{
		failIDs: map[string]error{"id-1": errors.New("rejected")},
	}
	emitter := events.New(zerolog.Nop())

	var mu sync.Mutex
	var resolved []events.BatchOutcome
	emitter.OnBatchResolved(func(outcomes []events.BatchOutcome) {
		mu.Lock()
		resolved = append(resolved, outcomes...)
		mu.Unlock()
	})

	q := NewQueueWithConfig(submitter, emitter, zerolog.Nop(), testQueueConfig())
	defer q.Dispose()

	q.Enqueue(makePayloads(3))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, resolved, 3)

	failures := 0
	for _, o := range resolved {
		if o.Err != nil {
			failures++
			assert.Equal(t, "id-1", o.OrderID)
		}
	}
	assert.Equal(t, 1, failures)

	// Failures never reach the results buffer
	results := q.DrainResults()
	assert.Len(t, results, 2)
	assert.NotContains(t, results, "id-1")
}

func TestQueue_EnqueueWhileProcessing(t *testing.T) {
	submitter := &recordingSubmitter{}
	emitter := events.New(zerolog.Nop())
	q := NewQueueWithConfig(submitter, emitter, zerolog.Nop(), testQueueConfig())
	defer q.Dispose()

	q.Enqueue(makePayloads(2))
	q.Enqueue(makePayloads(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.Len(t, q.DrainResults(), 4)
}

func TestQueue_EmptyEnqueueIsNoop(t *testing.T) {
	q := NewQueueWithConfig(&recordingSubmitter{}, events.New(zerolog.Nop()), zerolog.Nop(), testQueueConfig())
	defer q.Dispose()

	q.Enqueue(nil)
	assert.False(t, q.IsProcessing())
	assert.Zero(t, q.Depth())
}

func TestQueue_DisposeStopsProcessing(t *testing.T) {
	submitter := &recordingSubmitter{}
	q := NewQueueWithConfig(submitter, events.New(zerolog.Nop()), zerolog.Nop(), testQueueConfig())

	q.Enqueue(makePayloads(12))
	q.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}
