package orders

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"safecex/internal/events"
)

// Submitter is the fast-path placement surface the queue dispatches
// through: one outcome per payload, in submission order.
type Submitter interface {
	Submit(ctx context.Context, payloads []*Payload) []events.BatchOutcome
}

// QueueConfig bounds the dispatch rate. Defaults are the venue's
// order-count limits.
type QueueConfig struct {
	Window10  time.Duration
	Cap10     int
	Window60  time.Duration
	Cap60     int
	BatchSize int
}

// DefaultQueueConfig returns the venue limits: 300 orders per 10s,
// 1200 per 60s, batches of at most 5.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Window10:  10 * time.Second,
		Cap10:     300,
		Window60:  60 * time.Second,
		Cap60:     1200,
		BatchSize: 5,
	}
}

// Queue is the rate-window-governed order submission engine. Exactly
// one processing task runs at a time; dispatched batches run in the
// background so multiple batches may be in flight concurrently.
type Queue struct {
	submitter Submitter
	emitter   *events.Emitter
	logger    zerolog.Logger
	cfg       QueueConfig

	mu         sync.Mutex
	pending    []*Payload
	processing bool
	done       chan struct{} // closed when the processing task exits

	// Rolling windows hold the admission timestamp of every dispatched
	// payload still inside the window. Only the processing task touches
	// them.
	w10 []time.Time
	w60 []time.Time

	resultsMu sync.Mutex
	results   []string // client IDs of successful submissions

	dispatches sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a dispatch queue with the default venue limits
func NewQueue(submitter Submitter, emitter *events.Emitter, logger zerolog.Logger) *Queue {
	return NewQueueWithConfig(submitter, emitter, logger, DefaultQueueConfig())
}

// NewQueueWithConfig creates a dispatch queue with explicit limits
func NewQueueWithConfig(submitter Submitter, emitter *events.Emitter, logger zerolog.Logger, cfg QueueConfig) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		submitter: submitter,
		emitter:   emitter,
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue appends payloads and starts the processing task if idle.
// FIFO order is preserved within a single call.
func (q *Queue) Enqueue(payloads []*Payload) {
	if len(payloads) == 0 {
		return
	}

	q.mu.Lock()
	q.pending = append(q.pending, payloads...)
	depth := len(q.pending)
	if !q.processing {
		q.processing = true
		q.done = make(chan struct{})
		go q.process()
	}
	q.mu.Unlock()

	q.emitter.EmitOrderManager(depth)
}

// IsProcessing reports whether the processing task is running
func (q *Queue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Depth returns the number of queued payloads
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until the queue drains or the context is cancelled.
// It replaces polling IsProcessing.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.processing {
			q.mu.Unlock()
			return nil
		}
		done := q.done
		q.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DrainResults atomically snapshots and clears the accumulated client
// IDs of successful submissions.
func (q *Queue) DrainResults() []string {
	q.resultsMu.Lock()
	defer q.resultsMu.Unlock()

	results := q.results
	q.results = nil
	return results
}

// Dispose stops the processing loop after its current iteration
func (q *Queue) Dispose() {
	q.cancel()
}

// process is the single processing task. It owns the rolling windows.
func (q *Queue) process() {
	defer func() {
		// The completion signal only fires once in-flight batches have
		// resolved, so a drain after Wait sees every outcome.
		q.dispatches.Wait()

		q.mu.Lock()
		q.processing = false
		close(q.done)
		q.mu.Unlock()
	}()

	for {
		if q.ctx.Err() != nil {
			return
		}

		// now is sampled once per iteration: the same instant charges
		// the windows and paces the sleep.
		now := time.Now()
		q.w10 = pruneWindow(q.w10, now, q.cfg.Window10)
		q.w60 = pruneWindow(q.w60, now, q.cfg.Window60)

		if len(q.w10) >= q.cfg.Cap10 || len(q.w60) >= q.cfg.Cap60 {
			if !q.sleepUntilHeadroom(now) {
				return
			}
			continue
		}

		capacity := q.cfg.Cap10 - len(q.w10)
		if c := q.cfg.Cap60 - len(q.w60); c < capacity {
			capacity = c
		}
		if capacity > q.cfg.BatchSize {
			capacity = q.cfg.BatchSize
		}

		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		if capacity > len(q.pending) {
			capacity = len(q.pending)
		}
		batch := q.pending[:capacity:capacity]
		q.pending = q.pending[capacity:]
		q.mu.Unlock()

		// Charge the windows at admission, before the dispatch runs
		for i := 0; i < len(batch); i++ {
			q.w10 = append(q.w10, now)
			q.w60 = append(q.w60, now)
		}

		q.dispatches.Add(1)
		go q.dispatch(batch)

		if !q.sleepFor(q.pacedSleep(now)) {
			return
		}
	}
}

// dispatch submits one batch and folds the outcomes into the results
// buffer. Failures never terminate the loop or re-enqueue.
func (q *Queue) dispatch(batch []*Payload) {
	defer q.dispatches.Done()

	outcomes := q.submitter.Submit(q.ctx, batch)

	var successes []string
	for _, o := range outcomes {
		if o.Err == nil {
			successes = append(successes, o.OrderID)
		}
	}

	if len(successes) > 0 {
		q.resultsMu.Lock()
		q.results = append(q.results, successes...)
		q.resultsMu.Unlock()
	}

	q.logger.Debug().
		Int("batch", len(batch)).
		Int("succeeded", len(successes)).
		Msg("batch resolved")

	q.emitter.EmitBatchResolved(outcomes)
}

// sleepUntilHeadroom sleeps until the oldest entry of the saturated
// window ages out. Returns false when the queue is disposed.
func (q *Queue) sleepUntilHeadroom(now time.Time) bool {
	wait := time.Duration(0)
	if len(q.w10) >= q.cfg.Cap10 && len(q.w10) > 0 {
		wait = q.w10[0].Add(q.cfg.Window10).Sub(now)
	}
	if len(q.w60) >= q.cfg.Cap60 && len(q.w60) > 0 {
		if w := q.w60[0].Add(q.cfg.Window60).Sub(now); w > wait {
			wait = w
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return q.sleepFor(wait)
}

// pacedSleep spreads the remaining window headroom across the
// remaining lots and returns the shorter of the two per-window sleeps.
func (q *Queue) pacedSleep(now time.Time) time.Duration {
	sleep10 := windowPace(q.w10, now, q.cfg.Window10, q.cfg.Cap10, q.cfg.BatchSize)
	sleep60 := windowPace(q.w60, now, q.cfg.Window60, q.cfg.Cap60, q.cfg.BatchSize)
	if sleep10 < sleep60 {
		return sleep10
	}
	return sleep60
}

func (q *Queue) sleepFor(d time.Duration) bool {
	if d <= 0 {
		return q.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}

func windowPace(window []time.Time, now time.Time, dur time.Duration, limit, batchSize int) time.Duration {
	remainingLots := (limit - len(window)) / batchSize
	if remainingLots <= 0 {
		return time.Second
	}

	remainingTime := dur
	if len(window) > 0 {
		remainingTime = window[0].Add(dur).Sub(now)
		if remainingTime < 0 {
			remainingTime = 0
		}
	}

	return remainingTime / time.Duration(remainingLots)
}

func pruneWindow(window []time.Time, now time.Time, dur time.Duration) []time.Time {
	horizon := now.Add(-dur)
	i := 0
	for i < len(window) && !window[i].After(horizon) {
		i++
	}
	return window[i:]
}
