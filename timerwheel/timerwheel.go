// Package timerwheel is the saga timeout and heartbeat scheduler: a
// heap-ordered set of virtual timers keyed by (SagaID, StepName, FiresAt),
// drained by a single background goroutine that fires due timers into a
// caller-supplied callback. Structurally grounded on the teacher's
// scheduler.CronScheduler (map-of-jobs under a mutex, a background driver
// goroutine, ID generation via crypto/rand), adapted from cron expressions
// to a min-heap of absolute fire times since saga deadlines and heartbeat
// intervals are computed offsets, not calendar schedules.
package timerwheel

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sagaflow/engine/clock"
	"github.com/sagaflow/engine/metrics"
)

// Kind distinguishes a saga-deadline timer from a step-heartbeat timer.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindHeartbeat Kind = "heartbeat"
)

// Timer is one scheduled firing.
type Timer struct {
	ID       string
	SagaID   string
	StepName string
	Kind     Kind
	FiresAt  time.Time
	index    int // heap.Interface bookkeeping
}

// Callback is invoked when a timer fires. It is called from the wheel's
// single driver goroutine, so callbacks should hand off long-running work
// (e.g. submit to the orchestrator's shard router) rather than block.
type Callback func(ctx context.Context, t Timer)

// Wheel drives saga timeouts and step heartbeats off a single min-heap,
// grounded on container/heap's documented priority-queue pattern.
type Wheel struct {
	mu       sync.Mutex
	items    timerHeap
	byID     map[string]*Timer
	clock    clock.Clock
	logger   *slog.Logger
	onFire   Callback
	wake     chan struct{}
	heartbeatLimiter *rate.Limiter
	metrics  *metrics.Collector
}

// Config configures a Wheel.
type Config struct {
	Clock    clock.Clock
	Logger   *slog.Logger
	OnFire   Callback
	// HeartbeatRate caps how many heartbeat timers are allowed to fire per
	// second across the whole wheel, so a burst of simultaneously due
	// heartbeats doesn't stampede the coordinator.
	HeartbeatRate rate.Limit
	HeartbeatBurst int
	// Metrics, when set, counts fired timers by kind. Optional.
	Metrics *metrics.Collector
}

// New creates a Wheel. Callers must call Run to start the driver goroutine.
func New(cfg Config) *Wheel {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HeartbeatRate <= 0 {
		cfg.HeartbeatRate = 50
	}
	if cfg.HeartbeatBurst <= 0 {
		cfg.HeartbeatBurst = 10
	}
	w := &Wheel{
		byID:             make(map[string]*Timer),
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		onFire:           cfg.OnFire,
		wake:             make(chan struct{}, 1),
		heartbeatLimiter: rate.NewLimiter(cfg.HeartbeatRate, cfg.HeartbeatBurst),
		metrics:          cfg.Metrics,
	}
	heap.Init(&w.items)
	return w
}

// Schedule registers a new timer and returns its ID, usable with Cancel.
func (w *Wheel) Schedule(sagaID, stepName string, kind Kind, firesAt time.Time) (string, error) {
	id, err := generateID("tmr")
	if err != nil {
		return "", err
	}
	t := &Timer{ID: id, SagaID: sagaID, StepName: stepName, Kind: kind, FiresAt: firesAt}

	w.mu.Lock()
	heap.Push(&w.items, t)
	w.byID[id] = t
	w.mu.Unlock()

	w.nudge()
	return id, nil
}

// Cancel removes a pending timer. Canceling an already-fired or unknown
// timer is a no-op.
func (w *Wheel) Cancel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.byID[id]
	if !ok {
		return
	}
	heap.Remove(&w.items, t.index)
	delete(w.byID, id)
}

func (w *Wheel) nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drives the wheel until ctx is canceled, firing due timers into the
// configured callback.
func (w *Wheel) Run(ctx context.Context) {
	timer := w.clock.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := w.fireDue(ctx)
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			continue
		case <-timer.C():
			continue
		}
	}
}

// fireDue pops and fires every timer whose FiresAt has passed, and returns
// how long to wait before the next one is due.
func (w *Wheel) fireDue(ctx context.Context) time.Duration {
	for {
		w.mu.Lock()
		if len(w.items) == 0 {
			w.mu.Unlock()
			return time.Hour
		}
		next := w.items[0]
		now := w.clock.Now()
		if next.FiresAt.After(now) {
			wait := next.FiresAt.Sub(now)
			w.mu.Unlock()
			return wait
		}
		heap.Pop(&w.items)
		delete(w.byID, next.ID)
		w.mu.Unlock()

		if next.Kind == KindHeartbeat {
			if err := w.heartbeatLimiter.Wait(ctx); err != nil {
				return 0
			}
		}
		if w.metrics != nil {
			w.metrics.TimersFired.WithLabelValues(string(next.Kind)).Inc()
		}
		if w.onFire != nil {
			w.onFire(ctx, *next)
		}
	}
}

func generateID(prefix string) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate timer id: %w", err)
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(buf)), nil
}

// timerHeap implements container/heap.Interface ordered by FiresAt.
type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].FiresAt.Before(h[j].FiresAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
