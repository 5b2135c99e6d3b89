package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sagaflow/engine/dispatch"
	"github.com/sagaflow/engine/locking"
	"github.com/sagaflow/engine/metrics"
)

// DrainerConfig configures a Drainer's polling cadence and sharding.
type DrainerConfig struct {
	ShardCount    int
	PollInterval  time.Duration
	BatchSize     int
	LeaseTTL      time.Duration
	MaxAttempts   int
	// MaxConcurrentDeliveries bounds how many messages within one claimed
	// batch are dispatched in parallel. Defaults to BatchSize (unbounded
	// within the batch) when unset.
	MaxConcurrentDeliveries int
	// Metrics, when set, records delivery/failure counts. Optional.
	Metrics *metrics.Collector
}

// BatchConcurrency returns the effective per-batch delivery concurrency.
func (c DrainerConfig) BatchConcurrency() int {
	if c.MaxConcurrentDeliveries > 0 {
		return c.MaxConcurrentDeliveries
	}
	return c.BatchSize
}

// DefaultDrainerConfig returns sensible defaults.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		ShardCount:   4,
		PollInterval: 250 * time.Millisecond,
		BatchSize:    50,
		LeaseTTL:     5 * time.Second,
		MaxAttempts:  8,
	}
}

// Drainer polls the outbox store and delivers pending messages via a
// Dispatcher. Each shard is drained by at most one owner at a time,
// enforced by a lease acquired from a locking.DistributedLock -- the same
// abstraction the coordinator uses for per-saga critical sections, applied
// here to the outbox's shard key instead of a SagaID.
type Drainer struct {
	store      Store
	dispatcher dispatch.Dispatcher
	lock       locking.DistributedLock
	cfg        DrainerConfig
	logger     *slog.Logger

	// inflight deduplicates concurrent dispatch attempts for the same
	// message ID, a defensive backstop in case a shard's batch is ever
	// claimed twice in overlapping drain cycles.
	inflight singleflight.Group

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDrainer creates a Drainer. logger may be nil.
func NewDrainer(store Store, dispatcher dispatch.Dispatcher, lock locking.DistributedLock, cfg DrainerConfig, logger *slog.Logger) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShardCount <= 0 {
		cfg = DefaultDrainerConfig()
	}
	return &Drainer{store: store, dispatcher: dispatcher, lock: lock, cfg: cfg, logger: logger}
}

// Start launches one polling goroutine per shard.
func (d *Drainer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for i := 0; i < d.cfg.ShardCount; i++ {
		shardKey := fmt.Sprintf("outbox-shard-%d", i)
		d.wg.Add(1)
		go d.runShard(ctx, shardKey)
	}
}

// Stop signals every shard loop to exit and waits for them to finish.
func (d *Drainer) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Drainer) runShard(ctx context.Context, shardKey string) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx, shardKey)
		}
	}
}

func (d *Drainer) drainOnce(ctx context.Context, shardKey string) {
	release, acquired, err := d.lock.TryAcquire(ctx, shardKey, d.cfg.LeaseTTL)
	if err != nil {
		d.logger.Error("outbox lease acquire failed", "shard", shardKey, "error", err)
		return
	}
	if !acquired {
		// Another drainer owns this shard right now; normal under
		// multi-node deployment, nothing to do this tick.
		return
	}
	defer release()

	messages, err := d.store.ClaimPending(ctx, shardKey, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("outbox claim failed", "shard", shardKey, "error", err)
		return
	}
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.OutboxPending.Set(float64(len(messages)))
	}

	// Deliver the claimed batch concurrently, capped so one slow shard
	// doesn't spin up an unbounded burst of dispatcher calls.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.BatchConcurrency())
	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			d.deliverOne(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Drainer) deliverOne(ctx context.Context, msg *Message) {
	_, _, _ = d.inflight.Do(msg.ID, func() (any, error) {
		d.dispatchAndRecord(ctx, msg)
		return nil, nil
	})
}

func (d *Drainer) dispatchAndRecord(ctx context.Context, msg *Message) {
	result := d.dispatcher.Dispatch(ctx, dispatch.MessageContext{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Body:    msg.Body,
		Headers: msg.Headers,
	})

	if result.Err == nil && result.Delivered {
		if err := d.store.MarkDelivered(ctx, msg.ID); err != nil {
			d.logger.Error("outbox mark delivered failed", "message_id", msg.ID, "error", err)
		}
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.OutboxDelivered.Inc()
		}
		return
	}

	msg.Attempts++
	if msg.Attempts >= d.cfg.MaxAttempts {
		if err := d.store.MarkFailed(ctx, msg.ID, errString(result.Err), nil); err != nil {
			d.logger.Error("outbox mark failed (terminal) failed", "message_id", msg.ID, "error", err)
		}
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.OutboxFailed.Inc()
		}
		d.logger.Error("outbox message exhausted retries", "message_id", msg.ID, "topic", msg.Topic)
		return
	}

	next := time.Now().Add(nextBackoff(msg.Attempts))
	if err := d.store.MarkFailed(ctx, msg.ID, errString(result.Err), &next); err != nil {
		d.logger.Error("outbox mark failed failed", "message_id", msg.ID, "error", err)
	}
}

// nextBackoff computes the retry delay for an attempt count as
// InitialInterval times cenkalti/backoff/v4's default Multiplier raised to
// attempt, capped at MaxInterval, without randomization.
func nextBackoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	d := b.InitialInterval
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d > b.MaxInterval {
			return b.MaxInterval
		}
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
