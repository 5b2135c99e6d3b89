package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// sagaTask is one unit of coordinator work: run a specific saga's current
// step, or its compensation once it is compensating. All tasks for the
// same SagaID are always routed to the same shard (see consistentHash),
// and each shard drains its queue with exactly one goroutine, so no two
// tasks for the same SagaID run concurrently. TimeoutSaga is not a task:
// it runs on its caller's goroutine under the per-SagaID lock.
type sagaTask struct {
	sagaID  string
	execute func(ctx context.Context)
}

// shard is a single-worker task queue, grounded on the teacher's
// scale.WorkerPool but deliberately non-elastic: a saga's single-owner
// guarantee depends on exactly one goroutine draining each shard.
type shard struct {
	id     string
	tasks  chan sagaTask
	cancel context.CancelFunc
	done   chan struct{}
}

func newShard(id string, queueSize int) *shard {
	return &shard{
		id:    id,
		tasks: make(chan sagaTask, queueSize),
		done:  make(chan struct{}),
	}
}

func (s *shard) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		for {
			select {
			case task, ok := <-s.tasks:
				if !ok {
					return
				}
				task.execute(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *shard) submit(ctx context.Context, task sagaTask) error {
	select {
	case s.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *shard) stop() {
	s.cancel()
	close(s.tasks)
	<-s.done
}

// shardRouter owns a fixed set of shards and routes work by SagaID via
// consistent hashing, grounded on the teacher's scale.ShardManager.
type shardRouter struct {
	mu     sync.RWMutex
	ring   *consistentHash
	shards map[string]*shard
}

func newShardRouter(shardCount, queueSize int) *shardRouter {
	if shardCount <= 0 {
		shardCount = 4
	}
	r := &shardRouter{
		ring:   newConsistentHash(100),
		shards: make(map[string]*shard, shardCount),
	}
	for i := 0; i < shardCount; i++ {
		id := fmt.Sprintf("shard-%d", i)
		s := newShard(id, queueSize)
		r.shards[id] = s
		r.ring.AddNode(id)
	}
	return r
}

func (r *shardRouter) start(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.shards {
		s.start(ctx)
	}
}

func (r *shardRouter) stop() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.shards {
		s.stop()
	}
}

func (r *shardRouter) submit(ctx context.Context, sagaID string, execute func(ctx context.Context)) error {
	r.mu.RLock()
	node, err := r.ring.GetNode(sagaID)
	if err != nil {
		r.mu.RUnlock()
		return fmt.Errorf("route saga %s: %w", sagaID, err)
	}
	s, ok := r.shards[node]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("shard %s not found for saga %s", node, sagaID)
	}
	return s.submit(ctx, sagaTask{sagaID: sagaID, execute: execute})
}
