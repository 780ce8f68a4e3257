package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscriberBuffer is how many snapshots a slow subscriber may fall behind
// before older ones are dropped in favour of the newest.
const subscriberBuffer = 16

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the logger used by the loop and reducer.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.reducer.logger = logger
		}
	}
}

// WithMetrics sets the lifecycle instrumentation.
func WithMetrics(m Metrics) LoopOption {
	return func(l *Loop) {
		if m != nil {
			l.reducer.metrics = m
		}
	}
}

// envelope is a queued action, or a barrier when ack is set.
type envelope struct {
	action Action
	ack    chan struct{}
}

// Loop is the single writer of application state. Actions are queued by
// Dispatch from any goroutine and applied one at a time by Run. Workers
// started for Send hand their result back through the same queue.
type Loop struct {
	reducer *reducer

	mu      sync.Mutex
	queue   []envelope
	actions int // queued envelopes that are not barriers
	wake    chan struct{}

	pending    atomic.Int64
	workerExit chan struct{}

	subsMu sync.Mutex
	subs   map[uuid.UUID]chan Snapshot

	version uint64
	latest  atomic.Pointer[Snapshot]
}

// NewLoop creates a loop over gw and ex. A Hydrate action is queued so the
// first thing Run does is load the persisted lists.
func NewLoop(opts Options, gw Gateway, ex Executor, options ...LoopOption) *Loop {
	l := &Loop{
		reducer:    newReducer(opts, gw, ex),
		wake:       make(chan struct{}, 1),
		workerExit: make(chan struct{}, 1),
		subs:       make(map[uuid.UUID]chan Snapshot),
	}
	for _, o := range options {
		o(l)
	}

	l.reducer.emit = l.Dispatch
	l.reducer.spawn = l.spawn

	initial := Snapshot{State: l.reducer.state.Clone()}
	l.latest.Store(&initial)

	l.Dispatch(Hydrate{})
	return l
}

// Dispatch queues an action. It never blocks.
func (l *Loop) Dispatch(a Action) {
	l.enqueue(envelope{action: a})
}

func (l *Loop) enqueue(env envelope) {
	l.mu.Lock()
	l.queue = append(l.queue, env)
	if env.ack == nil {
		l.actions++
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// pop removes the head of the queue and reports how many actions are still
// queued. Barriers are not counted.
func (l *Loop) pop() (envelope, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return envelope{}, 0, false
	}
	env := l.queue[0]
	l.queue[0] = envelope{}
	l.queue = l.queue[1:]
	if env.ack == nil {
		l.actions--
	}
	return env, l.actions, true
}

// spawn runs f on its own goroutine and tracks it until it returns.
func (l *Loop) spawn(f func()) {
	l.pending.Add(1)
	go func() {
		defer func() {
			l.pending.Add(-1)
			select {
			case l.workerExit <- struct{}{}:
			default:
			}
		}()
		f()
	}()
}

// Run applies queued actions until ctx is done. Requests already in flight
// are not cancelled when Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.reducer.ctx = context.WithoutCancel(ctx)

	for {
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			env, actions, ok := l.pop()
			if !ok {
				break
			}
			l.process(env, actions)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) process(env envelope, actions int) {
	if env.ack != nil {
		// A barrier releases once no action is left in the queue, including
		// ones emitted while processing those queued before it. Other
		// barriers do not hold it back.
		if actions > 0 {
			l.enqueue(env)
			return
		}
		close(env.ack)
		return
	}

	l.reducer.apply(env.action)
	l.publish(env.action.Kind())
}

func (l *Loop) publish(cause Kind) {
	l.version++
	snap := &Snapshot{State: l.reducer.state.Clone(), Cause: cause, Version: l.version}
	l.latest.Store(snap)

	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- *snap:
		default:
			// Drop the oldest so the newest state always gets through.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- *snap:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving a snapshot after every applied
// action, and a function that ends the subscription. A subscriber that
// falls behind loses intermediate snapshots, never the latest one.
func (l *Loop) Subscribe() (<-chan Snapshot, func()) {
	id := uuid.New()
	ch := make(chan Snapshot, subscriberBuffer)

	l.subsMu.Lock()
	l.subs[id] = ch
	l.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subsMu.Lock()
			delete(l.subs, id)
			l.subsMu.Unlock()
		})
	}
}

// Snapshot returns the most recently published state.
func (l *Loop) Snapshot() Snapshot {
	snap := l.latest.Load()
	s := *snap
	s.State = snap.State.Clone()
	return s
}

// Sync blocks until every action queued before the call, and every action
// those emitted, has been applied. Run must be running.
func (l *Loop) Sync(ctx context.Context) error {
	ack := make(chan struct{})
	l.enqueue(envelope{ack: ack})
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle blocks until no request is in flight and the queue is drained,
// i.e. every Send dispatched so far has been completed and persisted.
func (l *Loop) Settle(ctx context.Context) error {
	for {
		idle := l.pending.Load() == 0
		if err := l.Sync(ctx); err != nil {
			return err
		}
		if idle && l.pending.Load() == 0 {
			return nil
		}
		select {
		case <-l.workerExit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
