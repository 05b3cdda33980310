package queue

import (
	"context"
	"sync"
)

// Listener receives fresh Stats after every queue mutation.
type Listener func(Stats)

type registry struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []entry
}

type entry struct {
	id uint64
	fn Listener
}

func (r *registry) add(fn Listener) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.listeners = append(r.listeners, entry{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.listeners {
		if e.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *registry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Listener, len(r.listeners))
	for i, e := range r.listeners {
		out[i] = e.fn
	}
	return out
}

// Subscribe registers fn and calls it once right away with the current
// stats. The returned function unregisters it and is safe to call twice.
// Listeners must not mutate the queue from inside the callback.
func (q *Queue) Subscribe(ctx context.Context, fn Listener) (unsubscribe func()) {
	q.notifyMu.Lock()
	id := q.subs.add(fn)
	q.call(fn, q.Stats(ctx))
	q.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { q.subs.remove(id) })
	}
}

// Watch returns a channel that always holds the latest Stats. Unread
// values are replaced, not queued. The channel closes when ctx is done.
func (q *Queue) Watch(ctx context.Context) <-chan Stats {
	ch := make(chan Stats, 1)

	var mu sync.Mutex
	closed := false
	unsubscribe := q.Subscribe(ctx, func(s Stats) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ch:
		default:
		}
		ch <- s
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

// Notify recomputes stats from storage and delivers them to every
// subscriber in registration order.
func (q *Queue) Notify(ctx context.Context) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	listeners := q.subs.snapshot()
	if len(listeners) == 0 {
		return
	}
	stats := q.Stats(ctx)
	for _, fn := range listeners {
		q.call(fn, stats)
	}
}

// call runs one listener; a panicking listener is logged and skipped.
func (q *Queue) call(fn Listener, s Stats) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue listener panicked", "panic", r)
		}
	}()
	fn(s)
}
