// ABOUTME: Thread-safe bounded window of recently seen transcript utterances.
// ABOUTME: Used by the session coordinator to drop duplicate inbound channel messages.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Key builds the window key for an utterance. Role and content are joined by
// a NUL byte so that no role/content pair can collide with another.
func Key(role, content string) string {
	return role + "\x00" + content
}

type entry struct {
	marked  time.Time
	element *list.Element
}

// Window remembers the most recent utterance keys, bounded by age and count.
// The oldest key is evicted first when the window is full.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a window. A ttl of zero or less keeps keys until evicted by size;
// a maxSize of zero or less means unbounded. When ttl is positive a background
// goroutine sweeps expired keys until Close is called.
func New(ttl time.Duration, maxSize int) *Window {
	w := &Window{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go w.sweep(sweepInterval(ttl))
	}
	return w
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Seen reports whether key is in the window and not expired.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.liveLocked(key)
}

// CheckAndMark reports whether key was already present and marks it if not.
// Returns true for a duplicate.
func (w *Window) CheckAndMark(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.liveLocked(key) {
		return true
	}
	w.markLocked(key)
	return false
}

// Mark records key as seen, refreshing its age if it was already present.
func (w *Window) Mark(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markLocked(key)
}

// Seed marks every key, oldest first, so later keys survive size eviction.
func (w *Window) Seed(keys []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, k := range keys {
		w.markLocked(k)
	}
}

// Forget removes key so the next identical utterance is accepted again.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.seen[key]; ok {
		w.order.Remove(e.element)
		delete(w.seen, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) liveLocked(key string) bool {
	e, ok := w.seen[key]
	if !ok {
		return false
	}
	return w.ttl <= 0 || w.now().Sub(e.marked) < w.ttl
}

// markLocked must be called with mu held.
func (w *Window) markLocked(key string) {
	now := w.now()

	if e, ok := w.seen[key]; ok {
		e.marked = now
		w.order.MoveToBack(e.element)
		return
	}

	if w.maxSize > 0 && len(w.seen) >= w.maxSize {
		w.evictOldest()
	}

	w.seen[key] = &entry{marked: now, element: w.order.PushBack(key)}
}

// evictOldest must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, key)
}

func (w *Window) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.removeExpired()
		case <-w.done:
			return
		}
	}
}

// removeExpired drops expired keys. Keys are ordered by mark time, so the
// scan stops at the first live one.
func (w *Window) removeExpired() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(w.seen[key].marked) < w.ttl {
			return
		}
		w.order.Remove(front)
		delete(w.seen, key)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
