package container

import "sync"

// Locked composes a plain container value C with a mutex, giving it
// the thread-safe variant the original library generates via its
// lock::list<T> template alias over the thread-unsafe container.
// Rather than a second, lock-aware reimplementation of every
// container, Go composition gets the same result: Locked[slist.List[T]],
// Locked[queue.SPSCQueue[T]], and so on.
type Locked[C any] struct {
	mu        sync.Mutex
	container C
}

// NewLocked wraps c for exclusive access.
func NewLocked[C any](c C) *Locked[C] {
	return &Locked[C]{container: c}
}

// With runs fn against the wrapped container under the lock, returning
// whatever fn returns. This is the only access path — callers never
// see the container directly, so there's no way to bypass the lock by
// accident.
func With[C any, R any](l *Locked[C], fn func(c *C) R) R {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(&l.container)
}

// WithErr is With for operations that can fail.
func WithErr[C any, R any](l *Locked[C], fn func(c *C) (R, error)) (R, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(&l.container)
}
