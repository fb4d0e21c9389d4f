package capacity

import "sync"

// Guard serialises commit-phase capacity checks. Two concurrent commits for
// the same lock key cannot both pass the check and jointly exceed the
// ceiling; callers recompute the committed sum inside the guarded section,
// immediately before writing.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard builds an empty guard.
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*sync.Mutex)}
}

func (g *Guard) lock(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[key]
	if !ok {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	return l
}

// Do runs fn while holding the mutex for key.
func (g *Guard) Do(key string, fn func() error) error {
	l := g.lock(key)
	l.Lock()
	defer l.Unlock()
	return fn()
}
