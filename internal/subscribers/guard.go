package subscribers

import (
	"errors"
	"sync"
)

var ErrBusy = errors.New("recipient evaluation already in progress")

// Guard marks recipients whose evaluation or delivery is still running so an
// overlapping cycle skips them instead of queueing behind them.
type Guard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{busy: make(map[string]struct{})}
}

// Acquire claims key. It fails with ErrBusy when key is already claimed.
func (g *Guard) Acquire(key string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[key]; ok {
		return nil, ErrBusy
	}
	g.busy[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.busy, key)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports how many keys are currently claimed.
func (g *Guard) Busy() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.busy)
}
