package hub

import (
	"github.com/wanhive/hub/internal/watcher"
)

// registry maps UIDs to live watchers. It exclusively owns every
// attached watcher; the notifier set only holds non-owning references
// into it. Single-goroutine.
type registry struct {
	watchers map[uint64]watcher.Watcher
}

func newRegistry() *registry {
	return &registry{watchers: make(map[uint64]watcher.Watcher)}
}

func (r *registry) contains(uid uint64) bool {
	_, found := r.watchers[uid]
	return found
}

func (r *registry) get(uid uint64) watcher.Watcher {
	return r.watchers[uid]
}

func (r *registry) put(w watcher.Watcher) {
	r.watchers[w.UID()] = w
}

func (r *registry) remove(uid uint64) {
	delete(r.watchers, uid)
}

// move relocates the watcher at from under the uid to. On success it
// returns the moved watcher and the evicted previous occupant of to
// (nil when the slot was free or held the same watcher). Without
// replace, a conflicting occupant fails the move and the from-watcher
// is returned for the caller to dispose of.
func (r *registry) move(from, to uint64, replace bool) (moved, evicted watcher.Watcher, ok bool) {
	w, found := r.watchers[from]
	if !found {
		return nil, nil, false
	}
	occupant := r.watchers[to]
	if occupant != nil && occupant != w && !replace {
		return w, nil, false
	}
	delete(r.watchers, from)
	w.SetUID(to)
	r.watchers[to] = w
	if occupant == w {
		occupant = nil
	}
	return w, occupant, true
}

// iterate visits every watcher; a true return removes the entry.
func (r *registry) iterate(fn func(w watcher.Watcher) bool) {
	for uid, w := range r.watchers {
		if fn(w) {
			delete(r.watchers, uid)
		}
	}
}

func (r *registry) size() int { return len(r.watchers) }
