package browser

import (
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// idleTracker matches networkIdle lifecycle events to the loader of a
// navigation. An event may arrive before anyone waits for it.
type idleTracker struct {
	mu      sync.Mutex
	seen    map[cdp.LoaderID]bool
	waiters map[cdp.LoaderID]chan struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		seen:    map[cdp.LoaderID]bool{},
		waiters: map[cdp.LoaderID]chan struct{}{},
	}
}

// observe is a chromedp target listener. It must not block.
func (t *idleTracker) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != "networkIdle" || e.LoaderID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.waiters[e.LoaderID]; ok {
		close(ch)
		delete(t.waiters, e.LoaderID)
		return
	}
	t.seen[e.LoaderID] = true
}

// wait returns a channel closed once loader has gone network idle. Events
// recorded for other loaders are dropped.
func (t *idleTracker) wait(loader cdp.LoaderID) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan struct{})
	if t.seen[loader] {
		close(ch)
	} else {
		t.waiters[loader] = ch
	}
	clear(t.seen)
	return ch
}

// forget drops the waiter of loader after the caller gave up on it.
func (t *idleTracker) forget(loader cdp.LoaderID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.waiters, loader)
}
