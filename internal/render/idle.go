package render

import (
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// lifecycle event Chrome emits once a document has had at most two network
// connections for 500ms
const networkAlmostIdle = "networkAlmostIdle"

// idleWatch waits for networkAlmostIdle of one navigation. Events are fed
// from the target listener, which may run before the navigation's loader id
// is known, so idle loaders seen early are remembered.
type idleWatch struct {
	mu     sync.Mutex
	loader cdp.LoaderID
	seen   map[cdp.LoaderID]bool
	done   chan struct{}
	closed bool
}

func newIdleWatch() *idleWatch {
	return &idleWatch{seen: map[cdp.LoaderID]bool{}, done: make(chan struct{})}
}

// observe is the target listener.
func (w *idleWatch) observe(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != networkAlmostIdle {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loader == "" {
		w.seen[e.LoaderID] = true
		return
	}
	if e.LoaderID == w.loader {
		w.fire()
	}
}

// expect sets the navigation's loader id.
func (w *idleWatch) expect(loader cdp.LoaderID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loader = loader
	if w.seen[loader] {
		w.fire()
	}
}

func (w *idleWatch) fire() {
	if !w.closed {
		w.closed = true
		close(w.done)
	}
}

// Done is closed when the expected loader went almost idle.
func (w *idleWatch) Done() <-chan struct{} { return w.done }
