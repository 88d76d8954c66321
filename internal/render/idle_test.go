package render

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

func isDone(w *idleWatch) bool {
	select {
	case <-w.Done():
		return true
	default:
		return false
	}
}

func TestIdleWatch_IgnoresOtherLoaders(t *testing.T) {
	w := newIdleWatch()
	// replayed for about:blank when lifecycle events are enabled
	w.observe(&page.EventLifecycleEvent{LoaderID: "blank", Name: networkAlmostIdle})
	w.observe(&page.EventLifecycleEvent{LoaderID: "blank", Name: "networkIdle"})
	w.expect("nav")
	if isDone(w) {
		t.Fatalf("idle event of another document released the wait")
	}
	w.observe(&page.EventLifecycleEvent{LoaderID: "other", Name: networkAlmostIdle})
	w.observe(&page.EventLifecycleEvent{LoaderID: "nav", Name: "load"})
	w.observe(&page.EventLifecycleEvent{LoaderID: "nav", Name: "networkIdle"})
	if isDone(w) {
		t.Fatalf("released before networkAlmostIdle of the navigation")
	}
	w.observe(&page.EventLifecycleEvent{LoaderID: "nav", Name: networkAlmostIdle})
	if !isDone(w) {
		t.Fatalf("expected release on networkAlmostIdle of the navigation")
	}
	// repeated events must not close twice
	w.observe(&page.EventLifecycleEvent{LoaderID: "nav", Name: networkAlmostIdle})
}

func TestIdleWatch_EventBeforeLoaderKnown(t *testing.T) {
	w := newIdleWatch()
	w.observe(&page.EventLifecycleEvent{LoaderID: cdp.LoaderID("nav"), Name: networkAlmostIdle})
	if isDone(w) {
		t.Fatalf("released before the loader id was known")
	}
	w.expect("nav")
	if !isDone(w) {
		t.Fatalf("expected release for an idle event that arrived before Navigate returned")
	}
}

func TestIdleWatch_IgnoresOtherEventTypes(t *testing.T) {
	w := newIdleWatch()
	w.expect("nav")
	w.observe(&page.EventLoadEventFired{})
	w.observe("not an event")
	if isDone(w) {
		t.Fatalf("unexpected release")
	}
}
