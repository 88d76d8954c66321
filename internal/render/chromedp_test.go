package render

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	c := New()
	if !c.Headless || c.NavigateTimeout != 20*time.Second || c.SettleDelay != 2500*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestRender_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Render(ctx, "http://127.0.0.1:1/"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

// Launches a real browser; opt in with EVENTCOLLECTOR_CHROME_TESTS=1.
func TestRender_DataURL(t *testing.T) {
	if os.Getenv("EVENTCOLLECTOR_CHROME_TESTS") != "1" {
		t.Skip("set EVENTCOLLECTOR_CHROME_TESTS=1 to run browser tests")
	}
	if _, err := exec.LookPath("google-chrome"); err != nil {
		if _, err := exec.LookPath("chromium"); err != nil {
			t.Skip("no chrome binary on PATH")
		}
	}
	c := New()
	c.NoSandbox = true
	c.SettleDelay = 100 * time.Millisecond
	html, err := c.Render(context.Background(), "data:text/html,<main>Konsert</main><script>document.querySelector('main').textContent+=' i kveld'</script>")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "Konsert i kveld"; !strings.Contains(html, want) {
		t.Fatalf("expected script output %q in %q", want, html)
	}
}
