package tunnel

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

// runCollector feeds input through a pipe and waits for the read loop
// to finish.
func runCollector(t *testing.T, input string) *Collector {
	t.Helper()

	c := NewCollector(100)
	r, w := io.Pipe()
	go c.Run(r)

	if _, err := w.Write([]byte(input)); err != nil {
		t.Fatalf("pipe write: %v", err)
	}
	w.Close()

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not finish")
	}
	return c
}

func TestCollector_TrimsAndDropsEmptyLines(t *testing.T) {
	c := runCollector(t, "  first  \n\n   \nsecond\n")

	if got := c.Snapshot(); got != "first\nsecond\n" {
		t.Errorf("snapshot %q", got)
	}
}

func TestCollector_PreservesOrder(t *testing.T) {
	var input strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&input, "line-%d\n", i)
	}
	c := runCollector(t, input.String())

	lines := strings.Split(strings.TrimRight(c.Snapshot(), "\n"), "\n")
	if len(lines) != 500 {
		t.Fatalf("expected 500 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if want := fmt.Sprintf("line-%d", i); line != want {
			t.Fatalf("line %d is %q, want %q", i, line, want)
		}
	}
}

func TestCollector_ReplacesInvalidUTF8(t *testing.T) {
	c := runCollector(t, "ok \xff\xfe end\n")

	// A run of undecodable bytes collapses to one replacement
	// character; nothing raw may reach the buffer.
	if got := c.Snapshot(); got != "ok � end\n" {
		t.Errorf("snapshot %q, want %q", got, "ok � end\n")
	}
}

func TestCollector_ValidUTF8PassesUntouched(t *testing.T) {
	c := runCollector(t, "您可以使用 [1.2.3.4:7000] 访问您的服务\n")

	if got := c.Snapshot(); got != "您可以使用 [1.2.3.4:7000] 访问您的服务\n" {
		t.Errorf("valid text was altered: %q", got)
	}
}

func TestCollector_SubscribeReceivesLines(t *testing.T) {
	c := NewCollector(100)
	ch, history := c.Subscribe(10)
	defer c.Unsubscribe(ch)

	if len(history) != 0 {
		t.Fatalf("unexpected history: %v", history)
	}

	r, w := io.Pipe()
	go c.Run(r)
	fmt.Fprint(w, "alpha\nbeta\n")
	w.Close()

	for _, want := range []string{"alpha", "beta"} {
		select {
		case got := <-ch:
			if got != want {
				t.Errorf("received %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestCollector_SubscribeHistoryReplay(t *testing.T) {
	c := runCollector(t, "one\ntwo\nthree\n")

	ch, history := c.Subscribe(2)
	defer c.Unsubscribe(ch)

	want := []string{"two", "three"}
	if len(history) != len(want) {
		t.Fatalf("history %v, want %v", history, want)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, history[i], want[i])
		}
	}
}

func TestCollector_SnapshotNeverTearsLines(t *testing.T) {
	c := NewCollector(100)
	r, w := io.Pipe()
	go c.Run(r)

	const line = "您可以使用 [10.0.0.1:7000] 访问您的服务"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			fmt.Fprintf(w, "%s %d\n", line, i)
		}
		w.Close()
	}()

	// Race snapshot reads against the appending collector: every
	// snapshot must be a prefix of whole lines, never a torn one.
	for i := 0; i < 200; i++ {
		snap := c.Snapshot()
		if snap == "" {
			continue
		}
		if !strings.HasSuffix(snap, "\n") {
			t.Fatalf("snapshot ends mid-line: %q", snap[len(snap)-20:])
		}
		for _, l := range strings.Split(strings.TrimRight(snap, "\n"), "\n") {
			if !strings.HasPrefix(l, "您可以使用") {
				t.Fatalf("torn line in snapshot: %q", l)
			}
		}
	}

	wg.Wait()
	<-c.Done()
}

func TestCollector_UnsubscribeTwice(t *testing.T) {
	c := NewCollector(10)
	ch, _ := c.Subscribe(0)
	c.Unsubscribe(ch)
	c.Unsubscribe(ch) // must not panic on double close
}
