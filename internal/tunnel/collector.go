package tunnel

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// Collector consumes a child process's merged stdout/stderr stream,
// splits it into trimmed lines, and makes them available two ways: as
// a growing accumulated buffer for endpoint extraction, and as live
// line events for any number of subscribers. One Collector belongs to
// exactly one process handle and dies with it.
type Collector struct {
	mu      sync.Mutex
	buf     strings.Builder
	clients map[chan string]bool
	history []string
	maxHist int
	done    chan struct{}
}

// NewCollector creates a collector with the given line history size
// for late subscribers.
func NewCollector(historySize int) *Collector {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Collector{
		clients: make(map[chan string]bool),
		history: make([]string, 0, historySize),
		maxHist: historySize,
		done:    make(chan struct{}),
	}
}

// Run reads the stream until EOF, publishing each non-empty trimmed
// line. It closes the stream when the process stops producing output.
// A read error ends the loop the same way EOF does; everything
// accumulated so far stays valid. Run never panics across the
// goroutine boundary.
func (c *Collector) Run(stream io.ReadCloser) {
	defer close(c.done)
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Undecodable bytes are replaced rather than propagated.
		if !utf8.ValidString(line) {
			line = strings.ToValidUTF8(line, "�")
		}
		c.publish(line)
	}
	// scanner.Err() is deliberately dropped: a decode or read failure
	// simply ends collection, it never crashes the supervisor.
}

// publish appends one complete line to the buffer and fans it out.
// Whole lines only: snapshot readers can race with the collector and
// see a prefix of the output, never a torn line.
func (c *Collector) publish(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.WriteString(line)
	c.buf.WriteByte('\n')

	if len(c.history) >= c.maxHist {
		c.history = c.history[1:]
	}
	c.history = append(c.history, line)

	for ch := range c.clients {
		select {
		case ch <- line:
		default:
			// Subscriber buffer full - drop for this client rather
			// than block the read loop.
		}
	}
}

// Snapshot returns the accumulated output so far. Safe to call while
// the collector is still appending.
func (c *Collector) Snapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Subscribe registers a live line channel and returns it together
// with up to historyLines of already-collected output for replay.
func (c *Collector) Subscribe(historyLines int) (chan string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan string, 100)
	c.clients[ch] = true

	var history []string
	if historyLines > 0 && len(c.history) > 0 {
		start := len(c.history) - historyLines
		if start < 0 {
			start = 0
		}
		history = make([]string, len(c.history)-start)
		copy(history, c.history[start:])
	}

	return ch, history
}

// CloseSubscribers closes every live subscriber channel. Called on
// stop so attached viewers see the stream end right away, even when
// the child ignores the terminate signal and keeps producing output.
func (c *Collector) CloseSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.clients {
		delete(c.clients, ch)
		close(ch)
	}
}

// Unsubscribe removes and closes a subscriber channel.
func (c *Collector) Unsubscribe(ch chan string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clients[ch] {
		delete(c.clients, ch)
		close(ch)
	}
}

// Done is closed when the read loop has finished.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}
