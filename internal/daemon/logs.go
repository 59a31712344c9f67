package daemon

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogBroadcaster fans daemon log output out to attached clients,
// keeping a small history for late joiners.
type LogBroadcaster struct {
	clients map[chan string]bool
	history []string
	maxHist int
	mu      sync.Mutex
}

// NewLogBroadcaster creates a broadcaster with the given history
// size.
func NewLogBroadcaster(historySize int) *LogBroadcaster {
	if historySize <= 0 {
		historySize = 1000
	}
	return &LogBroadcaster{
		clients: make(map[chan string]bool),
		history: make([]string, 0, historySize),
		maxHist: historySize,
	}
}

// Subscribe registers a client channel and returns up to historyLines
// of recent output for replay.
func (lb *LogBroadcaster) Subscribe(historyLines int) (chan string, []string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	ch := make(chan string, 100)
	lb.clients[ch] = true

	var history []string
	if historyLines > 0 && len(lb.history) > 0 {
		start := len(lb.history) - historyLines
		if start < 0 {
			start = 0
		}
		history = make([]string, len(lb.history)-start)
		copy(history, lb.history[start:])
	}

	return ch, history
}

// Unsubscribe removes and closes a client channel.
func (lb *LogBroadcaster) Unsubscribe(ch chan string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.clients[ch] {
		delete(lb.clients, ch)
		close(ch)
	}
}

// Broadcast records the message and sends it to every client. Clients
// with a full buffer are skipped so a stalled reader never blocks
// logging.
func (lb *LogBroadcaster) Broadcast(message string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.history) >= lb.maxHist {
		lb.history = lb.history[1:]
	}
	lb.history = append(lb.history, message)

	for ch := range lb.clients {
		select {
		case ch <- message:
		default:
		}
	}
}

// logWriter adapts the broadcaster to io.Writer for slog.
type logWriter struct {
	broadcaster *LogBroadcaster
}

func (lw *logWriter) Write(p []byte) (n int, err error) {
	lw.broadcaster.Broadcast(string(p))
	return len(p), nil
}

// setupLogging points the default slog logger at a tint handler that
// writes both to stderr and to attached clients.
func (d *Daemon) setupLogging() {
	multiWriter := io.MultiWriter(os.Stderr, &logWriter{broadcaster: d.logBroadcast})

	level := slog.LevelInfo
	if d.verbose > 0 {
		level = slog.LevelDebug
	}

	handler := tint.NewHandler(multiWriter, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	})
	slog.SetDefault(slog.New(handler))
}

// watchDisconnect signals done when the client closes its side of the
// connection.
func watchDisconnect(conn net.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, bufio.NewReader(conn))
		close(done)
	}()
	return done
}

// handleAttach streams raw daemon log output to the client until they
// disconnect.
func (d *Daemon) handleAttach(conn net.Conn, historyLines int) {
	defer conn.Close()

	logChan, history := d.logBroadcast.Subscribe(historyLines)
	defer d.logBroadcast.Unsubscribe(logChan)

	if _, err := conn.Write([]byte("Attached to frpdeck daemon. Press Ctrl+C to detach.\n")); err != nil {
		return
	}
	for _, msg := range history {
		if _, err := conn.Write([]byte(msg)); err != nil {
			return
		}
	}

	done := watchDisconnect(conn)
	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				return
			}
			if _, err := conn.Write([]byte(msg)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleSlotLogs streams one tunnel's live output lines to the client
// in receipt order, preceded by recent history. The stream follows
// the collector across its lifetime: it ends when the client
// disconnects or the process output ends.
func (d *Daemon) handleSlotLogs(conn net.Conn, slot, historyLines int) {
	defer conn.Close()

	collector, err := d.registry.Collector(slot)
	if err != nil {
		fmt.Fprintf(conn, "error: %v\n", err)
		return
	}
	if collector == nil {
		fmt.Fprintf(conn, "Tunnel at slot %d is not running.\n", slot)
		return
	}

	lineChan, history := collector.Subscribe(historyLines)
	defer collector.Unsubscribe(lineChan)

	for _, line := range history {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			return
		}
	}

	done := watchDisconnect(conn)
	for {
		select {
		case line, ok := <-lineChan:
			if !ok {
				return
			}
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				return
			}
		case <-collector.Done():
			// Drain anything still queued, then report the end.
			for {
				select {
				case line, ok := <-lineChan:
					if !ok {
						return
					}
					if _, err := conn.Write([]byte(line + "\n")); err != nil {
						return
					}
				default:
					conn.Write([]byte("--- output ended ---\n"))
					return
				}
			}
		case <-done:
			return
		}
	}
}
