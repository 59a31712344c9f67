package tunnel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventLogger receives notable controller events for journaling. It
// may be nil.
type EventLogger func(slot int, event, details string)

// Controller owns one slot: its record, its process handle while
// running, and the deferred extraction pass scheduled after each
// start. All exported methods must be called with the registry's
// control lock held; the registry is the single control path for
// state transitions and persistence. The lock is shared with the
// controller only so the deferred extraction callback can re-enter
// the control path on its own.
type Controller struct {
	record Record
	state  RunState
	handle *Handle

	mu          sync.Locker
	probeDelay  time.Duration
	historySize int

	persist  func() error
	logEvent EventLogger
}

// NewController creates a stopped controller for the given record.
// mu is the registry's control lock. persist is called after any
// change that must reach disk.
func NewController(rec Record, mu sync.Locker, probeDelay time.Duration, historySize int, persist func() error, logEvent EventLogger) *Controller {
	return &Controller{
		record:      rec,
		state:       StateStopped,
		mu:          mu,
		probeDelay:  probeDelay,
		historySize: historySize,
		persist:     persist,
		logEvent:    logEvent,
	}
}

// Record returns a copy of the slot's current record.
func (c *Controller) Record() Record {
	return c.record
}

// State returns the slot's current run state.
func (c *Controller) State() RunState {
	return c.state
}

// Handle returns the active process handle, nil when stopped.
func (c *Controller) Handle() *Handle {
	return c.handle
}

// ToggleOn transitions Stopped -> Running. On spawn failure the slot
// stays Stopped and the record is unchanged.
func (c *Controller) ToggleOn() error {
	if c.state == StateRunning {
		return nil
	}
	if err := c.start(); err != nil {
		return err
	}
	c.event("start", fmt.Sprintf("PID %d", c.handle.Pid()))
	return nil
}

// ToggleOff transitions Running -> Stopped. Idempotent: toggling off
// a stopped slot is a no-op.
func (c *Controller) ToggleOff() {
	if c.state != StateRunning {
		return
	}
	c.handle.Stop()
	c.handle = nil
	c.state = StateStopped
	slog.Info(fmt.Sprintf("Tunnel '%s' closed", c.record.Name))
	c.event("stop", "")
	c.save()
}

// Edit applies a settings submission. Name and launch command always
// apply; an over-long description is rejected and reverts while the
// rest of the submission stands. A running slot is stopped and
// restarted with the new command (full restart, not live
// reconfiguration) and a new extraction pass is scheduled. The edit
// is persisted either way.
func (c *Controller) Edit(edit FieldEdit) error {
	applyErr := c.record.Apply(edit)

	if c.state == StateRunning {
		c.handle.Stop()
		c.handle = nil
		c.state = StateStopped
		if err := c.start(); err != nil {
			c.save()
			if applyErr != nil {
				return applyErr
			}
			return err
		}
		c.event("restart", fmt.Sprintf("PID %d", c.handle.Pid()))
	}

	c.save()
	return applyErr
}

// start spawns the process and schedules the deferred extraction
// pass. Caller has already ensured no handle is active.
func (c *Controller) start() error {
	handle, err := Start(c.record.Name, c.record.LaunchCommand, c.historySize)
	if err != nil {
		c.event("spawn_failed", err.Error())
		return fmt.Errorf("tunnel '%s': %w", c.record.Name, err)
	}
	c.handle = handle
	c.state = StateRunning

	// One deferred pass per start. The callback captures the handle
	// it was scheduled for; by the time it fires the slot may have
	// been toggled off or restarted, in which case it must find the
	// handle stale and do nothing.
	time.AfterFunc(c.probeDelay, func() {
		c.ExtractionPass(handle)
	})
	return nil
}

// ExtractionPass reads the collector buffer of the handle it was
// scheduled against and updates the last-known endpoint on a match.
// A miss leaves the prior endpoint untouched: stale-but-valid beats
// blank. The pass is a no-op when the given handle is no longer
// current. Unlike the other methods it takes the control lock itself,
// because it is entered from a timer goroutine.
func (c *Controller) ExtractionPass(scheduled *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil || c.handle != scheduled {
		return
	}

	endpoint, ok := ExtractEndpoint(scheduled.Collector.Snapshot())
	if !ok {
		return
	}

	if c.record.LastEndpoint != endpoint {
		c.record.LastEndpoint = endpoint
		slog.Info(fmt.Sprintf("Tunnel '%s' endpoint: %s", c.record.Name, endpoint))
		c.event("endpoint", endpoint)
	}
	c.save()
}

func (c *Controller) save() {
	if c.persist == nil {
		return
	}
	if err := c.persist(); err != nil {
		slog.Error(fmt.Sprintf("Failed to persist tunnel table: %v", err))
	}
}

func (c *Controller) event(kind, details string) {
	if c.logEvent != nil {
		c.logEvent(c.record.SlotIndex, kind, details)
	}
}
