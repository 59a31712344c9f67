package tunnel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Options tunes a registry. Zero values fall back to the defaults the
// original table used. The slot count is not an option: it always
// follows the store the registry is built on.
type Options struct {
	ProbeDelay  time.Duration // delay before the deferred extraction pass
	HistorySize int           // per-collector line history
	LogEvent    EventLogger   // optional event journal hook
}

// Registry is the fixed-size collection of tunnel controllers. It is
// created once at daemon startup, loads the persisted slot table, and
// serializes every state transition and every save behind one lock -
// the single-writer guarantee the table format relies on.
type Registry struct {
	mu          sync.Mutex
	controllers []*Controller
	store       *Store
}

// NewRegistry constructs the registry and loads the persisted table.
// One controller exists per store slot; every slot starts Stopped
// regardless of its state in a prior session.
func NewRegistry(store *Store, opts Options) (*Registry, error) {
	if opts.ProbeDelay <= 0 {
		opts.ProbeDelay = time.Second
	}

	records, err := store.Load()
	if err != nil {
		return nil, err
	}

	r := &Registry{store: store}
	r.controllers = make([]*Controller, len(records))
	for i := range r.controllers {
		r.controllers[i] = NewController(records[i], &r.mu, opts.ProbeDelay, opts.HistorySize, r.saveLocked, opts.LogEvent)
	}
	return r, nil
}

// Slots returns the fixed number of slots.
func (r *Registry) Slots() int {
	return len(r.controllers)
}

func (r *Registry) controller(slot int) (*Controller, error) {
	if slot < 0 || slot >= len(r.controllers) {
		return nil, fmt.Errorf("%w: %d", ErrSlotOutOfRange, slot)
	}
	return r.controllers[slot], nil
}

// ToggleOn starts the tunnel in the given slot.
func (r *Registry) ToggleOn(slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.controller(slot)
	if err != nil {
		return err
	}
	return c.ToggleOn()
}

// ToggleOff stops the tunnel in the given slot. Stopping an already
// stopped slot is a no-op.
func (r *Registry) ToggleOff(slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.controller(slot)
	if err != nil {
		return err
	}
	c.ToggleOff()
	return nil
}

// Edit applies a settings submission to the given slot.
func (r *Registry) Edit(slot int, edit FieldEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.controller(slot)
	if err != nil {
		return err
	}
	return c.Edit(edit)
}

// SlotStatus is a point-in-time snapshot of one slot for display.
type SlotStatus struct {
	Slot        int      `json:"slot"`
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Description string   `json:"description"`
	State       RunState `json:"state"`
	Pid         int      `json:"pid,omitempty"`
	Endpoint    string   `json:"endpoint,omitempty"`
}

// Status snapshots every slot.
func (r *Registry) Status() []SlotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]SlotStatus, len(r.controllers))
	for i, c := range r.controllers {
		rec := c.Record()
		statuses[i] = SlotStatus{
			Slot:        rec.SlotIndex,
			Name:        rec.Name,
			Command:     rec.LaunchCommand,
			Description: rec.Description,
			State:       c.State(),
			Endpoint:    rec.LastEndpoint,
		}
		if h := c.Handle(); h != nil {
			statuses[i].Pid = h.Pid()
		}
	}
	return statuses
}

// Endpoint returns the slot's last-known endpoint, empty when none
// has ever been extracted.
func (r *Registry) Endpoint(slot int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.controller(slot)
	if err != nil {
		return "", err
	}
	return c.Record().LastEndpoint, nil
}

// Collector returns the slot's live collector, or nil when the slot
// is stopped. Callers subscribe for live output display.
func (r *Registry) Collector(slot int) (*Collector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.controller(slot)
	if err != nil {
		return nil, err
	}
	if h := c.Handle(); h != nil {
		return h.Collector, nil
	}
	return nil, nil
}

// ReloadStopped re-reads the persisted table and refreshes the
// records of stopped slots. Running slots keep their in-memory record
// until restarted, so an external file edit never yanks the
// configuration out from under a live process.
func (r *Registry) ReloadStopped() error {
	records, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reloaded := 0
	for i, c := range r.controllers {
		if c.State() != StateStopped {
			continue
		}
		if c.record != records[i] {
			c.record = records[i]
			reloaded++
		}
	}
	if reloaded > 0 {
		slog.Info(fmt.Sprintf("Reloaded %d stopped slot(s) from %s", reloaded, r.store.Path()))
	}
	return nil
}

// Save persists the current slot table.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

// saveLocked writes the table. Caller holds the registry lock.
func (r *Registry) saveLocked() error {
	records := make([]Record, len(r.controllers))
	for i, c := range r.controllers {
		records[i] = c.Record()
	}
	return r.store.Save(records)
}

// Shutdown toggles off every running slot and persists the table.
// Called exactly once, on daemon exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.controllers {
		c.ToggleOff()
	}
	if err := r.saveLocked(); err != nil {
		slog.Error(fmt.Sprintf("Failed to persist tunnel table on shutdown: %v", err))
	}
}
