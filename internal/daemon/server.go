package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/frpdeck/frpdeck/internal/core"
	"github.com/frpdeck/frpdeck/internal/db"
	"github.com/frpdeck/frpdeck/internal/tunnel"
)

// Daemon owns the tunnel registry and serves the control socket. All
// state transitions come in through the socket; the registry
// serializes them.
type Daemon struct {
	registry     *tunnel.Registry
	logBroadcast *LogBroadcaster
	database     *db.DB
	listener     net.Listener
	shutdownOnce sync.Once
	verbose      int
}

// New creates a daemon with its registry loaded from the persisted
// slot table.
func New() (*Daemon, error) {
	d := &Daemon{
		logBroadcast: NewLogBroadcaster(core.Config.HistorySize),
		verbose:      core.Config.Verbose,
	}

	if core.Config.Database {
		database, err := db.Open(core.GetDatabasePath())
		if err != nil {
			slog.Error("Failed to open event journal", "error", err)
		} else {
			d.database = database
		}
	}

	store := tunnel.NewStore(core.GetTunnelsPath(), core.Config.Slots)
	registry, err := tunnel.NewRegistry(store, tunnel.Options{
		ProbeDelay:  core.Config.ProbeDelay,
		HistorySize: core.Config.HistorySize,
		LogEvent:    d.logTunnelEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tunnel table: %w", err)
	}
	d.registry = registry

	return d, nil
}

// Registry exposes the daemon's registry, mainly for tests.
func (d *Daemon) Registry() *tunnel.Registry {
	return d.registry
}

func (d *Daemon) logTunnelEvent(slot int, event, details string) {
	if d.database == nil {
		return
	}
	name := tunnel.DefaultName(slot)
	for _, st := range d.registry.Status() {
		if st.Slot == slot {
			name = st.Name
			break
		}
	}
	if err := d.database.LogTunnelEvent(slot, name, event, details); err != nil {
		slog.Error("Failed to journal tunnel event", "error", err)
	}
}

// Run starts the daemon's main loop and blocks until shutdown.
func (d *Daemon) Run() {
	d.setupLogging()

	socketPath := core.GetSocketPath()
	pidFilePath := core.GetPIDFilePath()

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		// Socket creation can fail on a stale file left by a previous run.
		if _, statErr := os.Stat(socketPath); statErr == nil {
			conn, dialErr := net.Dial("unix", socketPath)
			if dialErr == nil {
				conn.Close()
				slog.Error("Fatal: Daemon is already running")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("Removing stale socket file: %s", socketPath))
			if removeErr := os.Remove(socketPath); removeErr != nil {
				slog.Error(fmt.Sprintf("Fatal: Could not remove stale socket: %v", removeErr))
				os.Exit(1)
			}
			listener, err = net.Listen("unix", socketPath)
		}
		if err != nil {
			slog.Error(fmt.Sprintf("Fatal: Could not create socket listener: %v", err))
			os.Exit(1)
		}
	}

	os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644)
	defer os.Remove(pidFilePath)
	defer os.Remove(socketPath)

	d.listener = listener
	slog.Info(fmt.Sprintf("Daemon listening on %s", socketPath))

	if d.database != nil {
		version := core.FormatVersion(core.Version)
		details := fmt.Sprintf("daemon started - version: %s, PID: %d, slots: %d", version, os.Getpid(), d.registry.Slots())
		if err := d.database.LogDaemonEvent("start", details); err != nil {
			slog.Error("Failed to journal daemon start", "error", err)
		}
	}

	d.watchTunnelsFile()

	// Graceful shutdown on SIGTERM/SIGINT: every running tunnel is
	// toggled off, the table persisted, and only then do we exit.
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-shutdownChan
		slog.Info("Shutdown signal received. Closing all tunnels.")
		d.shutdown()
		if d.listener != nil {
			d.listener.Close()
		}
		os.Exit(0)
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				slog.Info(fmt.Sprintf("Error accepting connection: %v", err))
			}
			break
		}
		go d.handleConnection(conn)
	}
}

// watchTunnelsFile reloads stopped slots when the slot table is
// edited externally. Saves made by the daemon itself also trip the
// watcher; the reload is cheap and finds nothing to change.
func (d *Daemon) watchTunnelsFile() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create table watcher", "error", err)
		return
	}

	// Watch the directory: editors replace the file, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(core.Config.ConfigPath); err != nil {
		slog.Error("Failed to watch config directory", "error", err)
		watcher.Close()
		return
	}

	tunnelsPath := core.GetTunnelsPath()
	go func() {
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != tunnelsPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				// Editors fire bursts of events; settle first.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					if err := d.registry.ReloadStopped(); err != nil {
						slog.Warn(fmt.Sprintf("Failed to reload tunnel table: %v", err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn(fmt.Sprintf("Table watcher error: %v", err))
			}
		}
	}()
}

// fieldEditRequest is the wire shape of a SET payload. Absent fields
// stay untouched.
type fieldEditRequest struct {
	Name   *string `json:"name,omitempty"`
	Params *string `json:"params,omitempty"`
	Desc   *string `json:"desc,omitempty"`
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	line := scanner.Text()
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	command, args := parts[0], parts[1:]

	if command != "VERSION" {
		slog.Info(fmt.Sprintf("Executing command: %s %v", command, args))
	}

	var response Response
	switch command {
	case "ON":
		response = d.withSlot(args, func(slot int) Response {
			return d.toggleOn(slot)
		})
	case "OFF":
		response = d.withSlot(args, func(slot int) Response {
			return d.toggleOff(slot)
		})
	case "SET":
		// The JSON payload may contain any whitespace; hand over the
		// raw remainder of the line instead of the re-split fields.
		response = d.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "SET")))
	case "STATUS":
		response = d.getStatus()
	case "ENDPOINT":
		response = d.withSlot(args, func(slot int) Response {
			return d.getEndpoint(slot)
		})
	case "EVENTS":
		limit := 20
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		response = d.getEvents(limit)
	case "LOGS":
		// Streaming command - no JSON response.
		if len(args) == 0 {
			response.AddMessage("Usage: LOGS <slot> [lines]", "ERROR")
			break
		}
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			response.AddMessage(fmt.Sprintf("Invalid slot: %q", args[0]), "ERROR")
			break
		}
		historyLines := 20
		if len(args) >= 2 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				historyLines = n
			}
		}
		d.handleSlotLogs(conn, slot, historyLines)
		return
	case "ATTACH":
		historyLines := 20
		if len(args) >= 1 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				historyLines = n
			}
		}
		d.handleAttach(conn, historyLines)
		return
	case "STOP":
		response.AddMessage("Daemon shutting down.", "INFO")
		conn.Write([]byte(response.ToJSON()))
		slog.Info("Stop command received. Shutting down daemon.")
		d.shutdown()
		if d.listener != nil {
			d.listener.Close()
		}
		os.Exit(0)
	case "VERSION":
		response.AddData(map[string]string{"version": core.FormatVersion(core.Version)})
		response.AddMessage(fmt.Sprintf("frpdeck daemon %s", core.FormatVersion(core.Version)), "INFO")
	default:
		response.AddMessage("Unknown command.", "ERROR")
	}
	conn.Write([]byte(response.ToJSON()))
}

// withSlot parses the first argument as a slot index and dispatches.
func (d *Daemon) withSlot(args []string, fn func(slot int) Response) Response {
	var response Response
	if len(args) == 0 {
		response.AddMessage("Missing slot index.", "ERROR")
		return response
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil {
		response.AddMessage(fmt.Sprintf("Invalid slot: %q", args[0]), "ERROR")
		return response
	}
	return fn(slot)
}

func (d *Daemon) slotName(slot int) string {
	for _, st := range d.registry.Status() {
		if st.Slot == slot {
			return st.Name
		}
	}
	return tunnel.DefaultName(slot)
}

func (d *Daemon) toggleOn(slot int) Response {
	var response Response
	if err := d.registry.ToggleOn(slot); err != nil {
		response.AddMessage(fmt.Sprintf("Failed to start: %v", err), "ERROR")
		return response
	}

	for _, st := range d.registry.Status() {
		if st.Slot == slot {
			response.AddMessage(fmt.Sprintf("Tunnel '%s' started (PID %d)", st.Name, st.Pid), "INFO")
			break
		}
	}
	return response
}

func (d *Daemon) toggleOff(slot int) Response {
	var response Response
	name := d.slotName(slot)
	if err := d.registry.ToggleOff(slot); err != nil {
		response.AddMessage(fmt.Sprintf("Failed to stop: %v", err), "ERROR")
		return response
	}
	response.AddMessage(fmt.Sprintf("Tunnel '%s' closed", name), "INFO")
	return response
}

func (d *Daemon) handleSet(rest string) Response {
	var response Response
	slotStr, payload, found := strings.Cut(rest, " ")
	if !found {
		response.AddMessage("Usage: SET <slot> <json>", "ERROR")
		return response
	}
	slot, err := strconv.Atoi(slotStr)
	if err != nil {
		response.AddMessage(fmt.Sprintf("Invalid slot: %q", slotStr), "ERROR")
		return response
	}

	var req fieldEditRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		response.AddMessage(fmt.Sprintf("Invalid edit payload: %v", err), "ERROR")
		return response
	}

	prior := ""
	for _, st := range d.registry.Status() {
		if st.Slot == slot {
			prior = st.Description
			break
		}
	}

	editErr := d.registry.Edit(slot, tunnel.FieldEdit{
		Name:          req.Name,
		LaunchCommand: req.Params,
		Description:   req.Desc,
	})
	switch {
	case editErr == nil:
		response.AddMessage(fmt.Sprintf("Tunnel '%s' settings saved", d.slotName(slot)), "INFO")
	case errors.Is(editErr, tunnel.ErrDescriptionTooLong):
		// Name/command edits from the same submission were applied;
		// only the description was rejected and reverted.
		response.AddMessage(fmt.Sprintf("Description is limited to %d characters; kept previous text: %q",
			tunnel.MaxDescriptionLen, prior), "WARN")
	default:
		response.AddMessage(fmt.Sprintf("Failed to apply settings: %v", editErr), "ERROR")
	}
	return response
}

// slotView is SlotStatus enriched with live process statistics for
// display.
type slotView struct {
	tunnel.SlotStatus
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64  `json:"memory_rss,omitempty"`
	Alive      bool    `json:"alive"`
}

func (d *Daemon) getStatus() Response {
	var response Response

	statuses := d.registry.Status()
	views := make([]slotView, len(statuses))
	for i, st := range statuses {
		views[i] = slotView{SlotStatus: st}
		if st.State != tunnel.StateRunning || st.Pid == 0 {
			continue
		}
		// Verify the child is actually still there; SIGTERM is
		// fire-and-forget, so the registry's view can lag reality.
		proc, err := process.NewProcess(int32(st.Pid))
		if err != nil {
			continue
		}
		running, err := proc.IsRunning()
		if err != nil || !running {
			continue
		}
		views[i].Alive = true
		if cpu, err := proc.CPUPercent(); err == nil {
			views[i].CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			views[i].MemoryRSS = mem.RSS
		}
	}

	response.AddData(map[string]interface{}{"slots": views})
	response.AddMessage(fmt.Sprintf("%d slot(s)", len(views)), "INFO")
	return response
}

func (d *Daemon) getEndpoint(slot int) Response {
	var response Response
	endpoint, err := d.registry.Endpoint(slot)
	if err != nil {
		response.AddMessage(fmt.Sprintf("Failed to read endpoint: %v", err), "ERROR")
		return response
	}
	response.AddData(map[string]string{"endpoint": endpoint})
	if endpoint == "" {
		response.AddMessage(fmt.Sprintf("No endpoint known for tunnel '%s' yet", d.slotName(slot)), "WARN")
	} else {
		response.AddMessage(endpoint, "INFO")
	}
	return response
}

func (d *Daemon) getEvents(limit int) Response {
	var response Response
	if d.database == nil {
		response.AddMessage("Event journal is disabled.", "WARN")
		return response
	}

	events, err := d.database.RecentTunnelEvents(limit)
	if err != nil {
		response.AddMessage(fmt.Sprintf("Failed to read events: %v", err), "ERROR")
		return response
	}

	type eventView struct {
		Slot      int    `json:"slot"`
		Tunnel    string `json:"tunnel"`
		EventType string `json:"event_type"`
		Details   string `json:"details,omitempty"`
		Timestamp string `json:"timestamp"`
	}
	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = eventView{
			Slot:      e.Slot,
			Tunnel:    e.TunnelName,
			EventType: e.EventType,
			Details:   e.Details,
			Timestamp: e.Timestamp.Format(time.DateTime),
		}
	}
	response.AddData(map[string]interface{}{"events": views})
	response.AddMessage(fmt.Sprintf("%d event(s)", len(views)), "INFO")
	return response
}

// shutdown stops every running tunnel, persists the table, and closes
// the journal. Safe to call more than once.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		d.registry.Shutdown()
		if d.database != nil {
			if err := d.database.LogDaemonEvent("stop", fmt.Sprintf("PID: %d", os.Getpid())); err != nil {
				slog.Error("Failed to journal daemon stop", "error", err)
			}
			if err := d.database.Close(); err != nil {
				slog.Error("Failed to close event journal", "error", err)
			}
		}
	})
}
