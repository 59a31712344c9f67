package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frpdeck/frpdeck/internal/core"
	"github.com/frpdeck/frpdeck/internal/tunnel"
)

// quietLogger suppresses default slog output during tests and restores it after.
func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

func testDaemon(t *testing.T) *Daemon {
	t.Helper()
	quietLogger(t)

	oldConfig := core.Config
	t.Cleanup(func() { core.Config = oldConfig })

	cfg := core.DefaultConfig(t.TempDir())
	cfg.Database = false
	cfg.ProbeDelay = 100 * time.Millisecond
	core.Config = cfg

	d, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(d.registry.Shutdown)
	return d
}

// sendIPC runs one non-streaming command through handleConnection and
// decodes the response envelope.
func sendIPC(t *testing.T, d *Daemon, command string) Response {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.handleConnection(serverConn)
	}()

	if _, err := clientConn.Write([]byte(command + "\n")); err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
	data, err := io.ReadAll(clientConn)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	clientConn.Close()
	<-done

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("bad response %q: %v", data, err)
	}
	return resp
}

func messageText(resp Response) string {
	var parts []string
	for _, m := range resp.Messages {
		parts = append(parts, m.Message)
	}
	return strings.Join(parts, " | ")
}

func TestNew(t *testing.T) {
	d := testDaemon(t)

	if d.registry == nil {
		t.Error("expected registry to be initialized")
	}
	if d.logBroadcast == nil {
		t.Error("expected logBroadcast to be initialized")
	}
	if d.registry.Slots() != 8 {
		t.Errorf("expected 8 slots, got %d", d.registry.Slots())
	}
}

func TestHandleConnection_Version(t *testing.T) {
	d := testDaemon(t)

	resp := sendIPC(t, d, "VERSION")
	if resp.HasError() {
		t.Fatalf("VERSION returned error: %s", messageText(resp))
	}
	if !strings.Contains(messageText(resp), "frpdeck daemon") {
		t.Errorf("unexpected version message: %s", messageText(resp))
	}
}

func TestHandleConnection_UnknownCommand(t *testing.T) {
	d := testDaemon(t)

	resp := sendIPC(t, d, "FROBNICATE")
	if !resp.HasError() {
		t.Fatalf("expected error response, got: %s", messageText(resp))
	}
}

func TestHandleConnection_Status(t *testing.T) {
	d := testDaemon(t)

	resp := sendIPC(t, d, "STATUS")
	if resp.HasError() {
		t.Fatalf("STATUS returned error: %s", messageText(resp))
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", resp.Data)
	}
	slots, ok := data["slots"].([]interface{})
	if !ok {
		t.Fatalf("unexpected slots shape: %T", data["slots"])
	}
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(slots))
	}

	first, ok := slots[0].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected slot shape: %T", slots[0])
	}
	if first["state"] != "stopped" {
		t.Errorf("fresh slot state = %v, want stopped", first["state"])
	}
	if first["name"] != "Tunnel 1" {
		t.Errorf("fresh slot name = %v, want Tunnel 1", first["name"])
	}
}

func TestHandleConnection_SetPreservesPayloadWhitespace(t *testing.T) {
	d := testDaemon(t)

	resp := sendIPC(t, d, `SET 0 {"name":"Office","params":"frpc -c a.ini","desc":"two  spaces"}`)
	if resp.HasError() {
		t.Fatalf("SET returned error: %s", messageText(resp))
	}

	status := d.registry.Status()[0]
	if status.Name != "Office" {
		t.Errorf("name = %q", status.Name)
	}
	if status.Command != "frpc -c a.ini" {
		t.Errorf("command = %q", status.Command)
	}
	// The SET payload travels as raw JSON; internal runs of spaces
	// must not be collapsed by command tokenization.
	if status.Description != "two  spaces" {
		t.Errorf("description = %q", status.Description)
	}
}

func TestHandleConnection_SetLongDescriptionWarns(t *testing.T) {
	d := testDaemon(t)

	payload := fmt.Sprintf(`SET 0 {"name":"Home","desc":%q}`, strings.Repeat("x", tunnel.MaxDescriptionLen+1))
	resp := sendIPC(t, d, payload)

	if resp.HasError() {
		t.Fatalf("over-long description should warn, not error: %s", messageText(resp))
	}
	if len(resp.Messages) == 0 || resp.Messages[0].Status != "WARN" {
		t.Fatalf("expected WARN message, got: %+v", resp.Messages)
	}

	// The name from the same submission is applied anyway.
	status := d.registry.Status()[0]
	if status.Name != "Home" {
		t.Errorf("name = %q, want Home", status.Name)
	}
	if status.Description != "" {
		t.Errorf("rejected description stuck: %q", status.Description)
	}
}

func TestHandleConnection_SetBadInput(t *testing.T) {
	d := testDaemon(t)

	for _, command := range []string{
		"SET",
		"SET 0",
		"SET zero {}",
		`SET 0 not-json`,
		`SET 99 {"name":"x"}`,
	} {
		resp := sendIPC(t, d, command)
		if !resp.HasError() {
			t.Errorf("%q should error, got: %s", command, messageText(resp))
		}
	}
}

func TestHandleConnection_OnWithoutCommand(t *testing.T) {
	d := testDaemon(t)

	resp := sendIPC(t, d, "ON 0")
	if !resp.HasError() {
		t.Fatalf("ON with an empty launch command should error, got: %s", messageText(resp))
	}
}

func TestHandleConnection_OnOffLifecycle(t *testing.T) {
	d := testDaemon(t)

	if resp := sendIPC(t, d, `SET 1 {"params":"sleep 60"}`); resp.HasError() {
		t.Fatalf("SET failed: %s", messageText(resp))
	}
	if resp := sendIPC(t, d, "ON 1"); resp.HasError() {
		t.Fatalf("ON failed: %s", messageText(resp))
	}

	status := d.registry.Status()[1]
	if status.State != tunnel.StateRunning {
		t.Fatalf("state %q after ON", status.State)
	}

	if resp := sendIPC(t, d, "OFF 1"); resp.HasError() {
		t.Fatalf("OFF failed: %s", messageText(resp))
	}
	if got := d.registry.Status()[1].State; got != tunnel.StateStopped {
		t.Errorf("state %q after OFF", got)
	}

	// OFF again is a friendly no-op.
	if resp := sendIPC(t, d, "OFF 1"); resp.HasError() {
		t.Errorf("repeated OFF errored: %s", messageText(resp))
	}
}

func TestHandleConnection_InvalidSlotArguments(t *testing.T) {
	d := testDaemon(t)

	for _, command := range []string{"ON", "ON x", "ON 99", "OFF 99", "ENDPOINT 99"} {
		resp := sendIPC(t, d, command)
		if !resp.HasError() {
			t.Errorf("%q should error, got: %s", command, messageText(resp))
		}
	}
}

func TestHandleConnection_EndpointUnknownYet(t *testing.T) {
	d := testDaemon(t)

	resp := sendIPC(t, d, "ENDPOINT 0")
	if resp.HasError() {
		t.Fatalf("ENDPOINT returned error: %s", messageText(resp))
	}
	if len(resp.Messages) == 0 || resp.Messages[0].Status != "WARN" {
		t.Errorf("expected WARN for unknown endpoint, got: %+v", resp.Messages)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", resp.Data)
	}
	if data["endpoint"] != "" {
		t.Errorf("endpoint = %v, want empty", data["endpoint"])
	}
}

func TestHandleConnection_EndpointAfterExtraction(t *testing.T) {
	d := testDaemon(t)

	if resp := sendIPC(t, d, `SET 2 {"params":"echo 您可以使用 [10.4.4.4:7000] 访问您的服务"}`); resp.HasError() {
		t.Fatalf("SET failed: %s", messageText(resp))
	}
	if resp := sendIPC(t, d, "ON 2"); resp.HasError() {
		t.Fatalf("ON failed: %s", messageText(resp))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		endpoint, err := d.registry.Endpoint(2)
		if err != nil {
			t.Fatalf("Endpoint failed: %v", err)
		}
		if endpoint != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("endpoint never extracted")
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp := sendIPC(t, d, "ENDPOINT 2")
	if resp.HasError() {
		t.Fatalf("ENDPOINT returned error: %s", messageText(resp))
	}
	if !strings.Contains(messageText(resp), "10.4.4.4:7000") {
		t.Errorf("unexpected endpoint message: %s", messageText(resp))
	}
}

func TestHandleConnection_EventsDisabled(t *testing.T) {
	d := testDaemon(t)

	resp := sendIPC(t, d, "EVENTS")
	if resp.HasError() {
		t.Fatalf("EVENTS returned error: %s", messageText(resp))
	}
	if len(resp.Messages) == 0 || resp.Messages[0].Status != "WARN" {
		t.Errorf("expected WARN when journal is disabled, got: %+v", resp.Messages)
	}
}

func TestHandleConnection_LogsStoppedSlot(t *testing.T) {
	d := testDaemon(t)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.handleConnection(serverConn)
	}()

	clientConn.Write([]byte("LOGS 0\n"))

	reader := bufio.NewReader(clientConn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if !strings.Contains(line, "not running") {
		t.Errorf("expected not-running notice, got %q", line)
	}

	clientConn.Close()
	<-done
}

func TestHandleConnection_LogsStreamsOutput(t *testing.T) {
	d := testDaemon(t)

	// The launch command is split on whitespace, so shell one-liners
	// don't survive tokenization. Use a script file instead.
	script := filepath.Join(core.Config.ConfigPath, "chatty.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho hello-line\nsleep 60\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	if resp := sendIPC(t, d, fmt.Sprintf(`SET 0 {"params":%q}`, script)); resp.HasError() {
		t.Fatalf("SET failed: %s", messageText(resp))
	}
	if resp := sendIPC(t, d, "ON 0"); resp.HasError() {
		t.Fatalf("ON failed: %s", messageText(resp))
	}

	// Give the collector a moment to pick up the first line so it
	// arrives as history.
	time.Sleep(200 * time.Millisecond)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.handleConnection(serverConn)
	}()

	clientConn.Write([]byte("LOGS 0 10\n"))

	reader := bufio.NewReader(clientConn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if !strings.Contains(line, "hello-line") {
		t.Errorf("expected process output, got %q", line)
	}

	clientConn.Close()
	<-done
}

func TestHandleConnection_Attach(t *testing.T) {
	d := testDaemon(t)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.handleConnection(serverConn)
	}()

	clientConn.Write([]byte("ATTACH\n"))

	reader := bufio.NewReader(clientConn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if !strings.Contains(line, "Attached") {
		t.Errorf("expected attach banner, got %q", line)
	}

	d.logBroadcast.Broadcast("broadcast-check\n")
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if !strings.Contains(line, "broadcast-check") {
		t.Errorf("expected broadcast line, got %q", line)
	}

	clientConn.Close()
	<-done
}
