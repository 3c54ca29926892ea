package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/worksonmyai/dirigent/internal/debug"
)

// CLIConfig holds settings for the subprocess-backed transport.
type CLIConfig struct {
	// Binary is the agent CLI executable (default "claude").
	Binary string
	// ExtraFlags are appended to every invocation.
	ExtraFlags []string
	// WorkingDir for the agent subprocess.
	WorkingDir string
	// SessionPath is the JSON file holding surface session state (selected
	// model, mode, activity). Default: <working dir>/.dirigent/session.json
	SessionPath string
	// SendTimeout bounds a single invocation. Zero means the caller's
	// context is the only bound.
	SendTimeout time.Duration
}

// CLITransport talks to an agent CLI in --print mode. Each Send is one
// subprocess invocation; the "chat surface" is the session file plus the
// binary itself, so Open never needs to steal focus from anything.
type CLITransport struct {
	cfg CLIConfig
}

// NewCLI creates a CLI transport with defaults applied.
func NewCLI(cfg CLIConfig) *CLITransport {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.SessionPath == "" {
		base := cfg.WorkingDir
		if base == "" {
			base = "."
		}
		cfg.SessionPath = filepath.Join(base, ".dirigent", "session.json")
	}
	return &CLITransport{cfg: cfg}
}

// Open ensures the session file exists and records the focus request.
// A headless CLI has no window to focus; the flag is kept in the session
// state so wrapper surfaces can honour it.
func (t *CLITransport) Open(_ context.Context, focus bool) error {
	if err := os.MkdirAll(filepath.Dir(t.cfg.SessionPath), 0o700); err != nil {
		return &CommError{Op: "open", Err: err}
	}

	data, err := os.ReadFile(t.cfg.SessionPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return &CommError{Op: "open", Err: err}
		}
		data = []byte("{}")
	}

	out := string(data)
	out, _ = sjson.Set(out, "opened_at", time.Now().Format(time.RFC3339))
	out, _ = sjson.Set(out, "focus", focus)

	if err := os.WriteFile(t.cfg.SessionPath, []byte(out), 0o600); err != nil {
		return &CommError{Op: "open", Err: err}
	}
	return nil
}

// Send invokes the agent binary with the prompt on stdin and returns the
// captured reply text. background currently has no subprocess-level
// effect beyond being recorded; it exists so GUI-backed transports can
// honour it through the same call.
func (t *CLITransport) Send(ctx context.Context, text string, background bool) (Reply, error) {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if model := t.sessionString("model"); model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, t.cfg.ExtraFlags...)

	sendCtx := ctx
	var cancel context.CancelFunc
	if t.cfg.SendTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, t.cfg.SendTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(sendCtx, t.cfg.Binary, args...)
	if t.cfg.WorkingDir != "" {
		cmd.Dir = t.cfg.WorkingDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Unknown(), &CommError{Op: "send", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Unknown(), &CommError{Op: "send", Err: err}
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return Unknown(), &CommError{Op: "send", Err: err}
	}

	go func() {
		defer stdin.Close()
		if _, err := io.WriteString(stdin, text); err != nil {
			debug.Logf("transport: write prompt to stdin: %v", err)
		}
	}()

	output := scanStream(stdout)

	if err := cmd.Wait(); err != nil {
		if errors.Is(sendCtx.Err(), context.Canceled) {
			return Unknown(), sendCtx.Err()
		}
		stderrStr := strings.TrimSpace(stderrBuf.String())
		if isModelRefusal(stderrStr) {
			return Rejected(stderrStr), &ModelError{Model: t.sessionString("model"), Err: err}
		}
		if stderrStr != "" {
			return Unknown(), &CommError{Op: "send", Err: fmt.Errorf("%w: %s", err, stderrStr)}
		}
		return Unknown(), &CommError{Op: "send", Err: err}
	}

	t.touchSession(background)
	return Accepted(output), nil
}

// SelectModel records the model in the session state and probes the
// binary to confirm the model is accepted.
func (t *CLITransport) SelectModel(ctx context.Context, name string) error {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, t.cfg.Binary, "--print", "--model", name)
	if t.cfg.WorkingDir != "" {
		cmd.Dir = t.cfg.WorkingDir
	}
	cmd.Stdin = strings.NewReader("Reply with the single word: ok")

	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			return &CommError{Op: "select_model", Err: probeCtx.Err()}
		}
		// Any other probe failure is treated as the model being refused,
		// so the fallback selector can move on to the next candidate.
		outStr := strings.TrimSpace(string(out))
		return &ModelError{Model: name, Err: fmt.Errorf("%w: %s", err, outStr)}
	}

	if err := t.setSession("model", name); err != nil {
		return &CommError{Op: "select_model", Err: err}
	}
	return nil
}

// Idle reports whether the agent is between invocations. A subprocess
// transport is idle whenever no Send is in flight; the session "busy"
// flag tracks that.
func (t *CLITransport) Idle(_ context.Context) (bool, error) {
	data, err := os.ReadFile(t.cfg.SessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, &CommError{Op: "idle", Err: err}
	}
	return !gjson.GetBytes(data, "busy").Bool(), nil
}

// scanStream reads stream-json lines and accumulates assistant text.
// Lines that fail to parse are skipped; the result event text is used
// when no assistant blocks arrived.
func scanStream(r io.Reader) string {
	var full strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !gjson.Valid(line) {
			continue
		}
		if debug.Enabled() {
			debug.Logf("transport stream: %s", pretty.Ugly([]byte(line)))
		}

		switch gjson.Get(line, "type").String() {
		case "assistant":
			for _, block := range gjson.Get(line, "message.content").Array() {
				if block.Get("type").String() == "text" {
					full.WriteString(block.Get("text").String())
				}
			}
		case "result":
			if result := gjson.Get(line, "result").String(); result != "" && full.Len() == 0 {
				full.WriteString(result)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		debug.Logf("transport stream: scanner error: %v", err)
	}
	return full.String()
}

// isModelRefusal matches stderr text that indicates a model-specific
// rejection rather than a general communication failure.
func isModelRefusal(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{"unknown model", "invalid model", "model not found", "not available", "does not support"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func (t *CLITransport) sessionString(key string) string {
	data, err := os.ReadFile(t.cfg.SessionPath)
	if err != nil {
		return ""
	}
	return gjson.GetBytes(data, key).String()
}

func (t *CLITransport) setSession(key string, value any) error {
	data, err := os.ReadFile(t.cfg.SessionPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		data = []byte("{}")
	}
	out, err := sjson.SetBytes(data, key, value)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.cfg.SessionPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(t.cfg.SessionPath, out, 0o600)
}

func (t *CLITransport) touchSession(background bool) {
	if err := t.setSession("last_send_at", time.Now().Format(time.RFC3339)); err != nil {
		debug.Logf("transport: touch session: %v", err)
		return
	}
	if err := t.setSession("background", background); err != nil {
		debug.Logf("transport: touch session: %v", err)
	}
}
