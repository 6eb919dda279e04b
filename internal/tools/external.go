package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/logging"
)

// ExternalTimeout is the fixed 30s timeout for an external tool call
// (spec.md §4.3 / §5).
const ExternalTimeout = 30 * time.Second

// MaxOutputSize caps stdout and stderr capture at 64 KiB each (spec.md §4.3).
const MaxOutputSize = 64 * 1024

// ExternalRunner spawns external tool subprocesses. Grounded on the
// teacher's internal/tools/exec.Manager for the pipe/Cmd wiring and on the
// original source's apps/ikigai/tool_external.c for the exact wire and
// process-group contract: the child receives arguments on stdin as JSON,
// emits one JSON value on stdout, may emit diagnostics on stderr, runs in
// its own process group, and is killed as a group on interrupt.
type ExternalRunner struct {
	// BaseEnv lets tests and the real CLI both control the spawned
	// environment without a package global; nil means "inherit nothing but
	// IKIGAI_AGENT_ID" for hermetic tests, while the production wiring
	// passes os.Environ().
	BaseEnv []string
}

// NewExternalRunner returns a runner using the current process environment
// as the base for spawned children.
func NewExternalRunner() *ExternalRunner {
	return &ExternalRunner{BaseEnv: os.Environ()}
}

// RunningTool is a started external tool subprocess. The tool worker
// (internal/worker) holds one of these for the duration of ExecutingTool so
// the interrupt coordinator (spec.md §4.11) can kill its process group by
// PID without reaching back into the runner.
type RunningTool struct {
	cmd    *exec.Cmd
	stdout *limitedBuffer
	stderr *limitedBuffer
	done   chan struct{}
	result Result
}

// Pid returns the child's process ID, which (because Setpgid is set) is
// also its process group ID.
func (p *RunningTool) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the subprocess exits (naturally, by timeout, or by
// being killed) and returns its result envelope.
func (p *RunningTool) Wait() Result {
	<-p.done
	return p.result
}

// Start spawns the external tool at path in its own process group, writes
// args to its stdin, and begins capturing stdout/stderr in the
// background. The returned RunningTool's Wait enforces the fixed 30s
// timeout; ctx cancellation (used by interrupt) ends the wait early with a
// failure envelope once the caller also reaps the process group.
func (r *ExternalRunner) Start(ctx context.Context, agentID, path string, args json.RawMessage) (*RunningTool, error) {
	cmd := exec.Command(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // new process group so interrupt can kill(-pgid, ...)
	}
	cmd.Env = append(append([]string{}, r.BaseEnv...), "IKIGAI_AGENT_ID="+agentID)
	cmd.Stdin = bytes.NewReader(args)

	stdout := &limitedBuffer{limit: MaxOutputSize}
	stderr := &limitedBuffer{limit: MaxOutputSize}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	logging.Debug("tool_external: started pid=%d path=%s agent=%s", cmd.Process.Pid, path, agentID)

	rt := &RunningTool{cmd: cmd, stdout: stdout, stderr: stderr, done: make(chan struct{})}

	deadline, cancel := context.WithTimeout(ctx, ExternalTimeout)
	go func() {
		defer cancel()
		waitErr := make(chan error, 1)
		go func() { waitErr <- cmd.Wait() }()

		select {
		case err := <-waitErr:
			rt.result = envelopeFor(err, stdout, stderr)
		case <-deadline.Done():
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
			select {
			case <-waitErr:
			case <-time.After(250 * time.Millisecond):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				<-waitErr
			}
			rt.result = errEnvelope("tool timed out after 30s")
		}
		close(rt.done)
	}()

	return rt, nil
}

func envelopeFor(err error, stdout, stderr *limitedBuffer) Result {
	if err != nil {
		if stderr.buf.Len() > 0 {
			return errEnvelope("tool failed: " + stderr.buf.String())
		}
		return errEnvelope("tool exited with non-zero status")
	}
	if stdout.buf.Len() == 0 {
		return errEnvelope("tool produced no output")
	}
	out := bytes.TrimSpace(stdout.buf.Bytes())
	if !json.Valid(out) {
		return errEnvelope("tool produced invalid JSON output")
	}
	return Result{Success: true, Output: json.RawMessage(out)}
}

// Run is the synchronous convenience form used when the caller doesn't
// need interrupt access to the running process (e.g. tests).
func (r *ExternalRunner) Run(ctx context.Context, agentID, path string, args json.RawMessage) (Result, error) {
	rt, err := r.Start(ctx, agentID, path, args)
	if err != nil {
		return errEnvelope("failed to start tool: " + err.Error()), nil
	}
	return rt.Wait(), nil
}

// limitedBuffer caps how much of a stream is retained, matching the 64KiB
// cap in spec.md §4.3 while still letting the subprocess finish writing
// (extra bytes are discarded, not blocked).
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
	mu    sync.Mutex
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.limit - l.buf.Len()
	if remaining > 0 {
		n := len(p)
		if n > remaining {
			n = remaining
		}
		l.buf.Write(p[:n])
	}
	return len(p), nil
}

var _ io.Writer = (*limitedBuffer)(nil)
