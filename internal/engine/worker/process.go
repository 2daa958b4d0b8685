package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ErrNotRunning is returned by Call once the process has been closed or has
// failed mid-request.
var ErrNotRunning = errors.New("worker: process is not running")

// Process is one worker speaking newline delimited JSON on stdin/stdout.
// Requests are serialized; a worker only ever has one request in flight.
type Process struct {
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	kill    func() error
	mu      sync.Mutex
	running atomic.Bool
}

// Start launches command and connects to its pipes. Worker stderr goes to
// stderr, or os.Stderr when nil, so model logs stay visible without
// corrupting the protocol stream.
func Start(command []string, dir string, stderr io.Writer) (*Process, error) {
	if len(command) == 0 {
		return nil, errors.New("worker: empty command")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", command[0], err)
	}

	kill := func() error {
		if cmd.Process == nil {
			return nil
		}
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}
	return NewProcess(stdin, stdout, kill), nil
}

// NewProcess wraps an already connected pair of streams. kill is invoked at
// shutdown after stdin is closed. When kill is nil and stdout is an
// io.Closer, shutdown closes stdout instead so a pending read returns.
func NewProcess(stdin io.WriteCloser, stdout io.Reader, kill func() error) *Process {
	if kill == nil {
		if c, ok := stdout.(io.Closer); ok {
			kill = c.Close
		}
	}
	p := &Process{
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		kill:   kill,
	}
	p.running.Store(true)
	return p
}

type reply struct {
	line []byte
	err  error
}

// Call sends req and decodes the single line reply into resp. If ctx ends
// first the process is torn down, since the stream can no longer be trusted,
// and Call returns without waiting for the abandoned read.
func (p *Process) Call(ctx context.Context, req, resp any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return ErrNotRunning
	}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	done := make(chan reply, 1)
	go func() {
		if _, err := p.stdin.Write(append(line, '\n')); err != nil {
			done <- reply{err: fmt.Errorf("failed to write to worker: %w", err)}
			return
		}
		out, err := p.stdout.ReadBytes('\n')
		if err != nil {
			done <- reply{err: fmt.Errorf("failed to read from worker (it may have crashed): %w", err)}
			return
		}
		done <- reply{line: out}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			if err := json.Unmarshal(r.line, resp); err != nil {
				r.err = fmt.Errorf("worker returned invalid JSON: %s (err: %v)", string(r.line), err)
			}
		}
		if r.err != nil {
			p.shutdownLocked()
		}
		return r.err
	case <-ctx.Done():
		p.shutdownLocked()
		return ctx.Err()
	}
}

// Running reports whether the process still accepts requests. It does not
// wait for a request in flight.
func (p *Process) Running() bool {
	return p.running.Load()
}

// Close shuts the worker down. Closing stdin lets a well behaved worker
// exit its read loop; kill covers the rest.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownLocked()
	return nil
}

func (p *Process) shutdownLocked() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	_ = p.stdin.Close()
	if p.kill != nil {
		_ = p.kill()
	}
}
