// Package worker implements engine.Backend by driving an external model
// worker, typically workers/seq2seq_worker.py, over newline delimited JSON.
//
// Each loaded identifier gets its own process. The tokenizer and model for
// an identifier share that process, which exits when both are closed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/localrivet/summaryservice/internal/engine"
)

// BackendName is reported by Name.
const BackendName = "worker"

// Protocol operations.
const (
	OpDevices  = "devices"
	OpLoad     = "load"
	OpEncode   = "encode"
	OpGenerate = "generate"
	OpDecode   = "decode"
)

// Components accepted by OpLoad.
const (
	ComponentTokenizer = "tokenizer"
	ComponentModel     = "model"
)

// DefaultStartupTimeout bounds process launch plus a single load request.
const DefaultStartupTimeout = 5 * time.Minute

// Request is one line sent to a worker.
type Request struct {
	Op          string                   `json:"op"`
	Model       string                   `json:"model,omitempty"`
	Component   string                   `json:"component,omitempty"`
	Device      engine.Device            `json:"device,omitempty"`
	Text        string                   `json:"text,omitempty"`
	IDs         []int64                  `json:"ids,omitempty"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
	SkipSpecial bool                     `json:"skip_special,omitempty"`
	Params      *engine.GenerationParams `json:"params,omitempty"`
}

// Response is one line read back from a worker. A non-empty Error means the
// request failed.
type Response struct {
	Error   string          `json:"error,omitempty"`
	Devices []engine.Device `json:"devices,omitempty"`
	Device  engine.Device   `json:"device,omitempty"`
	IDs     []int64         `json:"ids,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// Launcher starts a new worker process.
type Launcher func(ctx context.Context) (*Process, error)

// Options configures a Backend.
type Options struct {
	// Command is the worker argv, e.g. ["python3", "-u", "workers/seq2seq_worker.py"].
	Command []string

	// Dir is the working directory of the worker.
	Dir string

	// StartupTimeout bounds launch plus a load request. Zero means
	// DefaultStartupTimeout.
	StartupTimeout time.Duration

	// Launcher overrides how processes are started. When nil, Command is
	// executed.
	Launcher Launcher

	Logger *slog.Logger
}

// Backend implements engine.Backend.
type Backend struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*handle
	devices []engine.Device
}

type handle struct {
	proc *Process
	refs int
}

// New creates a worker backend.
func New(opts Options) (*Backend, error) {
	if opts.Launcher == nil {
		if len(opts.Command) == 0 {
			return nil, errors.New("worker: command is required")
		}
		command := append([]string(nil), opts.Command...)
		dir := opts.Dir
		opts.Launcher = func(ctx context.Context) (*Process, error) {
			return Start(command, dir, nil)
		}
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Backend{
		opts:    opts,
		logger:  logger.With("backend", BackendName),
		workers: make(map[string]*handle),
	}, nil
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return BackendName }

// Devices implements engine.Backend. A throwaway worker is asked once and
// the answer is remembered.
func (b *Backend) Devices(ctx context.Context) ([]engine.Device, error) {
	b.mu.Lock()
	if b.devices != nil {
		out := append([]engine.Device(nil), b.devices...)
		b.mu.Unlock()
		return out, nil
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.opts.StartupTimeout)
	defer cancel()

	proc, err := b.opts.Launcher(ctx)
	if err != nil {
		return nil, err
	}
	defer proc.Close()

	var resp Response
	if err := call(ctx, proc, Request{Op: OpDevices}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Devices) == 0 {
		resp.Devices = []engine.Device{engine.DeviceCPU}
	}

	b.mu.Lock()
	b.devices = resp.Devices
	b.mu.Unlock()

	return append([]engine.Device(nil), resp.Devices...), nil
}

// LoadTokenizer implements engine.Backend.
func (b *Backend) LoadTokenizer(ctx context.Context, identifier string) (engine.Tokenizer, error) {
	proc, err := b.load(ctx, identifier, Request{Op: OpLoad, Model: identifier, Component: ComponentTokenizer})
	if err != nil {
		return nil, err
	}
	return &Tokenizer{remote: remote{backend: b, identifier: identifier, proc: proc}}, nil
}

// LoadModel implements engine.Backend.
func (b *Backend) LoadModel(ctx context.Context, identifier string, device engine.Device) (engine.Model, error) {
	proc, err := b.load(ctx, identifier, Request{Op: OpLoad, Model: identifier, Component: ComponentModel, Device: device})
	if err != nil {
		return nil, err
	}
	return &Model{remote: remote{backend: b, identifier: identifier, proc: proc}, device: device}, nil
}

func (b *Backend) load(ctx context.Context, identifier string, req Request) (*Process, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.StartupTimeout)
	defer cancel()

	proc, err := b.acquire(ctx, identifier)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := call(ctx, proc, req, &resp); err != nil {
		b.release(identifier, proc)
		return nil, fmt.Errorf("worker: load %s %q: %w", req.Component, identifier, err)
	}

	b.logger.Debug("Worker component loaded", "model", identifier, "component", req.Component)
	return proc, nil
}

// acquire returns the running process for identifier, starting one when
// needed, and takes a reference on it.
func (b *Backend) acquire(ctx context.Context, identifier string) (*Process, error) {
	b.mu.Lock()
	if h, ok := b.workers[identifier]; ok && h.proc.Running() {
		h.refs++
		b.mu.Unlock()
		return h.proc, nil
	}
	b.mu.Unlock()

	proc, err := b.opts.Launcher(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker: start for %q: %w", identifier, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.workers[identifier]; ok && h.proc.Running() {
		// Lost a race with another loader; keep theirs.
		_ = proc.Close()
		h.refs++
		return h.proc, nil
	}
	b.workers[identifier] = &handle{proc: proc, refs: 1}
	b.logger.Info("Worker process started", "model", identifier)
	return proc, nil
}

func (b *Backend) release(identifier string, proc *Process) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.workers[identifier]
	if !ok || h.proc != proc {
		_ = proc.Close()
		return
	}
	h.refs--
	if h.refs <= 0 {
		delete(b.workers, identifier)
		_ = proc.Close()
		b.logger.Info("Worker process stopped", "model", identifier)
	}
}

// Running returns the number of live worker processes.
func (b *Backend) Running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.workers)
}

func call(ctx context.Context, proc *Process, req Request, resp *Response) error {
	if err := proc.Call(ctx, req, resp); err != nil {
		return err
	}
	if resp.Error != "" {
		if req.Op == OpLoad {
			return fmt.Errorf("%w: %s", engine.ErrUnknownModel, resp.Error)
		}
		return errors.New(resp.Error)
	}
	return nil
}

type remote struct {
	backend    *Backend
	identifier string
	proc       *Process

	mu     sync.Mutex
	closed bool
}

func (r *remote) do(ctx context.Context, req Request) (Response, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return Response{}, engine.ErrClosed
	}

	req.Model = r.identifier
	var resp Response
	err := call(ctx, r.proc, req, &resp)
	return resp, err
}

// Healthy implements engine.HealthChecker. A handle turns unhealthy once it
// is closed or its process has been torn down by a failed or timed out call.
func (r *remote) Healthy() bool {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	return !closed && r.proc.Running()
}

func (r *remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.backend.release(r.identifier, r.proc)
	return nil
}

// Tokenizer implements engine.Tokenizer on a worker.
type Tokenizer struct {
	remote
}

// Encode implements engine.Tokenizer.
func (t *Tokenizer) Encode(ctx context.Context, text string, maxTokens int) ([]int64, error) {
	resp, err := t.do(ctx, Request{Op: OpEncode, Text: text, MaxTokens: maxTokens})
	if err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// Decode implements engine.Tokenizer.
func (t *Tokenizer) Decode(ctx context.Context, ids []int64, skipSpecial bool) (string, error) {
	resp, err := t.do(ctx, Request{Op: OpDecode, IDs: ids, SkipSpecial: skipSpecial})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Model implements engine.Model on a worker.
type Model struct {
	remote
	device engine.Device
}

// Device implements engine.Model.
func (m *Model) Device() engine.Device { return m.device }

// Generate implements engine.Model.
func (m *Model) Generate(ctx context.Context, ids []int64, params engine.GenerationParams) ([]int64, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	resp, err := m.do(ctx, Request{Op: OpGenerate, IDs: ids, Params: &params})
	if err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return nil, engine.ErrEmptyGeneration
	}
	return resp.IDs, nil
}
