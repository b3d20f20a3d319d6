// Package engine supervises the locally managed ComfyUI process.
package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const stopGracePeriod = 10 * time.Second

// Options configures a Process.
type Options struct {
	// Path is the engine's installation directory (holds main.py).
	Path   string
	Host   string
	Port   int
	Python string
	Logger zerolog.Logger
}

// Process owns a ComfyUI subprocess. It is created where the worker boots
// and passed by reference to whatever needs it; there is no process-wide
// singleton. Its combined output is drained on a background goroutine for
// diagnostics only: drain errors are swallowed and never block a job.
type Process struct {
	cmd    *exec.Cmd
	exited chan struct{}
	logger zerolog.Logger

	path   string
	host   string
	port   int
	python string
}

// New constructs an unstarted Process.
func New(opts Options) *Process {
	python := opts.Python
	if python == "" {
		python = "python3"
	}
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return &Process{
		logger: opts.Logger,
		path:   opts.Path,
		host:   host,
		port:   opts.Port,
		python: python,
	}
}

// Start launches the engine and begins draining its logs. Readiness is a
// separate concern: callers gate on the execution client's readiness probe.
func (p *Process) Start() error {
	if p.cmd != nil {
		return errors.New("engine: already started")
	}

	cmd := exec.Command(p.python, "main.py",
		"--listen", p.host,
		"--port", strconv.Itoa(p.port),
		"--disable-auto-launch",
	)
	cmd.Dir = p.path

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("engine: start comfyui: %w", err)
	}
	p.cmd = cmd
	p.exited = make(chan struct{})

	p.logger.Info().
		Int("port", p.port).
		Str("path", p.path).
		Msg("engine: started comfyui process")

	go p.drain(pr)
	go func() {
		err := cmd.Wait()
		pw.Close()
		if err != nil {
			p.logger.Warn().Err(err).Msg("engine: comfyui process exited")
		} else {
			p.logger.Info().Msg("engine: comfyui process exited")
		}
		close(p.exited)
	}()

	return nil
}

// drain forwards engine output lines into the worker log.
func (p *Process) drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Debug().Str("source", "comfyui").Msg(scanner.Text())
	}
	// Scanner errors are diagnostics-only; the pipe closing on process
	// exit lands here too.
}

// Stop terminates the engine, escalating to SIGKILL after a grace period.
// It is safe to call on an unstarted or already-exited process.
func (p *Process) Stop() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	select {
	case <-p.exited:
		return
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Warn().Err(err).Msg("engine: failed to signal comfyui")
	}
	select {
	case <-p.exited:
	case <-time.After(stopGracePeriod):
		p.logger.Warn().Msg("engine: killing comfyui after grace period")
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}
