// Package process spawns external executables and exposes their output as
// channels of raw chunks, with a separate terminal event for exit.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/dj-oyu/detect-gateway/internal/logger"
)

const readChunkSize = 32 * 1024

// SpawnError reports that the executable could not be started at all.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Runner starts detector processes.
type Runner interface {
	Spawn(name string, args []string) (*Process, error)
}

// ExecRunner is the os/exec backed Runner.
type ExecRunner struct {
	// Dir is the working directory for spawned processes; empty means the
	// gateway's own working directory.
	Dir string
}

// NewExecRunner returns a Runner that starts processes in dir.
func NewExecRunner(dir string) *ExecRunner {
	return &ExecRunner{Dir: dir}
}

// Process is a handle to a running external process. Both Stdout and Stderr
// must be drained by the caller; Done never fires while a stream is blocked.
type Process struct {
	name string
	cmd  *exec.Cmd

	stdout chan []byte
	stderr chan []byte
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
}

// Spawn starts name with args. A start failure is returned as *SpawnError;
// anything that happens after the process is running is reported via Done.
func (r *ExecRunner) Spawn(name string, args []string) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = r.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: name, Err: err}
	}

	p := &Process{
		name:     name,
		cmd:      cmd,
		stdout:   make(chan []byte, 16),
		stderr:   make(chan []byte, 16),
		done:     make(chan struct{}),
		exitCode: -1,
	}

	var pipes sync.WaitGroup
	pipes.Add(2)
	go p.pump(stdout, p.stdout, &pipes)
	go p.pump(stderr, p.stderr, &pipes)
	go p.wait(&pipes)

	logger.Debug("Process", "Started %s (pid=%d)", name, cmd.Process.Pid)
	return p, nil
}

// pump copies every read from the pipe into a fresh chunk. The pipe must be
// drained completely before cmd.Wait is called.
func (p *Process) pump(r io.Reader, out chan<- []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(out)

	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, syscall.EBADF) {
				logger.Debug("Process", "%s pipe read ended: %v", p.name, err)
			}
			return
		}
	}
}

func (p *Process) wait(pipes *sync.WaitGroup) {
	pipes.Wait()
	err := p.cmd.Wait()

	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()

	logger.Debug("Process", "%s (pid=%d) exited with code %d", p.name, p.Pid(), code)
	close(p.done)
}

// Stdout yields raw stdout chunks and is closed at EOF.
func (p *Process) Stdout() <-chan []byte { return p.stdout }

// Stderr yields raw stderr chunks and is closed at EOF.
func (p *Process) Stderr() <-chan []byte { return p.stderr }

// Done is closed once both streams are drained and the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode is valid after Done is closed. A process killed by a signal
// reports -1.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Err returns a wait failure that is not a plain non-zero exit.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Terminate sends SIGTERM.
func (p *Process) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate %s: %w", p.name, err)
	}
	return nil
}
