package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit in time")
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	r := NewExecRunner("")
	_, err := r.Spawn(filepath.Join(t.TempDir(), "no-such-binary"), nil)
	if err == nil {
		t.Fatalf("expected spawn error")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T", err)
	}
}

func TestCollectStreamsAndExitCode(t *testing.T) {
	sh := requireShell(t)
	r := NewExecRunner("")

	p, err := r.Spawn(sh, []string{"-c", "printf out; printf 'err1' 1>&2; printf 'err2' 1>&2; exit 3"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	out := Collect(p)
	if out.Stdout != "out" {
		t.Fatalf("stdout = %q", out.Stdout)
	}
	if out.Stderr != "err1err2" {
		t.Fatalf("stderr = %q", out.Stderr)
	}
	if out.ExitCode != 3 {
		t.Fatalf("exit code = %d", out.ExitCode)
	}
	if p.Err() != nil {
		t.Fatalf("unexpected wait error: %v", p.Err())
	}
}

func TestSpawnUsesWorkingDirectory(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("here"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	p, err := NewExecRunner(dir).Spawn(sh, []string{"-c", "cat marker"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if out := Collect(p); out.Stdout != "here" || out.ExitCode != 0 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestTerminateStopsProcess(t *testing.T) {
	sh := requireShell(t)
	p, err := NewExecRunner("").Spawn(sh, []string{"-c", "while true; do sleep 1; done"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	go Collect(p)

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	waitDone(t, p)
	if p.ExitCode() != -1 {
		t.Fatalf("signal-terminated exit code = %d, want -1", p.ExitCode())
	}

	// Terminating an exited process is a no-op.
	if err := p.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
}
