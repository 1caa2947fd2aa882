package stream

import (
	"io"
	"os"
	"os/exec"
)

// Process is a running transcoder.
type Process interface {
	// Stderr is the diagnostic stream; it must be drained before Wait.
	Stderr() io.Reader
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
	Pid() int
}

// Spawner starts transcoder processes.
type Spawner interface {
	Spawn(name string, args []string) (Process, error)
}

// ExecSpawner runs transcoders as local child processes.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(name string, args []string) (Process, error) {
	cmd := exec.Command(name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr io.Reader
}

func (p *execProcess) Stderr() io.Reader          { return p.stderr }
func (p *execProcess) Wait() error                { return p.cmd.Wait() }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
