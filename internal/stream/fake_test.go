package stream

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
)

type fakeProcess struct {
	pid     int
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	exitCh  chan error
	once    sync.Once

	mu      sync.Mutex
	signals []os.Signal
	killed  bool
}

func newFakeProcess(pid int) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, stderrR: r, stderrW: w, exitCh: make(chan error, 1)}
}

func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }
func (p *fakeProcess) Wait() error       { return <-p.exitCh }
func (p *fakeProcess) Pid() int          { return p.pid }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	go p.exit(nil)
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	go p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) log(line string) {
	_, _ = io.WriteString(p.stderrW, line+"\n")
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		_ = p.stderrW.Close()
		p.exitCh <- err
	})
}

func (p *fakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

func (p *fakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type spawnCall struct {
	name string
	args []string
}

type fakeSpawner struct {
	mu    sync.Mutex
	calls []spawnCall
	procs []*fakeProcess
	err   error
}

func (s *fakeSpawner) Spawn(name string, args []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spawnCall{name: name, args: args})
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(1000 + len(s.procs))
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
