package stream

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"fusion-svr/internal/observability"
)

const (
	DefaultBinary         = "ffmpeg"
	DefaultStartupTimeout = 30 * time.Second
	DefaultPublicPrefix   = "/streams"

	maxLogLine = 1 << 20
)

type Options struct {
	Binary         string
	StartupTimeout time.Duration
	PublicPrefix   string
	Spawner        Spawner
	Detector       HealthDetector
	Logger         *slog.Logger
}

// StateListener is told about every job transition. It runs on the goroutine
// that caused the transition and must not block.
type StateListener func(id string, state State)

// Supervisor owns the registry of transcoder jobs, keyed by stream id.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	jobs      map[string]*Job
	listeners []StateListener
}

func New(opts Options) *Supervisor {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = DefaultPublicPrefix
	}
	if opts.Spawner == nil {
		opts.Spawner = ExecSpawner{}
	}
	if opts.Detector == nil {
		opts.Detector = MarkerDetector{Markers: DefaultMarkers}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		opts:   opts,
		logger: opts.Logger.With("component", "stream"),
		jobs:   make(map[string]*Job),
	}
}

func (s *Supervisor) OnStateChange(fn StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// StartStream spawns a transcoder for rtspURL writing HLS into outputDir and
// returns the public playlist URL. The URL is returned as soon as the process
// is spawned; it becomes playable once the job reaches StateRunning.
//
// Starting an id that already has a job replaces the registry entry but does
// not stop the previous process.
func (s *Supervisor) StartStream(id, rtspURL, outputDir string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("stream: create output dir: %w", err)
	}

	proc, err := s.opts.Spawner.Spawn(s.opts.Binary, TranscodeArgs(rtspURL, outputDir, id))
	if err != nil {
		observability.StreamFailures.WithLabelValues("spawn").Inc()
		s.logger.Error("transcoder spawn failed", "stream", id, "binary", s.opts.Binary, "err", err)
		return "", fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	observability.StreamStarts.Inc()

	job := newJob(id, rtspURL, PlaylistPath(outputDir, id), proc, time.Now())

	s.mu.Lock()
	if prev, ok := s.jobs[id]; ok {
		s.logger.Warn("replacing active stream, previous transcoder left running",
			"stream", id, "prev_pid", prev.Pid(), "pid", proc.Pid())
	}
	s.jobs[id] = job
	observability.StreamsActive.Set(float64(len(s.jobs)))
	s.mu.Unlock()

	job.mu.Lock()
	job.watchdog = time.AfterFunc(s.opts.StartupTimeout, func() { s.startupExpired(job) })
	job.mu.Unlock()

	s.logger.Info("transcoder started", "stream", id, "pid", proc.Pid(), "output", job.OutputPath)
	s.notify(id, StateStarting)

	go s.monitor(job)

	return PublicURL(s.opts.PublicPrefix, id), nil
}

// StopStream signals the transcoder to terminate and forgets the job without
// waiting for the process to exit. Reports whether a job existed.
func (s *Supervisor) StopStream(id string) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
		observability.StreamsActive.Set(float64(len(s.jobs)))
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	job.mu.Lock()
	changed := job.transition(StateStopped, nil, StateStarting, StateRunning)
	job.mu.Unlock()

	if err := job.proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("signal transcoder failed", "stream", id, "pid", job.Pid(), "err", err)
	}
	s.logger.Info("stream stopped", "stream", id)
	if changed {
		s.notify(id, StateStopped)
	}
	return true
}

// StopAll stops every registered job.
func (s *Supervisor) StopAll() {
	for _, info := range s.ListActiveStreams() {
		s.StopStream(info.ID)
	}
}

func (s *Supervisor) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Job returns the registered handle for id.
func (s *Supervisor) Job(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *Supervisor) State(id string) (State, bool) {
	j, ok := s.Job(id)
	if !ok {
		return 0, false
	}
	return j.State(), true
}

// ListActiveStreams returns the registered jobs ordered by id.
func (s *Supervisor) ListActiveStreams() []Info {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	now := time.Now()
	out := make([]Info, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Info{
			ID:         j.ID,
			RTSPURL:    j.RTSPURL,
			OutputPath: j.OutputPath,
			StartTime:  j.StartTime,
			Uptime:     now.Sub(j.StartTime),
			State:      j.State(),
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// -------------------------------------------------------------------
//                        PROCESS MONITORING
// -------------------------------------------------------------------

func (s *Supervisor) monitor(job *Job) {
	if r := job.proc.Stderr(); r != nil {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLogLine)
		sc.Split(scanLogLines)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			s.logger.Debug("transcoder", "stream", job.ID, "line", line)
			if job.State() == StateStarting && s.opts.Detector.Healthy(line) {
				s.markRunning(job)
			}
		}
		if err := sc.Err(); err != nil {
			s.logger.Warn("transcoder log read failed", "stream", job.ID, "err", err)
			// keep the pipe empty so the transcoder never blocks on stderr
			_, _ = io.Copy(io.Discard, r)
		}
	}

	s.handleExit(job, job.proc.Wait())
}

func (s *Supervisor) markRunning(job *Job) {
	job.mu.Lock()
	changed := job.transition(StateRunning, nil, StateStarting)
	job.mu.Unlock()
	if changed {
		s.logger.Info("stream running", "stream", job.ID, "startup", time.Since(job.StartTime).String())
		s.notify(job.ID, StateRunning)
	}
}

func (s *Supervisor) startupExpired(job *Job) {
	s.mu.Lock()
	job.mu.Lock()
	changed := job.transition(StateFailed, ErrStartupTimeout, StateStarting)
	job.mu.Unlock()
	if changed {
		s.forget(job)
	}
	s.mu.Unlock()
	if !changed {
		return
	}

	observability.StreamFailures.WithLabelValues("startup_timeout").Inc()
	s.logger.Error("transcoder startup timed out, killing",
		"stream", job.ID, "pid", job.Pid(), "timeout", s.opts.StartupTimeout.String())
	if err := job.proc.Kill(); err != nil {
		s.logger.Warn("kill transcoder failed", "stream", job.ID, "err", err)
	}
	s.notify(job.ID, StateFailed)
}

func (s *Supervisor) handleExit(job *Job, waitErr error) {
	cause := ErrExited
	if waitErr != nil {
		cause = fmt.Errorf("%w: %v", ErrExited, waitErr)
	}

	s.mu.Lock()
	job.mu.Lock()
	changed := job.transition(StateFailed, cause, StateStarting, StateRunning)
	job.mu.Unlock()
	s.forget(job)
	s.mu.Unlock()

	close(job.done)

	if changed {
		observability.StreamFailures.WithLabelValues("exit").Inc()
		s.logger.Warn("transcoder exited unexpectedly", "stream", job.ID, "err", waitErr)
		s.notify(job.ID, StateFailed)
		return
	}
	s.logger.Debug("transcoder exited", "stream", job.ID, "state", job.State().String())
}

// forget drops job from the registry if the entry still refers to it; a newer
// job started under the same id is left alone. Caller holds s.mu.
func (s *Supervisor) forget(job *Job) {
	if cur, ok := s.jobs[job.ID]; ok && cur == job {
		delete(s.jobs, job.ID)
		observability.StreamsActive.Set(float64(len(s.jobs)))
	}
}

func (s *Supervisor) notify(id string, st State) {
	s.mu.Lock()
	ls := make([]StateListener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(id, st)
	}
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}
