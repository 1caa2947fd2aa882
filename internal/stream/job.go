package stream

import (
	"errors"
	"sync"
	"time"
)

// State is the lifecycle position of a transcoder job. Jobs only move
// forward: starting -> running -> stopped|failed, or starting -> failed.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateFailed || s == StateStopped }

var (
	ErrSpawn          = errors.New("stream: transcoder spawn failed")
	ErrStartupTimeout = errors.New("stream: transcoder did not report healthy output in time")
	ErrExited         = errors.New("stream: transcoder exited")
	ErrInvalidID      = errors.New("stream: invalid stream id")
)

// Job is the handle of one transcoder process. Done is closed once the
// process has exited, whatever the reason.
type Job struct {
	ID         string
	RTSPURL    string
	OutputPath string
	StartTime  time.Time

	proc Process
	done chan struct{}

	mu       sync.Mutex
	state    State
	err      error
	watchdog *time.Timer
}

func newJob(id, rtspURL, outputPath string, proc Process, now time.Time) *Job {
	return &Job{
		ID:         id,
		RTSPURL:    rtspURL,
		OutputPath: outputPath,
		StartTime:  now,
		proc:       proc,
		done:       make(chan struct{}),
		state:      StateStarting,
	}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err is the cause of a failed job, nil otherwise.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Pid() int { return j.proc.Pid() }

// transition moves the job to next if it is still in one of from.
// Caller must hold j.mu.
func (j *Job) transition(next State, err error, from ...State) bool {
	for _, f := range from {
		if j.state == f {
			j.state = next
			if err != nil {
				j.err = err
			}
			if j.watchdog != nil {
				j.watchdog.Stop()
			}
			return true
		}
	}
	return false
}

// Info is the read-only view exposed to callers.
type Info struct {
	ID         string        `json:"id"`
	RTSPURL    string        `json:"rtspUrl"`
	OutputPath string        `json:"outputPath"`
	StartTime  time.Time     `json:"startTime"`
	Uptime     time.Duration `json:"uptime"`
	State      State         `json:"state"`
}
