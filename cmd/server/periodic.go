package main

import (
	"context"
	"time"
)

// periodic is a supervised service calling fn every interval.
type periodic struct {
	name     string
	interval time.Duration
	fn       func()
}

func newPeriodic(name string, interval time.Duration, fn func()) *periodic {
	return &periodic{name: name, interval: interval, fn: fn}
}

func (p *periodic) Serve(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.fn()
		}
	}
}

func (p *periodic) String() string { return p.name }
