// Package idle closes every session once the user has been inactive for
// longer than a threshold.
//
// A single [Clock] is touched by user actions (opening a session, sending a
// command). The [Supervisor] checks it on a fixed tick driven by
// robfig/cron and calls CloseAll on its [Closer] when the idle time is at
// or above the threshold. Incoming output never counts as activity.
//
// Log prefix: [idle].
package idle

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultInterval is how often the supervisor checks the clock.
	DefaultInterval = time.Minute
	// DefaultThreshold is the idle time after which sessions are closed.
	DefaultThreshold = 5 * time.Minute
)

// Closer closes every open session.
type Closer interface {
	CloseAll() error
	Count() int
}

// Supervisor periodically closes all sessions when the process is idle.
type Supervisor struct {
	clock     *Clock
	closer    Closer
	interval  time.Duration
	threshold time.Duration
	nowFn     func() time.Time // injectable clock for testing

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSupervisor creates a stopped supervisor. Non-positive durations
// select the defaults.
func NewSupervisor(clock *Clock, closer Closer, interval, threshold time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Supervisor{
		clock:     clock,
		closer:    closer,
		interval:  interval,
		threshold: threshold,
		nowFn:     time.Now,
	}
}

// SetNowFunc sets the clock function used for testing. Call it before
// Start.
func (s *Supervisor) SetNowFunc(fn func() time.Time) {
	s.nowFn = fn
}

// Start schedules the tick loop. Calling Start on a running supervisor
// does nothing.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.Tick() }))
	c.Start()
	s.cron = c
	log.Printf("[idle] supervisor started (interval=%s, threshold=%s)", s.interval, s.threshold)
}

// Stop halts the tick loop and waits for a running tick to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Printf("[idle] supervisor stopped")
}

// Running reports whether the tick loop is scheduled.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Tick performs one idle check and reports whether CloseAll was invoked.
func (s *Supervisor) Tick() bool {
	idleFor := s.clock.IdleFor(s.nowFn())
	if idleFor < s.threshold {
		return false
	}
	if open := s.closer.Count(); open > 0 {
		log.Printf("[idle] idle for %s (threshold %s), closing %d session(s)",
			idleFor.Round(time.Second), s.threshold, open)
	}
	if err := s.closer.CloseAll(); err != nil {
		log.Printf("[idle] close all: %v", err)
	}
	return true
}
