// Package stop provides the sources an optimisation run polls to learn that
// an operator wants it to end early.
package stop

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// Signal reports whether a stop has been requested. Implementations must be
// cheap enough to poll before every proposal.
type Signal interface {
	Stopped() bool
}

// Never is a Signal that is never raised.
var Never Signal = never{}

type never struct{}

func (never) Stopped() bool { return false }

// Flag is a Signal raised programmatically, for example from the debug HTTP
// route. The zero value is ready to use.
type Flag struct {
	raised atomic.Bool
}

// Stop raises the flag.
func (f *Flag) Stop() { f.raised.Store(true) }

// Reset lowers the flag.
func (f *Flag) Reset() { f.raised.Store(false) }

// Stopped reports whether Stop has been called since the last Reset.
func (f *Flag) Stopped() bool { return f.raised.Load() }

// DefaultFilePollInterval limits how often File touches the filesystem.
const DefaultFilePollInterval = 500 * time.Millisecond

// File is raised once a file exists at Path. The file is checked at most
// once per poll interval; between checks the previous answer is returned.
// Once raised it stays raised.
type File struct {
	path    string
	limiter *rate.Limiter

	mu     sync.Mutex
	raised bool
}

// NewFile watches path. A non-positive interval uses DefaultFilePollInterval.
func NewFile(path string, interval time.Duration) *File {
	if interval <= 0 {
		interval = DefaultFilePollInterval
	}
	return &File{path: path, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Path returns the watched path.
func (f *File) Path() string { return f.path }

// Stopped reports whether the stop file has been seen.
func (f *File) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raised || !f.limiter.Allow() {
		return f.raised
	}
	if _, err := os.Stat(f.path); err == nil {
		f.raised = true
	} else if !errors.Is(err, os.ErrNotExist) {
		// Unreadable parent directories and the like are treated as "not yet".
		return false
	}
	return f.raised
}

// OS is raised by SIGINT or SIGTERM.
type OS struct {
	flag   Flag
	ch     chan os.Signal
	cancel context.CancelFunc
}

// NewOS starts listening for SIGINT and SIGTERM. Call Close to restore the
// default signal behaviour.
func NewOS() *OS {
	ctx, cancel := context.WithCancel(context.Background())
	s := &OS{ch: make(chan os.Signal, 1), cancel: cancel}
	signal.Notify(s.ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-s.ch:
			s.flag.Stop()
		case <-ctx.Done():
		}
	}()
	return s
}

// Stopped reports whether a signal has arrived.
func (s *OS) Stopped() bool { return s.flag.Stopped() }

// Close stops listening.
func (s *OS) Close() {
	signal.Stop(s.ch)
	s.cancel()
}

// Any is raised when any of its members is. Nil members are ignored.
func Any(signals ...Signal) Signal {
	var live []Signal
	for _, s := range signals {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return Never
	case 1:
		return live[0]
	}
	return anySignal(live)
}

type anySignal []Signal

func (a anySignal) Stopped() bool {
	for _, s := range a {
		if s.Stopped() {
			return true
		}
	}
	return false
}
