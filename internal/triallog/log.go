package triallog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/banshee-data/autotune/internal/monitoring"
)

// Log appends records to a file. Every Append is one write followed by an
// fsync, so a crash can lose at most the record being written, which then
// shows up as a torn final line.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens or creates the log at path for appending. A torn final line
// left by a crash is cut off first so the next record starts on its own
// line.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trial log: %w", err)
	}
	if err := trimTornTail(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("open trial log %s: %w", path, err)
	}
	return &Log{f: f, path: path}, nil
}

func trimTornTail(f *os.File) error {
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	keep := int64(len(data))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		keep = int64(bytes.LastIndexByte(data, '\n') + 1)
		monitoring.Logf("trial log: dropping %d bytes of torn record", int64(len(data))-keep)
		if err := f.Truncate(keep); err != nil {
			return err
		}
	}
	_, err = f.Seek(keep, io.SeekStart)
	return err
}

// Path returns the file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes one record durably.
func (l *Log) Append(r Record) error {
	if r.Schema == "" {
		r.Schema = SchemaVersion
	}
	line, err := r.marshal()
	if err != nil {
		return fmt.Errorf("encode %s record: %w", r.Kind, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("trial log is closed")
	}
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("append %s record: %w", r.Kind, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync trial log: %w", err)
	}
	return nil
}

// Close closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
