package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/autotune/internal/monitoring"
)

var (
	// ErrTimeout is returned when the host does not answer in time.
	ErrTimeout = errors.New("bridge: timed out waiting for host")
	// ErrClosed is returned once the connection is closed or the host hung up.
	ErrClosed = errors.New("bridge: connection closed")
	// ErrWriteFailed mirrors a short write on the port.
	ErrWriteFailed = errors.New("bridge: short write")
)

// HostError is an "err" response from the host.
type HostError struct {
	Verb   string
	Reason string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host rejected %s: %s", e.Verb, e.Reason)
}

// maxLineBytes bounds one protocol line; fetch payloads carry whole spectra.
const maxLineBytes = 64 << 20

// historySize is how many exchanged lines are kept for the debug view.
const historySize = 200

// conn frames requests and responses over a Port. At most one request is
// outstanding; replies carrying an older sequence number are dropped, so a
// reply arriving after its request timed out cannot be mistaken for the
// answer to the next one.
type conn struct {
	port Port
	logf func(format string, args ...any)

	txMu sync.Mutex
	seq  uint64
	// pending is the result of a write abandoned when its request's
	// context ended; no other write starts until it has finished.
	pending chan error

	lines   chan string
	readErr error

	histMu  sync.Mutex
	history []string

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(port Port) *conn {
	c := &conn{
		port:  port,
		logf:  monitoring.Component("bridge"),
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop scans lines from the port until it fails or the conn closes.
func (c *conn) readLoop() {
	defer close(c.lines)
	scan := bufio.NewScanner(c.port)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scan.Scan() {
		select {
		case c.lines <- scan.Text():
		case <-c.done:
			return
		}
	}
	c.readErr = scan.Err()
	if c.readErr == nil {
		c.readErr = io.EOF
	}
}

func (c *conn) record(dir, line string) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	if len(line) > 200 {
		line = line[:200] + "..."
	}
	c.history = append(c.history, time.Now().Format("15:04:05.000")+" "+dir+" "+line)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
}

// History returns the most recent exchanged lines, oldest first.
func (c *conn) History() []string {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]string(nil), c.history...)
}

// roundTrip sends one request and waits for its response.
func (c *conn) roundTrip(ctx context.Context, timeout time.Duration, verb string, args ...string) (string, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	select {
	case <-c.done:
		return "", ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.pending != nil {
		select {
		case err := <-c.pending:
			c.pending = nil
			if err != nil {
				return "", fmt.Errorf("%w: earlier write: %v", ErrClosed, err)
			}
		default:
			return "", fmt.Errorf("%w: earlier write still blocked", ErrClosed)
		}
	}

	c.seq++
	req := Request{Seq: c.seq, Verb: verb, Args: args}
	line := req.String() + "\n"

	written := make(chan error, 1)
	go func() {
		n, err := c.port.Write([]byte(line))
		if err == nil && n != len(line) {
			err = ErrWriteFailed
		}
		written <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-written:
		if err != nil {
			return "", fmt.Errorf("%w: write %s: %v", ErrClosed, verb, err)
		}
	case <-ctx.Done():
		c.pending = written
		return "", ctx.Err()
	case <-timer.C:
		// A host that stops reading cannot be resynchronised; closing the
		// port also releases the blocked writer.
		c.logf("write of %s timed out, closing connection", verb)
		c.Close()
		return "", fmt.Errorf("%w: writing %s", ErrTimeout, verb)
	}
	c.record(">", line[:len(line)-1])

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", fmt.Errorf("%w after %s (%s)", ErrTimeout, timeout, verb)
		case l, ok := <-c.lines:
			if !ok {
				return "", fmt.Errorf("%w: %v", ErrClosed, c.readErr)
			}
			c.record("<", l)
			resp, err := ParseResponse(l)
			if err != nil {
				c.logf("ignoring line from host: %v", err)
				continue
			}
			if resp.Seq != req.Seq {
				c.logf("discarding stale reply %d while waiting for %d", resp.Seq, req.Seq)
				continue
			}
			if !resp.OK {
				return "", &HostError{Verb: verb, Reason: resp.Payload}
			}
			return resp.Payload, nil
		}
	}
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.port.Close()
	})
	return err
}
