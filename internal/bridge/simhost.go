package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/autotune/internal/artifact"
	"github.com/banshee-data/autotune/internal/monitoring"
)

// Model turns the host's current parameter values into an artifact.
type Model func(values map[string]float64) (*artifact.Artifact, error)

// FaultMode selects how an injected fault misbehaves.
type FaultMode int

const (
	// FaultError answers "err <reason>".
	FaultError FaultMode = iota
	// FaultSilent never answers, forcing a client timeout.
	FaultSilent
	// FaultLate answers correctly but only after Delay.
	FaultLate
)

// Fault makes the next Times requests for Verb misbehave.
type Fault struct {
	Verb   string
	Mode   FaultMode
	Reason string
	Delay  time.Duration
	Times  int
}

// SimHost is a simulated acquisition host speaking the bridge protocol. It
// backs the tests and cmd/simhost.
type SimHost struct {
	model        Model
	acquireDelay time.Duration
	logf         func(format string, args ...any)

	mu       sync.Mutex
	values   map[string]float64
	units    map[string]string
	faults   []Fault
	counts   map[string]int
	acquired *artifact.Artifact

	writeMu sync.Mutex
}

// NewSimHost returns a host whose parameters start at initial.
func NewSimHost(model Model, initial map[string]float64) *SimHost {
	h := &SimHost{
		model:  model,
		logf:   monitoring.Component("simhost"),
		values: make(map[string]float64, len(initial)),
		units:  make(map[string]string),
		counts: make(map[string]int),
	}
	for k, v := range initial {
		h.values[k] = v
	}
	return h
}

// SetAcquireDelay makes every acquisition take d.
func (h *SimHost) SetAcquireDelay(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acquireDelay = d
}

// Inject queues a fault.
func (h *SimHost) Inject(f Fault) {
	if f.Times <= 0 {
		f.Times = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.faults = append(h.faults, f)
}

// Values returns a copy of the current parameter values.
func (h *SimHost) Values() map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]float64, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// Count returns how many requests with verb have been received.
func (h *SimHost) Count(verb string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[verb]
}

// takeFault pops the first pending fault for verb. Caller holds mu.
func (h *SimHost) takeFault(verb string) (Fault, bool) {
	for i := range h.faults {
		if h.faults[i].Verb != verb {
			continue
		}
		f := h.faults[i]
		h.faults[i].Times--
		if h.faults[i].Times <= 0 {
			h.faults = append(h.faults[:i], h.faults[i+1:]...)
		}
		return f, true
	}
	return Fault{}, false
}

// Serve answers requests read from rw until ctx is done or the stream ends.
func (h *SimHost) Serve(ctx context.Context, rw io.ReadWriter) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(rw)
		scan.Buffer(make([]byte, 0, 4096), maxLineBytes)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			h.handle(ctx, rw, line)
		}
	}
}

func (h *SimHost) handle(ctx context.Context, w io.Writer, line string) {
	req, err := ParseRequest(line)
	if err != nil {
		h.logf("bad request: %v", err)
		return
	}

	h.mu.Lock()
	h.counts[req.Verb]++
	fault, faulty := h.takeFault(req.Verb)
	h.mu.Unlock()

	if faulty {
		switch fault.Mode {
		case FaultError:
			h.reply(w, Response{Seq: req.Seq, Payload: fault.Reason})
			return
		case FaultSilent:
			return
		case FaultLate:
			resp := h.execute(req)
			go func() {
				select {
				case <-time.After(fault.Delay):
					h.reply(w, resp)
				case <-ctx.Done():
				}
			}()
			return
		}
	}
	h.reply(w, h.execute(req))
}

func (h *SimHost) reply(w io.Writer, resp Response) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := io.WriteString(w, resp.String()+"\n"); err != nil {
		h.logf("write reply %d: %v", resp.Seq, err)
	}
}

func (h *SimHost) execute(req Request) Response {
	fail := func(format string, args ...any) Response {
		return Response{Seq: req.Seq, Payload: fmt.Sprintf(format, args...)}
	}
	ok := func(payload string) Response {
		return Response{Seq: req.Seq, OK: true, Payload: payload}
	}

	switch req.Verb {
	case VerbPing:
		return ok("pong")

	case VerbSet:
		if len(req.Args) < 2 {
			return fail("usage: set <name> <value> [unit]")
		}
		v, err := strconv.ParseFloat(req.Args[1], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("bad value %q", req.Args[1])
		}
		h.mu.Lock()
		h.values[req.Args[0]] = v
		if len(req.Args) > 2 {
			h.units[req.Args[0]] = req.Args[2]
		}
		h.mu.Unlock()
		return ok("")

	case VerbGet:
		if len(req.Args) != 1 {
			return fail("usage: get <name>")
		}
		h.mu.Lock()
		v, found := h.values[req.Args[0]]
		unit := h.units[req.Args[0]]
		h.mu.Unlock()
		if !found {
			return fail("unknown parameter %s", req.Args[0])
		}
		if unit != "" {
			return ok(formatValue(v) + " " + unit)
		}
		return ok(formatValue(v))

	case VerbAcquire:
		h.mu.Lock()
		delay := h.acquireDelay
		values := make(map[string]float64, len(h.values))
		for k, v := range h.values {
			values[k] = v
		}
		h.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		a, err := h.model(values)
		if err != nil {
			return fail("acquisition failed: %v", err)
		}
		h.mu.Lock()
		h.acquired = a
		h.mu.Unlock()
		return ok("")

	case VerbFetch:
		h.mu.Lock()
		a := h.acquired
		h.mu.Unlock()
		if a == nil {
			return fail("nothing acquired")
		}
		if len(req.Args) > 0 && !a.Shape.Provides(artifact.Shape(req.Args[0])) {
			return fail("cannot provide %s data from a %s acquisition", req.Args[0], a.Shape)
		}
		b, err := json.Marshal(a)
		if err != nil {
			return fail("encode artifact: %v", err)
		}
		return ok(string(b))

	case VerbSafe:
		h.mu.Lock()
		h.acquired = nil
		h.mu.Unlock()
		return ok("")

	default:
		return fail("unknown verb %s", req.Verb)
	}
}

// Names returns the known parameter names, sorted.
func (h *SimHost) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.values))
	for k := range h.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
