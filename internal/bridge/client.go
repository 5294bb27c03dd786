// Package bridge connects the optimiser to the acquisition host. A Client
// sets parameters, runs one acquisition and fetches the resulting artifact
// over a line-oriented request/response protocol, and always leaves the
// instrument in its safe state afterwards.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/autotune/internal/artifact"
	"github.com/banshee-data/autotune/internal/params"
)

// Status is the outcome of one evaluation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "evaluation-failed"
	StatusAborted Status = "aborted"
)

// Failure classifies why an evaluation did not produce a usable artifact.
type Failure string

const (
	FailNone           Failure = ""
	FailSetParameter   Failure = "set-parameter"
	FailAcquire        Failure = "acquire"
	FailAcquireTimeout Failure = "acquire-timeout"
	FailFetch          Failure = "fetch"
	FailTransport      Failure = "transport"
	FailAborted        Failure = "aborted"
	// FailCost is used when the artifact arrived but could not be scored.
	FailCost Failure = "cost"
)

// Evaluation is the result of one Evaluate call.
type Evaluation struct {
	Artifact *artifact.Artifact
	Physical []float64
	Status   Status
	Failure  Failure
	Reason   string
}

// Options tunes a Client.
type Options struct {
	// CommandTimeout bounds set, get, fetch, safe and ping.
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout"`
	// AcquireTimeout bounds one acquisition.
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	// Shape is the artifact shape requested from the host.
	Shape artifact.Shape `json:"shape" yaml:"shape"`
}

// DefaultOptions returns the defaults used for unset fields.
func DefaultOptions() Options {
	return Options{
		CommandTimeout: 5 * time.Second,
		AcquireTimeout: 10 * time.Minute,
		Shape:          artifact.Real1D,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = d.AcquireTimeout
	}
	if o.Shape == "" {
		o.Shape = d.Shape
	}
	return o
}

// Client is the optimiser's handle on the acquisition host. It is safe for
// use by one run at a time; concurrent calls are serialised.
type Client struct {
	conn *conn
	opts Options
}

// NewClient wraps an open Port.
func NewClient(port Port, opts Options) *Client {
	return &Client{conn: newConn(port), opts: opts.withDefaults()}
}

// Dial opens the transport named by target and wraps it in a Client.
func Dial(ctx context.Context, target string, opts Options) (*Client, error) {
	port, err := OpenPort(ctx, target)
	if err != nil {
		return nil, err
	}
	return NewClient(port, opts), nil
}

// Options returns the effective options.
func (c *Client) Options() Options {
	return c.opts
}

// WithShape returns a Client on the same connection that fetches shape
// instead of the configured one.
func (c *Client) WithShape(shape artifact.Shape) *Client {
	cp := *c
	cp.opts.Shape = shape
	return &cp
}

// Close closes the underlying port.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping checks that the host is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.conn.roundTrip(ctx, c.opts.CommandTimeout, VerbPing)
	return err
}

// Safe asks the host to restore its known-safe state.
func (c *Client) Safe(ctx context.Context) error {
	_, err := c.conn.roundTrip(ctx, c.opts.CommandTimeout, VerbSafe)
	return err
}

// Evaluate unscales x into physical units, applies every parameter, runs
// one acquisition and fetches the artifact. The safe command is sent on
// every path, including cancellation. Failures are reported in the
// returned Evaluation, never as a panic.
func (c *Client) Evaluate(ctx context.Context, space params.Space, x []float64) Evaluation {
	phys, err := space.Physical(x)
	if err != nil {
		return Evaluation{Status: StatusFailed, Failure: FailTransport, Reason: err.Error()}
	}
	ev := c.evaluate(ctx, space, phys)
	ev.Physical = phys

	safeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CommandTimeout)
	defer cancel()
	if err := c.Safe(safeCtx); err != nil {
		c.conn.logf("safe after evaluation failed: %v", err)
	}
	return ev
}

func (c *Client) evaluate(ctx context.Context, space params.Space, phys []float64) Evaluation {
	for i, p := range space {
		args := []string{p.Name, formatValue(phys[i])}
		if p.Unit != "" {
			args = append(args, p.Unit)
		}
		if _, err := c.conn.roundTrip(ctx, c.opts.CommandTimeout, VerbSet, args...); err != nil {
			return failed(ctx, FailSetParameter, fmt.Errorf("set %s: %w", p.Name, err))
		}
	}

	if _, err := c.conn.roundTrip(ctx, c.opts.AcquireTimeout, VerbAcquire, "wait"); err != nil {
		kind := FailAcquire
		if errors.Is(err, ErrTimeout) {
			kind = FailAcquireTimeout
		}
		return failed(ctx, kind, fmt.Errorf("acquire: %w", err))
	}

	payload, err := c.conn.roundTrip(ctx, c.opts.CommandTimeout, VerbFetch, string(c.opts.Shape))
	if err != nil {
		return failed(ctx, FailFetch, fmt.Errorf("fetch: %w", err))
	}
	var a artifact.Artifact
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return failed(ctx, FailFetch, fmt.Errorf("decode artifact: %w", err))
	}
	if err := a.Validate(); err != nil {
		return failed(ctx, FailFetch, err)
	}
	return Evaluation{Artifact: &a, Status: StatusOK}
}

// failed classifies err. Cancellation wins over the step's own kind, and a
// dead connection is a transport failure wherever it happens.
func failed(ctx context.Context, kind Failure, err error) Evaluation {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return Evaluation{Status: StatusAborted, Failure: FailAborted, Reason: err.Error()}
	case errors.Is(err, ErrClosed):
		kind = FailTransport
	}
	return Evaluation{Status: StatusFailed, Failure: kind, Reason: err.Error()}
}

// Setting is one parameter value read back from the host.
type Setting struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Snapshot is an ordered set of parameter values.
type Snapshot []Setting

// Value returns the value recorded for name.
func (s Snapshot) Value(name string) (float64, bool) {
	for _, st := range s {
		if st.Name == name {
			return st.Value, true
		}
	}
	return 0, false
}

// Snapshot reads the current value of each named parameter.
func (c *Client) Snapshot(ctx context.Context, names []string) (Snapshot, error) {
	snap := make(Snapshot, 0, len(names))
	for _, name := range names {
		payload, err := c.conn.roundTrip(ctx, c.opts.CommandTimeout, VerbGet, name)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", name, err)
		}
		fields := strings.Fields(payload)
		if len(fields) == 0 {
			return nil, fmt.Errorf("get %s: empty reply", name)
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", name, err)
		}
		st := Setting{Name: name, Value: v}
		if len(fields) > 1 {
			st.Unit = fields[1]
		}
		snap = append(snap, st)
	}
	return snap, nil
}

// Restore writes every value in snap back to the host.
func (c *Client) Restore(ctx context.Context, snap Snapshot) error {
	for _, st := range snap {
		args := []string{st.Name, formatValue(st.Value)}
		if st.Unit != "" {
			args = append(args, st.Unit)
		}
		if _, err := c.conn.roundTrip(ctx, c.opts.CommandTimeout, VerbSet, args...); err != nil {
			return fmt.Errorf("restore %s: %w", st.Name, err)
		}
	}
	return nil
}

// AttachAdminRoutes exposes the recent protocol exchange under /debug/.
func (c *Client) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("bridge", "recent bridge protocol lines", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, line := range c.conn.History() {
			fmt.Fprintln(w, line)
		}
	})
	debug.HandleSilentFunc("bridge-ping", func(w http.ResponseWriter, r *http.Request) {
		if err := c.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		fmt.Fprintln(w, "pong")
	})
}
