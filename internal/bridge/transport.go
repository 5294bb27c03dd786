package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// OpenPort opens the transport named by target:
//
//	serial:///dev/ttyUSB0?baud=115200&parity=N
//	tcp://localhost:7070
//	exec:simhost -model pulse
func OpenPort(ctx context.Context, target string) (Port, error) {
	scheme, rest, ok := strings.Cut(target, ":")
	if !ok {
		return nil, fmt.Errorf("bridge target %q has no scheme", target)
	}
	switch scheme {
	case "serial":
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse serial target: %w", err)
		}
		opts, err := portOptionsFromQuery(u.Query())
		if err != nil {
			return nil, err
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return OpenSerial(path, opts)

	case "tcp":
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse tcp target: %w", err)
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return conn, nil

	case "exec":
		args := strings.Fields(rest)
		if len(args) == 0 {
			return nil, errors.New("exec target has no command")
		}
		return StartProcess(args[0], args[1:]...)

	default:
		return nil, fmt.Errorf("unsupported bridge transport %q", scheme)
	}
}

func portOptionsFromQuery(q url.Values) (PortOptions, error) {
	var opts PortOptions
	atoi := func(key string) (int, error) {
		s := q.Get(key)
		if s == "" {
			return 0, nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("serial option %s=%q: %w", key, s, err)
		}
		return v, nil
	}
	var err error
	if opts.BaudRate, err = atoi("baud"); err != nil {
		return opts, err
	}
	if opts.DataBits, err = atoi("databits"); err != nil {
		return opts, err
	}
	if opts.StopBits, err = atoi("stopbits"); err != nil {
		return opts, err
	}
	opts.Parity = q.Get("parity")
	return opts.Normalise()
}

// processPort talks to a child process over its stdin and stdout.
type processPort struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// StartProcess starts name with args and returns a Port connected to its
// standard input and output. Its standard error is discarded.
func StartProcess(name string, args ...string) (Port, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return &processPort{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *processPort) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processPort) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close closes stdin, kills the child and reaps it.
func (p *processPort) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.closeErr = err
		}
	})
	return p.closeErr
}

// Pipe returns two connected in-memory ports, one for a Client and one for
// a host such as SimHost.
func Pipe() (client, host Port) {
	return net.Pipe()
}
