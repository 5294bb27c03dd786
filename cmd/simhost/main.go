// Command simhost serves a simulated acquisition host over stdin/stdout or
// TCP, for trying routines without an instrument.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/autotune/internal/bridge"
)

var (
	model        = flag.String("model", "pulse", "Simulated response: pulse or bowl")
	param        = flag.String("param", "p1", "Parameter driving the pulse model")
	p90          = flag.Float64("p90", 40, "Pulse model 90 degree value")
	target       = flag.String("target", "p1=30,d1=2", "Bowl model optimum as name=value pairs")
	initial      = flag.String("init", "", "Initial parameter values as name=value pairs")
	listen       = flag.String("listen", "", "Serve TCP on this address instead of stdin/stdout")
	acquireDelay = flag.Duration("acquire-delay", 0, "Simulated acquisition time")
)

func main() {
	flag.Parse()
	log.SetPrefix("simhost: ")

	m, err := buildModel()
	if err != nil {
		log.Fatal(err)
	}
	start, err := parsePairs(*initial)
	if err != nil {
		log.Fatalf("bad --init: %v", err)
	}

	if *listen == "" {
		// Ctrl-C in the client's terminal reaches us too; keep answering
		// until the client closes stdin.
		signal.Ignore(syscall.SIGINT)
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()
		host := newHost(m, start)
		if err := host.Serve(ctx, stdio{os.Stdin, os.Stdout}); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := serveTCP(ctx, *listen, m, start); err != nil {
		log.Fatal(err)
	}
}

type stdio struct {
	io.Reader
	io.Writer
}

func newHost(m bridge.Model, start map[string]float64) *bridge.SimHost {
	h := bridge.NewSimHost(m, start)
	h.SetAcquireDelay(*acquireDelay)
	return h
}

func buildModel() (bridge.Model, error) {
	switch *model {
	case "pulse":
		return bridge.PulseModel(*param, *p90), nil
	case "bowl":
		t, err := parsePairs(*target)
		if err != nil {
			return nil, fmt.Errorf("bad --target: %w", err)
		}
		if len(t) == 0 {
			return nil, errors.New("bowl model needs --target")
		}
		return bridge.BowlModel(t), nil
	default:
		return nil, fmt.Errorf("unknown model %q (want pulse or bowl)", *model)
	}
}

// parsePairs reads "a=1,b=2".
func parsePairs(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%q is not name=value", part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

// serveTCP gives every connection its own host, as a reconnecting client
// would see a freshly powered instrument.
func serveTCP(ctx context.Context, addr string, m bridge.Model, start map[string]float64) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("listening on %s", ln.Addr())
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}
		log.Printf("client %s connected", conn.RemoteAddr())
		go func() {
			defer conn.Close()
			if err := newHost(m, start).Serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("client %s: %v", conn.RemoteAddr(), err)
			}
			log.Printf("client %s disconnected", conn.RemoteAddr())
		}()
	}
}
