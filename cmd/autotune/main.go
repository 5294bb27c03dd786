// Command autotune runs closed-loop parameter optimisation against an
// acquisition host and reports on the trial logs it writes.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/autotune/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "run":
		err = handleRun(args)
	case "batch":
		err = handleBatch(args)
	case "resume":
		err = handleResume(args)
	case "report":
		err = handleReport(args)
	case "list":
		err = handleList(args)
	case "watch":
		err = handleWatch(args)
	case "version":
		fmt.Printf("autotune version %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "autotune %s: %v\n", command, err)
		os.Exit(exitCode(err))
	}
}

func printUsage() {
	fmt.Println(`autotune - closed-loop instrument parameter optimisation

Usage: autotune <command> [options]

Commands:
  run       Optimise one routine
  batch     Run a batch of routines in order on one instrument
  resume    Continue an interrupted run from its trial log
  report    Export a trial log as CSV, SQLite, PNG and HTML
  list      List cost functions and search algorithms
  watch     Follow the progress of a running autotune
  version   Show autotune version
  help      Show this help message

Common Flags (run, batch, resume):
  --target <url>         Bridge transport, overriding the routine file:
                           serial:///dev/ttyUSB0?baud=115200
                           tcp://localhost:7070
                           exec:simhost -model pulse
  --log <file>           Trial log (default: trials.jsonl)
  --stop-file <file>     Stop after the current evaluation once this file exists
  --artifacts <dir>      Keep every scored artifact as JSON
  --debug-listen <addr>  Serve /debug/ (status, stop, metrics) on addr
  --watch-listen <addr>  Stream run progress over gRPC for 'autotune watch'

Run and resume also take --no-apply to leave the instrument as the last
trial set it instead of applying the best values found.

Examples:
  # Calibrate against the simulated host
  autotune run --routine p90.yaml --target "exec:simhost -model pulse"

  # Overnight batch with a stop file
  autotune batch --batch shims.yaml --stop-file /tmp/autotune.stop

  # Pick an interrupted run back up
  autotune resume --routine p90.yaml --run 3f0c... --log trials.jsonl

  # Export the log
  autotune report --log trials.jsonl --out report/ --formats csv,html

  # Browse the exported runs with a SQL console
  autotune report --log trials.jsonl --out report/ --serve localhost:8080

  # Follow a run from another terminal
  autotune run --routine p90.yaml --watch-listen localhost:7071
  autotune watch --addr localhost:7071`)
}
