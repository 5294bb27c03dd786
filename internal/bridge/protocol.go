package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol verbs. A request line is "<seq> <verb> [args...]"; the host
// answers "<seq> ok [payload]" or "<seq> err <reason>".
const (
	VerbPing    = "ping"
	VerbSet     = "set"
	VerbGet     = "get"
	VerbAcquire = "acquire"
	VerbFetch   = "fetch"
	VerbSafe    = "safe"
)

// Request is one parsed request line.
type Request struct {
	Seq  uint64
	Verb string
	Args []string
}

func (r Request) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(r.Seq, 10))
	sb.WriteByte(' ')
	sb.WriteString(r.Verb)
	for _, a := range r.Args {
		sb.WriteByte(' ')
		sb.WriteString(a)
	}
	return sb.String()
}

// Response is one parsed response line.
type Response struct {
	Seq     uint64
	OK      bool
	Payload string // payload on ok, reason on err
}

func (r Response) String() string {
	status := "ok"
	if !r.OK {
		status = "err"
	}
	if r.Payload == "" {
		return fmt.Sprintf("%d %s", r.Seq, status)
	}
	return fmt.Sprintf("%d %s %s", r.Seq, status, r.Payload)
}

var errMalformed = errors.New("malformed protocol line")

// ParseRequest parses a request line without its trailing newline.
func ParseRequest(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Request{}, fmt.Errorf("%w: %q", errMalformed, line)
	}
	seq, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Request{}, fmt.Errorf("%w: bad sequence number in %q", errMalformed, line)
	}
	return Request{Seq: seq, Verb: fields[1], Args: fields[2:]}, nil
}

// ParseResponse parses a response line. The payload is everything after
// the status word, so it may contain spaces (reasons, JSON).
func ParseResponse(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")
	seqStr, rest, ok := strings.Cut(line, " ")
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", errMalformed, line)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad sequence number in %q", errMalformed, line)
	}
	status, payload, _ := strings.Cut(rest, " ")
	switch status {
	case "ok":
		return Response{Seq: seq, OK: true, Payload: payload}, nil
	case "err":
		return Response{Seq: seq, Payload: payload}, nil
	default:
		return Response{}, fmt.Errorf("%w: unknown status %q", errMalformed, status)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
