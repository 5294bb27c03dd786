package watch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/autotune/internal/driver"
)

const (
	serviceName = "autotune.watch.v1.Watch"
	runsMethod  = "/" + serviceName + "/Runs"
)

// RunsServer is the service implemented by Server. The request names one
// run id, or is empty for every run; each response is a driver summary
// carried as a protobuf Struct.
type RunsServer interface {
	Runs(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RunsServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Runs",
		Handler:       runsHandler,
		ServerStreams: true,
	}},
	Metadata: "autotune/watch",
}

func runsHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(RunsServer).Runs(req, stream)
}

// Ensure Server implements the service.
var _ RunsServer = (*Server)(nil)

// Server streams the summaries published to a Hub.
type Server struct {
	hub *Hub
}

// NewServer returns a server reading from hub.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// Register adds the service to r, usually a *grpc.Server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// Runs sends the current summary of each matching run, then every update,
// until the viewer goes away or the hub closes.
func (s *Server) Runs(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	ctx := stream.Context()
	want := req.GetValue()
	logf("viewer connected (run=%q)", want)

	current, updates, cancel := s.hub.Subscribe()
	defer cancel()

	send := func(sum driver.Summary) error {
		if want != "" && sum.RunID != want {
			return nil
		}
		st, err := toStruct(sum)
		if err != nil {
			return status.Errorf(codes.Internal, "encode summary: %v", err)
		}
		return stream.SendMsg(st)
	}
	for _, sum := range current {
		if err := send(sum); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			logf("viewer disconnected")
			return ctx.Err()
		case sum, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(sum); err != nil {
				return err
			}
		}
	}
}

// Follow opens a Runs stream on cc and yields each summary received. An
// empty runID follows every run. The sequence ends when the server closes
// the stream; any other failure is yielded once as an error.
func Follow(ctx context.Context, cc grpc.ClientConnInterface, runID string) iter.Seq2[driver.Summary, error] {
	return func(yield func(driver.Summary, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], runsMethod)
		if err != nil {
			yield(driver.Summary{}, err)
			return
		}
		if err := stream.SendMsg(wrapperspb.String(runID)); err != nil {
			yield(driver.Summary{}, err)
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(driver.Summary{}, err)
			return
		}
		for {
			st := new(structpb.Struct)
			if err := stream.RecvMsg(st); err != nil {
				if !errors.Is(err, io.EOF) {
					yield(driver.Summary{}, err)
				}
				return
			}
			sum, err := fromStruct(st)
			if !yield(sum, err) || err != nil {
				return
			}
		}
	}
}

func toStruct(sum driver.Summary) (*structpb.Struct, error) {
	b, err := json.Marshal(sum)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(st *structpb.Struct) (driver.Summary, error) {
	var sum driver.Summary
	b, err := protojson.Marshal(st)
	if err != nil {
		return sum, err
	}
	err = json.Unmarshal(b, &sum)
	return sum, err
}
