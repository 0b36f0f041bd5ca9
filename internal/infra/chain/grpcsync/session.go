// Package grpcsync follows a node over a bidirectional gRPC stream.
//
// Messages are google.protobuf.Struct values so no generated code is
// needed on either side. The client sends
//
//	{"find_intersect": {"points": [{"slot": N, "hash": "hex"}, ...]}}
//	{"request_next": {}}
//
// and the server answers with exactly one of intersect_found,
// intersect_not_found, roll_forward or roll_backward per request. The server
// holds a request_next until it has a reply.
package grpcsync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync"
	"github.com/vietddude/chainrelay/internal/indexing/recovery"
	"github.com/vietddude/chainrelay/internal/infra/rpc/provider"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// SyncMethod is the full method name of the stream.
const SyncMethod = "/chainsync.v1.ChainSync/Sync"

// StreamDesc describes the Sync stream.
var StreamDesc = &grpc.StreamDesc{
	StreamName:    "Sync",
	ServerStreams: true,
	ClientStreams: true,
}

// Message keys.
const (
	KeyFindIntersect     = "find_intersect"
	KeyRequestNext       = "request_next"
	KeyIntersectFound    = "intersect_found"
	KeyIntersectNotFound = "intersect_not_found"
	KeyRollForward       = "roll_forward"
	KeyRollBackward      = "roll_backward"
)

// Dialer opens Sync streams over one client connection.
type Dialer struct {
	provider *provider.GRPCProvider
	logger   *slog.Logger
}

// NewDialer creates a dialer for address.
func NewDialer(address string, logger *slog.Logger, opts ...grpc.DialOption) (*Dialer, error) {
	p, err := provider.NewGRPCProvider("grpc", address, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{provider: p, logger: logger.With("component", "grpcsync")}, nil
}

var _ chainsync.Dialer = (*Dialer)(nil)

// Dial opens a stream. The stream lives until Close or until ctx ends.
func (d *Dialer) Dial(ctx context.Context) (chainsync.Session, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := d.provider.Conn().NewStream(streamCtx, StreamDesc, SyncMethod)
	if err != nil {
		cancel()
		d.provider.RecordFailure()
		return nil, classify("open stream", err, d.logger)
	}
	return &Session{stream: stream, cancel: cancel, base: d.provider.NodeHealth, logger: d.logger}, nil
}

// Provider exposes the transport for health reporting.
func (d *Dialer) Provider() provider.Provider {
	return d.provider
}

// Close closes the client connection.
func (d *Dialer) Close() error {
	return d.provider.Close()
}

// Session is one Sync stream.
type Session struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	base   *provider.NodeHealth
	logger *slog.Logger

	closeOnce sync.Once
}

// roundTrip sends one request and waits for its reply. A cancelled ctx tears
// the stream down since Recv cannot be interrupted otherwise.
func (s *Session) roundTrip(ctx context.Context, op string, req *structpb.Struct) (*structpb.Struct, error) {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	if err := s.stream.SendMsg(req); err != nil {
		s.base.RecordFailure()
		return nil, s.recvError(ctx, op, err)
	}

	reply := &structpb.Struct{}
	if err := s.stream.RecvMsg(reply); err != nil {
		s.base.RecordFailure()
		return nil, s.recvError(ctx, op, err)
	}
	return reply, nil
}

func (s *Session) recvError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: stream closed by server", domain.ErrConnection, op)
	}
	return classify(op, err, s.logger)
}

// classify turns a gRPC error into a domain error. A RetryInfo detail marks
// the failure as transient whatever its code.
func classify(op string, err error, logger *slog.Logger) error {
	st := status.Convert(err)
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.RetryInfo); ok {
			logger.Debug("Server sent retry hint", "op", op, "delay", info.GetRetryDelay().AsDuration())
			return fmt.Errorf("%w: %s: %s", domain.ErrConnection, op, st.Message())
		}
	}
	return recovery.AsConnectionError(op, err)
}

// FindIntersect implements chainsync.Session.
func (s *Session) FindIntersect(ctx context.Context, points []domain.Point) (*domain.Point, domain.Tip, error) {
	list := make([]any, len(points))
	for i, p := range points {
		list[i] = pointValue(p)
	}
	req, err := structpb.NewStruct(map[string]any{
		KeyFindIntersect: map[string]any{"points": list},
	})
	if err != nil {
		return nil, domain.Tip{}, fmt.Errorf("build find_intersect: %w", err)
	}

	reply, err := s.roundTrip(ctx, KeyFindIntersect, req)
	if err != nil {
		return nil, domain.Tip{}, err
	}

	fields := reply.GetFields()
	if v, ok := fields[KeyIntersectFound]; ok {
		body := v.GetStructValue()
		p, err := parsePoint(body.GetFields()["point"])
		if err != nil {
			return nil, domain.Tip{}, err
		}
		tip, err := parseTip(body.GetFields()["tip"])
		if err != nil {
			return nil, domain.Tip{}, err
		}
		return &p, tip, nil
	}
	if v, ok := fields[KeyIntersectNotFound]; ok {
		tip, err := parseTip(v.GetStructValue().GetFields()["tip"])
		return nil, tip, err
	}
	return nil, domain.Tip{}, fmt.Errorf("unexpected find_intersect reply %v", keys(fields))
}

// RequestNext implements chainsync.Session.
func (s *Session) RequestNext(ctx context.Context) (domain.RollEvent, error) {
	req, _ := structpb.NewStruct(map[string]any{KeyRequestNext: map[string]any{}})

	start := nowFunc()
	reply, err := s.roundTrip(ctx, KeyRequestNext, req)
	if err != nil {
		return domain.RollEvent{}, err
	}
	s.base.RecordSuccess(nowFunc().Sub(start))

	fields := reply.GetFields()
	if v, ok := fields[KeyRollForward]; ok {
		body := v.GetStructValue().GetFields()
		p, err := parsePoint(body["point"])
		if err != nil {
			return domain.RollEvent{}, err
		}
		tip, err := parseTip(body["tip"])
		if err != nil {
			return domain.RollEvent{}, err
		}
		raw, err := hex.DecodeString(body["block"].GetStringValue())
		if err != nil {
			return domain.RollEvent{}, fmt.Errorf("%w: block hex at %s: %w", domain.ErrDecode, p.String(), err)
		}
		return domain.NewRollForward(domain.RawBlock{Point: p, Body: raw}, tip), nil
	}
	if v, ok := fields[KeyRollBackward]; ok {
		body := v.GetStructValue().GetFields()
		p, err := parsePoint(body["point"])
		if err != nil {
			return domain.RollEvent{}, err
		}
		tip, err := parseTip(body["tip"])
		if err != nil {
			return domain.RollEvent{}, err
		}
		return domain.NewRollBackward(p, tip), nil
	}
	return domain.RollEvent{}, fmt.Errorf("unexpected request_next reply %v", keys(fields))
}

// Close ends the stream.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stream.CloseSend()
		s.cancel()
	})
	return nil
}
