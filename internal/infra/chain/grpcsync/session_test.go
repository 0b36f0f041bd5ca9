package grpcsync

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync/chainsynctest"
)

// serveNode answers Sync streams from a chainsynctest.Node.
func serveNode(node *chainsynctest.Node) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		session, err := node.Dial(stream.Context())
		if err != nil {
			return status.Error(codes.Unavailable, err.Error())
		}
		defer session.Close()

		for {
			req := &structpb.Struct{}
			if err := stream.RecvMsg(req); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}

			var reply *structpb.Struct
			switch {
			case req.GetFields()[KeyFindIntersect] != nil:
				points, err := DecodePoints(req)
				if err != nil {
					return status.Error(codes.InvalidArgument, err.Error())
				}
				found, tip, err := session.FindIntersect(stream.Context(), points)
				if err != nil {
					return status.Error(codes.Internal, err.Error())
				}
				reply, _ = EncodeIntersect(found, tip)

			case req.GetFields()[KeyRequestNext] != nil:
				ev, err := session.RequestNext(stream.Context())
				if errors.Is(err, domain.ErrConnection) {
					st, _ := status.New(codes.FailedPrecondition, "relay restarting").
						WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(time.Second)})
					return st.Err()
				}
				if err != nil {
					return err
				}
				reply, _ = EncodeRollEvent(ev)

			default:
				return status.Error(codes.InvalidArgument, "unknown request")
			}

			if err := stream.SendMsg(reply); err != nil {
				return err
			}
		}
	}
}

func startServer(t *testing.T, node *chainsynctest.Node) *Dialer {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(serveNode(node)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	d, err := NewDialer("passthrough:///bufnet", nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func testChain(n int) []domain.RawBlock {
	blocks := make([]domain.RawBlock, n)
	for i := range blocks {
		blocks[i] = domain.RawBlock{
			Point: domain.Point{Slot: uint64(i+1) * 20, Hash: []byte{0xdd, byte(i)}},
			Body:  []byte{0x82, 0x06, byte(i)},
		}
	}
	return blocks
}

func TestSession_Stream(t *testing.T) {
	chain := testChain(3)
	node := chainsynctest.NewNode(chain)
	d := startServer(t, node)

	ctx := context.Background()
	session, err := d.Dial(ctx)
	require.NoError(t, err)
	defer session.Close()

	found, tip, err := session.FindIntersect(ctx, []domain.Point{domain.MustPoint(5, "05"), chain[0].Point})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.Equal(chain[0].Point))
	assert.True(t, tip.Point.Equal(chain[2].Point))
	assert.Equal(t, uint64(3), tip.BlockNumber)

	ev, err := session.RequestNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RollBackward, ev.Kind)
	assert.True(t, ev.Point.Equal(chain[0].Point))

	ev, err = session.RequestNext(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RollForward, ev.Kind)
	assert.True(t, ev.Block.Point.Equal(chain[1].Point))
	assert.Equal(t, chain[1].Body, ev.Block.Body)
}

func TestSession_IntersectNotFound(t *testing.T) {
	d := startServer(t, chainsynctest.NewNode(testChain(2)))
	session, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer session.Close()

	found, _, err := session.FindIntersect(context.Background(), []domain.Point{domain.MustPoint(9, "09")})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSession_RetryInfoIsTransient(t *testing.T) {
	node := chainsynctest.NewNode(testChain(3))
	d := startServer(t, node)

	ctx := context.Background()
	session, err := d.Dial(ctx)
	require.NoError(t, err)
	defer session.Close()

	_, _, err = session.FindIntersect(ctx, []domain.Point{domain.Origin})
	require.NoError(t, err)

	node.DropAfter(0)
	_, err = session.RequestNext(ctx)
	require.ErrorIs(t, err, domain.ErrConnection)
}

func TestSession_CancelUnblocksRecv(t *testing.T) {
	chain := testChain(1)
	d := startServer(t, chainsynctest.NewNode(chain))

	session, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer session.Close()

	_, _, err = session.FindIntersect(context.Background(), []domain.Point{chain[0].Point})
	require.NoError(t, err)
	_, err = session.RequestNext(context.Background()) // intersection confirmation
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = session.RequestNext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValues_LargeSlotsKeepPrecision(t *testing.T) {
	slot := uint64(1)<<60 + 1
	found := domain.Point{Slot: slot, Hash: []byte{0xab}}
	tip := domain.Tip{Point: domain.Point{Slot: slot + 2, Hash: []byte{0xcd}}, BlockNumber: uint64(1)<<55 + 3}

	reply, err := EncodeIntersect(&found, tip)
	require.NoError(t, err)
	body := reply.GetFields()[KeyIntersectFound].GetStructValue().GetFields()

	p, err := parsePoint(body["point"])
	require.NoError(t, err)
	assert.Equal(t, slot, p.Slot)

	gotTip, err := parseTip(body["tip"])
	require.NoError(t, err)
	assert.Equal(t, tip.BlockNumber, gotTip.BlockNumber)
	assert.Equal(t, slot+2, gotTip.Point.Slot)
}

func TestValues_NumericSlots(t *testing.T) {
	v, err := structpb.NewValue(map[string]any{"slot": float64(4492900), "hash": "ab"})
	require.NoError(t, err)
	p, err := parsePoint(v)
	require.NoError(t, err)
	assert.Equal(t, uint64(4492900), p.Slot)

	v, err = structpb.NewValue(map[string]any{"slot": 1.5, "hash": "ab"})
	require.NoError(t, err)
	_, err = parsePoint(v)
	assert.ErrorIs(t, err, domain.ErrDecode)
}
