package chainsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync/chainsynctest"
)

func makeChain(n int) []domain.RawBlock {
	blocks := make([]domain.RawBlock, n)
	for i := range blocks {
		blocks[i] = domain.RawBlock{
			Point: domain.Point{Slot: uint64(i+1) * 10, Hash: []byte{0xb0, byte(i + 1)}},
			Body:  []byte{byte(i + 1)},
		}
	}
	return blocks
}

func dial(t *testing.T, node *chainsynctest.Node) chainsync.Session {
	t.Helper()
	s, err := node.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResolver_CursorTakesPriority(t *testing.T) {
	chain := makeChain(5)
	node := chainsynctest.NewNode(chain)
	session := dial(t, node)

	r := chainsync.NewResolver(domain.IntersectPolicy{Kind: domain.IntersectOrigin}, nil)
	cursor := &domain.Cursor{Point: chain[2].Point}

	got, err := r.Resolve(context.Background(), session, cursor)
	require.NoError(t, err)
	assert.True(t, got.Equal(chain[2].Point), "got %s", got)
	assert.Empty(t, node.Intersects(), "cursor resolution must not query the node")
}

func TestResolver_Policies(t *testing.T) {
	chain := makeChain(5)
	ctx := context.Background()

	t.Run("origin", func(t *testing.T) {
		r := chainsync.NewResolver(domain.IntersectPolicy{Kind: domain.IntersectOrigin}, nil)
		got, err := r.Resolve(ctx, dial(t, chainsynctest.NewNode(chain)), nil)
		require.NoError(t, err)
		assert.True(t, got.IsOrigin())
	})

	t.Run("point", func(t *testing.T) {
		p := chain[1].Point
		r := chainsync.NewResolver(domain.IntersectPolicy{Kind: domain.IntersectPoint, Points: []domain.Point{p}}, nil)
		got, err := r.Resolve(ctx, dial(t, chainsynctest.NewNode(chain)), nil)
		require.NoError(t, err)
		assert.True(t, got.Equal(p))
	})

	t.Run("tip", func(t *testing.T) {
		r := chainsync.NewResolver(domain.IntersectPolicy{Kind: domain.IntersectTip}, nil)
		got, err := r.Resolve(ctx, dial(t, chainsynctest.NewNode(chain)), nil)
		require.NoError(t, err)
		assert.True(t, got.Equal(chain[4].Point))
	})
}

func TestResolver_FallbacksPicksFirstKnown(t *testing.T) {
	chain := makeChain(5)
	node := chainsynctest.NewNode(chain)
	session := dial(t, node)

	a := domain.MustPoint(11, "aa")
	b := domain.MustPoint(21, "bb")
	c := chain[2].Point

	r := chainsync.NewResolver(domain.IntersectPolicy{
		Kind:   domain.IntersectFallbacks,
		Points: []domain.Point{a, b, c},
	}, nil)

	got, err := r.Resolve(context.Background(), session, nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(c), "expected C, got %s", got)

	asked := node.Intersects()
	require.Len(t, asked, 3)
	assert.True(t, asked[0][0].Equal(a))
	assert.True(t, asked[1][0].Equal(b))
	assert.True(t, asked[2][0].Equal(c))

	// Reading begins immediately after C.
	reader := chainsync.NewReader(session, got, nil)
	_, err = reader.Start(context.Background())
	require.NoError(t, err)

	ev, err := reader.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RollBackward, ev.Kind)
	assert.True(t, ev.Point.Equal(c))

	ev, err = reader.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RollForward, ev.Kind)
	assert.True(t, ev.Block.Point.Equal(chain[3].Point))
}

func TestResolver_FallbacksNoneKnown(t *testing.T) {
	node := chainsynctest.NewNode(makeChain(3))
	r := chainsync.NewResolver(domain.IntersectPolicy{
		Kind:   domain.IntersectFallbacks,
		Points: []domain.Point{domain.MustPoint(1, "01"), domain.MustPoint(2, "02")},
	}, nil)

	_, err := r.Resolve(context.Background(), dial(t, node), nil)
	require.ErrorIs(t, err, domain.ErrIntersection)
	assert.True(t, domain.IsFatal(err))
}

func TestReader_UnknownStart(t *testing.T) {
	node := chainsynctest.NewNode(makeChain(3))
	reader := chainsync.NewReader(dial(t, node), domain.MustPoint(999, "ff"), nil)

	_, err := reader.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrIntersection)
}

func TestReader_RunFollowsChain(t *testing.T) {
	chain := makeChain(6)
	node := chainsynctest.NewNode(chain[:3])
	reader := chainsync.NewReader(dial(t, node), domain.Origin, nil)
	_, err := reader.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan domain.RollEvent, 16)
	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx, out) }()

	next := func() domain.RollEvent {
		select {
		case ev := <-out:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reply")
			return domain.RollEvent{}
		}
	}

	ev := next()
	assert.Equal(t, domain.RollBackward, ev.Kind)
	assert.True(t, ev.Point.IsOrigin())

	for i := 0; i < 3; i++ {
		ev = next()
		require.Equal(t, domain.RollForward, ev.Kind)
		assert.True(t, ev.Block.Point.Equal(chain[i].Point))
	}

	// Blocked at the tip until the chain grows.
	select {
	case ev := <-out:
		t.Fatalf("unexpected reply at tip: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	node.Extend(chain[3])
	ev = next()
	assert.True(t, ev.Block.Point.Equal(chain[3].Point))

	node.RollbackTo(chain[1].Point)
	ev = next()
	assert.Equal(t, domain.RollBackward, ev.Kind)
	assert.True(t, ev.Point.Equal(chain[1].Point))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop on cancel")
	}
}

func TestReader_ConnectionDrop(t *testing.T) {
	node := chainsynctest.NewNode(makeChain(5))
	reader := chainsync.NewReader(dial(t, node), domain.Origin, nil)
	_, err := reader.Start(context.Background())
	require.NoError(t, err)

	node.DropAfter(2)
	_, err = reader.Next(context.Background())
	require.NoError(t, err)
	_, err = reader.Next(context.Background())
	require.NoError(t, err)

	_, err = reader.Next(context.Background())
	require.ErrorIs(t, err, domain.ErrConnection)
	assert.False(t, domain.IsFatal(err))
}
