package chord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmirzaei/chordkv/internal/config"
	"github.com/lmirzaei/chordkv/pkg"
)

// ringCaller dispatches RPCs to in-process nodes by endpoint, so a
// whole ring can be exercised without opening sockets.
type ringCaller struct {
	nodes map[string]*Node
	hops  int
}

func newRingCaller() *ringCaller {
	return &ringCaller{nodes: make(map[string]*Node)}
}

func (r *ringCaller) add(n *Node) {
	r.nodes[n.Ref().Addr()] = n
}

func (r *ringCaller) resolve(peer NodeRef) (*Node, error) {
	n, ok := r.nodes[peer.Addr()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pkg.ErrPeerUnreachable, peer.Addr())
	}
	r.hops++
	return n, nil
}

func (r *ringCaller) Successor(peer NodeRef) (NodeRef, error) {
	n, err := r.resolve(peer)
	if err != nil {
		return NodeRef{}, err
	}
	return n.Successor(), nil
}

func (r *ringCaller) FindSuccessor(peer NodeRef, id ID) (NodeRef, error) {
	n, err := r.resolve(peer)
	if err != nil {
		return NodeRef{}, err
	}
	return n.FindSuccessor(id)
}

func (r *ringCaller) FindPredecessor(peer NodeRef, id ID) (NodeRef, error) {
	n, err := r.resolve(peer)
	if err != nil {
		return NodeRef{}, err
	}
	return n.FindPredecessor(id)
}

func (r *ringCaller) ClosestPrecedingFinger(peer NodeRef, id ID) (NodeRef, error) {
	n, err := r.resolve(peer)
	if err != nil {
		return NodeRef{}, err
	}
	return n.ClosestPrecedingFinger(id), nil
}

func (r *ringCaller) UpdateFingerTable(peer NodeRef, s NodeRef, index int) error {
	n, err := r.resolve(peer)
	if err != nil {
		return err
	}
	return n.UpdateFingerTable(s, index)
}

func (r *ringCaller) UpdateYourPredecessor(peer NodeRef, node NodeRef) error {
	n, err := r.resolve(peer)
	if err != nil {
		return err
	}
	n.SetPredecessor(node)
	return nil
}

func (r *ringCaller) PutKey(peer NodeRef, keyID string, row []string) error {
	n, err := r.resolve(peer)
	if err != nil {
		return err
	}
	return n.PutKey(context.Background(), keyID, row)
}

func (r *ringCaller) GetKey(peer NodeRef, keyID string) ([]string, bool, error) {
	n, err := r.resolve(peer)
	if err != nil {
		return nil, false, err
	}
	return n.GetKey(context.Background(), keyID)
}

func testLogger(t *testing.T) *pkg.Logger {
	t.Helper()
	cfg := pkg.DefaultLogConfig()
	cfg.Console.Enable = false
	logger, err := pkg.NewLogger(cfg)
	require.NoError(t, err)
	return logger
}

func createTestNode(t *testing.T, port int) *Node {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Port = port

	node, err := NewNode(cfg, testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, node)
	return node
}

// buildRing creates one node per port, bootstraps the first, and joins
// the rest through it. Ports are chosen so the 128-slot identifiers
// stay distinct.
func buildRing(t *testing.T, ports ...int) (*ringCaller, []*Node) {
	t.Helper()

	rc := newRingCaller()
	nodes := make([]*Node, 0, len(ports))
	for _, port := range ports {
		n := createTestNode(t, port)
		n.SetRemote(rc)
		rc.add(n)
		nodes = append(nodes, n)
	}

	seen := make(map[ID]bool)
	for _, n := range nodes {
		require.False(t, seen[n.ID()], "test ports must map to distinct ring ids")
		seen[n.ID()] = true
	}

	require.NoError(t, nodes[0].Create())
	for _, n := range nodes[1:] {
		require.NoError(t, n.Join(nodes[0].Ref()))
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			n.Shutdown()
		}
	})
	return rc, nodes
}

// ownerOf computes the expected owner of id: the first node identifier
// at or after id, wrapping around the ring.
func ownerOf(nodes []*Node, id ID) *Node {
	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	for _, n := range sorted {
		if n.ID() >= id {
			return n
		}
	}
	return sorted[0]
}

func TestNewNode(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		node := createTestNode(t, 4003)
		defer node.Shutdown()

		assert.Equal(t, "127.0.0.1:4003", node.Ref().Addr())
		assert.Equal(t, node.Space().NodeID("127.0.0.1", 4003), node.ID())
		assert.Equal(t, StateBound, node.State())
	})

	t.Run("nil config", func(t *testing.T) {
		node, err := NewNode(nil, testLogger(t))
		assert.Error(t, err)
		assert.Nil(t, node)
		assert.Contains(t, err.Error(), "config cannot be nil")
	})

	t.Run("nil logger", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Port = 4003
		node, err := NewNode(cfg, nil)
		assert.Error(t, err)
		assert.Nil(t, node)
		assert.Contains(t, err.Error(), "logger cannot be nil")
	})

	t.Run("unbound port", func(t *testing.T) {
		cfg := config.DefaultConfig()
		node, err := NewNode(cfg, testLogger(t))
		assert.Error(t, err)
		assert.Nil(t, node)
		assert.Contains(t, err.Error(), "port must be bound")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Port = 4003
		cfg.M = 0
		node, err := NewNode(cfg, testLogger(t))
		assert.Error(t, err)
		assert.Nil(t, node)
		assert.Contains(t, err.Error(), "invalid config")
	})
}

func TestCreate(t *testing.T) {
	node := createTestNode(t, 4003)
	defer node.Shutdown()
	require.NoError(t, node.Create())

	t.Run("all fingers point to self", func(t *testing.T) {
		for _, f := range node.FingerTable() {
			assert.True(t, f.Succ.Equal(node.Ref()))
		}
	})

	t.Run("predecessor is self", func(t *testing.T) {
		assert.True(t, node.Predecessor().Equal(node.Ref()))
	})

	t.Run("state is active", func(t *testing.T) {
		assert.Equal(t, StateActive, node.State())
	})

	t.Run("sole member owns every id", func(t *testing.T) {
		for _, id := range []ID{0, 1, node.ID(), 64, 127} {
			succ, err := node.FindSuccessor(id)
			require.NoError(t, err)
			assert.True(t, succ.Equal(node.Ref()), "id %d", id)
		}
	})
}

func TestJoin(t *testing.T) {
	t.Run("requires a remote caller", func(t *testing.T) {
		node := createTestNode(t, 4003)
		defer node.Shutdown()
		err := node.Join(NodeRef{ID: 1, Port: 4999})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "remote caller not set")
	})

	t.Run("two nodes point at each other", func(t *testing.T) {
		_, nodes := buildRing(t, 4003, 4001) // ids 8 and 34
		a, b := nodes[0], nodes[1]

		assert.True(t, a.Successor().Equal(b.Ref()))
		assert.True(t, b.Successor().Equal(a.Ref()))
		assert.True(t, a.Predecessor().Equal(b.Ref()))
		assert.True(t, b.Predecessor().Equal(a.Ref()))
	})

	t.Run("unreachable bootstrap fails the join", func(t *testing.T) {
		rc := newRingCaller()
		node := createTestNode(t, 4003)
		defer node.Shutdown()
		node.SetRemote(rc)
		rc.add(node)

		err := node.Join(NodeRef{ID: 99, Port: 4999})
		assert.ErrorIs(t, err, pkg.ErrPeerUnreachable)
	})
}

func TestRingTopology(t *testing.T) {
	// ids: 4003->8, 4001->34, 4002->60, 4015->86, 4005->117
	_, nodes := buildRing(t, 4003, 4001, 4002, 4015, 4005)

	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	t.Run("successors form a cycle", func(t *testing.T) {
		for i, n := range sorted {
			next := sorted[(i+1)%len(sorted)]
			assert.True(t, n.Successor().Equal(next.Ref()),
				"node %d successor should be %d, got %d", n.ID(), next.ID(), n.Successor().ID)
		}
	})

	t.Run("predecessors form the reverse cycle", func(t *testing.T) {
		for i, n := range sorted {
			prev := sorted[(i+len(sorted)-1)%len(sorted)]
			assert.True(t, n.Predecessor().Equal(prev.Ref()),
				"node %d predecessor should be %d, got %d", n.ID(), prev.ID(), n.Predecessor().ID)
		}
	})

	t.Run("every lookup resolves to the owner", func(t *testing.T) {
		for _, start := range nodes {
			for id := ID(0); id < start.Space().Size(); id += 3 {
				want := ownerOf(nodes, id)
				got, err := start.FindSuccessor(id)
				require.NoError(t, err)
				assert.True(t, got.Equal(want.Ref()),
					"lookup of %d from node %d: want %d, got %d", id, start.ID(), want.ID(), got.ID)
			}
		}
	})

	t.Run("finger successors are the owners of their starts", func(t *testing.T) {
		for _, n := range nodes {
			for i, f := range n.FingerTable() {
				want := ownerOf(nodes, f.Start)
				assert.True(t, f.Succ.Equal(want.Ref()),
					"node %d finger %d (start %d): want %d, got %d", n.ID(), i+1, f.Start, want.ID(), f.Succ.ID)
			}
		}
	})
}

func TestClosestPrecedingFinger(t *testing.T) {
	_, nodes := buildRing(t, 4003, 4001, 4002) // ids 8, 34, 60
	byID := make(map[ID]*Node)
	for _, n := range nodes {
		byID[n.ID()] = n
	}

	t.Run("returns the nearest finger before id", func(t *testing.T) {
		// From node 8, the finger closest before 50 is node 34.
		got := byID[8].ClosestPrecedingFinger(50)
		assert.Equal(t, ID(34), got.ID)
	})

	t.Run("returns self when no finger precedes", func(t *testing.T) {
		// Nothing sits in (8, 20), so node 8 answers with itself.
		got := byID[8].ClosestPrecedingFinger(20)
		assert.True(t, got.Equal(byID[8].Ref()))
	})
}

func TestUpdateFingerTable(t *testing.T) {
	_, nodes := buildRing(t, 4003, 4001)
	node := nodes[0]

	t.Run("index out of range", func(t *testing.T) {
		err := node.UpdateFingerTable(nodes[1].Ref(), 0)
		assert.ErrorIs(t, err, pkg.ErrBadRequest)

		err = node.UpdateFingerTable(nodes[1].Ref(), node.Space().Bits()+1)
		assert.ErrorIs(t, err, pkg.ErrBadRequest)
	})

	t.Run("no-op when candidate is not better", func(t *testing.T) {
		before := node.FingerTable()
		require.NoError(t, node.UpdateFingerTable(node.Ref(), 1))
		assert.Equal(t, before, node.FingerTable())
	})
}

func TestPopulateAndQuery(t *testing.T) {
	_, nodes := buildRing(t, 4003, 4001, 4002, 4015, 4005)

	rows := [][]string{
		{"abernan01", "WR", "DEN", "2011", "16"},
		{"brandja01", "QB", "GNB", "2012", "14"},
		{"caldwan01", "TE", "IND", "2010", "9"},
		{"daltoan01", "QB", "CIN", "2011", "16"},
		{"edelmju01", "WR", "NWE", "2013", "16"},
	}

	t.Run("rows stored through any member", func(t *testing.T) {
		for i, row := range rows {
			via := nodes[i%len(nodes)]
			msg, err := via.Populate(row)
			require.NoError(t, err)
			assert.Contains(t, msg, "saved the row")
		}

		total := 0
		for _, n := range nodes {
			total += n.KeyCount()
		}
		assert.Equal(t, len(rows), total)
	})

	t.Run("rows found through any member", func(t *testing.T) {
		for i, row := range rows {
			via := nodes[(i+2)%len(nodes)]
			got, found, err := via.Query(row[0], row[3])
			require.NoError(t, err)
			assert.True(t, found, "row %v", row)
			assert.Equal(t, row, got)
		}
	})

	t.Run("row lands on the owner of its bucket", func(t *testing.T) {
		row := rows[0]
		digest := Digest(row[0], row[3])
		bucket := nodes[0].Space().Truncate(digest)
		owner := ownerOf(nodes, bucket)

		got, found, err := owner.GetKey(context.Background(), digest)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, row, got)
	})

	t.Run("absent key is a defined miss", func(t *testing.T) {
		got, found, err := nodes[0].Query("nobody00", "1905")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("short row rejected", func(t *testing.T) {
		_, err := nodes[0].Populate([]string{"only", "three", "cols"})
		assert.ErrorIs(t, err, pkg.ErrBadRequest)
	})
}

func TestPutGetKeyValidation(t *testing.T) {
	node := createTestNode(t, 4003)
	defer node.Shutdown()
	require.NoError(t, node.Create())
	ctx := context.Background()

	t.Run("empty key rejected", func(t *testing.T) {
		assert.ErrorIs(t, node.PutKey(ctx, "", []string{"x"}), pkg.ErrBadRequest)
		_, _, err := node.GetKey(ctx, "")
		assert.ErrorIs(t, err, pkg.ErrBadRequest)
	})

	t.Run("nil row rejected", func(t *testing.T) {
		assert.ErrorIs(t, node.PutKey(ctx, "key", nil), pkg.ErrBadRequest)
	})
}

func TestLookupHopsStayLogarithmic(t *testing.T) {
	rc, nodes := buildRing(t, 4003, 4001, 4002, 4015, 4005)

	rc.hops = 0
	_, err := nodes[0].FindSuccessor(100)
	require.NoError(t, err)

	// A single lookup on a settled 5-node ring must not visit more
	// peers than there are table entries.
	assert.LessOrEqual(t, rc.hops, 3*nodes[0].Space().Bits())
}

// recordingSink captures published events for inspection.
type recordingSink struct {
	events []Event
}

func (r *recordingSink) PublishRingEvent(ev Event) {
	r.events = append(r.events, ev)
}

func TestRingEvents(t *testing.T) {
	node := createTestNode(t, 4003)
	defer node.Shutdown()

	sink := &recordingSink{}
	node.SetEvents(sink)
	require.NoError(t, node.Create())
	require.NoError(t, node.PutKey(context.Background(), "key", []string{"v"}))

	types := make([]string, 0, len(sink.events))
	for _, ev := range sink.events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, EventNodeJoin)
	assert.Contains(t, types, EventKeyStored)
	for _, ev := range sink.events {
		assert.Equal(t, node.ID(), ev.NodeID)
		assert.NotZero(t, ev.Timestamp)
	}
}

func TestSnapshot(t *testing.T) {
	_, nodes := buildRing(t, 4003, 4001)
	snap := nodes[0].Snapshot()

	assert.Equal(t, nodes[0].ID(), snap.ID)
	assert.Equal(t, "127.0.0.1:4003", snap.Addr)
	assert.Equal(t, "active", snap.State)
	assert.Equal(t, nodes[1].ID(), snap.Successor.ID)
	assert.Equal(t, nodes[1].ID(), snap.Predecessor.ID)
}

func TestShutdown(t *testing.T) {
	node := createTestNode(t, 4003)
	require.NoError(t, node.Create())

	require.NoError(t, node.Shutdown())
	assert.Equal(t, StateShutdown, node.State())

	t.Run("idempotent", func(t *testing.T) {
		assert.NoError(t, node.Shutdown())
	})

	t.Run("store rejects writes after shutdown", func(t *testing.T) {
		err := node.PutKey(context.Background(), "key", []string{"v"})
		assert.True(t, errors.Is(err, pkg.ErrStoreClosed))
	})
}
