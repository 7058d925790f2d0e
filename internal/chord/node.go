// Package chord implements the ring membership and routing core of a
// Chord distributed hash table. Finger tables are corrected at join
// time only: there is no background stabilization, keys are not moved
// when later nodes join, and an unreachable peer fails the in-flight
// operation rather than triggering repair.
package chord

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmirzaei/chordkv/internal/config"
	"github.com/lmirzaei/chordkv/pkg"
)

// Composite key columns: a row's key is column 0 (player id)
// concatenated with column 3 (year), as loaded from the source CSV.
const (
	keyColPlayer = 0
	keyColYear   = 3
)

// State tracks the node lifecycle. A Node is constructed only after its
// listener is bound, because the identifier derives from the assigned
// endpoint, so the unbound phase never exists in-process.
type State int32

const (
	// StateBound means the listener is bound and the identifier derived.
	StateBound State = iota
	// StateActive means the node is a ring member serving lookups and keys.
	StateActive
	// StateShutdown means the node has stopped.
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateActive:
		return "active"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// RemoteCaller issues RPCs against other ring members. Calls addressed
// at this node's own endpoint must dispatch locally instead of opening
// a loopback connection.
type RemoteCaller interface {
	Successor(peer NodeRef) (NodeRef, error)
	FindSuccessor(peer NodeRef, id ID) (NodeRef, error)
	FindPredecessor(peer NodeRef, id ID) (NodeRef, error)
	ClosestPrecedingFinger(peer NodeRef, id ID) (NodeRef, error)
	UpdateFingerTable(peer NodeRef, s NodeRef, index int) error
	UpdateYourPredecessor(peer NodeRef, node NodeRef) error
	PutKey(peer NodeRef, keyID string, row []string) error
	GetKey(peer NodeRef, keyID string) ([]string, bool, error)
}

// Node is one member of the ring. Its predecessor pointer and finger
// table are mutated by remote peers through RPC only; every local
// mutation happens under the per-field mutex, and no lock is held
// across a remote call.
type Node struct {
	id    ID
	ref   NodeRef
	space Space

	cfg    *config.Config
	logger *pkg.Logger
	remote RemoteCaller

	fingerMu sync.RWMutex
	fingers  []FingerEntry // 1-indexed; index 0 unused

	predMu      sync.RWMutex
	predecessor NodeRef

	keys *KeyStore

	events EventSink
	state  atomic.Int32
}

// NewNode creates a node for an already-bound endpoint. cfg.Port must
// be the assigned listening port, since the identifier hashes the
// endpoint string.
func NewNode(cfg *config.Config, logger *pkg.Logger) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port must be bound before the node is created")
	}

	space, err := NewSpace(cfg.M)
	if err != nil {
		return nil, err
	}

	id := space.NodeID(cfg.Host, cfg.Port)
	ref := NodeRef{ID: id, Host: cfg.Host, Port: cfg.Port}

	n := &Node{
		id:      id,
		ref:     ref,
		space:   space,
		cfg:     cfg,
		logger:  logger.WithFields(pkg.Fields{"node": uint64(id)}),
		fingers: newFingerTable(space, id),
		keys:    NewKeyStore(),
	}

	n.logger.Info().
		Str("endpoint", ref.Addr()).
		Int("ring_bits", space.Bits()).
		Msg("node created")

	return n, nil
}

// ID returns the node's ring identifier.
func (n *Node) ID() ID {
	return n.id
}

// Ref returns the node's own NodeRef.
func (n *Node) Ref() NodeRef {
	return n.ref
}

// Space returns the identifier space the node lives in.
func (n *Node) Space() Space {
	return n.space
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	return State(n.state.Load())
}

// SetRemote sets the client used for calls to other nodes.
func (n *Node) SetRemote(remote RemoteCaller) {
	n.remote = remote
}

// SetEvents sets the sink receiving ring events.
func (n *Node) SetEvents(sink EventSink) {
	n.events = sink
}

// Successor returns the immediate ring successor, finger entry 1.
func (n *Node) Successor() NodeRef {
	n.fingerMu.RLock()
	defer n.fingerMu.RUnlock()
	return n.fingers[1].Succ
}

// Predecessor returns the current predecessor pointer.
func (n *Node) Predecessor() NodeRef {
	n.predMu.RLock()
	defer n.predMu.RUnlock()
	return n.predecessor
}

// SetPredecessor overwrites the predecessor pointer. It is invoked by
// a joining node that has determined it now precedes this one, and the
// overwrite is unconditional.
func (n *Node) SetPredecessor(node NodeRef) {
	n.predMu.Lock()
	n.predecessor = node
	n.predMu.Unlock()

	n.logger.Debug().
		Uint64("predecessor", uint64(node.ID)).
		Msg("predecessor updated")
}

// finger returns a copy of finger entry i.
func (n *Node) finger(i int) FingerEntry {
	n.fingerMu.RLock()
	defer n.fingerMu.RUnlock()
	return n.fingers[i]
}

// setFingerSucc points finger entry i at the given node.
func (n *Node) setFingerSucc(i int, succ NodeRef) {
	n.fingerMu.Lock()
	n.fingers[i].Succ = succ
	n.fingerMu.Unlock()
}

// FingerTable returns a copy of the table, entries 1..M.
func (n *Node) FingerTable() []FingerEntry {
	n.fingerMu.RLock()
	defer n.fingerMu.RUnlock()

	table := make([]FingerEntry, len(n.fingers)-1)
	copy(table, n.fingers[1:])
	return table
}

// Create bootstraps a new ring with this node as the only member:
// every finger successor and the predecessor point to the node itself.
func (n *Node) Create() error {
	n.fingerMu.Lock()
	for i := 1; i < len(n.fingers); i++ {
		n.fingers[i].Succ = n.ref
	}
	n.fingerMu.Unlock()
	n.SetPredecessor(n.ref)

	n.state.Store(int32(StateActive))
	n.publish(EventNodeJoin, "created new ring")

	n.logger.Info().Msg("created new ring")
	n.logFingerTable()
	return nil
}

// Join enters an existing ring through one arbitrary member: seed the
// finger table and predecessor against the bootstrap node, then walk
// the ring correcting every node whose finger table should now point
// here.
func (n *Node) Join(bootstrap NodeRef) error {
	if n.remote == nil {
		return fmt.Errorf("remote caller not set; call SetRemote before Join")
	}

	n.logger.Info().
		Str("bootstrap", bootstrap.Addr()).
		Uint64("bootstrap_id", uint64(bootstrap.ID)).
		Msg("joining ring")

	if err := n.initFingerTable(bootstrap); err != nil {
		return fmt.Errorf("init finger table: %w", err)
	}
	if err := n.updateOthers(); err != nil {
		return fmt.Errorf("update others: %w", err)
	}

	n.state.Store(int32(StateActive))
	n.publish(EventNodeJoin, fmt.Sprintf("joined via %s", bootstrap.Addr()))

	n.logger.Info().
		Uint64("successor", uint64(n.Successor().ID)).
		Uint64("predecessor", uint64(n.Predecessor().ID)).
		Msg("joined ring")
	n.logFingerTable()
	return nil
}

// initFingerTable seeds the table against the bootstrap peer. The
// immediate successor is looked up remotely; each later finger reuses
// the previous one when its start already falls inside
// [self, fingers[i].succ), which keeps the join near O(log N) calls.
func (n *Node) initFingerTable(bootstrap NodeRef) error {
	succ, err := n.remote.FindSuccessor(bootstrap, n.finger(1).Start)
	if err != nil {
		return err
	}
	n.setFingerSucc(1, succ)

	pred, err := n.remote.FindPredecessor(succ, succ.ID)
	if err != nil {
		return err
	}
	n.SetPredecessor(pred)

	if err := n.remote.UpdateYourPredecessor(succ, n.ref); err != nil {
		return err
	}

	for i := 1; i < n.space.Bits(); i++ {
		prev := n.finger(i).Succ
		start := n.finger(i + 1).Start
		if n.space.NewInterval(n.id, prev.ID).Contains(start) {
			n.setFingerSucc(i+1, prev)
			continue
		}
		f, err := n.remote.FindSuccessor(bootstrap, start)
		if err != nil {
			return err
		}
		n.setFingerSucc(i+1, f)
	}
	return nil
}

// updateOthers corrects every node whose i-th finger should now refer
// to this node: for each i, the predecessor of (1 + self - 2^(i-1)) is
// the last node that might need the update, and the correction chains
// backward from there.
func (n *Node) updateOthers() error {
	for i := 1; i <= n.space.Bits(); i++ {
		target := n.space.Sub(n.space.Next(n.id), uint64(1)<<uint(i-1))
		pred, err := n.FindPredecessor(target)
		if err != nil {
			return err
		}
		if err := n.remote.UpdateFingerTable(pred, n.ref, i); err != nil {
			return err
		}
	}
	return nil
}

// FindSuccessor returns the node responsible for id: the successor of
// id's predecessor.
func (n *Node) FindSuccessor(id ID) (NodeRef, error) {
	pred, err := n.FindPredecessor(id)
	if err != nil {
		return NodeRef{}, err
	}
	return n.successorOf(pred)
}

// FindPredecessor walks the ring toward id: starting from this node,
// keep advancing to the closest preceding finger until id falls in
// (current, current.successor]. The walk never skips past id.
func (n *Node) FindPredecessor(id ID) (NodeRef, error) {
	// A node asked for the predecessor of its own identifier answers
	// with its predecessor pointer; this is how a joining node asks
	// its successor "who precedes you".
	if id == n.id {
		return n.Predecessor(), nil
	}

	cur := n.ref
	succ := n.Successor()
	for !n.space.NewInterval(n.space.Next(cur.ID), n.space.Next(succ.ID)).Contains(id) {
		next, err := n.closestOf(cur, id)
		if err != nil {
			return NodeRef{}, err
		}
		if next.Equal(cur) {
			// No finger gets closer; cur is the best answer.
			break
		}
		cur = next
		if succ, err = n.successorOf(cur); err != nil {
			return NodeRef{}, err
		}
	}
	return cur, nil
}

// ClosestPrecedingFinger scans the table from the highest index down
// and returns the first finger successor strictly between this node
// and id, or the node itself when none qualifies. The high-index-first
// scan is what makes lookups logarithmic.
func (n *Node) ClosestPrecedingFinger(id ID) NodeRef {
	n.fingerMu.RLock()
	defer n.fingerMu.RUnlock()

	between := n.space.NewInterval(n.space.Next(n.id), id)
	for i := len(n.fingers) - 1; i >= 1; i-- {
		if succ := n.fingers[i].Succ; !succ.IsZero() && between.Contains(succ.ID) {
			return succ
		}
	}
	return n.ref
}

// UpdateFingerTable replaces finger i's successor with s when s is a
// strictly better fit for the entry's interval, then propagates the
// same update backward to the predecessor. The chain stops at the
// first node for which s is no improvement.
func (n *Node) UpdateFingerTable(s NodeRef, i int) error {
	if i < 1 || i >= len(n.fingers) {
		return fmt.Errorf("%w: finger index %d out of range", pkg.ErrBadRequest, i)
	}

	n.fingerMu.Lock()
	entry := n.fingers[i]
	better := entry.Start != entry.Succ.ID &&
		n.space.NewInterval(entry.Start, entry.Succ.ID).Contains(s.ID)
	if better {
		n.fingers[i].Succ = s
	}
	n.fingerMu.Unlock()

	if !better {
		return nil
	}

	n.logger.Debug().
		Int("finger", i).
		Uint64("successor", uint64(s.ID)).
		Msg("finger updated")
	n.publish(EventFingerUpdate, fmt.Sprintf("finger %d -> %d", i, s.ID))

	pred := n.Predecessor()
	if pred.IsZero() || pred.Equal(n.ref) {
		return nil
	}
	return n.remote.UpdateFingerTable(pred, s, i)
}

// Populate derives the key from a data row, routes it to the owner of
// the key's ring position, and stores the row there. The returned
// string is the confirmation sent back to the caller.
func (n *Node) Populate(row []string) (string, error) {
	if len(row) <= keyColYear {
		return "", fmt.Errorf("%w: row needs at least %d columns", pkg.ErrBadRequest, keyColYear+1)
	}

	digest := Digest(row[keyColPlayer], row[keyColYear])
	bucket := n.space.Truncate(digest)

	owner, err := n.FindSuccessor(bucket)
	if err != nil {
		return "", err
	}
	if err := n.putKeyOn(owner, digest, row); err != nil {
		return "", err
	}

	n.logger.Debug().
		Uint64("bucket", uint64(bucket)).
		Uint64("owner", uint64(owner.ID)).
		Msg("row stored")
	return fmt.Sprintf("node %d saved the row", owner.ID), nil
}

// Query routes a composite-key lookup to the owner node and returns
// the stored row. found is false when the key was never stored.
func (n *Node) Query(field1, field2 string) ([]string, bool, error) {
	digest := Digest(field1, field2)
	bucket := n.space.Truncate(digest)

	owner, err := n.FindSuccessor(bucket)
	if err != nil {
		return nil, false, err
	}
	if owner.Equal(n.ref) {
		return n.GetKey(context.Background(), digest)
	}
	return n.remote.GetKey(owner, digest)
}

// PutKey stores a row in the local key store. The caller has already
// determined this node owns the key's ring position.
func (n *Node) PutKey(ctx context.Context, keyID string, row []string) error {
	if keyID == "" || row == nil {
		return fmt.Errorf("%w: put_key needs a key and a row", pkg.ErrBadRequest)
	}
	if err := n.keys.Put(ctx, keyID, row); err != nil {
		return err
	}
	n.publish(EventKeyStored, keyID)
	return nil
}

// GetKey retrieves a row from the local key store. A missing key is a
// defined absent result, not an error.
func (n *Node) GetKey(ctx context.Context, keyID string) ([]string, bool, error) {
	if keyID == "" {
		return nil, false, fmt.Errorf("%w: get_key needs a key", pkg.ErrBadRequest)
	}
	return n.keys.Get(ctx, keyID)
}

// KeyCount returns the number of rows stored locally.
func (n *Node) KeyCount() int {
	return n.keys.Len()
}

// Snapshot is a point-in-time view of the node, for the admin API.
type Snapshot struct {
	ID          ID             `json:"id"`
	Addr        string         `json:"addr"`
	State       string         `json:"state"`
	Predecessor NodeRef        `json:"predecessor"`
	Successor   NodeRef        `json:"successor"`
	Keys        int            `json:"keys"`
	Store       pkg.StoreStats `json:"store"`
}

// Snapshot returns the node's current view of itself.
func (n *Node) Snapshot() Snapshot {
	return Snapshot{
		ID:          n.id,
		Addr:        n.ref.Addr(),
		State:       n.State().String(),
		Predecessor: n.Predecessor(),
		Successor:   n.Successor(),
		Keys:        n.keys.Len(),
		Store:       n.keys.Stats(),
	}
}

// Shutdown stops the node and closes its key store.
func (n *Node) Shutdown() error {
	if State(n.state.Swap(int32(StateShutdown))) == StateShutdown {
		return nil
	}
	n.logger.Info().Msg("node shutting down")
	return n.keys.Close()
}

// successorOf resolves a peer's immediate successor, locally when the
// peer is this node.
func (n *Node) successorOf(peer NodeRef) (NodeRef, error) {
	if peer.Equal(n.ref) {
		return n.Successor(), nil
	}
	return n.remote.Successor(peer)
}

// closestOf resolves a peer's closest preceding finger for id, locally
// when the peer is this node.
func (n *Node) closestOf(peer NodeRef, id ID) (NodeRef, error) {
	if peer.Equal(n.ref) {
		return n.ClosestPrecedingFinger(id), nil
	}
	return n.remote.ClosestPrecedingFinger(peer, id)
}

// putKeyOn stores a row on the owner node, locally when the owner is
// this node.
func (n *Node) putKeyOn(owner NodeRef, keyID string, row []string) error {
	if owner.Equal(n.ref) {
		return n.PutKey(context.Background(), keyID, row)
	}
	return n.remote.PutKey(owner, keyID, row)
}

func (n *Node) publish(eventType, detail string) {
	if n.events == nil {
		return
	}
	n.events.PublishRingEvent(Event{
		Type:      eventType,
		NodeID:    n.id,
		Detail:    detail,
		Timestamp: time.Now().Unix(),
	})
}

func (n *Node) logFingerTable() {
	for _, f := range n.FingerTable() {
		n.logger.Debug().
			Uint64("start", uint64(f.Start)).
			Uint64("end", uint64(f.End)).
			Uint64("successor", uint64(f.Succ.ID)).
			Msg("finger")
	}
}
