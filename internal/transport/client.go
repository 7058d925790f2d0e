package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/lmirzaei/chordkv/internal/chord"
	"github.com/lmirzaei/chordkv/pkg"
)

// Client issues RPCs to remote nodes. Each call dials a fresh
// connection; there is no pooling. A zero timeout blocks until the
// peer answers or the connection drops.
type Client struct {
	logger  *pkg.Logger
	timeout time.Duration
	local   *chord.Node
}

var _ chord.RemoteCaller = (*Client)(nil)

// NewClient returns a client using the given per-call timeout.
func NewClient(logger *pkg.Logger, timeout time.Duration) *Client {
	return &Client{logger: logger, timeout: timeout}
}

// BindLocal registers the node served by this process so calls a node
// addresses to itself skip the network entirely.
func (c *Client) BindLocal(n *chord.Node) {
	c.local = n
}

func (c *Client) isLocal(peer chord.NodeRef) bool {
	return c.local != nil && peer.Addr() == c.local.Ref().Addr()
}

// call performs one request/response exchange with peer.
func (c *Client) call(peer chord.NodeRef, method Method, arg1, arg2 any) (cbor.RawMessage, error) {
	req := request{Method: method}
	var err error
	if arg1 != nil {
		if req.Arg1, err = encodeArg(arg1); err != nil {
			return nil, err
		}
	}
	if arg2 != nil {
		if req.Arg2, err = encodeArg(arg2); err != nil {
			return nil, err
		}
	}

	addr := peer.Addr()
	var conn net.Conn
	if c.timeout > 0 {
		conn, err = net.DialTimeout("tcp", addr, c.timeout)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", pkg.ErrPeerUnreachable, addr, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", pkg.ErrPeerUnreachable, addr, err)
		}
	}

	if err := writeFrame(conn, req); err != nil {
		return nil, fmt.Errorf("%w: send %s to %s: %v", pkg.ErrPeerUnreachable, method, addr, err)
	}

	var resp response
	if err := readFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("%w: receive %s from %s: %v", pkg.ErrPeerUnreachable, method, addr, err)
	}

	switch resp.Code {
	case "":
		return resp.Result, nil
	case codeBadRequest:
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, resp.Err)
	default:
		return nil, fmt.Errorf("remote %s failed: %s", method, resp.Err)
	}
}

// callFor runs call and decodes the result into T.
func callFor[T any](c *Client, peer chord.NodeRef, method Method, arg1, arg2 any) (T, error) {
	var out T
	raw, err := c.call(peer, method, arg1, arg2)
	if err != nil {
		return out, err
	}
	return decodeArg[T](raw)
}

// Successor asks peer for its immediate successor.
func (c *Client) Successor(peer chord.NodeRef) (chord.NodeRef, error) {
	if c.isLocal(peer) {
		return c.local.Successor(), nil
	}
	return callFor[chord.NodeRef](c, peer, MethodSuccessor, nil, nil)
}

// FindSuccessor asks peer to resolve the successor of id.
func (c *Client) FindSuccessor(peer chord.NodeRef, id chord.ID) (chord.NodeRef, error) {
	if c.isLocal(peer) {
		return c.local.FindSuccessor(id)
	}
	return callFor[chord.NodeRef](c, peer, MethodFindSuccessor, id, nil)
}

// FindPredecessor asks peer to resolve the predecessor of id.
func (c *Client) FindPredecessor(peer chord.NodeRef, id chord.ID) (chord.NodeRef, error) {
	if c.isLocal(peer) {
		return c.local.FindPredecessor(id)
	}
	return callFor[chord.NodeRef](c, peer, MethodFindPredecessor, id, nil)
}

// ClosestPrecedingFinger asks peer for its closest finger preceding id.
func (c *Client) ClosestPrecedingFinger(peer chord.NodeRef, id chord.ID) (chord.NodeRef, error) {
	if c.isLocal(peer) {
		return c.local.ClosestPrecedingFinger(id), nil
	}
	return callFor[chord.NodeRef](c, peer, MethodClosestPrecedingFinger, id, nil)
}

// UpdateFingerTable tells peer that s may belong in finger entry index.
func (c *Client) UpdateFingerTable(peer chord.NodeRef, s chord.NodeRef, index int) error {
	if c.isLocal(peer) {
		return c.local.UpdateFingerTable(s, index)
	}
	_, err := c.call(peer, MethodUpdateFingerTable, s, index)
	return err
}

// UpdateYourPredecessor tells peer to adopt s as its predecessor.
func (c *Client) UpdateYourPredecessor(peer chord.NodeRef, s chord.NodeRef) error {
	if c.isLocal(peer) {
		c.local.SetPredecessor(s)
		return nil
	}
	_, err := c.call(peer, MethodUpdateYourPredecessor, s, nil)
	return err
}

// PutKey stores a row under keyID directly on peer.
func (c *Client) PutKey(peer chord.NodeRef, keyID string, row []string) error {
	if c.isLocal(peer) {
		return c.local.PutKey(context.Background(), keyID, row)
	}
	_, err := c.call(peer, MethodPutKey, keyID, row)
	return err
}

// GetKey reads the row stored under keyID directly on peer. The
// second return is false when nothing is stored there.
func (c *Client) GetKey(peer chord.NodeRef, keyID string) ([]string, bool, error) {
	if c.isLocal(peer) {
		return c.local.GetKey(context.Background(), keyID)
	}
	res, err := callFor[keyResult](c, peer, MethodGetKey, keyID, nil)
	if err != nil {
		return nil, false, err
	}
	return res.Row, res.Found, nil
}

// Populate hands a full row to peer, which hashes it and routes it to
// the owning node. It returns the owner's acknowledgement message.
func (c *Client) Populate(peer chord.NodeRef, row []string) (string, error) {
	return callFor[string](c, peer, MethodPopulate, row, nil)
}

// Query asks peer to look up the row keyed by the two fields.
func (c *Client) Query(peer chord.NodeRef, field1, field2 string) ([]string, bool, error) {
	res, err := callFor[keyResult](c, peer, MethodQuery, field1, field2)
	if err != nil {
		return nil, false, err
	}
	return res.Row, res.Found, nil
}
