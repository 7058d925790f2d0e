package chord

import "fmt"

// defaultHost is assumed for peers that arrive on the wire without a
// host, matching the single-host deployment of the reference network.
const defaultHost = "127.0.0.1"

// NodeRef identifies a node by its ring position and endpoint. Nodes
// refer to each other only by this value; it is never resolved to an
// in-process object, always addressed over the wire.
type NodeRef struct {
	ID   ID     `cbor:"number" json:"number"`
	Port int    `cbor:"port" json:"port"`
	Host string `cbor:"host,omitempty" json:"host,omitempty"`
}

// NewNodeRef derives the ref for a known endpoint in space s.
func NewNodeRef(s Space, host string, port int) NodeRef {
	return NodeRef{ID: s.NodeID(host, port), Host: host, Port: port}
}

// Addr returns the endpoint in "host:port" form.
func (r NodeRef) Addr() string {
	host := r.Host
	if host == "" {
		host = defaultHost
	}
	return fmt.Sprintf("%s:%d", host, r.Port)
}

// Equal reports whether two refs name the same node.
func (r NodeRef) Equal(other NodeRef) bool {
	return r.ID == other.ID && r.Addr() == other.Addr()
}

// IsZero reports whether the ref has been set.
func (r NodeRef) IsZero() bool {
	return r.Port == 0 && r.Host == ""
}

func (r NodeRef) String() string {
	return fmt.Sprintf("node(%d@%s)", r.ID, r.Addr())
}
