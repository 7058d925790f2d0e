package chord

// Ring event types published to the event sink.
const (
	EventNodeJoin     = "node_join"
	EventFingerUpdate = "finger_update"
	EventKeyStored    = "key_stored"
)

// EventSink receives ring topology and storage events. It lets the node
// notify external systems (like WebSocket clients) without a dependency
// on the serving layer.
type EventSink interface {
	PublishRingEvent(ev Event)
}

// Event describes a change on this node.
type Event struct {
	Type      string `json:"type"`
	NodeID    ID     `json:"node_id"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
