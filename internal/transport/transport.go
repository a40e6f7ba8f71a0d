// Package transport defines the collaborator contract spec.md §6 requires
// of the networking layer (init/shutdown/listen/connect/service/send, two
// logical channels, ≥1200 byte payloads) and one concrete adapter over
// real sockets.
//
// Grounded on the teacher's network.Server (server.go): deadline-based
// read loop, Send-by-address, Close-on-shutdown. The teacher is UDP-only
// with no reliable channel, so the reliable side here is adapted from the
// annel0-mmo-game manifest's github.com/xtaci/kcp-go/v5 dependency, the
// only reliable-UDP library named anywhere in the retrieval pack.
package transport

import "time"

// EventType distinguishes the four event kinds §6 of the base spec names.
type EventType int

const (
	EventConnect EventType = iota
	EventDisconnect
	EventDisconnectTimeout
	EventReceive
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "CONNECT"
	case EventDisconnect:
		return "DISCONNECT"
	case EventDisconnectTimeout:
		return "DISCONNECT_TIMEOUT"
	case EventReceive:
		return "RECEIVE"
	default:
		return "UNKNOWN"
	}
}

// Peer is an opaque handle a Transport hands back for a connected remote
// endpoint. Its string form is suitable for use as a map key and for
// logging; callers must not parse it.
type Peer string

// Event is one occurrence surfaced by Service.
type Event struct {
	Type EventType
	Peer Peer
	Data []byte
}

// MinPayloadBytes is the minimum per-datagram payload size §6 requires a
// conforming transport to support.
const MinPayloadBytes = 1200

// Transport is the contract the replication core depends on. init/listen
// are server-side; init/connect are client-side; shutdown tears down
// either role. Implementations must support at least one reliable-ordered
// channel and one unreliable channel, selected per Send call.
type Transport interface {
	Init() error
	Shutdown() error
	Listen(host string, port int) error
	Connect(host string, port int) error
	Service(timeout time.Duration) ([]Event, error)
	Send(peer Peer, data []byte, reliable bool) error
}
