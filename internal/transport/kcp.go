package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"
)

// lengthPrefixSize is the framing overhead on the reliable channel; kcp-go's
// UDPSession is a stream, not a datagram socket, so message boundaries must
// be marked explicitly.
const lengthPrefixSize = 4

// maxFrameBytes bounds a single reliable-channel frame to guard against a
// corrupt or hostile length prefix driving an unbounded allocation.
const maxFrameBytes = 1 << 20

// KCPTransport implements Transport with github.com/xtaci/kcp-go/v5 for the
// reliable-ordered channel and a raw net.UDPConn for the unreliable
// channel, on adjacent ports (unreliable = reliable port + 1).
//
// Peer identity is anchored to the reliable channel: a Peer handle is the
// remote address string of its KCP session. The unreliable channel has no
// per-peer handshake of its own, so the first unreliable datagram a newly
// connected peer sends carries a length-prefixed copy of its peer handle;
// every later datagram from that source UDP address is attributed to the
// same peer without resending it.
type KCPTransport struct {
	mu sync.Mutex

	listener *kcp.Listener
	unrelV4  *net.UDPConn

	sessions map[Peer]*kcp.UDPSession
	unrelOf  map[Peer]*net.UDPAddr // peer -> its known unreliable source addr
	peerOf   map[string]Peer       // unreliable source addr string -> peer

	clientSession *kcp.UDPSession
	clientUnrel   *net.UDPConn
	clientPeer    Peer

	pending []Event
}

// New returns an unconnected, unlistened KCPTransport.
func New() *KCPTransport {
	return &KCPTransport{
		sessions: make(map[Peer]*kcp.UDPSession),
		unrelOf:  make(map[Peer]*net.UDPAddr),
		peerOf:   make(map[string]Peer),
	}
}

func (t *KCPTransport) Init() error { return nil }

func (t *KCPTransport) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if t.listener != nil {
		record(t.listener.Close())
		t.listener = nil
	}
	if t.unrelV4 != nil {
		record(t.unrelV4.Close())
		t.unrelV4 = nil
	}
	for _, sess := range t.sessions {
		record(sess.Close())
	}
	t.sessions = make(map[Peer]*kcp.UDPSession)
	if t.clientSession != nil {
		record(t.clientSession.Close())
		t.clientSession = nil
	}
	if t.clientUnrel != nil {
		record(t.clientUnrel.Close())
		t.clientUnrel = nil
	}
	return firstErr
}

// Listen starts accepting reliable connections on host:port and unreliable
// datagrams on host:port+1. Accepted KCP sessions surface as CONNECT events
// the next time Service is called.
func (t *KCPTransport) Listen(host string, port int) error {
	reliableAddr := fmt.Sprintf("%s:%d", host, port)
	listener, err := kcp.ListenWithOptions(reliableAddr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("transport: listen reliable %s: %w", reliableAddr, err)
	}

	unrelAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port+1))
	if err != nil {
		listener.Close()
		return fmt.Errorf("transport: resolve unreliable addr: %w", err)
	}
	unrelConn, err := net.ListenUDP("udp", unrelAddr)
	if err != nil {
		listener.Close()
		return fmt.Errorf("transport: listen unreliable %s: %w", unrelAddr, err)
	}

	t.mu.Lock()
	t.listener = listener
	t.unrelV4 = unrelConn
	t.mu.Unlock()
	return nil
}

// Connect dials a server's reliable channel and binds a matching
// unreliable socket, then sends the peer-handle announcement datagram the
// server needs to attribute future unreliable datagrams to this client.
func (t *KCPTransport) Connect(host string, port int) error {
	reliableAddr := fmt.Sprintf("%s:%d", host, port)
	sess, err := kcp.DialWithOptions(reliableAddr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("transport: connect reliable %s: %w", reliableAddr, err)
	}

	unrelAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port+1))
	if err != nil {
		sess.Close()
		return fmt.Errorf("transport: resolve unreliable addr: %w", err)
	}
	unrelConn, err := net.DialUDP("udp", nil, unrelAddr)
	if err != nil {
		sess.Close()
		return fmt.Errorf("transport: dial unreliable %s: %w", unrelAddr, err)
	}

	peer := Peer(sess.RemoteAddr().String())

	t.mu.Lock()
	t.clientSession = sess
	t.clientUnrel = unrelConn
	t.clientPeer = peer
	t.mu.Unlock()

	announce := announcementFrame(peer)
	if _, err := unrelConn.Write(announce); err != nil {
		return fmt.Errorf("transport: send unreliable announcement: %w", err)
	}
	return nil
}

// Service polls both channels for up to timeout and returns every event
// observed. It never blocks longer than timeout even if nothing arrives.
func (t *KCPTransport) Service(timeout time.Duration) ([]Event, error) {
	deadline := time.Now().Add(timeout)

	t.mu.Lock()
	events := t.pending
	t.pending = nil
	t.mu.Unlock()

	if listener := t.listenerRef(); listener != nil {
		for {
			listener.SetReadDeadline(deadline)
			sess, err := listener.AcceptKCP()
			if err != nil {
				break
			}
			peer := Peer(sess.RemoteAddr().String())
			t.mu.Lock()
			t.sessions[peer] = sess
			t.mu.Unlock()
			events = append(events, Event{Type: EventConnect, Peer: peer})
		}
	}

	t.mu.Lock()
	sessions := make(map[Peer]*kcp.UDPSession, len(t.sessions))
	for p, s := range t.sessions {
		sessions[p] = s
	}
	t.mu.Unlock()

	for peer, sess := range sessions {
		for {
			sess.SetReadDeadline(time.Now())
			frame, err := readFrame(sess)
			if err != nil {
				if isTimeout(err) {
					break
				}
				events = append(events, Event{Type: EventDisconnect, Peer: peer})
				t.mu.Lock()
				delete(t.sessions, peer)
				t.mu.Unlock()
				break
			}
			events = append(events, Event{Type: EventReceive, Peer: peer, Data: frame})
		}
	}

	if conn := t.unreliableListenerRef(); conn != nil {
		buf := make([]byte, 64*1024)
		for {
			conn.SetReadDeadline(time.Now())
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				break
			}
			data := append([]byte(nil), buf[:n]...)
			if peer, announced := decodeAnnouncement(data); announced {
				t.mu.Lock()
				t.peerOf[addr.String()] = peer
				t.unrelOf[peer] = addr
				t.mu.Unlock()
				continue
			}
			t.mu.Lock()
			peer, ok := t.peerOf[addr.String()]
			t.mu.Unlock()
			if !ok {
				continue // unreliable datagram from an unannounced source; drop
			}
			events = append(events, Event{Type: EventReceive, Peer: peer, Data: data})
		}
	}

	if sess := t.clientSessionRef(); sess != nil {
		for {
			sess.SetReadDeadline(time.Now())
			frame, err := readFrame(sess)
			if err != nil {
				if isTimeout(err) {
					break
				}
				events = append(events, Event{Type: EventDisconnect, Peer: t.clientPeer})
				break
			}
			events = append(events, Event{Type: EventReceive, Peer: t.clientPeer, Data: frame})
		}
	}

	if conn := t.clientUnrelRef(); conn != nil {
		buf := make([]byte, 64*1024)
		for {
			conn.SetReadDeadline(time.Now())
			n, err := conn.Read(buf)
			if err != nil {
				break
			}
			data := append([]byte(nil), buf[:n]...)
			events = append(events, Event{Type: EventReceive, Peer: t.clientPeer, Data: data})
		}
	}

	return events, nil
}

// Send writes data to peer on the requested channel. An empty peer means
// "this transport's own connection" and only resolves on the client side,
// letting a client send without first learning its own peer handle from a
// WELCOME round trip. Unreliable sends before that peer's unreliable
// address has been learned (server side) are silently dropped, matching
// the base spec's "peer gone during write" no-op policy.
func (t *KCPTransport) Send(peer Peer, data []byte, reliable bool) error {
	isSelf := peer == "" || t.clientPeer == peer

	if reliable {
		if sess := t.sessionFor(peer); sess != nil {
			return writeFrame(sess, data)
		}
		if sess := t.clientSessionRef(); sess != nil && isSelf {
			return writeFrame(sess, data)
		}
		return nil
	}

	t.mu.Lock()
	addr, ok := t.unrelOf[peer]
	conn := t.unrelV4
	t.mu.Unlock()
	if ok && conn != nil {
		_, err := conn.WriteToUDP(data, addr)
		return err
	}
	if clientConn := t.clientUnrelRef(); clientConn != nil && isSelf {
		_, err := clientConn.Write(data)
		return err
	}
	return nil
}

func (t *KCPTransport) sessionFor(peer Peer) *kcp.UDPSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[peer]
}

func (t *KCPTransport) listenerRef() *kcp.Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener
}

func (t *KCPTransport) unreliableListenerRef() *net.UDPConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unrelV4
}

func (t *KCPTransport) clientSessionRef() *kcp.UDPSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientSession
}

func (t *KCPTransport) clientUnrelRef() *net.UDPConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientUnrel
}

func writeFrame(w io.Writer, data []byte) error {
	var hdr [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

const announcementMagic = 0x9E

func announcementFrame(peer Peer) []byte {
	id := []byte(peer)
	out := make([]byte, 0, 1+lengthPrefixSize+len(id))
	out = append(out, announcementMagic)
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(id)))
	out = append(out, lenBuf[:]...)
	out = append(out, id...)
	return out
}

func decodeAnnouncement(data []byte) (Peer, bool) {
	if len(data) < 1+lengthPrefixSize || data[0] != announcementMagic {
		return "", false
	}
	n := binary.BigEndian.Uint32(data[1 : 1+lengthPrefixSize])
	if int(n) != len(data)-1-lengthPrefixSize {
		return "", false
	}
	return Peer(data[1+lengthPrefixSize:]), true
}

var _ Transport = (*KCPTransport)(nil)
