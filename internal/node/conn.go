package node

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/ritwik-g/seedswarm/internal/protocol"
)

type direction int

const (
	inbound direction = iota
	outbound
)

func (d direction) String() string {
	if d == outbound {
		return "outbound"
	}
	return "inbound"
}

// conn is one framed TCP connection to a peer. peerID stays empty until a
// handshake arrives; both peerID and sentHandshake are guarded by the node
// mutex, the write lock only serializes sends.
type conn struct {
	nc  net.Conn
	dir direction
	wmu sync.Mutex

	peerID        string
	sentHandshake bool
}

// send writes one message, fire-and-forget. A failed write is left for the
// read loop to notice as a dead connection.
func (c *conn) send(msg protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.Encode(c.nc, msg)
}

func (c *conn) close() {
	_ = c.nc.Close()
}

func (c *conn) remoteHost() string {
	host, _, err := net.SplitHostPort(c.nc.RemoteAddr().String())
	if err != nil {
		return c.nc.RemoteAddr().String()
	}
	return host
}

// runConn drives one connection: outbound sides handshake immediately,
// then both sides decode messages until the stream dies. Bad lines are
// dropped without closing the connection.
func (n *Node) runConn(nc net.Conn, dir direction) {
	c := &conn{nc: nc, dir: dir}
	n.log.Debugf("New %s connection with %s", dir, nc.RemoteAddr())

	if dir == outbound {
		n.sendHandshake(c)
	}

	dec := protocol.NewDecoder(nc)
	for {
		msg, err := dec.Next()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownType) {
				n.log.Warnf("Dropping message from %s: %v", nc.RemoteAddr(), err)
				continue
			}
			if err != io.EOF {
				n.log.Debugf("Connection with %s: %v", nc.RemoteAddr(), err)
			}
			break
		}
		n.handleMessage(c, msg)
	}

	n.connClosed(c)
}

func (n *Node) handleMessage(c *conn, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Handshake:
		n.handleHandshake(c, m)
	case *protocol.Bitfield:
		n.handleBitfield(c, m)
	case *protocol.Request:
		n.handleRequest(c, m)
	case *protocol.Piece:
		n.handlePiece(c, m)
	case *protocol.Have:
		n.handleHave(c, m)
	case *protocol.Peers:
		n.handlePeers(c, m)
	}
}

// connClosed runs once per connection, after its read loop exits. Every
// outstanding request is released, not only those owned by the closed
// connection; the duplicate deliveries this can cause are accepted.
func (n *Node) connClosed(c *conn) {
	c.close()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	if c.peerID != "" {
		if p := n.peers[c.peerID]; p != nil && p.conn == c {
			p.conn = nil
			p.busy = false
			n.log.Infof("Peer %s disconnected (%d connected)", p.ID, n.connectedCount())
		}
	}

	if len(n.pending) > 0 {
		n.pending = make(map[int]struct{})
	}
	n.schedule()
}

// dialAddr dials an address we have no peer record for (the bootstrap
// peer).
func (n *Node) dialAddr(addr string) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		n.log.Warnf("Failed to connect to %s: %v", addr, err)
		return
	}
	n.runConn(nc, outbound)
}

// dialPeer dials a peer known from gossip. On failure the record stays
// with a nil connection; there is no retry.
func (n *Node) dialPeer(id, host string, port int) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		n.log.Warnf("Failed to connect to peer %s at %s: %v", id, addr, err)
		return
	}
	n.runConn(nc, outbound)
}
