package node

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ritwik-g/seedswarm/internal/fileio"
	"github.com/ritwik-g/seedswarm/internal/protocol"
)

// handshakeMessage snapshots our identity and whatever metadata we
// currently hold; a fresh leecher sends nulls. Caller holds the node lock.
func (n *Node) handshakeMessage() *protocol.Handshake {
	var name, hash *string
	var size, pieceSize *int64
	if n.hasMeta {
		fn, fh := n.fileName, n.fileHash
		fs, ps := n.fileSize, n.pieceSize
		name, hash, size, pieceSize = &fn, &fh, &fs, &ps
	}
	return protocol.NewHandshake(n.id, n.port, name, size, hash, pieceSize)
}

func (n *Node) sendHandshake(c *conn) {
	n.mu.Lock()
	hs := n.handshakeMessage()
	c.sentHandshake = true
	n.mu.Unlock()

	if err := c.send(hs); err != nil {
		n.log.Debugf("Failed to send handshake to %s: %v", c.nc.RemoteAddr(), err)
	}
}

func (n *Node) handleHandshake(c *conn, m *protocol.Handshake) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Same id on both ends: a self-connection or an id collision.
	if m.ID == n.id {
		n.log.Warnf("Dropping connection with our own id from %s", c.nc.RemoteAddr())
		delete(n.peers, m.ID)
		c.close()
		return
	}

	p, exists := n.peers[m.ID]
	if !exists {
		p = newPeer(m.ID)
		n.peers[m.ID] = p
	}
	p.Host = c.remoteHost()
	p.Port = m.Port
	if p.conn != nil && p.conn != c {
		p.conn.close()
	}
	p.conn = c
	c.peerID = m.ID

	if n.isSeed && m.FileHash != nil && *m.FileHash != n.fileHash {
		n.log.Warnf("Peer %s offers a different file (%s), dropping", m.ID, *m.FileHash)
		delete(n.peers, m.ID)
		c.close()
		return
	}

	if !n.hasMeta {
		if !m.HasMetadata() {
			n.log.Warnf("Neither side has metadata, dropping peer %s", m.ID)
			delete(n.peers, m.ID)
			c.close()
			return
		}
		n.adoptMetadata(m)
	}

	if c.dir == inbound && !c.sentHandshake {
		n.replyHandshake(c)
	}
	p.handshakeSent = c.sentHandshake
	p.handshakeReceived = true
	n.log.Infof("Peer %s connected from %s:%d (%s, %d connected)",
		p.ID, p.Host, p.Port, c.dir, n.connectedCount())

	if len(n.have) > 0 {
		pieces := make([]int, 0, len(n.have))
		for idx := range n.have {
			pieces = append(pieces, idx)
		}
		if err := c.send(protocol.NewBitfield(pieces)); err != nil {
			n.log.Debugf("Failed to send bitfield to %s: %v", p.ID, err)
		}
	}

	if c.dir == inbound {
		n.exchangePeers(p)
	}

	if len(n.missing) == 0 && n.hasMeta && !n.isSeed {
		n.complete()
	}
}

// replyHandshake is sendHandshake for a connection whose node lock is
// already held.
func (n *Node) replyHandshake(c *conn) {
	c.sentHandshake = true
	if err := c.send(n.handshakeMessage()); err != nil {
		n.log.Debugf("Failed to send handshake to %s: %v", c.nc.RemoteAddr(), err)
	}
}

// adoptMetadata takes the remote's metadata as ours, first-writer-wins,
// and sizes the destination file. Caller holds the node lock.
func (n *Node) adoptMetadata(m *protocol.Handshake) {
	n.fileName = *m.FileName
	n.fileSize = *m.FileSize
	n.pieceSize = *m.PieceSize
	n.fileHash = *m.FileHash
	n.numPieces = fileio.NumPieces(n.fileSize, n.pieceSize)
	n.have = make(map[int]struct{})
	n.missing = make(map[int]struct{}, n.numPieces)
	for i := 0; i < n.numPieces; i++ {
		n.missing[i] = struct{}{}
	}
	n.hasMeta = true
	n.startTime = time.Now()

	if err := n.file.SetSize(n.fileSize); err != nil {
		n.log.Errorf("Failed to size %s: %v", n.cfg.FilePath, err)
	}

	n.log.Infof("Adopted metadata: %s, %s in %d pieces of %s, hash %s",
		n.fileName, humanize.Bytes(uint64(n.fileSize)), n.numPieces,
		humanize.Bytes(uint64(n.pieceSize)), n.fileHash)

	n.startProgress()
}

// exchangePeers gossips on every inbound handshake: the new peer learns
// all other connected peers, and they learn about it. Caller holds the
// node lock.
func (n *Node) exchangePeers(p *Peer) {
	others := make([]protocol.PeerInfo, 0, len(n.peers))
	for _, other := range n.peers {
		if other.ID == p.ID || other.conn == nil {
			continue
		}
		others = append(others, protocol.PeerInfo{ID: other.ID, Host: other.Host, Port: other.Port})
	}
	if err := p.conn.send(protocol.NewPeers(others)); err != nil {
		n.log.Debugf("Failed to send peer list to %s: %v", p.ID, err)
	}

	announcement := protocol.NewPeers([]protocol.PeerInfo{{ID: p.ID, Host: p.Host, Port: p.Port}})
	for _, other := range n.peers {
		if other.ID == p.ID || other.conn == nil {
			continue
		}
		if err := other.conn.send(announcement); err != nil {
			n.log.Debugf("Failed to announce %s to %s: %v", p.ID, other.ID, err)
		}
	}
}
