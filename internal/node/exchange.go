package node

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ritwik-g/seedswarm/internal/protocol"
)

// peerFor resolves the record bound to a connection. Nil until the
// connection has completed its handshake.
func (n *Node) peerFor(c *conn) *Peer {
	if c.peerID == "" {
		return nil
	}
	return n.peers[c.peerID]
}

func (n *Node) handleBitfield(c *conn, m *protocol.Bitfield) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := n.peerFor(c)
	if p == nil {
		return
	}
	p.available = make(map[int]struct{}, len(m.Pieces))
	for _, idx := range m.Pieces {
		p.available[idx] = struct{}{}
	}
	n.log.Debugf("Peer %s holds %d pieces", p.ID, len(p.available))
	n.schedule()
}

func (n *Node) handleHave(c *conn, m *protocol.Have) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := n.peerFor(c)
	if p == nil {
		return
	}
	p.available[m.Index] = struct{}{}

	_, needed := n.missing[m.Index]
	_, inFlight := n.pending[m.Index]
	if needed && !inFlight && !p.busy {
		n.schedule()
	}
}

func (n *Node) handleRequest(c *conn, m *protocol.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := n.peerFor(c)
	if p == nil {
		return
	}
	if _, ok := n.have[m.Index]; !ok {
		n.log.Warnf("Peer %s requested piece %d which we do not hold", p.ID, m.Index)
		return
	}

	data, err := n.file.ReadPiece(m.Index, n.pieceSize)
	if err != nil {
		n.log.Warnf("Failed to read piece %d: %v", m.Index, err)
		return
	}
	if err := c.send(protocol.NewPiece(m.Index, data)); err != nil {
		n.log.Debugf("Failed to send piece %d to %s: %v", m.Index, p.ID, err)
	}
}

func (n *Node) handlePiece(c *conn, m *protocol.Piece) {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := n.peerFor(c)
	if p == nil || !n.hasMeta {
		return
	}
	n.log.Debugf("Received piece %d (%d bytes) from %s", m.Index, len(m.Data), p.ID)

	p.busy = false
	delete(n.pending, m.Index)

	if err := n.file.WritePiece(m.Index, n.pieceSize, m.Data); err != nil {
		// The piece stays missing; the scheduler will retry it.
		n.log.Errorf("Failed to write piece %d: %v", m.Index, err)
		n.schedule()
		return
	}

	n.have[m.Index] = struct{}{}
	delete(n.missing, m.Index)
	n.bytesDown += int64(len(m.Data))

	// Peers learn our new availability before we ask anyone for more work.
	announcement := protocol.NewHave(m.Index)
	for _, other := range n.peers {
		if other.ID == p.ID || other.conn == nil {
			continue
		}
		if err := other.conn.send(announcement); err != nil {
			n.log.Debugf("Failed to announce piece %d to %s: %v", m.Index, other.ID, err)
		}
	}

	if len(n.missing) == 0 {
		if !n.isSeed {
			n.complete()
		}
		return
	}
	n.schedule()
}

// complete runs when the last missing piece lands: verify the whole file
// against the adopted hash and keep serving as a seed. Caller holds the
// node lock.
func (n *Node) complete() {
	n.stopProgress()

	elapsed := time.Since(n.startTime)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	n.log.Infof("Download complete: %s, %s received in %s (%.1f KB/s)",
		n.fileName, humanize.Bytes(uint64(n.bytesDown)),
		elapsed.Round(time.Millisecond),
		float64(n.bytesDown)/1024/elapsed.Seconds())

	if n.fileHash != "" {
		localHash, err := n.file.Hash()
		switch {
		case err != nil:
			n.log.Errorf("Failed to hash %s: %v", n.cfg.FilePath, err)
		case localHash == n.fileHash:
			n.log.Infof("File hash verified: %s", localHash)
		default:
			n.log.Warnf("File hash MISMATCH: expected %s, got %s", n.fileHash, localHash)
		}
	}

	n.isSeed = true
	n.log.Info("Now seeding")
}
