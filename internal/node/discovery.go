package node

import "github.com/ritwik-g/seedswarm/internal/protocol"

// handlePeers records gossiped peers and dials each new one iff our id is
// the greater of the pair; otherwise the other side dials us.
func (n *Node) handlePeers(c *conn, m *protocol.Peers) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, info := range m.Peers {
		if info.ID == n.id {
			continue
		}
		if _, known := n.peers[info.ID]; known {
			continue
		}
		p := newPeer(info.ID)
		p.Host = info.Host
		p.Port = info.Port
		n.peers[info.ID] = p
		n.log.Infof("Learned about peer %s at %s:%d", info.ID, info.Host, info.Port)

		if ShouldInitiate(n.id, info.ID) {
			go n.dialPeer(info.ID, info.Host, info.Port)
		}
	}
}
