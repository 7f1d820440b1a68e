package node

import "github.com/ritwik-g/seedswarm/internal/protocol"

// schedule is a single pass: every connected, idle peer is assigned the
// first piece, in map iteration order, that it advertises, we are missing
// and have not already requested elsewhere. Go does not fix that order, so
// which piece is picked can differ between passes. At most one outstanding
// request per peer.
// Caller holds the node lock.
func (n *Node) schedule() {
	if !n.hasMeta || len(n.missing) == 0 {
		return
	}

	for _, p := range n.peers {
		if p.conn == nil || p.busy {
			continue
		}
		for idx := range p.available {
			if _, miss := n.missing[idx]; !miss {
				continue
			}
			if _, inFlight := n.pending[idx]; inFlight {
				continue
			}
			n.pending[idx] = struct{}{}
			p.busy = true
			n.log.Debugf("Requesting piece %d from %s", idx, p.ID)
			if err := p.conn.send(protocol.NewRequest(idx)); err != nil {
				n.log.Debugf("Failed to request piece %d from %s: %v", idx, p.ID, err)
			}
			break
		}
	}
}

// ShouldInitiate decides which side of a peer pair dials after gossip:
// the node with the greater id. For any two distinct ids exactly one
// direction holds, so a pair never ends up with two connections.
func ShouldInitiate(selfID, otherID string) bool {
	return selfID > otherID
}
