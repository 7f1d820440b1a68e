package node

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ritwik-g/seedswarm/internal/fileio"
	"github.com/ritwik-g/seedswarm/internal/logger"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Port is the TCP listen port. 0 picks a free port.
	Port int
	// FilePath is an existing file to seed, or the destination path of a
	// leecher.
	FilePath string
	// PeerAddr is an optional bootstrap peer to dial on startup.
	PeerAddr string
	// PieceSize overrides the default piece size on a seed. Leechers adopt
	// the piece size of the swarm regardless.
	PieceSize int64
	Logger    *logrus.Logger
}

// Node is one member of the swarm: server and client at once. A single
// mutex serializes every mutation of the piece sets and the peer map.
type Node struct {
	cfg  Config
	id   string
	port int
	log  *logrus.Logger
	file *fileio.Manager

	mu        sync.Mutex
	fileName  string
	fileSize  int64
	pieceSize int64
	numPieces int
	fileHash  string
	hasMeta   bool
	isSeed    bool
	have      map[int]struct{}
	missing   map[int]struct{}
	pending   map[int]struct{}
	peers     map[string]*Peer

	startTime time.Time
	bytesDown int64

	bar          *progressbar.ProgressBar
	progressDone chan struct{}
	progressStop sync.Once

	listener  net.Listener
	closed    bool
	closeOnce sync.Once
}

// New probes the file path to decide the node's role, opens the file
// manager accordingly and binds the listener. A seed hashes its file here;
// a leecher stays metadata-less until its first handshake.
func New(cfg Config) (*Node, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	pieceSize := cfg.PieceSize
	if pieceSize <= 0 {
		pieceSize = fileio.DefaultPieceSize
	}

	n := &Node{
		cfg:       cfg,
		id:        id,
		log:       log,
		fileName:  filepath.Base(cfg.FilePath),
		pieceSize: pieceSize,
		have:      make(map[int]struct{}),
		missing:   make(map[int]struct{}),
		pending:   make(map[int]struct{}),
		peers:     make(map[string]*Peer),
	}

	info, err := os.Stat(cfg.FilePath)
	switch {
	case err == nil:
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", cfg.FilePath)
		}
		if err := n.initSeed(); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		file, err := fileio.OpenWrite(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		n.file = file
	default:
		return nil, err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		_ = n.file.Close()
		return nil, err
	}
	n.listener = ln
	n.port = ln.Addr().(*net.TCPAddr).Port

	return n, nil
}

func (n *Node) initSeed() error {
	file, err := fileio.OpenRead(n.cfg.FilePath)
	if err != nil {
		return err
	}
	n.file = file
	n.fileSize = file.Size()
	if n.fileSize > 0 && n.fileSize < n.pieceSize {
		n.pieceSize = n.fileSize
	}
	n.numPieces = fileio.NumPieces(n.fileSize, n.pieceSize)
	for i := 0; i < n.numPieces; i++ {
		n.have[i] = struct{}{}
	}
	n.hasMeta = true
	n.isSeed = true

	n.fileHash, err = file.Hash()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("hashing %s: %w", n.cfg.FilePath, err)
	}
	return nil
}

// Start runs the accept loop until ctx is cancelled or the node is shut
// down. The bootstrap peer, if any, is dialed in the background.
func (n *Node) Start(ctx context.Context) error {
	n.logBanner()

	if n.cfg.PeerAddr != "" {
		go n.dialAddr(n.cfg.PeerAddr)
	} else if !n.IsSeed() {
		n.log.Warn("No local file and no bootstrap peer; waiting for an inbound connection")
	}

	stop := context.AfterFunc(ctx, func() { _ = n.Shutdown() })
	defer stop()

	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || n.isClosed() {
				return nil
			}
			n.log.Warnf("Accept failed: %v", err)
			continue
		}
		go n.runConn(conn, inbound)
	}
}

// Shutdown closes the listener, every connection bound to a peer record
// and the file. Idempotent.
func (n *Node) Shutdown() error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		conns := make([]*conn, 0, len(n.peers))
		for _, p := range n.peers {
			if p.conn != nil {
				conns = append(conns, p.conn)
			}
		}
		n.stopProgress()
		n.mu.Unlock()

		n.log.Info("Shutting down node")
		_ = n.listener.Close()
		for _, c := range conns {
			c.close()
		}
		_ = n.file.Close()
	})
	return nil
}

// Addr returns the bound listener address.
func (n *Node) Addr() string {
	return n.listener.Addr().String()
}

// ID returns the 16-hex-character node id.
func (n *Node) ID() string {
	return n.id
}

func (n *Node) IsSeed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isSeed
}

func (n *Node) FileHash() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fileHash
}

// PeerCount returns the number of known peers with a live connection.
func (n *Node) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connectedCount()
}

func (n *Node) connectedCount() int {
	count := 0
	for _, p := range n.peers {
		if p.conn != nil {
			count++
		}
	}
	return count
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *Node) logBanner() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.isSeed {
		n.log.Infof("Seeding %s (%s, %d pieces of %s) on %s, id %s",
			n.fileName, humanize.Bytes(uint64(n.fileSize)), n.numPieces,
			humanize.Bytes(uint64(n.pieceSize)), n.listener.Addr(), n.id)
		n.log.Infof("File hash %s", n.fileHash)
	} else {
		n.log.Infof("Leeching into %s on %s, id %s", n.cfg.FilePath, n.listener.Addr(), n.id)
	}
}

func newID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating node id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
