package fileio

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultPieceSize is the piece length used unless the file is smaller.
const DefaultPieceSize int64 = 64 * 1024

// Manager owns the single backing file of the node: random-access piece
// reads and writes plus whole-file hashing. Callers treat it as
// single-owner; the internal lock only guards the handle itself.
type Manager struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	size     int64
	writable bool
}

// OpenRead opens an existing file for serving and records its size.
func OpenRead(path string) (*Manager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Manager{f: f, path: path, size: info.Size()}, nil
}

// OpenWrite creates (or truncates) the destination file of a leecher. The
// size is unknown until SetSize.
func OpenWrite(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &Manager{f: f, path: path, writable: true}, nil
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// SetSize truncates or extends the backing file to exactly n bytes. Newly
// created bytes are zero. Only legal in write mode, called once when the
// file size becomes known.
func (m *Manager) SetSize(n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return fmt.Errorf("file %s is closed", m.path)
	}
	if !m.writable {
		return fmt.Errorf("file %s is read-only", m.path)
	}
	if err := m.f.Truncate(n); err != nil {
		return err
	}
	m.size = n
	return nil
}

// ReadPiece returns the bytes of one piece. Every piece has pieceSize bytes
// except the last, which carries whatever remains.
func (m *Manager) ReadPiece(index int, pieceSize int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil, fmt.Errorf("file %s is closed", m.path)
	}
	offset := int64(index) * pieceSize
	if index < 0 || offset >= m.size {
		return nil, fmt.Errorf("piece %d out of range for %d bytes", index, m.size)
	}
	length := pieceSize
	if offset+length > m.size {
		length = m.size - offset
	}
	data := make([]byte, length)
	if _, err := m.f.ReadAt(data, offset); err != nil {
		return nil, err
	}
	return data, nil
}

// WritePiece writes data at the piece offset. The caller is trusted for
// length correctness.
func (m *Manager) WritePiece(index int, pieceSize int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return fmt.Errorf("file %s is closed", m.path)
	}
	if !m.writable {
		return fmt.Errorf("file %s is read-only", m.path)
	}
	_, err := m.f.WriteAt(data, int64(index)*pieceSize)
	return err
}

// Hash streams the whole file through SHA-1 and returns lowercase hex.
func (m *Manager) Hash() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return "", fmt.Errorf("file %s is closed", m.path)
	}
	return HashReader(io.NewSectionReader(m.f, 0, m.size))
}

// Close releases the file handle. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

// HashReader returns the lowercase hex SHA-1 of everything in r.
func HashReader(r io.Reader) (string, error) {
	hash := sha1.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// NumPieces is ceil(fileSize / pieceSize).
func NumPieces(fileSize, pieceSize int64) int {
	if pieceSize <= 0 {
		return 0
	}
	return int((fileSize + pieceSize - 1) / pieceSize)
}

// PieceLength returns the byte length of one piece; only the last piece may
// be shorter than pieceSize.
func PieceLength(index int, fileSize, pieceSize int64) int64 {
	offset := int64(index) * pieceSize
	if offset >= fileSize {
		return 0
	}
	if offset+pieceSize > fileSize {
		return fileSize - offset
	}
	return pieceSize
}
