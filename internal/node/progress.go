package node

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

const progressInterval = time.Second

// startProgress begins the 1 Hz reporter once the file size and start
// time are known. Caller holds the node lock.
func (n *Node) startProgress() {
	if n.fileSize <= 0 {
		return
	}
	n.bar = progressbar.NewOptions64(n.fileSize,
		progressbar.OptionSetDescription(n.fileName),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(24),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
	n.progressDone = make(chan struct{})
	go n.reportProgress(n.bar, n.progressDone)
}

func (n *Node) reportProgress(bar *progressbar.ProgressBar, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n.mu.Lock()
			// Approximate: the tail piece counts as a full piece until it
			// arrives.
			bytesDone := n.fileSize - int64(len(n.missing))*n.pieceSize
			n.mu.Unlock()
			if bytesDone < 0 {
				bytesDone = 0
			}
			_ = bar.Set64(bytesDone)
		}
	}
}

// stopProgress stops the reporter; safe when it never started. Caller
// holds the node lock.
func (n *Node) stopProgress() {
	n.progressStop.Do(func() {
		if n.progressDone != nil {
			close(n.progressDone)
		}
		if n.bar != nil {
			_ = n.bar.Finish()
		}
	})
}
