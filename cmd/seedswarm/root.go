package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ritwik-g/seedswarm/internal/logger"
	"github.com/ritwik-g/seedswarm/internal/node"
	"github.com/spf13/cobra"
)

var (
	port     int
	filePath string
	peerAddr string
	debug    bool
)

var rootCmd = &cobra.Command{
	Use:   "seedswarm",
	Short: "Trackerless peer-to-peer file distribution node",
	Long: `seedswarm shares one file across a mesh of cooperating nodes.
A node started with an existing file seeds it; a node started with a fresh
destination path leeches the file from the swarm and seeds once complete.
Peers discover each other by gossip, starting from a single bootstrap peer.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().IntVar(&port, "port", 0, "TCP listen port")
	rootCmd.Flags().StringVar(&filePath, "file", "", "file to seed, or destination path when leeching")
	rootCmd.Flags().StringVar(&peerAddr, "peer", "", "initial peer to dial (host:port)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	_ = rootCmd.MarkFlagRequired("port")
	_ = rootCmd.MarkFlagRequired("file")
}

func run(cmd *cobra.Command, args []string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid --port %d: must be 1-65535", port)
	}
	if peerAddr != "" {
		if _, _, err := net.SplitHostPort(peerAddr); err != nil {
			return fmt.Errorf("invalid --peer %q: expected host:port", peerAddr)
		}
	}

	log := logger.NewLogger()
	if debug {
		log = logger.NewDebugLogger()
	}

	n, err := node.New(node.Config{
		Port:     port,
		FilePath: filePath,
		PeerAddr: peerAddr,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = n.Shutdown() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
