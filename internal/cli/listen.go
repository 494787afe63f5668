package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerlink/internal/broker"
	"github.com/rudransh-shrivastava/peerlink/internal/peer"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

var listenAddr string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "answers peer connections",
	Long:  `runs a signaling server and answers every peer that dials it, pinging each established connection until it drops`,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		server, err := signaling.NewWSServer(listenAddr)
		if err != nil {
			log.Error("Starting signaling server failed", "err", err)
			os.Exit(1)
		}

		listener, err := broker.Listen(server, &peer.ConnOptions{Logger: log})
		if err != nil {
			log.Error("Listen failed", "err", err)
			os.Exit(1)
		}
		log.Info("Listening for peers", "url", server.URL())

		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			for {
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				go pingLoop(log, conn)
			}
		}()

		<-done
		log.Info("Shutting down")
		_ = listener.Close()
	},
}

// pingLoop probes a connection until it stops answering, then releases it.
func pingLoop(log *slog.Logger, conn *peer.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		rtt, err := conn.Ping()
		if err != nil {
			log.Warn("Peer gone", "err", err)
			return
		}
		log.Info("Peer alive", "rtt", rtt)
		time.Sleep(5 * time.Second)
	}
}

func init() {
	listenCmd.Flags().StringVar(&listenAddr, "addr", "127.0.0.1:4444", "signaling listen address")
}
