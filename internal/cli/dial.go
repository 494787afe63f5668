package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerlink/internal/broker"
	"github.com/rudransh-shrivastava/peerlink/internal/peer"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

var (
	dialURL  string
	stunURLs []string
)

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "dials a listening peer",
	Long:  `connects to a signaling server, negotiates a peer connection and pings it until interrupted`,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stream, err := signaling.DialWS(ctx, dialURL)
		if err != nil {
			log.Error("Dialing signaling server failed", "err", err)
			os.Exit(1)
		}

		var iceServers []webrtc.ICEServer
		if len(stunURLs) > 0 {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: stunURLs})
		}

		conn, err := broker.Dial(stream, iceServers, &peer.ConnOptions{Logger: log})
		if err != nil {
			log.Error("Negotiation failed", "err", err)
			os.Exit(1)
		}
		log.Info("Peer connection established")

		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			pingLoop(log, conn)
			done <- syscall.SIGTERM
		}()

		<-done
		log.Info("Shutting down")
		_ = conn.Close()
	},
}

func init() {
	dialCmd.Flags().StringVar(&dialURL, "url", "ws://127.0.0.1:4444/negotiate", "signaling server url")
	dialCmd.Flags().StringSliceVar(&stunURLs, "stun", []string{"stun:stun.l.google.com:19302"}, "stun server urls")
}
