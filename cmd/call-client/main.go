package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/tully-8888/video-chat-app/pkg/call"
	"github.com/tully-8888/video-chat-app/pkg/media"
	"github.com/tully-8888/video-chat-app/pkg/transport"
)

var (
	serverURL string
	roomID    string
	name      string
	bitrate   int
)

var rootCmd = &cobra.Command{
	Use:   "call-client",
	Short: "Headless client for the group-call relay",
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and stream a synthetic test pattern",
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/ws", "relay websocket URL")
	joinCmd.Flags().StringVar(&roomID, "room", "", "room to join")
	joinCmd.Flags().StringVar(&name, "name", "", "participant id (random when empty)")
	joinCmd.Flags().IntVar(&bitrate, "bitrate", 0, "outgoing video cap in bits per second")
	joinCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	participantID := name
	if participantID == "" {
		participantID = uuid.NewString()[:8]
	}

	lf := logging.NewDefaultLoggerFactory()
	log := lf.NewLogger("client")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	ch, err := transport.Dial(dialCtx, serverURL, log)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer ch.Close()

	src, err := media.NewSource(participantID)
	if err != nil {
		return err
	}
	defer src.Close()
	src.StartTestPattern(ctx)

	factory, err := call.NewLinkFactory(call.LinkConfig{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		Source:        src,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}

	o := call.NewOrchestrator(ch, factory, call.WithLogger(log))
	o.SetOnJoined(func(room string) {
		log.Infof("joined %s as %s", room, participantID)
	})
	o.SetOnPeerStream(func(peerID string, track *webrtc.TrackRemote, streamID string) {
		log.Infof("receiving %s from %s (stream %s)", track.Kind(), peerID, streamID)
		go drainTrack(track)
	})
	o.SetOnPeerClosed(func(peerID string) {
		log.Infof("peer %s gone", peerID)
	})
	o.SetOnServerError(func(msg string) {
		log.Warnf("relay: %s", msg)
	})

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run() }()

	if err := o.JoinRoom(roomID, participantID); err != nil {
		return err
	}

	if bitrate > 0 {
		go func() {
			// Let the initial handshakes settle before capping.
			time.Sleep(5 * time.Second)
			for id, err := range o.SetOutgoingBitrate(bitrate) {
				log.Warnf("bitrate cap on %s: %v", id, err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		o.LeaveRoom()
		return nil
	case err := <-runErr:
		return err
	}
}

// drainTrack keeps a remote track's read loop alive; a headless client
// has nowhere to render
func drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
