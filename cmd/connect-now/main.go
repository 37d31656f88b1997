// Command connect-now joins a room as a headless conferencing participant:
// it exchanges media with every other participant over a full mesh and
// bridges stdin to the room's chat. SIGINT/SIGTERM run the same leave path
// as an explicit hang-up.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/config"
	"github.com/mossy-p/connect-now/internal/media"
	"github.com/mossy-p/connect-now/internal/peer"
	"github.com/mossy-p/connect-now/internal/session"
	"github.com/mossy-p/connect-now/internal/store"
)

const leaveTimeout = 5 * time.Second

func main() {
	var (
		roomID = flag.String("room", "", "room id or code to join (required)")
		name   = flag.String("name", "", "display name (defaults to DISPLAY_NAME)")
	)
	flag.Parse()

	cfg := config.Load()
	if *name == "" {
		*name = cfg.DisplayName
	}
	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: connect-now -room <room-id> [-name <display-name>]")
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, *roomID, *name, logger); err != nil {
		logger.Fatal("session failed", zap.Error(err))
	}
}

func run(cfg *config.Config, roomID, name string, logger *zap.Logger) error {
	st, err := store.NewRedisStore(cfg.Redis, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer st.Close()

	participantID := uuid.NewString()

	provider, err := media.NewDeviceProvider()
	if err != nil {
		return fmt.Errorf("configure capture: %w", err)
	}
	mediaMgr := media.NewManager(provider, participantID, logger.Named("media"))

	factory, err := peer.NewPionFactory(cfg.STUNServers, provider, logger.Named("rtc"))
	if err != nil {
		return fmt.Errorf("configure transport: %w", err)
	}

	sess := session.New(st, mediaMgr, factory.New, roomID, participantID, name, logger.Named("session"))

	sess.OnRemoteStream(func(rs peer.RemoteStream) {
		kind := "camera"
		if rs.Screen {
			kind = "screen"
		}
		fmt.Printf("* %s is sending %s video\n", rs.Name, kind)
	})
	sess.OnPeerGone(func(remoteID string) {
		fmt.Printf("* peer %s left\n", remoteID)
	})

	// Ctrl-C is our page-unload signal: cancel the loops and run the same
	// best-effort leave as an explicit hang-up.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Join(ctx); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	messages, err := sess.Messages(ctx)
	if err != nil {
		return fmt.Errorf("watch chat: %w", err)
	}
	go func() {
		for msg := range messages {
			fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Name, msg.Text)
		}
	}()

	go readChat(ctx, sess, logger)

	<-ctx.Done()

	leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := sess.Leave(leaveCtx); err != nil {
		// Best effort; abandoned state ages out of the store.
		logger.Warn("leave incomplete", zap.Error(err))
	}
	return nil
}

// readChat bridges stdin lines into the room chat. "/share" and "/unshare"
// toggle screen sharing, "/mute" and "/unmute" the microphone.
func readChat(ctx context.Context, sess *session.Session, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case "/share":
			if err := sess.Media().StartScreenShare(); err != nil {
				fmt.Println("* screen share unavailable")
			}
		case "/unshare":
			sess.Media().StopScreenShare()
		case "/mute":
			sess.Media().SetMuted(true)
		case "/unmute":
			sess.Media().SetMuted(false)
		default:
			if err := sess.SendMessage(ctx, line); err != nil {
				logger.Warn("send message", zap.Error(err))
			}
		}
	}
}
