package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/roomcast/internal/adapters/http"
	"github.com/dkeye/roomcast/internal/adapters/player"
	"github.com/dkeye/roomcast/internal/adapters/render"
	"github.com/dkeye/roomcast/internal/adapters/rtc"
	sig "github.com/dkeye/roomcast/internal/adapters/signal"
	"github.com/dkeye/roomcast/internal/adapters/store"
	"github.com/dkeye/roomcast/internal/app/orch"
	"github.com/dkeye/roomcast/internal/app/surface"
	"github.com/dkeye/roomcast/internal/config"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "roomcast",
	Short: "Join a live room and keep its media session running",
	Long: `roomcast joins a live room over signaling, picks the transport the room
announces (peer-to-peer, relayed peer, progressive or segmented pull) and keeps
the session, its surfaces and its quality settings in step with the room.`,
	RunE: run,
}

func main() {
	rootCmd.Flags().String("room", "", "room to join")
	rootCmd.Flags().Bool("autoplay", true, "start pull playback without waiting for /api/play")
	rootCmd.Flags().String("signaling-url", "", "signaling websocket URL")
	rootCmd.Flags().String("http-addr", "", "control API listen address")
	rootCmd.Flags().String("log-level", "", "log level")

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("roomcast failed")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.RoomID == "" {
		return errors.New("no room given, set --room or room_id")
	}
	self := domain.PeerID(cfg.PeerID)
	if self == "" {
		self = domain.PeerID(uuid.NewString())
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	client := sig.NewClient(sig.Options{
		URL:         cfg.SignalingURL,
		PingPeriod:  cfg.Signal.PingPeriod,
		ReadLimit:   cfg.Signal.ReadLimit,
		SenderRate:  cfg.Signal.SenderRate,
		SenderBurst: cfg.Signal.SenderBurst,
		Metrics:     m,
	})
	defer client.Close()

	rooms := store.NewMemory()
	room := domain.RoomID(cfg.RoomID)
	defer rooms.Follow(client, room)()

	ctl := orch.NewController(orch.Options{
		Self:       self,
		Signal:     client,
		Store:      rooms,
		Transports: rtc.NewFactory(cfg.ICE),
		Players: player.NewFactory(player.Options{
			RequestTimeout: cfg.Player.RequestTimeout,
			PollInterval:   cfg.Player.PollInterval,
		}),
		Renderers:             render.NewFactory(cfg.Render.OutputDir),
		Quality:               cfg.Quality,
		ReconnectOnFailure:    cfg.ReconnectOnFailure,
		LegacyScreenHeuristic: cfg.LegacyScreenHeuristic,
		Metrics:               m,
	})
	ctl.OnError(func(err error) {
		log.Warn().Err(err).Str("room", string(room)).Msg("session error")
	})
	ctl.OnSurfaces(func(s []surface.Snapshot) {
		log.Info().Str("room", string(room)).Int("surfaces", len(s)).Msg("surfaces changed")
	})

	go keepConnected(ctx, client)

	if err := ctl.Join(ctx, room, cfg.Autoplay); err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}

	r := router.SetupRouter(router.Options{Mode: cfg.Mode, Controller: ctl, Store: rooms})
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("room", string(room)).Str("self", string(self)).Msg("roomcast started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if err := ctl.Leave(); err != nil {
		log.Error().Err(err).Msg("leave failed")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

// keepConnected redials the signaling server whenever the connection drops.
func keepConnected(ctx context.Context, client *sig.Client) {
	const (
		minBackoff = 500 * time.Millisecond
		maxBackoff = 30 * time.Second
	)
	backoff := minBackoff
	for {
		if err := client.Connect(ctx); err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("signaling connect failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
		done := client.Done()
		if done == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-done:
		}
	}
}
