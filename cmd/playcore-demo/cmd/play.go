package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avplayer/playcore/internal/demo"
	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
	"github.com/avplayer/playcore/internal/playerstate"
	"github.com/avplayer/playcore/internal/session"
	"github.com/avplayer/playcore/pkg/format"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Load a simulated source and drive playback",
	Long: `play wires a simulated video sink and adapter to the session
coordinator, loads a simulated source, and prints a periodic status line
showing player state, current time and duration, the selected quality's
bitrate, ABR mode, and estimated bandwidth.`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().String("uri", "https://example.test/master.m3u8", "simulated source URI")
	playCmd.Flags().Float64("media-duration", 120, "simulated media duration, in seconds")
	playCmd.Flags().Int64("bandwidth", 3_000_000, "simulated link bandwidth, in bits per second")
	playCmd.Flags().Bool("autoplay", true, "start playback as soon as the source is ready")
	playCmd.Flags().Duration("status-interval", time.Second, "status line print interval")
	playCmd.Flags().String("inject-error-after", "", "after this duration, fire a simulated adapter error (format: duration/code, e.g. 5s/NetworkHttpError)")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.Logging)

	uri, _ := cmd.Flags().GetString("uri")
	mediaDuration, _ := cmd.Flags().GetFloat64("media-duration")
	bandwidth, _ := cmd.Flags().GetInt64("bandwidth")
	autoplay, _ := cmd.Flags().GetBool("autoplay")
	statusInterval, _ := cmd.Flags().GetDuration("status-interval")

	bus := eventbus.New(logger)
	sink := demo.NewSink(mediaDuration)
	adapter := demo.NewAdapter(bandwidth)

	factory := func(session.SourceConfig) session.Adapter { return adapter }
	engine := session.NewWithPolicies(bus, logger, sink, factory, cfg.BufferAccountantConfig(), cfg.ABRControllerConfig(), cfg.RetryPolicies())

	bus.Subscribe(playerstate.EventStateChange, func(p any) {
		t := p.(playerstate.Transition)
		logger.Info("state change", slog.String("from", t.From.String()), slog.String("to", t.To.String()), slog.String("action", string(t.Action)))
	})
	bus.Subscribe("error", func(p any) {
		err, ok := p.(*models.PlayerError)
		if !ok {
			return
		}
		logger.Warn("player error", slog.String("category", err.Category.String()), slog.String("code", err.Code), slog.String("message", err.Message))
	})
	bus.Subscribe("fatal", func(p any) {
		err, ok := p.(*models.PlayerError)
		if !ok {
			return
		}
		logger.Error("fatal player error", slog.String("category", err.Category.String()), slog.String("code", err.Code))
	})

	stopSink := sink.Run(250 * time.Millisecond)
	defer stopSink()

	if err := engine.Load(session.SourceConfig{URI: uri}, autoplay); err != nil {
		return fmt.Errorf("loading simulated source: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if injectAfter, _ := cmd.Flags().GetString("inject-error-after"); injectAfter != "" {
		if delay, code, ok := parseInjectFlag(injectAfter); ok {
			go func() {
				select {
				case <-ctx.Done():
				case <-time.After(delay):
					logger.Info("injecting simulated adapter error", slog.String("code", code))
					adapter.FireError(code, "simulated by playcore-demo")
				}
			}()
		}
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "shutting down")
			return engine.Destroy()
		case <-ticker.C:
			printStatus(engine)
		}
	}
}

func printStatus(engine *session.Engine) {
	snap := engine.Snapshot()
	var bitrate string
	if snap.ABR.CurrentLevel >= 0 && snap.ABR.CurrentLevel < len(snap.ABR.Levels) {
		bitrate = format.Bitrate(snap.ABR.Levels[snap.ABR.CurrentLevel].Bitrate)
	} else {
		bitrate = "n/a"
	}
	fmt.Fprintf(os.Stderr, "[%s] t=%s/%s quality=%s (%s) bandwidth~%s\n",
		snap.State,
		format.BufferSeconds(snap.CurrentTime),
		format.BufferSeconds(snap.Duration),
		bitrate,
		snap.ABR.Mode,
		format.Bitrate(snap.ABR.EstimatedBandwidth),
	)
}

// parseInjectFlag parses a "duration/code" flag value, e.g. "5s/NetworkHttpError".
func parseInjectFlag(v string) (time.Duration, string, bool) {
	for i := 0; i < len(v); i++ {
		if v[i] == '/' {
			d, err := time.ParseDuration(v[:i])
			if err != nil {
				return 0, "", false
			}
			return d, v[i+1:], true
		}
	}
	return 0, "", false
}
