package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/kartik102005/ecolearn/internal/core/notify"
	"github.com/kartik102005/ecolearn/internal/core/styles"
	"github.com/kartik102005/ecolearn/internal/ecolearn"
	"github.com/kartik102005/ecolearn/internal/metrics"
	"github.com/kartik102005/ecolearn/internal/printer"
	"github.com/kartik102005/ecolearn/pkg/iojson"
)

type WatchCmd struct {
	flags *Flags

	metricsAddr string
	json        bool
	pprof       bool
	interval    time.Duration
}

// NewWatchCmd creates the watch command.
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application.
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "watch",
		Usage: "Stream inbox changes until interrupted",
		Description: `Prints every new notification and unread-count change for the signed-in
user. While running it serves Prometheus metrics on /metrics and a session
health check on /healthz, and sweeps expired local keys.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "listen address for /metrics and /healthz (empty disables)",
				Value:       ":9090",
				Sources:     cli.EnvVars("ECOLEARN_METRICS_ADDR"),
				Destination: &cmd.metricsAddr,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "emit one JSON line per change",
				Destination: &cmd.json,
			},
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "how often to pick up changes written by other ecolearn processes",
				Value:       2 * time.Second,
				Destination: &cmd.interval,
			},
			&cli.BoolFlag{
				Name:        "pprof",
				Usage:       "also serve runtime profiles under /debug/pprof",
				Destination: &cmd.pprof,
			},
		},
		Action: cmd.run,
	})
	return app
}

// router serves metrics and session health, plus pprof when profiling is set.
func router(app *ecolearn.App, profiling bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if profiling {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Method(http.MethodGet, "/metrics", metrics.Handler(app.Registry))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := app.Sessions.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if st.Phase.Loading() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = iojson.WriteLine(w, map[string]any{
			"phase":  st.Phase,
			"userId": st.UserID(),
			"unread": app.Inbox.UnreadCount(),
		})
	})
	return r
}

type watchLine struct {
	UserID       string               `json:"userId"`
	Unread       int                  `json:"unread"`
	Total        int                  `json:"total"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	go app.Sweep(ctx)

	if cmd.metricsAddr != "" {
		ln, err := net.Listen("tcp", cmd.metricsAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cmd.metricsAddr, err)
		}
		srv := &http.Server{
			Handler:           router(app, cmd.pprof),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		printer.Ctx(ctx).Infof("Serving metrics on %s", ln.Addr())
	}

	changes := make(chan struct{}, 1)
	unsub := app.Inbox.Subscribe(func(ecolearn.InboxSnapshot) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsub()

	seen := map[string]bool{}
	snap := app.Inbox.Snapshot()
	for _, id := range snap.Store.Order {
		seen[id] = true
	}
	lastUnread := notify.UnreadCount(snap.Store)
	if !cmd.json {
		printer.Ctx(ctx).Infof("Watching %d notifications, %d unread. Ctrl+C to stop.", snap.Store.Len(), lastUnread)
	}

	ticker := time.NewTicker(cmd.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A change is reported through the subscription.
			if _, err := app.Inbox.Reload(ctx); err != nil {
				log.Warn().Err(err).Msg("reload inbox failed")
			}
			continue
		case <-changes:
		}

		snap := app.Inbox.Snapshot()
		unread := notify.UnreadCount(snap.Store)

		var fresh []notify.Notification
		for _, n := range notify.List(snap.Store) {
			if !seen[n.ID] {
				fresh = append(fresh, n)
			}
		}
		seen = make(map[string]bool, len(snap.Store.Order))
		for _, id := range snap.Store.Order {
			seen[id] = true
		}

		if len(fresh) == 0 && unread == lastUnread {
			continue
		}
		lastUnread = unread

		if err := cmd.emit(c, snap, unread, fresh); err != nil {
			return err
		}
	}
}

func (cmd *WatchCmd) emit(c *cli.Command, snap ecolearn.InboxSnapshot, unread int, fresh []notify.Notification) error {
	w := c.Root().Writer
	if cmd.json {
		if len(fresh) == 0 {
			return iojson.WriteLine(w, watchLine{UserID: snap.UserID, Unread: unread, Total: snap.Store.Len()})
		}
		for i := range fresh {
			line := watchLine{UserID: snap.UserID, Unread: unread, Total: snap.Store.Len(), Notification: &fresh[i]}
			if err := iojson.WriteLine(w, line); err != nil {
				return err
			}
		}
		return nil
	}

	for _, n := range fresh {
		_, _ = fmt.Fprintf(w, "%s %s  %s\n",
			styles.CategoryStyle(n.Category).Render("●"),
			styles.UnreadTitleStyle.Render(n.Title),
			styles.MutedStyle.Render(n.Message),
		)
	}
	_, _ = fmt.Fprintln(w, styles.MutedStyle.Render(fmt.Sprintf("%d unread", unread)))
	return nil
}
