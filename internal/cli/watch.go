package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	"github.com/nhle/storefront-notify/internal/api"
	"github.com/nhle/storefront-notify/internal/backoff"
	"github.com/nhle/storefront-notify/internal/event"
	"github.com/nhle/storefront-notify/internal/model"
	"github.com/nhle/storefront-notify/internal/realtime"
	"github.com/nhle/storefront-notify/internal/registry"
	notifysync "github.com/nhle/storefront-notify/internal/sync"
	"github.com/nhle/storefront-notify/internal/theme"
)

// errAuthRequired ends a watch session whose token was rejected.
var errAuthRequired = errors.New("authentication required: run `notifyctl login`")

// lockedWriter serializes output from event handlers running on
// different goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newWatchCmd(e *env) *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print notifications as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			token, err := e.vault.Token()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return watch(ctx, cmd.OutOrStdout(), e, cfg, token, !noSync)
		},
	}

	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Do not run the periodic REST sync")

	return cmd
}

func watch(ctx context.Context, w io.Writer, e *env, cfg *model.AppConfig, token string, withSync bool) error {
	out := &lockedWriter{w: w}
	session := uuid.NewString()
	logger := zlog.Logger.With().Str("component", "watch").Str("session", session).Logger()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	d := event.NewDispatcher()
	rest := api.NewClient(cfg.Server.APIURL(), token)

	client := realtime.NewClient(realtime.Options{
		URL:        cfg.Server.SocketURL,
		Token:      e.vault.Token,
		Dispatcher: d,
		Policy: &backoff.Policy{
			Base:       cfg.Realtime.ReconnectBase,
			MaxRetries: cfg.Realtime.MaxRetries,
			MaxDelay:   cfg.Realtime.MaxReconnectDelay,
		},
		HandshakeTimeout:  cfg.Realtime.HandshakeTimeout,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
	})

	reg := registry.New(registry.Options{
		Dispatcher: d,
		Backend:    rest,
		Socket:     client,
		PageLimit:  cfg.Sync.PageLimit,
	})
	defer reg.Close()

	if cached, err := s.LoadNotifications(ctx); err != nil {
		logger.Warn().Err(err).Msg("loading cached notifications")
	} else {
		reg.ApplySnapshot(cached, true)
	}

	subscribeOutput(d, out, reg, cancel)
	renderList(out, "Inbox", reg.Notifications())

	var poller *notifysync.Poller
	if withSync {
		poller = notifysync.New(notifysync.Options{
			Fetcher:    rest,
			Sink:       reg,
			Cache:      s,
			Dispatcher: d,
			Interval:   secondsToDuration(cfg.Sync.IntervalSec),
			PageLimit:  cfg.Sync.PageLimit,
			Retry:      cfg.Sync.Retry,
		})
		// A dropped socket may have missed pushes; catch up over REST.
		event.Subscribe(d, event.Reconnecting, func(event.Retry) { poller.RefreshNow() })
	}

	logger.Info().Str("host", cfg.Server.Host).Msg("starting watch session")
	renderStatus(out, client.Connect().String(), cfg.Server.Host)
	if poller != nil {
		poller.Start()
	}

	<-ctx.Done()

	client.Disconnect()
	if poller != nil {
		poller.Stop()
	}
	reg.Wait()

	if err := s.SaveNotifications(context.Background(), reg.Notifications()); err != nil {
		logger.Warn().Err(err).Msg("saving notifications on exit")
	}

	if cause := context.Cause(ctx); errors.Is(cause, errAuthRequired) {
		return cause
	}
	return nil
}

// subscribeOutput prints lifecycle and message events as they happen.
func subscribeOutput(d *event.Dispatcher, out io.Writer, reg *registry.Registry, cancel context.CancelCauseFunc) {
	event.Subscribe(d, event.Connected, func(event.Empty) {
		renderStatus(out, "connected", "")
	})
	event.Subscribe(d, event.Disconnected, func(c event.Closure) {
		renderStatus(out, "disconnected", fmt.Sprintf("code %d %s", c.Code, c.Reason))
	})
	event.Subscribe(d, event.Reconnecting, func(r event.Retry) {
		renderStatus(out, "reconnecting", fmt.Sprintf("attempt %d in %s", r.Attempt, r.Delay))
	})
	event.Subscribe(d, event.BackendUnavailable, func(c event.Closure) {
		renderStatus(out, "backend unavailable", c.Reason)
	})
	event.Subscribe(d, event.MaxRetriesExceeded, func(n int) {
		renderStatus(out, "gave up", fmt.Sprintf("after %d retries; REST sync continues", n))
	})
	event.Subscribe(d, event.AuthRequired, func(c event.Closure) {
		renderStatus(out, "auth required", c.Reason)
		cancel(errAuthRequired)
	})
	event.Subscribe(d, event.Error, func(err error) {
		fmt.Fprintln(out, theme.ErrorStyle.Render("error: "+err.Error()))
	})
	event.Subscribe(d, event.ServerError, func(msg string) {
		fmt.Fprintln(out, theme.ErrorStyle.Render("server: "+msg))
	})
	event.Subscribe(d, event.MutationFailed, func(f event.MutationFailure) {
		fmt.Fprintln(out, theme.ErrorStyle.Render(fmt.Sprintf("%s %s failed: %v", f.Op, f.ID, f.Err)))
	})
	event.Subscribe(d, event.NotificationCreated, func(n model.Notification) {
		fmt.Fprintln(out, renderNotification(n))
		fmt.Fprintln(out, theme.StatusBarStyle.Render(fmt.Sprintf("%d unread", reg.UnreadCount())))
	})
}

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
