package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	notifysync "github.com/nhle/storefront-notify/internal/sync"
	"github.com/nhle/storefront-notify/internal/theme"
)

func newSyncCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch notifications over REST and replace the local cache",
		Long:  "Fetch the notification list over REST. The fetched list replaces the cache, so notifications deleted on the server disappear locally too.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer s.Close()

			poller := notifysync.New(notifysync.Options{
				Fetcher:    s.rest,
				Sink:       s.reg,
				Cache:      s.store,
				Dispatcher: s.d,
				PageLimit:  s.cfg.Sync.PageLimit,
				Retry:      s.cfg.Sync.Retry,
				Replace:    true,
			})

			start := time.Now()
			res := poller.SyncOnce(cmd.Context())
			if res.Error != nil {
				if res.AuthError {
					return fmt.Errorf("%w (run `notifyctl login`)", res.Error)
				}
				return res.Error
			}

			out := cmd.OutOrStdout()
			renderList(out, "Notifications", s.reg.Notifications())
			fmt.Fprintln(out, theme.MetaStyle.Render(fmt.Sprintf(
				"fetched %d (%d new) in %s", len(res.Notifications), res.NewCount, time.Since(start).Round(time.Millisecond),
			)))

			// The first page may not hold every unread notification.
			if n, err := s.rest.UnreadCount(cmd.Context()); err != nil {
				zlog.Logger.Warn().Err(err).Msg("fetching server unread count")
			} else {
				fmt.Fprintln(out, theme.MetaStyle.Render(fmt.Sprintf("server reports %d unread", n)))
			}
			return nil
		},
	}
}
