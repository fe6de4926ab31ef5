package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nhle/storefront-notify/internal/model"
	"github.com/nhle/storefront-notify/internal/store"
	"github.com/nhle/storefront-notify/internal/theme"
)

// openStore opens the notification cache, creating its directory.
func openStore(cfg *model.AppConfig) (*store.SQLiteStore, error) {
	path := cfg.Store.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", path, err)
	}
	return s, nil
}

func newInboxCmd(e *env) *cobra.Command {
	var unreadOnly bool

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Show the cached notifications without going online",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}

			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.LoadNotifications(cmd.Context())
			if err != nil {
				return err
			}

			if unreadOnly {
				filtered := list[:0]
				for _, n := range list {
					if !n.Read {
						filtered = append(filtered, n)
					}
				}
				list = filtered
			}

			out := cmd.OutOrStdout()
			renderList(out, "Inbox", list)

			saved, err := s.LastSaved(cmd.Context())
			if err != nil {
				return err
			}
			if saved.IsZero() {
				fmt.Fprintln(out, theme.MetaStyle.Render("never synced: run `notifyctl sync`"))
			} else {
				fmt.Fprintln(out, theme.MetaStyle.Render("last synced "+saved.Local().Format(timeLayout)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only show unread notifications")

	return cmd
}
