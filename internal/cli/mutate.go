package cli

import (
	"errors"
	"fmt"
	gosync "sync"

	"github.com/spf13/cobra"

	"github.com/nhle/storefront-notify/internal/event"
	"github.com/nhle/storefront-notify/internal/registry"
	"github.com/nhle/storefront-notify/internal/theme"
)

// mutation applies one registry change, to a single id or to everything.
type mutation struct {
	one  func(r *registry.Registry, id string) error
	all  func(r *registry.Registry)
	done string
}

func idOrAll(all *bool) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		switch {
		case *all && len(args) > 0:
			return errors.New("pass either an id or --all, not both")
		case !*all && len(args) != 1:
			return errors.New("pass a notification id or --all")
		}
		return nil
	}
}

func newReadCmd(e *env) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "read <id> | --all",
		Short: "Mark a notification, or all of them, as read",
		Args:  idOrAll(&all),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd, e, args, all, mutation{
				one:  (*registry.Registry).MarkRead,
				all:  (*registry.Registry).MarkAllRead,
				done: "marked read",
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Mark every notification read")

	return cmd
}

func newDeleteCmd(e *env) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete <id> | --all",
		Short: "Delete a notification, or all of them",
		Args:  idOrAll(&all),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd, e, args, all, mutation{
				one:  (*registry.Registry).Delete,
				all:  (*registry.Registry).DeleteAll,
				done: "deleted",
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Delete every notification")

	return cmd
}

// runMutation applies m locally, waits for the backend call and caches the
// result. The local change is kept even when the backend rejects it; the
// next sync reconciles.
func runMutation(cmd *cobra.Command, e *env, args []string, all bool, m mutation) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, e)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		mu       gosync.Mutex
		failures []event.MutationFailure
	)
	event.Subscribe(s.d, event.MutationFailed, func(f event.MutationFailure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	})

	target := "all notifications"
	if all {
		m.all(s.reg)
	} else {
		id := args[0]
		target = id
		err := m.one(s.reg, id)
		if errors.Is(err, registry.ErrNotFound) {
			// Not cached yet; the server may still know it.
			if err := s.reg.Refresh(ctx); err != nil {
				return err
			}
			err = m.one(s.reg, id)
		}
		if err != nil {
			return err
		}
	}

	s.reg.Wait()
	if err := s.save(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	mu.Lock()
	defer mu.Unlock()
	if len(failures) > 0 {
		f := failures[0]
		fmt.Fprintln(out, theme.ErrorStyle.Render(fmt.Sprintf("%s failed on the server: %v", f.Op, f.Err)))
		return fmt.Errorf("%s %s locally only: %w", m.done, target, f.Err)
	}

	fmt.Fprintf(out, "%s %s\n", target, m.done)
	fmt.Fprintln(out, theme.StatusBarStyle.Render(fmt.Sprintf("%d unread", s.reg.UnreadCount())))
	return nil
}
