// Package cli implements the notifyctl commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/storefront-notify/internal/credential"
	"github.com/nhle/storefront-notify/internal/model"
)

var (
	version = "dev"
	commit  = "none"
)

// env is shared by every command. The config is loaded lazily so
// commands that do not need it (version) never touch the disk.
type env struct {
	configPath string
	vault      *credential.Vault
	cfg        *model.AppConfig
}

func (e *env) config() (*model.AppConfig, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := model.LoadConfig(e.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	e.cfg = cfg
	return cfg, nil
}

func newRootCmd(vault *credential.Vault) *cobra.Command {
	e := &env{vault: vault}

	cmd := &cobra.Command{
		Use:           "notifyctl",
		Short:         "Storefront notification client",
		Long:          "notifyctl keeps a live connection to the storefront notification socket and mirrors your notifications locally.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&e.configPath, "config", model.DefaultConfigPath(), "Path to the config file")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newWatchCmd(e))
	cmd.AddCommand(newSyncCmd(e))
	cmd.AddCommand(newInboxCmd(e))
	cmd.AddCommand(newReadCmd(e))
	cmd.AddCommand(newDeleteCmd(e))
	cmd.AddCommand(newLoginCmd(e))
	cmd.AddCommand(newLogoutCmd(e))
	return cmd
}

// NewRootCmdForTest returns the root command backed by vault.
func NewRootCmdForTest(vault *credential.Vault) *cobra.Command {
	return newRootCmd(vault)
}

// Execute runs notifyctl with the system keyring.
func Execute() error {
	return newRootCmd(credential.NewVault()).Execute()
}
