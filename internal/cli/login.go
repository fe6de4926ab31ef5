package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nhle/storefront-notify/internal/credential"
)

func validateToken(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("token must not be empty")
	}
	return nil
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// promptToken asks for the token without echoing it.
func promptToken() (string, error) {
	var token string
	err := huh.NewInput().
		Title("API token").
		Description("Bearer token for the storefront notification API").
		EchoMode(huh.EchoModePassword).
		Value(&token).
		Validate(validateToken).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", errors.New("login cancelled")
	}
	return token, err
}

// readToken reads one line from a pipe or redirected file.
func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no token given: pass --token or pipe it on stdin")
	}
	return line, nil
}

func newLoginCmd(e *env) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the API token in the system keyring",
		Long:  "Store the API token used for the socket and REST calls. Without --token the token is prompted for on a terminal, or read from stdin when it is piped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				var err error
				if in := cmd.InOrStdin(); isTerminal(in) {
					token, err = promptToken()
				} else {
					token, err = readToken(in)
				}
				if err != nil {
					return err
				}
			}

			token = strings.TrimSpace(token)
			if err := validateToken(token); err != nil {
				return err
			}

			if err := e.vault.Set(credential.TokenKey, token); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Token saved.")
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "API bearer token")

	return cmd
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.vault.Delete(credential.TokenKey); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
			return nil
		},
	}
}
