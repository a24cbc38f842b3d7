package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ericfisherdev/hairscope-lab/internal/auth"
)

var errPasswordRequired = errors.New("password is required")

func newCredentialsCommand(a *app) *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Credential commands",
	}

	var username, password string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check a username and password against the configured lab account",
		Long: `Check a username and password against the lab account the server is
configured with. The password is prompted for when not given as a flag.
Exits non-zero when the pair is rejected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.appConfig()

			if username == "" {
				username = cfg.GetLabUsername()
			}
			if password == "" {
				var err error
				password, err = readPassword(cmd)
				if err != nil {
					return err
				}
			}

			checker := auth.NewChecker(cfg.GetLabUsername(), cfg.GetLabPassword())
			result := checker.Validate(username, password)
			if err := RenderCredentialResult(cmd.OutOrStdout(), a.outputFormat, username, result.Valid, result.Message); err != nil {
				return err
			}
			if !result.Valid {
				return errors.New("credentials rejected")
			}
			return nil
		},
	}
	checkCmd.Flags().StringVarP(&username, "username", "u", "", "username (defaults to the configured one)")
	checkCmd.Flags().StringVar(&password, "password", "", "password (not recommended, use interactive prompt)")

	credentialsCmd.AddCommand(checkCmd)
	return credentialsCmd
}

// readPassword prompts without echo on a terminal and reads one line
// otherwise, so the password can be piped in.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if len(bytePassword) == 0 {
			return "", errPasswordRequired
		}
		return string(bytePassword), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errPasswordRequired
	}
	return line, nil
}
