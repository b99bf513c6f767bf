package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/adlib/internal/auth"
	"github.com/example/adlib/internal/config"
	"github.com/example/adlib/internal/db"
	"github.com/example/adlib/internal/migrate"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage web UI users",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

type userCreator interface {
	CreateUser(ctx context.Context, username, password string) error
}

func newUserAddCmd() *cobra.Command {
	var username, password string
	var passwordStdin bool

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a web UI login for a participant",
		Long: "Add a web UI login. The username must be the participant's email: after login\n" +
			"it is sent to the matching service in ADLIB_IDENTITY_HEADER.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}
			if err := auth.ValidateUsername(username); err != nil {
				return err
			}

			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			users := auth.NewStore(d, cfg.CookieHashKey, cfg.CookieBlockKey)
			return addUser(ctx, users, cfg.IdentityHeader, username, password, cmd.OutOrStdout())
		},
	}

	c.Flags().StringVar(&username, "username", "", "participant email")
	c.Flags().StringVar(&password, "password", "", "password")
	c.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	c.MarkFlagsMutuallyExclusive("password", "password-stdin")
	c.MarkFlagsOneRequired("password", "password-stdin")
	_ = c.MarkFlagRequired("username")
	return c
}

func addUser(ctx context.Context, users userCreator, identityHeader, username, password string, out io.Writer) error {
	if err := users.CreateUser(ctx, username, password); err != nil {
		return err
	}
	fmt.Fprintf(out, "created user %q (sent to the matching service as %s)\n", auth.NormalizeUsername(username), identityHeader)
	return nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty password on stdin")
	}
	return line, nil
}
