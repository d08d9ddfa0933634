package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/droptrack/internal/app"
	"github.com/zulandar/droptrack/internal/models"
	"golang.org/x/term"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthWhoamiCmd())
	cmd.AddCommand(newAuthSetUserCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		configPath string
		token      string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token",
		Long:  "Stores the bearer token used for the REST API and the realtime connection. Without --token it is read from the terminal without echo.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd, configPath, token)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (prompted when empty)")
	return cmd
}

func runAuthLogin(cmd *cobra.Command, configPath, token string) error {
	if token == "" {
		var err error
		token, err = promptSecret(cmd, "Token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is required")
	}

	a, err := openApp(cmd, configPath, app.Opts{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Credentials.SetToken(token); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Token stored.")
	return nil
}

// promptSecret reads one line. On a terminal stdin the input is not echoed.
func promptSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		return string(b), err
	}
	return readLine(cmd.InOrStdin())
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newAuthLogoutCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token and profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Credentials.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	return cmd
}

func newAuthWhoamiCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !a.Credentials.Authenticated() {
				fmt.Fprintln(out, "Not logged in.")
				return nil
			}
			u, ok := a.Credentials.User()
			if !ok {
				fmt.Fprintln(out, "Logged in (no profile stored, see 'dt auth set-user').")
				return nil
			}
			fmt.Fprintf(out, "Logged in as %s (%s)\n", u.Name, u.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	return cmd
}

func newAuthSetUserCmd() *cobra.Command {
	var (
		configPath string
		id         string
		name       string
		email      string
		role       string
	)

	cmd := &cobra.Command{
		Use:   "set-user",
		Short: "Store the user profile",
		Long:  "Stores the profile of the logged-in user. The role decides which chat lines are shown as your own.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case models.RoleClient, models.RoleCourier, models.RoleAdmin:
			default:
				return fmt.Errorf("invalid role %q (want %s, %s or %s)", role, models.RoleClient, models.RoleCourier, models.RoleAdmin)
			}
			a, err := openApp(cmd, configPath, app.Opts{})
			if err != nil {
				return err
			}
			defer a.Close()

			u := models.User{ID: models.FlexID(id), Name: name, Email: email, Role: role}
			if err := a.Credentials.SetUser(u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored user %s (%s)\n", name, role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Droptrack config file")
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", models.RoleClient, "role: cliente, entregador or admin")
	return cmd
}
