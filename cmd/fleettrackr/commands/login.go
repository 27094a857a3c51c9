package commands

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fleettrackr/api"
	"fleettrackr/config"
	"fleettrackr/session"
)

func NewLoginCmd() *cobra.Command {
	var (
		email      string
		password   string
		printToken bool
		noSave     bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, email, password, printToken, !noSave)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	cmd.Flags().BoolVar(&printToken, "print-token", false, "Print the bearer token")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not write the token to the config file")
	return cmd
}

func runLogin(cmd *cobra.Command, email, password string, printToken, save bool) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("--email is required")
	}
	if password == "" {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return fmt.Errorf("--password is required when stdin is not a terminal")
		}
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	resp, err := api.Login(cmd.Context(), &http.Client{Timeout: cfg.API.Timeout}, cfg.API.BaseURL, email, password)
	if err != nil {
		if errors.Is(err, api.ErrAuth) {
			return errors.New("invalid email or password")
		}
		return detach(err)
	}
	sess, err := session.New(resp.Token)
	if err != nil {
		return err
	}

	if save {
		cfg.API.Token = resp.Token
		if err := config.Save(configPath, cfg); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Signed in as %s (%s)\n", okStyle.Render("✓"), orDash(resp.User.Name), sess.Role)
	if printToken {
		fmt.Fprintln(out, resp.Token)
	}
	return nil
}

func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in actor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("User:"), app.sess.UserID)
			if app.sess.Name != "" {
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Name:"), app.sess.Name)
			}
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Role:"), app.sess.Role)
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Expires:"), formatDate(app.sess.ExpiresAt))
			return nil
		},
	}
}

// detach strips the transition taxonomy from failures of endpoints that are
// not transitions, so a 409 on a duplicate vehicle does not read as a stale
// request. The server's message is kept.
func detach(err error) error {
	var se *api.StatusError
	if !errors.As(err, &se) || se.Message == "" {
		return err
	}
	switch se.Code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return errors.New(se.Message)
	}
	return err
}
