package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/provider/static"
	"github.com/dpup/qavault/session"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var assertion string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google",
		Long: "Sign in with Google. New users are asked for a display name.\n\n" +
			"Pass --assertion to sign in with an existing Google ID token instead of\n" +
			"opening a browser.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			provider, err := a.signInProvider(ctx, assertion)
			if err != nil {
				return err
			}
			s, err := a.host(provider).Login(ctx, a.promptDisplayName)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", s.DisplayName)
			return nil
		},
	}
	cmd.Flags().StringVar(&assertion, "assertion", "", "Google ID token to sign in with")
	return cmd
}

// promptDisplayName asks for a display name on the command's input. Running
// out of input cancels the registration.
func (a *app) promptDisplayName(_ context.Context, problem error) (string, error) {
	if problem != nil {
		fmt.Fprintln(a.out, errors.PublicMessage(problem))
	} else {
		fmt.Fprintln(a.out, "Welcome! Choose the name other users will see.")
	}
	fmt.Fprint(a.out, "Display name: ")
	line, err := a.reader.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		fmt.Fprintln(a.out)
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.host(static.New("")).Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

type whoami struct {
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, ok, err := a.host(static.New("")).Restore(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Mark(ErrNotSignedIn, 0)
			}
			w := whoami{DisplayName: s.DisplayName}
			if claims, err := session.ParseClaims(s); err == nil {
				w.Email = claims.Email
				if claims.ExpiresAt != nil {
					w.ExpiresAt = &claims.ExpiresAt.Time
				}
			}
			if a.jsonOutput {
				return a.printJSON(w)
			}
			fmt.Fprintln(a.out, w.DisplayName)
			if w.Email != "" {
				fmt.Fprintln(a.out, w.Email)
			}
			if w.ExpiresAt != nil {
				fmt.Fprintf(a.out, "Session expires %s\n", w.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}
