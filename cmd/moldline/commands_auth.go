package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apperrors "github.com/omochice/moldline/internal/errors"
	"github.com/omochice/moldline/pkg/protocol"
)

func buildRegisterCmd(flags *globalFlags) *cobra.Command {
	var (
		password string
		email    string
		phone    string
	)
	cmd := &cobra.Command{
		Use:   "register <nickname>",
		Short: "Create an account and log in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			confirm := password
			if password == "" {
				in := bufio.NewReader(cmd.InOrStdin())
				if password, err = readPassword(cmd, in, "Password: "); err != nil {
					return err
				}
				if confirm, err = readPassword(cmd, in, "Confirm password: "); err != nil {
					return err
				}
			}

			req := protocol.RegisterRequest{Name: args[0], Password: password, Email: email, Phone: phone}
			if err := a.gate.Register(cmd.Context(), req, confirm); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered and logged in as %s (%s)\n", args[0], a.gate.UserID())
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number")
	return cmd
}

func buildLoginCmd(flags *globalFlags) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <nickname>",
		Short: "Log in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if password == "" {
				if password, err = readPassword(cmd, bufio.NewReader(cmd.InOrStdin()), "Password: "); err != nil {
					return err
				}
			}

			if err := a.gate.Login(cmd.Context(), args[0], password); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", args[0], a.gate.UserID())
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func buildLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			a.gate.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func buildWhoamiCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requireSession(); err != nil {
				return err
			}
			me, err := a.api.Me(cmd.Context(), a.gate.Token())
			if err != nil {
				return userError(a.gate.HandleError(err))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", me.Name, me.ID)
			if me.Email != "" {
				fmt.Fprintf(out, "  email:   %s\n", me.Email)
			}
			if me.CreatedAt != "" {
				fmt.Fprintf(out, "  created: %s\n", me.CreatedAt)
			}
			return nil
		},
	}
}

// readPassword prompts for a password without echo when stdin is a
// terminal, and reads a plain line otherwise.
func readPassword(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// userError replaces coded errors with their user-facing message.
func userError(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.GetCode(err) == apperrors.CodeUnauthorized {
		return fmt.Errorf("%s; run `moldline login` again", apperrors.GetMessage(err))
	}
	if msg := apperrors.GetMessage(err); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return err
}
