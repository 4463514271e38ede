package commands

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/kartik102005/ecolearn/internal/core/styles"
	"github.com/kartik102005/ecolearn/internal/ecolearn"
	"github.com/kartik102005/ecolearn/internal/printer"
)

type AuthCmd struct {
	flags *Flags

	email    string
	password string
	username string
	fullName string
}

// NewAuthCmd creates the signup, signin and signout commands.
func NewAuthCmd(flags *Flags) *AuthCmd {
	return &AuthCmd{flags: flags}
}

// Register adds the auth commands to the application.
func (cmd *AuthCmd) Register(app *cli.Command) *cli.Command {
	credentials := []cli.Flag{
		&cli.StringFlag{
			Name:        "email",
			Aliases:     []string{"e"},
			Usage:       "account email",
			Sources:     cli.EnvVars("ECOLEARN_EMAIL"),
			Destination: &cmd.email,
		},
		&cli.StringFlag{
			Name:        "password",
			Aliases:     []string{"p"},
			Usage:       "account password",
			Sources:     cli.EnvVars("ECOLEARN_PASSWORD"),
			Destination: &cmd.password,
		},
	}

	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "signup",
			Usage:     "Create an account",
			UsageText: "ecolearn signup [--email --password --username --full-name]",
			Description: `Registers a new account and creates its profile.

When a required value is missing and stdin is a terminal, an interactive form
prompts for it.`,
			Flags: append(credentials,
				&cli.StringFlag{
					Name:        "username",
					Aliases:     []string{"u"},
					Usage:       "public username",
					Destination: &cmd.username,
				},
				&cli.StringFlag{
					Name:        "full-name",
					Usage:       "display name",
					Destination: &cmd.fullName,
				},
			),
			Action: cmd.runSignUp,
		},
		&cli.Command{
			Name:      "signin",
			Usage:     "Sign in with email and password",
			UsageText: "ecolearn signin [--email --password]",
			Flags:     credentials,
			Action:    cmd.runSignIn,
		},
		&cli.Command{
			Name:   "signout",
			Usage:  "Sign out and clear local session data",
			Action: cmd.runSignOut,
		},
	)

	return app
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func validateEmail(s string) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("enter a valid email address")
	}
	return nil
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func (cmd *AuthCmd) credentialFields() []huh.Field {
	var fields []huh.Field
	if cmd.email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Validate(validateEmail).
			Value(&cmd.email))
	}
	if cmd.password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Validate(validateRequired("password")).
			Value(&cmd.password))
	}
	return fields
}

// fill prompts for missing values. It returns errAborted when the user quits.
func (cmd *AuthCmd) fill(extra ...huh.Field) error {
	fields := append(cmd.credentialFields(), extra...)
	if len(fields) == 0 {
		return nil
	}
	if !interactive() {
		return fmt.Errorf("missing --email or --password")
	}

	err := huh.NewForm(huh.NewGroup(fields...)).WithTheme(styles.FormTheme()).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return errAborted
	}
	if err != nil {
		return fmt.Errorf("form: %w", err)
	}
	return nil
}

var errAborted = errors.New("aborted")

func (cmd *AuthCmd) runSignUp(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	var extra []huh.Field
	if cmd.username == "" {
		extra = append(extra, huh.NewInput().
			Title("Username").
			Description("Shown on leaderboards").
			Validate(validateRequired("username")).
			Value(&cmd.username))
	}
	if cmd.fullName == "" && interactive() {
		extra = append(extra, huh.NewInput().Title("Full name").Value(&cmd.fullName))
	}
	if err := cmd.fill(extra...); err != nil {
		if errors.Is(err, errAborted) {
			return nil
		}
		return err
	}

	app, err := cmd.flags.ready(ctx)
	if err != nil {
		return err
	}

	err = app.Sessions.SignUp(ctx, ecolearn.SignUpInput{
		Email:    strings.TrimSpace(cmd.email),
		Password: cmd.password,
		Username: strings.TrimSpace(cmd.username),
		FullName: strings.TrimSpace(cmd.fullName),
	})
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}

	if !app.Sessions.Snapshot().Authenticated() {
		p.Infof("Check your inbox to confirm %s, then run 'ecolearn signin'", cmd.email)
		return nil
	}
	p.Success("Account created", cmd.email)
	return nil
}

func (cmd *AuthCmd) runSignIn(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if err := cmd.fill(); err != nil {
		if errors.Is(err, errAborted) {
			return nil
		}
		return err
	}

	app, err := cmd.flags.ready(ctx)
	if err != nil {
		return err
	}

	if err := app.Sessions.SignIn(ctx, strings.TrimSpace(cmd.email), cmd.password); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	st := app.Sessions.Snapshot()
	name := cmd.email
	if st.Profile != nil {
		name = st.Profile.DisplayName()
	}
	p.Success("Signed in", name)
	return nil
}

func (cmd *AuthCmd) runSignOut(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	app, err := cmd.flags.ready(ctx)
	if err != nil {
		return err
	}

	if err := app.Sessions.SignOut(ctx); err != nil {
		p.Warnf("Remote sign out failed: %v", err)
		p.Successf("Local session cleared")
		return nil
	}
	p.Successf("Signed out")
	return nil
}
