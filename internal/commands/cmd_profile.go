package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/kartik102005/ecolearn/internal/core/profile"
	"github.com/kartik102005/ecolearn/internal/core/session"
	"github.com/kartik102005/ecolearn/internal/core/styles"
	"github.com/kartik102005/ecolearn/internal/printer"
	"github.com/kartik102005/ecolearn/pkg/iojson"
)

type ProfileCmd struct {
	flags *Flags

	json bool

	username  string
	fullName  string
	bio       string
	avatarURL string
}

// NewProfileCmd creates the whoami and profile commands.
func NewProfileCmd(flags *Flags) *ProfileCmd {
	return &ProfileCmd{flags: flags}
}

// Register adds the whoami and profile commands to the application.
func (cmd *ProfileCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := &cli.BoolFlag{
		Name:        "json",
		Usage:       "output as JSON",
		Destination: &cmd.json,
	}

	app.Commands = append(app.Commands,
		&cli.Command{
			Name:   "whoami",
			Usage:  "Show the session state and signed-in user",
			Flags:  []cli.Flag{jsonFlag},
			Action: cmd.runWhoami,
		},
		&cli.Command{
			Name:  "profile",
			Usage: "Show or edit your profile",
			Commands: []*cli.Command{
				{
					Name:   "show",
					Usage:  "Show the cached profile",
					Flags:  []cli.Flag{jsonFlag},
					Action: cmd.runShow,
				},
				{
					Name:      "update",
					Usage:     "Update profile fields",
					UsageText: "ecolearn profile update [--username --full-name --bio --avatar-url]",
					Description: `Only the flags given are written. The update goes to the backend first and
the cached profile is refreshed from the returned row.`,
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "username", Destination: &cmd.username},
						&cli.StringFlag{Name: "full-name", Destination: &cmd.fullName},
						&cli.StringFlag{Name: "bio", Destination: &cmd.bio},
						&cli.StringFlag{Name: "avatar-url", Destination: &cmd.avatarURL},
					},
					Action: cmd.runUpdate,
				},
			},
		},
	)

	return app
}

type whoamiJSON struct {
	Phase   session.Phase    `json:"phase"`
	UserID  string           `json:"userId,omitempty"`
	Email   string           `json:"email,omitempty"`
	Profile *profile.Profile `json:"profile,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (cmd *ProfileCmd) runWhoami(ctx context.Context, c *cli.Command) error {
	app, err := cmd.flags.ready(ctx)
	if err != nil {
		return err
	}

	st := app.Sessions.Snapshot()
	if cmd.json {
		out := whoamiJSON{Phase: st.Phase, UserID: st.UserID(), Profile: st.Profile, Error: st.Error}
		if st.User != nil {
			out.Email = st.User.Email
		}
		return iojson.Write(c.Root().Writer, out)
	}

	p := printer.Ctx(ctx)
	if st.Error != "" {
		p.Errorf("%s", st.Error)
	}
	if !st.Authenticated() {
		p.Infof("Not signed in")
		return nil
	}

	name := st.User.Email
	if st.Profile != nil {
		name = st.Profile.DisplayName()
	}
	p.Success(name, st.User.Email)
	return nil
}

func (cmd *ProfileCmd) runShow(ctx context.Context, c *cli.Command) error {
	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	prof := app.Sessions.Snapshot().Profile
	if cmd.json {
		return iojson.Write(c.Root().Writer, prof)
	}
	if prof == nil {
		printer.Ctx(ctx).Warnf("No profile yet. It is created on the next successful fetch.")
		return nil
	}

	w := c.Root().Writer
	_, _ = fmt.Fprintln(w, styles.HeaderStyle.Render(prof.DisplayName()))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { _, _ = fmt.Fprintf(tw, "%s\t%v\n", styles.MutedStyle.Render(k), v) }
	row("Email", prof.Email)
	row("Username", prof.Username)
	row("Level", prof.Level)
	row("XP", prof.TotalXP)
	row("EcoCoins", prof.EcoCoins)
	if prof.Bio != "" {
		row("Bio", prof.Bio)
	}
	if prof.AvatarURL != "" {
		row("Avatar", prof.AvatarURL)
	}
	row("Joined", prof.CreatedAt.Format("2006-01-02"))
	return tw.Flush()
}

func (cmd *ProfileCmd) patch(c *cli.Command) profile.Patch {
	var p profile.Patch
	if c.IsSet("username") {
		p.Username = &cmd.username
	}
	if c.IsSet("full-name") {
		p.FullName = &cmd.fullName
	}
	if c.IsSet("bio") {
		p.Bio = &cmd.bio
	}
	if c.IsSet("avatar-url") {
		p.AvatarURL = &cmd.avatarURL
	}
	return p
}

func (cmd *ProfileCmd) runUpdate(ctx context.Context, c *cli.Command) error {
	patch := cmd.patch(c)
	if patch.Empty() {
		return fmt.Errorf("nothing to update, pass at least one field flag")
	}

	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	prof, err := app.Sessions.UpdateProfile(ctx, patch)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	printer.Ctx(ctx).Success("Profile updated", prof.DisplayName())
	return nil
}
