package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kartik102005/ecolearn/internal/core/eventbus"
	"github.com/kartik102005/ecolearn/internal/core/teaminvite"
	"github.com/kartik102005/ecolearn/internal/printer"
	"github.com/kartik102005/ecolearn/pkg/iojson"
	"github.com/kartik102005/ecolearn/pkg/randid"
)

type PublishCmd struct {
	flags *Flags

	courseID    string
	courseTitle string
	xp          int

	team     string
	inviter  string
	inviteID string
	message  string

	length  int
	longest int

	raw iojson.FileReader[json.RawMessage]
}

// NewPublishCmd creates the publish command tree.
func NewPublishCmd(flags *Flags) *PublishCmd {
	return &PublishCmd{flags: flags}
}

// Register adds the publish command to the application.
func (cmd *PublishCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "publish",
		Usage: "Publish a learning event to the local bus",
		Description: `Publishes an event for the signed-in user. The inbox turns it into a
notification before the command exits.`,
		Commands: []*cli.Command{
			{
				Name:  "course-completed",
				Usage: "A course was finished",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "course-id", Required: true, Destination: &cmd.courseID},
					&cli.StringFlag{Name: "title", Required: true, Destination: &cmd.courseTitle},
					&cli.IntFlag{Name: "xp", Value: 100, Usage: "XP awarded", Destination: &cmd.xp},
				},
				Action: cmd.runCourseCompleted,
			},
			{
				Name:  "team-invite",
				Usage: "Someone invited you to a team",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "team", Required: true, Destination: &cmd.team},
					&cli.StringFlag{Name: "inviter", Required: true, Destination: &cmd.inviter},
					&cli.StringFlag{Name: "invite-id", Usage: "defaults to a random id", Destination: &cmd.inviteID},
					&cli.StringFlag{Name: "message", Destination: &cmd.message},
				},
				Action: cmd.runTeamInvite,
			},
			{
				Name:  "streak",
				Usage: "A learning streak hit a milestone",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "length", Required: true, Destination: &cmd.length},
					&cli.IntFlag{Name: "longest", Destination: &cmd.longest},
				},
				Action: cmd.runStreak,
			},
			{
				Name:      "raw",
				Usage:     "Publish an arbitrary event from JSON",
				UsageText: `echo '{"type":"badge_earned","payload":{"title":"Recycler"}}' | ecolearn publish raw`,
				Flags:     []cli.Flag{cmd.raw.Flag()},
				Action:    cmd.runRaw,
			},
		},
	})

	return app
}

func (cmd *PublishCmd) runCourseCompleted(ctx context.Context, c *cli.Command) error {
	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	app.Bus.PublishCourseCompleted(eventbus.CourseCompletedPayload{
		UserID:      app.Sessions.Snapshot().UserID(),
		CourseID:    cmd.courseID,
		CourseTitle: cmd.courseTitle,
		XPAwarded:   cmd.xp,
	})
	printer.Ctx(ctx).Success("Published", eventbus.TypeCourseCompleted)
	return nil
}

func (cmd *PublishCmd) runTeamInvite(ctx context.Context, c *cli.Command) error {
	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	userID := app.Sessions.Snapshot().UserID()
	id := cmd.inviteID
	if id == "" {
		id = randid.Generate(8)
	}

	// Recorded as notified up front; the event itself delivers the entry.
	err = app.Invites.Add(ctx, userID, teaminvite.Invite{
		ID:       id,
		TeamName: cmd.team,
		Inviter:  cmd.inviter,
		Message:  cmd.message,
		Notified: true,
	})
	if err != nil {
		return fmt.Errorf("record invite: %w", err)
	}

	app.Bus.PublishTeamInvite(eventbus.TeamInvitePayload{
		UserID:   userID,
		TeamName: cmd.team,
		Inviter:  cmd.inviter,
		InviteID: id,
		Message:  cmd.message,
	})
	printer.Ctx(ctx).Success("Published", eventbus.TypeTeamInvite+" "+id)
	return nil
}

func (cmd *PublishCmd) runStreak(ctx context.Context, c *cli.Command) error {
	if cmd.length <= 0 {
		return fmt.Errorf("--length must be positive")
	}

	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	app.Bus.PublishStreakMilestone(eventbus.StreakMilestonePayload{
		UserID:        app.Sessions.Snapshot().UserID(),
		StreakLength:  cmd.length,
		LongestStreak: max(cmd.longest, cmd.length),
	})
	printer.Ctx(ctx).Success("Published", eventbus.TypeStreakMilestone)
	return nil
}

func (cmd *PublishCmd) runRaw(ctx context.Context, c *cli.Command) error {
	raw, err := cmd.raw.Read()
	if err != nil {
		return err
	}
	e, err := eventbus.DecodeEvent(raw)
	if err != nil {
		return err
	}

	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	app.Bus.Publish(e)
	printer.Ctx(ctx).Success("Published", e.Type)
	return nil
}
