package commands

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/kartik102005/ecolearn/internal/core/notify"
	"github.com/kartik102005/ecolearn/internal/core/styles"
	"github.com/kartik102005/ecolearn/internal/ecolearn"
	"github.com/kartik102005/ecolearn/internal/printer"
	"github.com/kartik102005/ecolearn/internal/tui"
	"github.com/kartik102005/ecolearn/pkg/iojson"
)

type InboxCmd struct {
	flags *Flags

	json       bool
	unreadOnly bool
	typeGlob   string
}

// NewInboxCmd creates the inbox command tree.
func NewInboxCmd(flags *Flags) *InboxCmd {
	return &InboxCmd{flags: flags}
}

// Register adds the inbox command to the application.
func (cmd *InboxCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := &cli.BoolFlag{
		Name:        "json",
		Usage:       "output as JSON",
		Destination: &cmd.json,
	}
	complete := NotificationIDCompleter(cmd.flags)

	app.Commands = append(app.Commands, &cli.Command{
		Name:    "inbox",
		Aliases: []string{"i"},
		Usage:   "Read and manage notifications",
		Commands: []*cli.Command{
			{
				Name:    "ls",
				Aliases: []string{"list"},
				Usage:   "List notifications newest first",
				Flags: []cli.Flag{
					jsonFlag,
					&cli.BoolFlag{
						Name:        "unread",
						Usage:       "only unread notifications",
						Destination: &cmd.unreadOnly,
					},
					&cli.StringFlag{
						Name:        "type",
						Usage:       "filter by notification type glob (e.g. 'team_*')",
						Destination: &cmd.typeGlob,
					},
				},
				Action: cmd.runList,
			},
			{
				Name:          "show",
				Usage:         "Show one notification",
				ArgsUsage:     "<id>",
				ShellComplete: complete,
				Action:        cmd.runShow,
			},
			{
				Name:          "read",
				Usage:         "Mark notifications as read",
				ArgsUsage:     "<id...>",
				ShellComplete: complete,
				Action:        cmd.runSetRead(true),
			},
			{
				Name:          "unread",
				Usage:         "Mark notifications as unread",
				ArgsUsage:     "<id...>",
				ShellComplete: complete,
				Action:        cmd.runSetRead(false),
			},
			{
				Name:   "read-all",
				Usage:  "Mark every notification as read",
				Action: cmd.runReadAll,
			},
			{
				Name:          "dismiss",
				Aliases:       []string{"rm"},
				Usage:         "Remove a notification",
				ArgsUsage:     "<id>",
				ShellComplete: complete,
				Action:        cmd.runDismiss,
			},
			{
				Name:   "counts",
				Usage:  "Show unread count and totals by type",
				Flags:  []cli.Flag{jsonFlag},
				Action: cmd.runCounts,
			},
			{
				Name:   "tui",
				Usage:  "Browse the inbox interactively",
				Action: cmd.RunTUI,
			},
		},
	})

	return app
}

// filter applies the --unread and --type flags.
func (cmd *InboxCmd) filter(items []notify.Notification) ([]notify.Notification, error) {
	if cmd.typeGlob != "" && !doublestar.ValidatePattern(cmd.typeGlob) {
		return nil, fmt.Errorf("invalid --type pattern %q", cmd.typeGlob)
	}

	out := make([]notify.Notification, 0, len(items))
	for _, n := range items {
		if cmd.unreadOnly && n.Read {
			continue
		}
		if cmd.typeGlob != "" {
			ok, _ := doublestar.Match(cmd.typeGlob, n.Type)
			if !ok {
				continue
			}
		}
		out = append(out, n)
	}
	return out, nil
}

func (cmd *InboxCmd) runList(ctx context.Context, c *cli.Command) error {
	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	items, err := cmd.filter(app.Inbox.List())
	if err != nil {
		return err
	}

	if cmd.json {
		return iojson.Write(c.Root().Writer, items)
	}

	if len(items) == 0 {
		printer.Ctx(ctx).Infof("No notifications")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tWHEN\tTITLE")
	for _, n := range items {
		title := styles.ReadTitleStyle.Render(n.Title)
		if !n.Read {
			title = styles.UnreadTitleStyle.Render("● " + n.Title)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			n.ID,
			n.Type,
			humanize.RelTime(n.CreatedAt, now, "ago", "from now"),
			title,
		)
	}
	return tw.Flush()
}

func requireArgs(c *cli.Command, usage string) ([]string, error) {
	if c.Args().Len() == 0 {
		return nil, fmt.Errorf("usage: ecolearn inbox %s %s", c.Name, usage)
	}
	return c.Args().Slice(), nil
}

// markdown renders one notification as a small markdown document.
func markdown(n notify.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", n.Title, n.Message)
	fmt.Fprintf(&b, "---\n\n*%s* · `%s` · %s\n", n.Category, n.Type, n.CreatedAt.Local().Format(time.RFC1123))
	if len(n.Meta) > 0 {
		b.WriteString("\n")
		for _, k := range slices.Sorted(maps.Keys(n.Meta)) {
			fmt.Fprintf(&b, "- **%s**: %v\n", k, n.Meta[k])
		}
	}
	return b.String()
}

func (cmd *InboxCmd) runShow(ctx context.Context, c *cli.Command) error {
	args, err := requireArgs(c, "<id>")
	if err != nil {
		return err
	}

	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	n, ok := app.Inbox.Get(args[0])
	if !ok {
		return fmt.Errorf("notification %q not found", args[0])
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(styles.GlamourStyle()),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	out, err := r.Render(markdown(n))
	if err != nil {
		return fmt.Errorf("render notification: %w", err)
	}
	_, err = fmt.Fprint(c.Root().Writer, out)
	return err
}

func (cmd *InboxCmd) runSetRead(read bool) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		args, err := requireArgs(c, "<id...>")
		if err != nil {
			return err
		}

		app, err := cmd.flags.signedIn(ctx)
		if err != nil {
			return err
		}

		p := printer.Ctx(ctx)
		for _, id := range args {
			if _, ok := app.Inbox.Get(id); !ok {
				p.Warnf("No notification %q", id)
			}
		}

		changed, err := app.Inbox.SetReadState(ctx, args, read)
		if err != nil {
			return err
		}

		state := "unread"
		if read {
			state = "read"
		}
		if !changed {
			p.Infof("Nothing to change")
			return nil
		}
		p.Successf("Marked %d as %s", len(args), state)
		return nil
	}
}

func (cmd *InboxCmd) runReadAll(ctx context.Context, c *cli.Command) error {
	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	unread := app.Inbox.UnreadCount()
	if _, err := app.Inbox.MarkAllAsRead(ctx); err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("Marked %d as read", unread)
	return nil
}

func (cmd *InboxCmd) runDismiss(ctx context.Context, c *cli.Command) error {
	args, err := requireArgs(c, "<id>")
	if err != nil {
		return err
	}

	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	changed, err := app.Inbox.Dismiss(ctx, args[0])
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("notification %q not found", args[0])
	}
	printer.Ctx(ctx).Successf("Dismissed %s", args[0])
	return nil
}

type countsJSON struct {
	Total  int            `json:"total"`
	Unread int            `json:"unread"`
	ByType map[string]int `json:"byType"`
}

func (cmd *InboxCmd) runCounts(ctx context.Context, c *cli.Command) error {
	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}

	snap := app.Inbox.Snapshot()
	out := countsJSON{
		Total:  snap.Store.Len(),
		Unread: notify.UnreadCount(snap.Store),
		ByType: notify.CountsByType(snap.Store),
	}
	if cmd.json {
		return iojson.Write(c.Root().Writer, out)
	}

	w := c.Root().Writer
	_, _ = fmt.Fprintf(w, "%s %d of %d\n", styles.HeaderStyle.Render("Unread"), out.Unread, out.Total)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, typ := range slices.Sorted(maps.Keys(out.ByType)) {
		_, _ = fmt.Fprintf(tw, "  %s\t%d\n", typ, out.ByType[typ])
	}
	return tw.Flush()
}

// RunTUI opens the interactive inbox browser.
func (cmd *InboxCmd) RunTUI(ctx context.Context, c *cli.Command) error {
	app, err := cmd.flags.signedIn(ctx)
	if err != nil {
		return err
	}
	return runInboxTUI(ctx, app)
}

// runInboxTUI opens the browser. While it is open expired keys are swept and
// changes from other processes are picked up.
func runInboxTUI(ctx context.Context, app *ecolearn.App) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go app.Sweep(ctx)
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = app.Inbox.Reload(ctx)
			}
		}
	}()

	return tui.Run(ctx, app.Inbox)
}
