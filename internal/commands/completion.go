package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NotificationIDCompleter returns a ShellCompleteFunc that suggests the
// signed-in user's notification ids as positional completions.
//
// When the user's last typed argument starts with "-", it falls back to the
// default flag completion behavior.
func NotificationIDCompleter(flags *Flags) cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		if args := cmd.Args(); args.Present() {
			last := args.Slice()[args.Len()-1]
			if len(last) > 0 && last[0] == '-' {
				cli.DefaultCompleteWithFlags(ctx, cmd)
				return
			}
		}

		if flags.App == nil {
			return
		}
		app, err := flags.signedIn(ctx)
		if err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, n := range app.Inbox.List() {
			_, _ = fmt.Fprintln(w, n.ID)
		}
	}
}
