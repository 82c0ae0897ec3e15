package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mail-alfred/internal/cli"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the seen-cache",
		Long: `The seen-cache remembers, per mailbox, the newest message whose
processing is settled so --seen-cache runs can stop scanning early. It is
safe to delete at any time; mailbox labels remain the source of truth.`,
	}

	cmd.AddCommand(cacheShowCmd())
	cmd.AddCommand(cacheClearCmd())

	return cmd
}

func cacheShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored high-water marks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cache, err := openSeenCache(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = cache.Close() }()

			entries, err := cache.ListSeen(ctx)
			if err != nil {
				return fmt.Errorf("failed to list seen-cache: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("The seen-cache is empty"))
				return nil
			}

			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				lines = append(lines, fmt.Sprintf("%s  %s  %s",
					cli.BoldStyle.Render(e.Scope),
					e.HighestID,
					cli.SubtleStyle.Render(e.UpdatedAt.Local().Format(time.DateTime))))
			}
			fmt.Fprintln(out, cli.RenderBox("Seen-cache", strings.Join(lines, "\n")))
			return nil
		},
	}
}

func cacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [SCOPE]",
		Short: "Forget the high-water mark of one mailbox, or of all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cache, err := openSeenCache(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = cache.Close() }()

			scope := ""
			if len(args) == 1 {
				scope = args[0]
			}
			if err := cache.ClearSeen(ctx, scope); err != nil {
				return fmt.Errorf("failed to clear seen-cache: %w", err)
			}

			msg := "Cleared the seen-cache"
			if scope != "" {
				msg = "Cleared " + scope
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(msg))
			return nil
		},
	}
	return cmd
}
