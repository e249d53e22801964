package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "scriptctl",
		Short:         "Read and edit story and piece scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.apiURL, "url", ctx.cfg.APIAddress, "Script API base URL (SCRIPT_API_URL)")
	flags.StringVar(&ctx.token, "token", ctx.cfg.APIToken, "Bearer token (SCRIPT_API_TOKEN)")
	flags.Uint64Var(&ctx.storyID, "story", 0, "Story id")
	flags.Uint64Var(&ctx.pieceID, "piece", 0, "Piece id")
	flags.BoolVarP(&ctx.verbose, "verbose", "v", false, "Log session activity")
	flags.BoolVar(&ctx.reclaim, "reclaim", false, "Take the lease over from another session of your own")

	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newVersionsCommand(ctx))
	rootCmd.AddCommand(newCommitCommand(ctx))
	rootCmd.AddCommand(newEditCommand(ctx))

	return rootCmd
}
