package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vigia-labs/scamwatch/internal/ingest"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Score a file of posts and persist likely scam reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		posts, err := ingest.LoadPosts(runInput)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			zap.L().Warn("no posts in input file", zap.String("path", runInput))
			return nil
		}

		summary, err := env.Pipeline.Run(ctx, posts)
		if err != nil {
			return eris.Wrap(err, "run pipeline")
		}

		if summary.BatchesFailed > 0 {
			zap.L().Warn("run finished with failed batches",
				zap.Int("batches_failed", summary.BatchesFailed),
				zap.Int("posts_not_written", summary.PostsNotWritten))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "posts.json", "path to JSON file of posts to score")
	rootCmd.AddCommand(runCmd)
}
