package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vigia-labs/scamwatch/internal/ingest"
	"github.com/vigia-labs/scamwatch/internal/queryset"
	"github.com/vigia-labs/scamwatch/pkg/reddit"
	"github.com/vigia-labs/scamwatch/pkg/twitter"
)

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Collect posts from Twitter and Reddit into a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		set := queryset.Default()
		if cfg.Fetch.QuerySetPath != "" {
			loaded, err := queryset.Load(cfg.Fetch.QuerySetPath)
			switch {
			case err == nil:
				set = loaded
			case os.IsNotExist(eris.Cause(err)):
				zap.L().Info("query set file not found, using built-in queries",
					zap.String("path", cfg.Fetch.QuerySetPath))
			default:
				return err
			}
		}

		tw := twitter.NewClient(cfg.Fetch.TwitterToken)
		rd := reddit.NewClient(reddit.WithUserAgent(cfg.Fetch.UserAgent))

		posts, err := ingest.NewCollector(tw, rd).Collect(ctx, set, cfg.Fetch.MaxResults)
		if err != nil {
			return err
		}

		if err := ingest.SavePosts(fetchOutput, posts); err != nil {
			return err
		}
		zap.L().Info("posts saved", zap.String("path", fetchOutput), zap.Int("posts", len(posts)))
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchOutput, "output", "posts.json", "path to write collected posts")
	rootCmd.AddCommand(fetchCmd)
}
