package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"papersub/internal/audit"
	"papersub/internal/config"
	"papersub/internal/logger"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every submission to the search index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.MeiliURL == "" {
				return fmt.Errorf("MEILI_URL is not set")
			}
			log, err := logger.New(cfg.LogMode)
			if err != nil {
				return err
			}
			defer log.Sync()

			b, err := openBackend(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.close()
			b.search.ReindexAll(cmd.Context())
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history PID",
		Short: "List the recorded versions of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paperID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || paperID <= 0 {
				return fmt.Errorf("invalid paper id %q", args[0])
			}
			cfg := config.Load()
			if cfg.AuditDir == "" {
				return fmt.Errorf("PAPERSUB_AUDIT_DIR is not set")
			}
			entries, err := audit.New(cfg.AuditDir).History(paperID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s  %-30s %v\n", e.Hash[:12], e.CreatedAt.Format("2006-01-02 15:04:05"), e.Email, e.Fields)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	return cmd
}
