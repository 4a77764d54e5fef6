package main

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/internal/repository"
	"github.com/noah-isme/bugreport-api/internal/service"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	"github.com/noah-isme/bugreport-api/pkg/config"
)

func newSweepCmd() *cobra.Command {
	var retention string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one archival pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(func(db *sqlx.DB, logr *zap.Logger) error {
				cfg := config.ArchiveConfig{}
				if retention != "" {
					d, err := parseRetention(retention)
					if err != nil {
						return err
					}
					cfg.Retention = d
				}
				archive := repository.NewArchiveRepository(db)
				sweeper := service.NewArchiveSweeper(
					archive,
					repository.NewUserRepository(db),
					cfg, clock.Real{}, clock.UUIDs{}, nil, logr,
				)
				result, err := sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				total, err := archive.CountMarks(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cutoff=%s stale_reports=%d marks_created=%d marks_total=%d\n",
					result.Cutoff.Format(time.RFC3339), result.StaleReports, result.MarksCreated, total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&retention, "retention", "", "idle period before archival, e.g. 720h or 30d (default 30d)")
	return cmd
}
