package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/melhorpreco/coverage-api/internal/coverage"
)

var (
	ingestProviderID string
	ingestAreaName   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.kml|file.kmz> [more files...]",
	Short: "Import coverage maps into the store",
	Long:  "Parses KML/KMZ coverage documents, groups regions by provider, and persists them. Without --provider, provider names are inferred from placemark labels.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var failures int
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read %s", path)
			}

			report, err := env.Ingestor.Ingest(ctx, coverage.IngestInput{
				Filename:   filepath.Base(path),
				Data:       data,
				ProviderID: ingestProviderID,
				AreaName:   ingestAreaName,
			})
			if err != nil {
				failures++
				zap.L().Error("ingest failed", zap.String("file", path), zap.Error(err))
				if report != nil {
					for _, msg := range report.Errors {
						zap.L().Warn("document problem", zap.String("file", path), zap.String("problem", msg))
					}
				}
				continue
			}

			for _, area := range report.Areas {
				zap.L().Info("area stored",
					zap.String("file", path),
					zap.String("area_id", area.AreaID),
					zap.String("provider", area.ProviderName),
					zap.Bool("new_provider", area.NewProvider),
					zap.Int("features", area.Features),
				)
			}
			for _, msg := range report.Errors {
				zap.L().Warn("document problem", zap.String("file", path), zap.String("problem", msg))
			}
		}

		if failures > 0 {
			return eris.Errorf("%d of %d files failed", failures, len(args))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestProviderID, "provider", "", "assign all regions to this provider id instead of inferring")
	ingestCmd.Flags().StringVar(&ingestAreaName, "area-name", "", "area name override (with --provider)")
	rootCmd.AddCommand(ingestCmd)
}
