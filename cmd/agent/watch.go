package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/config"
	"github.com/dgnsrekt/telepresence/internal/staging"
	"github.com/dgnsrekt/telepresence/internal/viewer"
	"github.com/dgnsrekt/telepresence/internal/ws"
)

func watchCmd() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror every participant's latest screen into a directory",
		Long: `Subscribe to the current space and keep one JPEG per participant in the
output directory, plus a roster.json manifest in roster order. Files of
departed participants are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := loadState(cfg.Space.StateFile)
			if err != nil {
				return err
			}
			id, err := resolveIdentity(cfg.Space, st)
			if err != nil {
				return err
			}
			if outputDir == "" {
				outputDir = cfg.Viewer.OutputDir
			}

			writer := staging.NewWriter(outputDir, logger)
			if err := writer.Prepare(); err != nil {
				return fmt.Errorf("preparing output directory: %w", err)
			}
			defer func() {
				if err := writer.Cleanup(); err != nil {
					logger.Warn("staging cleanup failed", zap.Error(err))
				}
			}()

			client := newClient()
			v := viewer.New(id.SpaceID, client, writer, cfg.Viewer.PollInterval, logger)

			// Without a push channel the viewer still converges by polling.
			neg, err := client.Negotiate(ctx, id.SpaceID)
			if err != nil {
				logger.Warn("push channel unavailable, polling only", zap.Error(err))
			} else {
				sub, err := ws.NewSubscriber(neg.URL, id.SpaceID, []string{config.ValidProtocols[cfg.Viewer.Protocol]}, logger)
				if err != nil {
					return fmt.Errorf("creating subscriber: %w", err)
				}
				go func() {
					if err := sub.Run(ctx, v.Events()); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("subscriber stopped", zap.Error(err))
					}
				}()
			}

			fmt.Printf("Watching space %s into %s\n", id.SpaceID, writer.FinalDir())
			if err := v.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			applied, dropped, renders := v.Stats()
			logger.Info("viewer stopped",
				zap.Int64("frames_applied", applied),
				zap.Int64("frames_dropped", dropped),
				zap.Int64("renders", renders),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default viewer.output_dir)")
	return cmd
}
