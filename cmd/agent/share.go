package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/capture"
	"github.com/dgnsrekt/telepresence/internal/config"
	"github.com/dgnsrekt/telepresence/internal/notify"
)

func shareCmd() *cobra.Command {
	var (
		restart     bool
		restartWait time.Duration
		previewPath string
		reportEvery time.Duration
	)

	cmd := &cobra.Command{
		Use:   "share",
		Short: "Publish your screen to the current space until interrupted",
		Long: `Acquire a capture source and publish a downscaled JPEG of it at the
configured interval. The first frame is sent immediately.

Examples:
  # Share the built-in test pattern
  telepresence-agent share

  # Replay a directory of images, asking before starting
  TELEPRESENCE_CAPTURE_SOURCE=dir TELEPRESENCE_CAPTURE_DIR=./shots telepresence-agent share`,
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
			if id.ParticipantID == "" {
				return errNoIdentity
			}

			constraints := capture.Constraints{
				MaxWidth:     cfg.Capture.MaxWidth,
				MaxHeight:    cfg.Capture.MaxHeight,
				MaxFrameRate: cfg.Capture.MaxFrameRate,
			}
			session := capture.NewSession(capture.NewEncoder(constraints), cfg.Capture.Interval, logger)
			session.SetPublisher(newClient().Publisher(id.SpaceID, id.ParticipantID))

			notifier := notify.New(&notify.Config{
				Enabled:  cfg.Notify.Enabled,
				Server:   cfg.Notify.Server,
				Topic:    cfg.Notify.Topic,
				Priority: cfg.Notify.Priority,
				Tags:     cfg.Notify.Tags,
				Token:    cfg.Notify.Token,
			}, logger)
			watcher := notify.NewWatcher(notifier, id.SpaceID, id.Name, logger)

			failed := make(chan capture.Status, 1)
			session.SetOnStateChange(func(status capture.Status) {
				watcher.Observe(status)
				fmt.Println(status.String())
				if status.State == capture.StateFailed {
					select {
					case failed <- status:
					default:
					}
				}
			})

			gate := capture.NewGate(buildProvider(constraints), logger)
			gate.SetOnComplete(session.Start)

			shutdown := func() {
				writePreview(session, previewPath)
				session.Close()
				watcher.Wait()
			}

			if err := gate.Request(ctx); err != nil {
				shutdown()
				return fmt.Errorf("screen capture not started: %w", err)
			}

			logger.Info("sharing screen",
				zap.String("space_id", id.SpaceID),
				zap.String("participant_id", id.ParticipantID),
				zap.Duration("interval", cfg.Capture.Interval),
			)

			ticker := time.NewTicker(reportEvery)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					shutdown()
					fmt.Println("Stopped sharing")
					return nil

				case status := <-failed:
					if !restart {
						shutdown()
						return fmt.Errorf("sharing stopped: %s", status.Message)
					}
					logger.Warn("capture failed, requesting a new source",
						zap.String("reason", status.Message),
						zap.Duration("wait", restartWait),
					)
					select {
					case <-ctx.Done():
						continue
					case <-time.After(restartWait):
					}
					if err := gate.Request(ctx); err != nil {
						shutdown()
						return fmt.Errorf("screen capture not restarted: %w", err)
					}

				case <-ticker.C:
					status := session.Status()
					logger.Info("sharing",
						zap.String("state", status.State.String()),
						zap.Uint64("published", status.Published),
						zap.Uint64("skipped", status.Skipped),
						zap.Time("last_published_at", status.LastPublishedAt),
					)
					writePreview(session, previewPath)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&restart, "restart", false, "request a new capture source after a failure")
	cmd.Flags().DurationVar(&restartWait, "restart-wait", 5*time.Second, "delay before requesting a new source")
	cmd.Flags().StringVar(&previewPath, "preview", "", "write the last published frame to this file")
	cmd.Flags().DurationVar(&reportEvery, "report-every", time.Minute, "how often to log publish counters")

	return cmd
}

func buildProvider(constraints capture.Constraints) capture.Provider {
	var confirm capture.ConfirmFunc
	if cfg.Capture.Confirm {
		confirm = stdinConfirm
	}

	switch cfg.Capture.Source {
	case config.SourceDir:
		return &capture.DirProvider{
			Dir:         cfg.Capture.Dir,
			Loop:        cfg.Capture.Loop,
			Constraints: constraints,
			Confirm:     confirm,
			Logger:      logger,
		}
	default:
		return &capture.PatternProvider{
			Constraints: constraints,
			Confirm:     confirm,
			Logger:      logger,
		}
	}
}

// stdinConfirm asks on the terminal before a source is shared.
func stdinConfirm(ctx context.Context, description string) (bool, error) {
	fmt.Printf("Share %s? [y/N] ", description)

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		fmt.Println()
		return false, ctx.Err()
	case a := <-answer:
		return a == "y" || a == "yes", nil
	}
}

func writePreview(session *capture.Session, path string) {
	if path == "" {
		return
	}
	p, ok := session.Preview()
	if !ok {
		return
	}
	if err := os.WriteFile(path, p.Data, 0644); err != nil {
		logger.Warn("failed to write preview", zap.String("path", path), zap.Error(err))
	}
}
