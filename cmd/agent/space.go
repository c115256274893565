package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/api"
)

func newClient() *api.HTTPClient {
	return api.NewClient(
		cfg.Server.BaseURL,
		cfg.Server.RatePerSecond,
		cfg.Server.Timeout(),
		cfg.Server.RetryDelayDuration(),
		cfg.Server.RetryCount,
		logger,
	)
}

func remember(reg api.Registration) error {
	st := agentState{
		BaseURL:       cfg.Server.BaseURL,
		SpaceID:       reg.SpaceID,
		ParticipantID: reg.ParticipantID,
		Name:          reg.Name,
	}
	if err := saveState(cfg.Space.StateFile, st); err != nil {
		return err
	}
	logger.Debug("state saved", zap.String("path", cfg.Space.StateFile))
	return nil
}

func createCmd() *cobra.Command {
	var name, accessCode, participant string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a space and join it as its first participant",
		Long: `Create a space protected by an access code. Others join with the same code.

Examples:
  telepresence-agent create --name Standup --code s3cret --as Ada`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadState(cfg.Space.StateFile)
			if err != nil {
				return err
			}
			participant = preferredName(participant, cfg.Space, st)
			if participant == "" {
				return errors.New("participant name required (--as)")
			}

			reg, err := newClient().CreateSpace(cmd.Context(), api.CreateSpaceRequest{
				Name:            name,
				AccessCode:      accessCode,
				ParticipantName: participant,
			})
			if errors.Is(err, api.ErrConflict) {
				return fmt.Errorf("access code %q is already used by another space", accessCode)
			}
			if err != nil {
				return fmt.Errorf("creating space: %w", err)
			}
			if err := remember(reg); err != nil {
				return err
			}

			fmt.Printf("Created space %s as %s (participant %s)\n", reg.SpaceID, reg.Name, reg.ParticipantID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "space name")
	cmd.Flags().StringVar(&accessCode, "code", "", "access code others use to join")
	cmd.Flags().StringVar(&participant, "as", "", "your display name")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("code")

	return cmd
}

func joinCmd() *cobra.Command {
	var participant string

	cmd := &cobra.Command{
		Use:   "join ACCESS_CODE",
		Short: "Join the space owning an access code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadState(cfg.Space.StateFile)
			if err != nil {
				return err
			}
			participant = preferredName(participant, cfg.Space, st)
			if participant == "" {
				return errors.New("participant name required (--as)")
			}

			reg, err := newClient().RegisterParticipant(cmd.Context(), api.JoinRequest{AccessCode: args[0], Name: participant})
			if errors.Is(err, api.ErrNotFound) {
				return errors.New("no space uses this access code")
			}
			if err != nil {
				return fmt.Errorf("joining space: %w", err)
			}
			if err := remember(reg); err != nil {
				return err
			}

			fmt.Printf("Joined space %s as %s (participant %s)\n", reg.SpaceID, reg.Name, reg.ParticipantID)
			return nil
		},
	}

	cmd.Flags().StringVar(&participant, "as", "", "your display name (defaults to the last one used)")
	return cmd
}

func leaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the current space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := newClient().LeaveSpace(cmd.Context(), id.SpaceID, id.ParticipantID); err != nil && !errors.Is(err, api.ErrNotFound) {
				return fmt.Errorf("leaving space: %w", err)
			}

			// Keep the display name for the next join.
			if err := saveState(cfg.Space.StateFile, agentState{BaseURL: cfg.Server.BaseURL, Name: id.Name}); err != nil {
				return err
			}
			fmt.Printf("Left space %s\n", id.SpaceID)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the roster of the current space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadState(cfg.Space.StateFile)
			if err != nil {
				return err
			}
			id, err := resolveIdentity(cfg.Space, st)
			if err != nil {
				return err
			}

			status, err := newClient().FetchSpaceStatus(cmd.Context(), id.SpaceID)
			if err != nil {
				return fmt.Errorf("fetching roster: %w", err)
			}

			fmt.Printf("Space %s (%s), %d participant(s)\n", status.Name, status.SpaceID, len(status.Participants))
			for _, p := range status.Participants {
				marker := " "
				if p.ID == id.ParticipantID {
					marker = "*"
				}
				fmt.Printf(" %s %-36s %s\n", marker, p.ID, p.Name)
			}
			return nil
		},
	}
}
