package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var sweepOrgID string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one certificate expiry sweep and exit",
	Long: `Examines active certificates, sends expiry notifications, triggers
renewals inside the renewal window and retires certificates past validity.
Without --org, every organisation is swept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack(configPath)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()
		if sweepOrgID != "" {
			return s.scheduler.Sweep(ctx, sweepOrgID)
		}

		orgs, err := s.repo.Orgs()
		if err != nil {
			return err
		}
		for _, orgID := range orgs {
			if err := s.scheduler.Sweep(ctx, orgID); err != nil {
				s.logger.Error("sweep failed", "org_id", orgID, "error", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepOrgID, "org", "", "Sweep a single organisation")
}
