package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metavida/wellness-automation/internal/seed"
)

func newDispatchCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Process one batch of pending events and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.services(nil)
			if err != nil {
				return err
			}

			summary, err := svc.dispatcher.Run(cmd.Context(), batchSize)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "events to consider (default DISPATCH_BATCH_SIZE)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := a.db.RunMigrations(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string][]string{"applied": applied})
		},
	}
}

func newSeedCmd() *cobra.Command {
	var (
		tenantID int64
		ownerID  int64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install the stock onboarding, churn retention and contract renewal journeys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID <= 0 {
				return fmt.Errorf("--owner-id is required")
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := seed.Options{OwnerID: ownerID}
			if tenantID > 0 {
				opts.TenantID = &tenantID
			}

			res, err := seed.Run(cmd.Context(), a.db, opts, a.logger)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Int64Var(&tenantID, "tenant-id", 0, "tenant the journeys belong to (0 = all tenants)")
	cmd.Flags().Int64Var(&ownerID, "owner-id", 0, "user id that owns the seeded journeys")
	return cmd
}

func newScanContractsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-contracts",
		Short: "Record CONTRATO_EXPIRANDO for contracts nearing their end date",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.services(nil)
			if err != nil {
				return err
			}

			res, err := svc.scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
